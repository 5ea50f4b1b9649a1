package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexgate/cortex/internal/model"
)

type fakeStore struct {
	scores        []model.TrustScore
	overrides     []model.TrustOverride
	recent        []model.Milestone
	since         []model.Milestone
	decisions     []model.Decision
	unresolved    []model.PendingConfirmation
	exportResult  []model.Decision
}

func (f *fakeStore) AllTrustScores(ctx context.Context) ([]model.TrustScore, error) {
	return f.scores, nil
}

func (f *fakeStore) ListActiveOverrides(ctx context.Context, now time.Time) ([]model.TrustOverride, error) {
	return f.overrides, nil
}

func (f *fakeStore) RecentMilestones(ctx context.Context, n int) ([]model.Milestone, error) {
	return f.recent, nil
}

func (f *fakeStore) MilestonesSince(ctx context.Context, since time.Time) ([]model.Milestone, error) {
	return f.since, nil
}

func (f *fakeStore) DecisionsSince(ctx context.Context, since time.Time) ([]model.Decision, error) {
	return f.decisions, nil
}

func (f *fakeStore) ExportDecisionsCursor(ctx context.Context, afterTimestamp time.Time, afterID string, limit int) ([]model.Decision, error) {
	return f.exportResult, nil
}

func (f *fakeStore) UnresolvedConfirmations(ctx context.Context) ([]model.PendingConfirmation, error) {
	return f.unresolved, nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStandard_ClassifiesStateFromScoreThresholds(t *testing.T) {
	f := &fakeStore{
		scores: []model.TrustScore{
			{Category: model.CategoryReadFile, Tier: model.Tier1, CurrentScore: 0.9},
			{Category: model.CategoryWriteFile, Tier: model.Tier2, CurrentScore: 0.5},
			{Category: model.CategoryDeploy, Tier: model.Tier3, CurrentScore: 0.1},
			{Category: model.CategoryFinancialAugur, Tier: model.Tier4, CurrentScore: 0.0},
		},
	}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	rep, err := r.Standard(context.Background())
	require.NoError(t, err)

	byCategory := map[model.Category]ScoreRow{}
	for _, g := range rep.Tiers {
		for _, row := range g.Rows {
			byCategory[row.Category] = row
		}
	}
	assert.Equal(t, "auto-approve", byCategory[model.CategoryReadFile].State)
	assert.Equal(t, "pause", byCategory[model.CategoryWriteFile].State)
	assert.Equal(t, "blocked", byCategory[model.CategoryDeploy].State)
	assert.Equal(t, "blocked", byCategory[model.CategoryFinancialAugur].State)
}

func TestStandard_GroupsByTierInOrder(t *testing.T) {
	f := &fakeStore{
		scores: []model.TrustScore{
			{Category: model.CategoryDeploy, Tier: model.Tier3, CurrentScore: 0.9},
			{Category: model.CategoryReadFile, Tier: model.Tier1, CurrentScore: 0.9},
		},
	}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	rep, err := r.Standard(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Tiers, 2)
	assert.Equal(t, model.Tier1, rep.Tiers[0].Tier)
	assert.Equal(t, model.Tier3, rep.Tiers[1].Tier)
}

func TestStandard_IncludesOverridesMilestonesAndUnresolvedConfirmations(t *testing.T) {
	f := &fakeStore{
		overrides:  []model.TrustOverride{{Category: model.CategoryDeploy, Type: model.OverrideGranted}},
		recent:     []model.Milestone{{Category: model.CategoryDeploy, Type: model.MilestoneTierPromotion}},
		unresolved: []model.PendingConfirmation{{Category: model.CategoryDeploy, Summary: "pending deploy"}},
	}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	rep, err := r.Standard(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.ActiveOverrides, 1)
	assert.Len(t, rep.RecentMilestones, 1)
	assert.Len(t, rep.UnresolvedConfirmations, 1)
}

func TestBar_RendersTwentyCells(t *testing.T) {
	assert.Equal(t, "[##########..........]", bar(0.5))
	assert.Equal(t, "[....................]", bar(0.0))
	assert.Equal(t, "[####################]", bar(1.0))
}

func TestStandardReport_RenderContainsKeySections(t *testing.T) {
	rep := StandardReport{
		GeneratedAt: time.Now(),
		Tiers: []TierGroup{{Tier: model.Tier1, Rows: []ScoreRow{
			{Category: model.CategoryReadFile, Score: 0.8, Bar: bar(0.8), State: "auto-approve"},
		}}},
		ActiveOverrides:  []model.TrustOverride{{Category: model.CategoryDeploy, Type: model.OverrideGranted, Reason: "incident"}},
		RecentMilestones: []model.Milestone{{Category: model.CategoryDeploy, Type: model.MilestoneBlocked, NewScore: 0.1}},
	}
	out := rep.Render()
	assert.Contains(t, out, "Tier 1")
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "Active overrides")
	assert.Contains(t, out, "Recent milestones")
}

func TestWeekly_CountsMilestonesAndOutcomesSinceSevenDaysAgo(t *testing.T) {
	f := &fakeStore{
		since: []model.Milestone{
			{Type: model.MilestoneTierPromotion},
			{Type: model.MilestoneTierDemotion},
			{Type: model.MilestoneBlocked},
			{Type: model.MilestoneBlocked},
		},
		decisions: []model.Decision{
			{Outcome: model.OutcomePass},
			{Outcome: model.OutcomePass},
			{Outcome: model.OutcomeCorrectedMinor},
		},
	}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	rep, err := r.Weekly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Promotions)
	assert.Equal(t, 1, rep.Demotions)
	assert.Equal(t, 2, rep.Blocks)
	assert.Equal(t, 3, rep.TotalDecisions)
	assert.Equal(t, 2, rep.OutcomeBreakdown[model.OutcomePass])
	assert.Equal(t, 1, rep.OutcomeBreakdown[model.OutcomeCorrectedMinor])
}

func TestWeekly_SinceIsSevenDaysBeforeNow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := &fakeStore{}
	r := New(f, f, f, f, f, fixedNow(now))
	rep, err := r.Weekly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-7*24*time.Hour), rep.Since)
}

func TestWeeklyByCategory_SplitsCountsPerCategory(t *testing.T) {
	f := &fakeStore{
		since: []model.Milestone{
			{Category: model.CategoryDeploy, Type: model.MilestoneTierPromotion},
			{Category: model.CategoryWriteFile, Type: model.MilestoneBlocked},
		},
		decisions: []model.Decision{
			{Category: model.CategoryDeploy, Outcome: model.OutcomePass},
			{Category: model.CategoryWriteFile, Outcome: model.OutcomeCorrectedSignificant},
		},
	}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	out, err := r.WeeklyByCategory(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)

	byCategory := map[model.Category]CategoryWeekly{}
	for _, cw := range out {
		byCategory[cw.Category] = cw
	}
	assert.Equal(t, 1, byCategory[model.CategoryDeploy].Promotions)
	assert.Equal(t, 1, byCategory[model.CategoryWriteFile].Blocks)
	assert.Equal(t, 1, byCategory[model.CategoryDeploy].OutcomeBreakdown[model.OutcomePass])
}

func TestExportDecisions_DelegatesToCursor(t *testing.T) {
	f := &fakeStore{exportResult: []model.Decision{{DecisionID: "d1"}}}
	r := New(f, f, f, f, f, fixedNow(time.Now()))
	out, err := r.ExportDecisions(context.Background(), time.Time{}, "", 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].DecisionID)
}

func TestStandard_NilConfirmationsIsSkippedNotPanicking(t *testing.T) {
	f := &fakeStore{}
	r := New(f, f, f, f, nil, fixedNow(time.Now()))
	rep, err := r.Standard(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep.UnresolvedConfirmations)
}
