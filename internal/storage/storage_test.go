package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/storage"
	"github.com/cortexgate/cortex/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartDB()
	defer tc.Cleanup()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db
	defer testDB.Close()

	os.Exit(m.Run())
}

func newDecision(tier model.Tier, category model.Category, gate model.GateResult, score float64) model.Decision {
	return model.Decision{
		DecisionID:     uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		SessionID:      "sess-" + uuid.NewString()[:8],
		ToolName:       "write_file",
		ParamsHash:     "hash-" + uuid.NewString()[:8],
		ParamsSummary:  "writes a file",
		Tier:           tier,
		Category:       category,
		GateDecision:   gate,
		ScoreAtDecision: score,
		Outcome:        model.OutcomePending,
	}
}

func TestCreateAndGetDecision(t *testing.T) {
	ctx := context.Background()
	d := newDecision(model.Tier2, model.CategoryWriteFile, model.ResultPass, 0.65)
	pending := &model.PendingOutcome{
		DecisionID:              d.DecisionID,
		FeedbackWindowExpiresAt: d.Timestamp.Add(30 * time.Minute),
		CreatedAt:               d.Timestamp,
	}

	require.NoError(t, testDB.CreateDecision(ctx, d, pending, nil))

	got, err := testDB.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, d.ToolName, got.ToolName)
	assert.Equal(t, d.Category, got.Category)
	assert.Equal(t, model.OutcomePending, got.Outcome)
	assert.False(t, got.OverrideActive)
}

func TestGetDecision_NotFound(t *testing.T) {
	_, err := testDB.GetDecision(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveOutcome_UpdatesScoreAndClearsPending(t *testing.T) {
	ctx := context.Background()
	before, err := testDB.GetTrustScore(ctx, model.CategoryWriteFile)
	require.NoError(t, err)

	d := newDecision(model.Tier2, model.CategoryWriteFile, model.ResultPass, before.CurrentScore)
	now := time.Now().UTC()
	pending := &model.PendingOutcome{
		DecisionID:              d.DecisionID,
		FeedbackWindowExpiresAt: now.Add(30 * time.Minute),
		CreatedAt:               now,
	}
	require.NoError(t, testDB.CreateDecision(ctx, d, pending, nil))

	resolved, err := testDB.ResolveOutcome(ctx, d.DecisionID, model.OutcomePass, "sweep", "", now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved)

	got, err := testDB.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePass, got.Outcome)
	require.NotNil(t, got.OutcomeResolvedAt)

	after, err := testDB.GetTrustScore(ctx, model.CategoryWriteFile)
	require.NoError(t, err)
	assert.Greater(t, after.CurrentScore, before.CurrentScore)
	assert.Equal(t, before.DecisionCount+1, after.DecisionCount)

	expired, err := testDB.ExpiredPendingOutcomes(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	for _, p := range expired {
		assert.NotEqual(t, d.DecisionID, p.DecisionID, "resolved decision must not still be pending")
	}
}

func TestResolveOutcome_IdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	d := newDecision(model.Tier1, model.CategoryReadFile, model.ResultPass, 0.75)
	now := time.Now().UTC()
	require.NoError(t, testDB.CreateDecision(ctx, d, &model.PendingOutcome{
		DecisionID: d.DecisionID, FeedbackWindowExpiresAt: now.Add(30 * time.Minute), CreatedAt: now,
	}, nil))

	resolved, err := testDB.ResolveOutcome(ctx, d.DecisionID, model.OutcomePass, "sweep", "", now)
	require.NoError(t, err)
	assert.True(t, resolved)

	// Second resolution attempt on the same decision is a no-op, not an error.
	resolved, err = testDB.ResolveOutcome(ctx, d.DecisionID, model.OutcomeCorrectedSignificant, "correction", "actually do X instead", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, resolved)

	got, err := testDB.GetDecision(ctx, d.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePass, got.Outcome, "first resolution must stick")
}

func TestResolveOutcome_NotFound(t *testing.T) {
	_, err := testDB.ResolveOutcome(context.Background(), "does-not-exist", model.OutcomePass, "sweep", "", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOverrides_AtMostOneActivePerCategory(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	category := model.CategoryDeploy

	first, err := testDB.SetOverride(ctx, category, model.OverrideGranted, "on-call approved", "alice", nil, now)
	require.NoError(t, err)

	second, err := testDB.SetOverride(ctx, category, model.OverrideGranted, "extended", "alice", nil, now.Add(time.Minute))
	require.NoError(t, err)

	active, err := testDB.ActiveOverride(ctx, category, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, second.OverrideID, active.OverrideID)
	assert.NotEqual(t, first.OverrideID, active.OverrideID)

	all, err := testDB.ListActiveOverrides(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	count := 0
	for _, o := range all {
		if o.Category == category {
			count++
		}
	}
	assert.Equal(t, 1, count, "at most one active override per category")
}

func TestRevokeAllOverrides(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := testDB.SetOverride(ctx, model.CategoryCronModify, model.OverrideGranted, "temp grant", "bob", nil, now)
	require.NoError(t, err)

	categories, err := testDB.RevokeAllOverrides(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Contains(t, categories, model.CategoryCronModify)

	_, err = testDB.ActiveOverride(ctx, model.CategoryCronModify, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVerifyBootstrap_SeedsAllCategories(t *testing.T) {
	ctx := context.Background()
	scores, err := testDB.AllTrustScores(ctx)
	require.NoError(t, err)
	assert.Len(t, scores, len(model.AllCategories))
}

func TestExportDecisionsCursor_OrdersByKeyset(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		d := newDecision(model.Tier1, model.CategoryReadFile, model.ResultPass, 0.8)
		d.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, testDB.CreateDecision(ctx, d, nil, nil))
		ids = append(ids, d.DecisionID)
	}

	page, err := testDB.ExportDecisionsCursor(ctx, base.Add(-time.Hour), "", 1000)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, d := range page {
		seen[d.DecisionID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id])
	}
}
