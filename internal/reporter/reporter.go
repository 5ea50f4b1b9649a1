// Package reporter renders current trust-system state and recent history
// as human-readable summaries. Pure read: it never writes a row.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

// barWidth is the ASCII score bar's cell count.
const barWidth = 20

// Scores is the subset of storage.DB the Reporter needs for current state.
type Scores interface {
	AllTrustScores(ctx context.Context) ([]model.TrustScore, error)
}

// Overrides is the subset of storage.DB the Reporter needs for active grants.
type Overrides interface {
	ListActiveOverrides(ctx context.Context, now time.Time) ([]model.TrustOverride, error)
}

// Milestones is the subset of storage.DB the Reporter needs for history.
type Milestones interface {
	RecentMilestones(ctx context.Context, n int) ([]model.Milestone, error)
	MilestonesSince(ctx context.Context, since time.Time) ([]model.Milestone, error)
}

// Decisions is the subset of storage.DB the Reporter needs for the weekly
// outcome breakdown and the machine-readable export.
type Decisions interface {
	DecisionsSince(ctx context.Context, since time.Time) ([]model.Decision, error)
	ExportDecisionsCursor(ctx context.Context, afterTimestamp time.Time, afterID string, limit int) ([]model.Decision, error)
}

// Confirmations surfaces pending human confirmations that were neither
// resolved nor expired, so reporter calls keep them visible.
type Confirmations interface {
	UnresolvedConfirmations(ctx context.Context) ([]model.PendingConfirmation, error)
}

// Reporter renders the Standard and Weekly reports. It holds no mutable
// state of its own; every call re-reads storage.
type Reporter struct {
	scores        Scores
	overrides     Overrides
	milestones    Milestones
	decisions     Decisions
	confirmations Confirmations
	now           func() time.Time
}

func New(scores Scores, overrides Overrides, milestones Milestones, decisions Decisions, confirmations Confirmations, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		scores:        scores,
		overrides:     overrides,
		milestones:    milestones,
		decisions:     decisions,
		confirmations: confirmations,
		now:           now,
	}
}

// TierGroup is one tier's rendered rows in the Standard report.
type TierGroup struct {
	Tier  model.Tier
	Rows  []ScoreRow
}

// ScoreRow is a single category's current state.
type ScoreRow struct {
	Category  model.Category
	Score     float64
	Bar       string
	State     string
	Threshold float64
	Floor     float64
}

// StandardReport is the full current-state snapshot.
type StandardReport struct {
	GeneratedAt          time.Time
	Tiers                []TierGroup
	ActiveOverrides      []model.TrustOverride
	RecentMilestones     []model.Milestone
	UnresolvedConfirmations []model.PendingConfirmation
}

// state classifies a score against its tier's threshold/floor into one of
// the three gate outcomes the score would currently produce.
func state(score float64, tier model.Tier) string {
	if tier == model.Tier4 {
		return "blocked"
	}
	switch {
	case score >= model.TierThreshold[tier]:
		return "auto-approve"
	case score < model.TierFloor[tier]:
		return "blocked"
	default:
		return "pause"
	}
}

// bar renders a score in [0,1] as a 20-cell ASCII bar, e.g. "[###5.......]".
func bar(score float64) string {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	filled := int(score*barWidth + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

// Standard builds the current-state report: per-tier score groups, active
// overrides, the last 10 milestones, and any unresolved confirmations.
func (r *Reporter) Standard(ctx context.Context) (StandardReport, error) {
	scores, err := r.scores.AllTrustScores(ctx)
	if err != nil {
		return StandardReport{}, fmt.Errorf("reporter: load scores: %w", err)
	}
	byTier := map[model.Tier][]ScoreRow{}
	for _, s := range scores {
		byTier[s.Tier] = append(byTier[s.Tier], ScoreRow{
			Category:  s.Category,
			Score:     s.CurrentScore,
			Bar:       bar(s.CurrentScore),
			State:     state(s.CurrentScore, s.Tier),
			Threshold: model.TierThreshold[s.Tier],
			Floor:     model.TierFloor[s.Tier],
		})
	}
	var groups []TierGroup
	for _, tier := range []model.Tier{model.Tier1, model.Tier2, model.Tier3, model.Tier4} {
		rows := byTier[tier]
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Category < rows[j].Category })
		groups = append(groups, TierGroup{Tier: tier, Rows: rows})
	}

	overrides, err := r.overrides.ListActiveOverrides(ctx, r.now())
	if err != nil {
		return StandardReport{}, fmt.Errorf("reporter: load overrides: %w", err)
	}
	recent, err := r.milestones.RecentMilestones(ctx, 10)
	if err != nil {
		return StandardReport{}, fmt.Errorf("reporter: load milestones: %w", err)
	}
	var unresolved []model.PendingConfirmation
	if r.confirmations != nil {
		unresolved, err = r.confirmations.UnresolvedConfirmations(ctx)
		if err != nil {
			return StandardReport{}, fmt.Errorf("reporter: load unresolved confirmations: %w", err)
		}
	}

	return StandardReport{
		GeneratedAt:             r.now(),
		Tiers:                   groups,
		ActiveOverrides:         overrides,
		RecentMilestones:        recent,
		UnresolvedConfirmations: unresolved,
	}, nil
}

// Render produces the human-readable text form of a StandardReport.
func (rep StandardReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cortex Trust Report — %s\n", rep.GeneratedAt.Format(time.RFC3339))
	for _, g := range rep.Tiers {
		fmt.Fprintf(&b, "\nTier %d\n", g.Tier)
		for _, row := range g.Rows {
			fmt.Fprintf(&b, "  %-22s %s %.2f  %s\n", row.Category, row.Bar, row.Score, row.State)
		}
	}
	if len(rep.ActiveOverrides) > 0 {
		b.WriteString("\nActive overrides\n")
		for _, o := range rep.ActiveOverrides {
			exp := "no expiry"
			if o.ExpiresAt != nil {
				exp = "expires " + o.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "  %-22s %-8s %s (%s)\n", o.Category, o.Type, o.Reason, exp)
		}
	}
	if len(rep.UnresolvedConfirmations) > 0 {
		b.WriteString("\nPending confirmations\n")
		for _, c := range rep.UnresolvedConfirmations {
			fmt.Fprintf(&b, "  %-22s %s score=%.2f threshold=%.2f\n", c.Category, c.Summary, c.Score, c.Threshold)
		}
	}
	if len(rep.RecentMilestones) > 0 {
		b.WriteString("\nRecent milestones\n")
		for _, m := range rep.RecentMilestones {
			fmt.Fprintf(&b, "  %s  %-22s %-18s %.2f\n", m.Timestamp.Format(time.RFC3339), m.Category, m.Type, m.NewScore)
		}
	}
	return b.String()
}

// WeeklyReport summarizes the trailing 7 days: tier transitions, blocks,
// and the outcome breakdown across every resolved decision.
type WeeklyReport struct {
	Since            time.Time
	Promotions       int
	Demotions        int
	Blocks           int
	OutcomeBreakdown map[model.Outcome]int
	TotalDecisions   int
}

// Weekly builds the 7-day digest.
func (r *Reporter) Weekly(ctx context.Context) (WeeklyReport, error) {
	since := r.now().Add(-7 * 24 * time.Hour)
	milestones, err := r.milestones.MilestonesSince(ctx, since)
	if err != nil {
		return WeeklyReport{}, fmt.Errorf("reporter: load weekly milestones: %w", err)
	}
	decisions, err := r.decisions.DecisionsSince(ctx, since)
	if err != nil {
		return WeeklyReport{}, fmt.Errorf("reporter: load weekly decisions: %w", err)
	}

	rep := WeeklyReport{Since: since, OutcomeBreakdown: map[model.Outcome]int{}}
	for _, m := range milestones {
		switch m.Type {
		case model.MilestoneTierPromotion:
			rep.Promotions++
		case model.MilestoneTierDemotion:
			rep.Demotions++
		case model.MilestoneBlocked:
			rep.Blocks++
		}
	}
	for _, d := range decisions {
		rep.OutcomeBreakdown[d.Outcome]++
		rep.TotalDecisions++
	}
	return rep, nil
}

// Render produces the human-readable text form of a WeeklyReport.
func (rep WeeklyReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cortex Weekly Digest — since %s\n", rep.Since.Format(time.RFC3339))
	fmt.Fprintf(&b, "  promotions=%d demotions=%d blocks=%d\n", rep.Promotions, rep.Demotions, rep.Blocks)
	fmt.Fprintf(&b, "  decisions=%d\n", rep.TotalDecisions)
	outcomes := make([]model.Outcome, 0, len(rep.OutcomeBreakdown))
	for o := range rep.OutcomeBreakdown {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
	for _, o := range outcomes {
		fmt.Fprintf(&b, "    %-24s %d\n", o, rep.OutcomeBreakdown[o])
	}
	return b.String()
}

// CategoryWeekly is one category's slice of the weekly digest.
type CategoryWeekly struct {
	Category         model.Category
	Promotions       int
	Demotions        int
	Blocks           int
	OutcomeBreakdown map[model.Outcome]int
	TotalDecisions   int
}

// WeeklyByCategory breaks the weekly digest down per category.
func (r *Reporter) WeeklyByCategory(ctx context.Context) ([]CategoryWeekly, error) {
	since := r.now().Add(-7 * 24 * time.Hour)
	milestones, err := r.milestones.MilestonesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("reporter: load weekly milestones: %w", err)
	}
	decisions, err := r.decisions.DecisionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("reporter: load weekly decisions: %w", err)
	}

	byCategory := map[model.Category]*CategoryWeekly{}
	get := func(c model.Category) *CategoryWeekly {
		cw, ok := byCategory[c]
		if !ok {
			cw = &CategoryWeekly{Category: c, OutcomeBreakdown: map[model.Outcome]int{}}
			byCategory[c] = cw
		}
		return cw
	}
	for _, m := range milestones {
		cw := get(m.Category)
		switch m.Type {
		case model.MilestoneTierPromotion:
			cw.Promotions++
		case model.MilestoneTierDemotion:
			cw.Demotions++
		case model.MilestoneBlocked:
			cw.Blocks++
		}
	}
	for _, d := range decisions {
		cw := get(d.Category)
		cw.OutcomeBreakdown[d.Outcome]++
		cw.TotalDecisions++
	}

	out := make([]CategoryWeekly, 0, len(byCategory))
	for _, cw := range byCategory {
		out = append(out, *cw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// ExportDecisions pages the full decision log for a machine-readable dump,
// reusing storage's keyset cursor so an operator can walk it without
// OFFSET cost.
func (r *Reporter) ExportDecisions(ctx context.Context, afterTimestamp time.Time, afterID string, limit int) ([]model.Decision, error) {
	return r.decisions.ExportDecisionsCursor(ctx, afterTimestamp, afterID, limit)
}
