package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/milestone"
	"github.com/cortexgate/cortex/internal/model"
	"github.com/cortexgate/cortex/internal/scoreupdater"
)

// ResolveOutcome performs the Outcome Collector's six-step atomic
// resolution: read the decision, update its outcome, delete its pending
// row, update (bootstrapping if needed) the category's trust score, and
// emit a milestone if the score crossed a threshold. All of it runs inside
// one transaction so a crash never leaves a resolved decision with a stale
// score.
//
// Returns (false, nil) if the decision was not pending — resolution is
// idempotent, matching the "decision not pending" error-taxonomy entry.
func (db *DB) ResolveOutcome(ctx context.Context, decisionID string, outcome model.Outcome, source, correctionMessage string, now time.Time) (bool, error) {
	var resolved bool
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
				tier, category, gate_decision, score_at_decision, override_active,
				outcome, outcome_source, outcome_resolved_at, correction_message
			FROM decision_log WHERE decision_id = ?`, decisionID)
		d, err := scanDecision(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: resolve outcome: read decision: %w", err)
		}
		if d.Outcome != model.OutcomePending {
			// Idempotent no-op: already resolved.
			return nil
		}

		if err := updateDecisionOutcome(ctx, tx, decisionID, outcome, source, correctionMessage, now); err != nil {
			return err
		}
		if err := deletePendingOutcomeTx(ctx, tx, decisionID); err != nil {
			return err
		}

		ts, err := getOrBootstrapTrustScoreTx(ctx, tx, d.Category, d.Tier, now)
		if err != nil {
			return err
		}

		newScore := scoreupdater.Update(ts.CurrentScore, outcome, ts.EWMAAlpha)
		if err := updateTrustScoreTx(ctx, tx, d.Category, newScore, now); err != nil {
			return err
		}

		firstAutoApprove := ts.DecisionCount == 0 && outcome == model.OutcomePass
		if m := milestone.Detect(d.Category, d.Tier, ts.CurrentScore, newScore, firstAutoApprove, source, now); m != nil {
			if err := insertMilestoneTx(ctx, tx, *m); err != nil {
				return err
			}
		}

		resolved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return resolved, nil
}
