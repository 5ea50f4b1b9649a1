package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

const timeLayout = time.RFC3339Nano

// CreateDecision inserts a Decision row in one transaction alongside its
// lifecycle row: a PendingOutcome for a `pass` verdict, or a
// PendingConfirmation for a `pause` verdict. A `block` verdict gets neither —
// it never enters a resolution lifecycle, since nothing ran that an outcome
// could be observed from.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision, pending *model.PendingOutcome, confirmation *model.PendingConfirmation) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertDecision(ctx, tx, d); err != nil {
			return err
		}
		if pending != nil {
			if err := insertPendingOutcome(ctx, tx, *pending); err != nil {
				return err
			}
		}
		if confirmation != nil {
			if err := insertPendingConfirmation(ctx, tx, *confirmation); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertDecision(ctx context.Context, e execer, d model.Decision) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO decision_log (
			decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
			tier, category, gate_decision, score_at_decision, override_active,
			outcome, outcome_source, outcome_resolved_at, correction_message
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.DecisionID, d.Timestamp.UTC().Format(timeLayout), d.SessionID, d.ToolName,
		d.ParamsHash, d.ParamsSummary, int(d.Tier), string(d.Category), string(d.GateDecision),
		d.ScoreAtDecision, boolToInt(d.OverrideActive), string(d.Outcome), d.OutcomeSource,
		nullableTime(d.OutcomeResolvedAt), d.CorrectionMessage,
	)
	if err != nil {
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// GetDecision reads a single Decision by ID.
func (db *DB) GetDecision(ctx context.Context, decisionID string) (model.Decision, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
			tier, category, gate_decision, score_at_decision, override_active,
			outcome, outcome_source, outcome_resolved_at, correction_message
		FROM decision_log WHERE decision_id = ?`, decisionID)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return model.Decision{}, ErrNotFound
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

func scanDecision(row *sql.Row) (model.Decision, error) {
	var (
		d                 model.Decision
		tier, overrideInt int
		category, gate, o string
		ts                string
		resolvedAt        sql.NullString
	)
	err := row.Scan(
		&d.DecisionID, &ts, &d.SessionID, &d.ToolName, &d.ParamsHash, &d.ParamsSummary,
		&tier, &category, &gate, &d.ScoreAtDecision, &overrideInt,
		&o, &d.OutcomeSource, &resolvedAt, &d.CorrectionMessage,
	)
	if err != nil {
		return model.Decision{}, err
	}
	d.Tier = model.Tier(tier)
	d.Category = model.Category(category)
	d.GateDecision = model.GateResult(gate)
	d.Outcome = model.Outcome(o)
	d.OverrideActive = overrideInt != 0
	d.Timestamp, _ = time.Parse(timeLayout, ts)
	if resolvedAt.Valid {
		t, _ := time.Parse(timeLayout, resolvedAt.String)
		d.OutcomeResolvedAt = &t
	}
	return d, nil
}

// UpdateDecisionOutcome resolves a Decision's outcome fields. Must be called
// inside the same transaction as the TrustScore update and PendingOutcome
// delete that make up resolveOutcome.
func updateDecisionOutcome(ctx context.Context, e execer, decisionID string, outcome model.Outcome, source, correctionMessage string, resolvedAt time.Time) error {
	_, err := e.ExecContext(ctx, `
		UPDATE decision_log
		SET outcome = ?, outcome_source = ?, outcome_resolved_at = ?, correction_message = ?
		WHERE decision_id = ?`,
		string(outcome), source, resolvedAt.UTC().Format(timeLayout), correctionMessage, decisionID,
	)
	if err != nil {
		return fmt.Errorf("storage: update decision outcome: %w", err)
	}
	return nil
}

// MostRecentPendingDecision finds the most recent pending decision within
// the correction window, optionally scoped to a category. Used by the
// correction-text resolution path.
func (db *DB) MostRecentPendingDecision(ctx context.Context, since time.Time, category *model.Category) (model.Decision, error) {
	query := `
		SELECT decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
			tier, category, gate_decision, score_at_decision, override_active,
			outcome, outcome_source, outcome_resolved_at, correction_message
		FROM decision_log
		WHERE outcome = 'pending' AND timestamp >= ?`
	args := []any{since.UTC().Format(timeLayout)}
	if category != nil {
		query += " AND category = ?"
		args = append(args, string(*category))
	}
	query += " ORDER BY timestamp DESC LIMIT 1"

	row := db.conn.QueryRowContext(ctx, query, args...)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return model.Decision{}, ErrNotFound
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: most recent pending decision: %w", err)
	}
	return d, nil
}

// ExportDecisionsCursor pages the decision log via keyset pagination on
// (timestamp, decision_id) so an operator can walk the full log without
// OFFSET cost.
func (db *DB) ExportDecisionsCursor(ctx context.Context, afterTimestamp time.Time, afterID string, limit int) ([]model.Decision, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
			tier, category, gate_decision, score_at_decision, override_active,
			outcome, outcome_source, outcome_resolved_at, correction_message
		FROM decision_log
		WHERE (timestamp, decision_id) > (?, ?)
		ORDER BY timestamp ASC, decision_id ASC
		LIMIT ?`, afterTimestamp.UTC().Format(timeLayout), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: export decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var (
			d                 model.Decision
			tier, overrideInt int
			category, gate, o string
			ts                string
			resolvedAt        sql.NullString
		)
		if err := rows.Scan(
			&d.DecisionID, &ts, &d.SessionID, &d.ToolName, &d.ParamsHash, &d.ParamsSummary,
			&tier, &category, &gate, &d.ScoreAtDecision, &overrideInt,
			&o, &d.OutcomeSource, &resolvedAt, &d.CorrectionMessage,
		); err != nil {
			return nil, fmt.Errorf("storage: scan exported decision: %w", err)
		}
		d.Tier = model.Tier(tier)
		d.Category = model.Category(category)
		d.GateDecision = model.GateResult(gate)
		d.Outcome = model.Outcome(o)
		d.OverrideActive = overrideInt != 0
		d.Timestamp, _ = time.Parse(timeLayout, ts)
		if resolvedAt.Valid {
			t, _ := time.Parse(timeLayout, resolvedAt.String)
			d.OutcomeResolvedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionsSince returns every decision at or after the given time,
// ordered oldest first, used by the weekly reporter to compute an outcome
// breakdown and per-category summary over a trailing window.
func (db *DB) DecisionsSince(ctx context.Context, since time.Time) ([]model.Decision, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT decision_id, timestamp, session_id, tool_name, params_hash, params_summary,
			tier, category, gate_decision, score_at_decision, override_active,
			outcome, outcome_source, outcome_resolved_at, correction_message
		FROM decision_log
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: decisions since: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var (
			d                 model.Decision
			tier, overrideInt int
			category, gate, o string
			ts                string
			resolvedAt        sql.NullString
		)
		if err := rows.Scan(
			&d.DecisionID, &ts, &d.SessionID, &d.ToolName, &d.ParamsHash, &d.ParamsSummary,
			&tier, &category, &gate, &d.ScoreAtDecision, &overrideInt,
			&o, &d.OutcomeSource, &resolvedAt, &d.CorrectionMessage,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision since: %w", err)
		}
		d.Tier = model.Tier(tier)
		d.Category = model.Category(category)
		d.GateDecision = model.GateResult(gate)
		d.Outcome = model.Outcome(o)
		d.OverrideActive = overrideInt != 0
		d.Timestamp, _ = time.Parse(timeLayout, ts)
		if resolvedAt.Valid {
			t, _ := time.Parse(timeLayout, resolvedAt.String)
			d.OutcomeResolvedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDecisionsSince returns the decision count for category since the
// given cutoff — the subquery backing `decisions_last_30d`.
func countDecisionsSince(ctx context.Context, e execer, category model.Category, since time.Time) (int64, error) {
	var n int64
	err := e.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_log WHERE category = ? AND timestamp >= ?`,
		string(category), since.UTC().Format(timeLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count decisions since: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
