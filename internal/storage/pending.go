package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

func insertPendingOutcome(ctx context.Context, e execer, p model.PendingOutcome) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO pending_outcomes (decision_id, feedback_window_expires_at, created_at)
		VALUES (?,?,?)`,
		p.DecisionID, p.FeedbackWindowExpiresAt.UTC().Format(timeLayout), p.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage: insert pending outcome: %w", err)
	}
	return nil
}

func deletePendingOutcomeTx(ctx context.Context, tx *sql.Tx, decisionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM pending_outcomes WHERE decision_id = ?`, decisionID)
	if err != nil {
		return fmt.Errorf("storage: delete pending outcome: %w", err)
	}
	return nil
}

// ExpiredPendingOutcomes returns every PendingOutcome whose feedback window
// has elapsed, joined against a still-pending Decision — the sweeper's
// input set.
func (db *DB) ExpiredPendingOutcomes(ctx context.Context, now time.Time) ([]model.PendingOutcome, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT po.decision_id, po.feedback_window_expires_at, po.created_at
		FROM pending_outcomes po
		JOIN decision_log d ON d.decision_id = po.decision_id
		WHERE po.feedback_window_expires_at <= ? AND d.outcome = 'pending'`,
		now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: expired pending outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.PendingOutcome
	for rows.Next() {
		var p model.PendingOutcome
		var expires, created string
		if err := rows.Scan(&p.DecisionID, &expires, &created); err != nil {
			return nil, fmt.Errorf("storage: scan pending outcome: %w", err)
		}
		p.FeedbackWindowExpiresAt, _ = time.Parse(timeLayout, expires)
		p.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertPendingConfirmation(ctx context.Context, e execer, c model.PendingConfirmation) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO pending_confirmations (
			confirmation_id, decision_id, tool_name, params_json, summary, score, threshold,
			category, expires_at, resolved, resolution, resolved_at
		) VALUES (?,?,?,?,?,?,?,?,?,0,'',NULL)`,
		c.ConfirmationID, c.DecisionID, c.ToolName, c.ParamsJSON, c.Summary, c.Score, c.Threshold,
		string(c.Category), c.ExpiresAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage: insert pending confirmation: %w", err)
	}
	return nil
}

// CreatePendingConfirmation inserts a PendingConfirmation row for a `pause`
// decision, standalone (outside CreateDecision's transaction).
func (db *DB) CreatePendingConfirmation(ctx context.Context, c model.PendingConfirmation) error {
	return insertPendingConfirmation(ctx, db.conn, c)
}

// GetPendingConfirmation reads a single PendingConfirmation by ID, resolved
// or not — the confirm/deny entry point needs the row's decision_id and
// resolved flag before acting on it.
func (db *DB) GetPendingConfirmation(ctx context.Context, confirmationID string) (model.PendingConfirmation, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT confirmation_id, decision_id, tool_name, params_json, summary, score, threshold,
			category, expires_at, resolved, resolution, resolved_at
		FROM pending_confirmations WHERE confirmation_id = ?`, confirmationID)

	var c model.PendingConfirmation
	var category, expires string
	var resolvedInt int
	var resolution sql.NullString
	var resolvedAt sql.NullString
	err := row.Scan(
		&c.ConfirmationID, &c.DecisionID, &c.ToolName, &c.ParamsJSON, &c.Summary, &c.Score, &c.Threshold,
		&category, &expires, &resolvedInt, &resolution, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return model.PendingConfirmation{}, ErrNotFound
	}
	if err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("storage: get pending confirmation: %w", err)
	}
	c.Category = model.Category(category)
	c.ExpiresAt, _ = time.Parse(timeLayout, expires)
	c.Resolved = resolvedInt != 0
	if resolution.Valid {
		c.Resolution = resolution.String
	}
	if resolvedAt.Valid {
		t, _ := time.Parse(timeLayout, resolvedAt.String)
		c.ResolvedAt = &t
	}
	return c, nil
}

// UnresolvedPendingConfirmations returns confirmations that are neither
// resolved nor past their TTL, surfaced on reporter calls.
func (db *DB) UnresolvedPendingConfirmations(ctx context.Context, now time.Time) ([]model.PendingConfirmation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT confirmation_id, decision_id, tool_name, params_json, summary, score, threshold, category, expires_at
		FROM pending_confirmations
		WHERE resolved = 0 AND expires_at > ?
		ORDER BY expires_at ASC`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: unresolved pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []model.PendingConfirmation
	for rows.Next() {
		var c model.PendingConfirmation
		var category, expires string
		if err := rows.Scan(&c.ConfirmationID, &c.DecisionID, &c.ToolName, &c.ParamsJSON, &c.Summary, &c.Score, &c.Threshold, &category, &expires); err != nil {
			return nil, fmt.Errorf("storage: scan pending confirmation: %w", err)
		}
		c.Category = model.Category(category)
		c.ExpiresAt, _ = time.Parse(timeLayout, expires)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolvePendingConfirmation marks a confirmation resolved with the given
// human-supplied resolution (e.g. "approved", "denied").
func (db *DB) ResolvePendingConfirmation(ctx context.Context, confirmationID, resolution string, resolvedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE pending_confirmations SET resolved = 1, resolution = ?, resolved_at = ?
		WHERE confirmation_id = ? AND resolved = 0`,
		resolution, resolvedAt.UTC().Format(timeLayout), confirmationID,
	)
	if err != nil {
		return fmt.Errorf("storage: resolve pending confirmation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
