package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrIdempotencyToolMismatch is returned when an idempotency key is reused
// against a different tool than the one it was first reserved for.
var ErrIdempotencyToolMismatch = errors.New("storage: idempotency key reused for a different tool")

// ErrIdempotencyInProgress indicates a matching idempotency key is still
// being processed by another check() call.
var ErrIdempotencyInProgress = errors.New("storage: idempotency key request already in progress")

// IdempotencyLookup describes the current state of a reserved key.
type IdempotencyLookup struct {
	Completed    bool
	ResponseJSON json.RawMessage
}

// BeginIdempotency reserves an idempotency key for a check() call.
//
// If it returns (lookup, nil) with lookup.Completed == false, the caller owns
// processing and must call CompleteIdempotency when done. If Completed is
// true, the caller should replay ResponseJSON instead of re-running the
// gate. ErrIdempotencyInProgress means another in-flight check() call holds
// the same key; the caller should treat the request as a duplicate and wait.
func (db *DB) BeginIdempotency(ctx context.Context, key, toolName string, now time.Time) (IdempotencyLookup, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, tool_name, status, decision_id, response_json, created_at)
		VALUES (?, ?, 'in_progress', NULL, NULL, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		key, toolName, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: begin idempotency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return IdempotencyLookup{}, nil
	}

	var storedTool, status string
	var responseJSON sql.NullString
	err = db.conn.QueryRowContext(ctx, `
		SELECT tool_name, status, response_json FROM idempotency_keys WHERE idempotency_key = ?`, key,
	).Scan(&storedTool, &status, &responseJSON)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: lookup idempotency: %w", err)
	}
	if storedTool != toolName {
		return IdempotencyLookup{}, ErrIdempotencyToolMismatch
	}
	if status == "completed" {
		var raw json.RawMessage
		if responseJSON.Valid {
			raw = json.RawMessage(responseJSON.String)
		}
		return IdempotencyLookup{Completed: true, ResponseJSON: raw}, nil
	}
	return IdempotencyLookup{}, ErrIdempotencyInProgress
}

// CompleteIdempotency stores the resolved decision and response for a
// previously reserved key.
func (db *DB) CompleteIdempotency(ctx context.Context, key, decisionID string, response any) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE idempotency_keys SET status = 'completed', decision_id = ?, response_json = ?
		WHERE idempotency_key = ? AND status = 'in_progress'`,
		decisionID, string(payload), key,
	)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: complete idempotency: key not found or not in_progress")
	}
	return nil
}

// ClearInProgressIdempotency removes an in-progress reservation, e.g. after
// the gate failed before producing a decision, so the caller can retry.
func (db *DB) ClearInProgressIdempotency(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE idempotency_key = ? AND status = 'in_progress'`, key)
	if err != nil {
		return fmt.Errorf("storage: clear idempotency: %w", err)
	}
	return nil
}

// CleanupIdempotencyKeys removes completed records older than ttl, freeing
// the table for long-running daemons. Run periodically by the background
// sweeper alongside the pending-outcome sweep.
func (db *DB) CleanupIdempotencyKeys(ctx context.Context, ttl time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-ttl).UTC().Format(timeLayout)
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE status = 'completed' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
