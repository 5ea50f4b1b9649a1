package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

// RecordDelivery inserts an AdvisoryDelivery row awaiting a feedback signal.
func (db *DB) RecordDelivery(ctx context.Context, d model.AdvisoryDelivery) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO advisory_deliveries (delivery_id, source, advisory_type, delivered_at, window_expires_at, resolved, acted_on, resolved_at)
		VALUES (?,?,?,?,?,0,0,NULL)`,
		d.DeliveryID, d.Source, d.AdvisoryType, d.DeliveredAt.UTC().Format(timeLayout), d.WindowExpiresAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage: record delivery: %w", err)
	}
	return nil
}

// OpenDeliveries returns every AdvisoryDelivery still awaiting resolution,
// the candidate set an implicit or explicit signal is matched against.
func (db *DB) OpenDeliveries(ctx context.Context, now time.Time) ([]model.AdvisoryDelivery, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT delivery_id, source, advisory_type, delivered_at, window_expires_at
		FROM advisory_deliveries
		WHERE resolved = 0 AND window_expires_at > ?
		ORDER BY delivered_at ASC`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: open deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.AdvisoryDelivery
	for rows.Next() {
		var d model.AdvisoryDelivery
		var delivered, expires string
		if err := rows.Scan(&d.DeliveryID, &d.Source, &d.AdvisoryType, &delivered, &expires); err != nil {
			return nil, fmt.Errorf("storage: scan open delivery: %w", err)
		}
		d.DeliveredAt, _ = time.Parse(timeLayout, delivered)
		d.WindowExpiresAt, _ = time.Parse(timeLayout, expires)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ExpiredDeliveries returns deliveries whose observation window elapsed
// with no resolution — the implicit "no action" decrement path.
func (db *DB) ExpiredDeliveries(ctx context.Context, now time.Time) ([]model.AdvisoryDelivery, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT delivery_id, source, advisory_type, delivered_at, window_expires_at
		FROM advisory_deliveries
		WHERE resolved = 0 AND window_expires_at <= ?`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: expired deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.AdvisoryDelivery
	for rows.Next() {
		var d model.AdvisoryDelivery
		var delivered, expires string
		if err := rows.Scan(&d.DeliveryID, &d.Source, &d.AdvisoryType, &delivered, &expires); err != nil {
			return nil, fmt.Errorf("storage: scan expired delivery: %w", err)
		}
		d.DeliveredAt, _ = time.Parse(timeLayout, delivered)
		d.WindowExpiresAt, _ = time.Parse(timeLayout, expires)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolveDelivery marks a delivery resolved, acted on or not.
func (db *DB) ResolveDelivery(ctx context.Context, deliveryID string, actedOn bool, resolvedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE advisory_deliveries SET resolved = 1, acted_on = ?, resolved_at = ?
		WHERE delivery_id = ? AND resolved = 0`,
		boolToInt(actedOn), resolvedAt.UTC().Format(timeLayout), deliveryID,
	)
	if err != nil {
		return fmt.Errorf("storage: resolve delivery: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActionRate reads the running rate for a (source, advisory_type) pair,
// returning a zero-value row with FrequencyMultiplier 1 if none exists yet.
func (db *DB) GetActionRate(ctx context.Context, source, advisoryType string) (model.ActionRate, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT source, advisory_type, rate, observation_count, acted_on_count, frequency_multiplier, last_updated
		FROM action_rates WHERE source = ? AND advisory_type = ?`, source, advisoryType)

	var r model.ActionRate
	var updated string
	err := row.Scan(&r.Source, &r.AdvisoryType, &r.Rate, &r.ObservationCount, &r.ActedOnCount, &r.FrequencyMultiplier, &updated)
	if err == sql.ErrNoRows {
		return model.ActionRate{Source: source, AdvisoryType: advisoryType, FrequencyMultiplier: 1}, nil
	}
	if err != nil {
		return model.ActionRate{}, fmt.Errorf("storage: get action rate: %w", err)
	}
	r.LastUpdated, _ = time.Parse(timeLayout, updated)
	return r, nil
}

// UpsertActionRate writes the full ActionRate row, replacing any prior
// state for the same (source, advisory_type) pair.
func (db *DB) UpsertActionRate(ctx context.Context, r model.ActionRate) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO action_rates (source, advisory_type, rate, observation_count, acted_on_count, frequency_multiplier, last_updated)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (source, advisory_type) DO UPDATE SET
			rate = excluded.rate,
			observation_count = excluded.observation_count,
			acted_on_count = excluded.acted_on_count,
			frequency_multiplier = excluded.frequency_multiplier,
			last_updated = excluded.last_updated`,
		r.Source, r.AdvisoryType, r.Rate, r.ObservationCount, r.ActedOnCount, r.FrequencyMultiplier, r.LastUpdated.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert action rate: %w", err)
	}
	return nil
}
