package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
	"github.com/google/uuid"
)

// ActiveOverride returns the active, non-expired override for a category,
// or ErrNotFound if none exists.
func (db *DB) ActiveOverride(ctx context.Context, category model.Category, now time.Time) (model.TrustOverride, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT override_id, category, type, reason, granted_by, granted_at, expires_at, revoked_at, active
		FROM trust_overrides
		WHERE category = ? AND active = 1 AND (expires_at IS NULL OR expires_at > ?)`,
		string(category), now.UTC().Format(timeLayout))
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return model.TrustOverride{}, ErrNotFound
	}
	if err != nil {
		return model.TrustOverride{}, fmt.Errorf("storage: active override: %w", err)
	}
	return o, nil
}

func scanOverride(row *sql.Row) (model.TrustOverride, error) {
	var (
		o                     model.TrustOverride
		category, typ         string
		granted               string
		expires, revoked      sql.NullString
		activeInt             int
	)
	err := row.Scan(&o.OverrideID, &category, &typ, &o.Reason, &o.GrantedBy, &granted, &expires, &revoked, &activeInt)
	if err != nil {
		return model.TrustOverride{}, err
	}
	o.Category = model.Category(category)
	o.Type = model.OverrideType(typ)
	o.GrantedAt, _ = time.Parse(timeLayout, granted)
	o.Active = activeInt != 0
	if expires.Valid {
		t, _ := time.Parse(timeLayout, expires.String)
		o.ExpiresAt = &t
	}
	if revoked.Valid {
		t, _ := time.Parse(timeLayout, revoked.String)
		o.RevokedAt = &t
	}
	return o, nil
}

// SetOverride deactivates any existing active override for the category and
// inserts a new one, atomically — the invariant that at most one active
// row per category is ever visible.
func (db *DB) SetOverride(ctx context.Context, category model.Category, typ model.OverrideType, reason, grantedBy string, expiresAt *time.Time, now time.Time) (model.TrustOverride, error) {
	o := model.TrustOverride{
		OverrideID: uuid.NewString(),
		Category:   category,
		Type:       typ,
		Reason:     reason,
		GrantedBy:  grantedBy,
		GrantedAt:  now,
		ExpiresAt:  expiresAt,
		Active:     true,
	}
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE trust_overrides SET active = 0, revoked_at = ?
			WHERE category = ? AND active = 1`,
			now.UTC().Format(timeLayout), string(category),
		); err != nil {
			return fmt.Errorf("storage: deactivate prior overrides: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO trust_overrides (override_id, category, type, reason, granted_by, granted_at, expires_at, revoked_at, active)
			VALUES (?,?,?,?,?,?,?,NULL,1)`,
			o.OverrideID, string(o.Category), string(o.Type), o.Reason, o.GrantedBy,
			o.GrantedAt.UTC().Format(timeLayout), nullableTime(o.ExpiresAt),
		)
		if err != nil {
			return fmt.Errorf("storage: insert override: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.TrustOverride{}, err
	}
	return o, nil
}

// RevokeAllOverrides deactivates every active override, for emergency
// lockdown, and returns the categories that were affected.
func (db *DB) RevokeAllOverrides(ctx context.Context, now time.Time) ([]model.Category, error) {
	var categories []model.Category
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT category FROM trust_overrides WHERE active = 1`)
		if err != nil {
			return fmt.Errorf("storage: list active overrides: %w", err)
		}
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return fmt.Errorf("storage: scan active override category: %w", err)
			}
			categories = append(categories, model.Category(c))
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		_, err = tx.ExecContext(ctx, `UPDATE trust_overrides SET active = 0, revoked_at = ? WHERE active = 1`, now.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("storage: revoke all overrides: %w", err)
		}
		return nil
	})
	return categories, err
}

// ListActiveOverrides returns every override with active=true whose
// expiry (if any) has not yet passed.
func (db *DB) ListActiveOverrides(ctx context.Context, now time.Time) ([]model.TrustOverride, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT override_id, category, type, reason, granted_by, granted_at, expires_at, revoked_at, active
		FROM trust_overrides
		WHERE active = 1 AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY granted_at DESC`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: list active overrides: %w", err)
	}
	defer rows.Close()

	var out []model.TrustOverride
	for rows.Next() {
		var (
			o                model.TrustOverride
			category, typ    string
			granted          string
			expires, revoked sql.NullString
			activeInt        int
		)
		if err := rows.Scan(&o.OverrideID, &category, &typ, &o.Reason, &o.GrantedBy, &granted, &expires, &revoked, &activeInt); err != nil {
			return nil, fmt.Errorf("storage: scan active override: %w", err)
		}
		o.Category = model.Category(category)
		o.Type = model.OverrideType(typ)
		o.GrantedAt, _ = time.Parse(timeLayout, granted)
		o.Active = activeInt != 0
		if expires.Valid {
			t, _ := time.Parse(timeLayout, expires.String)
			o.ExpiresAt = &t
		}
		if revoked.Valid {
			t, _ := time.Parse(timeLayout, revoked.String)
			o.RevokedAt = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
