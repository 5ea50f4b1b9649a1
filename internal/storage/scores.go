package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

// GetTrustScore reads the TrustScore row for a category.
func (db *DB) GetTrustScore(ctx context.Context, category model.Category) (model.TrustScore, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT category, tier, current_score, ewma_alpha, decision_count, decisions_last_30d, last_updated, initial_score
		FROM trust_scores WHERE category = ?`, string(category))
	ts, err := scanTrustScore(row)
	if err == sql.ErrNoRows {
		return model.TrustScore{}, ErrNotFound
	}
	if err != nil {
		return model.TrustScore{}, fmt.Errorf("storage: get trust score: %w", err)
	}
	return ts, nil
}

func scanTrustScore(row *sql.Row) (model.TrustScore, error) {
	var (
		ts       model.TrustScore
		tier     int
		category string
		updated  string
	)
	err := row.Scan(&category, &tier, &ts.CurrentScore, &ts.EWMAAlpha, &ts.DecisionCount, &ts.DecisionsLast30d, &updated, &ts.InitialScore)
	if err != nil {
		return model.TrustScore{}, err
	}
	ts.Category = model.Category(category)
	ts.Tier = model.Tier(tier)
	ts.LastUpdated, _ = time.Parse(timeLayout, updated)
	return ts, nil
}

// bootstrapTrustScore inserts a fresh row for a category using the default
// initial score and alpha for its tier, inside the caller's transaction.
// Used both by migration bootstrap and by resolveOutcome's local recovery
// when a score row is unexpectedly missing.
func bootstrapTrustScore(ctx context.Context, e execer, category model.Category, tier model.Tier, now time.Time) (model.TrustScore, error) {
	initial := model.DefaultInitialScore[tier]
	alpha := model.DefaultEWMAAlpha[tier]
	_, err := e.ExecContext(ctx, `
		INSERT OR IGNORE INTO trust_scores (category, tier, current_score, ewma_alpha, decision_count, decisions_last_30d, last_updated, initial_score)
		VALUES (?,?,?,?,0,0,?,?)`,
		string(category), int(tier), initial, alpha, now.UTC().Format(timeLayout), initial,
	)
	if err != nil {
		return model.TrustScore{}, fmt.Errorf("storage: bootstrap trust score: %w", err)
	}
	return model.TrustScore{
		Category: category, Tier: tier, CurrentScore: initial, EWMAAlpha: alpha,
		LastUpdated: now, InitialScore: initial,
	}, nil
}

// getOrBootstrapTrustScoreTx reads a category's score row within a
// transaction, creating it with defaults first if it's missing — the
// "Gate: missing score row" local-recovery path.
func getOrBootstrapTrustScoreTx(ctx context.Context, tx *sql.Tx, category model.Category, tier model.Tier, now time.Time) (model.TrustScore, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT category, tier, current_score, ewma_alpha, decision_count, decisions_last_30d, last_updated, initial_score
		FROM trust_scores WHERE category = ?`, string(category))
	ts, err := scanTrustScore(row)
	if err == sql.ErrNoRows {
		return bootstrapTrustScore(ctx, tx, category, tier, now)
	}
	if err != nil {
		return model.TrustScore{}, fmt.Errorf("storage: get-or-bootstrap trust score: %w", err)
	}
	return ts, nil
}

// updateTrustScoreTx writes the post-resolution score row: new current
// score, incremented decision count, recomputed decisions_last_30d.
func updateTrustScoreTx(ctx context.Context, tx *sql.Tx, category model.Category, newScore float64, now time.Time) error {
	count, err := countDecisionsSince(ctx, tx, category, now.Add(-30*24*time.Hour))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE trust_scores
		SET current_score = ?, decision_count = decision_count + 1, decisions_last_30d = ?, last_updated = ?
		WHERE category = ?`,
		newScore, count, now.UTC().Format(timeLayout), string(category),
	)
	if err != nil {
		return fmt.Errorf("storage: update trust score: %w", err)
	}
	return nil
}

// AllTrustScores returns every category's score row, used by the Reporter.
func (db *DB) AllTrustScores(ctx context.Context) ([]model.TrustScore, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT category, tier, current_score, ewma_alpha, decision_count, decisions_last_30d, last_updated, initial_score
		FROM trust_scores ORDER BY tier, category`)
	if err != nil {
		return nil, fmt.Errorf("storage: list trust scores: %w", err)
	}
	defer rows.Close()

	var out []model.TrustScore
	for rows.Next() {
		var (
			ts       model.TrustScore
			tier     int
			category string
			updated  string
		)
		if err := rows.Scan(&category, &tier, &ts.CurrentScore, &ts.EWMAAlpha, &ts.DecisionCount, &ts.DecisionsLast30d, &updated, &ts.InitialScore); err != nil {
			return nil, fmt.Errorf("storage: scan trust score: %w", err)
		}
		ts.Category = model.Category(category)
		ts.Tier = model.Tier(tier)
		ts.LastUpdated, _ = time.Parse(timeLayout, updated)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// VerifyBootstrap checks that trust_scores has exactly one row per known
// category, inserting any missing ones. Logged by the caller, never fatal.
func (db *DB) VerifyBootstrap(ctx context.Context, now time.Time) ([]model.Category, error) {
	var missing []model.Category
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, entry := range model.AllCategories {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM trust_scores WHERE category = ?`, string(entry.Category)).Scan(&count); err != nil {
				return fmt.Errorf("storage: verify bootstrap count: %w", err)
			}
			if count == 0 {
				missing = append(missing, entry.Category)
				if _, err := bootstrapTrustScore(ctx, tx, entry.Category, entry.Tier, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return missing, err
}
