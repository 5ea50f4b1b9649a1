package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cortexgate/cortex/internal/model"
)

func insertMilestoneTx(ctx context.Context, tx *sql.Tx, m model.Milestone) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO milestones (milestone_id, timestamp, category, type, old_score, new_score, trigger)
		VALUES (?,?,?,?,?,?,?)`,
		m.MilestoneID, m.Timestamp.UTC().Format(timeLayout), string(m.Category), string(m.Type),
		nullableFloat(m.OldScore), m.NewScore, m.Trigger,
	)
	if err != nil {
		return fmt.Errorf("storage: insert milestone: %w", err)
	}
	return nil
}

// InsertMilestone inserts a milestone outside of a larger transaction (used
// by the Override Manager, which is not part of resolveOutcome's atomic
// group).
func (db *DB) InsertMilestone(ctx context.Context, m model.Milestone) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO milestones (milestone_id, timestamp, category, type, old_score, new_score, trigger)
		VALUES (?,?,?,?,?,?,?)`,
		m.MilestoneID, m.Timestamp.UTC().Format(timeLayout), string(m.Category), string(m.Type),
		nullableFloat(m.OldScore), m.NewScore, m.Trigger,
	)
	if err != nil {
		return fmt.Errorf("storage: insert milestone: %w", err)
	}
	return nil
}

// RecentMilestones returns the most recent n milestones, newest first.
func (db *DB) RecentMilestones(ctx context.Context, n int) ([]model.Milestone, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT milestone_id, timestamp, category, type, old_score, new_score, trigger
		FROM milestones ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("storage: recent milestones: %w", err)
	}
	defer rows.Close()

	var out []model.Milestone
	for rows.Next() {
		var (
			m        model.Milestone
			category string
			mType    string
			ts       string
			oldScore sql.NullFloat64
		)
		if err := rows.Scan(&m.MilestoneID, &ts, &category, &mType, &oldScore, &m.NewScore, &m.Trigger); err != nil {
			return nil, fmt.Errorf("storage: scan milestone: %w", err)
		}
		m.Category = model.Category(category)
		m.Type = model.MilestoneType(mType)
		m.Timestamp, _ = time.Parse(timeLayout, ts)
		if oldScore.Valid {
			v := oldScore.Float64
			m.OldScore = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MilestonesSince returns every milestone at or after the given time,
// used by the weekly reporter.
func (db *DB) MilestonesSince(ctx context.Context, since time.Time) ([]model.Milestone, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT milestone_id, timestamp, category, type, old_score, new_score, trigger
		FROM milestones WHERE timestamp >= ? ORDER BY timestamp ASC`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("storage: milestones since: %w", err)
	}
	defer rows.Close()

	var out []model.Milestone
	for rows.Next() {
		var (
			m        model.Milestone
			category string
			mType    string
			ts       string
			oldScore sql.NullFloat64
		)
		if err := rows.Scan(&m.MilestoneID, &ts, &category, &mType, &oldScore, &m.NewScore, &m.Trigger); err != nil {
			return nil, fmt.Errorf("storage: scan milestone: %w", err)
		}
		m.Category = model.Category(category)
		m.Type = model.MilestoneType(mType)
		m.Timestamp, _ = time.Parse(timeLayout, ts)
		if oldScore.Valid {
			v := oldScore.Float64
			m.OldScore = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
