package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

// StatsStore aggregates the admin summary.
type StatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) Summary(ctx context.Context, now time.Time) (*model.Stats, error) {
	st := model.Stats{
		SessionsByStep: map[string]int{},
		MinutesGranted: map[string]int{},
		PointsGranted:  map[string]int{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM family_profiles WHERE active = 1`).Scan(&st.Families); err != nil {
		return nil, fmt.Errorf("count families: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, COUNT(*) FROM sessions WHERE expires_at > ? GROUP BY step`, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if err := scanCounts(rows, func(key string, n int) {
		st.SessionsByStep[key] = n
		st.ActiveSessions += n
	}); err != nil {
		return nil, fmt.Errorf("scan session counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT source, COALESCE(SUM(time_delta), 0) FROM ledger_entries WHERE time_delta > 0 GROUP BY source`,
	)
	if err != nil {
		return nil, fmt.Errorf("sum minutes: %w", err)
	}
	if err := scanCounts(rows, func(key string, n int) { st.MinutesGranted[key] = n }); err != nil {
		return nil, fmt.Errorf("scan minutes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT source, COALESCE(SUM(points_delta), 0) FROM ledger_entries WHERE points_delta > 0 GROUP BY source`,
	)
	if err != nil {
		return nil, fmt.Errorf("sum points: %w", err)
	}
	if err := scanCounts(rows, func(key string, n int) { st.PointsGranted[key] = n }); err != nil {
		return nil, fmt.Errorf("scan points: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(-SUM(points_delta), 0) FROM ledger_entries WHERE points_delta < 0`,
	).Scan(&st.PointsSpent); err != nil {
		return nil, fmt.Errorf("sum points spent: %w", err)
	}

	return &st, nil
}

func scanCounts(rows *sql.Rows, fn func(key string, n int)) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}
