package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

type QuotaStore struct {
	db *sql.DB
}

func NewQuotaStore(db *sql.DB) *QuotaStore {
	return &QuotaStore{db: db}
}

// Get returns the stored counter for an owner, or nil if no change was ever recorded.
func (s *QuotaStore) Get(ctx context.Context, ownerID int64) (*model.ChangeQuotaRecord, error) {
	var r model.ChangeQuotaRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, changes_this_month, last_reset_at FROM change_quotas WHERE owner_id = ?`, ownerID,
	).Scan(&r.OwnerID, &r.ChangesThisMonth, &r.LastResetAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change quota: %w", err)
	}
	return &r, nil
}

func (s *QuotaStore) Save(ctx context.Context, r model.ChangeQuotaRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_quotas (owner_id, changes_this_month, last_reset_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   changes_this_month = excluded.changes_this_month,
		   last_reset_at = excluded.last_reset_at`,
		r.OwnerID, r.ChangesThisMonth, r.LastResetAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save change quota: %w", err)
	}
	return nil
}

// Charge counts one change in its own transaction.
func (s *QuotaStore) Charge(ctx context.Context, c model.QuotaCharge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := chargeQuota(ctx, tx, &c); err != nil {
		return err
	}
	return tx.Commit()
}

// chargeQuota counts one change against the owner's monthly counter inside
// tx. A counter from an earlier month starts over; a full counter is never
// incremented and yields *model.QuotaExceededError. A nil charge is a no-op.
func chargeQuota(ctx context.Context, tx *sql.Tx, c *model.QuotaCharge) error {
	if c == nil {
		return nil
	}

	var used int
	var resetAt time.Time
	err := tx.QueryRowContext(ctx,
		`SELECT changes_this_month, last_reset_at FROM change_quotas WHERE owner_id = ?`, c.OwnerID,
	).Scan(&used, &resetAt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("get change quota: %w", err)
	}

	if err == sql.ErrNoRows || !sameMonth(resetAt, c.Now) {
		if c.Max < 1 {
			return &model.QuotaExceededError{Used: 0, Max: c.Max, ResetsAt: c.ResetsAt}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_quotas (owner_id, changes_this_month, last_reset_at) VALUES (?, 1, ?)
			 ON CONFLICT(owner_id) DO UPDATE SET
			   changes_this_month = 1,
			   last_reset_at = excluded.last_reset_at`,
			c.OwnerID, c.Now.UTC(),
		); err != nil {
			return fmt.Errorf("charge change quota: %w", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE change_quotas SET changes_this_month = changes_this_month + 1
		 WHERE owner_id = ? AND changes_this_month < ?`,
		c.OwnerID, c.Max,
	)
	if err != nil {
		return fmt.Errorf("charge change quota: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &model.QuotaExceededError{Used: used, Max: c.Max, ResetsAt: c.ResetsAt}
	}
	return nil
}

func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}
