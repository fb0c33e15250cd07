package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/hotspot/internal/model"
)

// LedgerStore applies balance changes. Balances live on the users row and
// every change is journaled in ledger_entries in the same transaction.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanLedgerEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var source string
	var reference sql.NullString

	err := scanner.Scan(&e.ID, &e.UserID, &source, &e.TimeDelta, &e.PointsDelta, &reference, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Source = model.Source(source)
	e.Reference = reference.String
	return &e, nil
}

const ledgerEntryCols = `id, user_id, source, time_delta, points_delta, reference, created_at`

// Commit applies the batch atomically and returns the balances read back
// inside the same transaction.
func (s *LedgerStore) Commit(ctx context.Context, batch model.LedgerBatch) (*model.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch.Entries {
		if err := applyEntry(ctx, tx, batch.UserID, e); err != nil {
			return nil, err
		}
	}

	if batch.SetPremium {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET premium = 1 WHERE id = ?`, batch.UserID); err != nil {
			return nil, fmt.Errorf("set premium: %w", err)
		}
	}

	if r := batch.Redemption; r != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reward_redemptions (reward_id, user_id, points_spent, discount_code) VALUES (?, ?, ?, ?)`,
			r.RewardID, batch.UserID, r.PointsSpent, r.DiscountCode,
		); err != nil {
			return nil, fmt.Errorf("insert redemption: %w", err)
		}
	}

	if r := batch.Referral; r != nil {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM referrals WHERE referrer_id = ? AND invited_contact = ?`,
			r.ReferrerID, r.InvitedContact,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check referral: %w", err)
		}
		if exists > 0 {
			return nil, model.ErrAlreadyClaimed
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO referrals (referrer_id, invited_contact) VALUES (?, ?)`,
			r.ReferrerID, r.InvitedContact,
		); err != nil {
			return nil, fmt.Errorf("insert referral: %w", err)
		}
	}

	if t := batch.Transition; t != nil {
		if err := applyTransition(ctx, tx, t); err != nil {
			return nil, err
		}
	}

	bal, err := readBalance(ctx, tx, batch.UserID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, model.ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger batch: %w", err)
	}
	return bal, nil
}

func applyEntry(ctx context.Context, tx *sql.Tx, userID int64, e model.LedgerEntry) error {
	if e.Reference != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM ledger_entries WHERE reference = ?`, e.Reference,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check reference: %w", err)
		}
		if exists > 0 {
			return model.ErrAlreadyClaimed
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users
		 SET time_remaining_minutes = time_remaining_minutes + ?, points = points + ?
		 WHERE id = ?
		   AND time_remaining_minutes + ? BETWEEN 0 AND ?
		   AND points + ? BETWEEN 0 AND ?`,
		e.TimeDelta, e.PointsDelta, userID,
		e.TimeDelta, model.MaxBalance,
		e.PointsDelta, model.MaxBalance,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return diagnoseRejected(ctx, tx, userID, e)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, source, time_delta, points_delta, reference) VALUES (?, ?, ?, ?, ?)`,
		userID, string(e.Source), e.TimeDelta, e.PointsDelta, nullString(e.Reference),
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// diagnoseRejected explains why the guarded balance update matched no row.
func diagnoseRejected(ctx context.Context, tx *sql.Tx, userID int64, e model.LedgerEntry) error {
	bal, err := readBalance(ctx, tx, userID)
	if err != nil {
		return err
	}
	if bal == nil {
		return model.ErrUserNotFound
	}
	switch {
	case bal.Points+e.PointsDelta < 0:
		return model.ErrInsufficientPoints
	case bal.TimeRemainingMinutes+e.TimeDelta < 0:
		return model.ErrInsufficientTime
	default:
		return model.ErrBalanceOverflow
	}
}

func applyTransition(ctx context.Context, tx *sql.Tx, t *model.Transition) error {
	var result sql.Result
	var err error
	if t.Metadata != nil {
		encoded, encErr := encodeMetadata(*t.Metadata)
		if encErr != nil {
			return encErr
		}
		result, err = tx.ExecContext(ctx,
			`UPDATE sessions SET step = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND step = ?`,
			string(t.To), encoded, t.SessionID, string(t.From),
		)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE sessions SET step = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND step = ?`,
			string(t.To), t.SessionID, string(t.From),
		)
	}
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// ListEntries returns the most recent entries for a user, newest first.
func (s *LedgerStore) ListEntries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerEntryCols+` FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
