package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

// VerificationStore keeps one live verification record per contact, enforced
// by the UNIQUE constraint on contact.
type VerificationStore struct {
	db *sql.DB
}

func NewVerificationStore(db *sql.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

func scanVerification(scanner interface{ Scan(...any) error }) (*model.VerificationRecord, error) {
	var v model.VerificationRecord
	var kind, superseded string
	var deliveryFailed int

	err := scanner.Scan(
		&v.ID, &v.Contact, &kind, &v.CodeHash, &superseded, &v.ExpiresAt,
		&v.Attempts, &deliveryFailed, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Kind = model.ContactKind(kind)
	v.DeliveryFailed = deliveryFailed != 0
	if err := json.Unmarshal([]byte(superseded), &v.Superseded); err != nil {
		return nil, fmt.Errorf("decode superseded hashes: %w", err)
	}
	return &v, nil
}

const verificationCols = `id, contact, kind, code_hash, superseded, expires_at, attempts, delivery_failed, created_at`

// Upsert stores rec as the only live record for its contact. Any previous
// record is deleted in the same transaction, so the new one gets a fresh id
// and stale handles to the old record stop matching. Codes replaced while
// still live are remembered on the new record so a late attempt with one of
// them reads as not found.
func (s *VerificationStore) Upsert(ctx context.Context, rec *model.VerificationRecord) (*model.VerificationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	previous, err := scanVerification(tx.QueryRowContext(ctx,
		`DELETE FROM verification_records WHERE contact = ? RETURNING `+verificationCols, rec.Contact,
	))
	if err == sql.ErrNoRows {
		previous = nil
	} else if err != nil {
		return nil, fmt.Errorf("invalidate previous code: %w", err)
	}

	superseded := previous.SupersededBy(rec.CreatedAt)
	if superseded == nil {
		superseded = []string{}
	}
	supersededJSON, err := json.Marshal(superseded)
	if err != nil {
		return nil, fmt.Errorf("encode superseded hashes: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO verification_records (contact, kind, code_hash, superseded, expires_at, attempts, delivery_failed, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?)
		 RETURNING `+verificationCols,
		rec.Contact, string(rec.Kind), rec.CodeHash, string(supersededJSON), rec.ExpiresAt.UTC(), rec.CreatedAt.UTC(),
	)
	v, err := scanVerification(row)
	if err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit verification: %w", err)
	}
	return v, nil
}

// Get returns the live record for contact, or nil if there is none.
func (s *VerificationStore) Get(ctx context.Context, contact string) (*model.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verification_records WHERE contact = ?`, contact)
	v, err := scanVerification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return v, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value. It
// fails with model.ErrNotFound if the record was consumed or replaced.
func (s *VerificationStore) IncrementAttempts(ctx context.Context, rec *model.VerificationRecord) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE verification_records SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		rec.ID,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, model.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// Delete removes rec and reports whether this call was the one that removed it.
func (s *VerificationStore) Delete(ctx context.Context, rec *model.VerificationRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verification_records WHERE id = ?`, rec.ID)
	if err != nil {
		return false, fmt.Errorf("delete verification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *VerificationStore) MarkDeliveryFailed(ctx context.Context, rec *model.VerificationRecord) error {
	_, err := s.db.ExecContext(ctx, `UPDATE verification_records SET delivery_failed = 1 WHERE id = ?`, rec.ID)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

func (s *VerificationStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verification_records WHERE expires_at <= ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired verifications: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
