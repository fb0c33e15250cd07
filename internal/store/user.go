package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/hotspot/internal/model"
	"github.com/google/uuid"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var contact, deviceID sql.NullString
	var familyID sql.NullInt64
	var isAdmin, premium int

	err := scanner.Scan(
		&u.ID, &contact, &deviceID, &u.TimeRemainingMinutes, &u.Points,
		&isAdmin, &premium, &u.ReferralCode, &familyID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Contact = contact.String
	u.DeviceID = deviceID.String
	u.IsAdmin = isAdmin != 0
	u.Premium = premium != 0
	if familyID.Valid {
		u.FamilyID = &familyID.Int64
	}
	return &u, nil
}

const userCols = `id, contact, device_id, time_remaining_minutes, points, is_admin, premium, referral_code, family_id, created_at, updated_at`

// newReferralCode returns an 8-character code derived from a random UUID.
func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a user with zero balances. Contact and device id are optional.
func (s *UserStore) Create(ctx context.Context, contact, deviceID string) (*model.User, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (contact, device_id, referral_code) VALUES (?, ?, ?)`,
		nullString(contact), nullString(deviceID), newReferralCode(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByContact(ctx context.Context, contact string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE contact = ?`, contact)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by contact: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByDeviceID(ctx context.Context, deviceID string) (*model.User, error) {
	if deviceID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE device_id = ?`, deviceID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by device: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE referral_code = ?`, strings.ToUpper(code))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by referral code: %w", err)
	}
	return u, nil
}

// BindDevice attaches a device identity to the user. A device belongs to one
// user at a time, so any previous owner loses it.
func (s *UserStore) BindDevice(ctx context.Context, userID int64, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET device_id = NULL WHERE device_id = ? AND id != ?`, deviceID, userID,
	); err != nil {
		return fmt.Errorf("release device: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET device_id = ? WHERE id = ?`, deviceID, userID,
	); err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	return tx.Commit()
}

func (s *UserStore) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	var a int
	if admin {
		a = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, a, userID); err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}

// Balance reads the authoritative balances, or nil if the user does not exist.
func (s *UserStore) Balance(ctx context.Context, userID int64) (*model.Balance, error) {
	return readBalance(ctx, s.db, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalance(ctx context.Context, q queryRower, userID int64) (*model.Balance, error) {
	var b model.Balance
	var premium int
	err := q.QueryRowContext(ctx,
		`SELECT id, time_remaining_minutes, points, premium FROM users WHERE id = ?`, userID,
	).Scan(&b.UserID, &b.TimeRemainingMinutes, &b.Points, &premium)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	b.Premium = premium != 0
	return &b, nil
}
