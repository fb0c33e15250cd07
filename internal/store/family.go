package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

// FamilyStore persists family profiles and rosters. member_count tracks active
// members (owner included) and is only changed by guarded updates inside the
// same transaction as the roster change.
type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func scanFamilyProfile(scanner interface{ Scan(...any) error }) (*model.FamilyProfile, error) {
	var f model.FamilyProfile
	var active int

	err := scanner.Scan(
		&f.ID, &f.OwnerID, &f.Name, &f.MemberCount, &f.MaxMembers,
		&active, &f.CreatedAt, &f.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	f.Active = active != 0
	return &f, nil
}

const familyProfileCols = `id, owner_id, name, member_count, max_members, active, created_at, expires_at`

func scanFamilyMember(scanner interface{ Scan(...any) error }) (*model.FamilyMember, error) {
	var m model.FamilyMember
	var userID sql.NullInt64
	var role, status string

	err := scanner.Scan(
		&m.ID, &m.FamilyID, &userID, &m.Name, &m.Contact,
		&role, &status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		m.UserID = &userID.Int64
	}
	m.Role = model.FamilyRole(role)
	m.Status = model.MemberStatus(status)
	return &m, nil
}

const familyMemberCols = `id, family_id, user_id, name, contact, role, status, created_at, updated_at`

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// CreateProfile inserts the profile and its owner row in one transaction.
func (s *FamilyStore) CreateProfile(ctx context.Context, profile model.FamilyProfile, owner model.FamilyMember) (*model.FamilyProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM family_profiles WHERE owner_id = ?`, profile.OwnerID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check family: %w", err)
	}
	if exists > 0 {
		return nil, model.ErrFamilyExists
	}

	maxMembers := profile.MaxMembers
	if maxMembers <= 0 {
		maxMembers = model.MaxFamilyMembers
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO family_profiles (owner_id, name, member_count, max_members, active, created_at, expires_at)
		 VALUES (?, ?, 1, ?, 1, ?, ?)`,
		profile.OwnerID, profile.Name, maxMembers, profile.CreatedAt.UTC(), profile.ExpiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	familyID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	ownerID := profile.OwnerID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO family_members (family_id, user_id, name, contact, role, status) VALUES (?, ?, ?, ?, 'owner', 'active')`,
		familyID, ownerID, owner.Name, owner.Contact,
	); err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET family_id = ? WHERE id = ?`, familyID, ownerID); err != nil {
		return nil, fmt.Errorf("link owner: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+familyProfileCols+` FROM family_profiles WHERE id = ?`, familyID)
	f, err := scanFamilyProfile(row)
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) GetByOwner(ctx context.Context, ownerID int64) (*model.FamilyProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyProfileCols+` FROM family_profiles WHERE owner_id = ?`, ownerID)
	f, err := scanFamilyProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family by owner: %w", err)
	}
	return f, nil
}

// ListMembers returns the non-removed roster, owner first.
func (s *FamilyStore) ListMembers(ctx context.Context, familyID int64) ([]model.FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members
		 WHERE family_id = ? AND status != 'removed'
		 ORDER BY role = 'owner' DESC, id ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMember
	for rows.Next() {
		m, err := scanFamilyMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *FamilyStore) GetMember(ctx context.Context, familyID, memberID int64) (*model.FamilyMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members WHERE id = ? AND family_id = ?`,
		memberID, familyID,
	)
	m, err := scanFamilyMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family member: %w", err)
	}
	return m, nil
}

// AddMember inserts an active member if the family has room, applying charge
// in the same transaction.
func (s *FamilyStore) AddMember(ctx context.Context, familyID int64, m model.FamilyMember, charge *model.QuotaCharge) (*model.FamilyMember, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := chargeQuota(ctx, tx, charge); err != nil {
		return nil, err
	}
	if err := adjustCount(ctx, tx, familyID, 1); err != nil {
		return nil, err
	}
	created, err := insertMember(ctx, tx, familyID, m, model.MemberActive)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit member: %w", err)
	}
	return created, nil
}

// SetMemberStatus moves a member from one status to another, keeping
// member_count in step. Reactivation fails with model.ErrFamilyAtCapacity when
// the family is full. A non-nil charge is applied in the same transaction.
func (s *FamilyStore) SetMemberStatus(ctx context.Context, familyID, memberID int64, from, to model.MemberStatus, charge *model.QuotaCharge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE family_members SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND family_id = ? AND status = ? AND role != 'owner'`,
		string(to), memberID, familyID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrMemberNotFound
	}
	if err := chargeQuota(ctx, tx, charge); err != nil {
		return err
	}

	delta := 0
	if from == model.MemberActive {
		delta--
	}
	if to == model.MemberActive {
		delta++
	}
	if delta != 0 {
		if err := adjustCount(ctx, tx, familyID, delta); err != nil {
			return err
		}
	}

	if to == model.MemberRemoved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET family_id = NULL
			 WHERE family_id = ? AND id = (SELECT user_id FROM family_members WHERE id = ?)`,
			familyID, memberID,
		); err != nil {
			return fmt.Errorf("unlink member: %w", err)
		}
	}

	return tx.Commit()
}

// ReplaceMember marks the old member removed and inserts the replacement
// with the same role and status, so member_count is unchanged. A non-nil
// charge is applied in the same transaction.
func (s *FamilyStore) ReplaceMember(ctx context.Context, familyID, oldID int64, m model.FamilyMember, charge *model.QuotaCharge) (*model.FamilyMember, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members WHERE id = ? AND family_id = ? AND status != 'removed'`,
		oldID, familyID,
	)
	old, err := scanFamilyMember(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get replaced member: %w", err)
	}
	if old.Role == model.RoleOwner {
		return nil, model.ErrOwnerImmutable
	}
	if err := chargeQuota(ctx, tx, charge); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE family_members SET status = 'removed', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, oldID,
	); err != nil {
		return nil, fmt.Errorf("remove replaced member: %w", err)
	}
	if old.UserID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET family_id = NULL WHERE id = ? AND family_id = ?`, *old.UserID, familyID,
		); err != nil {
			return nil, fmt.Errorf("unlink replaced member: %w", err)
		}
	}

	m.Role = old.Role
	created, err := insertMember(ctx, tx, familyID, m, old.Status)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	return created, nil
}

func adjustCount(ctx context.Context, tx *sql.Tx, familyID int64, delta int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE family_profiles SET member_count = member_count + ?
		 WHERE id = ? AND member_count + ? BETWEEN 0 AND max_members`,
		delta, familyID, delta,
	)
	if err != nil {
		return fmt.Errorf("update member count: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM family_profiles WHERE id = ?`, familyID).Scan(&exists); err != nil {
			return fmt.Errorf("check family: %w", err)
		}
		if exists == 0 {
			return model.ErrFamilyNotFound
		}
		return model.ErrFamilyAtCapacity
	}
	return nil
}

func insertMember(ctx context.Context, tx *sql.Tx, familyID int64, m model.FamilyMember, status model.MemberStatus) (*model.FamilyMember, error) {
	role := m.Role
	if role == "" {
		role = model.RoleMember
	}
	row := tx.QueryRowContext(ctx,
		`INSERT INTO family_members (family_id, user_id, name, contact, role, status) VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+familyMemberCols,
		familyID, nullInt64(m.UserID), m.Name, m.Contact, string(role), string(status),
	)
	created, err := scanFamilyMember(row)
	if err != nil {
		return nil, fmt.Errorf("insert family member: %w", err)
	}
	if m.UserID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET family_id = ? WHERE id = ?`, familyID, *m.UserID); err != nil {
			return nil, fmt.Errorf("link member: %w", err)
		}
	}
	return created, nil
}

// Deactivate marks profiles past their expiry inactive.
func (s *FamilyStore) Deactivate(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE family_profiles SET active = 0 WHERE active = 1 AND expires_at <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate families: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
