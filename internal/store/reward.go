package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/hotspot/internal/model"
)

type RewardStore struct {
	db *sql.DB
}

func NewRewardStore(db *sql.DB) *RewardStore {
	return &RewardStore{db: db}
}

// --- Reward methods ---

func scanReward(scanner interface{ Scan(...any) error }) (*model.Reward, error) {
	var r model.Reward
	var effect string
	var active int

	err := scanner.Scan(
		&r.ID, &r.Title, &r.Description, &r.PointCost, &effect,
		&r.Minutes, &r.DiscountPercent, &active, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Effect = model.RewardEffect(effect)
	r.Active = active != 0
	return &r, nil
}

const rewardCols = `id, title, description, point_cost, effect, minutes, discount_percent, active, created_at`

func (s *RewardStore) Create(ctx context.Context, r model.Reward) (*model.Reward, error) {
	var a int
	if r.Active {
		a = 1
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (title, description, point_cost, effect, minutes, discount_percent, active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Description, r.PointCost, string(r.Effect), r.Minutes, r.DiscountPercent, a,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *RewardStore) GetByID(ctx context.Context, id int64) (*model.Reward, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return r, nil
}

// ListActive returns only active rewards, cheapest first.
func (s *RewardStore) ListActive(ctx context.Context) ([]model.Reward, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE active = 1 ORDER BY point_cost ASC, title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active rewards: %w", err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *RewardStore) SetActive(ctx context.Context, id int64, active bool) error {
	var a int
	if active {
		a = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE rewards SET active = ? WHERE id = ?`, a, id); err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	return nil
}

// --- Redemption methods ---

func scanRedemption(scanner interface{ Scan(...any) error }) (*model.RewardRedemption, error) {
	var r model.RewardRedemption
	err := scanner.Scan(&r.ID, &r.RewardID, &r.UserID, &r.PointsSpent, &r.DiscountCode, &r.RedeemedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const redemptionCols = `id, reward_id, user_id, points_spent, discount_code, redeemed_at`

func (s *RewardStore) ListRedemptionsByUser(ctx context.Context, userID int64) ([]model.RewardRedemption, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+redemptionCols+` FROM reward_redemptions WHERE user_id = ? ORDER BY id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions by user: %w", err)
	}
	defer rows.Close()

	var redemptions []model.RewardRedemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		redemptions = append(redemptions, *r)
	}
	return redemptions, rows.Err()
}
