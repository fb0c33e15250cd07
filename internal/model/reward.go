package model

import "time"

type RewardEffect string

const (
	EffectTime     RewardEffect = "time"
	EffectPremium  RewardEffect = "premium"
	EffectDiscount RewardEffect = "discount"
)

type Reward struct {
	ID              int64        `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	PointCost       int          `json:"point_cost"`
	Effect          RewardEffect `json:"effect"`
	Minutes         int          `json:"minutes,omitempty"`
	DiscountPercent int          `json:"discount_percent,omitempty"`
	Active          bool         `json:"active"`
	CreatedAt       time.Time    `json:"created_at"`
}

type RewardRedemption struct {
	ID           int64     `json:"id"`
	RewardID     int64     `json:"reward_id"`
	UserID       int64     `json:"user_id"`
	PointsSpent  int       `json:"points_spent"`
	DiscountCode string    `json:"discount_code,omitempty"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}
