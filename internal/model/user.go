package model

import "time"

type User struct {
	ID                   int64     `json:"id"`
	Contact              string    `json:"contact,omitempty"`
	DeviceID             string    `json:"-"`
	TimeRemainingMinutes int       `json:"time_remaining_minutes"`
	Points               int       `json:"points"`
	IsAdmin              bool      `json:"is_admin"`
	Premium              bool      `json:"premium"`
	ReferralCode         string    `json:"referral_code"`
	FamilyID             *int64    `json:"family_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Balance is the authoritative pair of entitlements read back after every commit.
type Balance struct {
	UserID               int64 `json:"user_id"`
	TimeRemainingMinutes int   `json:"time_remaining_minutes"`
	Points               int   `json:"points"`
	Premium              bool  `json:"premium"`
}

type Referral struct {
	ID             int64     `json:"id"`
	ReferrerID     int64     `json:"referrer_id"`
	InvitedContact string    `json:"invited_contact"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats is the admin satellite summary.
type Stats struct {
	Users          int            `json:"users"`
	ActiveSessions int            `json:"active_sessions"`
	SessionsByStep map[string]int `json:"sessions_by_step"`
	MinutesGranted map[string]int `json:"minutes_granted"`
	PointsGranted  map[string]int `json:"points_granted"`
	PointsSpent    int            `json:"points_spent"`
	Families       int            `json:"families"`
}
