package model

import "time"

type Step string

const (
	StepAuth       Step = "auth"
	StepEngagement Step = "engagement"
	StepSuccess    Step = "success"
	StepExtendTime Step = "extend_time"
	StepLeadGame   Step = "lead_game"
	StepDashboard  Step = "dashboard"
	StepRewards    Step = "rewards"
	StepReferral   Step = "referral"
	StepMiniGames  Step = "mini_games"
	StepAdminStats Step = "admin_stats"
	StepPayment    Step = "payment"
)

var satelliteSteps = map[Step]bool{
	StepExtendTime: true,
	StepLeadGame:   true,
	StepDashboard:  true,
	StepRewards:    true,
	StepReferral:   true,
	StepMiniGames:  true,
	StepAdminStats: true,
	StepPayment:    true,
}

// IsSatellite reports whether s is one of the screens reachable from success.
func (s Step) IsSatellite() bool {
	return satelliteSteps[s]
}

type EngagementType string

const (
	EngagementVideo EngagementType = "video"
	EngagementQuiz  EngagementType = "quiz"
)

// SessionMetadata is accumulated engagement state stored as JSON on the session.
type SessionMetadata struct {
	Abandoned     int            `json:"abandoned,omitempty"`
	Completed     []string       `json:"completed,omitempty"`
	LeadCaptured  bool           `json:"lead_captured,omitempty"`
	LastSatellite Step           `json:"last_satellite,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

type Session struct {
	ID         int64           `json:"id"`
	Token      string          `json:"-"`
	UserID     int64           `json:"user_id"`
	Step       Step            `json:"step"`
	Engagement EngagementType  `json:"engagement"`
	Metadata   SessionMetadata `json:"metadata"`
	ExpiresAt  time.Time       `json:"expires_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
