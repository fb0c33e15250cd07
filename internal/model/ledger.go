package model

import "time"

// Source tags every ledger entry with the action that produced it.
type Source string

const (
	SourceEngagementVideo    Source = "engagement-video"
	SourceEngagementQuiz     Source = "engagement-quiz"
	SourceEngagementGame     Source = "engagement-game"
	SourceTimeExtensionVideo Source = "time-extension-video"
	SourceLeadCapture        Source = "lead-capture"
	SourceReferral           Source = "referral"
	SourcePayment            Source = "payment"
	SourceRewardRedemption   Source = "reward-redemption"
	SourceSessionRenewal     Source = "session-renewal"
)

type LedgerEntry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Source      Source    `json:"source"`
	TimeDelta   int       `json:"time_delta"`
	PointsDelta int       `json:"points_delta"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transition moves a session between steps inside a ledger commit. The commit
// fails with ErrInvalidTransition if the session is no longer in From.
type Transition struct {
	SessionID int64
	From      Step
	To        Step
	Metadata  *SessionMetadata
}

// LedgerBatch is applied by the store in a single transaction: entries in
// order, then the optional side effects. Any failure leaves no partial effect.
type LedgerBatch struct {
	UserID     int64
	Entries    []LedgerEntry
	SetPremium bool
	Redemption *RewardRedemption
	Referral   *Referral
	Transition *Transition
}

// MaxBalance bounds either balance so arithmetic stays far from overflow.
const MaxBalance = 2_000_000_000
