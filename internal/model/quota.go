package model

import "time"

const MaxMonthlyChanges = 3

type ChangeType string

const (
	ChangeAdd        ChangeType = "add"
	ChangeRemove     ChangeType = "remove"
	ChangeReplace    ChangeType = "replace"
	ChangeSuspend    ChangeType = "suspend"
	ChangeReactivate ChangeType = "reactivate"
)

// Counted reports whether the change consumes monthly quota.
func (c ChangeType) Counted() bool {
	switch c {
	case ChangeAdd, ChangeRemove, ChangeReplace:
		return true
	}
	return false
}

type ChangeQuotaRecord struct {
	OwnerID          int64     `json:"owner_id"`
	ChangesThisMonth int       `json:"changes_this_month"`
	LastResetAt      time.Time `json:"last_reset_at"`
}

// QuotaCharge is one counted change, applied by the store in the same
// transaction as the roster write it pays for.
type QuotaCharge struct {
	OwnerID  int64
	Change   ChangeType
	Max      int
	Now      time.Time
	ResetsAt time.Time
}
