package model

import "time"

type ContactKind string

const (
	ContactPhone ContactKind = "phone"
	ContactEmail ContactKind = "email"
)

type VerificationRecord struct {
	ID             int64       `json:"id"`
	Contact        string      `json:"contact"`
	Kind           ContactKind `json:"kind"`
	CodeHash       string      `json:"-"`
	Superseded     []string    `json:"-"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Attempts       int         `json:"attempts"`
	DeliveryFailed bool        `json:"delivery_failed"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MaxSuperseded bounds how many replaced code hashes a record remembers.
const MaxSuperseded = 8

// SupersededBy returns the hashes a record issued at now inherits from v: the
// hashes v already remembered plus its own code, provided v is still within
// its lifetime. Expired records pass nothing on.
func (v *VerificationRecord) SupersededBy(now time.Time) []string {
	if v == nil || !now.Before(v.ExpiresAt) {
		return nil
	}
	hashes := append(append([]string(nil), v.Superseded...), v.CodeHash)
	if len(hashes) > MaxSuperseded {
		hashes = hashes[len(hashes)-MaxSuperseded:]
	}
	return hashes
}
