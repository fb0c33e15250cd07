package model

import (
	"errors"
	"fmt"
	"time"
)

// Verification errors
var (
	ErrNotFound         = errors.New("no live verification code")
	ErrExpired          = errors.New("verification code has expired")
	ErrAttemptsExceeded = errors.New("too many verification attempts")
	ErrMismatch         = errors.New("incorrect verification code")
	ErrInvalidContact   = errors.New("invalid contact address")
	ErrDeliveryFailed   = errors.New("verification code could not be delivered")
)

// Ledger errors
var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInsufficientTime   = errors.New("insufficient time remaining")
	ErrBalanceOverflow    = errors.New("balance limit reached")
	ErrAlreadyClaimed     = errors.New("reward already claimed")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUserNotFound       = errors.New("user not found")
	ErrRewardUnavailable  = errors.New("reward is not available")
)

// Family errors
var (
	ErrQuotaExceeded    = errors.New("monthly change quota exceeded")
	ErrFamilyAtCapacity = errors.New("family is at capacity")
	ErrOwnerImmutable   = errors.New("the family owner cannot be changed")
	ErrFamilyNotFound   = errors.New("family not found")
	ErrFamilyExists     = errors.New("owner already has a family")
	ErrFamilyInactive   = errors.New("family is no longer active")
	ErrMemberNotFound   = errors.New("family member not found")
	ErrInvalidMember    = errors.New("invalid family member")
)

// Session errors
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidTransition   = errors.New("action not allowed in the current step")
	ErrInvalidCompletion   = errors.New("engagement completion is not valid")
	ErrForbidden           = errors.New("forbidden")
	ErrPaymentNotSettled   = errors.New("payment has not been settled")
	ErrLeadAlreadyCaptured = errors.New("lead already captured for this session")
)

// MismatchError reports a wrong code. The record stays live so the remaining
// attempts can be used.
type MismatchError struct {
	Attempts  int
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s (%d attempts left)", ErrMismatch.Error(), e.Remaining)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// QuotaExceededError names the boundary at which the owner's counter resets.
type QuotaExceededError struct {
	Used     int
	Max      int
	ResetsAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d changes used, resets on %s",
		ErrQuotaExceeded.Error(), e.Used, e.Max, e.ResetsAt.Format("January 2, 2006"))
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
