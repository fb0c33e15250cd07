// Package quota limits how many roster changes a family owner may make per
// calendar month. Suspensions and reactivations are never counted.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

type Store interface {
	Get(ctx context.Context, ownerID int64) (*model.ChangeQuotaRecord, error)
	Save(ctx context.Context, r model.ChangeQuotaRecord) error
	Charge(ctx context.Context, c model.QuotaCharge) error
}

// Status is the result of a Validate call.
type Status struct {
	CanChange     bool      `json:"can_change"`
	Remaining     int       `json:"remaining"`
	UsedThisMonth int       `json:"used_this_month"`
	Max           int       `json:"max"`
	ResetsAt      time.Time `json:"resets_at"`
}

type Allocator struct {
	store  Store
	max    int
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Allocator)

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func WithMax(n int) Option {
	return func(a *Allocator) { a.max = n }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		max:    model.MaxMonthlyChanges,
		now:    time.Now,
		logger: logger.With("component", "quota"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SameMonth reports whether a and b fall in the same UTC calendar month.
func SameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// NextReset returns midnight UTC on the first day of the month after now.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Current returns the record as it stands at now: a counter last reset in an
// earlier month starts over at zero. A nil record is a fresh counter.
func Current(rec *model.ChangeQuotaRecord, ownerID int64, now time.Time) model.ChangeQuotaRecord {
	if rec == nil {
		return model.ChangeQuotaRecord{OwnerID: ownerID, LastResetAt: now.UTC()}
	}
	if !SameMonth(rec.LastResetAt, now) {
		return model.ChangeQuotaRecord{OwnerID: ownerID, LastResetAt: now.UTC()}
	}
	return *rec
}

// load reads the counter and persists a lazy reset when the month rolled over.
func (a *Allocator) load(ctx context.Context, ownerID int64, now time.Time) (model.ChangeQuotaRecord, error) {
	stored, err := a.store.Get(ctx, ownerID)
	if err != nil {
		return model.ChangeQuotaRecord{}, fmt.Errorf("load quota: %w", err)
	}
	rec := Current(stored, ownerID, now)
	if stored != nil && stored.ChangesThisMonth != rec.ChangesThisMonth {
		if err := a.store.Save(ctx, rec); err != nil {
			return model.ChangeQuotaRecord{}, fmt.Errorf("reset quota: %w", err)
		}
		a.logger.Info("monthly quota reset", "owner_id", ownerID)
	}
	return rec, nil
}

// Validate reports whether the owner may make a change of the given type now.
func (a *Allocator) Validate(ctx context.Context, ownerID int64, change model.ChangeType) (Status, error) {
	now := a.now()
	rec, err := a.load(ctx, ownerID, now)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		UsedThisMonth: rec.ChangesThisMonth,
		Max:           a.max,
		Remaining:     max(a.max-rec.ChangesThisMonth, 0),
		ResetsAt:      NextReset(now),
	}
	if !change.Counted() {
		st.CanChange = true
		return st, nil
	}
	st.CanChange = rec.ChangesThisMonth < a.max
	return st, nil
}

// Require is Validate turned into an error: a *model.QuotaExceededError when
// the change is not allowed.
func (a *Allocator) Require(ctx context.Context, ownerID int64, change model.ChangeType) (Status, error) {
	st, err := a.Validate(ctx, ownerID, change)
	if err != nil {
		return st, err
	}
	if !st.CanChange {
		return st, &model.QuotaExceededError{Used: st.UsedThisMonth, Max: st.Max, ResetsAt: st.ResetsAt}
	}
	return st, nil
}

// Charge returns the quota cost of a change for the store to apply with the
// roster write, or nil when the change is not counted.
func (a *Allocator) Charge(ownerID int64, change model.ChangeType) *model.QuotaCharge {
	if !change.Counted() {
		return nil
	}
	now := a.now()
	return &model.QuotaCharge{
		OwnerID:  ownerID,
		Change:   change,
		Max:      a.max,
		Now:      now.UTC(),
		ResetsAt: NextReset(now),
	}
}

// Record counts a change that is not tied to a roster write. A full counter
// yields *model.QuotaExceededError and is left as it was.
func (a *Allocator) Record(ctx context.Context, ownerID int64, change model.ChangeType) error {
	charge := a.Charge(ownerID, change)
	if charge == nil {
		a.logger.Info("uncounted family change", "owner_id", ownerID, "change", change)
		return nil
	}
	if err := a.store.Charge(ctx, *charge); err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	a.logger.Info("family change recorded", "owner_id", ownerID, "change", change, "max", a.max)
	return nil
}
