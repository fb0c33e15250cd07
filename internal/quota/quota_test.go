package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/hotspot/internal/database"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/store"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setupAllocator(t *testing.T) (*Allocator, *clock, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	u, err := store.NewUserStore(db).Create(context.Background(), "owner@example.com", "")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}

	c := &clock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store.NewQuotaStore(db), logger, WithClock(c.Now)), c, u.ID
}

func TestSameMonth(t *testing.T) {
	tests := []struct {
		a, b time.Time
		want bool
	}{
		{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC), true},
		{time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := SameMonth(tt.a, tt.b); got != tt.want {
			t.Errorf("SameMonth(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNextReset(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := NextReset(tt.now); !got.Equal(tt.want) {
			t.Errorf("NextReset(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestCurrent(t *testing.T) {
	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	fresh := Current(nil, 7, now)
	if fresh.ChangesThisMonth != 0 || fresh.OwnerID != 7 {
		t.Errorf("nil record = %+v, want zero counter for owner 7", fresh)
	}

	stale := &model.ChangeQuotaRecord{OwnerID: 7, ChangesThisMonth: 3, LastResetAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)}
	if got := Current(stale, 7, now); got.ChangesThisMonth != 0 || !got.LastResetAt.Equal(now) {
		t.Errorf("stale record = %+v, want reset at %v", got, now)
	}

	live := &model.ChangeQuotaRecord{OwnerID: 7, ChangesThisMonth: 2, LastResetAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	if got := Current(live, 7, now); got.ChangesThisMonth != 2 {
		t.Errorf("live record changes = %d, want 2", got.ChangesThisMonth)
	}
}

func TestValidateFreshOwner(t *testing.T) {
	a, _, owner := setupAllocator(t)

	st, err := a.Validate(context.Background(), owner, model.ChangeAdd)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !st.CanChange || st.Remaining != 3 || st.UsedThisMonth != 0 || st.Max != 3 {
		t.Errorf("status = %+v, want 0 of 3 used", st)
	}
	if want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC); !st.ResetsAt.Equal(want) {
		t.Errorf("resets_at = %v, want %v", st.ResetsAt, want)
	}
}

func TestFourthCountedChangeRejected(t *testing.T) {
	a, _, owner := setupAllocator(t)
	ctx := context.Background()

	for _, c := range []model.ChangeType{model.ChangeAdd, model.ChangeAdd, model.ChangeRemove} {
		if _, err := a.Require(ctx, owner, c); err != nil {
			t.Fatalf("require %s: %v", c, err)
		}
		if err := a.Record(ctx, owner, c); err != nil {
			t.Fatalf("record %s: %v", c, err)
		}
	}

	for _, c := range []model.ChangeType{model.ChangeAdd, model.ChangeRemove, model.ChangeReplace} {
		st, err := a.Validate(ctx, owner, c)
		if err != nil {
			t.Fatalf("validate %s: %v", c, err)
		}
		if st.CanChange || st.Remaining != 0 || st.UsedThisMonth != 3 {
			t.Errorf("%s status = %+v, want exhausted", c, st)
		}
	}

	_, err := a.Require(ctx, owner, model.ChangeReplace)
	var qe *model.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if !errors.Is(err, model.ErrQuotaExceeded) {
		t.Error("quota error should match ErrQuotaExceeded")
	}
	if want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC); !qe.ResetsAt.Equal(want) {
		t.Errorf("resets_at = %v, want %v", qe.ResetsAt, want)
	}

	for _, c := range []model.ChangeType{model.ChangeSuspend, model.ChangeReactivate} {
		if _, err := a.Require(ctx, owner, c); err != nil {
			t.Errorf("%s should stay allowed: %v", c, err)
		}
	}

	if err := a.Record(ctx, owner, model.ChangeAdd); !errors.Is(err, model.ErrQuotaExceeded) {
		t.Errorf("record past max err = %v, want ErrQuotaExceeded", err)
	}
	if st, _ := a.Validate(ctx, owner, model.ChangeAdd); st.UsedThisMonth != 3 {
		t.Errorf("used = %d, want 3", st.UsedThisMonth)
	}
}

func TestSuspendAndReactivateNeverCounted(t *testing.T) {
	a, _, owner := setupAllocator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := a.Record(ctx, owner, model.ChangeSuspend); err != nil {
			t.Fatalf("record suspend: %v", err)
		}
		if err := a.Record(ctx, owner, model.ChangeReactivate); err != nil {
			t.Fatalf("record reactivate: %v", err)
		}
	}

	st, err := a.Validate(ctx, owner, model.ChangeAdd)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if st.UsedThisMonth != 0 {
		t.Errorf("used = %d, want 0", st.UsedThisMonth)
	}
}

func TestQuotaResetsNextMonth(t *testing.T) {
	a, c, owner := setupAllocator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a.Record(ctx, owner, model.ChangeAdd)
	}
	if st, _ := a.Validate(ctx, owner, model.ChangeAdd); st.CanChange {
		t.Fatal("expected quota exhausted in March")
	}

	c.now = time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC)
	st, err := a.Validate(ctx, owner, model.ChangeAdd)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !st.CanChange || st.UsedThisMonth != 0 {
		t.Errorf("status = %+v, want reset in April", st)
	}

	if err := a.Record(ctx, owner, model.ChangeAdd); err != nil {
		t.Fatalf("record: %v", err)
	}
	if st, _ := a.Validate(ctx, owner, model.ChangeAdd); st.UsedThisMonth != 1 {
		t.Errorf("used = %d, want 1", st.UsedThisMonth)
	}
}
