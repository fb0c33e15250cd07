package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

func TestQuotaSaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	qs := NewQuotaStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")

	got, err := qs.Get(ctx, ownerID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil before any change")
	}

	reset := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if err := qs.Save(ctx, model.ChangeQuotaRecord{OwnerID: ownerID, ChangesThisMonth: 1, LastResetAt: reset}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := qs.Save(ctx, model.ChangeQuotaRecord{OwnerID: ownerID, ChangesThisMonth: 2, LastResetAt: reset}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err = qs.Get(ctx, ownerID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChangesThisMonth != 2 {
		t.Errorf("changes = %d, want 2", got.ChangesThisMonth)
	}
	if !got.LastResetAt.Equal(reset) {
		t.Errorf("last_reset_at = %v, want %v", got.LastResetAt, reset)
	}
}

func TestStatsSummary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	userID := createTestUser(t, db, "a@example.com")
	now := time.Now()

	NewSessionStore(db).Create(ctx, userID, model.StepSuccess, model.EngagementVideo, now.Add(time.Hour))
	NewLedgerStore(db).Commit(ctx, model.LedgerBatch{
		UserID: userID,
		Entries: []model.LedgerEntry{
			{Source: model.SourceEngagementVideo, TimeDelta: 30, PointsDelta: 10},
			{Source: model.SourceRewardRedemption, PointsDelta: -5},
		},
	})

	st, err := NewStatsStore(db).Summary(ctx, now)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if st.Users != 1 {
		t.Errorf("users = %d, want 1", st.Users)
	}
	if st.ActiveSessions != 1 || st.SessionsByStep["success"] != 1 {
		t.Errorf("sessions = %d %v, want 1 in success", st.ActiveSessions, st.SessionsByStep)
	}
	if st.MinutesGranted["engagement-video"] != 30 {
		t.Errorf("minutes granted = %v, want 30 for engagement-video", st.MinutesGranted)
	}
	if st.PointsSpent != 5 {
		t.Errorf("points spent = %d, want 5", st.PointsSpent)
	}
}

func TestQuotaChargeStartsOverNextMonth(t *testing.T) {
	db := setupTestDB(t)
	qs := NewQuotaStore(db)
	ctx := context.Background()
	ownerID := createTestUser(t, db, "owner@example.com")

	march := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if err := qs.Save(ctx, model.ChangeQuotaRecord{OwnerID: ownerID, ChangesThisMonth: 3, LastResetAt: march}); err != nil {
		t.Fatalf("save: %v", err)
	}

	err := qs.Charge(ctx, model.QuotaCharge{OwnerID: ownerID, Change: model.ChangeAdd, Max: 3, Now: march.AddDate(0, 0, 1)})
	if !errors.Is(err, model.ErrQuotaExceeded) {
		t.Fatalf("march err = %v, want ErrQuotaExceeded", err)
	}

	april := time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC)
	if err := qs.Charge(ctx, model.QuotaCharge{OwnerID: ownerID, Change: model.ChangeAdd, Max: 3, Now: april}); err != nil {
		t.Fatalf("april charge: %v", err)
	}
	got, _ := qs.Get(ctx, ownerID)
	if got.ChangesThisMonth != 1 || !got.LastResetAt.Equal(april) {
		t.Errorf("quota = %+v, want 1 change reset at %v", got, april)
	}
}
