package store

import (
	"context"
	"testing"

	"github.com/dukerupert/hotspot/internal/model"
)

func TestRewardSeededCatalogue(t *testing.T) {
	rs := NewRewardStore(setupTestDB(t))

	rewards, err := rs.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(rewards) != 4 {
		t.Fatalf("rewards = %d, want 4", len(rewards))
	}
	// Cheapest first.
	for i := 1; i < len(rewards); i++ {
		if rewards[i].PointCost < rewards[i-1].PointCost {
			t.Errorf("rewards not ordered by cost: %d before %d", rewards[i-1].PointCost, rewards[i].PointCost)
		}
	}
}

func TestRewardCreateAndDeactivate(t *testing.T) {
	rs := NewRewardStore(setupTestDB(t))
	ctx := context.Background()

	r, err := rs.Create(ctx, model.Reward{
		Title: "Night pass", PointCost: 400, Effect: model.EffectTime, Minutes: 480, Active: true,
	})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	if r.Effect != model.EffectTime {
		t.Errorf("effect = %q, want %q", r.Effect, model.EffectTime)
	}
	if r.Minutes != 480 {
		t.Errorf("minutes = %d, want 480", r.Minutes)
	}

	if err := rs.SetActive(ctx, r.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := rs.GetByID(ctx, r.ID)
	if got.Active {
		t.Error("expected inactive reward")
	}

	missing, err := rs.GetByID(ctx, 9999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing reward")
	}
}
