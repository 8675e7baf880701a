package consent

import (
	"context"
	"testing"
	"time"

	"github.com/lumen-social/trustcore/internal/testutil"
)

func TestPostgresStore_CreateGetSetState(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := &Record{
		ID:          "cons_pg1",
		PairKey:     PairKey("alice", "bob"),
		UserA:       "alice",
		UserB:       "bob",
		State:       StatePending,
		InitiatedBy: "alice",
		Source:      "follow",
		History: []HistoryEntry{
			{From: "", To: StatePending, Actor: "alice", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, rec.PairKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != StatePending {
		t.Errorf("expected pending state, got %s", got.State)
	}
	if got.UserA != "alice" || got.UserB != "bob" {
		t.Errorf("unexpected pair: %s / %s", got.UserA, got.UserB)
	}
	if len(got.History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(got.History))
	}

	entry := HistoryEntry{From: StatePending, To: StateActive, Actor: "bob", At: now.Add(time.Minute)}
	if err := store.SetState(ctx, rec.PairKey, StatePending, StateActive, capabilitiesFor(StateActive), entry); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	got, err = store.Get(ctx, rec.PairKey)
	if err != nil {
		t.Fatalf("Get after SetState failed: %v", err)
	}
	if got.State != StateActive {
		t.Errorf("expected active state, got %s", got.State)
	}
	if !got.Capabilities.Message {
		t.Error("expected message capability after grant")
	}
	if len(got.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(got.History))
	}
}

func TestPostgresStore_PendingRefunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &Record{
		ID:          "cons_pg2",
		PairKey:     PairKey("carol", "dan"),
		UserA:       "carol",
		UserB:       "dan",
		State:       StateActive,
		InitiatedBy: "carol",
		Source:      "follow",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.AddPendingRefund(ctx, rec.PairKey, "tx_1"); err != nil {
		t.Fatalf("AddPendingRefund failed: %v", err)
	}
	if err := store.AddPendingRefund(ctx, rec.PairKey, "tx_2"); err != nil {
		t.Fatalf("AddPendingRefund failed: %v", err)
	}
	// Re-adding the same transaction must be a no-op, not an error.
	if err := store.AddPendingRefund(ctx, rec.PairKey, "tx_1"); err != nil {
		t.Fatalf("duplicate AddPendingRefund failed: %v", err)
	}
	if err := store.RemovePendingRefund(ctx, rec.PairKey, "tx_1"); err != nil {
		t.Fatalf("RemovePendingRefund failed: %v", err)
	}

	drained, err := store.DrainPendingRefunds(ctx, rec.PairKey)
	if err != nil {
		t.Fatalf("DrainPendingRefunds failed: %v", err)
	}
	if len(drained) != 1 || drained[0] != "tx_2" {
		t.Errorf("expected [tx_2], got %v", drained)
	}

	drained, err = store.DrainPendingRefunds(ctx, rec.PairKey)
	if err != nil {
		t.Fatalf("second DrainPendingRefunds failed: %v", err)
	}
	if len(drained) != 0 {
		t.Errorf("expected empty drain, got %v", drained)
	}
}
