package consent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), slog.Default())
}

func TestPairKeyCanonical(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Fatalf("pair key must be order-independent: %s vs %s",
			PairKey("alice", "bob"), PairKey("bob", "alice"))
	}
	if PairKey("alice", "bob") == PairKey("alice", "carol") {
		t.Fatal("distinct pairs must have distinct keys")
	}
}

func TestInitializeIdempotent(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	first, err := s.Initialize(ctx, "alice", "bob", "alice", "chat")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if first.State != StatePending {
		t.Fatalf("expected pending, got %s", first.State)
	}

	second, err := s.Initialize(ctx, "bob", "alice", "bob", "chat")
	if err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("re-initializing a live pair must return the existing record")
	}
}

func TestInitializeRejectsBadInput(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.Initialize(ctx, "", "bob", "a", "chat"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := s.Initialize(ctx, "alice", "alice", "alice", "chat"); !errors.Is(err, ErrSamePair) {
		t.Fatalf("expected ErrSamePair, got %v", err)
	}
}

func TestRequestActiveLazyInit(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	rec, err := s.RequestActive(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("request active: %v", err)
	}
	if rec.State != StateActive {
		t.Fatalf("expected active_consent, got %s", rec.State)
	}
	if !rec.Capabilities.Message || !rec.Capabilities.Call {
		t.Fatal("active consent must grant capabilities")
	}
	// history: init marker + pending→active
	if len(rec.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(rec.History))
	}
}

func TestCapabilitiesAreFunctionOfState(t *testing.T) {
	for _, state := range []State{StatePending, StatePaused, StateRevoked} {
		caps := capabilitiesFor(state)
		if caps != (Capabilities{}) {
			t.Errorf("state %s must grant no capabilities, got %+v", state, caps)
		}
	}
	active := capabilitiesFor(StateActive)
	if !active.Message || !active.Media || !active.Call || !active.Location || !active.EventInvite {
		t.Errorf("active consent must grant all capabilities, got %+v", active)
	}
}

func TestPauseAndResume(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	rec, err := s.Pause(ctx, "alice", "bob", "system", "risk_revalidation")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if rec.State != StatePaused || rec.Capabilities.Message {
		t.Fatalf("pause must suspend capabilities: %+v", rec)
	}

	// Pausing again is a no-op, not an error.
	again, err := s.Pause(ctx, "alice", "bob", "system", "risk_revalidation")
	if err != nil {
		t.Fatalf("double pause: %v", err)
	}
	if len(again.History) != len(rec.History) {
		t.Fatal("double pause must not append history")
	}

	resumed, err := s.Resume(ctx, "alice", "bob", "alice")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.State != StateActive {
		t.Fatalf("expected active after resume, got %s", resumed.State)
	}
}

func TestResumeRevokedFailsWithoutMutation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Revoke(ctx, "alice", "bob", "alice", "no_contact"); err != nil {
		t.Fatal(err)
	}

	_, err := s.Resume(ctx, "alice", "bob", "bob")
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked (precondition), got %v", err)
	}

	rec, err := s.Get(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != StateRevoked {
		t.Fatalf("failed resume must not mutate state, got %s", rec.State)
	}
}

func TestResumeMissingRecordIsNotFound(t *testing.T) {
	s := newTestService()
	_, err := s.Resume(context.Background(), "alice", "bob", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeDrainsPendingRefunds(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	for _, tx := range []string{"tx1", "tx2", "tx3"} {
		if err := s.TrackPendingTransaction(ctx, "alice", "bob", tx); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkDelivered(ctx, "alice", "bob", "tx2"); err != nil {
		t.Fatal(err)
	}

	rec, refunds, err := s.Revoke(ctx, "alice", "bob", "alice", "harassment")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.State != StateRevoked {
		t.Fatalf("expected revoked, got %s", rec.State)
	}
	if len(refunds) != 2 {
		t.Fatalf("expected 2 refunds (tx2 was delivered), got %v", refunds)
	}
}

func TestCheckDispatch(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// No record: explicit deny result, not an error.
	res, err := s.Check(ctx, "alice", "bob", CapMessage)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.RequiredAction != "initialize_consent" {
		t.Fatalf("no-record check: %+v", res)
	}

	if _, err := s.Initialize(ctx, "alice", "bob", "alice", "chat"); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Check(ctx, "alice", "bob", CapMessage)
	if res.Allowed || res.RequiredAction != "await_consent_grant" {
		t.Fatalf("pending check: %+v", res)
	}

	if _, err := s.Grant(ctx, "alice", "bob", "bob"); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Check(ctx, "bob", "alice", CapCall)
	if !res.Allowed {
		t.Fatalf("active check should allow call: %+v", res)
	}

	if _, err := s.Pause(ctx, "alice", "bob", "system", "review"); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Check(ctx, "alice", "bob", CapMessage)
	if res.Allowed || res.RequiredAction != "request_resume" {
		t.Fatalf("paused check: %+v", res)
	}

	if _, _, err := s.Revoke(ctx, "alice", "bob", "alice", "done"); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Check(ctx, "alice", "bob", CapMessage)
	if res.Allowed || res.RequiredAction != "" {
		t.Fatalf("revoked check must be a hard deny with no hint: %+v", res)
	}
}

func TestCheckUnknownCapability(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Check(ctx, "alice", "bob", "teleport"); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestBatchCheck(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	results, err := s.BatchCheck(ctx, "alice", []string{"bob", "carol"}, CapMessage)
	if err != nil {
		t.Fatal(err)
	}
	if !results["bob"].Allowed {
		t.Fatal("expected bob allowed")
	}
	if results["carol"].Allowed {
		t.Fatal("expected carol denied (no record)")
	}
}

func TestReinitializeAfterRevocation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.RequestActive(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Revoke(ctx, "alice", "bob", "alice", "no_contact"); err != nil {
		t.Fatal(err)
	}

	fresh, err := s.Initialize(ctx, "bob", "alice", "bob", "chat")
	if err != nil {
		t.Fatalf("re-initialize after revocation: %v", err)
	}
	if fresh.State != StatePending {
		t.Fatalf("expected fresh pending record, got %s", fresh.State)
	}
	if len(fresh.History) != 1 || fresh.History[0].Reason != ReasonReinitialized {
		t.Fatalf("fresh record must carry the reinitialization marker: %+v", fresh.History)
	}
}

func TestPauseAllActiveForIsIdempotent(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for _, other := range []string{"bob", "carol", "dave"} {
		if _, err := s.RequestActive(ctx, "alice", other); err != nil {
			t.Fatal(err)
		}
	}

	paused, err := s.PauseAllActiveFor(ctx, "alice", "risk_engine", "consent_revalidation")
	if err != nil {
		t.Fatal(err)
	}
	if paused != 3 {
		t.Fatalf("expected 3 pauses, got %d", paused)
	}

	// Second sweep finds nothing active.
	paused, err = s.PauseAllActiveFor(ctx, "alice", "risk_engine", "consent_revalidation")
	if err != nil {
		t.Fatal(err)
	}
	if paused != 0 {
		t.Fatalf("second sweep must pause nothing, paused %d", paused)
	}
}
