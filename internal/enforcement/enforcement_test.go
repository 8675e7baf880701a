package enforcement

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(NewMemoryStore(), logger)
}

func TestAccountStatus_DefaultsActive(t *testing.T) {
	svc := newTestService()

	status, err := svc.AccountStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("AccountStatus failed: %v", err)
	}
	if status != StatusActive {
		t.Errorf("Expected active for unknown user, got %s", status)
	}
}

func TestSetAccountStatus(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	err := svc.SetAccountStatus(ctx, "alice", StatusRestricted, []string{"account_lockdown"})
	if err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}

	status, _ := svc.AccountStatus(ctx, "alice")
	if status != StatusRestricted {
		t.Errorf("Expected restricted, got %s", status)
	}

	history, _ := svc.History(ctx, "alice", 10)
	if len(history) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(history))
	}
	if history[0].From != StatusActive || history[0].To != StatusRestricted {
		t.Errorf("Unexpected transition %s -> %s", history[0].From, history[0].To)
	}
	if len(history[0].ReasonCodes) != 1 || history[0].ReasonCodes[0] != "account_lockdown" {
		t.Errorf("Expected reason codes preserved, got %v", history[0].ReasonCodes)
	}
}

func TestSetAccountStatus_SameStatusNoOp(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	svc.SetAccountStatus(ctx, "alice", StatusVerificationRequired, []string{"forced_verification"})
	svc.SetAccountStatus(ctx, "alice", StatusVerificationRequired, []string{"forced_verification"})

	history, _ := svc.History(ctx, "alice", 10)
	if len(history) != 1 {
		t.Errorf("Expected 1 change after repeated set, got %d", len(history))
	}
}

func TestSetAccountStatus_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if err := svc.SetAccountStatus(ctx, "alice", "banned", nil); err != ErrInvalidStatus {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
	if err := svc.SetAccountStatus(ctx, "", StatusRestricted, nil); err != ErrInvalidUserID {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	svc.SetAccountStatus(ctx, "alice", StatusVerificationRequired, nil)
	svc.SetAccountStatus(ctx, "alice", StatusRestricted, nil)
	svc.SetAccountStatus(ctx, "alice", StatusActive, nil)

	history, _ := svc.History(ctx, "alice", 10)
	if len(history) != 3 {
		t.Fatalf("Expected 3 changes, got %d", len(history))
	}
	if history[0].To != StatusActive || history[2].To != StatusVerificationRequired {
		t.Errorf("Expected newest first ordering, got %s ... %s", history[0].To, history[2].To)
	}
}
