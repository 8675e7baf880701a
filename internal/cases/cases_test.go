package cases

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(NewMemoryStore(), logger)
}

func TestOpenCase(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.OpenCase(ctx, "alice", "bob", []string{"harassment"}, PriorityHigh, []string{"sig_1"})
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}
	if !strings.HasPrefix(id, "case_") {
		t.Errorf("Expected case_ prefix, got %s", id)
	}

	got, err := svc.GetCase(ctx, id)
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if got.Status != StatusOpen {
		t.Errorf("Expected open status, got %s", got.Status)
	}
	if got.Subject != "alice" || got.Reporter != "bob" {
		t.Errorf("Unexpected parties: %s / %s", got.Subject, got.Reporter)
	}
	if len(got.EvidenceRefs) != 1 || got.EvidenceRefs[0] != "sig_1" {
		t.Errorf("Expected evidence refs preserved, got %v", got.EvidenceRefs)
	}
}

func TestOpenCase_Defaults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.OpenCase(ctx, "alice", "", []string{"risk_review"}, "", nil)
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}
	got, _ := svc.GetCase(ctx, id)
	if got.Reporter != "system" {
		t.Errorf("Expected system reporter default, got %s", got.Reporter)
	}
	if got.Priority != PriorityNormal {
		t.Errorf("Expected normal priority default, got %s", got.Priority)
	}
}

func TestOpenCase_RequiresSubject(t *testing.T) {
	svc := newTestService()
	if _, err := svc.OpenCase(context.Background(), "", "bob", nil, "", nil); err != ErrInvalidSubject {
		t.Errorf("Expected ErrInvalidSubject, got %v", err)
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	svc.OpenCase(ctx, "u1", "system", nil, PriorityLow, nil)
	svc.OpenCase(ctx, "u2", "system", nil, PriorityUrgent, nil)
	svc.OpenCase(ctx, "u3", "system", nil, PriorityNormal, nil)
	svc.OpenCase(ctx, "u4", "system", nil, PriorityUrgent, nil)

	queue, err := svc.Queue(ctx, 10)
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(queue) != 4 {
		t.Fatalf("Expected 4 open cases, got %d", len(queue))
	}
	// Urgent cases first, oldest urgent before newer urgent.
	if queue[0].Subject != "u2" || queue[1].Subject != "u4" {
		t.Errorf("Expected urgent cases u2,u4 first, got %s,%s", queue[0].Subject, queue[1].Subject)
	}
	if queue[2].Subject != "u3" || queue[3].Subject != "u1" {
		t.Errorf("Expected u3 then u1, got %s,%s", queue[2].Subject, queue[3].Subject)
	}
}

func TestCloseCase(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, _ := svc.OpenCase(ctx, "alice", "system", []string{"risk_review"}, PriorityHigh, nil)

	closed, err := svc.CloseCase(ctx, id, "mod_7", "warning_issued")
	if err != nil {
		t.Fatalf("CloseCase failed: %v", err)
	}
	if closed.Status != StatusClosed || closed.Outcome != "warning_issued" || closed.ClosedBy != "mod_7" {
		t.Errorf("Unexpected closed case: %+v", closed)
	}
	if closed.ClosedAt == nil {
		t.Error("Expected ClosedAt set")
	}

	// Double close conflicts.
	if _, err := svc.CloseCase(ctx, id, "mod_7", "again"); err != ErrAlreadyClosed {
		t.Errorf("Expected ErrAlreadyClosed, got %v", err)
	}

	// Closed cases leave the queue.
	queue, _ := svc.Queue(ctx, 10)
	if len(queue) != 0 {
		t.Errorf("Expected empty queue, got %d", len(queue))
	}
}

func TestHistory(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	svc.OpenCase(ctx, "alice", "system", nil, "", nil)
	id2, _ := svc.OpenCase(ctx, "alice", "system", nil, "", nil)
	svc.OpenCase(ctx, "bob", "system", nil, "", nil)
	svc.CloseCase(ctx, id2, "mod_1", "no_action")

	history, err := svc.History(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 cases for alice, got %d", len(history))
	}
	// Newest first, closed cases included.
	if history[0].ID != id2 {
		t.Errorf("Expected newest case first, got %s", history[0].ID)
	}
}
