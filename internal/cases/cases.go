// Package cases is the moderation case sink. Shield escalations, risk
// triggers, and orchestrator decisions open cases here; moderators work
// the queue and close cases with an outcome.
package cases

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("case not found")
	ErrAlreadyClosed  = errors.New("case already closed")
	ErrInvalidSubject = errors.New("subject user id is required")
)

// Case statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Case priorities, highest first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Case is one moderation work item about a subject user.
type Case struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Reporter     string     `json:"reporter"`
	ReasonCodes  []string   `json:"reasonCodes"`
	Priority     string     `json:"priority"`
	EvidenceRefs []string   `json:"evidenceRefs,omitempty"`
	Status       string     `json:"status"`
	Outcome      string     `json:"outcome,omitempty"`
	ClosedBy     string     `json:"closedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
}

// Store persists moderation cases.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, id string) (*Case, error)
	Update(ctx context.Context, c *Case) error
	ListOpen(ctx context.Context, limit int) ([]*Case, error)
	ListBySubject(ctx context.Context, subject string, limit int) ([]*Case, error)
}

// priorityRank orders the queue, lowest rank served first.
func priorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}
