// Package enforcement is the account-status ledger. It records the
// enforcement state of each account (active, restricted, verification
// required) and the history of every transition with its reason codes.
package enforcement

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidStatus = errors.New("invalid account status")
	ErrInvalidUserID = errors.New("user id is required")
)

// Account statuses.
const (
	StatusActive               = "active"
	StatusRestricted           = "restricted"
	StatusVerificationRequired = "verification_required"
)

var validStatuses = map[string]bool{
	StatusActive:               true,
	StatusRestricted:           true,
	StatusVerificationRequired: true,
}

// Record is a user's current enforcement state.
type Record struct {
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	ReasonCodes []string  `json:"reasonCodes,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Change is one entry in a user's enforcement history.
type Change struct {
	UserID      string    `json:"userId"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ReasonCodes []string  `json:"reasonCodes,omitempty"`
	ChangedAt   time.Time `json:"changedAt"`
}

// Store persists enforcement records and their history.
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	AppendChange(ctx context.Context, ch *Change) error
	ListChanges(ctx context.Context, userID string, limit int) ([]*Change, error)
}

// ErrNotFound means no enforcement record exists yet; callers treat
// missing records as active accounts.
var ErrNotFound = errors.New("enforcement record not found")
