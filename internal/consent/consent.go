// Package consent implements the per-pair consent ledger.
//
// Every pair of users that has ever been in contact has exactly one live
// consent record, keyed by the canonical (sorted) pair of user ids. The
// record is a small state machine:
//
//	PENDING → ACTIVE_CONSENT → PAUSED → ACTIVE_CONSENT ...
//	any non-terminal state → REVOKED (terminal)
//
// Capabilities (message, media, call, location, event invite) are always a
// pure function of the current state and are recomputed inside the single
// transition choke point and never written anywhere else.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("consent record not found")
	ErrRevoked         = errors.New("consent has been revoked")
	ErrInvalidState    = errors.New("invalid consent state for this operation")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrSamePair        = errors.New("a user cannot hold consent with themselves")
	ErrStateConflict   = errors.New("consent state changed concurrently")
	ErrUnknownCapability = errors.New("unknown capability")
)

// State represents the consent relationship state for a pair.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active_consent"
	StatePaused  State = "paused"
	StateRevoked State = "revoked"
)

// Capability names accepted by Check.
const (
	CapMessage     = "message"
	CapMedia       = "media"
	CapCall        = "call"
	CapLocation    = "location"
	CapEventInvite = "event_invite"
)

// Capabilities is the set of interaction rights a pair currently holds.
type Capabilities struct {
	Message     bool `json:"message"`
	Media       bool `json:"media"`
	Call        bool `json:"call"`
	Location    bool `json:"location"`
	EventInvite bool `json:"eventInvite"`
}

// capabilitiesFor derives the capability matrix from state. Only an active
// consent grants anything; everything else is fully locked down.
func capabilitiesFor(s State) Capabilities {
	if s == StateActive {
		return Capabilities{Message: true, Media: true, Call: true, Location: true, EventInvite: true}
	}
	return Capabilities{}
}

// allows reports whether the matrix grants the named capability.
func (c Capabilities) allows(capability string) (bool, error) {
	switch capability {
	case CapMessage:
		return c.Message, nil
	case CapMedia:
		return c.Media, nil
	case CapCall:
		return c.Call, nil
	case CapLocation:
		return c.Location, nil
	case CapEventInvite:
		return c.EventInvite, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
}

// HistoryEntry records one state transition for the audit trail.
type HistoryEntry struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Record is the durable consent ledger entry for one pair.
type Record struct {
	ID             string         `json:"id"`
	PairKey        string         `json:"pairKey"`
	UserA          string         `json:"userA"` // lexicographically smaller id
	UserB          string         `json:"userB"`
	State          State          `json:"state"`
	Capabilities   Capabilities   `json:"capabilities"`
	InitiatedBy    string         `json:"initiatedBy"`
	Source         string         `json:"source"`
	History        []HistoryEntry `json:"history"`
	PendingRefunds []string       `json:"pendingRefunds"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// IsTerminal returns true once the record can no longer transition.
func (r *Record) IsTerminal() bool {
	return r.State == StateRevoked
}

// PairKey returns the canonical order-independent key for two user ids, so
// (a,b) and (b,a) resolve to the same record.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// sortPair returns the two ids in canonical order.
func sortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// CheckResult is the outcome of a consent check for one capability.
type CheckResult struct {
	Allowed        bool   `json:"allowed"`
	State          State  `json:"state,omitempty"`
	Reason         string `json:"reason"`
	RequiredAction string `json:"requiredAction,omitempty"`
}

// Store persists consent records.
//
// SetState is a conditional single-statement update (state moves from→to and
// the history entry is appended atomically); callers retry or fail on
// ErrStateConflict. Refund-set mutations are order-independent so two
// near-simultaneous writers to the same pair cannot drop each other's update.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, pairKey string) (*Record, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Record, error)
	SetState(ctx context.Context, pairKey string, from, to State, caps Capabilities, entry HistoryEntry) error
	AddPendingRefund(ctx context.Context, pairKey, txID string) error
	RemovePendingRefund(ctx context.Context, pairKey, txID string) error
	DrainPendingRefunds(ctx context.Context, pairKey string) ([]string, error)
}
