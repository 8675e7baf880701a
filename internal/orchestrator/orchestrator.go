// Package orchestrator is the synchronous go/no-go decision point called
// before a risky interaction (message, call, location share).
//
// Up to seven independent signal gatherers fan out concurrently; each one
// catches its own errors and timeouts and reports "no signal" instead of
// failing the assessment. Absence of data is never treated as risk. The
// join aggregates present signals into one score, picks one action from a
// fixed decision table, and executes at most one side effect.
package orchestrator

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("assessment not found")
	ErrInvalidUserID = errors.New("invalid user id")
)

// Domain names one of the seven independent signal sources.
type Domain string

const (
	DomainTrustScore   Domain = "trust_score"
	DomainEnforcement  Domain = "enforcement_status"
	DomainContent      Domain = "content_violations"
	DomainRelationship Domain = "relationship_behavior"
	DomainFraud        Domain = "fraud_history"
	DomainConsent      Domain = "consent_violations"
	DomainRegional     Domain = "regional_policy"
)

// behaviorDomains are the domains whose presence upgrades a high score
// into a shield activation instead of a review queue entry.
var behaviorDomains = map[Domain]bool{
	DomainRelationship: true,
	DomainConsent:      true,
}

// SignalLevel grades one provider's concern.
type SignalLevel string

const (
	SignalLow      SignalLevel = "low"
	SignalMedium   SignalLevel = "medium"
	SignalHigh     SignalLevel = "high"
	SignalCritical SignalLevel = "critical"
)

// ProviderSignal is one gatherer's answer. Present false means the domain
// has nothing to say; Level and Confidence are then ignored.
type ProviderSignal struct {
	Present    bool        `json:"present"`
	Level      SignalLevel `json:"level,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Details    string      `json:"details,omitempty"`
}

// AssessRequest describes the interaction being gated.
type AssessRequest struct {
	UserID        string `json:"userId"`
	CounterpartID string `json:"counterpartId,omitempty"`
	Context       string `json:"context"`
	Region        string `json:"region,omitempty"`
}

// Interaction contexts. Call and location sharing are the high-stakes
// contexts that demand consent reconfirmation at elevated risk.
const (
	ContextMessage     = "message"
	ContextCall        = "call"
	ContextLocation    = "location_share"
	ContextEventInvite = "event_invite"
)

func isHighStakesContext(c string) bool {
	return c == ContextCall || c == ContextLocation
}

// SignalProvider gathers one domain's signal. Implementations should honor
// the context deadline; the orchestrator abandons a gatherer that overruns
// its per-gatherer timeout either way.
type SignalProvider interface {
	Domain() Domain
	Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error)
}

// Action is the single decision an assessment produces.
type Action string

const (
	ActionNoAction       Action = "NO_ACTION"
	ActionSoftWarning    Action = "SOFT_SAFETY_WARNING"
	ActionConsentRecheck Action = "CONSENT_RECONFIRM"
	ActionQueueReview    Action = "QUEUE_FOR_REVIEW"
	ActionEnableShield   Action = "ENABLE_HARASSMENT_SHIELD"
	ActionLockdown       Action = "IMMEDIATE_LOCKDOWN"
)

// GatheredSignal is one provider's outcome as recorded on the assessment,
// including whether the gatherer failed or timed out (both read as absent).
type GatheredSignal struct {
	Domain     Domain      `json:"domain"`
	Present    bool        `json:"present"`
	Level      SignalLevel `json:"level,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Details    string      `json:"details,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
	TimedOut   bool        `json:"timedOut,omitempty"`
}

// Assessment is one persisted orchestrator decision.
type Assessment struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	CounterpartID string           `json:"counterpartId,omitempty"`
	Context       string           `json:"context"`
	Score         float64          `json:"score"`
	Action        Action           `json:"action"`
	Signals       []GatheredSignal `json:"signals"`
	SideEffect    string           `json:"sideEffect,omitempty"`
	Notified      bool             `json:"notified"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Store persists assessments.
type Store interface {
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error)
}
