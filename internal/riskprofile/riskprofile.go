// Package riskprofile turns long-term behavior patterns into a per-user
// composite risk score, level, and armed enforcement triggers.
//
// Triggers are recomputed from scratch on every evaluation, so they can
// disarm when behavior improves. Level transitions are append-only history;
// the audit trail is the transition log, not the live level field.
package riskprofile

import (
	"context"
	"errors"
	"time"

	"github.com/lumen-social/trustcore/internal/behavior"
)

var (
	ErrNotFound      = errors.New("risk profile not found")
	ErrInvalidUserID = errors.New("invalid user id")
)

// Level is the five-point risk scale.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// MarshalJSON renders the level as its lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses a lowercase level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"none"`:
		*l = LevelNone
	case `"low"`:
		*l = LevelLow
	case `"medium"`:
		*l = LevelMedium
	case `"high"`:
		*l = LevelHigh
	case `"critical"`:
		*l = LevelCritical
	default:
		return errors.New("unknown risk level")
	}
	return nil
}

// Triggers are the five independently-armed automated actions. Recomputed
// on every evaluation; never latched.
type Triggers struct {
	ConsentRevalidation bool `json:"consentRevalidation"`
	HarassmentShield    bool `json:"harassmentShield"`
	ModeratorReview     bool `json:"moderatorReview"`
	ForcedVerification  bool `json:"forcedVerification"`
	AccountLockdown     bool `json:"accountLockdown"`
}

// Any reports whether at least one trigger is armed.
func (t Triggers) Any() bool {
	return t.ConsentRevalidation || t.HarassmentShield || t.ModeratorReview ||
		t.ForcedVerification || t.AccountLockdown
}

// Profile is the per-user risk assessment.
type Profile struct {
	UserID       string             `json:"userId"`
	Level        Level              `json:"level"`
	Score        float64            `json:"score"`
	Confidence   float64            `json:"confidence"`
	Patterns     []behavior.Pattern `json:"patterns"`
	Triggers     Triggers           `json:"triggers"`
	ReviewCaseID string             `json:"reviewCaseId,omitempty"`
	EvaluatedAt  time.Time          `json:"evaluatedAt"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// RecommendedActions names the actions implied by the armed triggers, in
// severity order.
func (p *Profile) RecommendedActions() []string {
	var actions []string
	if p.Triggers.AccountLockdown {
		actions = append(actions, "account_lockdown")
	}
	if p.Triggers.ForcedVerification {
		actions = append(actions, "forced_verification")
	}
	if p.Triggers.ModeratorReview {
		actions = append(actions, "moderator_review")
	}
	if p.Triggers.HarassmentShield {
		actions = append(actions, "harassment_shield")
	}
	if p.Triggers.ConsentRevalidation {
		actions = append(actions, "consent_revalidation")
	}
	return actions
}

// Transition is one level change, appended only when the level moved.
type Transition struct {
	From  Level     `json:"from"`
	To    Level     `json:"to"`
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

// Store persists risk profiles.
//
// SetReviewCaseID must set the case id only when none is stored yet and
// report whether it won; trigger execution relies on that to dedupe case
// creation across concurrent runs.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Save(ctx context.Context, profile *Profile) error
	AppendTransition(ctx context.Context, userID string, tr Transition) error
	ListTransitions(ctx context.Context, userID string) ([]Transition, error)
	SetReviewCaseID(ctx context.Context, userID, caseID string) (bool, error)
}
