// Package confidence implements the self-tuning detector confidence model.
//
// One Rule exists per detector signal type, created lazily on first
// moderator feedback. Feedback accumulates untouched until a type has
// enough unapplied samples, then a batch application folds the labels
// into the rule's counters and nudges the current confidence toward the
// observed precision. Per-item application never happens; small samples
// would make the confidence oscillate.
package confidence

import (
	"context"
	"errors"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/pagination"
)

var (
	ErrNotFound     = errors.New("confidence rule not found")
	ErrInvalidLabel = errors.New("invalid feedback label")
	ErrInvalidType  = errors.New("invalid signal type")
)

// Label is a moderator verdict on one flagged detection.
type Label string

const (
	LabelTruePositive  Label = "true_positive"
	LabelFalsePositive Label = "false_positive"
	LabelFalseNegative Label = "false_negative"
	LabelTrueNegative  Label = "true_negative"
)

// ValidLabels enumerates the accepted moderator verdicts.
var ValidLabels = map[Label]bool{
	LabelTruePositive:  true,
	LabelFalsePositive: true,
	LabelFalseNegative: true,
	LabelTrueNegative:  true,
}

// Rule is the per-signal-type trust record. CurrentConfidence stays within
// [MinConfidence, MaxConfidence]; the counters and derived scores change
// only through batch application.
type Rule struct {
	Type              detection.SignalType `json:"type"`
	BaseConfidence    float64              `json:"baseConfidence"`
	CurrentConfidence float64              `json:"currentConfidence"`
	TruePositives     int                  `json:"truePositives"`
	FalsePositives    int                  `json:"falsePositives"`
	FalseNegatives    int                  `json:"falseNegatives"`
	TrueNegatives     int                  `json:"trueNegatives"`
	Precision         float64              `json:"precision"`
	Recall            float64              `json:"recall"`
	F1                float64              `json:"f1"`
	FeedbackCount     int                  `json:"feedbackCount"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// Feedback is one moderator decision awaiting batch application. Applied
// flips exactly once; an applied record never feeds a rule again.
type Feedback struct {
	ID          string               `json:"id"`
	SignalType  detection.SignalType `json:"signalType"`
	Label       Label                `json:"label"`
	CaseID      string               `json:"caseId,omitempty"`
	ModeratorID string               `json:"moderatorId,omitempty"`
	Notes       string               `json:"notes,omitempty"`
	Applied     bool                 `json:"applied"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// Store persists confidence rules and feedback.
//
// MarkApplied must flip only records whose Applied flag is still false and
// return the ids it actually flipped; the service tallies counters from the
// returned set so a concurrent or repeated sweep cannot double-count.
type Store interface {
	GetRule(ctx context.Context, t detection.SignalType) (*Rule, error)
	SaveRule(ctx context.Context, rule *Rule) error
	ListRules(ctx context.Context) ([]*Rule, error)

	AddFeedback(ctx context.Context, fb *Feedback) error
	CountUnapplied(ctx context.Context, t detection.SignalType) (int, error)
	ListUnapplied(ctx context.Context, t detection.SignalType, cursor *pagination.Cursor, limit int) ([]*Feedback, error)
	MarkApplied(ctx context.Context, ids []string) ([]string, error)
}
