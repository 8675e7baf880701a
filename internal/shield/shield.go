// Package shield implements the per-pair harassment protection engine.
//
// A shield record exists per ordered (protected user, counterpart) pair and
// only ever escalates: NONE < LOW < MEDIUM < HIGH < CRITICAL. Automated
// processing never lowers the level; the only way out is an explicit
// moderator resolve, which deactivates the record without rewinding it.
package shield

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
)

var (
	ErrNotFound      = errors.New("shield record not found")
	ErrNoSignals     = errors.New("at least one detection signal is required")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrResolved      = errors.New("shield record already resolved")
	ErrLevelConflict = errors.New("shield level changed concurrently")
)

// Level is the escalation severity.
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

// MarshalJSON emits the level name rather than the ordinal.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = LevelFromString(s)
	return nil
}

// LevelFromString parses a level name; unknown names map to NONE.
func LevelFromString(s string) Level {
	switch s {
	case "low":
		return LevelLow
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelNone
	}
}

// Score thresholds mapping aggregate risk score to level.
const (
	ThresholdLow      = 10.0
	ThresholdMedium   = 25.0
	ThresholdHigh     = 50.0
	ThresholdCritical = 75.0
	MaxScore          = 100.0
)

// severityWeights are the fixed per-signal-type weights. Each signal
// instance contributes weight × confidence to the pair's aggregate score.
var severityWeights = map[detection.SignalType]float64{
	detection.SignalSpamBurst:       15,
	detection.SignalRepeatedContact: 20,
	detection.SignalPressure:        30,
	detection.SignalImpersonation:   35,
	detection.SignalBlockEvasion:    40,
	detection.SignalTraumaPhrase:    50,
}

// SeverityWeight returns the fixed weight for a signal type.
func SeverityWeight(t detection.SignalType) float64 {
	return severityWeights[t]
}

// levelForScore maps an aggregate score to a shield level.
func levelForScore(score float64) Level {
	switch {
	case score >= ThresholdCritical:
		return LevelCritical
	case score >= ThresholdHigh:
		return LevelHigh
	case score >= ThresholdMedium:
		return LevelMedium
	case score >= ThresholdLow:
		return LevelLow
	default:
		return LevelNone
	}
}

// Modes are the protection mode flags, a pure function of level.
type Modes struct {
	SlowMode  bool `json:"slowMode"`
	ReplyOnly bool `json:"replyOnly"`
	HardBlock bool `json:"hardBlock"`
}

func modesFor(level Level) Modes {
	switch level {
	case LevelLow:
		return Modes{SlowMode: true}
	case LevelMedium:
		return Modes{ReplyOnly: true}
	case LevelHigh, LevelCritical:
		return Modes{HardBlock: true}
	default:
		return Modes{}
	}
}

// RecordedSignal is a signal as stored on the shield record, with the
// evidence kept in its tagged wire form.
type RecordedSignal struct {
	Type       detection.SignalType `json:"type"`
	Confidence float64              `json:"confidence"`
	Evidence   json.RawMessage      `json:"evidence,omitempty"`
	DetectedAt time.Time            `json:"detectedAt"`
}

// ActionEntry is one line of the shield's audit trail.
type ActionEntry struct {
	Action string    `json:"action"`
	Level  Level     `json:"level"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// State is the durable shield record for one ordered pair.
type State struct {
	ID               string           `json:"id"`
	Key              string           `json:"key"`
	ProtectedUserID  string           `json:"protectedUserId"`
	CounterpartID    string           `json:"counterpartId"`
	Level            Level            `json:"level"`
	RiskScore        float64          `json:"riskScore"`
	Signals          []RecordedSignal `json:"signals"`
	Modes            Modes            `json:"modes"`
	CaseID           string           `json:"caseId,omitempty"`
	Actions          []ActionEntry    `json:"actions"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy       string           `json:"resolvedBy,omitempty"`
	ResolutionReason string           `json:"resolutionReason,omitempty"`
}

// Active reports whether the shield still applies for decision purposes.
func (s *State) Active() bool {
	return s.ResolvedAt == nil
}

// Key returns the ordered (not canonicalized) pair key: protection is
// directional: A shielded from B says nothing about B shielded from A.
func Key(protected, counterpart string) string {
	return protected + ":" + counterpart
}

// Store persists shield records.
//
// AppendSignals and ApplyEscalation are separate, order-independent
// mutations: signal appends from two concurrent writers both land, and the
// escalation update is conditional on the from-level so a stale writer
// cannot downgrade a record.
type Store interface {
	Create(ctx context.Context, st *State) error
	Get(ctx context.Context, key string) (*State, error)
	AppendSignals(ctx context.Context, key string, signals []RecordedSignal, newScore float64) error
	ApplyEscalation(ctx context.Context, key string, from, to Level, modes Modes, actions []ActionEntry, caseID string) error
	Resolve(ctx context.Context, key string, at time.Time, actor, reason string) error
	ListActiveForUser(ctx context.Context, protectedUserID string) ([]*State, error)
}
