// Package behavior implements the long-term per-user behavior memory.
//
// Every detected event is appended as an immutable, time-bounded log entry
// (fixed expiry horizon from creation). Pattern detection groups the live
// entries per event type and derives frequency, cadence, and trend; higher
// level detectors (cyclic harassment, coordinated attack, policy bypass)
// are built on the same log.
package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lumen-social/trustcore/internal/pagination"
)

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidType   = errors.New("invalid event type")
)

// EventType classifies a logged behavior event.
type EventType string

const (
	EventHarassment      EventType = "harassment"
	EventSpam            EventType = "spam"
	EventFraudAttempt    EventType = "fraud_attempt"
	EventBanEvasion      EventType = "ban_evasion"
	EventImpersonation   EventType = "impersonation"
	EventContentNearMiss EventType = "content_near_miss"
	EventPressure        EventType = "pressure"
)

// FraudTypes are the event types the risk profile treats as fraud-like.
var FraudTypes = map[EventType]bool{
	EventFraudAttempt:  true,
	EventImpersonation: true,
}

// EvasionTypes are the event types treated as enforcement evasion.
var EvasionTypes = map[EventType]bool{
	EventBanEvasion: true,
}

// LogEntry is one immutable behavior observation. Never mutated after
// creation; removed only by the expiry sweep.
type LogEntry struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	Type              EventType       `json:"type"`
	DetectedAt        time.Time       `json:"detectedAt"`
	Confidence        float64         `json:"confidence"`
	Evidence          json.RawMessage `json:"evidence,omitempty"`
	OccurrenceCount   int             `json:"occurrenceCount"`
	DaysSincePrevious float64         `json:"daysSincePrevious"`
	CounterpartID     string          `json:"counterpartId,omitempty"`
	ExpiresAt         time.Time       `json:"expiresAt"`
}

// Trend classifies how a pattern is developing.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// Pattern is a per-type summary over the lookback window.
type Pattern struct {
	Type            EventType `json:"type"`
	Frequency       int       `json:"frequency"`
	AvgIntervalDays float64   `json:"avgIntervalDays"`
	Trend           Trend     `json:"trend"`
	LastOccurrence  time.Time `json:"lastOccurrence"`
	Confidence      float64   `json:"confidence"`
}

// CyclicPattern reports repeat contact with the same counterpart after gaps.
type CyclicPattern struct {
	CounterpartID string    `json:"counterpartId"`
	Cycles        int       `json:"cycles"`
	LastGapDays   float64   `json:"lastGapDays"`
	LastSeen      time.Time `json:"lastSeen"`
}

// CoordinatedAttack reports many distinct actors hitting one target in a
// short window.
type CoordinatedAttack struct {
	TargetID      string    `json:"targetId"`
	AttackerCount int       `json:"attackerCount"`
	EventCount    int       `json:"eventCount"`
	WindowStart   time.Time `json:"windowStart"`
}

// Store persists behavior log entries. Append-only aside from expiry.
type Store interface {
	Append(ctx context.Context, entry *LogEntry) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]*LogEntry, error)
	ListByUserAndType(ctx context.Context, userID string, t EventType, since time.Time) ([]*LogEntry, error)
	ListByCounterpart(ctx context.Context, counterpartID string, since time.Time) ([]*LogEntry, error)
	// ListExpired returns one page of entries past their expiry, after the
	// cursor position, oldest first.
	ListExpired(ctx context.Context, before time.Time, cursor *pagination.Cursor, limit int) ([]*LogEntry, error)
	Delete(ctx context.Context, id string) error
	// ListActiveUsers returns users with at least one live entry since the
	// given time, for the periodic risk re-evaluation sweep.
	ListActiveUsers(ctx context.Context, since time.Time, limit int) ([]string, error)
}
