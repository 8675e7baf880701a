package behavior

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
)

// Config holds the behavior memory's fixed horizons and thresholds.
type Config struct {
	// OccurrenceWindow is the trailing window used when scoring a new event
	// against its predecessors.
	OccurrenceWindow time.Duration
	// ExpiryHorizonMonths is the fixed lifetime of every entry.
	ExpiryHorizonMonths int
	// TrendMateriality is the fractional rate change that separates
	// WORSENING/IMPROVING from STABLE.
	TrendMateriality float64
	// CyclicGapDays is the minimum quiet gap separating harassment cycles.
	CyclicGapDays float64
	// CyclicMinCycles is how many distinct cycles flag a cyclic pattern.
	CyclicMinCycles int
	// CoordinatedWindow bounds a coordinated-attack burst.
	CoordinatedWindow time.Duration
	// CoordinatedMinAttackers and CoordinatedMinEvents gate the detector.
	CoordinatedMinAttackers int
	CoordinatedMinEvents    int
	// BypassMinNearMisses is how many near-miss content flags suggest
	// deliberate policy probing.
	BypassMinNearMisses int
}

// DefaultConfig returns the production horizons.
func DefaultConfig() Config {
	return Config{
		OccurrenceWindow:        90 * 24 * time.Hour,
		ExpiryHorizonMonths:     36,
		TrendMateriality:        0.25,
		CyclicGapDays:           7,
		CyclicMinCycles:         3,
		CoordinatedWindow:       48 * time.Hour,
		CoordinatedMinAttackers: 3,
		CoordinatedMinEvents:    5,
		BypassMinNearMisses:     3,
	}
}

// Service implements behavior memory logic.
type Service struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a behavior memory service.
func NewService(cfg Config, store Store, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// LogEvent appends one immutable entry. Confidence grows with how often the
// same (user, type) has occurred in the trailing window and with how recent
// the previous occurrence was; the two bonuses combine additively and the
// result is capped at 1.0.
func (s *Service) LogEvent(ctx context.Context, userID string, eventType EventType, evidence detection.Evidence, counterpartID string, importance float64) (*LogEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if eventType == "" {
		return nil, ErrInvalidType
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	now := s.now().UTC()
	prior, err := s.store.ListByUserAndType(ctx, userID, eventType, now.Add(-s.cfg.OccurrenceWindow))
	if err != nil {
		return nil, err
	}

	occurrence := len(prior) + 1
	daysSincePrev := 0.0
	if len(prior) > 0 {
		last := prior[len(prior)-1].DetectedAt
		daysSincePrev = now.Sub(last).Hours() / 24
	}

	raw, err := detection.MarshalEvidence(evidence)
	if err != nil {
		raw = nil
	}

	entry := &LogEntry{
		ID:                idgen.WithPrefix("beh_"),
		UserID:            userID,
		Type:              eventType,
		DetectedAt:        now,
		Confidence:        eventConfidence(importance, occurrence, daysSincePrev, len(prior) > 0),
		Evidence:          raw,
		OccurrenceCount:   occurrence,
		DaysSincePrevious: daysSincePrev,
		CounterpartID:     counterpartID,
		ExpiresAt:         now.AddDate(0, s.cfg.ExpiryHorizonMonths, 0),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	metrics.BehaviorEventsTotal.WithLabelValues(string(eventType)).Inc()
	return entry, nil
}

// eventConfidence combines the caller-supplied importance with an
// occurrence bonus and a recency bonus, each independent, capped at 1.0.
func eventConfidence(importance float64, occurrence int, daysSincePrev float64, hasPrior bool) float64 {
	conf := importance

	bonus := 0.05 * float64(occurrence-1)
	if bonus > 0.3 {
		bonus = 0.3
	}
	conf += bonus

	if hasPrior {
		switch {
		case daysSincePrev <= 7:
			conf += 0.2
		case daysSincePrev <= 30:
			conf += 0.1
		}
	}

	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// DetectPatterns groups the user's live entries by type over the lookback
// window and summarizes frequency, cadence, and trend per group.
func (s *Service) DetectPatterns(ctx context.Context, userID string, lookbackMonths int) ([]Pattern, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if lookbackMonths <= 0 {
		lookbackMonths = 12
	}
	now := s.now().UTC()
	entries, err := s.store.ListByUser(ctx, userID, now.AddDate(0, -lookbackMonths, 0))
	if err != nil {
		return nil, err
	}

	groups := make(map[EventType][]*LogEntry)
	for _, e := range entries {
		if e.ExpiresAt.Before(now) {
			continue
		}
		groups[e.Type] = append(groups[e.Type], e)
	}

	var patterns []Pattern
	for t, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].DetectedAt.Before(group[j].DetectedAt)
		})
		patterns = append(patterns, s.summarize(t, group))
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Type < patterns[j].Type })
	return patterns, nil
}

func (s *Service) summarize(t EventType, group []*LogEntry) Pattern {
	p := Pattern{
		Type:           t,
		Frequency:      len(group),
		LastOccurrence: group[len(group)-1].DetectedAt,
		Trend:          TrendStable,
	}

	var confSum float64
	for _, e := range group {
		confSum += e.Confidence
	}
	p.Confidence = confSum / float64(len(group))

	if len(group) > 1 {
		span := group[len(group)-1].DetectedAt.Sub(group[0].DetectedAt).Hours() / 24
		p.AvgIntervalDays = span / float64(len(group)-1)
	}

	p.Trend = classifyTrend(group, s.cfg.TrendMateriality)
	return p
}

// classifyTrend compares the rate of the most recent ~3 events against the
// preceding ~3. A materially higher recent rate is WORSENING, materially
// lower IMPROVING, otherwise STABLE.
func classifyTrend(group []*LogEntry, materiality float64) Trend {
	if len(group) < 4 {
		return TrendStable
	}
	recent := group[len(group)-3:]
	priorEnd := len(group) - 3
	priorStart := priorEnd - 3
	if priorStart < 0 {
		priorStart = 0
	}
	prior := group[priorStart:priorEnd]
	if len(prior) < 2 {
		return TrendStable
	}

	recentRate := eventRate(recent)
	priorRate := eventRate(prior)
	if priorRate == 0 {
		return TrendStable
	}
	switch {
	case recentRate > priorRate*(1+materiality):
		return TrendWorsening
	case recentRate < priorRate*(1-materiality):
		return TrendImproving
	default:
		return TrendStable
	}
}

// eventRate is events per day across the slice's span.
func eventRate(entries []*LogEntry) float64 {
	if len(entries) < 2 {
		return 0
	}
	days := entries[len(entries)-1].DetectedAt.Sub(entries[0].DetectedAt).Hours() / 24
	if days <= 0 {
		days = 1.0 / 24 // clamp to one hour so same-day bursts read as fast
	}
	return float64(len(entries)-1) / days
}

// DetectCyclicHarassment flags repeat contact with the same counterpart
// separated by quiet gaps: the leave-and-return shape of cyclic harassment.
func (s *Service) DetectCyclicHarassment(ctx context.Context, userID string, lookbackMonths int) ([]CyclicPattern, error) {
	now := s.now().UTC()
	entries, err := s.store.ListByUser(ctx, userID, now.AddDate(0, -lookbackMonths, 0))
	if err != nil {
		return nil, err
	}

	byCounterpart := make(map[string][]*LogEntry)
	for _, e := range entries {
		if e.CounterpartID == "" {
			continue
		}
		byCounterpart[e.CounterpartID] = append(byCounterpart[e.CounterpartID], e)
	}

	var result []CyclicPattern
	for counterpart, group := range byCounterpart {
		sort.Slice(group, func(i, j int) bool {
			return group[i].DetectedAt.Before(group[j].DetectedAt)
		})
		cycles := 1
		lastGap := 0.0
		for i := 1; i < len(group); i++ {
			gap := group[i].DetectedAt.Sub(group[i-1].DetectedAt).Hours() / 24
			if gap >= s.cfg.CyclicGapDays {
				cycles++
				lastGap = gap
			}
		}
		if cycles >= s.cfg.CyclicMinCycles {
			result = append(result, CyclicPattern{
				CounterpartID: counterpart,
				Cycles:        cycles,
				LastGapDays:   lastGap,
				LastSeen:      group[len(group)-1].DetectedAt,
			})
		}
	}
	return result, nil
}

// DetectCoordinatedAttack reports whether many distinct actors generated
// events against one target within the short coordination window.
func (s *Service) DetectCoordinatedAttack(ctx context.Context, targetID string) (*CoordinatedAttack, error) {
	if targetID == "" {
		return nil, ErrInvalidUserID
	}
	now := s.now().UTC()
	since := now.Add(-s.cfg.CoordinatedWindow)
	entries, err := s.store.ListByCounterpart(ctx, targetID, since)
	if err != nil {
		return nil, err
	}

	attackers := make(map[string]bool)
	for _, e := range entries {
		attackers[e.UserID] = true
	}
	if len(attackers) < s.cfg.CoordinatedMinAttackers || len(entries) < s.cfg.CoordinatedMinEvents {
		return nil, nil
	}
	return &CoordinatedAttack{
		TargetID:      targetID,
		AttackerCount: len(attackers),
		EventCount:    len(entries),
		WindowStart:   since,
	}, nil
}

// DetectPolicyBypass reports whether the user keeps landing just under the
// content-policy line.
func (s *Service) DetectPolicyBypass(ctx context.Context, userID string, lookbackMonths int) (bool, int, error) {
	now := s.now().UTC()
	entries, err := s.store.ListByUserAndType(ctx, userID, EventContentNearMiss, now.AddDate(0, -lookbackMonths, 0))
	if err != nil {
		return false, 0, err
	}
	return len(entries) >= s.cfg.BypassMinNearMisses, len(entries), nil
}
