package shield

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/syncutil"
	"github.com/lumen-social/trustcore/internal/traces"
)

// Config holds the shield's fixed thresholds and severity weight table,
// injected at construction so tests can run alternate policies.
type Config struct {
	LowThreshold      float64
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64
	Weights           map[detection.SignalType]float64
}

// DefaultConfig returns the production thresholds and weights.
func DefaultConfig() Config {
	weights := make(map[detection.SignalType]float64, len(severityWeights))
	for k, v := range severityWeights {
		weights[k] = v
	}
	return Config{
		LowThreshold:      ThresholdLow,
		MediumThreshold:   ThresholdMedium,
		HighThreshold:     ThresholdHigh,
		CriticalThreshold: ThresholdCritical,
		Weights:           weights,
	}
}

func (c Config) levelFor(score float64) Level {
	switch {
	case score >= c.CriticalThreshold:
		return LevelCritical
	case score >= c.HighThreshold:
		return LevelHigh
	case score >= c.MediumThreshold:
		return LevelMedium
	case score >= c.LowThreshold:
		return LevelLow
	default:
		return LevelNone
	}
}

func (c Config) weightedScore(signals []RecordedSignal) float64 {
	var score float64
	for _, sig := range signals {
		score += c.Weights[sig.Type] * sig.Confidence
	}
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// ConsentRevoker revokes consent for a pair. Declared here so shield does
// not import the consent package directly.
type ConsentRevoker interface {
	RevokeConsent(ctx context.Context, a, b, actor, reason string) error
}

// CaseOpener opens a moderation case and returns its id.
type CaseOpener interface {
	OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error)
}

// Publisher streams shield events to live moderator feeds. Best-effort.
type Publisher interface {
	PublishShieldEvent(protectedUserID, counterpartID string, level string, action string)
}

// Service implements the harassment shield logic.
type Service struct {
	cfg       Config
	store     Store
	consent   ConsentRevoker
	cases     CaseOpener
	publisher Publisher
	logger    *slog.Logger
	locks     syncutil.ShardedMutex
	now       func() time.Time
}

// NewService creates a shield service.
func NewService(cfg Config, store Store, consent ConsentRevoker, cases CaseOpener, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		consent: consent,
		cases:   cases,
		logger:  logger,
		now:     time.Now,
	}
}

// WithPublisher attaches a live event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

func toRecorded(signals []detection.Signal, now time.Time) []RecordedSignal {
	out := make([]RecordedSignal, 0, len(signals))
	for _, sig := range signals {
		raw, err := detection.MarshalEvidence(sig.Evidence)
		if err != nil {
			raw = nil
		}
		at := sig.DetectedAt
		if at.IsZero() {
			at = now
		}
		out = append(out, RecordedSignal{
			Type:       sig.Type,
			Confidence: sig.Confidence,
			Evidence:   raw,
			DetectedAt: at,
		})
	}
	return out
}

// stepActions returns one named audit action per upgrade step from→to, and
// whether the steps cross into hard-block territory (HIGH or above).
func stepActions(from, to Level, reason string, at time.Time) ([]ActionEntry, bool) {
	var actions []ActionEntry
	crossesHigh := false
	for lvl := from + 1; lvl <= to; lvl++ {
		var name string
		switch lvl {
		case LevelLow:
			name = "slow_mode_enabled"
		case LevelMedium:
			name = "reply_only_enabled"
		case LevelHigh:
			name = "hard_block_enabled"
			crossesHigh = true
		case LevelCritical:
			// CRITICAL is logged distinctly even when it coincides with the
			// HIGH hard-block in the same escalation.
			name = "critical_escalation"
			crossesHigh = crossesHigh || from < LevelHigh
		}
		actions = append(actions, ActionEntry{Action: name, Level: lvl, Reason: reason, At: at})
	}
	return actions, crossesHigh
}

// Activate processes detection signals for a pair: it creates the shield
// record on first signal, or escalates the existing one. The level never
// decreases.
func (s *Service) Activate(ctx context.Context, protected, counterpart string, signals []detection.Signal) (*State, error) {
	if protected == "" || counterpart == "" {
		return nil, ErrInvalidUserID
	}
	if len(signals) == 0 {
		return nil, ErrNoSignals
	}

	key := Key(protected, counterpart)
	ctx, span := traces.StartSpan(ctx, "shield.activate", traces.PairKey(key))
	defer span.End()

	unlock := s.locks.Lock(key)
	defer unlock()

	now := s.now().UTC()
	recorded := toRecorded(signals, now)

	existing, err := s.store.Get(ctx, key)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing != nil && existing.Active() {
		return s.escalate(ctx, existing, recorded, now)
	}
	// No record, or only a resolved one: a resolved shield stays in the
	// history but new signals open a fresh record.
	return s.create(ctx, protected, counterpart, key, recorded, now)
}

func (s *Service) create(ctx context.Context, protected, counterpart, key string, recorded []RecordedSignal, now time.Time) (*State, error) {
	score := s.cfg.weightedScore(recorded)
	level := s.cfg.levelFor(score)
	actions, crossesHigh := stepActions(LevelNone, level, "initial_activation", now)

	st := &State{
		ID:              idgen.WithPrefix("shield_"),
		Key:             key,
		ProtectedUserID: protected,
		CounterpartID:   counterpart,
		Level:           level,
		RiskScore:       score,
		Signals:         recorded,
		Modes:           modesFor(level),
		Actions:         actions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, st); err != nil {
		return nil, err
	}
	metrics.ShieldActivationsTotal.WithLabelValues(level.String()).Inc()
	s.logger.Info("harassment shield activated",
		"protected", protected, "counterpart", counterpart,
		"level", level.String(), "score", score)

	if crossesHigh {
		s.hardBlockEffects(ctx, st, now)
	}
	s.publish(st, "activated")
	return st, nil
}

func (s *Service) escalate(ctx context.Context, rec *State, recorded []RecordedSignal, now time.Time) (*State, error) {
	union := append(append([]RecordedSignal{}, rec.Signals...), recorded...)
	newScore := s.cfg.weightedScore(union)

	if err := s.store.AppendSignals(ctx, rec.Key, recorded, newScore); err != nil {
		return nil, err
	}
	rec.Signals = union
	if newScore > rec.RiskScore {
		rec.RiskScore = newScore
	}
	rec.UpdatedAt = now

	newLevel := s.cfg.levelFor(newScore)
	if newLevel <= rec.Level {
		// Score may wobble but the level only moves up.
		return rec, nil
	}

	actions, crossesHigh := stepActions(rec.Level, newLevel, "signal_escalation", now)
	if err := s.store.ApplyEscalation(ctx, rec.Key, rec.Level, newLevel, modesFor(newLevel), actions, rec.CaseID); err != nil {
		return nil, err
	}
	from := rec.Level
	rec.Level = newLevel
	rec.Modes = modesFor(newLevel)
	rec.Actions = append(rec.Actions, actions...)

	metrics.ShieldEscalationsTotal.WithLabelValues(from.String(), newLevel.String()).Inc()
	s.logger.Info("harassment shield escalated",
		"protected", rec.ProtectedUserID, "counterpart", rec.CounterpartID,
		"from", from.String(), "to", newLevel.String(), "score", newScore)

	if crossesHigh {
		s.hardBlockEffects(ctx, rec, now)
	}
	s.publish(rec, "escalated")
	return rec, nil
}

// casePriority maps a shield level onto the case queue's priority scale.
// Level names are not valid priorities, so passing them through would
// have every case land at the queue's default.
func casePriority(l Level) string {
	switch l {
	case LevelCritical:
		return "urgent"
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "normal"
	default:
		return "low"
	}
}

// hardBlockEffects revokes consent and opens a moderation case when a
// shield reaches HIGH or above. The case is opened at most once per record.
func (s *Service) hardBlockEffects(ctx context.Context, rec *State, now time.Time) {
	if err := s.consent.RevokeConsent(ctx, rec.ProtectedUserID, rec.CounterpartID,
		"harassment_shield", "shield_hard_block"); err != nil {
		s.logger.Error("shield consent revocation failed",
			"protected", rec.ProtectedUserID, "counterpart", rec.CounterpartID, "error", err)
	} else {
		s.appendAction(ctx, rec, ActionEntry{
			Action: "consent_revoked", Level: rec.Level, Reason: "shield_hard_block", At: now,
		})
	}

	if rec.CaseID != "" {
		return
	}
	reasonCodes := make([]string, 0, len(rec.Signals))
	seen := map[detection.SignalType]bool{}
	for _, sig := range rec.Signals {
		if !seen[sig.Type] {
			seen[sig.Type] = true
			reasonCodes = append(reasonCodes, string(sig.Type))
		}
	}
	caseID, err := s.cases.OpenCase(ctx,
		"harassment: "+rec.CounterpartID+" against "+rec.ProtectedUserID,
		"harassment_shield", reasonCodes, casePriority(rec.Level), []string{rec.ID})
	if err != nil {
		s.logger.Error("shield case creation failed", "shield", rec.ID, "error", err)
		return
	}
	rec.CaseID = caseID
	if err := s.store.ApplyEscalation(ctx, rec.Key, rec.Level, rec.Level, rec.Modes,
		[]ActionEntry{{Action: "case_opened", Level: rec.Level, Reason: caseID, At: now}}, caseID); err != nil {
		s.logger.Error("persist shield case id failed", "shield", rec.ID, "error", err)
		return
	}
	rec.Actions = append(rec.Actions, ActionEntry{Action: "case_opened", Level: rec.Level, Reason: caseID, At: now})
}

func (s *Service) appendAction(ctx context.Context, rec *State, entry ActionEntry) {
	if err := s.store.ApplyEscalation(ctx, rec.Key, rec.Level, rec.Level, rec.Modes,
		[]ActionEntry{entry}, rec.CaseID); err != nil {
		s.logger.Error("append shield action failed", "shield", rec.ID, "error", err)
		return
	}
	rec.Actions = append(rec.Actions, entry)
}

func (s *Service) publish(rec *State, action string) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishShieldEvent(rec.ProtectedUserID, rec.CounterpartID, rec.Level.String(), action)
}

// Resolve deactivates an active shield. It stamps the resolution and leaves
// level and mode flags untouched so the record reads as history.
func (s *Service) Resolve(ctx context.Context, protected, counterpart, actor, reason string) (*State, error) {
	key := Key(protected, counterpart)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return nil, ErrResolved
	}
	now := s.now().UTC()
	if err := s.store.Resolve(ctx, key, now, actor, reason); err != nil {
		return nil, err
	}
	rec.ResolvedAt = &now
	rec.ResolvedBy = actor
	rec.ResolutionReason = reason
	rec.Actions = append(rec.Actions, ActionEntry{Action: "shield_resolved", Level: rec.Level, Reason: reason, At: now})

	metrics.ShieldResolutionsTotal.Inc()
	s.logger.Info("harassment shield resolved",
		"protected", protected, "counterpart", counterpart, "actor", actor)
	return rec, nil
}

// GetActive returns the pair's shield if one is active, or nil.
func (s *Service) GetActive(ctx context.Context, protected, counterpart string) (*State, error) {
	rec, err := s.store.Get(ctx, Key(protected, counterpart))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.Active() {
		return nil, nil
	}
	return rec, nil
}

// ListActiveForUser returns every active shield protecting the user.
func (s *Service) ListActiveForUser(ctx context.Context, protected string) ([]*State, error) {
	return s.store.ListActiveForUser(ctx, protected)
}
