package riskprofile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/behavior"
	"github.com/lumen-social/trustcore/internal/metrics"
)

// Account statuses understood by the enforcement sink.
const (
	StatusActive               = "active"
	StatusRestricted           = "restricted"
	StatusVerificationRequired = "verification_required"
)

// PatternSource supplies current behavior patterns for a user.
type PatternSource interface {
	DetectPatterns(ctx context.Context, userID string, lookbackMonths int) ([]behavior.Pattern, error)
}

// ConsentPauser pauses every active consent record a user holds.
type ConsentPauser interface {
	PauseAllActiveFor(ctx context.Context, userID, actor, reason string) (int, error)
}

// CaseOpener opens a moderation case and returns its id.
type CaseOpener interface {
	OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error)
}

// EnforcementSink reads and changes a user's account enforcement status.
type EnforcementSink interface {
	AccountStatus(ctx context.Context, userID string) (string, error)
	SetAccountStatus(ctx context.Context, userID, status string, reasonCodes []string) error
}

// Config holds the scoring weights and thresholds.
type Config struct {
	// BaseWeights score one pattern of each type before multipliers.
	BaseWeights map[behavior.EventType]float64
	// LookbackMonths is the pattern window used by Evaluate.
	LookbackMonths int
	// Level thresholds on the capped score.
	LowThreshold      float64
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64
	// RecentDays and StaleDays bound the recency multiplier bands.
	RecentDays float64
	StaleDays  float64
}

// DefaultConfig returns the production weights and thresholds.
func DefaultConfig() Config {
	return Config{
		BaseWeights: map[behavior.EventType]float64{
			behavior.EventHarassment:      20,
			behavior.EventSpam:            10,
			behavior.EventFraudAttempt:    25,
			behavior.EventBanEvasion:      30,
			behavior.EventImpersonation:   20,
			behavior.EventContentNearMiss: 10,
			behavior.EventPressure:        15,
		},
		LookbackMonths:    12,
		LowThreshold:      10,
		MediumThreshold:   25,
		HighThreshold:     50,
		CriticalThreshold: 75,
		RecentDays:        7,
		StaleDays:         30,
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

// Service evaluates risk profiles and executes their triggers.
type Service struct {
	cfg         Config
	store       Store
	patterns    PatternSource
	consent     ConsentPauser
	cases       CaseOpener
	enforcement EnforcementSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a risk profile service.
func NewService(cfg Config, store Store, patterns PatternSource, consent ConsentPauser, cases CaseOpener, enforcement EnforcementSink, logger *slog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		patterns:    patterns,
		consent:     consent,
		cases:       cases,
		enforcement: enforcement,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate recomputes the user's profile from current behavior patterns.
// A transition entry is appended only when the level actually moved.
func (s *Service) Evaluate(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	patterns, err := s.patterns.DetectPatterns(ctx, userID, s.cfg.LookbackMonths)
	if err != nil {
		return nil, fmt.Errorf("detect patterns: %w", err)
	}

	now := s.now().UTC()
	score := s.score(patterns, now)
	level := s.cfg.levelFor(score)

	prev, err := s.store.Get(ctx, userID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	profile := &Profile{
		UserID:      userID,
		Level:       level,
		Score:       score,
		Confidence:  avgConfidence(patterns),
		Patterns:    patterns,
		Triggers:    s.deriveTriggers(level, patterns),
		EvaluatedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	prevLevel := LevelNone
	if prev != nil {
		prevLevel = prev.Level
		profile.ReviewCaseID = prev.ReviewCaseID
		profile.CreatedAt = prev.CreatedAt
	}

	if err := s.store.Save(ctx, profile); err != nil {
		return nil, err
	}
	if level != prevLevel {
		tr := Transition{From: prevLevel, To: level, Score: score, At: now}
		if err := s.store.AppendTransition(ctx, userID, tr); err != nil {
			// History is the audit trail; a lost transition is worth surfacing.
			s.logger.Error("risk transition append failed", "user", userID, "error", err)
		}
	}

	metrics.ProfileEvaluationsTotal.WithLabelValues(level.String()).Inc()
	return profile, nil
}

func (s *Service) score(patterns []behavior.Pattern, now time.Time) float64 {
	total := 0.0
	for _, p := range patterns {
		base, ok := s.cfg.BaseWeights[p.Type]
		if !ok {
			continue
		}
		total += base * frequencyMultiplier(p.Frequency) * trendMultiplier(p.Trend) * s.recencyMultiplier(p.LastOccurrence, now)
	}
	if total > 100 {
		total = 100
	}
	return total
}

// frequencyMultiplier steps from 1.0 to 2.0 with occurrence count.
func frequencyMultiplier(freq int) float64 {
	switch {
	case freq >= 15:
		return 2.0
	case freq >= 10:
		return 1.75
	case freq >= 6:
		return 1.5
	case freq >= 3:
		return 1.25
	default:
		return 1.0
	}
}

func trendMultiplier(t behavior.Trend) float64 {
	switch t {
	case behavior.TrendWorsening:
		return 1.5
	case behavior.TrendImproving:
		return 0.7
	default:
		return 1.0
	}
}

func (s *Service) recencyMultiplier(last time.Time, now time.Time) float64 {
	days := now.Sub(last).Hours() / 24
	switch {
	case days <= s.cfg.RecentDays:
		return 1.3
	case days <= s.cfg.StaleDays:
		return 1.0
	default:
		return 0.8
	}
}

func avgConfidence(patterns []behavior.Pattern) float64 {
	if len(patterns) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range patterns {
		sum += p.Confidence
	}
	return sum / float64(len(patterns))
}

// deriveTriggers arms the five automated actions from which pattern types
// are present combined with the level. Lockdown arms on any evasion-type
// pattern regardless of level.
func (s *Service) deriveTriggers(level Level, patterns []behavior.Pattern) Triggers {
	var harassment, fraud, evasion bool
	for _, p := range patterns {
		switch {
		case p.Type == behavior.EventHarassment || p.Type == behavior.EventPressure:
			harassment = true
		case behavior.FraudTypes[p.Type]:
			fraud = true
		case behavior.EvasionTypes[p.Type]:
			evasion = true
		}
	}

	return Triggers{
		ConsentRevalidation: harassment && level >= LevelMedium,
		HarassmentShield:    harassment && level >= LevelHigh,
		ModeratorReview:     level >= LevelMedium,
		ForcedVerification:  fraud && level >= LevelHigh,
		AccountLockdown:     level >= LevelCritical || evasion,
	}
}

// casePriority maps a risk level onto the case queue's priority scale.
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

// ExecutionResult reports what ExecuteTriggers actually did.
type ExecutionResult struct {
	ConsentPaused        int    `json:"consentPaused"`
	CaseID               string `json:"caseId,omitempty"`
	LockdownApplied      bool   `json:"lockdownApplied"`
	VerificationRequired bool   `json:"verificationRequired"`
}

// ExecuteTriggers runs the armed triggers as independent idempotent
// operations. A second call with the same profile pauses nothing new,
// opens no second case, and skips an already-restricted account. Each
// trigger's failure is logged and the rest still run.
func (s *Service) ExecuteTriggers(ctx context.Context, userID string, profile *Profile) (*ExecutionResult, error) {
	if profile == nil {
		var err error
		profile, err = s.store.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	result := &ExecutionResult{CaseID: profile.ReviewCaseID}

	if profile.Triggers.ConsentRevalidation {
		paused, err := s.consent.PauseAllActiveFor(ctx, userID, "system", "risk_revalidation")
		if err != nil {
			s.logger.Error("consent revalidation failed", "user", userID, "error", err)
		} else {
			result.ConsentPaused = paused
			metrics.TriggerExecutionsTotal.WithLabelValues("consent_revalidation").Inc()
		}
	}

	if profile.Triggers.ModeratorReview && profile.ReviewCaseID == "" {
		caseID, err := s.cases.OpenCase(ctx, userID, "system",
			[]string{"risk_profile_" + profile.Level.String()}, casePriority(profile.Level), nil)
		if err != nil {
			s.logger.Error("review case creation failed", "user", userID, "error", err)
		} else {
			won, err := s.store.SetReviewCaseID(ctx, userID, caseID)
			if err != nil {
				s.logger.Error("review case id store failed", "user", userID, "error", err)
			}
			if won {
				result.CaseID = caseID
				profile.ReviewCaseID = caseID
				metrics.TriggerExecutionsTotal.WithLabelValues("moderator_review").Inc()
			}
		}
	}

	if profile.Triggers.ForcedVerification {
		if err := s.setStatusIf(ctx, userID, StatusActive, StatusVerificationRequired,
			[]string{"fraud_pattern"}); err != nil {
			s.logger.Error("forced verification failed", "user", userID, "error", err)
		} else {
			result.VerificationRequired = true
			metrics.TriggerExecutionsTotal.WithLabelValues("forced_verification").Inc()
		}
	}

	if profile.Triggers.AccountLockdown {
		status, err := s.enforcement.AccountStatus(ctx, userID)
		if err != nil {
			s.logger.Error("lockdown status read failed", "user", userID, "error", err)
		} else if status == StatusRestricted {
			result.LockdownApplied = true // already locked, nothing to do
		} else {
			if err := s.enforcement.SetAccountStatus(ctx, userID, StatusRestricted,
				[]string{"risk_lockdown"}); err != nil {
				s.logger.Error("lockdown failed", "user", userID, "error", err)
			} else {
				result.LockdownApplied = true
				metrics.TriggerExecutionsTotal.WithLabelValues("account_lockdown").Inc()
			}
		}
	}

	return result, nil
}

// setStatusIf transitions the account status only from an expected current
// status, so repeated runs and stronger statuses are left alone.
func (s *Service) setStatusIf(ctx context.Context, userID, from, to string, reasonCodes []string) error {
	status, err := s.enforcement.AccountStatus(ctx, userID)
	if err != nil {
		return err
	}
	if status != from {
		return nil
	}
	return s.enforcement.SetAccountStatus(ctx, userID, to, reasonCodes)
}

// Get returns the stored profile.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return s.store.Get(ctx, userID)
}

// Transitions returns the level transition history.
func (s *Service) Transitions(ctx context.Context, userID string) ([]Transition, error) {
	return s.store.ListTransitions(ctx, userID)
}
