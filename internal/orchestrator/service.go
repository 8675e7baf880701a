package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lumen-social/trustcore/internal/circuitbreaker"
	"github.com/lumen-social/trustcore/internal/consent"
	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/shield"
	"github.com/lumen-social/trustcore/internal/traces"
)

// ShieldActivator activates a harassment shield for a pair.
type ShieldActivator interface {
	Activate(ctx context.Context, protected, counterpart string, signals []detection.Signal) (*shield.State, error)
}

// ConsentPauser pauses one pair's consent record pending re-grant.
type ConsentPauser interface {
	Pause(ctx context.Context, a, b, actor, reason string) (*consent.Record, error)
}

// CaseOpener opens a moderation case and returns its id.
type CaseOpener interface {
	OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error)
}

// EnforcementSink forces an account status change.
type EnforcementSink interface {
	AccountStatus(ctx context.Context, userID string) (string, error)
	SetAccountStatus(ctx context.Context, userID, status string, reasonCodes []string) error
}

// Notifier delivers one user-facing safety notification.
type Notifier interface {
	Notify(ctx context.Context, userID, category, title, body, priority string) error
}

// Publisher streams assessments and lockdowns to live moderator feeds.
// Best-effort.
type Publisher interface {
	PublishAssessment(userID, counterpartID string, score float64, action string)
	PublishLockdown(userID string, reasonCodes []string)
}

// Config holds the aggregation weights and decision thresholds.
type Config struct {
	// GathererTimeout bounds each provider individually.
	GathererTimeout time.Duration
	// SeverityWeights score one present signal before its confidence.
	SeverityWeights map[SignalLevel]float64
	// Decision thresholds on the aggregate score.
	LockdownThreshold  float64
	ReviewThreshold    float64
	ReconfirmThreshold float64
	WarnThreshold      float64
	// Circuit breaker tuning for flaky providers.
	BreakerThreshold    int
	BreakerOpenDuration time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		GathererTimeout: 750 * time.Millisecond,
		SeverityWeights: map[SignalLevel]float64{
			SignalLow:      5,
			SignalMedium:   10,
			SignalHigh:     20,
			SignalCritical: 30,
		},
		LockdownThreshold:   90,
		ReviewThreshold:     70,
		ReconfirmThreshold:  40,
		WarnThreshold:       20,
		BreakerThreshold:    5,
		BreakerOpenDuration: 30 * time.Second,
	}
}

// Service runs assessments.
type Service struct {
	cfg         Config
	store       Store
	providers   []SignalProvider
	breaker     *circuitbreaker.Breaker
	shield      ShieldActivator
	consent     ConsentPauser
	cases       CaseOpener
	enforcement EnforcementSink
	notifier    Notifier
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates the orchestrator. Side-effect collaborators may be
// nil in reduced deployments; their effects are then skipped with a log
// line instead of failing the assessment.
func NewService(cfg Config, store Store, providers []SignalProvider, shieldSvc ShieldActivator, consentSvc ConsentPauser, cases CaseOpener, enforcement EnforcementSink, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		providers:   providers,
		breaker:     circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenDuration),
		shield:      shieldSvc,
		consent:     consentSvc,
		cases:       cases,
		enforcement: enforcement,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// WithPublisher attaches a live event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Assess fans out to every provider, aggregates, decides, executes the
// decided side effect, and persists the assessment. A provider failure or
// timeout degrades the assessment; it never aborts it.
func (s *Service) Assess(ctx context.Context, req AssessRequest) (*Assessment, error) {
	if req.UserID == "" {
		return nil, ErrInvalidUserID
	}
	if req.Context == "" {
		req.Context = ContextMessage
	}

	ctx, span := traces.StartSpan(ctx, "orchestrator.assess",
		attribute.String("risk.context", req.Context))
	defer span.End()

	signals := s.gather(ctx, req)
	score := s.aggregate(signals)
	action := s.decide(score, req.Context, signals)

	assessment := &Assessment{
		ID:            idgen.WithPrefix("assess_"),
		UserID:        req.UserID,
		CounterpartID: req.CounterpartID,
		Context:       req.Context,
		Score:         score,
		Action:        action,
		Signals:       signals,
		CreatedAt:     s.now().UTC(),
	}

	assessment.SideEffect = s.execute(ctx, req, action, signals)
	if score >= s.cfg.ReconfirmThreshold {
		assessment.Notified = s.notify(ctx, req.UserID, action, score)
	}

	if err := s.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save assessment: %w", err)
	}

	metrics.AssessmentsTotal.WithLabelValues(string(action)).Inc()
	if s.publisher != nil {
		s.publisher.PublishAssessment(req.UserID, req.CounterpartID, score, string(action))
		if action == ActionLockdown {
			s.publisher.PublishLockdown(req.UserID, []string{"orchestrated_lockdown"})
		}
	}
	span.SetAttributes(attribute.Float64("risk.score", score),
		attribute.String("risk.action", string(action)))
	return assessment, nil
}

// gather fans out one goroutine per provider and joins on a channel. Each
// gatherer runs under its own timeout and circuit breaker, with panics
// contained to the gathering goroutine.
func (s *Service) gather(ctx context.Context, req AssessRequest) []GatheredSignal {
	results := make(chan GatheredSignal, len(s.providers))
	for _, p := range s.providers {
		go func(p SignalProvider) {
			results <- s.gatherOne(ctx, p, req)
		}(p)
	}

	signals := make([]GatheredSignal, 0, len(s.providers))
	for range s.providers {
		signals = append(signals, <-results)
	}
	return signals
}

var errGathererPanic = errors.New("gatherer panicked")

func (s *Service) gatherOne(ctx context.Context, p SignalProvider, req AssessRequest) GatheredSignal {
	domain := p.Domain()
	out := GatheredSignal{Domain: domain}

	if !s.breaker.Allow(string(domain)) {
		metrics.GathererSkipsTotal.WithLabelValues(string(domain)).Inc()
		out.Failed = true
		return out
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GathererTimeout)
	defer cancel()
	gctx, span := traces.StartSpan(gctx, "orchestrator.gather."+string(domain))
	defer span.End()

	type gatherResult struct {
		sig ProviderSignal
		err error
	}
	// Buffered so an abandoned provider can still deliver and exit.
	done := make(chan gatherResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("signal gatherer panicked", "domain", domain, "panic", r)
				done <- gatherResult{err: errGathererPanic}
			}
		}()
		sig, err := p.Gather(gctx, req)
		done <- gatherResult{sig: sig, err: err}
	}()

	var res gatherResult
	select {
	case res = <-done:
	case <-gctx.Done():
		// Provider ignored its deadline: abandon it so one slow gatherer
		// cannot stall the whole assessment.
		res = gatherResult{err: gctx.Err()}
	}

	if res.err != nil {
		s.breaker.RecordFailure(string(domain))
		metrics.GathererFailuresTotal.WithLabelValues(string(domain)).Inc()
		switch {
		case errors.Is(res.err, context.DeadlineExceeded):
			out.TimedOut = true
		case errors.Is(res.err, errGathererPanic):
			out.Failed = true
		default:
			s.logger.Warn("signal gatherer failed", "domain", domain, "error", res.err)
			out.Failed = true
		}
		return out
	}

	s.breaker.RecordSuccess(string(domain))
	out.Present = res.sig.Present
	out.Level = res.sig.Level
	out.Confidence = res.sig.Confidence
	out.Details = res.sig.Details
	return out
}

func (s *Service) aggregate(signals []GatheredSignal) float64 {
	total := 0.0
	for _, sig := range signals {
		if !sig.Present {
			continue
		}
		total += s.cfg.SeverityWeights[sig.Level] * sig.Confidence
	}
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return total
}

// decide walks the decision table in descending priority.
func (s *Service) decide(score float64, actionContext string, signals []GatheredSignal) Action {
	hasBehaviorSignal := false
	for _, sig := range signals {
		if sig.Present && behaviorDomains[sig.Domain] {
			hasBehaviorSignal = true
			break
		}
	}

	switch {
	case score >= s.cfg.LockdownThreshold:
		return ActionLockdown
	case score >= s.cfg.ReviewThreshold && hasBehaviorSignal:
		return ActionEnableShield
	case score >= s.cfg.ReviewThreshold:
		return ActionQueueReview
	case score >= s.cfg.ReconfirmThreshold && isHighStakesContext(actionContext):
		return ActionConsentRecheck
	case score >= s.cfg.WarnThreshold:
		return ActionSoftWarning
	default:
		return ActionNoAction
	}
}

// execute runs the one side effect the action implies. Side effects are
// best-effort: a failure is logged and the assessment still completes.
func (s *Service) execute(ctx context.Context, req AssessRequest, action Action, signals []GatheredSignal) string {
	switch action {
	case ActionLockdown:
		return s.executeLockdown(ctx, req)
	case ActionEnableShield:
		return s.executeShield(ctx, req, signals)
	case ActionConsentRecheck:
		return s.executeConsentPause(ctx, req)
	case ActionQueueReview:
		return s.executeReviewCase(ctx, req)
	default:
		return ""
	}
}

func (s *Service) executeLockdown(ctx context.Context, req AssessRequest) string {
	if s.cases == nil || s.enforcement == nil {
		s.logger.Warn("lockdown skipped, no enforcement wired", "user", req.UserID)
		return ""
	}
	caseID, err := s.cases.OpenCase(ctx, req.UserID, "system",
		[]string{"orchestrated_lockdown"}, "critical", nil)
	if err != nil {
		s.logger.Error("lockdown case creation failed", "user", req.UserID, "error", err)
	}
	if err := s.enforcement.SetAccountStatus(ctx, req.UserID, "restricted",
		[]string{"orchestrated_lockdown"}); err != nil {
		s.logger.Error("lockdown enforcement failed", "user", req.UserID, "error", err)
		return ""
	}
	if caseID != "" {
		return "lockdown:" + caseID
	}
	return "lockdown"
}

// executeShield maps the present behavior/consent signals onto detector
// signal types so the shield's weighted scoring applies.
func (s *Service) executeShield(ctx context.Context, req AssessRequest, signals []GatheredSignal) string {
	if s.shield == nil || req.CounterpartID == "" {
		return ""
	}
	var detected []detection.Signal
	now := s.now().UTC()
	for _, sig := range signals {
		if !sig.Present {
			continue
		}
		switch sig.Domain {
		case DomainRelationship:
			detected = append(detected, detection.Signal{
				Type: detection.SignalRepeatedContact, Confidence: sig.Confidence, DetectedAt: now,
			})
		case DomainConsent:
			detected = append(detected, detection.Signal{
				Type: detection.SignalBlockEvasion, Confidence: sig.Confidence, DetectedAt: now,
			})
		}
	}
	if len(detected) == 0 {
		return ""
	}
	// The counterpart is the one being shielded from the assessed user.
	if _, err := s.shield.Activate(ctx, req.CounterpartID, req.UserID, detected); err != nil {
		s.logger.Error("shield activation failed", "user", req.UserID, "error", err)
		return ""
	}
	return "shield_activated"
}

func (s *Service) executeConsentPause(ctx context.Context, req AssessRequest) string {
	if s.consent == nil || req.CounterpartID == "" {
		return ""
	}
	if _, err := s.consent.Pause(ctx, req.UserID, req.CounterpartID, "system",
		"risk_reconfirmation"); err != nil {
		s.logger.Error("consent pause failed", "user", req.UserID, "error", err)
		return ""
	}
	return "consent_paused"
}

func (s *Service) executeReviewCase(ctx context.Context, req AssessRequest) string {
	if s.cases == nil {
		return ""
	}
	caseID, err := s.cases.OpenCase(ctx, req.UserID, "system",
		[]string{"orchestrated_review"}, "high", nil)
	if err != nil {
		s.logger.Error("review case creation failed", "user", req.UserID, "error", err)
		return ""
	}
	return "case:" + caseID
}

func (s *Service) notify(ctx context.Context, userID string, action Action, score float64) bool {
	if s.notifier == nil {
		return false
	}
	priority := "normal"
	if action == ActionLockdown || action == ActionEnableShield {
		priority = "high"
	}
	err := s.notifier.Notify(ctx, userID, "safety",
		"Safety check on your recent activity",
		fmt.Sprintf("A safety review was triggered (action: %s).", action),
		priority)
	if err != nil {
		s.logger.Error("safety notification failed", "user", userID, "error", err)
		return false
	}
	return true
}

// Get returns a stored assessment.
func (s *Service) Get(ctx context.Context, id string) (*Assessment, error) {
	return s.store.GetAssessment(ctx, id)
}

// ListByUser returns a user's recent assessments.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
