package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lumen-social/trustcore/internal/consent"
	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/shield"
)

type stubProvider struct {
	domain Domain
	signal ProviderSignal
	err    error
	block  bool
	stall  bool
	panics bool
}

func (p *stubProvider) Domain() Domain { return p.domain }

func (p *stubProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	if p.panics {
		panic("gatherer blew up")
	}
	if p.block {
		<-ctx.Done()
		return ProviderSignal{}, ctx.Err()
	}
	if p.stall {
		// Ignores the context on purpose.
		time.Sleep(2 * time.Second)
	}
	return p.signal, p.err
}

func present(d Domain, level SignalLevel, conf float64) *stubProvider {
	return &stubProvider{domain: d, signal: ProviderSignal{Present: true, Level: level, Confidence: conf}}
}

func silent(d Domain) *stubProvider {
	return &stubProvider{domain: d}
}

type stubShield struct {
	calls   int
	signals []detection.Signal
}

func (s *stubShield) Activate(ctx context.Context, protected, counterpart string, signals []detection.Signal) (*shield.State, error) {
	s.calls++
	s.signals = signals
	return &shield.State{}, nil
}

type stubConsent struct {
	pauses int
}

func (s *stubConsent) Pause(ctx context.Context, a, b, actor, reason string) (*consent.Record, error) {
	s.pauses++
	return &consent.Record{}, nil
}

type stubCases struct {
	opened int
}

func (s *stubCases) OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error) {
	s.opened++
	return "case_1", nil
}

type stubEnforcement struct {
	restricted int
}

func (s *stubEnforcement) AccountStatus(ctx context.Context, userID string) (string, error) {
	return "active", nil
}

func (s *stubEnforcement) SetAccountStatus(ctx context.Context, userID, status string, reasonCodes []string) error {
	s.restricted++
	return nil
}

type stubNotifier struct {
	sent int
}

func (s *stubNotifier) Notify(ctx context.Context, userID, category, title, body, priority string) error {
	s.sent++
	return nil
}

type testEnv struct {
	svc         *Service
	shield      *stubShield
	consent     *stubConsent
	cases       *stubCases
	enforcement *stubEnforcement
	notifier    *stubNotifier
}

func newTestEnv(providers ...SignalProvider) *testEnv {
	env := &testEnv{
		shield:      &stubShield{},
		consent:     &stubConsent{},
		cases:       &stubCases{},
		enforcement: &stubEnforcement{},
		notifier:    &stubNotifier{},
	}
	cfg := DefaultConfig()
	cfg.GathererTimeout = 50 * time.Millisecond
	env.svc = NewService(cfg, NewMemoryStore(), providers,
		env.shield, env.consent, env.cases, env.enforcement, env.notifier, slog.Default())
	return env
}

func assess(t *testing.T, env *testEnv, req AssessRequest) *Assessment {
	t.Helper()
	a, err := env.svc.Assess(context.Background(), req)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	return a
}

func TestAssessNoSignalsIsNoAction(t *testing.T) {
	env := newTestEnv(
		silent(DomainTrustScore), silent(DomainEnforcement), silent(DomainContent),
		silent(DomainRelationship), silent(DomainFraud), silent(DomainConsent),
		silent(DomainRegional),
	)
	a := assess(t, env, AssessRequest{UserID: "alice", Context: ContextMessage})
	if a.Score != 0 || a.Action != ActionNoAction {
		t.Fatalf("absence of data must not read as risk: %+v", a)
	}
	if a.Notified || env.notifier.sent != 0 {
		t.Fatal("no notification below the notify threshold")
	}
	if len(a.Signals) != 7 {
		t.Fatalf("all 7 gatherer outcomes must be recorded, got %d", len(a.Signals))
	}
}

func TestAssessScoreCappedAt100(t *testing.T) {
	env := newTestEnv(
		present(DomainTrustScore, SignalCritical, 1.0),
		present(DomainEnforcement, SignalCritical, 1.0),
		present(DomainContent, SignalCritical, 1.0),
		present(DomainRelationship, SignalCritical, 1.0),
		present(DomainFraud, SignalCritical, 1.0),
		present(DomainConsent, SignalCritical, 1.0),
		present(DomainRegional, SignalCritical, 1.0),
	)
	a := assess(t, env, AssessRequest{UserID: "mallory"})
	if a.Score != 100 {
		t.Fatalf("score must cap at 100, got %f", a.Score)
	}
	if a.Action != ActionLockdown {
		t.Fatalf("expected lockdown, got %s", a.Action)
	}
	if env.cases.opened != 1 || env.enforcement.restricted != 1 {
		t.Fatalf("lockdown must open a case and restrict: cases %d restricted %d",
			env.cases.opened, env.enforcement.restricted)
	}
}

func TestAssessFailureIsolation(t *testing.T) {
	env := newTestEnv(
		&stubProvider{domain: DomainTrustScore, err: errors.New("provider down")},
		&stubProvider{domain: DomainFraud, panics: true},
		&stubProvider{domain: DomainContent, block: true},
		present(DomainEnforcement, SignalLow, 1.0),
	)
	a := assess(t, env, AssessRequest{UserID: "alice"})

	// Only the healthy provider contributes; the broken ones read absent.
	if a.Score != 5 {
		t.Fatalf("expected score 5 from the one live signal, got %f", a.Score)
	}
	outcomes := make(map[Domain]GatheredSignal)
	for _, sig := range a.Signals {
		outcomes[sig.Domain] = sig
	}
	if !outcomes[DomainTrustScore].Failed || outcomes[DomainTrustScore].Present {
		t.Fatalf("errored gatherer must read failed+absent: %+v", outcomes[DomainTrustScore])
	}
	if !outcomes[DomainFraud].Failed {
		t.Fatalf("panicked gatherer must read failed: %+v", outcomes[DomainFraud])
	}
	if !outcomes[DomainContent].TimedOut {
		t.Fatalf("slow gatherer must read timed out: %+v", outcomes[DomainContent])
	}
}

func TestAssessAbandonsDeadlineIgnoringProvider(t *testing.T) {
	env := newTestEnv(
		&stubProvider{domain: DomainTrustScore, stall: true},
		present(DomainEnforcement, SignalLow, 1.0),
	)

	start := time.Now()
	a := assess(t, env, AssessRequest{UserID: "alice"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("assessment stalled behind a deadline-ignoring provider: %v", elapsed)
	}

	outcomes := make(map[Domain]GatheredSignal)
	for _, sig := range a.Signals {
		outcomes[sig.Domain] = sig
	}
	if !outcomes[DomainTrustScore].TimedOut || outcomes[DomainTrustScore].Present {
		t.Fatalf("abandoned gatherer must read timed out+absent: %+v", outcomes[DomainTrustScore])
	}
	if a.Score != 5 {
		t.Fatalf("live signal must still contribute, got score %f", a.Score)
	}
}

func TestAssessShieldOverReviewWithBehaviorSignal(t *testing.T) {
	env := newTestEnv(
		present(DomainTrustScore, SignalCritical, 1.0),  // 30
		present(DomainRelationship, SignalCritical, 1.0), // 30
		present(DomainFraud, SignalHigh, 0.5),            // 10
	)
	a := assess(t, env, AssessRequest{UserID: "mallory", CounterpartID: "alice", Context: ContextMessage})
	if a.Score != 70 {
		t.Fatalf("expected score 70, got %f", a.Score)
	}
	if a.Action != ActionEnableShield {
		t.Fatalf("behavior signal at 70 must enable the shield, got %s", a.Action)
	}
	if env.shield.calls != 1 {
		t.Fatalf("expected one shield activation, got %d", env.shield.calls)
	}
	if len(env.shield.signals) != 1 || env.shield.signals[0].Type != detection.SignalRepeatedContact {
		t.Fatalf("relationship signal must map to repeated contact: %+v", env.shield.signals)
	}
	if !a.Notified {
		t.Fatal("risk at 70 must notify the user")
	}
}

func TestAssessReviewWithoutBehaviorSignal(t *testing.T) {
	env := newTestEnv(
		present(DomainTrustScore, SignalCritical, 1.0),  // 30
		present(DomainEnforcement, SignalCritical, 1.0), // 30
		present(DomainRegional, SignalHigh, 1.0),        // 20
	)
	a := assess(t, env, AssessRequest{UserID: "mallory"})
	if a.Score != 80 || a.Action != ActionQueueReview {
		t.Fatalf("80 without behavior signal must queue for review: %+v", a)
	}
	if env.cases.opened != 1 {
		t.Fatalf("review must open a case, got %d", env.cases.opened)
	}
	if env.shield.calls != 0 {
		t.Fatal("review must not activate the shield")
	}
}

func TestAssessConsentReconfirmOnHighStakesContext(t *testing.T) {
	env := newTestEnv(
		present(DomainTrustScore, SignalCritical, 1.0), // 30
		present(DomainRegional, SignalMedium, 1.0),     // 10
	)
	a := assess(t, env, AssessRequest{UserID: "mallory", CounterpartID: "alice", Context: ContextCall})
	if a.Score != 40 || a.Action != ActionConsentRecheck {
		t.Fatalf("40 on a call must reconfirm consent: %+v", a)
	}
	if env.consent.pauses != 1 {
		t.Fatalf("reconfirm must pause the pair, got %d pauses", env.consent.pauses)
	}
}

func TestAssessSoftWarningOnMessageContext(t *testing.T) {
	env := newTestEnv(
		present(DomainTrustScore, SignalCritical, 1.0), // 30
		present(DomainRegional, SignalMedium, 1.0),     // 10
	)
	a := assess(t, env, AssessRequest{UserID: "mallory", Context: ContextMessage})
	if a.Action != ActionSoftWarning {
		t.Fatalf("40 on a message is a soft warning, got %s", a.Action)
	}
	if !a.Notified || env.notifier.sent != 1 {
		t.Fatal("risk at 40 must notify")
	}
	if env.consent.pauses != 0 || env.cases.opened != 0 {
		t.Fatal("soft warning has no side effect beyond the notification")
	}
}

func TestAssessSoftWarningBelowNotifyThreshold(t *testing.T) {
	env := newTestEnv(present(DomainRegional, SignalHigh, 1.0)) // 20
	a := assess(t, env, AssessRequest{UserID: "alice"})
	if a.Action != ActionSoftWarning {
		t.Fatalf("20 is a soft warning, got %s", a.Action)
	}
	if a.Notified || env.notifier.sent != 0 {
		t.Fatal("below 40 no notification goes out")
	}
}

func TestAssessPersisted(t *testing.T) {
	env := newTestEnv(present(DomainTrustScore, SignalLow, 1.0))
	a := assess(t, env, AssessRequest{UserID: "alice"})

	stored, err := env.svc.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Score != a.Score || stored.Action != a.Action {
		t.Fatalf("stored assessment differs: %+v vs %+v", stored, a)
	}

	list, err := env.svc.ListByUser(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 assessment, got %d", len(list))
	}
}

func TestAssessRequiresUserID(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.Assess(context.Background(), AssessRequest{}); err != ErrInvalidUserID {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}
