package riskprofile

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/lumen-social/trustcore/internal/behavior"
)

type fakePatterns struct {
	patterns []behavior.Pattern
}

func (f *fakePatterns) DetectPatterns(ctx context.Context, userID string, lookbackMonths int) ([]behavior.Pattern, error) {
	return f.patterns, nil
}

type fakeConsent struct {
	pauseCalls int
}

func (f *fakeConsent) PauseAllActiveFor(ctx context.Context, userID, actor, reason string) (int, error) {
	f.pauseCalls++
	return 3, nil
}

type fakeCases struct {
	opened     int
	priorities []string
}

func (f *fakeCases) OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error) {
	f.opened++
	f.priorities = append(f.priorities, priority)
	return fmt.Sprintf("case_%d", f.opened), nil
}

type fakeEnforcement struct {
	status   map[string]string
	setCalls int
}

func newFakeEnforcement() *fakeEnforcement {
	return &fakeEnforcement{status: make(map[string]string)}
}

func (f *fakeEnforcement) AccountStatus(ctx context.Context, userID string) (string, error) {
	if s, ok := f.status[userID]; ok {
		return s, nil
	}
	return StatusActive, nil
}

func (f *fakeEnforcement) SetAccountStatus(ctx context.Context, userID, status string, reasonCodes []string) error {
	f.setCalls++
	f.status[userID] = status
	return nil
}

type testEnv struct {
	svc         *Service
	store       *MemoryStore
	patterns    *fakePatterns
	consent     *fakeConsent
	cases       *fakeCases
	enforcement *fakeEnforcement
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:       NewMemoryStore(),
		patterns:    &fakePatterns{},
		consent:     &fakeConsent{},
		cases:       &fakeCases{},
		enforcement: newFakeEnforcement(),
	}
	env.svc = NewService(DefaultConfig(), env.store, env.patterns, env.consent, env.cases, env.enforcement, slog.Default())
	return env
}

func TestEvaluateNoPatterns(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	profile, err := env.svc.Evaluate(ctx, "alice")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if profile.Level != LevelNone || profile.Score != 0 {
		t.Fatalf("clean user must be NONE/0: %+v", profile)
	}
	if profile.Triggers.Any() {
		t.Fatalf("no triggers must arm for a clean user: %+v", profile.Triggers)
	}

	transitions, _ := env.svc.Transitions(ctx, "alice")
	if len(transitions) != 0 {
		t.Fatalf("no level move means no transition, got %d", len(transitions))
	}
}

func TestEvasionPatternArmsLockdownRegardlessOfLevel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.patterns.patterns = []behavior.Pattern{{
		Type:           behavior.EventBanEvasion,
		Frequency:      4,
		Trend:          behavior.TrendWorsening,
		LastOccurrence: time.Now().UTC().AddDate(0, 0, -10),
		Confidence:     0.8,
	}}

	profile, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if profile.Level == LevelCritical {
		t.Fatalf("test premise broken: level should be below critical, got %s", profile.Level)
	}
	if !profile.Triggers.AccountLockdown {
		t.Fatal("evasion pattern must arm lockdown regardless of level")
	}
}

func TestScoreCappedAt100(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	recent := time.Now().UTC().Add(-24 * time.Hour)
	env.patterns.patterns = []behavior.Pattern{
		{Type: behavior.EventHarassment, Frequency: 20, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.9},
		{Type: behavior.EventBanEvasion, Frequency: 20, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.9},
		{Type: behavior.EventFraudAttempt, Frequency: 20, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.9},
	}

	profile, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if profile.Score != 100 {
		t.Fatalf("score must cap at 100, got %f", profile.Score)
	}
	if profile.Level != LevelCritical {
		t.Fatalf("expected critical, got %s", profile.Level)
	}
}

func TestForcedVerificationNeedsFraudAndHighLevel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	// Fraud pattern at MEDIUM: 25 x 1.25 x 1.0 x 0.8 = 25.
	env.patterns.patterns = []behavior.Pattern{{
		Type:           behavior.EventFraudAttempt,
		Frequency:      3,
		Trend:          behavior.TrendStable,
		LastOccurrence: time.Now().UTC().AddDate(0, 0, -60),
		Confidence:     0.7,
	}}
	profile, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if profile.Level != LevelMedium {
		t.Fatalf("expected medium, got %s (score %f)", profile.Level, profile.Score)
	}
	if profile.Triggers.ForcedVerification {
		t.Fatal("forced verification must not arm below HIGH")
	}
	if !profile.Triggers.ModeratorReview {
		t.Fatal("moderator review arms at MEDIUM")
	}

	// Same pattern type, hot and frequent: 25 x 1.75 x 1.0 x 1.3 = 56.9.
	env.patterns.patterns[0].Frequency = 10
	env.patterns.patterns[0].LastOccurrence = time.Now().UTC().AddDate(0, 0, -2)
	profile, err = env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if profile.Level != LevelHigh {
		t.Fatalf("expected high, got %s (score %f)", profile.Level, profile.Score)
	}
	if !profile.Triggers.ForcedVerification {
		t.Fatal("fraud pattern at HIGH must arm forced verification")
	}
}

func TestTransitionAppendedOnlyOnLevelMove(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.patterns.patterns = []behavior.Pattern{{
		Type:           behavior.EventHarassment,
		Frequency:      10,
		Trend:          behavior.TrendWorsening,
		LastOccurrence: time.Now().UTC().Add(-24 * time.Hour),
		Confidence:     0.8,
	}}

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Evaluate(ctx, "mallory"); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}

	transitions, err := env.svc.Transitions(ctx, "mallory")
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("steady level must append exactly one transition, got %d", len(transitions))
	}
	if transitions[0].From != LevelNone {
		t.Fatalf("first transition must start at none: %+v", transitions[0])
	}
}

func TestTriggersDisarmWhenBehaviorImproves(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	recent := time.Now().UTC().Add(-24 * time.Hour)
	env.patterns.patterns = []behavior.Pattern{
		{Type: behavior.EventHarassment, Frequency: 15, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.9},
	}
	first, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !first.Triggers.ConsentRevalidation {
		t.Fatalf("expected consent revalidation armed: %+v", first.Triggers)
	}

	env.patterns.patterns = nil
	second, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if second.Triggers.Any() {
		t.Fatalf("triggers must disarm when patterns clear: %+v", second.Triggers)
	}

	// Both the escalation and the later de-escalation are in the history.
	transitions, _ := env.svc.Transitions(ctx, "mallory")
	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
}

func TestExecuteTriggersIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	recent := time.Now().UTC().Add(-24 * time.Hour)
	env.patterns.patterns = []behavior.Pattern{
		{Type: behavior.EventHarassment, Frequency: 15, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.9},
		{Type: behavior.EventBanEvasion, Frequency: 4, Trend: behavior.TrendWorsening, LastOccurrence: recent, Confidence: 0.8},
	}
	profile, err := env.svc.Evaluate(ctx, "mallory")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	first, err := env.svc.ExecuteTriggers(ctx, "mallory", profile)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.ConsentPaused != 3 || first.CaseID == "" || !first.LockdownApplied {
		t.Fatalf("unexpected first execution: %+v", first)
	}

	fresh, err := env.svc.Get(ctx, "mallory")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := env.svc.ExecuteTriggers(ctx, "mallory", fresh)
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if env.cases.opened != 1 {
		t.Fatalf("second execution must not open another case, opened %d", env.cases.opened)
	}
	if second.CaseID != first.CaseID {
		t.Fatalf("case id must be stable: %s vs %s", second.CaseID, first.CaseID)
	}
	if env.enforcement.setCalls != 1 {
		t.Fatalf("already-restricted account must be skipped, set calls %d", env.enforcement.setCalls)
	}
	if !second.LockdownApplied {
		t.Fatal("lockdown result must still report applied")
	}
}

func TestReviewCasePriorityTracksRiskLevel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		level    Level
		priority string
	}{
		{LevelMedium, "normal"},
		{LevelHigh, "high"},
		{LevelCritical, "urgent"},
	}
	for _, tc := range tests {
		env := newTestEnv()
		profile := &Profile{
			UserID:   "mallory",
			Level:    tc.level,
			Triggers: Triggers{ModeratorReview: true},
		}
		if err := env.store.Save(ctx, profile); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := env.svc.ExecuteTriggers(ctx, "mallory", profile); err != nil {
			t.Fatalf("execute: %v", err)
		}
		if len(env.cases.priorities) != 1 || env.cases.priorities[0] != tc.priority {
			t.Fatalf("%s review case priority: want %s, got %v",
				tc.level, tc.priority, env.cases.priorities)
		}
	}
}

func TestLevelThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelNone}, {9.9, LevelNone},
		{10, LevelLow}, {24.9, LevelLow},
		{25, LevelMedium}, {49.9, LevelMedium},
		{50, LevelHigh}, {74.9, LevelHigh},
		{75, LevelCritical}, {100, LevelCritical},
	}
	for _, tc := range cases {
		if got := cfg.levelFor(tc.score); got != tc.want {
			t.Errorf("levelFor(%f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}
