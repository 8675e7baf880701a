package behavior

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
)

func newTestService(now time.Time) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(DefaultConfig(), store, slog.Default())
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestLogEventConfidenceGrowth(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	ctx := context.Background()

	first, err := svc.LogEvent(ctx, "mallory", EventSpam, nil, "", 0.5)
	if err != nil {
		t.Fatalf("log first: %v", err)
	}
	if first.OccurrenceCount != 1 {
		t.Fatalf("expected occurrence 1, got %d", first.OccurrenceCount)
	}
	if first.Confidence != 0.5 {
		t.Fatalf("first event gets no bonus, got %f", first.Confidence)
	}

	svc.now = func() time.Time { return now.Add(48 * time.Hour) }
	second, err := svc.LogEvent(ctx, "mallory", EventSpam, nil, "", 0.5)
	if err != nil {
		t.Fatalf("log second: %v", err)
	}
	if second.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence 2, got %d", second.OccurrenceCount)
	}
	// 0.5 importance + 0.05 occurrence bonus + 0.2 recency (2 days ago).
	if second.Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %f", second.Confidence)
	}
}

func TestLogEventConfidenceCapped(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		svc.now = func() time.Time { return now.Add(time.Duration(i) * time.Hour) }
		entry, err := svc.LogEvent(ctx, "mallory", EventHarassment, nil, "", 0.9)
		if err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
		if entry.Confidence > 1.0 {
			t.Fatalf("confidence must never exceed 1.0, got %f", entry.Confidence)
		}
	}
}

func TestLogEventEvidencePreserved(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	ev := detection.BurstEvidence{MessageCount: 12, WindowSeconds: 60}
	if _, err := svc.LogEvent(ctx, "mallory", EventSpam, ev, "alice", 0.6); err != nil {
		t.Fatalf("log: %v", err)
	}

	entries, err := store.ListByUser(ctx, "mallory", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	parsed, err := detection.UnmarshalEvidence(entries[0].Evidence)
	if err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	burst, ok := parsed.(detection.BurstEvidence)
	if !ok {
		t.Fatalf("expected burst evidence, got %T", parsed)
	}
	if burst.MessageCount != 12 {
		t.Fatalf("evidence lost data: %+v", burst)
	}
}

func TestLogEventValidation(t *testing.T) {
	svc, _ := newTestService(time.Now())
	ctx := context.Background()

	if _, err := svc.LogEvent(ctx, "", EventSpam, nil, "", 0.5); err != ErrInvalidUserID {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := svc.LogEvent(ctx, "mallory", "", nil, "", 0.5); err != ErrInvalidType {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestDetectPatternsWorseningTrend(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	// Three events spread over 30 days, then three packed into 2 days.
	times := []time.Time{
		now.AddDate(0, 0, -40),
		now.AddDate(0, 0, -25),
		now.AddDate(0, 0, -10),
		now.AddDate(0, 0, -2),
		now.AddDate(0, 0, -1),
		now,
	}
	for i, ts := range times {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventHarassment, DetectedAt: ts, Confidence: 0.6,
			ExpiresAt: ts.AddDate(0, 36, 0),
		})
	}

	patterns, err := svc.DetectPatterns(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.Type != EventHarassment || p.Frequency != 6 {
		t.Fatalf("unexpected pattern: %+v", p)
	}
	if p.Trend != TrendWorsening {
		t.Fatalf("expected worsening trend, got %s", p.Trend)
	}
}

func TestDetectPatternsSparseIsStable(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventSpam, DetectedAt: now.AddDate(0, 0, -i*10), Confidence: 0.5,
			ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	patterns, err := svc.DetectPatterns(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Trend != TrendStable {
		t.Fatalf("fewer than 4 events must read stable: %+v", patterns)
	}
}

func TestDetectPatternsSkipsExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	seed(t, store, &LogEntry{
		ID: "beh_old", UserID: "mallory", Type: EventSpam,
		DetectedAt: now.AddDate(0, -1, 0), Confidence: 0.5,
		ExpiresAt: now.Add(-time.Hour),
	})

	patterns, err := svc.DetectPatterns(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expired entries must not feed patterns: %+v", patterns)
	}
}

func TestDetectCyclicHarassment(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	// Three bursts against the same target, each separated by 10+ quiet days.
	for i, daysAgo := range []int{50, 49, 35, 34, 10, 9} {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventHarassment, CounterpartID: "alice",
			DetectedAt: now.AddDate(0, 0, -daysAgo), Confidence: 0.7,
			ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	cycles, err := svc.DetectCyclicHarassment(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cyclic pattern, got %d", len(cycles))
	}
	if cycles[0].CounterpartID != "alice" || cycles[0].Cycles != 3 {
		t.Fatalf("unexpected cycle: %+v", cycles[0])
	}
}

func TestDetectCyclicRequiresMinCycles(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	for i, daysAgo := range []int{20, 5} {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventHarassment, CounterpartID: "alice",
			DetectedAt: now.AddDate(0, 0, -daysAgo), Confidence: 0.7,
			ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	cycles, err := svc.DetectCyclicHarassment(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("two bursts are not a cycle yet: %+v", cycles)
	}
}

func TestDetectCoordinatedAttack(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	attackers := []string{"m1", "m2", "m3", "m1", "m2"}
	for i, attacker := range attackers {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: attacker,
			Type: EventHarassment, CounterpartID: "alice",
			DetectedAt: now.Add(-time.Duration(i) * time.Hour), Confidence: 0.7,
			ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	attack, err := svc.DetectCoordinatedAttack(ctx, "alice")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if attack == nil {
		t.Fatal("expected coordinated attack")
	}
	if attack.AttackerCount != 3 || attack.EventCount != 5 {
		t.Fatalf("unexpected attack: %+v", attack)
	}
}

func TestDetectCoordinatedAttackBelowThreshold(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	// Five events but only two distinct attackers.
	for i, attacker := range []string{"m1", "m2", "m1", "m2", "m1"} {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: attacker,
			Type: EventHarassment, CounterpartID: "alice",
			DetectedAt: now.Add(-time.Duration(i) * time.Hour), Confidence: 0.7,
			ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	attack, err := svc.DetectCoordinatedAttack(ctx, "alice")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if attack != nil {
		t.Fatalf("two attackers must not trip coordination: %+v", attack)
	}
}

func TestDetectPolicyBypass(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seed(t, store, &LogEntry{
			ID: "beh_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventContentNearMiss, DetectedAt: now.AddDate(0, 0, -i),
			Confidence: 0.6, ExpiresAt: now.AddDate(0, 36, 0),
		})
	}

	suspected, count, err := svc.DetectPolicyBypass(ctx, "mallory", 12)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !suspected || count != 3 {
		t.Fatalf("expected bypass with 3 near misses, got %v/%d", suspected, count)
	}
}

func TestExpiryWorkerSweep(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seed(t, store, &LogEntry{
			ID: "beh_expired_" + string(rune('a'+i)), UserID: "mallory",
			Type: EventSpam, DetectedAt: now.AddDate(-4, 0, 0),
			ExpiresAt: now.Add(-time.Hour),
		})
	}
	seed(t, store, &LogEntry{
		ID: "beh_live", UserID: "mallory", Type: EventSpam,
		DetectedAt: now, ExpiresAt: now.AddDate(0, 36, 0),
	})

	worker := NewExpiryWorker(store, time.Hour, slog.Default())
	deleted := worker.Sweep(ctx)
	if deleted != 5 {
		t.Fatalf("expected 5 deletions, got %d", deleted)
	}

	remaining, err := store.ListByUser(ctx, "mallory", time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "beh_live" {
		t.Fatalf("live entry must survive sweep: %+v", remaining)
	}
}

func seed(t *testing.T, store *MemoryStore, entry *LogEntry) {
	t.Helper()
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
