package detection

import (
	"testing"
	"time"
)

func TestSpamBurstScenario(t *testing.T) {
	d := New(DefaultConfig())

	// 10 messages in under a minute with zero replies.
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "hey", SentAt: time.Now()},
		WindowCounters{MessagesLastMinute: 10, ReplyCount: 0},
	)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Type != SignalSpamBurst {
		t.Fatalf("expected spam_burst, got %s", sig.Type)
	}
	if sig.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %f", sig.Confidence)
	}
	ev, ok := sig.Evidence.(BurstEvidence)
	if !ok {
		t.Fatalf("expected BurstEvidence, got %T", sig.Evidence)
	}
	if ev.MessageCount != 10 {
		t.Fatalf("evidence message count: %d", ev.MessageCount)
	}
}

func TestBurstWithRepliesIsNotSpam(t *testing.T) {
	d := New(DefaultConfig())
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "hey"},
		WindowCounters{MessagesLastMinute: 15, ReplyCount: 4},
	)
	if len(signals) != 0 {
		t.Fatalf("a busy two-way conversation is not a burst: %+v", signals)
	}
}

func TestRepeatedUnansweredContact(t *testing.T) {
	d := New(DefaultConfig())
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "hello?"},
		WindowCounters{MessagesLastMinute: 1, UnansweredCount: 6},
	)
	if len(signals) != 1 || signals[0].Type != SignalRepeatedContact {
		t.Fatalf("expected repeated_unwanted_contact: %+v", signals)
	}
	if signals[0].Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %f", signals[0].Confidence)
	}
}

func TestTraumaPhraseAlwaysMaxConfidence(t *testing.T) {
	d := New(DefaultConfig())
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "just Kill Yourself already"},
		WindowCounters{},
	)
	if len(signals) != 1 || signals[0].Type != SignalTraumaPhrase {
		t.Fatalf("expected trauma_risk_phrase: %+v", signals)
	}
	if signals[0].Confidence != 1.0 {
		t.Fatalf("trauma phrase confidence must be 1.0, got %f", signals[0].Confidence)
	}
}

func TestPressureLanguage(t *testing.T) {
	d := New(DefaultConfig())
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "meet me tonight or else"},
		WindowCounters{},
	)
	if len(signals) != 1 || signals[0].Type != SignalPressure {
		t.Fatalf("expected pressure_language: %+v", signals)
	}
	if signals[0].Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %f", signals[0].Confidence)
	}
}

func TestMultipleSignalsFromOneMessage(t *testing.T) {
	d := New(DefaultConfig())
	signals := d.DetectFromMessage(
		MessageEvent{SenderID: "u1", RecipientID: "u2", Text: "you will regret this"},
		WindowCounters{MessagesLastMinute: 12, UnansweredCount: 7},
	)
	seen := map[SignalType]bool{}
	for _, s := range signals {
		seen[s.Type] = true
	}
	for _, want := range []SignalType{SignalSpamBurst, SignalRepeatedContact, SignalPressure} {
		if !seen[want] {
			t.Errorf("missing signal %s in %+v", want, signals)
		}
	}
}

func TestImpersonationThreshold(t *testing.T) {
	d := New(DefaultConfig())

	signals := d.DetectImpersonation("Maria Santos", []string{"Maria Santoz"})
	if len(signals) != 1 || signals[0].Type != SignalImpersonation {
		t.Fatalf("near-identical name should flag: %+v", signals)
	}
	if signals[0].Confidence < 0.8 {
		t.Fatalf("confidence should be the similarity ratio: %f", signals[0].Confidence)
	}

	if got := d.DetectImpersonation("Maria Santos", []string{"Bob Smith"}); len(got) != 0 {
		t.Fatalf("dissimilar name should not flag: %+v", got)
	}

	// An exact match is the user themselves, not an impersonator.
	if got := d.DetectImpersonation("Maria Santos", []string{"Maria Santos"}); len(got) != 0 {
		t.Fatalf("exact match should not flag: %+v", got)
	}
}

func TestBlockEvasion(t *testing.T) {
	d := New(DefaultConfig())
	blocked := map[string]string{"fp-abc123": "banned_user_9"}

	signals := d.DetectBlockEvasion("fp-abc123", blocked)
	if len(signals) != 1 || signals[0].Type != SignalBlockEvasion {
		t.Fatalf("expected block_evasion: %+v", signals)
	}
	ev := signals[0].Evidence.(FingerprintEvidence)
	if ev.BlockedUserID != "banned_user_9" {
		t.Fatalf("evidence should name the blocked account: %+v", ev)
	}

	if got := d.DetectBlockEvasion("fp-clean", blocked); len(got) != 0 {
		t.Fatalf("unknown fingerprint should not flag: %+v", got)
	}
	if got := d.DetectBlockEvasion("", blocked); len(got) != 0 {
		t.Fatalf("empty fingerprint should not flag: %+v", got)
	}
}

func TestSimilarityRatio(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"anna", "anna", 1.0, 1.0},
		{"anna", "annna", 0.8, 1.0},
		{"anna", "zwxq", 0.0, 0.25},
		{"", "", 1.0, 1.0},
	}
	for _, tc := range cases {
		got := similarityRatio(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("similarityRatio(%q,%q) = %f, want in [%f,%f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestEvidenceRoundTrip(t *testing.T) {
	original := Signal{
		Type:       SignalBlockEvasion,
		Confidence: 0.95,
		Evidence:   FingerprintEvidence{Fingerprint: "fp-1", BlockedUserID: "u9"},
	}
	raw, err := MarshalEvidence(original.Evidence)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalEvidence(raw)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := decoded.(FingerprintEvidence)
	if !ok {
		t.Fatalf("expected FingerprintEvidence, got %T", decoded)
	}
	if ev != original.Evidence.(FingerprintEvidence) {
		t.Fatalf("roundtrip mismatch: %+v", ev)
	}
}

func TestUnmarshalUnknownEvidenceKind(t *testing.T) {
	if _, err := UnmarshalEvidence([]byte(`{"kind":"mystery","data":{}}`)); err == nil {
		t.Fatal("unknown kind must error")
	}
}
