package detection

import (
	"strings"
	"time"

	"github.com/lumen-social/trustcore/internal/metrics"
)

// Config holds the fixed detector thresholds. It is immutable after
// construction and injected so tests can run with alternate threshold sets.
type Config struct {
	// BurstThreshold is the messages-per-minute count that flags a spam burst.
	BurstThreshold int
	// BurstConfidence is the confidence assigned to spam-burst signals.
	BurstConfidence float64
	// UnansweredThreshold flags repeated contact with no reply.
	UnansweredThreshold int
	// UnansweredConfidence is the confidence for repeated-contact signals.
	UnansweredConfidence float64
	// PressureConfidence is the confidence for coercive-phrasing signals.
	PressureConfidence float64
	// ImpersonationThreshold is the minimum name-similarity ratio.
	ImpersonationThreshold float64
	// EvasionConfidence is the confidence for shared-fingerprint signals.
	EvasionConfidence float64
}

// DefaultConfig returns the production detector thresholds.
func DefaultConfig() Config {
	return Config{
		BurstThreshold:         10,
		BurstConfidence:        0.9,
		UnansweredThreshold:    5,
		UnansweredConfidence:   0.8,
		PressureConfidence:     0.75,
		ImpersonationThreshold: 0.8,
		EvasionConfidence:      0.95,
	}
}

// Detector runs the stateless heuristics.
type Detector struct {
	cfg Config
}

// New creates a detector with the given thresholds.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// DetectFromMessage runs every message-level heuristic over a single event.
func (d *Detector) DetectFromMessage(evt MessageEvent, counters WindowCounters) []Signal {
	now := evt.SentAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var signals []Signal

	if counters.MessagesLastMinute >= d.cfg.BurstThreshold && counters.ReplyCount == 0 {
		signals = append(signals, Signal{
			Type:       SignalSpamBurst,
			Confidence: d.cfg.BurstConfidence,
			Evidence: BurstEvidence{
				MessageCount:  counters.MessagesLastMinute,
				WindowSeconds: 60,
				ReplyCount:    counters.ReplyCount,
			},
			DetectedAt: now,
		})
	}

	if counters.UnansweredCount >= d.cfg.UnansweredThreshold {
		signals = append(signals, Signal{
			Type:       SignalRepeatedContact,
			Confidence: d.cfg.UnansweredConfidence,
			Evidence:   RepeatedContactEvidence{UnansweredCount: counters.UnansweredCount},
			DetectedAt: now,
		})
	}

	text := normalizeText(evt.Text)
	// Trauma-risk phrasing is treated as never a false-negative risk:
	// confidence is pinned to 1.0 and always escalated upstream.
	if phrase := matchPhrase(text, traumaRiskPhrases); phrase != "" {
		signals = append(signals, Signal{
			Type:       SignalTraumaPhrase,
			Confidence: 1.0,
			Evidence:   PhraseEvidence{Phrase: phrase, Category: "trauma_risk"},
			DetectedAt: now,
		})
	}
	if phrase := matchPhrase(text, pressurePhrases); phrase != "" {
		signals = append(signals, Signal{
			Type:       SignalPressure,
			Confidence: d.cfg.PressureConfidence,
			Evidence:   PhraseEvidence{Phrase: phrase, Category: "pressure"},
			DetectedAt: now,
		})
	}

	for _, sig := range signals {
		metrics.SignalsDetectedTotal.WithLabelValues(string(sig.Type)).Inc()
	}
	return signals
}

// DetectImpersonation flags a display name that is suspiciously close to a
// known name the sender does not own.
func (d *Detector) DetectImpersonation(displayName string, knownNames []string) []Signal {
	name := normalizeText(displayName)
	if name == "" {
		return nil
	}
	for _, known := range knownNames {
		candidate := normalizeText(known)
		if candidate == "" || candidate == name {
			continue
		}
		ratio := similarityRatio(name, candidate)
		if ratio >= d.cfg.ImpersonationThreshold {
			metrics.SignalsDetectedTotal.WithLabelValues(string(SignalImpersonation)).Inc()
			return []Signal{{
				Type:       SignalImpersonation,
				Confidence: ratio,
				Evidence: NameSimilarityEvidence{
					DisplayName: displayName,
					MatchedName: known,
					Similarity:  ratio,
				},
				DetectedAt: time.Now().UTC(),
			}}
		}
	}
	return nil
}

// DetectBlockEvasion flags a device fingerprint previously seen on a blocked
// account.
func (d *Detector) DetectBlockEvasion(fingerprint string, blockedFingerprints map[string]string) []Signal {
	if fingerprint == "" {
		return nil
	}
	blockedUser, ok := blockedFingerprints[fingerprint]
	if !ok {
		return nil
	}
	metrics.SignalsDetectedTotal.WithLabelValues(string(SignalBlockEvasion)).Inc()
	return []Signal{{
		Type:       SignalBlockEvasion,
		Confidence: d.cfg.EvasionConfidence,
		Evidence: FingerprintEvidence{
			Fingerprint:   fingerprint,
			BlockedUserID: blockedUser,
		},
		DetectedAt: time.Now().UTC(),
	}}
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// matchPhrase returns the first phrase from the list contained in the
// normalized text, or "".
func matchPhrase(text string, phrases []string) string {
	if text == "" {
		return ""
	}
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}
