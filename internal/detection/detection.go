// Package detection implements the stateless harassment signal producers.
//
// Each detector is a pure function from one interaction event (plus the
// short-window counters supplied by the caller) to zero or more typed,
// confidence-scored signals. Aggregation, decay, and policy all live
// upstream in the shield and risk packages, not here.
package detection

import "time"

// SignalType identifies a detector.
type SignalType string

const (
	SignalSpamBurst       SignalType = "spam_burst"
	SignalRepeatedContact SignalType = "repeated_unwanted_contact"
	SignalTraumaPhrase    SignalType = "trauma_risk_phrase"
	SignalPressure        SignalType = "pressure_language"
	SignalImpersonation   SignalType = "impersonation"
	SignalBlockEvasion    SignalType = "block_evasion"
)

// AllSignalTypes lists every detector type, for confidence-rule seeding.
var AllSignalTypes = []SignalType{
	SignalSpamBurst,
	SignalRepeatedContact,
	SignalTraumaPhrase,
	SignalPressure,
	SignalImpersonation,
	SignalBlockEvasion,
}

// Signal is one typed, confidence-scored observation.
type Signal struct {
	Type       SignalType `json:"type"`
	Confidence float64    `json:"confidence"`
	Evidence   Evidence   `json:"evidence"`
	DetectedAt time.Time  `json:"detectedAt"`
}

// MessageEvent is a single interaction to run the message detectors over.
type MessageEvent struct {
	SenderID          string
	RecipientID       string
	Text              string
	SenderDisplayName string
	DeviceFingerprint string
	SentAt            time.Time
}

// WindowCounters are short-window aggregates the caller supplies; the
// detectors themselves hold no state.
type WindowCounters struct {
	MessagesLastMinute int
	UnansweredCount    int
	ReplyCount         int
}
