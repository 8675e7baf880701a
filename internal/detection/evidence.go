package detection

import (
	"encoding/json"
	"fmt"
)

// Evidence is the typed payload attached to a signal. One variant exists per
// signal type; the wire form is a tagged envelope so stored evidence can be
// decoded back into its concrete shape.
type Evidence interface {
	EvidenceKind() string
}

// BurstEvidence backs SPAM_BURST signals.
type BurstEvidence struct {
	MessageCount  int `json:"messageCount"`
	WindowSeconds int `json:"windowSeconds"`
	ReplyCount    int `json:"replyCount"`
}

func (BurstEvidence) EvidenceKind() string { return string(SignalSpamBurst) }

// RepeatedContactEvidence backs REPEATED_UNWANTED_CONTACT signals.
type RepeatedContactEvidence struct {
	UnansweredCount int `json:"unansweredCount"`
}

func (RepeatedContactEvidence) EvidenceKind() string { return string(SignalRepeatedContact) }

// PhraseEvidence backs TRAUMA_RISK_PHRASE and PRESSURE_LANGUAGE signals.
type PhraseEvidence struct {
	Phrase   string `json:"phrase"`
	Category string `json:"category"`
}

func (e PhraseEvidence) EvidenceKind() string {
	if e.Category == "pressure" {
		return string(SignalPressure)
	}
	return string(SignalTraumaPhrase)
}

// NameSimilarityEvidence backs IMPERSONATION signals.
type NameSimilarityEvidence struct {
	DisplayName string  `json:"displayName"`
	MatchedName string  `json:"matchedName"`
	Similarity  float64 `json:"similarity"`
}

func (NameSimilarityEvidence) EvidenceKind() string { return string(SignalImpersonation) }

// FingerprintEvidence backs BLOCK_EVASION signals.
type FingerprintEvidence struct {
	Fingerprint   string `json:"fingerprint"`
	BlockedUserID string `json:"blockedUserId"`
}

func (FingerprintEvidence) EvidenceKind() string { return string(SignalBlockEvasion) }

type evidenceEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalEvidence encodes evidence as a tagged envelope.
func MarshalEvidence(e Evidence) ([]byte, error) {
	if e == nil {
		return []byte(`null`), nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evidenceEnvelope{Kind: e.EvidenceKind(), Data: data})
}

// UnmarshalEvidence decodes a tagged envelope back into its concrete variant.
func UnmarshalEvidence(raw []byte) (Evidence, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env evidenceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode evidence envelope: %w", err)
	}
	var (
		e   Evidence
		err error
	)
	switch SignalType(env.Kind) {
	case SignalSpamBurst:
		var v BurstEvidence
		err = json.Unmarshal(env.Data, &v)
		e = v
	case SignalRepeatedContact:
		var v RepeatedContactEvidence
		err = json.Unmarshal(env.Data, &v)
		e = v
	case SignalTraumaPhrase, SignalPressure:
		var v PhraseEvidence
		err = json.Unmarshal(env.Data, &v)
		e = v
	case SignalImpersonation:
		var v NameSimilarityEvidence
		err = json.Unmarshal(env.Data, &v)
		e = v
	case SignalBlockEvasion:
		var v FingerprintEvidence
		err = json.Unmarshal(env.Data, &v)
		e = v
	default:
		return nil, fmt.Errorf("unknown evidence kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", env.Kind, err)
	}
	return e, nil
}
