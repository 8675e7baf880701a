package detection

import (
	"encoding/json"
	"time"
)

type signalWire struct {
	Type       SignalType      `json:"type"`
	Confidence float64         `json:"confidence"`
	Evidence   json.RawMessage `json:"evidence,omitempty"`
	DetectedAt time.Time       `json:"detectedAt"`
}

// MarshalJSON encodes the evidence in its tagged-envelope form so the
// concrete variant survives the wire.
func (s Signal) MarshalJSON() ([]byte, error) {
	raw, err := MarshalEvidence(s.Evidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signalWire{
		Type:       s.Type,
		Confidence: s.Confidence,
		Evidence:   raw,
		DetectedAt: s.DetectedAt,
	})
}

// UnmarshalJSON decodes the tagged evidence envelope back into its concrete
// variant. Absent evidence is fine.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w signalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ev, err := UnmarshalEvidence(w.Evidence)
	if err != nil {
		return err
	}
	*s = Signal{
		Type:       w.Type,
		Confidence: w.Confidence,
		Evidence:   ev,
		DetectedAt: w.DetectedAt,
	}
	return nil
}
