package confidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/pagination"
	"github.com/lumen-social/trustcore/internal/retry"
)

// Config holds the tuning bounds for the confidence model.
type Config struct {
	// MinSampleCount is the unapplied-feedback threshold below which a
	// type's batch application is skipped entirely.
	MinSampleCount int
	// MinConfidence and MaxConfidence clamp the current confidence.
	MinConfidence float64
	MaxConfidence float64
	// MaxStep bounds how far one batch can move the current confidence.
	MaxStep float64
	// PageSize bounds each feedback page during application.
	PageSize int
}

// DefaultConfig returns the production tuning bounds.
func DefaultConfig() Config {
	return Config{
		MinSampleCount: 10,
		MinConfidence:  0.10,
		MaxConfidence:  0.95,
		MaxStep:        0.05,
		PageSize:       200,
	}
}

// baseConfidences mirror the detector defaults so a lazily-created rule
// starts from what the detector actually emits.
var baseConfidences = map[detection.SignalType]float64{
	detection.SignalSpamBurst:       0.9,
	detection.SignalRepeatedContact: 0.8,
	detection.SignalTraumaPhrase:    1.0,
	detection.SignalPressure:        0.75,
	detection.SignalImpersonation:   0.8,
	detection.SignalBlockEvasion:    0.95,
}

// Service manages confidence rules and moderator feedback.
type Service struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a confidence service.
func NewService(cfg Config, store Store, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, logger: logger, now: time.Now}
}

func (s *Service) clamp(v float64) float64 {
	if v < s.cfg.MinConfidence {
		return s.cfg.MinConfidence
	}
	if v > s.cfg.MaxConfidence {
		return s.cfg.MaxConfidence
	}
	return v
}

// RecordFeedback stores one moderator verdict. The rule is created lazily
// so a type gets a row on first feedback, but its counters do not move
// until the next batch application.
func (s *Service) RecordFeedback(ctx context.Context, t detection.SignalType, label Label, caseID, moderatorID, notes string) (*Feedback, error) {
	if _, ok := baseConfidences[t]; !ok {
		return nil, ErrInvalidType
	}
	if !ValidLabels[label] {
		return nil, ErrInvalidLabel
	}

	if _, err := s.ensureRule(ctx, t); err != nil {
		return nil, err
	}

	fb := &Feedback{
		ID:          idgen.WithPrefix("fb_"),
		SignalType:  t,
		Label:       label,
		CaseID:      caseID,
		ModeratorID: moderatorID,
		Notes:       notes,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AddFeedback(ctx, fb); err != nil {
		return nil, err
	}
	metrics.ModerationFeedbackTotal.WithLabelValues(string(t), string(label)).Inc()
	return fb, nil
}

func (s *Service) ensureRule(ctx context.Context, t detection.SignalType) (*Rule, error) {
	rule, err := s.store.GetRule(ctx, t)
	if err == nil {
		return rule, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	base := baseConfidences[t]
	now := s.now().UTC()
	rule = &Rule{
		Type:              t,
		BaseConfidence:    base,
		CurrentConfidence: s.clamp(base),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Rule returns the rule for a signal type.
func (s *Service) Rule(ctx context.Context, t detection.SignalType) (*Rule, error) {
	return s.store.GetRule(ctx, t)
}

// Rules lists every rule created so far.
func (s *Service) Rules(ctx context.Context) ([]*Rule, error) {
	return s.store.ListRules(ctx)
}

// ApplyFeedback folds the unapplied feedback for one type into its rule.
// Skipped when the unapplied count is under MinSampleCount. Only feedback
// the store actually flipped to applied is tallied, so re-running after a
// completed batch changes nothing. The rule is updated and saved page by
// page, right after the page's feedback is flipped: a failure further into
// the batch then leaves the counters consistent with everything flipped so
// far instead of orphaning it.
func (s *Service) ApplyFeedback(ctx context.Context, t detection.SignalType) (int, error) {
	unapplied, err := s.store.CountUnapplied(ctx, t)
	if err != nil {
		return 0, err
	}
	if unapplied < s.cfg.MinSampleCount {
		return 0, nil
	}

	applied := 0
	var cursor *pagination.Cursor
	var rule *Rule

	for {
		page, err := s.store.ListUnapplied(ctx, t, cursor, s.cfg.PageSize)
		if err != nil {
			return applied, err
		}
		if len(page) == 0 {
			break
		}

		byID := make(map[string]*Feedback, len(page))
		ids := make([]string, 0, len(page))
		for _, fb := range page {
			byID[fb.ID] = fb
			ids = append(ids, fb.ID)
		}

		flipped, err := s.store.MarkApplied(ctx, ids)
		if err != nil {
			return applied, err
		}

		if len(flipped) > 0 {
			if rule == nil {
				if rule, err = s.ensureRule(ctx, t); err != nil {
					return applied, err
				}
			}
			for _, id := range flipped {
				switch byID[id].Label {
				case LabelTruePositive:
					rule.TruePositives++
				case LabelFalsePositive:
					rule.FalsePositives++
				case LabelFalseNegative:
					rule.FalseNegatives++
				case LabelTrueNegative:
					rule.TrueNegatives++
				}
			}
			rule.FeedbackCount += len(flipped)
			rule.Precision, rule.Recall, rule.F1 = derive(rule.TruePositives, rule.FalsePositives, rule.FalseNegatives)
			rule.CurrentConfidence = s.adjust(rule.CurrentConfidence, rule.Precision)
			rule.UpdatedAt = s.now().UTC()

			if err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
				return s.store.SaveRule(ctx, rule)
			}); err != nil {
				return applied, fmt.Errorf("save rule for flipped page: %w", err)
			}
			applied += len(flipped)
		}

		last := page[len(page)-1]
		cursor = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	if applied == 0 {
		return 0, nil
	}

	metrics.FeedbackAppliedTotal.WithLabelValues(string(t)).Add(float64(applied))
	s.logger.Info("confidence batch applied",
		"type", t, "applied", applied,
		"precision", rule.Precision, "confidence", rule.CurrentConfidence)
	return applied, nil
}

// ApplyAll runs one application pass over every detector type.
func (s *Service) ApplyAll(ctx context.Context) int {
	total := 0
	for _, t := range detection.AllSignalTypes {
		applied, err := s.ApplyFeedback(ctx, t)
		if err != nil {
			s.logger.Error("confidence application failed", "type", t, "error", err)
			continue
		}
		total += applied
	}
	return total
}

// adjust moves the current confidence toward the observed precision by at
// most MaxStep, then clamps.
func (s *Service) adjust(current, precision float64) float64 {
	delta := precision - current
	if delta > s.cfg.MaxStep {
		delta = s.cfg.MaxStep
	}
	if delta < -s.cfg.MaxStep {
		delta = -s.cfg.MaxStep
	}
	return s.clamp(current + delta)
}

func derive(tp, fp, fn int) (precision, recall, f1 float64) {
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
