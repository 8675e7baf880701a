package cases

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
)

// Service owns the moderation case queue.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a case service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// OpenCase opens a moderation case and returns its id. Priority defaults
// to normal when unset.
func (s *Service) OpenCase(ctx context.Context, subject, reporter string, reasonCodes []string, priority string, evidenceRefs []string) (string, error) {
	if subject == "" {
		return "", ErrInvalidSubject
	}
	if reporter == "" {
		reporter = "system"
	}
	switch priority {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
	default:
		priority = PriorityNormal
	}

	c := &Case{
		ID:           idgen.WithPrefix("case_"),
		Subject:      subject,
		Reporter:     reporter,
		ReasonCodes:  reasonCodes,
		Priority:     priority,
		EvidenceRefs: evidenceRefs,
		Status:       StatusOpen,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return "", err
	}

	metrics.CasesOpenedTotal.WithLabelValues(priority).Inc()
	s.logger.Info("moderation case opened",
		"case", c.ID,
		"subject", subject,
		"priority", priority,
		"reasons", reasonCodes)
	return c.ID, nil
}

// GetCase returns one case by id.
func (s *Service) GetCase(ctx context.Context, id string) (*Case, error) {
	return s.store.Get(ctx, id)
}

// Queue returns open cases, highest priority first.
func (s *Service) Queue(ctx context.Context, limit int) ([]*Case, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListOpen(ctx, limit)
}

// History returns a subject's cases, newest first.
func (s *Service) History(ctx context.Context, subject string, limit int) ([]*Case, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListBySubject(ctx, subject, limit)
}

// CloseCase records the moderator's outcome and closes the case.
func (s *Service) CloseCase(ctx context.Context, id, moderatorID, outcome string) (*Case, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusClosed {
		return nil, ErrAlreadyClosed
	}

	now := s.now().UTC()
	c.Status = StatusClosed
	c.Outcome = outcome
	c.ClosedBy = moderatorID
	c.ClosedAt = &now
	if err := s.store.Update(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("moderation case closed", "case", id, "moderator", moderatorID, "outcome", outcome)
	return c, nil
}
