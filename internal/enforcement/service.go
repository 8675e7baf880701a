package enforcement

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumen-social/trustcore/internal/metrics"
)

// Service owns account enforcement state.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an enforcement service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// AccountStatus returns the user's current status. Users with no record
// are active.
func (s *Service) AccountStatus(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUserID
	}
	rec, err := s.store.Get(ctx, userID)
	if err == ErrNotFound {
		return StatusActive, nil
	}
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// SetAccountStatus moves the user to the given status and records the
// transition. Setting the current status again is a no-op.
func (s *Service) SetAccountStatus(ctx context.Context, userID, status string, reasonCodes []string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if !validStatuses[status] {
		return ErrInvalidStatus
	}

	current, err := s.AccountStatus(ctx, userID)
	if err != nil {
		return err
	}
	if current == status {
		return nil
	}

	now := s.now().UTC()
	rec := &Record{
		UserID:      userID,
		Status:      status,
		ReasonCodes: reasonCodes,
		UpdatedAt:   now,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return err
	}

	ch := &Change{
		UserID:      userID,
		From:        current,
		To:          status,
		ReasonCodes: reasonCodes,
		ChangedAt:   now,
	}
	if err := s.store.AppendChange(ctx, ch); err != nil {
		// The status change itself stuck; a missing history row is not
		// worth failing the enforcement action for.
		s.logger.Error("failed to record enforcement change", "user", userID, "error", err)
	}

	metrics.EnforcementChangesTotal.WithLabelValues(current, status).Inc()
	s.logger.Info("account status changed",
		"user", userID,
		"from", current,
		"to", status,
		"reasons", reasonCodes)
	return nil
}

// History returns a user's enforcement transitions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Change, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListChanges(ctx, userID, limit)
}
