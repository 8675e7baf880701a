package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lumen-social/trustcore/internal/idgen"
	"github.com/lumen-social/trustcore/internal/metrics"
	"github.com/lumen-social/trustcore/internal/syncutil"
	"github.com/lumen-social/trustcore/internal/traces"
)

// ReasonReinitialized marks the first history entry of a record created for
// a pair whose previous record was revoked. Deployments that want revocation
// to be hard-terminal can reject on this marker at the API layer.
const ReasonReinitialized = "reinitialized_after_revocation"

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Service implements the consent ledger business logic.
type Service struct {
	store  Store
	logger *slog.Logger
	locks  syncutil.ShardedMutex // per pair key, serializes transition decisions
	now    func() time.Time
}

// NewService creates a consent ledger service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func validUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func (s *Service) validatePair(a, b string) error {
	if !validUserID(a) || !validUserID(b) {
		return ErrInvalidUserID
	}
	if a == b {
		return ErrSamePair
	}
	return nil
}

// Initialize creates the consent record for a pair on first contact. If a
// live (non-revoked) record already exists it is returned unchanged. If the
// existing record is revoked, a fresh PENDING record replaces it, with a
// history marker showing the old relationship ended.
func (s *Service) Initialize(ctx context.Context, a, b, initiator, source string) (*Record, error) {
	if err := s.validatePair(a, b); err != nil {
		return nil, err
	}
	key := PairKey(a, b)
	unlock := s.locks.Lock(key)
	defer unlock()

	existing, err := s.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && !existing.IsTerminal() {
		return existing, nil
	}

	reason := "first_contact"
	if existing != nil {
		reason = ReasonReinitialized
	}

	ua, ub := sortPair(a, b)
	now := s.now().UTC()
	rec := &Record{
		ID:           idgen.WithPrefix("cons_"),
		PairKey:      key,
		UserA:        ua,
		UserB:        ub,
		State:        StatePending,
		Capabilities: capabilitiesFor(StatePending),
		InitiatedBy:  initiator,
		Source:       source,
		History: []HistoryEntry{{
			From:   StatePending,
			To:     StatePending,
			Actor:  initiator,
			Reason: reason,
			At:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	metrics.ConsentTransitionsTotal.WithLabelValues("initialized", string(StatePending)).Inc()
	s.logger.Info("consent record initialized", "pair", key, "initiator", initiator, "reason", reason)
	return rec, nil
}

// transition is the single choke point through which every state change
// flows. It validates the move, recomputes capabilities, appends exactly one
// history entry, and persists via a conditional update.
func (s *Service) transition(ctx context.Context, rec *Record, to State, actor, reason string) (*Record, error) {
	from := rec.State
	if from == StateRevoked {
		return nil, ErrRevoked
	}
	if !validTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}

	entry := HistoryEntry{From: from, To: to, Actor: actor, Reason: reason, At: s.now().UTC()}
	caps := capabilitiesFor(to)
	if err := s.store.SetState(ctx, rec.PairKey, from, to, caps, entry); err != nil {
		return nil, err
	}

	next := *rec
	next.State = to
	next.Capabilities = caps
	next.History = append(append([]HistoryEntry{}, rec.History...), entry)
	next.UpdatedAt = entry.At

	metrics.ConsentTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("consent transition",
		"pair", rec.PairKey, "from", from, "to", to, "actor", actor, "reason", reason)
	return &next, nil
}

func validTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateActive || to == StatePaused || to == StateRevoked
	case StateActive:
		return to == StatePaused || to == StateRevoked
	case StatePaused:
		return to == StateActive || to == StateRevoked
	default:
		return false
	}
}

// RequestActive lazily initializes the pair's record and moves it from
// PENDING to ACTIVE_CONSENT on behalf of the requesting user.
func (s *Service) RequestActive(ctx context.Context, from, to string) (*Record, error) {
	if _, err := s.Initialize(ctx, from, to, from, "consent_request"); err != nil {
		return nil, err
	}
	key := PairKey(from, to)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.State == StateActive {
		return rec, nil
	}
	if rec.State != StatePending {
		return nil, fmt.Errorf("%w: cannot request consent while %s", ErrInvalidState, rec.State)
	}
	return s.transition(ctx, rec, StateActive, from, "consent_requested")
}

// Grant moves a PENDING record to ACTIVE_CONSENT, recorded against the
// granting user.
func (s *Service) Grant(ctx context.Context, a, b, actor string) (*Record, error) {
	return s.transitionPair(ctx, a, b, StateActive, actor, "consent_granted", StatePending)
}

// Pause suspends an active consent. Pausing an already-paused record is a
// no-op so trigger execution stays idempotent.
func (s *Service) Pause(ctx context.Context, a, b, actor, reason string) (*Record, error) {
	key := PairKey(a, b)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case StatePaused:
		return rec, nil
	case StateRevoked:
		return nil, ErrRevoked
	}
	return s.transition(ctx, rec, StatePaused, actor, reason)
}

// Revoke terminally revokes consent for the pair and pays out any pending
// refund transactions. The returned slice holds the drained transaction ids.
func (s *Service) Revoke(ctx context.Context, a, b, actor, reason string) (*Record, []string, error) {
	key := PairKey(a, b)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if rec.State == StateRevoked {
		return rec, nil, nil
	}
	next, err := s.transition(ctx, rec, StateRevoked, actor, reason)
	if err != nil {
		return nil, nil, err
	}
	refunds, err := s.store.DrainPendingRefunds(ctx, key)
	if err != nil {
		// Revocation already committed; refunds can be drained on a retry.
		s.logger.Error("drain pending refunds failed", "pair", key, "error", err)
		return next, nil, nil
	}
	next.PendingRefunds = nil
	return next, refunds, nil
}

// Resume reactivates a PAUSED record. Resuming a revoked record fails with
// ErrRevoked, a precondition violation distinct from not-found.
func (s *Service) Resume(ctx context.Context, a, b, actor string) (*Record, error) {
	key := PairKey(a, b)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.State == StateRevoked {
		return nil, ErrRevoked
	}
	if rec.State != StatePaused {
		return nil, fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, rec.State)
	}
	return s.transition(ctx, rec, StateActive, actor, "consent_resumed")
}

func (s *Service) transitionPair(ctx context.Context, a, b string, to State, actor, reason string, allowedFrom ...State) (*Record, error) {
	key := PairKey(a, b)
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(allowedFrom) > 0 {
		ok := false
		for _, f := range allowedFrom {
			if rec.State == f {
				ok = true
				break
			}
		}
		if !ok {
			if rec.State == StateRevoked {
				return nil, ErrRevoked
			}
			return nil, fmt.Errorf("%w: expected %v, record is %s", ErrInvalidState, allowedFrom, rec.State)
		}
	}
	return s.transition(ctx, rec, to, actor, reason)
}

// Check reports whether `from` may perform the requested interaction with
// `to`. A missing record is an explicit deny result, not an error.
func (s *Service) Check(ctx context.Context, from, to, capability string) (*CheckResult, error) {
	if err := s.validatePair(from, to); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "consent.check", traces.PairKey(PairKey(from, to)))
	defer span.End()

	rec, err := s.store.Get(ctx, PairKey(from, to))
	if errors.Is(err, ErrNotFound) {
		return &CheckResult{
			Allowed:        false,
			Reason:         "no_consent_record",
			RequiredAction: "initialize_consent",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case StateActive:
		allowed, err := rec.Capabilities.allows(capability)
		if err != nil {
			return nil, err
		}
		res := &CheckResult{Allowed: allowed, State: rec.State, Reason: "active_consent"}
		if !allowed {
			res.Reason = "capability_not_granted"
		}
		return res, nil
	case StatePending:
		return &CheckResult{
			Allowed:        false,
			State:          rec.State,
			Reason:         "consent_pending",
			RequiredAction: "await_consent_grant",
		}, nil
	case StatePaused:
		return &CheckResult{
			Allowed:        false,
			State:          rec.State,
			Reason:         "consent_paused",
			RequiredAction: "request_resume",
		}, nil
	default: // revoked: hard deny, no remediation hint
		return &CheckResult{Allowed: false, State: rec.State, Reason: "consent_revoked"}, nil
	}
}

// BatchCheck runs Check for one requester against many counterparts.
func (s *Service) BatchCheck(ctx context.Context, from string, others []string, capability string) (map[string]*CheckResult, error) {
	results := make(map[string]*CheckResult, len(others))
	for _, other := range others {
		res, err := s.Check(ctx, from, other, capability)
		if err != nil {
			return nil, err
		}
		results[other] = res
	}
	return results, nil
}

// Get returns the pair's consent record.
func (s *Service) Get(ctx context.Context, a, b string) (*Record, error) {
	if err := s.validatePair(a, b); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, PairKey(a, b))
}

// TrackPendingTransaction records a paid interaction whose value is refunded
// if consent is revoked before delivery.
func (s *Service) TrackPendingTransaction(ctx context.Context, a, b, txID string) error {
	return s.store.AddPendingRefund(ctx, PairKey(a, b), txID)
}

// MarkDelivered clears a delivered transaction from the refund set.
func (s *Service) MarkDelivered(ctx context.Context, a, b, txID string) error {
	return s.store.RemovePendingRefund(ctx, PairKey(a, b), txID)
}

// DrainPendingRefunds returns and clears every pending refund for the pair.
func (s *Service) DrainPendingRefunds(ctx context.Context, a, b string) ([]string, error) {
	return s.store.DrainPendingRefunds(ctx, PairKey(a, b))
}

// PauseAllActiveFor pauses every ACTIVE_CONSENT record the user holds and
// returns how many records were paused. Already-paused pairs are untouched,
// so repeated trigger execution cannot double-pause.
func (s *Service) PauseAllActiveFor(ctx context.Context, userID, actor, reason string) (int, error) {
	if !validUserID(userID) {
		return 0, ErrInvalidUserID
	}
	records, err := s.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	paused := 0
	for _, rec := range records {
		other := rec.UserA
		if other == userID {
			other = rec.UserB
		}
		if _, err := s.Pause(ctx, userID, other, actor, reason); err != nil {
			s.logger.Error("pause during revalidation sweep failed",
				"pair", rec.PairKey, "error", err)
			continue
		}
		paused++
	}
	return paused, nil
}
