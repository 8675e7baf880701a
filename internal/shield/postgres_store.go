package shield

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumen-social/trustcore/internal/detection"
)

// PostgresStore persists shield records in PostgreSQL. Signals and actions
// are child-table rows so concurrent writers append independently; the
// escalation update is a single conditional statement keyed on the expected
// from-level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed shield store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the shield tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shield_records (
			shield_id          VARCHAR(72) PRIMARY KEY,
			pair_key           TEXT NOT NULL,
			protected_user     VARCHAR(64) NOT NULL,
			counterpart        VARCHAR(64) NOT NULL,
			level              INTEGER NOT NULL,
			risk_score         DOUBLE PRECISION NOT NULL,
			slow_mode          BOOLEAN NOT NULL DEFAULT FALSE,
			reply_only         BOOLEAN NOT NULL DEFAULT FALSE,
			hard_block         BOOLEAN NOT NULL DEFAULT FALSE,
			case_id            VARCHAR(72),
			resolved_at        TIMESTAMPTZ,
			resolved_by        VARCHAR(64),
			resolution_reason  TEXT,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS shield_signals (
			id           BIGSERIAL PRIMARY KEY,
			shield_id    VARCHAR(72) NOT NULL,
			signal_type  VARCHAR(48) NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL,
			evidence     JSONB,
			detected_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS shield_actions (
			id         BIGSERIAL PRIMARY KEY,
			shield_id  VARCHAR(72) NOT NULL,
			action     VARCHAR(32) NOT NULL,
			level      INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			at         TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_shield_records_live_pair
			ON shield_records(pair_key) WHERE resolved_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_shield_records_protected ON shield_records(protected_user);
		CREATE INDEX IF NOT EXISTS idx_shield_signals_shield ON shield_signals(shield_id);
		CREATE INDEX IF NOT EXISTS idx_shield_actions_shield ON shield_actions(shield_id);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, st *State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shield_records
			(shield_id, pair_key, protected_user, counterpart, level, risk_score,
			 slow_mode, reply_only, hard_block, case_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12)
	`,
		st.ID, st.Key, st.ProtectedUserID, st.CounterpartID, int(st.Level), st.RiskScore,
		st.Modes.SlowMode, st.Modes.ReplyOnly, st.Modes.HardBlock, st.CaseID,
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert shield record: %w", err)
	}
	if err := s.insertSignals(ctx, st.ID, st.Signals); err != nil {
		return err
	}
	return s.insertActions(ctx, st.ID, st.Actions)
}

func (s *PostgresStore) insertSignals(ctx context.Context, shieldID string, signals []RecordedSignal) error {
	for _, sig := range signals {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO shield_signals (shield_id, signal_type, confidence, evidence, detected_at)
			VALUES ($1,$2,$3,$4,$5)
		`, shieldID, string(sig.Type), sig.Confidence, []byte(sig.Evidence), sig.DetectedAt)
		if err != nil {
			return fmt.Errorf("append shield signal: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertActions(ctx context.Context, shieldID string, actions []ActionEntry) error {
	for _, a := range actions {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO shield_actions (shield_id, action, level, reason, at)
			VALUES ($1,$2,$3,$4,$5)
		`, shieldID, a.Action, int(a.Level), a.Reason, a.At)
		if err != nil {
			return fmt.Errorf("append shield action: %w", err)
		}
	}
	return nil
}

// Get returns the latest record for the pair, resolved or not.
func (s *PostgresStore) Get(ctx context.Context, key string) (*State, error) {
	st := &State{}
	var level int
	var caseID sql.NullString
	var resolvedAt sql.NullTime
	var resolvedBy, resolutionReason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT shield_id, pair_key, protected_user, counterpart, level, risk_score,
		       slow_mode, reply_only, hard_block, case_id,
		       created_at, updated_at, resolved_at, resolved_by, resolution_reason
		FROM shield_records
		WHERE pair_key = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, key).Scan(
		&st.ID, &st.Key, &st.ProtectedUserID, &st.CounterpartID, &level, &st.RiskScore,
		&st.Modes.SlowMode, &st.Modes.ReplyOnly, &st.Modes.HardBlock, &caseID,
		&st.CreatedAt, &st.UpdatedAt, &resolvedAt, &resolvedBy, &resolutionReason,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shield record: %w", err)
	}
	st.Level = Level(level)
	st.CaseID = caseID.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		st.ResolvedAt = &t
		st.ResolvedBy = resolvedBy.String
		st.ResolutionReason = resolutionReason.String
	}
	if err := s.loadChildren(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) loadChildren(ctx context.Context, st *State) error {
	sigRows, err := s.db.QueryContext(ctx, `
		SELECT signal_type, confidence, evidence, detected_at
		FROM shield_signals WHERE shield_id = $1 ORDER BY detected_at, id
	`, st.ID)
	if err != nil {
		return fmt.Errorf("load shield signals: %w", err)
	}
	defer func() { _ = sigRows.Close() }()
	for sigRows.Next() {
		var sig RecordedSignal
		var typ string
		var evidence []byte
		if err := sigRows.Scan(&typ, &sig.Confidence, &evidence, &sig.DetectedAt); err != nil {
			continue
		}
		sig.Type = detection.SignalType(typ)
		sig.Evidence = evidence
		st.Signals = append(st.Signals, sig)
	}

	actRows, err := s.db.QueryContext(ctx, `
		SELECT action, level, reason, at
		FROM shield_actions WHERE shield_id = $1 ORDER BY at, id
	`, st.ID)
	if err != nil {
		return fmt.Errorf("load shield actions: %w", err)
	}
	defer func() { _ = actRows.Close() }()
	for actRows.Next() {
		var a ActionEntry
		var level int
		if err := actRows.Scan(&a.Action, &level, &a.Reason, &a.At); err != nil {
			continue
		}
		a.Level = Level(level)
		st.Actions = append(st.Actions, a)
	}
	return nil
}

func (s *PostgresStore) AppendSignals(ctx context.Context, key string, signals []RecordedSignal, newScore float64) error {
	var shieldID string
	// Score only ratchets upward; GREATEST keeps a stale writer from
	// shrinking it.
	err := s.db.QueryRowContext(ctx, `
		UPDATE shield_records
		SET risk_score = GREATEST(risk_score, $2), updated_at = NOW()
		WHERE pair_key = $1 AND resolved_at IS NULL
		RETURNING shield_id
	`, key, newScore).Scan(&shieldID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update shield score: %w", err)
	}
	return s.insertSignals(ctx, shieldID, signals)
}

func (s *PostgresStore) ApplyEscalation(ctx context.Context, key string, from, to Level, modes Modes, actions []ActionEntry, caseID string) error {
	var shieldID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE shield_records
		SET level = $3, slow_mode = $4, reply_only = $5, hard_block = $6,
		    case_id = COALESCE(NULLIF($7,''), case_id), updated_at = NOW()
		WHERE pair_key = $1 AND level = $2 AND resolved_at IS NULL
		RETURNING shield_id
	`, key, int(from), int(to), modes.SlowMode, modes.ReplyOnly, modes.HardBlock, caseID).Scan(&shieldID)
	if err == sql.ErrNoRows {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM shield_records WHERE pair_key = $1 AND resolved_at IS NULL)`, key,
		).Scan(&exists); qerr == nil && !exists {
			return ErrNotFound
		}
		return ErrLevelConflict
	}
	if err != nil {
		return fmt.Errorf("apply shield escalation: %w", err)
	}
	return s.insertActions(ctx, shieldID, actions)
}

func (s *PostgresStore) Resolve(ctx context.Context, key string, at time.Time, actor, reason string) error {
	var shieldID string
	var level int
	err := s.db.QueryRowContext(ctx, `
		UPDATE shield_records
		SET resolved_at = $2, resolved_by = $3, resolution_reason = $4, updated_at = $2
		WHERE pair_key = $1 AND resolved_at IS NULL
		RETURNING shield_id, level
	`, key, at, actor, reason).Scan(&shieldID, &level)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve shield: %w", err)
	}
	return s.insertActions(ctx, shieldID, []ActionEntry{
		{Action: "shield_resolved", Level: Level(level), Reason: reason, At: at},
	})
}

func (s *PostgresStore) ListActiveForUser(ctx context.Context, protectedUserID string) ([]*State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shield_id, pair_key, protected_user, counterpart, level, risk_score,
		       slow_mode, reply_only, hard_block, case_id, created_at, updated_at
		FROM shield_records
		WHERE protected_user = $1 AND resolved_at IS NULL
	`, protectedUserID)
	if err != nil {
		return nil, fmt.Errorf("list active shields: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*State
	for rows.Next() {
		st := &State{}
		var level int
		var caseID sql.NullString
		if err := rows.Scan(
			&st.ID, &st.Key, &st.ProtectedUserID, &st.CounterpartID, &level, &st.RiskScore,
			&st.Modes.SlowMode, &st.Modes.ReplyOnly, &st.Modes.HardBlock, &caseID,
			&st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			continue
		}
		st.Level = Level(level)
		st.CaseID = caseID.String
		result = append(result, st)
	}
	return result, rows.Err()
}
