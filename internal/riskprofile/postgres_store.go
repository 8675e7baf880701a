package riskprofile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists risk profiles in PostgreSQL. Transitions are an
// append-only child table; the review case id is claimed with a
// conditional single-statement UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk profile tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_profiles (
			user_id               VARCHAR(64) PRIMARY KEY,
			level                 VARCHAR(16) NOT NULL,
			score                 DOUBLE PRECISION NOT NULL,
			confidence            DOUBLE PRECISION NOT NULL,
			patterns              JSONB,
			review_case_id        VARCHAR(72),
			consent_revalidation  BOOLEAN NOT NULL DEFAULT FALSE,
			harassment_shield     BOOLEAN NOT NULL DEFAULT FALSE,
			moderator_review      BOOLEAN NOT NULL DEFAULT FALSE,
			forced_verification   BOOLEAN NOT NULL DEFAULT FALSE,
			account_lockdown      BOOLEAN NOT NULL DEFAULT FALSE,
			evaluated_at          TIMESTAMPTZ NOT NULL,
			created_at            TIMESTAMPTZ NOT NULL,
			updated_at            TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS risk_transitions (
			id           BIGSERIAL PRIMARY KEY,
			user_id      VARCHAR(64) NOT NULL,
			from_level   VARCHAR(16) NOT NULL,
			to_level     VARCHAR(16) NOT NULL,
			score        DOUBLE PRECISION NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_risk_transitions_user ON risk_transitions(user_id, occurred_at);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	var level string
	var patterns []byte
	var caseID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, level, score, confidence, patterns, review_case_id,
			consent_revalidation, harassment_shield, moderator_review,
			forced_verification, account_lockdown,
			evaluated_at, created_at, updated_at
		FROM risk_profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &level, &p.Score, &p.Confidence, &patterns, &caseID,
		&p.Triggers.ConsentRevalidation, &p.Triggers.HarassmentShield, &p.Triggers.ModeratorReview,
		&p.Triggers.ForcedVerification, &p.Triggers.AccountLockdown,
		&p.EvaluatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan risk profile: %w", err)
	}

	if err := (&p.Level).UnmarshalJSON([]byte(`"` + level + `"`)); err != nil {
		return nil, fmt.Errorf("parse risk level: %w", err)
	}
	p.ReviewCaseID = caseID.String
	if len(patterns) > 0 {
		if err := json.Unmarshal(patterns, &p.Patterns); err != nil {
			return nil, fmt.Errorf("parse patterns: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) Save(ctx context.Context, profile *Profile) error {
	patterns, err := json.Marshal(profile.Patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}

	// review_case_id is owned by SetReviewCaseID, never overwritten here.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_profiles
			(user_id, level, score, confidence, patterns,
			 consent_revalidation, harassment_shield, moderator_review,
			 forced_verification, account_lockdown,
			 evaluated_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (user_id) DO UPDATE SET
			level = EXCLUDED.level,
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			patterns = EXCLUDED.patterns,
			consent_revalidation = EXCLUDED.consent_revalidation,
			harassment_shield = EXCLUDED.harassment_shield,
			moderator_review = EXCLUDED.moderator_review,
			forced_verification = EXCLUDED.forced_verification,
			account_lockdown = EXCLUDED.account_lockdown,
			evaluated_at = EXCLUDED.evaluated_at,
			updated_at = EXCLUDED.updated_at
	`,
		profile.UserID, profile.Level.String(), profile.Score, profile.Confidence, patterns,
		profile.Triggers.ConsentRevalidation, profile.Triggers.HarassmentShield,
		profile.Triggers.ModeratorReview, profile.Triggers.ForcedVerification,
		profile.Triggers.AccountLockdown,
		profile.EvaluatedAt, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save risk profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTransition(ctx context.Context, userID string, tr Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_transitions (user_id, from_level, to_level, score, occurred_at)
		VALUES ($1,$2,$3,$4,$5)
	`, userID, tr.From.String(), tr.To.String(), tr.Score, tr.At)
	if err != nil {
		return fmt.Errorf("append risk transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransitions(ctx context.Context, userID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_level, to_level, score, occurred_at
		FROM risk_transitions WHERE user_id = $1
		ORDER BY occurred_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list risk transitions: %w", err)
	}
	defer rows.Close()

	var result []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&from, &to, &tr.Score, &tr.At); err != nil {
			return nil, fmt.Errorf("scan risk transition: %w", err)
		}
		if err := (&tr.From).UnmarshalJSON([]byte(`"` + from + `"`)); err != nil {
			return nil, err
		}
		if err := (&tr.To).UnmarshalJSON([]byte(`"` + to + `"`)); err != nil {
			return nil, err
		}
		result = append(result, tr)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetReviewCaseID(ctx context.Context, userID, caseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE risk_profiles SET review_case_id = $2
		WHERE user_id = $1 AND (review_case_id IS NULL OR review_case_id = '')
	`, userID, caseID)
	if err != nil {
		return false, fmt.Errorf("set review case id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
