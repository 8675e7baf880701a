package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists assessments in PostgreSQL. Assessments are
// immutable once written; the gathered signals are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the assessments table
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			assessment_id   VARCHAR(72) PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL,
			counterpart_id  VARCHAR(64) NOT NULL DEFAULT '',
			action_context  VARCHAR(48) NOT NULL,
			score           DOUBLE PRECISION NOT NULL,
			action          VARCHAR(32) NOT NULL,
			signals         JSONB,
			side_effect     TEXT NOT NULL DEFAULT '',
			notified        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_assessments_user ON risk_assessments(user_id, created_at);
	`)
	return err
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, a *Assessment) error {
	signals, err := json.Marshal(a.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(assessment_id, user_id, counterpart_id, action_context, score,
			 action, signals, side_effect, notified, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		a.ID, a.UserID, a.CounterpartID, a.Context, a.Score,
		string(a.Action), signals, a.SideEffect, a.Notified, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `assessment_id, user_id, counterpart_id, action_context,
	score, action, signals, side_effect, notified, created_at`

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments WHERE assessment_id = $1
	`, id)

	a, err := scanAssessment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAssessment(scan func(dest ...any) error) (*Assessment, error) {
	var a Assessment
	var action string
	var signals []byte
	err := scan(&a.ID, &a.UserID, &a.CounterpartID, &a.Context,
		&a.Score, &action, &signals, &a.SideEffect, &a.Notified, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Action = Action(action)
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &a.Signals); err != nil {
			return nil, fmt.Errorf("parse signals: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
