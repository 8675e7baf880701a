package confidence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lumen-social/trustcore/internal/detection"
	"github.com/lumen-social/trustcore/internal/pagination"
)

// PostgresStore persists confidence rules and moderation feedback in
// PostgreSQL. MarkApplied flips the applied flag with a conditional UPDATE
// and returns only the rows it actually flipped, which is what makes
// repeated batch applications no-ops.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed confidence store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the confidence rule and feedback tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS confidence_rules (
			signal_type         VARCHAR(48) PRIMARY KEY,
			base_confidence     DOUBLE PRECISION NOT NULL,
			current_confidence  DOUBLE PRECISION NOT NULL,
			true_positives      INTEGER NOT NULL DEFAULT 0,
			false_positives     INTEGER NOT NULL DEFAULT 0,
			false_negatives     INTEGER NOT NULL DEFAULT 0,
			true_negatives      INTEGER NOT NULL DEFAULT 0,
			precision           DOUBLE PRECISION NOT NULL DEFAULT 0,
			recall              DOUBLE PRECISION NOT NULL DEFAULT 0,
			f1                  DOUBLE PRECISION NOT NULL DEFAULT 0,
			feedback_count      INTEGER NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS moderation_feedback (
			feedback_id   VARCHAR(72) PRIMARY KEY,
			signal_type   VARCHAR(48) NOT NULL,
			label         VARCHAR(32) NOT NULL,
			case_id       VARCHAR(72) NOT NULL DEFAULT '',
			moderator_id  VARCHAR(64) NOT NULL,
			notes         TEXT NOT NULL DEFAULT '',
			applied       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feedback_type_applied ON moderation_feedback(signal_type, applied);
	`)
	return err
}

const ruleColumns = `signal_type, base_confidence, current_confidence,
	true_positives, false_positives, false_negatives, true_negatives,
	precision, recall, f1, feedback_count, created_at, updated_at`

func (s *PostgresStore) GetRule(ctx context.Context, t detection.SignalType) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM confidence_rules WHERE signal_type = $1
	`, string(t))
	return scanRule(row)
}

func scanRule(row *sql.Row) (*Rule, error) {
	var rule Rule
	var typ string
	err := row.Scan(&typ, &rule.BaseConfidence, &rule.CurrentConfidence,
		&rule.TruePositives, &rule.FalsePositives, &rule.FalseNegatives, &rule.TrueNegatives,
		&rule.Precision, &rule.Recall, &rule.F1, &rule.FeedbackCount,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan confidence rule: %w", err)
	}
	rule.Type = detection.SignalType(typ)
	return &rule, nil
}

func (s *PostgresStore) SaveRule(ctx context.Context, rule *Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO confidence_rules (`+ruleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (signal_type) DO UPDATE SET
			current_confidence = EXCLUDED.current_confidence,
			true_positives = EXCLUDED.true_positives,
			false_positives = EXCLUDED.false_positives,
			false_negatives = EXCLUDED.false_negatives,
			true_negatives = EXCLUDED.true_negatives,
			precision = EXCLUDED.precision,
			recall = EXCLUDED.recall,
			f1 = EXCLUDED.f1,
			feedback_count = EXCLUDED.feedback_count,
			updated_at = EXCLUDED.updated_at
	`,
		string(rule.Type), rule.BaseConfidence, rule.CurrentConfidence,
		rule.TruePositives, rule.FalsePositives, rule.FalseNegatives, rule.TrueNegatives,
		rule.Precision, rule.Recall, rule.F1, rule.FeedbackCount,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save confidence rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM confidence_rules ORDER BY signal_type
	`)
	if err != nil {
		return nil, fmt.Errorf("list confidence rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var rule Rule
		var typ string
		if err := rows.Scan(&typ, &rule.BaseConfidence, &rule.CurrentConfidence,
			&rule.TruePositives, &rule.FalsePositives, &rule.FalseNegatives, &rule.TrueNegatives,
			&rule.Precision, &rule.Recall, &rule.F1, &rule.FeedbackCount,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan confidence rule: %w", err)
		}
		rule.Type = detection.SignalType(typ)
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) AddFeedback(ctx context.Context, fb *Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_feedback
			(feedback_id, signal_type, label, case_id, moderator_id, notes, applied, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		fb.ID, string(fb.SignalType), string(fb.Label),
		fb.CaseID, fb.ModeratorID, fb.Notes, fb.Applied, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert moderation feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountUnapplied(ctx context.Context, t detection.SignalType) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM moderation_feedback
		WHERE signal_type = $1 AND NOT applied
	`, string(t)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unapplied feedback: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUnapplied(ctx context.Context, t detection.SignalType, cursor *pagination.Cursor, limit int) ([]*Feedback, error) {
	query := `
		SELECT feedback_id, signal_type, label, case_id, moderator_id, notes, applied, created_at
		FROM moderation_feedback
		WHERE signal_type = $1 AND NOT applied`
	args := []any{string(t)}
	if cursor != nil {
		query += ` AND (created_at, feedback_id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at, feedback_id LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unapplied feedback: %w", err)
	}
	defer rows.Close()

	var result []*Feedback
	for rows.Next() {
		var fb Feedback
		var typ, label string
		if err := rows.Scan(&fb.ID, &typ, &label, &fb.CaseID, &fb.ModeratorID,
			&fb.Notes, &fb.Applied, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation feedback: %w", err)
		}
		fb.SignalType = detection.SignalType(typ)
		fb.Label = Label(label)
		result = append(result, &fb)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MarkApplied(ctx context.Context, ids []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE moderation_feedback SET applied = TRUE
		WHERE feedback_id = ANY($1) AND NOT applied
		RETURNING feedback_id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("mark feedback applied: %w", err)
	}
	defer rows.Close()

	var flipped []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan applied feedback id: %w", err)
		}
		flipped = append(flipped, id)
	}
	return flipped, rows.Err()
}
