package cases

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists moderation cases in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed case store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the moderation cases table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS moderation_cases (
			case_id        VARCHAR(72) PRIMARY KEY,
			subject        VARCHAR(64) NOT NULL,
			reporter       VARCHAR(64) NOT NULL,
			reason_codes   TEXT[] NOT NULL DEFAULT '{}',
			priority       VARCHAR(16) NOT NULL,
			evidence_refs  TEXT[] NOT NULL DEFAULT '{}',
			status         VARCHAR(16) NOT NULL,
			outcome        TEXT,
			closed_by      VARCHAR(64),
			closed_at      TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cases_status ON moderation_cases(status);
		CREATE INDEX IF NOT EXISTS idx_cases_subject ON moderation_cases(subject, created_at);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, c *Case) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO moderation_cases
			(case_id, subject, reporter, reason_codes, priority, evidence_refs, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Subject, c.Reporter, pq.Array(c.ReasonCodes), c.Priority,
		pq.Array(c.EvidenceRefs), c.Status, c.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT case_id, subject, reporter, reason_codes, priority, evidence_refs,
		       status, outcome, closed_by, created_at, closed_at
		FROM moderation_cases WHERE case_id = $1
	`, id)
	c, err := scanCase(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) Update(ctx context.Context, c *Case) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE moderation_cases SET
			status = $1,
			outcome = $2,
			closed_by = $3,
			closed_at = $4
		WHERE case_id = $5
	`, c.Status, c.Outcome, c.ClosedBy, c.ClosedAt, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Case, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT case_id, subject, reporter, reason_codes, priority, evidence_refs,
		       status, outcome, closed_by, created_at, closed_at
		FROM moderation_cases
		WHERE status = 'open'
		ORDER BY
			CASE priority
				WHEN 'urgent' THEN 0
				WHEN 'high' THEN 1
				WHEN 'normal' THEN 2
				ELSE 3
			END,
			created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCases(rows)
}

func (p *PostgresStore) ListBySubject(ctx context.Context, subject string, limit int) ([]*Case, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT case_id, subject, reporter, reason_codes, priority, evidence_refs,
		       status, outcome, closed_by, created_at, closed_at
		FROM moderation_cases
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanCases(rows)
}

func scanCase(scan func(dest ...any) error) (*Case, error) {
	c := &Case{}
	var outcome, closedBy sql.NullString
	var closedAt sql.NullTime
	err := scan(
		&c.ID, &c.Subject, &c.Reporter, pq.Array(&c.ReasonCodes), &c.Priority,
		pq.Array(&c.EvidenceRefs), &c.Status, &outcome, &closedBy, &c.CreatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Outcome = outcome.String
	c.ClosedBy = closedBy.String
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return c, nil
}

func scanCases(rows *sql.Rows) ([]*Case, error) {
	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
