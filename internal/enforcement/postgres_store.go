package enforcement

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists enforcement state in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed enforcement store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the enforcement tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS enforcement_records (
			user_id       VARCHAR(64) PRIMARY KEY,
			status        VARCHAR(32) NOT NULL,
			reason_codes  TEXT[] NOT NULL DEFAULT '{}',
			updated_at    TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS enforcement_changes (
			id            BIGSERIAL PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			from_status   VARCHAR(32) NOT NULL,
			to_status     VARCHAR(32) NOT NULL,
			reason_codes  TEXT[] NOT NULL DEFAULT '{}',
			changed_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_enforcement_changes_user ON enforcement_changes(user_id, changed_at);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Record, error) {
	rec := &Record{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, status, reason_codes, updated_at
		FROM enforcement_records WHERE user_id = $1
	`, userID).Scan(&rec.UserID, &rec.Status, pq.Array(&rec.ReasonCodes), &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO enforcement_records (user_id, status, reason_codes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason_codes = EXCLUDED.reason_codes,
			updated_at = EXCLUDED.updated_at
	`, rec.UserID, rec.Status, pq.Array(rec.ReasonCodes), rec.UpdatedAt)
	return err
}

func (p *PostgresStore) AppendChange(ctx context.Context, ch *Change) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO enforcement_changes (user_id, from_status, to_status, reason_codes, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ch.UserID, ch.From, ch.To, pq.Array(ch.ReasonCodes), ch.ChangedAt)
	return err
}

func (p *PostgresStore) ListChanges(ctx context.Context, userID string, limit int) ([]*Change, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, from_status, to_status, reason_codes, changed_at
		FROM enforcement_changes
		WHERE user_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Change
	for rows.Next() {
		ch := &Change{}
		if err := rows.Scan(&ch.UserID, &ch.From, &ch.To, pq.Array(&ch.ReasonCodes), &ch.ChangedAt); err != nil {
			return nil, err
		}
		result = append(result, ch)
	}
	return result, rows.Err()
}
