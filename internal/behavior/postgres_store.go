package behavior

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumen-social/trustcore/internal/pagination"
)

// PostgresStore persists behavior log entries in PostgreSQL. Entries are
// append-only rows; the expiry sweep is the only writer that deletes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed behavior store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the behavior log table
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS behavior_log (
			entry_id             VARCHAR(72) PRIMARY KEY,
			user_id              VARCHAR(64) NOT NULL,
			event_type           VARCHAR(48) NOT NULL,
			detected_at          TIMESTAMPTZ NOT NULL,
			confidence           DOUBLE PRECISION NOT NULL,
			evidence             JSONB,
			occurrence_count     INTEGER NOT NULL DEFAULT 1,
			days_since_previous  DOUBLE PRECISION NOT NULL DEFAULT 0,
			counterpart_id       VARCHAR(64),
			expires_at           TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_behavior_log_user ON behavior_log(user_id, detected_at);
		CREATE INDEX IF NOT EXISTS idx_behavior_log_expiry ON behavior_log(expires_at);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, entry *LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behavior_log
			(entry_id, user_id, event_type, detected_at, confidence, evidence,
			 occurrence_count, days_since_previous, counterpart_id, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10)
	`,
		entry.ID, entry.UserID, string(entry.Type), entry.DetectedAt, entry.Confidence,
		[]byte(entry.Evidence), entry.OccurrenceCount, entry.DaysSincePrevious,
		entry.CounterpartID, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("append behavior entry: %w", err)
	}
	return nil
}

const entryColumns = `entry_id, user_id, event_type, detected_at, confidence, evidence,
	occurrence_count, days_since_previous, COALESCE(counterpart_id, ''), expires_at`

func scanEntries(rows *sql.Rows) []*LogEntry {
	var result []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var typ string
		var evidence []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &typ, &e.DetectedAt, &e.Confidence, &evidence,
			&e.OccurrenceCount, &e.DaysSincePrevious, &e.CounterpartID, &e.ExpiresAt,
		); err != nil {
			continue
		}
		e.Type = EventType(typ)
		e.Evidence = evidence
		result = append(result, e)
	}
	return result
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, since time.Time) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM behavior_log
		WHERE user_id = $1 AND detected_at >= $2 AND expires_at > NOW()
		ORDER BY detected_at
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list behavior entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows), rows.Err()
}

func (s *PostgresStore) ListByUserAndType(ctx context.Context, userID string, t EventType, since time.Time) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM behavior_log
		WHERE user_id = $1 AND event_type = $2 AND detected_at >= $3 AND expires_at > NOW()
		ORDER BY detected_at
	`, userID, string(t), since)
	if err != nil {
		return nil, fmt.Errorf("list behavior entries by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows), rows.Err()
}

func (s *PostgresStore) ListByCounterpart(ctx context.Context, counterpartID string, since time.Time) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM behavior_log
		WHERE counterpart_id = $1 AND detected_at >= $2 AND expires_at > NOW()
		ORDER BY detected_at
	`, counterpartID, since)
	if err != nil {
		return nil, fmt.Errorf("list behavior entries by counterpart: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows), rows.Err()
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, cursor *pagination.Cursor, limit int) ([]*LogEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM behavior_log
		WHERE expires_at < $1`
	args := []any{before}
	if cursor != nil {
		query += ` AND (expires_at, entry_id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY expires_at, entry_id LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired behavior entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows), rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM behavior_log WHERE entry_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete behavior entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveUsers(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM behavior_log
		WHERE detected_at >= $1 AND expires_at > NOW()
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err == nil {
			users = append(users, u)
		}
	}
	return users, rows.Err()
}
