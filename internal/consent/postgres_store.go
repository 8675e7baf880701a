package consent

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists consent records in PostgreSQL.
//
// History entries and pending refunds live in child tables so mutations are
// plain INSERT/DELETE statements: two writers hitting the same pair append
// independent rows instead of racing on one wide row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed consent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the consent tables
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS consent_records (
			pair_key      TEXT PRIMARY KEY,
			record_id     VARCHAR(72) NOT NULL,
			user_a        VARCHAR(64) NOT NULL,
			user_b        VARCHAR(64) NOT NULL,
			state         VARCHAR(32) NOT NULL,
			initiated_by  VARCHAR(64) NOT NULL,
			source        VARCHAR(32) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS consent_history (
			id          BIGSERIAL PRIMARY KEY,
			record_id   VARCHAR(72) NOT NULL,
			from_state  VARCHAR(32) NOT NULL,
			to_state    VARCHAR(32) NOT NULL,
			actor       VARCHAR(64) NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			at          TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS consent_pending_refunds (
			id         BIGSERIAL PRIMARY KEY,
			record_id  VARCHAR(72) NOT NULL,
			tx_id      TEXT NOT NULL,
			added_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_consent_records_user_a ON consent_records(user_a);
		CREATE INDEX IF NOT EXISTS idx_consent_records_user_b ON consent_records(user_b);
		CREATE INDEX IF NOT EXISTS idx_consent_history_record ON consent_history(record_id);
		CREATE INDEX IF NOT EXISTS idx_consent_refunds_record ON consent_pending_refunds(record_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_consent_refunds_record_tx ON consent_pending_refunds(record_id, tx_id);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// A revoked record for the pair is replaced in place; its history stays
	// in the child table keyed by the old record id.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO consent_records
			(pair_key, record_id, user_a, user_b, state, initiated_by, source, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (pair_key) DO UPDATE SET
			record_id = EXCLUDED.record_id,
			state = EXCLUDED.state,
			initiated_by = EXCLUDED.initiated_by,
			source = EXCLUDED.source,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE consent_records.state = 'revoked'
	`,
		rec.PairKey, rec.ID, rec.UserA, rec.UserB, string(rec.State),
		rec.InitiatedBy, rec.Source, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}

	for _, h := range rec.History {
		if err := insertHistory(ctx, tx, rec.ID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sql.Tx, recordID string, h HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO consent_history (record_id, from_state, to_state, actor, reason, at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, recordID, string(h.From), string(h.To), h.Actor, h.Reason, h.At)
	if err != nil {
		return fmt.Errorf("append consent history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, pairKey string) (*Record, error) {
	rec := &Record{}
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, pair_key, user_a, user_b, state, initiated_by, source, created_at, updated_at
		FROM consent_records WHERE pair_key = $1
	`, pairKey).Scan(
		&rec.ID, &rec.PairKey, &rec.UserA, &rec.UserB, &state,
		&rec.InitiatedBy, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	rec.State = State(state)
	rec.Capabilities = capabilitiesFor(rec.State)

	rows, err := s.db.QueryContext(ctx, `
		SELECT from_state, to_state, actor, reason, at
		FROM consent_history WHERE record_id = $1 ORDER BY at, id
	`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load consent history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h HistoryEntry
		var from, to string
		if err := rows.Scan(&from, &to, &h.Actor, &h.Reason, &h.At); err != nil {
			continue
		}
		h.From, h.To = State(from), State(to)
		rec.History = append(rec.History, h)
	}

	refundRows, err := s.db.QueryContext(ctx, `
		SELECT tx_id FROM consent_pending_refunds WHERE record_id = $1 ORDER BY added_at
	`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load pending refunds: %w", err)
	}
	defer func() { _ = refundRows.Close() }()
	for refundRows.Next() {
		var txID string
		if err := refundRows.Scan(&txID); err == nil {
			rec.PendingRefunds = append(rec.PendingRefunds, txID)
		}
	}
	return rec, nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, pair_key, user_a, user_b, state, initiated_by, source, created_at, updated_at
		FROM consent_records
		WHERE state = 'active_consent' AND (user_a = $1 OR user_b = $1)
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active consent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		rec := &Record{}
		var state string
		if err := rows.Scan(
			&rec.ID, &rec.PairKey, &rec.UserA, &rec.UserB, &state,
			&rec.InitiatedBy, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			continue
		}
		rec.State = State(state)
		rec.Capabilities = capabilitiesFor(rec.State)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// SetState moves the record from→to in a single conditional statement. Zero
// rows affected means either the record is missing or another writer got
// there first; the two cases are distinguished for the caller.
func (s *PostgresStore) SetState(ctx context.Context, pairKey string, from, to State, caps Capabilities, entry HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var recordID string
	err = tx.QueryRowContext(ctx, `
		UPDATE consent_records
		SET state = $3, updated_at = $4
		WHERE pair_key = $1 AND state = $2
		RETURNING record_id
	`, pairKey, string(from), string(to), entry.At).Scan(&recordID)
	if err == sql.ErrNoRows {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM consent_records WHERE pair_key = $1)`, pairKey,
		).Scan(&exists); err == nil && !exists {
			return ErrNotFound
		}
		return ErrStateConflict
	}
	if err != nil {
		return fmt.Errorf("set consent state: %w", err)
	}
	if err := insertHistory(ctx, tx, recordID, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) AddPendingRefund(ctx context.Context, pairKey, txID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_pending_refunds (record_id, tx_id)
		SELECT record_id, $2 FROM consent_records WHERE pair_key = $1
		ON CONFLICT (record_id, tx_id) DO NOTHING
	`, pairKey, txID)
	if err != nil {
		return fmt.Errorf("add pending refund: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM consent_records WHERE pair_key = $1)`, pairKey,
		).Scan(&exists); err == nil && !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) RemovePendingRefund(ctx context.Context, pairKey, txID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM consent_pending_refunds
		WHERE tx_id = $2
		  AND record_id = (SELECT record_id FROM consent_records WHERE pair_key = $1)
	`, pairKey, txID)
	if err != nil {
		return fmt.Errorf("remove pending refund: %w", err)
	}
	return nil
}

func (s *PostgresStore) DrainPendingRefunds(ctx context.Context, pairKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM consent_pending_refunds
		WHERE record_id = (SELECT record_id FROM consent_records WHERE pair_key = $1)
		RETURNING tx_id
	`, pairKey)
	if err != nil {
		return nil, fmt.Errorf("drain pending refunds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var drained []string
	for rows.Next() {
		var txID string
		if err := rows.Scan(&txID); err == nil {
			drained = append(drained, txID)
		}
	}
	return drained, rows.Err()
}
