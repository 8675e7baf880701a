package notify

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists subscriptions and the delivery log in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the subscription and delivery tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notification_subscriptions (
			subscription_id  VARCHAR(72) PRIMARY KEY,
			user_id          VARCHAR(64) NOT NULL,
			url              TEXT NOT NULL,
			secret           VARCHAR(64) NOT NULL,
			categories       TEXT[] NOT NULL DEFAULT '{}',
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ NOT NULL,
			last_success     TIMESTAMPTZ,
			last_error       TEXT
		);
		CREATE TABLE IF NOT EXISTS notification_deliveries (
			id               BIGSERIAL PRIMARY KEY,
			notification_id  VARCHAR(72) NOT NULL,
			user_id          VARCHAR(64) NOT NULL,
			category         VARCHAR(48) NOT NULL,
			title            TEXT NOT NULL,
			body             TEXT NOT NULL,
			priority         VARCHAR(16) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notif_subs_user ON notification_subscriptions(user_id);
		CREATE INDEX IF NOT EXISTS idx_notif_deliveries_user ON notification_deliveries(user_id, created_at);
	`)
	return err
}

func (p *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notification_subscriptions (subscription_id, user_id, url, secret, categories, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.UserID, sub.URL, sub.Secret, pq.Array(sub.Categories), sub.Active, sub.CreatedAt)
	return err
}

func (p *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT subscription_id, user_id, url, secret, categories, active, created_at, last_success, last_error
		FROM notification_subscriptions WHERE subscription_id = $1
	`, id)
	sub, err := scanSubscription(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT subscription_id, user_id, url, secret, categories, active, created_at, last_success, last_error
		FROM notification_subscriptions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (p *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE notification_subscriptions SET
			active = $1,
			last_success = $2,
			last_error = $3
		WHERE subscription_id = $4
	`, sub.Active, sub.LastSuccess, nullIfEmpty(sub.LastError), sub.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (p *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM notification_subscriptions WHERE subscription_id = $1`, id)
	return err
}

func (p *PostgresStore) AppendDelivery(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notification_deliveries (notification_id, user_id, category, title, body, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Category, n.Title, n.Body, n.Priority, n.CreatedAt)
	return err
}

func (p *PostgresStore) ListDeliveries(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT notification_id, user_id, category, title, body, priority, created_at
		FROM notification_deliveries
		WHERE user_id = $1
		ORDER BY created_at DESC, notification_id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Category, &n.Title, &n.Body, &n.Priority, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func scanSubscription(scan func(dest ...any) error) (*Subscription, error) {
	sub := &Subscription{}
	var lastSuccess sql.NullTime
	var lastError sql.NullString
	err := scan(
		&sub.ID, &sub.UserID, &sub.URL, &sub.Secret, pq.Array(&sub.Categories),
		&sub.Active, &sub.CreatedAt, &lastSuccess, &lastError,
	)
	if err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		sub.LastSuccess = &lastSuccess.Time
	}
	sub.LastError = lastError.String
	return sub, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
