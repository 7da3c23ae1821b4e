package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/window-limiter/internal/audit"
)

const createDenialsTable = `
	CREATE TABLE IF NOT EXISTS rate_limit_denials (
		id          BIGSERIAL PRIMARY KEY,
		identifier  TEXT        NOT NULL,
		window_key  TEXT        NOT NULL,
		scope       TEXT,
		count       BIGINT      NOT NULL,
		max_count   BIGINT      NOT NULL,
		reset_in    BIGINT      NOT NULL,
		client_ip   TEXT,
		user_agent  TEXT,
		instance    TEXT        NOT NULL,
		denied_at   TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS rate_limit_denials_key_idx
		ON rate_limit_denials (window_key, denied_at);
`

// PostgresAuditStore is a PostgreSQL implementation of audit.Store.
type PostgresAuditStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditStore(pool *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool}
}

// EnsureSchema creates the denials table when it does not exist yet.
func (p *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, createDenialsTable)

	return err
}

func (p *PostgresAuditStore) SaveDenial(ctx context.Context, event *audit.DenialEvent) error {
	query := `
		INSERT INTO rate_limit_denials
			(identifier, window_key, scope, count, max_count, reset_in, client_ip, user_agent, instance, denied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := p.pool.Exec(ctx, query,
		event.Identifier,
		event.Key,
		nullableString(event.Scope),
		int64(event.Count),
		int64(event.Limit),
		event.ResetIn,
		nullableString(event.ClientIP),
		nullableString(event.UserAgent),
		event.Instance,
		event.DeniedAt,
	)

	return err
}

// CountDenials returns how many denials were recorded for a window key.
func (p *PostgresAuditStore) CountDenials(ctx context.Context, key string) (int64, error) {
	var n int64

	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limit_denials WHERE window_key = $1`, key,
	).Scan(&n)

	return n, err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
