package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
// The initial ping is retried with exponential backoff so the service can start
// alongside its database container.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	ping := func() error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the schema if it does not exist.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			username   TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL UNIQUE,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS subscription_plans (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			price              BIGINT NOT NULL,
			duration_days      INTEGER NOT NULL,
			token_credits_cost BIGINT NOT NULL,
			is_active          BOOLEAN NOT NULL DEFAULT TRUE,
			description        TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		-- One tracked window per user: settlements replace, never stack.
		CREATE TABLE IF NOT EXISTS active_subscriptions (
			user_id              TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			subscription_plan_id TEXT NOT NULL,
			track_id             TEXT,
			activated_at         TIMESTAMPTZ NOT NULL,
			expires_at           TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS balances (
			user_id       TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			token_credits BIGINT NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			token_type TEXT NOT NULL,
			context    TEXT NOT NULL,
			raw_amount BIGINT NOT NULL,
			track_id   TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_payment_track_id
			ON transactions(track_id) WHERE context = 'payment';

		-- track_id stays NULL until the gateway opens a session, so pending
		-- rows never collide on the unique constraint.
		CREATE TABLE IF NOT EXISTS payments (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			track_id             TEXT UNIQUE,
			is_successful        BOOLEAN NOT NULL DEFAULT FALSE,
			status               TEXT NOT NULL DEFAULT 'pending',
			gateway              TEXT NOT NULL,
			subscription_plan_id TEXT NOT NULL,
			amount               BIGINT NOT NULL DEFAULT 0,
			credits              BIGINT NOT NULL DEFAULT 0,
			duration_days        INTEGER NOT NULL DEFAULT 0,
			last_checked_at      TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		-- Purchase terms are frozen on the payment row; plan edits do not reach it.
		ALTER TABLE payments ADD COLUMN IF NOT EXISTS credits BIGINT NOT NULL DEFAULT 0;
		ALTER TABLE payments ADD COLUMN IF NOT EXISTS duration_days INTEGER NOT NULL DEFAULT 0;
		ALTER TABLE payments ADD COLUMN IF NOT EXISTS last_checked_at TIMESTAMPTZ;
		CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id);
		CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments(created_at) WHERE status = 'pending';
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
