// Package postgres implements the store contracts on PostgreSQL.
// Entities are persisted as jsonb documents alongside the columns the
// claim and sweep queries filter on; claims run inside row-locking
// transactions so concurrent workers never advance the same
// execution.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runward-io/runward/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS runbooks (
	id         text        NOT NULL,
	version    int         NOT NULL,
	is_latest  boolean     NOT NULL DEFAULT false,
	doc        jsonb       NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (id, version)
);
CREATE INDEX IF NOT EXISTS idx_runbooks_latest ON runbooks (id) WHERE is_latest;

CREATE TABLE IF NOT EXISTS executions (
	id               text        PRIMARY KEY,
	status           text        NOT NULL,
	cancel_requested boolean     NOT NULL DEFAULT false,
	created_at       timestamptz NOT NULL,
	doc              jsonb       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status, created_at);

CREATE TABLE IF NOT EXISTS execution_logs (
	seq          bigserial   PRIMARY KEY,
	execution_id text        NOT NULL,
	doc          jsonb       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_execution ON execution_logs (execution_id, seq);

CREATE TABLE IF NOT EXISTS approvals (
	id           text        PRIMARY KEY,
	execution_id text        NOT NULL,
	step_index   int         NOT NULL,
	status       text        NOT NULL,
	expires_at   timestamptz,
	doc          jsonb       NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_approvals_open
	ON approvals (execution_id, step_index) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_approvals_expiry
	ON approvals (expires_at) WHERE status = 'pending' AND expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS secrets (
	id          text PRIMARY KEY,
	name        text NOT NULL,
	scope       text NOT NULL,
	environment text NOT NULL DEFAULT '',
	runbook_id  text NOT NULL DEFAULT '',
	ciphertext  text NOT NULL,
	doc         jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_secrets_name ON secrets (name);

CREATE TABLE IF NOT EXISTS schedules (
	id          text        PRIMARY KEY,
	is_active   boolean     NOT NULL DEFAULT true,
	next_run_at timestamptz,
	doc         jsonb       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due
	ON schedules (next_run_at) WHERE is_active;
`

// Postgres holds the connection pool shared by all entity views.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects, verifies the connection and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// Store returns the persistence bundle backed by this pool.
func (p *Postgres) Store() *store.Store {
	return &store.Store{
		Runbooks:   (*pgRunbooks)(p),
		Executions: (*pgExecutions)(p),
		Logs:       (*pgLogs)(p),
		Approvals:  (*pgApprovals)(p),
		Secrets:    (*pgSecrets)(p),
		Schedules:  (*pgSchedules)(p),
	}
}

// inTx runs fn in a transaction, committing on success.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// uniqueViolation maps the postgres unique-index error class.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
