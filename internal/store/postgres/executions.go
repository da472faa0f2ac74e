package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
)

type pgExecutions Postgres

func (e *pgExecutions) Create(ctx context.Context, exec *types.Execution) error {
	p := (*Postgres)(e)
	doc, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO executions (id, status, cancel_requested, created_at, doc)
		 VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, string(exec.Status), exec.CancelRequested, exec.CreatedAt, doc,
	)
	if uniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (e *pgExecutions) Get(ctx context.Context, id string) (*types.Execution, error) {
	p := (*Postgres)(e)
	var doc []byte
	if err := p.pool.QueryRow(ctx, `SELECT doc FROM executions WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, mapNoRows(err)
	}
	return unmarshalExecution(doc)
}

func (e *pgExecutions) Update(ctx context.Context, exec *types.Execution) error {
	p := (*Postgres)(e)
	doc, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	// cancel_requested is only ever set by RequestCancel; keep the
	// column authoritative so a concurrent cancel is not clobbered by
	// a worker writing stale state.
	tag, err := p.pool.Exec(ctx,
		`UPDATE executions
		 SET status = $2,
		     doc = $3 || jsonb_build_object('cancelRequested', cancel_requested)
		 WHERE id = $1`,
		exec.ID, string(exec.Status), doc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Claim transitions the execution only if it is still in the expected
// status. The conditional UPDATE is the whole locking story: losing
// workers see zero rows affected.
func (e *pgExecutions) Claim(ctx context.Context, id string, from, to types.ExecutionStatus) (*types.Execution, error) {
	p := (*Postgres)(e)
	var claimed *types.Execution
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx,
			`SELECT doc FROM executions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc)
		if err != nil {
			return mapNoRows(err)
		}

		exec, err := unmarshalExecution(doc)
		if err != nil {
			return err
		}
		if exec.Status != from {
			return store.ErrConflict
		}
		if err := exec.Transition(to); err != nil {
			return store.ErrConflict
		}

		updated, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE executions SET status = $2, doc = $3 WHERE id = $1`,
			id, string(exec.Status), updated,
		); err != nil {
			return err
		}
		claimed = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// DequeueQueued claims the oldest queued execution. SKIP LOCKED lets
// concurrent workers pull different rows instead of serializing on
// the head of the queue.
func (e *pgExecutions) DequeueQueued(ctx context.Context) (*types.Execution, error) {
	p := (*Postgres)(e)
	var claimed *types.Execution
	err := p.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx,
			`SELECT doc FROM executions
			 WHERE status = 'queued'
			 ORDER BY created_at
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
		).Scan(&doc)
		if err != nil {
			return mapNoRows(err)
		}

		exec, err := unmarshalExecution(doc)
		if err != nil {
			return err
		}
		if err := exec.Transition(types.ExecutionRunning); err != nil {
			return store.ErrConflict
		}

		updated, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE executions SET status = $2, doc = $3 WHERE id = $1`,
			exec.ID, string(exec.Status), updated,
		); err != nil {
			return err
		}
		claimed = exec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (e *pgExecutions) ListByStatus(ctx context.Context, status types.ExecutionStatus) ([]*types.Execution, error) {
	p := (*Postgres)(e)
	rows, err := p.pool.Query(ctx,
		`SELECT doc FROM executions WHERE status = $1 ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Execution
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		exec, err := unmarshalExecution(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (e *pgExecutions) RequestCancel(ctx context.Context, id string) error {
	p := (*Postgres)(e)
	tag, err := p.pool.Exec(ctx,
		`UPDATE executions
		 SET cancel_requested = true,
		     doc = doc || '{"cancelRequested":true}'
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func unmarshalExecution(doc []byte) (*types.Execution, error) {
	var exec types.Execution
	if err := json.Unmarshal(doc, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

type pgLogs Postgres

func (l *pgLogs) Append(ctx context.Context, entry *types.LogEntry) error {
	p := (*Postgres)(l)
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO execution_logs (execution_id, doc) VALUES ($1, $2)`,
		entry.ExecutionID, doc,
	)
	return err
}

func (l *pgLogs) List(ctx context.Context, executionID string) ([]*types.LogEntry, error) {
	p := (*Postgres)(l)
	rows, err := p.pool.Query(ctx,
		`SELECT doc FROM execution_logs WHERE execution_id = $1 ORDER BY seq`,
		executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.LogEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var entry types.LogEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
