package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
)

type pgApprovals Postgres

// Create relies on the partial unique index over open approvals to
// enforce at most one pending gate per (execution, step).
func (a *pgApprovals) Create(ctx context.Context, appr *types.PendingApproval) error {
	p := (*Postgres)(a)
	doc, err := json.Marshal(appr)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO approvals (id, execution_id, step_index, status, expires_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		appr.ID, appr.ExecutionID, appr.StepIndex, string(appr.Status), appr.ExpiresAt, doc,
	)
	if uniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (a *pgApprovals) Get(ctx context.Context, id string) (*types.PendingApproval, error) {
	return a.scanOne(ctx, `SELECT doc FROM approvals WHERE id = $1`, id)
}

func (a *pgApprovals) GetOpen(ctx context.Context, executionID string, stepIndex int) (*types.PendingApproval, error) {
	return a.scanOne(ctx,
		`SELECT doc FROM approvals
		 WHERE execution_id = $1 AND step_index = $2 AND status = 'pending'`,
		executionID, stepIndex,
	)
}

func (a *pgApprovals) Update(ctx context.Context, appr *types.PendingApproval) error {
	p := (*Postgres)(a)
	doc, err := json.Marshal(appr)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE approvals SET status = $2, expires_at = $3, doc = $4 WHERE id = $1`,
		appr.ID, string(appr.Status), appr.ExpiresAt, doc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (a *pgApprovals) ListExpired(ctx context.Context, now time.Time) ([]*types.PendingApproval, error) {
	p := (*Postgres)(a)
	rows, err := p.pool.Query(ctx,
		`SELECT doc FROM approvals
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.PendingApproval
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var appr types.PendingApproval
		if err := json.Unmarshal(doc, &appr); err != nil {
			return nil, err
		}
		out = append(out, &appr)
	}
	return out, rows.Err()
}

func (a *pgApprovals) scanOne(ctx context.Context, query string, args ...any) (*types.PendingApproval, error) {
	p := (*Postgres)(a)
	var doc []byte
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&doc); err != nil {
		return nil, mapNoRows(err)
	}
	var appr types.PendingApproval
	if err := json.Unmarshal(doc, &appr); err != nil {
		return nil, err
	}
	return &appr, nil
}

type pgSecrets Postgres

// Create persists a secret row. The ciphertext lives in its own
// column because the doc's json tags drop it on purpose.
func (s *pgSecrets) Create(ctx context.Context, sec *types.Secret) error {
	p := (*Postgres)(s)
	doc, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO secrets (id, name, scope, environment, runbook_id, ciphertext, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sec.ID, sec.Name, string(sec.Scope), string(sec.Environment), sec.RunbookID, sec.Ciphertext, doc,
	)
	if uniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *pgSecrets) Get(ctx context.Context, id string) (*types.Secret, error) {
	return s.scanOne(ctx,
		`SELECT ciphertext, doc FROM secrets WHERE id = $1`, id)
}

func (s *pgSecrets) Update(ctx context.Context, sec *types.Secret) error {
	p := (*Postgres)(s)
	doc, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE secrets SET ciphertext = $2, doc = $3 WHERE id = $1`,
		sec.ID, sec.Ciphertext, doc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *pgSecrets) ListByName(ctx context.Context, name string) ([]*types.Secret, error) {
	return s.scanMany(ctx,
		`SELECT ciphertext, doc FROM secrets WHERE name = $1`, name)
}

func (s *pgSecrets) ListForExecution(ctx context.Context, runbookID string, env types.Environment) ([]*types.Secret, error) {
	return s.scanMany(ctx,
		`SELECT ciphertext, doc FROM secrets
		 WHERE scope = 'organization'
		    OR (scope = 'environment' AND environment = $2)
		    OR (scope = 'runbook' AND runbook_id = $1)`,
		runbookID, string(env),
	)
}

func (s *pgSecrets) scanOne(ctx context.Context, query string, args ...any) (*types.Secret, error) {
	p := (*Postgres)(s)
	var ciphertext string
	var doc []byte
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&ciphertext, &doc); err != nil {
		return nil, mapNoRows(err)
	}
	var sec types.Secret
	if err := json.Unmarshal(doc, &sec); err != nil {
		return nil, err
	}
	sec.Ciphertext = ciphertext
	return &sec, nil
}

func (s *pgSecrets) scanMany(ctx context.Context, query string, args ...any) ([]*types.Secret, error) {
	p := (*Postgres)(s)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Secret
	for rows.Next() {
		var ciphertext string
		var doc []byte
		if err := rows.Scan(&ciphertext, &doc); err != nil {
			return nil, err
		}
		var sec types.Secret
		if err := json.Unmarshal(doc, &sec); err != nil {
			return nil, err
		}
		sec.Ciphertext = ciphertext
		out = append(out, &sec)
	}
	return out, rows.Err()
}

type pgSchedules Postgres

func (s *pgSchedules) Create(ctx context.Context, sched *types.Schedule) error {
	p := (*Postgres)(s)
	doc, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO schedules (id, is_active, next_run_at, doc) VALUES ($1, $2, $3, $4)`,
		sched.ID, sched.IsActive, nullableTime(sched.NextRunAt), doc,
	)
	if uniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *pgSchedules) Get(ctx context.Context, id string) (*types.Schedule, error) {
	p := (*Postgres)(s)
	var doc []byte
	if err := p.pool.QueryRow(ctx, `SELECT doc FROM schedules WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, mapNoRows(err)
	}
	return unmarshalSchedule(doc)
}

func (s *pgSchedules) Update(ctx context.Context, sched *types.Schedule) error {
	p := (*Postgres)(s)
	doc, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE schedules SET is_active = $2, next_run_at = $3, doc = $4 WHERE id = $1`,
		sched.ID, sched.IsActive, nullableTime(sched.NextRunAt), doc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *pgSchedules) List(ctx context.Context) ([]*types.Schedule, error) {
	return s.scanMany(ctx, `SELECT doc FROM schedules ORDER BY id`)
}

func (s *pgSchedules) ListDue(ctx context.Context, now time.Time) ([]*types.Schedule, error) {
	return s.scanMany(ctx,
		`SELECT doc FROM schedules
		 WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= $1`,
		now,
	)
}

// ClaimDue advances nextRunAt only if it still matches the observed
// value. A zero newNext deactivates the schedule (one-shot fired, or
// no further cron occurrences).
func (s *pgSchedules) ClaimDue(ctx context.Context, id string, observedNext, newNext time.Time, firedAt time.Time) error {
	p := (*Postgres)(s)
	return p.inTx(ctx, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx,
			`SELECT doc FROM schedules WHERE id = $1 FOR UPDATE`, id,
		).Scan(&doc)
		if err != nil {
			return mapNoRows(err)
		}

		sched, err := unmarshalSchedule(doc)
		if err != nil {
			return err
		}
		if !sched.IsActive || !sched.NextRunAt.Equal(observedNext) {
			return store.ErrConflict
		}

		fired := firedAt
		sched.LastRunAt = &fired
		sched.NextRunAt = newNext
		sched.UpdatedAt = firedAt
		if newNext.IsZero() {
			sched.IsActive = false
		}

		updated, err := json.Marshal(sched)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE schedules SET is_active = $2, next_run_at = $3, doc = $4 WHERE id = $1`,
			id, sched.IsActive, nullableTime(sched.NextRunAt), updated,
		)
		return err
	})
}

func (s *pgSchedules) scanMany(ctx context.Context, query string, args ...any) ([]*types.Schedule, error) {
	p := (*Postgres)(s)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Schedule
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		sched, err := unmarshalSchedule(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func unmarshalSchedule(doc []byte) (*types.Schedule, error) {
	var sched types.Schedule
	if err := json.Unmarshal(doc, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
