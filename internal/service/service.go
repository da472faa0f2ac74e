// Package service is the application facade: runbook publishing,
// execution triggering, approvals, secrets and schedules, with the
// invariants enforced in one place regardless of which surface (CLI,
// scheduler, API) calls in.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runward-io/runward/internal/engine"
	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/scheduler"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
	"github.com/runward-io/runward/internal/vault"
)

// Service wires the domain operations. It implements
// scheduler.Enqueuer.
type Service struct {
	st     *store.Store
	vault  *vault.Vault
	engine *engine.Engine
	logger *slog.Logger
}

func New(st *store.Store, v *vault.Vault, eng *engine.Engine, logger *slog.Logger) *Service {
	return &Service{st: st, vault: v, engine: eng, logger: logger}
}

// SaveRunbook validates and persists a definition. The store assigns
// the version number and latest marker; existing versions are never
// mutated.
func (s *Service) SaveRunbook(ctx context.Context, rb *types.Runbook) (*types.Runbook, error) {
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	if rb.ID == "" {
		rb.ID = uuid.NewString()
	}
	if err := s.st.Runbooks.Save(ctx, rb); err != nil {
		return nil, err
	}
	s.logger.Info("runbook saved", "runbook_id", rb.ID, "version", rb.Version, "status", string(rb.Status))
	return rb, nil
}

// ActivateRunbook moves the latest version of a runbook to active.
func (s *Service) ActivateRunbook(ctx context.Context, runbookID string) (*types.Runbook, error) {
	rb, err := s.st.Runbooks.GetLatest(ctx, runbookID)
	if err != nil {
		return nil, err
	}
	rb.Status = types.RunbookActive
	if err := s.st.Runbooks.Save(ctx, rb); err != nil {
		return nil, err
	}
	return rb, nil
}

// Trigger creates a queued execution for the latest active version of
// a runbook. Parameters are resolved against the runbook's
// declarations before anything is persisted.
func (s *Service) Trigger(ctx context.Context, runbookID string, trigger types.TriggerType, triggeredBy string, params map[string]any) (*types.Execution, error) {
	rb, err := s.st.Runbooks.GetLatest(ctx, runbookID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, rb, trigger, triggeredBy, params)
}

// EnqueueScheduled implements scheduler.Enqueuer.
func (s *Service) EnqueueScheduled(ctx context.Context, sched *types.Schedule) (*types.Execution, error) {
	rb, err := s.st.Runbooks.GetLatest(ctx, sched.RunbookID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, rb, types.TriggerScheduled, "scheduler:"+sched.ID, sched.Parameters)
}

func (s *Service) enqueue(ctx context.Context, rb *types.Runbook, trigger types.TriggerType, triggeredBy string, params map[string]any) (*types.Execution, error) {
	if rb.Status != types.RunbookActive {
		return nil, rwerr.ConfigInvalidValue("status", "runbook "+rb.ID+" is "+string(rb.Status)+", only active runbooks can run")
	}

	resolved, err := rb.ResolveParameters(params)
	if err != nil {
		return nil, err
	}

	exec := types.NewExecution(uuid.NewString(), rb, resolved, trigger, triggeredBy)
	if err := s.st.Executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	s.logger.Info("execution queued",
		"execution_id", exec.ID,
		"runbook_id", rb.ID,
		"version", rb.Version,
		"trigger", string(trigger),
	)
	return exec, nil
}

// GetExecution returns the current execution state.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*types.Execution, error) {
	exec, err := s.st.Executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rwerr.StoreNotFound("execution", executionID)
		}
		return nil, err
	}
	return exec, nil
}

// ListLogs returns the append-only log of an execution in order.
func (s *Service) ListLogs(ctx context.Context, executionID string) ([]*types.LogEntry, error) {
	return s.st.Logs.List(ctx, executionID)
}

// CancelExecution requests cancellation.
func (s *Service) CancelExecution(ctx context.Context, executionID string) error {
	return s.engine.Cancel(ctx, executionID)
}

// Approve decides an open approval positively.
func (s *Service) Approve(ctx context.Context, approvalID, decidedBy, comment string) error {
	return s.engine.Approve(ctx, approvalID, decidedBy, comment)
}

// Reject decides an open approval negatively.
func (s *Service) Reject(ctx context.Context, approvalID, decidedBy, comment string) error {
	return s.engine.Reject(ctx, approvalID, decidedBy, comment)
}

// GetOpenApproval finds the pending approval of a paused execution.
func (s *Service) GetOpenApproval(ctx context.Context, executionID string, stepIndex int) (*types.PendingApproval, error) {
	appr, err := s.st.Approvals.GetOpen(ctx, executionID, stepIndex)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rwerr.ApprovalNotFound(executionID)
		}
		return nil, err
	}
	return appr, nil
}

// CreateSecret encrypts and stores a secret value, returning its ID.
func (s *Service) CreateSecret(ctx context.Context, name, value, secretType string, scope types.SecretScope, env types.Environment, runbookID string) (string, error) {
	return s.vault.Create(ctx, name, value, secretType, scope, env, runbookID)
}

// RotateSecret replaces a secret's value, bumping its version.
func (s *Service) RotateSecret(ctx context.Context, id, newValue string) error {
	return s.vault.Rotate(ctx, id, newValue)
}

// CreateSchedule validates and persists a recurring trigger. The
// first run time is computed here so the sweep loop only ever
// advances it.
func (s *Service) CreateSchedule(ctx context.Context, sched *types.Schedule) (*types.Schedule, error) {
	if err := sched.Validate(); err != nil {
		return nil, rwerr.ScheduleInvalid(sched.ID, err)
	}
	if sched.Frequency == types.FreqCron {
		if err := scheduler.ValidateCron(sched.CronExpression); err != nil {
			return nil, rwerr.ScheduleInvalid(sched.ID, err)
		}
	}
	if _, err := s.st.Runbooks.GetLatest(ctx, sched.RunbookID); err != nil {
		return nil, err
	}

	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.IsActive = true
	if sched.NextRunAt.IsZero() {
		next, err := scheduler.NextRun(sched, now)
		if err != nil {
			return nil, rwerr.ScheduleInvalid(sched.ID, err)
		}
		if next.IsZero() {
			// One-shot schedules fire once, immediately.
			next = now
		}
		sched.NextRunAt = next
	}

	if err := s.st.Schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"runbook_id", sched.RunbookID,
		"frequency", string(sched.Frequency),
		"next_run_at", sched.NextRunAt,
	)
	return sched, nil
}

// PauseSchedule deactivates a schedule without losing its cadence.
func (s *Service) PauseSchedule(ctx context.Context, scheduleID string) error {
	return s.setScheduleActive(ctx, scheduleID, false)
}

// ResumeSchedule reactivates a paused schedule, recomputing the next
// run so it does not fire immediately for every sweep it missed.
func (s *Service) ResumeSchedule(ctx context.Context, scheduleID string) error {
	return s.setScheduleActive(ctx, scheduleID, true)
}

func (s *Service) setScheduleActive(ctx context.Context, scheduleID string, active bool) error {
	sched, err := s.st.Schedules.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	sched.IsActive = active
	sched.UpdatedAt = time.Now().UTC()
	if active && sched.Due(time.Now().UTC()) {
		next, err := scheduler.NextRun(sched, time.Now().UTC())
		if err != nil {
			return rwerr.ScheduleInvalid(sched.ID, err)
		}
		if next.IsZero() {
			sched.IsActive = false
		}
		sched.NextRunAt = next
	}
	return s.st.Schedules.Update(ctx, sched)
}
