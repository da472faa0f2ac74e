// Package store defines the persistence contracts of the engine and an
// in-memory implementation. The postgres implementation lives in the
// postgres subpackage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an atomic claim or compare-and-set loses.
var ErrConflict = errors.New("conflict")

// Runbooks is the read/write contract over versioned runbook
// definitions. A version is immutable once referenced by an execution.
type Runbooks interface {
	// Save persists a new runbook or a new version of an existing one.
	// The store assigns Version and maintains the isLatest flag.
	Save(ctx context.Context, rb *types.Runbook) error

	// GetLatest returns the current isLatest version of the runbook.
	GetLatest(ctx context.Context, id string) (*types.Runbook, error)

	// GetVersion returns a specific runbook version.
	GetVersion(ctx context.Context, id string, version int) (*types.Runbook, error)

	// List returns the latest version of every runbook.
	List(ctx context.Context) ([]*types.Runbook, error)
}

// Executions persists execution state. Claim semantics enforce that
// exactly one worker advances a given execution at a time.
type Executions interface {
	Create(ctx context.Context, e *types.Execution) error
	Get(ctx context.Context, id string) (*types.Execution, error)

	// Update persists a mutated execution. The caller must hold the
	// claim (have transitioned it to running).
	Update(ctx context.Context, e *types.Execution) error

	// Claim atomically transitions the execution from the expected
	// status to the target status. Returns ErrConflict if another
	// worker won, ErrNotFound if the execution does not exist.
	Claim(ctx context.Context, id string, from, to types.ExecutionStatus) (*types.Execution, error)

	// DequeueQueued claims the oldest queued execution to running,
	// returning ErrNotFound when the queue is empty.
	DequeueQueued(ctx context.Context) (*types.Execution, error)

	// ListByStatus returns executions in the given status.
	ListByStatus(ctx context.Context, status types.ExecutionStatus) ([]*types.Execution, error)

	// RequestCancel marks the execution for cooperative cancellation.
	RequestCancel(ctx context.Context, id string) error
}

// Logs is the append-only execution log.
type Logs interface {
	Append(ctx context.Context, entry *types.LogEntry) error
	List(ctx context.Context, executionID string) ([]*types.LogEntry, error)
}

// Approvals persists pending approvals. Create enforces the invariant
// that at most one open approval exists per (execution, stepIndex).
type Approvals interface {
	Create(ctx context.Context, a *types.PendingApproval) error
	Get(ctx context.Context, id string) (*types.PendingApproval, error)
	GetOpen(ctx context.Context, executionID string, stepIndex int) (*types.PendingApproval, error)
	Update(ctx context.Context, a *types.PendingApproval) error

	// ListExpired returns open approvals whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*types.PendingApproval, error)
}

// Secrets persists encrypted secrets. Plaintext never reaches this layer.
type Secrets interface {
	Create(ctx context.Context, s *types.Secret) error
	Get(ctx context.Context, id string) (*types.Secret, error)

	// Update re-persists a rotated secret (new ciphertext, bumped
	// version). Old ciphertext is discarded.
	Update(ctx context.Context, s *types.Secret) error

	// ListByName returns all secrets with the given name, any scope.
	ListByName(ctx context.Context, name string) ([]*types.Secret, error)

	// ListForExecution returns every secret visible to an execution of
	// the runbook in the environment.
	ListForExecution(ctx context.Context, runbookID string, env types.Environment) ([]*types.Secret, error)
}

// Schedules persists recurring triggers. ClaimDue must be safe across
// multiple sweeper instances without double-firing.
type Schedules interface {
	Create(ctx context.Context, s *types.Schedule) error
	Get(ctx context.Context, id string) (*types.Schedule, error)
	Update(ctx context.Context, s *types.Schedule) error
	List(ctx context.Context) ([]*types.Schedule, error)

	// ListDue returns active schedules with nextRunAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]*types.Schedule, error)

	// ClaimDue atomically advances the schedule from the observed
	// nextRunAt to the recomputed one, stamping lastRunAt. Returns
	// ErrConflict if another sweeper claimed it first.
	ClaimDue(ctx context.Context, id string, observedNext, newNext time.Time, firedAt time.Time) error
}

// Store bundles all persistence contracts behind one handle.
type Store struct {
	Runbooks   Runbooks
	Executions Executions
	Logs       Logs
	Approvals  Approvals
	Secrets    Secrets
	Schedules  Schedules
}
