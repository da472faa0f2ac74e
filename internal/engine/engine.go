// Package engine drives executions through their state machine: it
// claims queued executions, walks their steps, applies failure
// policies, persists logs, and runs the approval and expiry gates.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/runward-io/runward/internal/config"
	"github.com/runward-io/runward/internal/executor"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
	"github.com/runward-io/runward/internal/vault"
)

// Engine is the execution orchestrator. One engine instance runs a
// bounded pool of workers; each claimed execution is advanced by
// exactly one worker at a time, enforced by the store's atomic
// claim transitions.
type Engine struct {
	cfg      *config.Config
	st       *store.Store
	vault    *vault.Vault
	logger   *slog.Logger
	registry executor.Registry

	// killers force-terminate the subprocess of a running shell or
	// script step when its execution is cancelled. Network steps are
	// only cancelled cooperatively at step boundaries.
	mu      sync.Mutex
	killers map[string]context.CancelFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine with the default executor set.
func New(cfg *config.Config, st *store.Store, v *vault.Vault, logger *slog.Logger) *Engine {
	registry := executor.Registry{}
	registry.Register(executor.NewHTTPExecutor())
	registry.Register(executor.NewSQLExecutor())
	registry.Register(executor.NewShellExecutor())
	registry.Register(executor.NewScriptExecutor())
	registry.Register(executor.NewWaitExecutor())
	registry.Register(executor.NewManualExecutor())
	registry.Register(executor.NewAIExecutor(executor.AIDefaults{
		BackendURL: cfg.AI.BackendURL,
		Model:      cfg.AI.Model,
		Timeout:    cfg.AI.Timeout,
	}))

	return &Engine{
		cfg:      cfg,
		st:       st,
		vault:    v,
		logger:   logger,
		registry: registry,
		killers:  make(map[string]context.CancelFunc),
	}
}

// Run starts the worker pool and the approval expiry sweeper, blocking
// until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	defer e.cancel()

	e.logger.Info("engine starting", "workers", e.cfg.Engine.Workers)

	for i := 0; i < e.cfg.Engine.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}

	e.wg.Add(1)
	go e.approvalSweeper(ctx)

	<-ctx.Done()
	e.logger.Info("engine shutting down", "reason", ctx.Err())
	e.wg.Wait()
	return ctx.Err()
}

// Shutdown stops the engine and waits for in-flight executions.
func (e *Engine) Shutdown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// worker repeatedly claims the oldest queued execution and
// orchestrates it to a parked or terminal state.
func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Engine.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			exec, err := e.st.Executions.DequeueQueued(ctx)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConflict) {
					e.logger.Error("dequeue failed", "error", err)
				}
				break
			}
			e.orchestrate(ctx, exec)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// approvalSweeper expires open approvals past their deadline.
func (e *Engine) approvalSweeper(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Approvals.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SweepExpiredApprovals(ctx); err != nil {
				e.logger.Error("approval sweep failed", "error", err)
			}
		}
	}
}

// Cancel requests cancellation of an execution. Queued and paused
// executions cancel immediately; running executions are flagged and
// halt at the next step boundary. A running shell or script
// subprocess is force-terminated.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	// Fast path: not yet running.
	for _, from := range []types.ExecutionStatus{types.ExecutionQueued, types.ExecutionPaused} {
		exec, err := e.st.Executions.Claim(ctx, executionID, from, types.ExecutionCancelled)
		if err == nil {
			e.appendLog(ctx, exec, exec.CurrentStepIndex, "", types.LogInfo,
				"execution cancelled", nil)
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if err := e.st.Executions.RequestCancel(ctx, executionID); err != nil {
		return err
	}

	e.mu.Lock()
	kill := e.killers[executionID]
	e.mu.Unlock()
	if kill != nil {
		kill()
	}
	return nil
}

// registerKiller installs the force-kill hook for a subprocess step.
func (e *Engine) registerKiller(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.killers[executionID] = cancel
	e.mu.Unlock()
}

// clearKiller removes the force-kill hook after the step completes.
func (e *Engine) clearKiller(executionID string) {
	e.mu.Lock()
	delete(e.killers, executionID)
	e.mu.Unlock()
}

// appendLog writes one append-only log entry. Log failures are
// reported to the process logger but never fail the execution step
// they describe.
func (e *Engine) appendLog(ctx context.Context, exec *types.Execution, stepIndex int, stepID string, level types.LogLevel, message string, metadata map[string]any) {
	entry := &types.LogEntry{
		ExecutionID: exec.ID,
		StepIndex:   stepIndex,
		StepID:      stepID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	}
	if err := e.st.Logs.Append(ctx, entry); err != nil {
		logging.WithExecution(e.logger, exec.ID).Error("appending log entry", "error", err)
	}
}
