package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/executor"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/types"
)

// session holds the per-execution orchestration state: the claimed
// execution, its immutable runbook version, and the resolved executor
// context. It implements executor.Runner so composite steps recurse
// through the same machinery.
type session struct {
	eng      *Engine
	exec     *types.Execution
	rb       *types.Runbook
	ec       *executor.Context
	deadline time.Time
	logger   *slog.Logger

	// stepIndex attributes log entries written by composite children.
	stepIndex int
}

// orchestrate advances a claimed execution until it parks at a manual
// step or reaches a terminal status. The caller owns the claim.
func (e *Engine) orchestrate(ctx context.Context, exec *types.Execution) {
	logger := logging.WithExecution(e.logger, exec.ID)

	rb, err := e.st.Runbooks.GetVersion(ctx, exec.RunbookID, exec.RunbookVersion)
	if err != nil {
		logger.Error("loading runbook version", "error", err)
		e.finish(ctx, exec, types.ExecutionError, fmt.Sprintf("loading runbook: %v", err))
		return
	}

	secrets, err := e.vault.ResolveAllForExecution(ctx, rb.ID, rb.Environment)
	if err != nil {
		logger.Error("resolving secrets", "error", err)
		e.finish(ctx, exec, types.ExecutionError, fmt.Sprintf("resolving secrets: %v", err))
		return
	}

	sess := &session{
		eng:      e,
		exec:     exec,
		rb:       rb,
		ec:       executor.NewContext(exec, secrets),
		deadline: exec.Deadline(rb.Timeout()),
		logger:   logger,
	}

	if exec.CurrentStepIndex == 0 {
		e.appendLog(ctx, exec, 0, "", types.LogInfo, "execution started", map[string]any{
			"runbook_id": rb.ID,
			"version":    rb.Version,
			"trigger":    string(exec.Trigger),
		})
	}

	sess.run(ctx)
}

// run walks the step list from the current index.
func (s *session) run(ctx context.Context) {
	e := s.eng
	exec := s.exec

	for idx := exec.CurrentStepIndex; idx < len(s.rb.Steps); idx++ {
		step := &s.rb.Steps[idx]
		s.stepIndex = idx

		// Global timeout and cancellation are polled at step
		// boundaries; a dispatched step is never interrupted except
		// for subprocess force-kill on cancel.
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			e.appendLog(ctx, exec, idx, step.ID, types.LogError, "execution timeout exceeded", nil)
			e.finish(ctx, exec, types.ExecutionTimeout, "execution timeout exceeded")
			return
		}
		if s.cancelRequested(ctx) {
			e.appendLog(ctx, exec, idx, step.ID, types.LogInfo, "execution cancelled", nil)
			e.finish(ctx, exec, types.ExecutionCancelled, "")
			return
		}

		if step.Type == types.StepManual {
			if s.park(ctx, idx, step) {
				return // Paused; the approval gate resumes it.
			}
			// Parking failed; treat as an engine error.
			e.finish(ctx, exec, types.ExecutionError, "creating pending approval failed")
			return
		}

		res, attempts := s.runWithRetry(ctx, idx, step)

		if res.Outcome == executor.OutcomeSuccess {
			s.recordSuccess(ctx, idx, step, res, attempts)
			if !s.advance(ctx, idx+1) {
				return
			}
			continue
		}

		// A cancel that arrives mid-step force-kills subprocesses, so
		// the failure may just be the kill. Re-check before treating it
		// as a step failure.
		if s.cancelRequested(ctx) {
			e.appendLog(ctx, exec, idx, step.ID, types.LogInfo, "execution cancelled", nil)
			e.finish(ctx, exec, types.ExecutionCancelled, "")
			return
		}

		// Failure: apply the step's policy.
		switch step.Policy() {
		case types.FailureContinue:
			e.appendLog(ctx, exec, idx, step.ID, types.LogWarn, "step failed, continuing", map[string]any{
				"error":    errString(res.Err),
				"attempts": attempts,
			})
			if !s.advance(ctx, idx+1) {
				return
			}

		case types.FailureRollback:
			e.appendLog(ctx, exec, idx, step.ID, types.LogError, "step failed, rolling back", map[string]any{
				"error":    errString(res.Err),
				"attempts": attempts,
			})
			s.rollback(ctx, idx)
			e.finish(ctx, exec, types.ExecutionFailed, errString(res.Err))
			return

		default: // stop, or retry with attempts exhausted
			var msg string
			if step.Policy() == types.FailureRetry {
				err := rwerr.StepRetryExhausted(step.ID, attempts, res.Err)
				msg = err.Error()
			} else {
				msg = errString(res.Err)
			}
			e.appendLog(ctx, exec, idx, step.ID, types.LogError, "step failed, stopping", map[string]any{
				"error":    errString(res.Err),
				"attempts": attempts,
			})
			e.finish(ctx, exec, types.ExecutionFailed, msg)
			return
		}
	}

	e.appendLog(ctx, exec, len(s.rb.Steps), "", types.LogInfo, "execution completed", nil)
	e.finish(ctx, exec, types.ExecutionSuccess, "")
}

// runWithRetry dispatches a step, re-invoking it per the retry config
// when the policy is retry. Returns the last result and the number of
// executor invocations.
func (s *session) runWithRetry(ctx context.Context, idx int, step *types.Step) (executor.Result, int) {
	maxAttempts := 1
	if step.Policy() == types.FailureRetry && step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
	}

	var res executor.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res = s.dispatch(ctx, step)
		if res.Outcome == executor.OutcomeSuccess || res.Outcome == executor.OutcomePending {
			return res, attempt
		}

		s.eng.appendLog(ctx, s.exec, idx, step.ID, types.LogWarn, "step attempt failed", map[string]any{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"error":        errString(res.Err),
		})

		if attempt == maxAttempts {
			break
		}
		delay := step.Retry.Delay(attempt)
		select {
		case <-ctx.Done():
			return executor.Failure(ctx.Err()), attempt
		case <-time.After(delay):
		}
	}
	return res, maxAttempts
}

// dispatch routes a step to its executor. Composite steps get an
// executor bound to this session so children run through RunChild and
// RunSequence. Subprocess steps register a force-kill hook for
// cancellation.
func (s *session) dispatch(ctx context.Context, step *types.Step) executor.Result {
	switch step.Type {
	case types.StepConditional:
		return executor.NewConditionalExecutor(s).Execute(ctx, step, s.ec)
	case types.StepParallel:
		return executor.NewParallelExecutor(s).Execute(ctx, step, s.ec)
	}

	exec, ok := s.eng.registry.Lookup(step.Type)
	if !ok {
		return executor.Failure(rwerr.StepUnknownType(step.ID, string(step.Type)))
	}

	// Per-step timeout, falling back to the engine default. Wait steps
	// are excluded since their duration is the whole point.
	timeout := step.Timeout()
	if timeout == 0 && step.Type != types.StepWait {
		timeout = s.eng.cfg.Engine.DefaultStepTimeout
	}
	if timeout > 0 {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = stepCtx
	}

	if step.Type == types.StepShell || step.Type == types.StepScript {
		stepCtx, cancel := context.WithCancel(ctx)
		s.eng.registerKiller(s.exec.ID, cancel)
		defer func() {
			s.eng.clearKiller(s.exec.ID)
			cancel()
		}()
		return exec.Execute(stepCtx, step, s.ec)
	}

	return exec.Execute(ctx, step, s.ec)
}

// recordSuccess logs a completed step and folds its output into the
// execution variables.
func (s *session) recordSuccess(ctx context.Context, idx int, step *types.Step, res executor.Result, attempts int) {
	s.ec.SetOutput(step.ID, res.Output)
	meta := map[string]any{}
	if attempts > 1 {
		meta["attempts"] = attempts
	}
	if res.Output != nil {
		meta["output"] = res.Output
	}
	s.eng.appendLog(ctx, s.exec, idx, step.ID, types.LogInfo, "step completed", meta)
}

// advance persists the new step index and variable bindings. Returns
// false if persistence failed and the execution entered the error
// terminal state.
func (s *session) advance(ctx context.Context, nextIndex int) bool {
	s.exec.CurrentStepIndex = nextIndex
	if s.exec.Variables == nil {
		s.exec.Variables = make(map[string]any)
	}
	s.exec.Variables["steps"] = s.ec.OutputsSnapshot()
	if err := s.eng.st.Executions.Update(ctx, s.exec); err != nil {
		s.logger.Error("persisting execution state", "error", err)
		s.eng.finish(ctx, s.exec, types.ExecutionError, fmt.Sprintf("persisting state: %v", err))
		return false
	}
	return true
}

// rollback attempts the compensations of prior steps in reverse order.
// Compensation failures are logged, never raised.
func (s *session) rollback(ctx context.Context, failedIndex int) {
	for i := failedIndex - 1; i >= 0; i-- {
		step := &s.rb.Steps[i]
		if step.Compensate == nil {
			continue
		}
		s.eng.appendLog(ctx, s.exec, i, step.ID, types.LogInfo, "running compensation", map[string]any{
			"compensate_step": step.Compensate.ID,
		})
		res := s.dispatch(ctx, step.Compensate)
		if res.Outcome != executor.OutcomeSuccess {
			s.eng.appendLog(ctx, s.exec, i, step.ID, types.LogWarn, "compensation failed", map[string]any{
				"compensate_step": step.Compensate.ID,
				"error":           errString(res.Err),
			})
		}
	}
}

// cancelRequested reloads the execution's cancel flag.
func (s *session) cancelRequested(ctx context.Context) bool {
	cur, err := s.eng.st.Executions.Get(ctx, s.exec.ID)
	if err != nil {
		s.logger.Error("reloading execution", "error", err)
		return false
	}
	return cur.CancelRequested
}

// RunSequence implements executor.Runner: it runs branch children
// sequentially, honoring each child's failure policy. Stop-class
// failures end the branch; continue-class children are logged and
// skipped past.
func (s *session) RunSequence(ctx context.Context, steps []types.Step, ec *executor.Context) executor.Result {
	var lastOutput any
	for i := range steps {
		child := &steps[i]
		res := s.RunChild(ctx, child, ec)
		if res.Outcome == executor.OutcomeSuccess {
			ec.SetOutput(child.ID, res.Output)
			lastOutput = res.Output
			continue
		}
		if child.Policy() == types.FailureContinue {
			s.eng.appendLog(ctx, s.exec, s.stepIndex, child.ID, types.LogWarn, "child step failed, continuing", map[string]any{
				"error": errString(res.Err),
			})
			continue
		}
		return res
	}
	return executor.Success(lastOutput)
}

// RunChild implements executor.Runner: it runs one child step with its
// retry policy applied, without advancing engine state.
func (s *session) RunChild(ctx context.Context, step *types.Step, ec *executor.Context) executor.Result {
	maxAttempts := 1
	if step.Policy() == types.FailureRetry && step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
	}

	var res executor.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res = s.dispatch(ctx, step)
		if res.Outcome == executor.OutcomeSuccess {
			return res
		}
		s.eng.appendLog(ctx, s.exec, s.stepIndex, step.ID, types.LogWarn, "child step attempt failed", map[string]any{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"error":        errString(res.Err),
		})
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return executor.Failure(ctx.Err())
		case <-time.After(step.Retry.Delay(attempt)):
		}
	}
	return res
}

// finish moves the execution to a terminal status and persists it.
// If even that fails there is nothing left to do but log.
func (e *Engine) finish(ctx context.Context, exec *types.Execution, status types.ExecutionStatus, errMsg string) {
	if errMsg != "" {
		exec.Error = errMsg
	}
	if err := exec.Transition(status); err != nil {
		logging.WithExecution(e.logger, exec.ID).Error("terminal transition rejected", "error", err)
		return
	}
	if err := e.st.Executions.Update(ctx, exec); err != nil {
		logging.WithExecution(e.logger, exec.ID).Error("persisting terminal state", "status", string(status), "error", err)
	}
	logging.WithExecution(e.logger, exec.ID).Info("execution finished", "status", string(status))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
