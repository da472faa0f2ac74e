package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/executor"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
)

// park suspends the execution at a manual step: it creates the pending
// approval (or reuses the open one after a crash between create and
// pause) and moves the execution to paused. Returns false only when
// the gate could not be recorded.
func (s *session) park(ctx context.Context, idx int, step *types.Step) bool {
	e := s.eng

	msg := step.Manual.Message
	if msg != "" {
		resolved, err := s.ec.Substitute(msg)
		if err == nil {
			msg = resolved
		}
	}

	appr := &types.PendingApproval{
		ID:          uuid.NewString(),
		ExecutionID: s.exec.ID,
		StepIndex:   idx,
		StepID:      step.ID,
		Message:     msg,
		Status:      types.ApprovalPending,
		RequestedAt: time.Now().UTC(),
	}
	if step.Manual.ExpiresInSeconds > 0 {
		deadline := appr.RequestedAt.Add(time.Duration(step.Manual.ExpiresInSeconds) * time.Second)
		appr.ExpiresAt = &deadline
	}

	if err := e.st.Approvals.Create(ctx, appr); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			s.logger.Error("creating pending approval", "error", err)
			return false
		}
		existing, gerr := e.st.Approvals.GetOpen(ctx, s.exec.ID, idx)
		if gerr != nil {
			s.logger.Error("loading open approval", "error", gerr)
			return false
		}
		appr = existing
	}

	if s.exec.Variables == nil {
		s.exec.Variables = make(map[string]any)
	}
	s.exec.Variables["steps"] = s.ec.OutputsSnapshot()
	if err := s.exec.Transition(types.ExecutionPaused); err != nil {
		s.logger.Error("pausing execution", "error", err)
		return false
	}
	if err := e.st.Executions.Update(ctx, s.exec); err != nil {
		s.logger.Error("persisting paused execution", "error", err)
		return false
	}

	meta := map[string]any{"approval_id": appr.ID}
	if appr.ExpiresAt != nil {
		meta["expires_at"] = appr.ExpiresAt.Format(time.RFC3339)
	}
	e.appendLog(ctx, s.exec, idx, step.ID, types.LogInfo, "awaiting approval", meta)
	return true
}

// Approve closes an open approval positively and requeues the paused
// execution past the manual step.
func (e *Engine) Approve(ctx context.Context, approvalID, decidedBy, comment string) error {
	appr, err := e.loadOpen(ctx, approvalID)
	if err != nil {
		return err
	}

	if err := appr.Close(types.ApprovalApproved, decidedBy, comment); err != nil {
		return rwerr.ApprovalClosed(approvalID, string(appr.Status))
	}
	if err := e.st.Approvals.Update(ctx, appr); err != nil {
		return err
	}

	return e.resumePast(ctx, appr, map[string]any{
		"approved":   true,
		"decided_by": decidedBy,
		"comment":    comment,
	})
}

// Reject closes an open approval negatively and applies the manual
// step's failure policy to the parked execution.
func (e *Engine) Reject(ctx context.Context, approvalID, decidedBy, comment string) error {
	appr, err := e.loadOpen(ctx, approvalID)
	if err != nil {
		return err
	}

	if err := appr.Close(types.ApprovalRejected, decidedBy, comment); err != nil {
		return rwerr.ApprovalClosed(approvalID, string(appr.Status))
	}
	if err := e.st.Approvals.Update(ctx, appr); err != nil {
		return err
	}

	return e.applyDenial(ctx, appr, "approval rejected", decidedBy)
}

// SweepExpiredApprovals expires open approvals past their deadline and
// applies each manual step's failure policy.
func (e *Engine) SweepExpiredApprovals(ctx context.Context) error {
	expired, err := e.st.Approvals.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, appr := range expired {
		if err := appr.Close(types.ApprovalExpired, "", "approval window elapsed"); err != nil {
			continue
		}
		if err := e.st.Approvals.Update(ctx, appr); err != nil {
			e.logger.Error("expiring approval", "approval_id", appr.ID, "error", err)
			continue
		}
		if err := e.applyDenial(ctx, appr, "approval expired", ""); err != nil {
			e.logger.Error("applying expiry to execution", "approval_id", appr.ID, "error", err)
		}
	}
	return nil
}

// loadOpen fetches an approval and verifies it is still decidable.
func (e *Engine) loadOpen(ctx context.Context, approvalID string) (*types.PendingApproval, error) {
	appr, err := e.st.Approvals.Get(ctx, approvalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, rwerr.ApprovalNotFound(approvalID)
		}
		return nil, err
	}
	if !appr.Status.IsOpen() {
		return nil, rwerr.ApprovalClosed(approvalID, string(appr.Status))
	}
	if appr.Expired(time.Now().UTC()) {
		return nil, rwerr.ApprovalExpired(approvalID)
	}
	return appr, nil
}

// resumePast records the manual step's output and requeues the
// execution at the next step. The paused-to-queued transition makes
// the normal worker claim path the single resumption point.
func (e *Engine) resumePast(ctx context.Context, appr *types.PendingApproval, output map[string]any) error {
	exec, err := e.st.Executions.Get(ctx, appr.ExecutionID)
	if err != nil {
		return err
	}
	if exec.Status != types.ExecutionPaused {
		return rwerr.StoreConflict("execution", exec.ID)
	}

	if exec.Variables == nil {
		exec.Variables = make(map[string]any)
	}
	steps, _ := exec.Variables["steps"].(map[string]any)
	if steps == nil {
		steps = make(map[string]any)
	}
	steps[appr.StepID] = output
	exec.Variables["steps"] = steps
	exec.CurrentStepIndex = appr.StepIndex + 1
	if err := e.st.Executions.Update(ctx, exec); err != nil {
		return err
	}

	e.appendLog(ctx, exec, appr.StepIndex, appr.StepID, types.LogInfo, "step completed", map[string]any{
		"output": output,
	})

	if _, err := e.st.Executions.Claim(ctx, exec.ID, types.ExecutionPaused, types.ExecutionQueued); err != nil {
		return err
	}
	return nil
}

// applyDenial handles a rejected or expired approval according to the
// manual step's failure policy.
func (e *Engine) applyDenial(ctx context.Context, appr *types.PendingApproval, reason, decidedBy string) error {
	exec, err := e.st.Executions.Get(ctx, appr.ExecutionID)
	if err != nil {
		return err
	}
	if exec.Status != types.ExecutionPaused {
		return rwerr.StoreConflict("execution", exec.ID)
	}

	policy := types.FailureStop
	rb, rberr := e.st.Runbooks.GetVersion(ctx, exec.RunbookID, exec.RunbookVersion)
	if rberr == nil && appr.StepIndex < len(rb.Steps) {
		policy = rb.Steps[appr.StepIndex].Policy()
	}

	e.appendLog(ctx, exec, appr.StepIndex, appr.StepID, types.LogWarn, reason, map[string]any{
		"approval_id": appr.ID,
		"decided_by":  decidedBy,
		"policy":      string(policy),
	})

	switch policy {
	case types.FailureContinue:
		return e.resumePast(ctx, appr, map[string]any{
			"approved": false,
			"reason":   reason,
		})

	case types.FailureRollback:
		claimed, err := e.st.Executions.Claim(ctx, exec.ID, types.ExecutionPaused, types.ExecutionRunning)
		if err != nil {
			return err
		}
		if rberr == nil {
			secrets, serr := e.vault.ResolveAllForExecution(ctx, rb.ID, rb.Environment)
			if serr != nil {
				secrets = map[string]string{}
			}
			sess := &session{
				eng:    e,
				exec:   claimed,
				rb:     rb,
				ec:     executor.NewContext(claimed, secrets),
				logger: e.logger,
			}
			sess.rollback(ctx, appr.StepIndex)
		}
		e.finish(ctx, claimed, types.ExecutionFailed, reason)
		return nil

	default: // stop; retry makes no sense for a human decision
		e.finish(ctx, exec, types.ExecutionFailed, reason)
		return nil
	}
}
