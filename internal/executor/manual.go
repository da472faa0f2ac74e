package executor

import (
	"context"
	"fmt"

	"github.com/runward-io/runward/internal/types"
)

// ManualExecutor does not resolve anything itself: it yields a
// pending outcome so the engine creates a pending approval and parks
// the execution. The approval gate decides what happens next.
type ManualExecutor struct{}

// NewManualExecutor creates a ManualExecutor.
func NewManualExecutor() *ManualExecutor {
	return &ManualExecutor{}
}

func (e *ManualExecutor) Type() types.StepType { return types.StepManual }

func (e *ManualExecutor) Execute(_ context.Context, step *types.Step, ec *Context) Result {
	cfg := step.Manual
	if cfg == nil {
		return Failure(fmt.Errorf("manual step %s missing config", step.ID))
	}
	message, err := ec.Substitute(cfg.Message)
	if err != nil {
		return Failure(fmt.Errorf("resolving message: %w", err))
	}
	return Result{
		Outcome: OutcomePending,
		Output:  map[string]any{"message": message},
	}
}
