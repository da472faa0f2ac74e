package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// WaitExecutor suspends step advancement for a fixed duration.
// Always succeeds unless the execution is cancelled mid-wait.
type WaitExecutor struct{}

// NewWaitExecutor creates a WaitExecutor.
func NewWaitExecutor() *WaitExecutor {
	return &WaitExecutor{}
}

func (e *WaitExecutor) Type() types.StepType { return types.StepWait }

func (e *WaitExecutor) Execute(ctx context.Context, step *types.Step, _ *Context) Result {
	cfg := step.Wait
	if cfg == nil {
		return Failure(fmt.Errorf("wait step %s missing config", step.ID))
	}
	if cfg.DurationSeconds < 0 {
		return Failure(fmt.Errorf("wait duration cannot be negative"))
	}

	d := time.Duration(cfg.DurationSeconds) * time.Second
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Failure(ctx.Err())
	case <-timer.C:
		return Success(map[string]any{"waited_seconds": cfg.DurationSeconds})
	}
}
