package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/runward-io/runward/internal/types"
)

// ParallelExecutor fans out child steps with a concurrency bound.
// The aggregate outcome is success only if every child succeeds;
// partial results are recorded per child. Children all run to
// completion before the aggregate is decided (wait-for-all, no
// fail-fast), which keeps the result deterministic.
type ParallelExecutor struct {
	Runner Runner
}

// NewParallelExecutor creates a ParallelExecutor backed by the given
// child-step runner (the engine).
func NewParallelExecutor(runner Runner) *ParallelExecutor {
	return &ParallelExecutor{Runner: runner}
}

func (e *ParallelExecutor) Type() types.StepType { return types.StepParallel }

func (e *ParallelExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.Parallel
	if cfg == nil {
		return Failure(fmt.Errorf("parallel step %s missing config", step.ID))
	}

	limit := cfg.MaxConcurrency
	if limit <= 0 || limit > len(cfg.Children) {
		limit = len(cfg.Children)
	}
	sem := semaphore.NewWeighted(int64(limit))

	results := make([]Result, len(cfg.Children))
	var wg sync.WaitGroup
	for i := range cfg.Children {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid fan-out; undispatched children fail.
			for j := i; j < len(cfg.Children); j++ {
				results[j] = Failure(err)
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.Runner.RunChild(ctx, &cfg.Children[i], ec)
		}(i)
	}
	wg.Wait()

	childOutputs := make(map[string]any, len(cfg.Children))
	failed := 0
	var firstErr error
	for i := range cfg.Children {
		child := &cfg.Children[i]
		res := results[i]
		entry := map[string]any{
			"outcome": string(res.Outcome),
		}
		if res.Output != nil {
			entry["output"] = res.Output
			ec.SetOutput(child.ID, res.Output)
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		childOutputs[child.ID] = entry
		if res.Outcome != OutcomeSuccess {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		}
	}

	output := map[string]any{
		"children": childOutputs,
		"failed":   failed,
	}
	if failed > 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("%d of %d children failed", failed, len(cfg.Children))
		}
		return Result{
			Outcome: OutcomeFailure,
			Output:  output,
			Err:     fmt.Errorf("%d of %d children failed: %w", failed, len(cfg.Children), firstErr),
		}
	}
	return Success(output)
}
