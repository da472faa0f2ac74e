// Package executor implements the per-step-type execution strategies.
// Executors are pure with respect to engine state: they never write
// execution or log rows, they only turn a resolved step config into an
// outcome. The engine persists everything.
package executor

import (
	"context"

	"github.com/runward-io/runward/internal/types"
)

// Outcome classifies an executor result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"

	// OutcomePending is yielded only by manual steps: the execution
	// suspends until the approval gate resolves it.
	OutcomePending Outcome = "pending"
)

// Result is what an executor hands back to the engine.
type Result struct {
	Outcome Outcome
	Output  any
	Err     error
}

// Success wraps an output in a successful result.
func Success(output any) Result {
	return Result{Outcome: OutcomeSuccess, Output: output}
}

// Failure wraps an error in a failed result.
func Failure(err error) Result {
	return Result{Outcome: OutcomeFailure, Err: err}
}

// Executor is the strategy interface: one implementation per step type.
type Executor interface {
	Type() types.StepType
	Execute(ctx context.Context, step *types.Step, ec *Context) Result
}

// Runner is the callback composite executors (conditional, parallel)
// use to run child steps. The engine implements it, so recursion into
// branches goes through the same policy machinery as top-level steps.
type Runner interface {
	// RunSequence runs child steps in order, honoring each child's
	// failure policy. The result is the aggregate outcome.
	RunSequence(ctx context.Context, steps []types.Step, ec *Context) Result

	// RunChild runs a single child step with its retry policy applied,
	// without advancing engine state.
	RunChild(ctx context.Context, step *types.Step, ec *Context) Result
}

// Registry maps step types to executors.
type Registry map[types.StepType]Executor

// Register adds an executor to the registry.
func (r Registry) Register(e Executor) {
	r[e.Type()] = e
}

// Lookup returns the executor for a step type.
func (r Registry) Lookup(t types.StepType) (Executor, bool) {
	e, ok := r[t]
	return e, ok
}
