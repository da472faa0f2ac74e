package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/runward-io/runward/internal/types"
)

// ConditionalExecutor evaluates a condition against execution
// variables and dispatches to the matching branch. The outcome is the
// outcome of whichever branch ran; an empty branch succeeds.
type ConditionalExecutor struct {
	Runner Runner
}

// NewConditionalExecutor creates a ConditionalExecutor backed by the
// given child-step runner (the engine).
func NewConditionalExecutor(runner Runner) *ConditionalExecutor {
	return &ConditionalExecutor{Runner: runner}
}

func (e *ConditionalExecutor) Type() types.StepType { return types.StepConditional }

func (e *ConditionalExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.Conditional
	if cfg == nil {
		return Failure(fmt.Errorf("conditional step %s missing config", step.ID))
	}

	resolved, err := ec.Substitute(cfg.Condition)
	if err != nil {
		return Failure(fmt.Errorf("resolving condition: %w", err))
	}
	truth, err := EvaluateCondition(resolved)
	if err != nil {
		return Failure(fmt.Errorf("evaluating condition: %w", err))
	}

	branch := cfg.OnTrue
	if !truth {
		branch = cfg.OnFalse
	}
	if len(branch) == 0 {
		return Success(map[string]any{"condition": truth, "ran": 0})
	}

	res := e.Runner.RunSequence(ctx, branch, ec)
	if res.Output == nil {
		res.Output = map[string]any{"condition": truth, "ran": len(branch)}
	}
	return res
}

var comparisonOps = []string{"==", "!=", "<=", ">=", "<", ">"}

// EvaluateCondition evaluates a resolved condition string. Supported
// forms: "<left> <op> <right>" with ==, !=, <, <=, >, >=, or a single
// value tested for truthiness ("", "false", "0" are false).
func EvaluateCondition(cond string) (bool, error) {
	cond = strings.TrimSpace(cond)

	for _, op := range comparisonOps {
		idx := strings.Index(cond, op)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(cond[:idx])
		right := strings.TrimSpace(cond[idx+len(op):])
		return compare(left, op, right)
	}

	switch strings.ToLower(cond) {
	case "", "false", "0", "no":
		return false, nil
	default:
		return true, nil
	}
}

func compare(left, op, right string) (bool, error) {
	left = unquote(left)
	right = unquote(right)

	// Numeric comparison when both sides parse as numbers.
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(right, 64)
	if lerr == nil && rerr == nil {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	case "<", "<=", ">", ">=":
		return false, fmt.Errorf("operator %s requires numeric operands", op)
	}
	return false, fmt.Errorf("unsupported operator: %s", op)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
