package executor

import (
	"context"
	"testing"
	"time"

	"github.com/runward-io/runward/internal/types"
)

func shellStep(id, command string) *types.Step {
	return &types.Step{ID: id, Type: types.StepShell, Shell: &types.ShellConfig{Command: command}}
}

func TestShellExecute_Success(t *testing.T) {
	exec := NewShellExecutor()
	ec := testContext()

	res := exec.Execute(context.Background(), shellStep("echo", "echo hello"), ec)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}

	out := res.Output.(map[string]any)
	if out["stdout"] != "hello" {
		t.Errorf("expected stdout hello, got %q", out["stdout"])
	}
	if out["exit_code"] != 0 {
		t.Errorf("expected exit code 0, got %v", out["exit_code"])
	}
}

func TestShellExecute_SubstitutesVariables(t *testing.T) {
	exec := NewShellExecutor()
	ec := testContext()

	res := exec.Execute(context.Background(), shellStep("echo", "echo {{host}}"), ec)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}
	out := res.Output.(map[string]any)
	if out["stdout"] != "db-1.internal" {
		t.Errorf("expected substituted host, got %q", out["stdout"])
	}
}

func TestShellExecute_NonZeroExit(t *testing.T) {
	exec := NewShellExecutor()
	ec := testContext()

	res := exec.Execute(context.Background(), shellStep("fail", "exit 3"), ec)
	if res.Outcome != OutcomeFailure {
		t.Fatal("expected failure for non-zero exit")
	}
	out := res.Output.(map[string]any)
	if out["exit_code"] != 3 {
		t.Errorf("expected exit code 3, got %v", out["exit_code"])
	}
}

func TestShellExecute_Timeout(t *testing.T) {
	exec := NewShellExecutor()
	ec := testContext()

	step := shellStep("sleep", "sleep 10")
	step.Shell.TimeoutSeconds = 1

	start := time.Now()
	res := exec.Execute(context.Background(), step, ec)
	if res.Outcome != OutcomeFailure {
		t.Fatal("expected failure on timeout")
	}
	if elapsed := time.Since(start); elapsed > 6*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestShellExecute_CapturesStderr(t *testing.T) {
	exec := NewShellExecutor()
	ec := testContext()

	res := exec.Execute(context.Background(), shellStep("err", "echo oops >&2"), ec)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}
	out := res.Output.(map[string]any)
	if out["stderr"] != "oops" {
		t.Errorf("expected stderr oops, got %q", out["stderr"])
	}
}

func TestScriptExecute_Interpreter(t *testing.T) {
	exec := NewScriptExecutor()
	ec := testContext()

	step := &types.Step{
		ID:   "script",
		Type: types.StepScript,
		Script: &types.ScriptConfig{
			Script: "echo ran-${WHO}",
			Env:    map[string]string{"WHO": "script"},
		},
	}
	res := exec.Execute(context.Background(), step, ec)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}
	out := res.Output.(map[string]any)
	if out["stdout"] != "ran-script" {
		t.Errorf("expected ran-script, got %q", out["stdout"])
	}
}

func TestWaitExecute(t *testing.T) {
	exec := NewWaitExecutor()
	step := &types.Step{ID: "w", Type: types.StepWait, Wait: &types.WaitConfig{DurationSeconds: 0}}

	res := exec.Execute(context.Background(), step, testContext())
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Outcome, res.Err)
	}
}

func TestWaitExecute_Cancelled(t *testing.T) {
	exec := NewWaitExecutor()
	step := &types.Step{ID: "w", Type: types.StepWait, Wait: &types.WaitConfig{DurationSeconds: 30}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := exec.Execute(ctx, step, testContext())
	if res.Outcome != OutcomeFailure {
		t.Fatal("expected failure on cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the wait")
	}
}
