package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/runward-io/runward/internal/executor"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/testutil"
	"github.com/runward-io/runward/internal/types"
)

// fakeHTTP stands in for the HTTP executor so tests can script
// per-step results and count invocations.
type fakeHTTP struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]executor.Result
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{calls: make(map[string]int), results: make(map[string]executor.Result)}
}

func (f *fakeHTTP) Type() types.StepType { return types.StepHTTP }

func (f *fakeHTTP) Execute(ctx context.Context, step *types.Step, ec *executor.Context) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[step.ID]++
	if res, ok := f.results[step.ID]; ok {
		return res
	}
	return executor.Success(map[string]any{"status": 200})
}

func (f *fakeHTTP) callCount(stepID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stepID]
}

func httpStep(id string) types.Step {
	return types.Step{ID: id, Type: types.StepHTTP, HTTP: &types.HTTPConfig{URL: "http://example.test"}}
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeHTTP) {
	t.Helper()
	st := store.NewMemory()
	v := testutil.NewVault(t, st.Secrets)
	e := New(testutil.TestConfig(), st, v, logging.NewForTest())
	fake := newFakeHTTP()
	e.registry.Register(fake)
	return e, st, fake
}

// startExecution queues and claims an execution for the runbook.
func startExecution(t *testing.T, st *store.Store, rb *types.Runbook) *types.Execution {
	t.Helper()
	exec := types.NewExecution("ex-"+rb.ID, rb, nil, types.TriggerManual, "test")
	if err := st.Executions.Create(context.Background(), exec); err != nil {
		t.Fatalf("creating execution: %v", err)
	}
	claimed, err := st.Executions.DequeueQueued(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return claimed
}

func getExec(t *testing.T, st *store.Store, id string) *types.Execution {
	t.Helper()
	exec, err := st.Executions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("loading execution: %v", err)
	}
	return exec
}

func TestOrchestrate_Success(t *testing.T) {
	e, st, fake := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "deploy", httpStep("s1"), httpStep("s2"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", final.Status, final.Error)
	}
	if final.CurrentStepIndex != 2 {
		t.Errorf("expected index 2, got %d", final.CurrentStepIndex)
	}
	if fake.callCount("s1") != 1 || fake.callCount("s2") != 1 {
		t.Errorf("expected each step to run once, got s1=%d s2=%d", fake.callCount("s1"), fake.callCount("s2"))
	}

	steps, _ := final.Variables["steps"].(map[string]any)
	if steps == nil || steps["s1"] == nil {
		t.Error("expected step outputs persisted in variables")
	}
}

func TestOrchestrate_StopPolicy(t *testing.T) {
	e, st, fake := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "stop", httpStep("fails"), httpStep("never"))
	fake.results["fails"] = executor.Failure(errors.New("boom"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if fake.callCount("never") != 0 {
		t.Error("step after a stop failure must not run")
	}
	if final.Error == "" {
		t.Error("expected error recorded on execution")
	}
}

func TestOrchestrate_ContinuePolicy(t *testing.T) {
	e, st, fake := newTestEngine(t)
	flaky := httpStep("flaky")
	flaky.OnFailure = types.FailureContinue
	rb := testutil.SaveActive(t, st, "continue", flaky, httpStep("after"))
	fake.results["flaky"] = executor.Failure(errors.New("boom"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success despite continue failure, got %s", final.Status)
	}
	if fake.callCount("after") != 1 {
		t.Error("expected the step after a continue failure to run")
	}
}

func TestOrchestrate_RetryExhaustsAttempts(t *testing.T) {
	e, st, fake := newTestEngine(t)
	flaky := httpStep("flaky")
	flaky.OnFailure = types.FailureRetry
	flaky.Retry = &types.RetryConfig{MaxAttempts: 3, DelayMs: 1}
	rb := testutil.SaveActive(t, st, "retry", flaky)
	fake.results["flaky"] = executor.Failure(errors.New("boom"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionFailed {
		t.Fatalf("expected failed after retries, got %s", final.Status)
	}
	if got := fake.callCount("flaky"); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestOrchestrate_RetrySucceedsMidway(t *testing.T) {
	e, st, _ := newTestEngine(t)
	fake := &flakyTwice{}
	e.registry.Register(fake)

	step := httpStep("eventually")
	step.OnFailure = types.FailureRetry
	step.Retry = &types.RetryConfig{MaxAttempts: 5, DelayMs: 1}
	rb := testutil.SaveActive(t, st, "retry-ok", step)

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success once a retry passes, got %s", final.Status)
	}
	if fake.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.calls)
	}
}

// flakyTwice fails the first two invocations then succeeds.
type flakyTwice struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyTwice) Type() types.StepType { return types.StepHTTP }

func (f *flakyTwice) Execute(ctx context.Context, step *types.Step, ec *executor.Context) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= 2 {
		return executor.Failure(errors.New("transient"))
	}
	return executor.Success(map[string]any{"attempt": f.calls})
}

func TestOrchestrate_RollbackRunsCompensations(t *testing.T) {
	e, st, fake := newTestEngine(t)

	first := httpStep("provision")
	first.Compensate = &types.Step{
		ID:   "deprovision",
		Type: types.StepHTTP,
		HTTP: &types.HTTPConfig{URL: "http://example.test/undo"},
	}
	second := httpStep("verify")
	second.OnFailure = types.FailureRollback

	rb := testutil.SaveActive(t, st, "rollback", first, second)
	fake.results["verify"] = executor.Failure(errors.New("verification failed"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionFailed {
		t.Fatalf("expected failed after rollback, got %s", final.Status)
	}
	if fake.callCount("deprovision") != 1 {
		t.Errorf("expected compensation to run once, got %d", fake.callCount("deprovision"))
	}
}

func TestOrchestrate_RollbackSkipsStepsWithoutCompensation(t *testing.T) {
	e, st, fake := newTestEngine(t)

	plain := httpStep("plain")
	failing := httpStep("failing")
	failing.OnFailure = types.FailureRollback

	rb := testutil.SaveActive(t, st, "rollback-skip", plain, failing)
	fake.results["failing"] = executor.Failure(errors.New("boom"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
}

func TestOrchestrate_OutputsFlowBetweenSteps(t *testing.T) {
	e, st, fake := newTestEngine(t)
	fake.results["first"] = executor.Success(map[string]any{"token": "abc123"})

	rb := testutil.SaveActive(t, st, "chain", httpStep("first"), httpStep("second"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success, got %s", final.Status)
	}
	steps := final.Variables["steps"].(map[string]any)
	firstOut := steps["first"].(map[string]any)
	if firstOut["token"] != "abc123" {
		t.Errorf("expected first step output persisted, got %v", firstOut)
	}
}

func TestOrchestrate_ConditionalBranch(t *testing.T) {
	e, st, fake := newTestEngine(t)

	cond := types.Step{
		ID:   "branch",
		Type: types.StepConditional,
		Conditional: &types.ConditionalConfig{
			Condition: "production == {{environment}}",
			OnTrue:    []types.Step{httpStep("in-prod")},
			OnFalse:   []types.Step{httpStep("not-prod")},
		},
	}
	rb := testutil.SaveActive(t, st, "conditional", cond)

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", final.Status, final.Error)
	}
	// Fixtures run in development, so the false branch fires.
	if fake.callCount("not-prod") != 1 {
		t.Errorf("expected false branch to run, got %d", fake.callCount("not-prod"))
	}
	if fake.callCount("in-prod") != 0 {
		t.Errorf("true branch must not run, got %d", fake.callCount("in-prod"))
	}
}

func TestOrchestrate_ParallelStep(t *testing.T) {
	e, st, fake := newTestEngine(t)

	par := types.Step{
		ID:   "fanout",
		Type: types.StepParallel,
		Parallel: &types.ParallelConfig{
			MaxConcurrency: 2,
			Children:       []types.Step{httpStep("c1"), httpStep("c2"), httpStep("c3")},
		},
	}
	rb := testutil.SaveActive(t, st, "parallel", par)

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", final.Status, final.Error)
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if fake.callCount(id) != 1 {
			t.Errorf("expected child %s to run once, got %d", id, fake.callCount(id))
		}
	}
}

func TestOrchestrate_GlobalTimeout(t *testing.T) {
	e, st, _ := newTestEngine(t)

	rb := testutil.ActiveRunbook("slow",
		testutil.WaitStep("pause", 2),
		testutil.ShellStep("never", "echo nope"),
	)
	rb.TimeoutSeconds = 1
	if err := st.Runbooks.Save(context.Background(), rb); err != nil {
		t.Fatalf("saving runbook: %v", err)
	}

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionTimeout {
		t.Fatalf("expected timeout, got %s", final.Status)
	}
}

func TestCancel_QueuedExecution(t *testing.T) {
	e, st, _ := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "cancellable", httpStep("s1"))

	exec := types.NewExecution("ex-q", rb, nil, types.TriggerManual, "test")
	if err := st.Executions.Create(context.Background(), exec); err != nil {
		t.Fatalf("creating execution: %v", err)
	}

	if err := e.Cancel(context.Background(), exec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionCancelled {
		t.Errorf("expected cancelled, got %s", final.Status)
	}
}

func TestCancel_RunningExecutionHaltsAtBoundary(t *testing.T) {
	e, st, fake := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "boundary", httpStep("s1"), httpStep("s2"))

	exec := startExecution(t, st, rb)
	// Flag cancellation while the execution is between steps.
	if err := st.Executions.RequestCancel(context.Background(), exec.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if fake.callCount("s1") != 0 {
		t.Error("no step should run after a cancel flag set before the boundary")
	}
}

func TestCancel_RunningShellStepEndsCancelled(t *testing.T) {
	e, st, _ := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "long-shell", testutil.ShellStep("sleepy", "sleep 10"))

	exec := startExecution(t, st, rb)

	done := make(chan struct{})
	go func() {
		e.orchestrate(context.Background(), exec)
		close(done)
	}()

	// Let the subprocess start before cancelling.
	time.Sleep(300 * time.Millisecond)
	if err := e.Cancel(context.Background(), exec.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestration did not return after cancel")
	}

	// The force-killed subprocess surfaces as a step failure, but the
	// execution was cancelled, not failed.
	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", final.Status, final.Error)
	}
}

func TestOrchestrate_DefaultStepTimeout(t *testing.T) {
	e, st, _ := newTestEngine(t)
	e.cfg.Engine.DefaultStepTimeout = 200 * time.Millisecond
	rb := testutil.SaveActive(t, st, "slow-step", testutil.ShellStep("sleepy", "sleep 5"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "deadline") {
		t.Errorf("expected deadline error, got %q", final.Error)
	}
}

func TestOrchestrate_DefaultStepTimeoutSkipsWaitSteps(t *testing.T) {
	e, st, _ := newTestEngine(t)
	e.cfg.Engine.DefaultStepTimeout = 100 * time.Millisecond
	rb := testutil.SaveActive(t, st, "patient", testutil.WaitStep("pause", 1))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	final := getExec(t, st, exec.ID)
	if final.Status != types.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", final.Status, final.Error)
	}
}

func TestCancel_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.Cancel(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown execution")
	}
}

func TestOrchestrate_LogsWritten(t *testing.T) {
	e, st, _ := newTestEngine(t)
	rb := testutil.SaveActive(t, st, "logged", httpStep("s1"))

	exec := startExecution(t, st, rb)
	e.orchestrate(context.Background(), exec)

	entries, err := st.Logs.List(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("listing logs: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("expected started/step/completed entries, got %d", len(entries))
	}
	if entries[0].Message != "execution started" {
		t.Errorf("expected first entry to be start marker, got %q", entries[0].Message)
	}
	last := entries[len(entries)-1]
	if last.Message != "execution completed" {
		t.Errorf("expected final entry to be completion marker, got %q", last.Message)
	}
}
