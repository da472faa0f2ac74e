package service

import (
	"context"
	"testing"
	"time"

	"github.com/runward-io/runward/internal/engine"
	rwerr "github.com/runward-io/runward/internal/errors"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/testutil"
	"github.com/runward-io/runward/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := store.NewMemory()
	v := testutil.NewVault(t, st.Secrets)
	logger := logging.NewForTest()
	eng := engine.New(testutil.TestConfig(), st, v, logger)
	return New(st, v, eng, logger), st
}

func TestSaveRunbook_AssignsIDAndVersion(t *testing.T) {
	svc, _ := newTestService(t)
	rb := testutil.ActiveRunbook("", testutil.ShellStep("s1", "true"))
	rb.Name = "unnamed"

	saved, err := svc.SaveRunbook(context.Background(), rb)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" {
		t.Error("expected a generated ID")
	}
	if saved.Version != 1 {
		t.Errorf("expected version 1, got %d", saved.Version)
	}
}

func TestSaveRunbook_RejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	rb := testutil.ActiveRunbook("rb-1") // no steps

	if _, err := svc.SaveRunbook(context.Background(), rb); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestActivateRunbook(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	rb := testutil.ActiveRunbook("rb-1", testutil.ShellStep("s1", "true"))
	rb.Status = types.RunbookDraft
	if _, err := svc.SaveRunbook(ctx, rb); err != nil {
		t.Fatalf("save: %v", err)
	}

	activated, err := svc.ActivateRunbook(ctx, "rb-1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.Status != types.RunbookActive {
		t.Errorf("expected active, got %s", activated.Status)
	}
	if activated.Version != 1 {
		t.Errorf("activation minted a version: %d", activated.Version)
	}

	latest, _ := st.Runbooks.GetLatest(ctx, "rb-1")
	if latest.Status != types.RunbookActive {
		t.Errorf("expected persisted active status, got %s", latest.Status)
	}
}

func TestTrigger_QueuesExecution(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	exec, err := svc.Trigger(ctx, "rb-1", types.TriggerManual, "oncall", nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Status != types.ExecutionQueued {
		t.Errorf("expected queued, got %s", exec.Status)
	}
	if exec.RunbookID != "rb-1" || exec.RunbookVersion != 1 {
		t.Errorf("expected rb-1 v1, got %s v%d", exec.RunbookID, exec.RunbookVersion)
	}
	if exec.TriggeredBy != "oncall" {
		t.Errorf("expected triggered by oncall, got %q", exec.TriggeredBy)
	}

	stored, err := st.Executions.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != types.ExecutionQueued {
		t.Errorf("expected persisted queued, got %s", stored.Status)
	}
}

func TestTrigger_RejectsInactiveRunbook(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	rb := testutil.ActiveRunbook("rb-1", testutil.ShellStep("s1", "true"))
	rb.Status = types.RunbookDraft
	if err := st.Runbooks.Save(ctx, rb); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := svc.Trigger(ctx, "rb-1", types.TriggerManual, "oncall", nil)
	if !rwerr.HasCode(err, rwerr.CodeConfigInvalidValue) {
		t.Errorf("expected invalid value error for draft runbook, got: %v", err)
	}
}

func TestTrigger_ResolvesParameters(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	rb := testutil.ActiveRunbook("rb-1", testutil.ShellStep("s1", "true"))
	rb.Parameters = []types.Parameter{
		{Name: "region", Required: true},
		{Name: "dry_run", Default: false},
	}
	if err := st.Runbooks.Save(ctx, rb); err != nil {
		t.Fatalf("save: %v", err)
	}

	exec, err := svc.Trigger(ctx, "rb-1", types.TriggerManual, "oncall", map[string]any{"region": "us-east-1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if exec.Parameters["region"] != "us-east-1" {
		t.Errorf("expected region param, got %v", exec.Parameters["region"])
	}
	if exec.Parameters["dry_run"] != false {
		t.Errorf("expected dry_run default, got %v", exec.Parameters["dry_run"])
	}

	if _, err := svc.Trigger(ctx, "rb-1", types.TriggerManual, "oncall", nil); err == nil {
		t.Error("expected error for missing required parameter")
	}
}

func TestEnqueueScheduled(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	sched := &types.Schedule{ID: "s-1", RunbookID: "rb-1", Frequency: types.FreqHourly}
	exec, err := svc.EnqueueScheduled(ctx, sched)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if exec.Trigger != types.TriggerScheduled {
		t.Errorf("expected scheduled trigger, got %s", exec.Trigger)
	}
	if exec.TriggeredBy != "scheduler:s-1" {
		t.Errorf("expected scheduler attribution, got %q", exec.TriggeredBy)
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetExecution(context.Background(), "missing")
	if !rwerr.HasCode(err, rwerr.CodeStoreNotFound) {
		t.Errorf("expected store not found, got: %v", err)
	}
}

func TestCreateSchedule_InitializesNextRun(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	before := time.Now().UTC()
	sched, err := svc.CreateSchedule(ctx, &types.Schedule{
		RunbookID: "rb-1",
		Frequency: types.FreqHourly,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sched.ID == "" {
		t.Error("expected a generated ID")
	}
	if !sched.IsActive {
		t.Error("expected schedule active on creation")
	}
	if sched.NextRunAt.Before(before.Add(59 * time.Minute)) {
		t.Errorf("expected next run about an hour out, got %v", sched.NextRunAt)
	}
}

func TestCreateSchedule_OneShotFiresImmediately(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	sched, err := svc.CreateSchedule(ctx, &types.Schedule{
		RunbookID: "rb-1",
		Frequency: types.FreqOnce,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sched.NextRunAt.After(time.Now().UTC()) {
		t.Errorf("expected one-shot due immediately, got %v", sched.NextRunAt)
	}
}

func TestCreateSchedule_RejectsBadCron(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	_, err := svc.CreateSchedule(ctx, &types.Schedule{
		RunbookID:      "rb-1",
		Frequency:      types.FreqCron,
		CronExpression: "not a cron",
	})
	if !rwerr.HasCode(err, rwerr.CodeScheduleInvalid) {
		t.Errorf("expected invalid schedule error, got: %v", err)
	}
}

func TestCreateSchedule_RequiresRunbook(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateSchedule(context.Background(), &types.Schedule{
		RunbookID: "missing",
		Frequency: types.FreqDaily,
	})
	if err == nil {
		t.Fatal("expected error for unknown runbook")
	}
}

func TestPauseAndResumeSchedule(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	sched, err := svc.CreateSchedule(ctx, &types.Schedule{
		RunbookID: "rb-1",
		Frequency: types.FreqHourly,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.PauseSchedule(ctx, sched.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, _ := st.Schedules.Get(ctx, sched.ID)
	if paused.IsActive {
		t.Error("expected schedule inactive after pause")
	}

	if err := svc.ResumeSchedule(ctx, sched.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed, _ := st.Schedules.Get(ctx, sched.ID)
	if !resumed.IsActive {
		t.Error("expected schedule active after resume")
	}
}

func TestResumeSchedule_RecomputesOverdueNextRun(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	testutil.SaveActive(t, st, "rb-1", testutil.ShellStep("s1", "true"))

	past := time.Now().UTC().Add(-3 * time.Hour)
	sched := &types.Schedule{
		ID: "s-1", RunbookID: "rb-1", Frequency: types.FreqHourly,
		IsActive: false, NextRunAt: past,
	}
	if err := st.Schedules.Create(ctx, sched); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.ResumeSchedule(ctx, "s-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed, _ := st.Schedules.Get(ctx, "s-1")
	if !resumed.NextRunAt.After(time.Now().UTC()) {
		t.Errorf("expected next run pushed into the future, got %v", resumed.NextRunAt)
	}
}
