package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/testutil"
	"github.com/runward-io/runward/internal/types"
)

// fakeEnqueuer records fired schedules.
type fakeEnqueuer struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeEnqueuer) EnqueueScheduled(ctx context.Context, sched *types.Schedule) (*types.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, sched.ID)
	return &types.Execution{ID: "ex-" + sched.ID}, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *fakeEnqueuer) {
	t.Helper()
	st := store.NewMemory()
	enq := &fakeEnqueuer{}
	s := New(testutil.TestConfig(), st, enq, logging.NewForTest())
	return s, st, enq
}

func saveSchedule(t *testing.T, st *store.Store, sched *types.Schedule) {
	t.Helper()
	if err := st.Schedules.Create(context.Background(), sched); err != nil {
		t.Fatalf("creating schedule: %v", err)
	}
}

func TestNextRun_FixedFrequencies(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	cases := []struct {
		freq types.Frequency
		want time.Time
	}{
		{types.FreqHourly, base.Add(time.Hour)},
		{types.FreqDaily, base.AddDate(0, 0, 1)},
		{types.FreqWeekly, base.AddDate(0, 0, 7)},
		{types.FreqMonthly, base.AddDate(0, 1, 0)},
	}
	for _, c := range cases {
		got, err := NextRun(&types.Schedule{Frequency: c.freq}, base)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.freq, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("%s: expected %v, got %v", c.freq, c.want, got)
		}
	}
}

func TestNextRun_OnceIsZero(t *testing.T) {
	got, err := NextRun(&types.Schedule{Frequency: types.FreqOnce}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time for one-shot, got %v", got)
	}
}

func TestNextRun_Cron(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	sched := &types.Schedule{
		Frequency:      types.FreqCron,
		CronExpression: "0 2 * * *", // 02:00 daily
	}
	got, err := NextRun(sched, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 16, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextRun_CronTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone database unavailable")
	}
	base := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	sched := &types.Schedule{
		Frequency:      types.FreqCron,
		CronExpression: "0 2 * * *",
		Timezone:       "America/New_York",
	}
	got, err := NextRun(sched, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 16, 2, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNextRun_InvalidCron(t *testing.T) {
	sched := &types.Schedule{Frequency: types.FreqCron, CronExpression: "not a cron"}
	if _, err := NextRun(sched, time.Now()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestValidateCron(t *testing.T) {
	if err := ValidateCron("*/5 * * * *"); err != nil {
		t.Errorf("expected valid expression, got: %v", err)
	}
	if err := ValidateCron("bogus"); err == nil {
		t.Error("expected error for bogus expression")
	}
}

func TestSweep_FiresDueSchedules(t *testing.T) {
	s, st, enq := newTestScheduler(t)
	now := time.Now().UTC()

	saveSchedule(t, st, &types.Schedule{
		ID:        "due",
		RunbookID: "rb-1",
		Frequency: types.FreqHourly,
		IsActive:  true,
		NextRunAt: now.Add(-time.Minute),
	})
	saveSchedule(t, st, &types.Schedule{
		ID:        "future",
		RunbookID: "rb-2",
		Frequency: types.FreqHourly,
		IsActive:  true,
		NextRunAt: now.Add(time.Hour),
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(enq.fired) != 1 || enq.fired[0] != "due" {
		t.Errorf("expected exactly the due schedule to fire, got %v", enq.fired)
	}

	advanced, err := st.Schedules.Get(context.Background(), "due")
	if err != nil {
		t.Fatalf("loading schedule: %v", err)
	}
	if !advanced.NextRunAt.After(now) {
		t.Errorf("expected next run advanced past now, got %v", advanced.NextRunAt)
	}
	if advanced.LastRunAt == nil {
		t.Error("expected last run stamped")
	}
}

func TestSweep_OneShotDeactivates(t *testing.T) {
	s, st, enq := newTestScheduler(t)
	now := time.Now().UTC()

	saveSchedule(t, st, &types.Schedule{
		ID:        "one-shot",
		RunbookID: "rb-1",
		Frequency: types.FreqOnce,
		IsActive:  true,
		NextRunAt: now.Add(-time.Second),
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(enq.fired) != 1 {
		t.Fatalf("expected one firing, got %d", len(enq.fired))
	}

	after, err := st.Schedules.Get(context.Background(), "one-shot")
	if err != nil {
		t.Fatalf("loading schedule: %v", err)
	}
	if after.IsActive {
		t.Error("expected one-shot schedule deactivated after firing")
	}

	// A second sweep must not fire it again.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(enq.fired) != 1 {
		t.Errorf("one-shot fired twice: %v", enq.fired)
	}
}

func TestSweep_PausedScheduleSkipped(t *testing.T) {
	s, st, enq := newTestScheduler(t)

	saveSchedule(t, st, &types.Schedule{
		ID:        "paused",
		RunbookID: "rb-1",
		Frequency: types.FreqDaily,
		IsActive:  false,
		NextRunAt: time.Now().UTC().Add(-time.Hour),
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(enq.fired) != 0 {
		t.Errorf("paused schedule fired: %v", enq.fired)
	}
}

func TestFire_LostClaimIsNotAnError(t *testing.T) {
	s, st, enq := newTestScheduler(t)
	now := time.Now().UTC()

	sched := &types.Schedule{
		ID:        "contested",
		RunbookID: "rb-1",
		Frequency: types.FreqHourly,
		IsActive:  true,
		NextRunAt: now.Add(-time.Minute),
	}
	saveSchedule(t, st, sched)

	// Another sweeper advances the schedule between list and claim.
	stale := *sched
	if err := st.Schedules.ClaimDue(context.Background(), sched.ID, sched.NextRunAt, now.Add(time.Hour), now); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	if err := s.fire(context.Background(), &stale, now); err != nil {
		t.Fatalf("expected lost claim to be silent, got: %v", err)
	}
	if len(enq.fired) != 0 {
		t.Errorf("lost claim must not enqueue, got %v", enq.fired)
	}
}
