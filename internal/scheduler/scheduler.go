// Package scheduler fires recurring triggers. A sweep loop lists due
// schedules and claims each with a compare-and-set on the next run
// time, so concurrent sweepers never double-fire.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runward-io/runward/internal/config"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
)

// cronParser accepts the standard five-field expressions plus the
// @hourly style descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Enqueuer creates an execution for a fired schedule. The service
// layer implements it.
type Enqueuer interface {
	EnqueueScheduled(ctx context.Context, sched *types.Schedule) (*types.Execution, error)
}

// Scheduler owns the sweep loop.
type Scheduler struct {
	cfg      *config.Config
	st       *store.Store
	enqueuer Enqueuer
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, st *store.Store, enqueuer Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, st: st, enqueuer: enqueuer, logger: logger}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.logger.Info("scheduler starting", "sweep_interval", s.cfg.Scheduler.SweepInterval)

	ticker := time.NewTicker(s.cfg.Scheduler.SweepInterval)
	defer ticker.Stop()

	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("schedule sweep failed", "error", err)
			}
		}
	}
}

// Shutdown stops the sweep loop.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep fires every due schedule once. A lost claim means another
// sweeper got there first; that is not an error.
func (s *Scheduler) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.st.Schedules.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, sched := range due {
		if err := s.fire(ctx, sched, now); err != nil {
			logging.WithSchedule(s.logger, sched.ID).Error("firing schedule", "error", err)
		}
	}
	return nil
}

// fire claims the due schedule and enqueues its execution. The claim
// advances NextRunAt before the enqueue so a crash loses at most one
// firing rather than duplicating it.
func (s *Scheduler) fire(ctx context.Context, sched *types.Schedule, now time.Time) error {
	next, err := NextRun(sched, now)
	if err != nil {
		return err
	}

	if err := s.st.Schedules.ClaimDue(ctx, sched.ID, sched.NextRunAt, next, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil // Another sweeper claimed it.
		}
		return err
	}

	exec, err := s.enqueuer.EnqueueScheduled(ctx, sched)
	if err != nil {
		return err
	}

	logging.WithSchedule(s.logger, sched.ID).Info("schedule fired",
		"execution_id", exec.ID,
		"runbook_id", sched.RunbookID,
		"next_run_at", next,
	)
	return nil
}

// NextRun computes the run after the given instant. A zero time means
// the schedule has no further runs and should be deactivated.
func NextRun(sched *types.Schedule, after time.Time) (time.Time, error) {
	switch sched.Frequency {
	case types.FreqOnce:
		return time.Time{}, nil
	case types.FreqHourly:
		return after.Add(time.Hour), nil
	case types.FreqDaily:
		return after.AddDate(0, 0, 1), nil
	case types.FreqWeekly:
		return after.AddDate(0, 0, 7), nil
	case types.FreqMonthly:
		return after.AddDate(0, 1, 0), nil
	case types.FreqCron:
		expr, err := cronParser.Parse(sched.CronExpression)
		if err != nil {
			return time.Time{}, err
		}
		// Cron fields are interpreted in the schedule's timezone.
		return expr.Next(after.In(sched.Location())).UTC(), nil
	}
	return time.Time{}, errors.New("unknown frequency: " + string(sched.Frequency))
}

// ValidateCron parses the expression the way the sweep loop will.
func ValidateCron(expression string) error {
	_, err := cronParser.Parse(expression)
	return err
}
