package types

import (
	"fmt"
	"time"
)

// Frequency defines a schedule's cadence.
type Frequency string

const (
	FreqOnce    Frequency = "once"
	FreqHourly  Frequency = "hourly"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqCron    Frequency = "cron"
)

// Valid returns true if this is a recognized frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqOnce, FreqHourly, FreqDaily, FreqWeekly, FreqMonthly, FreqCron:
		return true
	}
	return false
}

// Schedule is a recurring trigger that enqueues executions on a
// cadence. Its lifecycle is independent of any single execution.
type Schedule struct {
	ID             string         `json:"id"`
	RunbookID      string         `json:"runbookId"`
	Environment    Environment    `json:"environment"`
	Frequency      Frequency      `json:"frequency"`
	CronExpression string         `json:"cronExpression,omitempty"` // Set when frequency = cron
	Timezone       string         `json:"timezone,omitempty"`       // Default: UTC
	Parameters     map[string]any `json:"parameters,omitempty"`

	IsActive  bool       `json:"isActive"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the schedule definition is well-formed.
func (s *Schedule) Validate() error {
	if s.RunbookID == "" {
		return fmt.Errorf("schedule requires a runbook ID")
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("invalid frequency: %s", s.Frequency)
	}
	if s.Frequency == FreqCron && s.CronExpression == "" {
		return fmt.Errorf("cron frequency requires a cron expression")
	}
	if s.Frequency != FreqCron && s.CronExpression != "" {
		return fmt.Errorf("cron expression is only valid with cron frequency")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	return nil
}

// Location returns the schedule's timezone, defaulting to UTC.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Due reports whether the schedule should fire at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	return s.IsActive && !s.NextRunAt.IsZero() && !s.NextRunAt.After(now)
}
