package types

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"    // Enqueued, waiting for a worker
	ExecutionRunning   ExecutionStatus = "running"   // A worker is advancing steps
	ExecutionPaused    ExecutionStatus = "paused"    // Suspended at a manual step
	ExecutionSuccess   ExecutionStatus = "success"   // All steps completed
	ExecutionFailed    ExecutionStatus = "failed"    // A step failed terminally
	ExecutionCancelled ExecutionStatus = "cancelled" // Cancelled by external request
	ExecutionTimeout   ExecutionStatus = "timeout"   // Global execution timeout exceeded
	ExecutionError     ExecutionStatus = "error"     // Engine-internal failure (persistence etc.)
)

// Valid returns true if this is a recognized execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionQueued, ExecutionRunning, ExecutionPaused, ExecutionSuccess,
		ExecutionFailed, ExecutionCancelled, ExecutionTimeout, ExecutionError:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final. No transitions are
// permitted out of a terminal status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled, ExecutionTimeout, ExecutionError:
		return true
	}
	return false
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	switch s {
	case ExecutionQueued:
		return target == ExecutionRunning || target == ExecutionCancelled
	case ExecutionRunning:
		switch target {
		case ExecutionPaused, ExecutionSuccess, ExecutionFailed,
			ExecutionCancelled, ExecutionTimeout, ExecutionError:
			return true
		}
		return false
	case ExecutionPaused:
		switch target {
		// Resume goes back through the queue so only one worker can claim it.
		case ExecutionQueued, ExecutionRunning, ExecutionFailed,
			ExecutionCancelled, ExecutionTimeout, ExecutionError:
			return true
		}
		return false
	}
	return false // Terminal states
}

// TriggerType records how an execution was started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
	TriggerAPI       TriggerType = "api"
)

// Valid returns true if this is a recognized trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerWebhook, TriggerAPI:
		return true
	}
	return false
}

// Execution is one run of a specific runbook version, tracked through
// the status state machine to a terminal status. Only the engine
// mutates an execution once it is claimed.
type Execution struct {
	ID             string          `json:"id"`
	RunbookID      string          `json:"runbookId"`
	RunbookVersion int             `json:"runbookVersion"`
	Environment    Environment     `json:"environment"`
	Status         ExecutionStatus `json:"status"`
	Trigger        TriggerType     `json:"trigger"`
	TriggeredBy    string          `json:"triggeredBy,omitempty"`

	// Parameters are the resolved input bindings; Variables accumulate
	// step outputs on top of them. Both are persisted after every step
	// so a crash mid-execution can be diagnosed.
	Parameters map[string]any `json:"parameters,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`

	CurrentStepIndex int `json:"currentStepIndex"`

	// CancelRequested is set by an external cancel and honored at the
	// next step boundary.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// NewExecution creates a queued execution referencing a runbook version.
func NewExecution(id string, rb *Runbook, params map[string]any, trigger TriggerType, triggeredBy string) *Execution {
	vars := make(map[string]any, len(params))
	for k, v := range params {
		vars[k] = v
	}
	return &Execution{
		ID:             id,
		RunbookID:      rb.ID,
		RunbookVersion: rb.Version,
		Environment:    rb.Environment,
		Status:         ExecutionQueued,
		Trigger:        trigger,
		TriggeredBy:    triggeredBy,
		Parameters:     params,
		Variables:      vars,
		CreatedAt:      time.Now().UTC(),
	}
}

// Transition moves the execution to the target status, stamping
// start/finish times. Invalid transitions are rejected.
func (e *Execution) Transition(target ExecutionStatus) error {
	if !e.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid execution transition: %s -> %s", e.Status, target)
	}
	now := time.Now().UTC()
	if target == ExecutionRunning && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if target.IsTerminal() {
		e.FinishedAt = &now
	}
	e.Status = target
	return nil
}

// Deadline returns the global timeout deadline, or zero if unbounded.
func (e *Execution) Deadline(timeout time.Duration) time.Time {
	if timeout <= 0 || e.StartedAt == nil {
		return time.Time{}
	}
	return e.StartedAt.Add(timeout)
}

// LogLevel classifies a log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is the append-only record of what happened during an
// execution. Entries are never mutated or deleted.
type LogEntry struct {
	ExecutionID string         `json:"executionId"`
	StepIndex   int            `json:"stepIndex"`
	StepID      string         `json:"stepId,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
