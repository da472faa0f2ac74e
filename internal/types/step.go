package types

import (
	"fmt"
	"time"
)

// StepType determines which executor runs a step.
// IMPORTANT: There are exactly 9 step types. Each has exactly one
// config struct, and a step carries exactly one populated config.
type StepType string

const (
	// Leaf steps - perform external work and complete synchronously.
	StepHTTP   StepType = "http"   // Issue an HTTP request
	StepSQL    StepType = "sql"    // Run a query against a database
	StepShell  StepType = "shell"  // Run a shell command
	StepScript StepType = "script" // Run a script through an interpreter
	StepWait   StepType = "wait"   // Sleep for a fixed duration
	StepAI     StepType = "ai"     // Send a prompt to a model backend

	// Suspending steps - park the execution until an external signal.
	StepManual StepType = "manual" // Human approval gate

	// Composite steps - contain child steps run by the engine.
	StepConditional StepType = "conditional" // Branch on a condition
	StepParallel    StepType = "parallel"    // Fan out child steps
)

// Valid returns true if this is a recognized step type.
func (t StepType) Valid() bool {
	switch t {
	case StepHTTP, StepSQL, StepShell, StepScript, StepWait, StepAI,
		StepManual, StepConditional, StepParallel:
		return true
	}
	return false
}

// IsComposite returns true if the step contains child steps.
func (t StepType) IsComposite() bool {
	return t == StepConditional || t == StepParallel
}

// FailurePolicy controls what the engine does when a step fails.
type FailurePolicy string

const (
	FailureStop     FailurePolicy = "stop"     // Halt the execution as failed
	FailureContinue FailurePolicy = "continue" // Log and advance anyway
	FailureRetry    FailurePolicy = "retry"    // Re-run per RetryConfig, then stop
	FailureRollback FailurePolicy = "rollback" // Compensate prior steps, then fail
)

// Valid returns true if this is a recognized failure policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailureStop, FailureContinue, FailureRetry, FailureRollback:
		return true
	}
	return false
}

// RetryConfig bounds the retry loop for a step with policy "retry".
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" json:"maxAttempts"`
	DelayMs           int     `yaml:"delay_ms" json:"delayMs"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoffMultiplier,omitempty"`
}

// Delay returns the wait before the given retry attempt (1-based).
func (r *RetryConfig) Delay(attempt int) time.Duration {
	d := time.Duration(r.DelayMs) * time.Millisecond
	mult := r.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
	}
	return d
}

// HTTPConfig for step type: http
type HTTPConfig struct {
	Method         string            `yaml:"method" json:"method"`
	URL            string            `yaml:"url" json:"url"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body           string            `yaml:"body,omitempty" json:"body,omitempty"`
	ExpectedStatus []int             `yaml:"expected_status,omitempty" json:"expectedStatus,omitempty"` // Default: [200]
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// StatusExpected reports whether the given response code counts as success.
func (c *HTTPConfig) StatusExpected(code int) bool {
	if len(c.ExpectedStatus) == 0 {
		return code == 200
	}
	for _, want := range c.ExpectedStatus {
		if code == want {
			return true
		}
	}
	return false
}

// SQLConfig for step type: sql
type SQLConfig struct {
	ConnectionString string `yaml:"connection_string" json:"connectionString"`
	Query            string `yaml:"query" json:"query"`
	TimeoutSeconds   int    `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// ShellConfig for step type: shell
type ShellConfig struct {
	Command        string            `yaml:"command" json:"command"`
	Workdir        string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// ScriptConfig for step type: script
type ScriptConfig struct {
	Interpreter    string            `yaml:"interpreter,omitempty" json:"interpreter,omitempty"` // Default: /bin/sh
	Script         string            `yaml:"script" json:"script"`
	Workdir        string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// WaitConfig for step type: wait
type WaitConfig struct {
	DurationSeconds int `yaml:"duration_seconds" json:"durationSeconds"`
}

// AIConfig for step type: ai
type AIConfig struct {
	Prompt         string `yaml:"prompt" json:"prompt"`
	Model          string `yaml:"model,omitempty" json:"model,omitempty"`
	BackendURL     string `yaml:"backend_url,omitempty" json:"backendURL,omitempty"` // Default from engine config
	APIKeySecret   string `yaml:"api_key_secret,omitempty" json:"apiKeySecret,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`
}

// ManualConfig for step type: manual
type ManualConfig struct {
	Message          string `yaml:"message,omitempty" json:"message,omitempty"`
	ExpiresInSeconds int    `yaml:"expires_in_seconds,omitempty" json:"expiresInSeconds,omitempty"` // 0 = never expires
}

// ConditionalConfig for step type: conditional
//
// Condition is evaluated against execution variables after template
// substitution. Supported forms: "<left> <op> <right>" with ==, !=,
// <, <=, >, >=, or a single value tested for truthiness.
type ConditionalConfig struct {
	Condition string `yaml:"condition" json:"condition"`
	OnTrue    []Step `yaml:"on_true,omitempty" json:"onTrue,omitempty"`
	OnFalse   []Step `yaml:"on_false,omitempty" json:"onFalse,omitempty"`
}

// ParallelConfig for step type: parallel
type ParallelConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency,omitempty" json:"maxConcurrency,omitempty"` // Default: len(Children)
	Children       []Step `yaml:"children" json:"children"`
}

// Step is the single unit of work in a runbook. The type-specific
// config is a tagged union: exactly one config pointer is populated,
// matching Type.
type Step struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name,omitempty" json:"name,omitempty"`
	Type      StepType      `yaml:"type" json:"type"`
	OnFailure FailurePolicy `yaml:"on_failure,omitempty" json:"onFailure,omitempty"` // Default: stop
	Retry     *RetryConfig  `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Compensate, when set, is run during a rollback of a later step.
	// Limited to leaf step types.
	Compensate *Step `yaml:"compensate,omitempty" json:"compensate,omitempty"`

	// Type-specific config (exactly one populated based on Type).
	HTTP        *HTTPConfig        `yaml:"http,omitempty" json:"http,omitempty"`
	SQL         *SQLConfig         `yaml:"sql,omitempty" json:"sql,omitempty"`
	Shell       *ShellConfig       `yaml:"shell,omitempty" json:"shell,omitempty"`
	Script      *ScriptConfig      `yaml:"script,omitempty" json:"script,omitempty"`
	Wait        *WaitConfig        `yaml:"wait,omitempty" json:"wait,omitempty"`
	AI          *AIConfig          `yaml:"ai,omitempty" json:"ai,omitempty"`
	Manual      *ManualConfig      `yaml:"manual,omitempty" json:"manual,omitempty"`
	Conditional *ConditionalConfig `yaml:"conditional,omitempty" json:"conditional,omitempty"`
	Parallel    *ParallelConfig    `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}

// Policy returns the effective failure policy (default: stop).
func (s *Step) Policy() FailurePolicy {
	if s.OnFailure == "" {
		return FailureStop
	}
	return s.OnFailure
}

// Timeout returns the per-step timeout, if the config declares one.
func (s *Step) Timeout() time.Duration {
	var secs int
	switch {
	case s.HTTP != nil:
		secs = s.HTTP.TimeoutSeconds
	case s.SQL != nil:
		secs = s.SQL.TimeoutSeconds
	case s.Shell != nil:
		secs = s.Shell.TimeoutSeconds
	case s.Script != nil:
		secs = s.Script.TimeoutSeconds
	case s.AI != nil:
		secs = s.AI.TimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// Validate checks the step is well-formed, recursing into child steps.
func (s *Step) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("step ID is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("step %s: invalid type: %s", s.ID, s.Type)
	}
	if s.OnFailure != "" && !s.OnFailure.Valid() {
		return fmt.Errorf("step %s: invalid on_failure: %s", s.ID, s.OnFailure)
	}
	if s.Retry != nil && s.Policy() != FailureRetry {
		return fmt.Errorf("step %s: retry config requires on_failure: retry", s.ID)
	}
	if s.Policy() == FailureRetry {
		if s.Retry == nil {
			return fmt.Errorf("step %s: on_failure retry requires a retry config", s.ID)
		}
		if s.Retry.MaxAttempts < 1 {
			return fmt.Errorf("step %s: retry max_attempts must be >= 1", s.ID)
		}
	}
	if err := s.validateConfig(); err != nil {
		return err
	}
	if s.Compensate != nil {
		if s.Compensate.Type.IsComposite() || s.Compensate.Type == StepManual {
			return fmt.Errorf("step %s: compensate must be a leaf step type", s.ID)
		}
		if err := s.Compensate.Validate(); err != nil {
			return fmt.Errorf("step %s: compensate: %w", s.ID, err)
		}
	}
	switch s.Type {
	case StepConditional:
		for _, branch := range [][]Step{s.Conditional.OnTrue, s.Conditional.OnFalse} {
			for i := range branch {
				child := &branch[i]
				// Approvals key on top-level step index, so manual
				// steps cannot nest inside branches.
				if child.Type == StepManual {
					return fmt.Errorf("step %s: manual steps cannot run inside conditional branches", s.ID)
				}
				if err := child.Validate(); err != nil {
					return err
				}
			}
		}
	case StepParallel:
		if len(s.Parallel.Children) == 0 {
			return fmt.Errorf("step %s: parallel requires at least one child", s.ID)
		}
		if s.Parallel.MaxConcurrency < 0 {
			return fmt.Errorf("step %s: max_concurrency cannot be negative", s.ID)
		}
		for i := range s.Parallel.Children {
			child := &s.Parallel.Children[i]
			if child.Type == StepManual {
				return fmt.Errorf("step %s: manual steps cannot run inside parallel", s.ID)
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateConfig ensures exactly one config is set matching the type.
func (s *Step) validateConfig() error {
	configs := map[StepType]bool{
		StepHTTP:        s.HTTP != nil,
		StepSQL:         s.SQL != nil,
		StepShell:       s.Shell != nil,
		StepScript:      s.Script != nil,
		StepWait:        s.Wait != nil,
		StepAI:          s.AI != nil,
		StepManual:      s.Manual != nil,
		StepConditional: s.Conditional != nil,
		StepParallel:    s.Parallel != nil,
	}

	if !configs[s.Type] {
		return fmt.Errorf("step %s: missing config for type %s", s.ID, s.Type)
	}

	for typ, hasConfig := range configs {
		if hasConfig && typ != s.Type {
			return fmt.Errorf("step %s: has config for %s but type is %s", s.ID, typ, s.Type)
		}
	}
	return nil
}
