package types

import (
	"fmt"
	"reflect"
	"time"
)

// RunbookStatus represents the lifecycle state of a runbook definition.
type RunbookStatus string

const (
	RunbookDraft      RunbookStatus = "draft"
	RunbookActive     RunbookStatus = "active"
	RunbookArchived   RunbookStatus = "archived"
	RunbookDeprecated RunbookStatus = "deprecated"
)

// Valid returns true if this is a recognized runbook status.
func (s RunbookStatus) Valid() bool {
	switch s {
	case RunbookDraft, RunbookActive, RunbookArchived, RunbookDeprecated:
		return true
	}
	return false
}

// Environment scopes runbooks, executions and secrets.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Valid returns true if this is a recognized environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Parameter declares a named, typed runbook input with an optional default.
type Parameter struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"` // string | number | boolean
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Runbook is a versioned workflow definition. A version is immutable
// once an execution references it; structural edits to an active
// runbook create a new version instead of mutating the old one.
type Runbook struct {
	ID          string        `yaml:"id,omitempty" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Status      RunbookStatus `yaml:"status,omitempty" json:"status"`
	Environment Environment   `yaml:"environment" json:"environment"`
	Version     int           `yaml:"version,omitempty" json:"version"`
	IsLatest    bool          `yaml:"-" json:"isLatest"`

	Parameters []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Steps      []Step      `yaml:"steps" json:"steps"`

	// TimeoutSeconds bounds a whole execution. 0 means no limit.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeoutSeconds,omitempty"`

	CreatedAt time.Time `yaml:"-" json:"createdAt"`
	UpdatedAt time.Time `yaml:"-" json:"updatedAt"`
}

// Validate checks the runbook definition is well-formed.
func (r *Runbook) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("runbook name is required")
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("invalid runbook status: %s", r.Status)
	}
	if !r.Environment.Valid() {
		return fmt.Errorf("invalid environment: %s", r.Environment)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("runbook requires at least one step")
	}
	if r.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	seen := make(map[string]bool, len(r.Steps))
	for i := range r.Steps {
		step := &r.Steps[i]
		if seen[step.ID] {
			return fmt.Errorf("duplicate step ID: %s", step.ID)
		}
		seen[step.ID] = true
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SameDefinition reports whether two runbooks describe the same
// workflow, ignoring lifecycle fields. Stores use it to decide whether
// a save of the latest version is a status change, which rewrites in
// place, or a structural edit, which mints a new version.
func (r *Runbook) SameDefinition(other *Runbook) bool {
	a, b := *r, *other
	a.Status, b.Status = "", ""
	a.Version, b.Version = 0, 0
	a.IsLatest, b.IsLatest = false, false
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

// Timeout returns the execution timeout, or zero if unbounded.
func (r *Runbook) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// ResolveParameters merges supplied values over declared defaults.
// Unknown inputs are rejected; missing required parameters are an error.
func (r *Runbook) ResolveParameters(supplied map[string]any) (map[string]any, error) {
	declared := make(map[string]*Parameter, len(r.Parameters))
	for i := range r.Parameters {
		declared[r.Parameters[i].Name] = &r.Parameters[i]
	}
	for name := range supplied {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("unknown parameter: %s", name)
		}
	}
	resolved := make(map[string]any, len(declared))
	for name, p := range declared {
		if val, ok := supplied[name]; ok {
			resolved[name] = val
			continue
		}
		if p.Default != nil {
			resolved[name] = p.Default
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("missing required parameter: %s", name)
		}
	}
	return resolved, nil
}
