package types

import (
	"fmt"
	"time"
)

// SecretScope controls where a secret is visible. Resolution
// precedence is runbook > environment > organization.
type SecretScope string

const (
	ScopeOrganization SecretScope = "organization"
	ScopeEnvironment  SecretScope = "environment"
	ScopeRunbook      SecretScope = "runbook"
)

// Valid returns true if this is a recognized secret scope.
func (s SecretScope) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeEnvironment, ScopeRunbook:
		return true
	}
	return false
}

// Precedence orders scopes for resolution; higher wins.
func (s SecretScope) Precedence() int {
	switch s {
	case ScopeRunbook:
		return 3
	case ScopeEnvironment:
		return 2
	case ScopeOrganization:
		return 1
	}
	return 0
}

// Secret is an encrypted named value. The plaintext only ever exists
// inside the vault boundary and is never logged.
type Secret struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Ciphertext  string      `json:"-"`              // Opaque: base64(nonce || tag || payload)
	Type        string      `json:"type,omitempty"` // Free-form: api_key, password, token...
	Scope       SecretScope `json:"scope"`
	Environment Environment `json:"environment,omitempty"` // Set when scope = environment
	RunbookID   string      `json:"runbookId,omitempty"`   // Set when scope = runbook
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Validate checks scope-specific fields are consistent.
func (s *Secret) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("secret name is required")
	}
	if !s.Scope.Valid() {
		return fmt.Errorf("invalid secret scope: %s", s.Scope)
	}
	switch s.Scope {
	case ScopeEnvironment:
		if !s.Environment.Valid() {
			return fmt.Errorf("environment-scoped secret requires a valid environment")
		}
	case ScopeRunbook:
		if s.RunbookID == "" {
			return fmt.Errorf("runbook-scoped secret requires a runbook ID")
		}
	}
	return nil
}

// MatchesExecution reports whether this secret is visible to an
// execution of the given runbook in the given environment.
func (s *Secret) MatchesExecution(runbookID string, env Environment) bool {
	switch s.Scope {
	case ScopeOrganization:
		return true
	case ScopeEnvironment:
		return s.Environment == env
	case ScopeRunbook:
		return s.RunbookID == runbookID
	}
	return false
}
