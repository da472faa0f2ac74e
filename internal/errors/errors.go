// Package errors provides structured error types for the runbook engine.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for engine operations.
const (
	// Configuration errors - fatal at startup or validation time.
	CodeConfigMissingMasterKey = "CONFIG_001" // No vault master key configured
	CodeConfigMissingField     = "CONFIG_002" // Missing required config field
	CodeConfigInvalidValue     = "CONFIG_003" // Invalid config value
	CodeConfigInvalidStep      = "CONFIG_004" // Step config failed validation

	// Step execution errors - recovered per the step's failure policy.
	CodeStepFailed         = "STEP_001" // Executor reported failure
	CodeStepTimeout        = "STEP_002" // Step exceeded its timeout
	CodeStepRetryExhausted = "STEP_003" // All retry attempts failed
	CodeStepUnknownType    = "STEP_004" // No executor for step type

	// Approval errors.
	CodeApprovalNotFound  = "APPROVAL_001" // No open approval for the key
	CodeApprovalClosed    = "APPROVAL_002" // Approval already decided
	CodeApprovalExpired   = "APPROVAL_003" // Approval deadline passed
	CodeApprovalDuplicate = "APPROVAL_004" // Open approval already exists

	// Scheduling errors.
	CodeScheduleConflict = "SCHED_001" // Another worker claimed the schedule
	CodeScheduleInvalid  = "SCHED_002" // Bad cron expression or frequency

	// Secret errors.
	CodeSecretNotFound   = "SECRET_001" // No secret matched the name/scope
	CodeSecretDecrypt    = "SECRET_002" // Ciphertext failed to decrypt
	CodeSecretCiphertext = "SECRET_003" // Malformed ciphertext

	// Store errors - halt the execution in an error terminal state.
	CodeStoreNotFound = "STORE_001" // Entity not found
	CodeStoreConflict = "STORE_002" // Concurrent update lost
	CodeStoreIO       = "STORE_003" // Persistence failure
)

// Error is the structured error type for engine operations.
type Error struct {
	Code    string         `json:"code"`              // Error code (e.g., "STEP_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (execution_id, step_id, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with the cause message inlined.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new Error.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with an Error.
func Wrap(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted Error.
func Wrapf(code string, err error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Configuration Errors ---

// ConfigMissingMasterKey signals the vault master key is absent.
func ConfigMissingMasterKey(envVar string) *Error {
	return Newf(CodeConfigMissingMasterKey, "vault master key not configured (set %s)", envVar).
		WithDetail("env_var", envVar)
}

// ConfigMissingField creates an error for a missing config field.
func ConfigMissingField(field string) *Error {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for an invalid config value.
func ConfigInvalidValue(field string, reason string) *Error {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// ConfigInvalidStep creates an error for a step that failed validation.
func ConfigInvalidStep(stepID string, err error) *Error {
	return Wrap(CodeConfigInvalidStep, "invalid step configuration", err).
		WithDetail("step_id", stepID)
}

// --- Step Execution Errors ---

// StepFailed creates an error for an executor failure.
func StepFailed(stepID string, err error) *Error {
	return Wrap(CodeStepFailed, "step execution failed", err).
		WithDetail("step_id", stepID)
}

// StepTimeout creates an error for a step timeout.
func StepTimeout(stepID string) *Error {
	return Newf(CodeStepTimeout, "step %s exceeded its timeout", stepID).
		WithDetail("step_id", stepID)
}

// StepRetryExhausted creates an error when all retry attempts fail.
func StepRetryExhausted(stepID string, attempts int, err error) *Error {
	return Wrapf(CodeStepRetryExhausted, err, "step %s failed after %d attempts", stepID, attempts).
		WithDetail("step_id", stepID).
		WithDetail("attempts", attempts)
}

// StepUnknownType creates an error for an unregistered step type.
func StepUnknownType(stepID, stepType string) *Error {
	return Newf(CodeStepUnknownType, "no executor registered for step type %s", stepType).
		WithDetail("step_id", stepID).
		WithDetail("type", stepType)
}

// --- Approval Errors ---

// ApprovalNotFound creates an error for a missing open approval.
func ApprovalNotFound(id string) *Error {
	return Newf(CodeApprovalNotFound, "no open approval found: %s", id).
		WithDetail("approval_id", id)
}

// ApprovalClosed creates an error for an already-decided approval.
func ApprovalClosed(id, status string) *Error {
	return Newf(CodeApprovalClosed, "approval %s already closed (%s)", id, status).
		WithDetail("approval_id", id).
		WithDetail("status", status)
}

// ApprovalExpired creates an error for a past-deadline approval.
func ApprovalExpired(id string) *Error {
	return Newf(CodeApprovalExpired, "approval %s has expired", id).
		WithDetail("approval_id", id)
}

// ApprovalDuplicate signals an open approval already exists for the key.
func ApprovalDuplicate(executionID string, stepIndex int) *Error {
	return Newf(CodeApprovalDuplicate, "open approval already exists for execution %s step %d", executionID, stepIndex).
		WithDetail("execution_id", executionID).
		WithDetail("step_index", stepIndex)
}

// --- Scheduling Errors ---

// ScheduleConflict signals another worker claimed the schedule first.
// The losing claim is a no-op, never surfaced to a user.
func ScheduleConflict(id string) *Error {
	return Newf(CodeScheduleConflict, "schedule %s claimed by another worker", id).
		WithDetail("schedule_id", id)
}

// ScheduleInvalid creates an error for a bad schedule definition.
func ScheduleInvalid(id string, err error) *Error {
	return Wrap(CodeScheduleInvalid, "invalid schedule", err).
		WithDetail("schedule_id", id)
}

// --- Secret Errors ---

// SecretNotFound creates an error for an unresolvable secret name.
func SecretNotFound(name string) *Error {
	return Newf(CodeSecretNotFound, "secret not found: %s", name).
		WithDetail("name", name)
}

// SecretDecrypt creates an error for a decryption failure. The
// ciphertext and plaintext are deliberately absent from details.
func SecretDecrypt(name string, err error) *Error {
	return Wrap(CodeSecretDecrypt, "failed to decrypt secret", err).
		WithDetail("name", name)
}

// SecretCiphertext creates an error for malformed ciphertext.
func SecretCiphertext(name string) *Error {
	return Newf(CodeSecretCiphertext, "malformed ciphertext for secret %s", name).
		WithDetail("name", name)
}

// --- Store Errors ---

// StoreNotFound creates an error for a missing entity.
func StoreNotFound(kind, id string) *Error {
	return Newf(CodeStoreNotFound, "%s not found: %s", kind, id).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

// StoreConflict creates an error for a lost concurrent update.
func StoreConflict(kind, id string) *Error {
	return Newf(CodeStoreConflict, "concurrent update conflict on %s %s", kind, id).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

// StoreIO wraps a persistence failure.
func StoreIO(op string, err error) *Error {
	return Wrap(CodeStoreIO, "persistence failure", err).
		WithDetail("op", op)
}

// HasCode checks if an error is an Error with the given code.
// It handles wrapped errors by unwrapping to find an Error.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the error code if err is an Error, empty string otherwise.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
