package types

import (
	"fmt"
	"time"
)

// ApprovalStatus represents the lifecycle state of a pending approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Valid returns true if this is a recognized approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

// IsOpen returns true while the approval still awaits a decision.
func (s ApprovalStatus) IsOpen() bool {
	return s == ApprovalPending
}

// PendingApproval is the suspended state of an execution awaiting a
// human decision at a manual step. At most one open approval exists
// per (execution, stepIndex).
type PendingApproval struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	StepIndex   int            `json:"stepIndex"`
	StepID      string         `json:"stepId"`
	Message     string         `json:"message,omitempty"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requestedAt"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	DecidedAt   *time.Time     `json:"decidedAt,omitempty"`
	DecidedBy   string         `json:"decidedBy,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// Close moves an open approval to a decided state.
func (a *PendingApproval) Close(target ApprovalStatus, decidedBy, comment string) error {
	if !a.Status.IsOpen() {
		return fmt.Errorf("approval %s already closed (%s)", a.ID, a.Status)
	}
	if target == ApprovalPending || !target.Valid() {
		return fmt.Errorf("invalid approval decision: %s", target)
	}
	now := time.Now().UTC()
	a.Status = target
	a.DecidedAt = &now
	a.DecidedBy = decidedBy
	a.Comment = comment
	return nil
}

// Expired reports whether the approval's deadline has passed.
func (a *PendingApproval) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
