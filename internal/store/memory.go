package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// NewMemory returns a Store backed by process memory. Used by tests
// and single-node development; production uses the postgres package.
func NewMemory() *Store {
	m := &memory{
		runbooks:   make(map[string][]*types.Runbook),
		executions: make(map[string]*types.Execution),
		logs:       make(map[string][]*types.LogEntry),
		approvals:  make(map[string]*types.PendingApproval),
		secrets:    make(map[string]*types.Secret),
		schedules:  make(map[string]*types.Schedule),
	}
	return &Store{
		Runbooks:   (*memRunbooks)(m),
		Executions: (*memExecutions)(m),
		Logs:       (*memLogs)(m),
		Approvals:  (*memApprovals)(m),
		Secrets:    (*memSecrets)(m),
		Schedules:  (*memSchedules)(m),
	}
}

type memory struct {
	mu         sync.Mutex
	runbooks   map[string][]*types.Runbook // id -> versions, ascending
	executions map[string]*types.Execution
	logs       map[string][]*types.LogEntry
	approvals  map[string]*types.PendingApproval
	secrets    map[string]*types.Secret
	schedules  map[string]*types.Schedule
}

func cloneVars(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneExecution(e *types.Execution) *types.Execution {
	cp := *e
	cp.Parameters = cloneVars(e.Parameters)
	cp.Variables = cloneVars(e.Variables)
	return &cp
}

func cloneApproval(a *types.PendingApproval) *types.PendingApproval {
	cp := *a
	return &cp
}

func cloneSecret(s *types.Secret) *types.Secret {
	cp := *s
	return &cp
}

func cloneSchedule(s *types.Schedule) *types.Schedule {
	cp := *s
	cp.Parameters = cloneVars(s.Parameters)
	return &cp
}

// --- Runbooks ---

type memRunbooks memory

func (m *memRunbooks) Save(_ context.Context, rb *types.Runbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	versions := m.runbooks[rb.ID]

	// Saving the current latest version rewrites it in place so
	// status changes do not mint a new version. Structural edits fall
	// through and mint one; stored versions are immutable.
	if rb.Version > 0 && rb.Version == len(versions) && rb.SameDefinition(versions[rb.Version-1]) {
		cp := *rb
		cp.IsLatest = true
		cp.UpdatedAt = now
		versions[rb.Version-1] = &cp
		rb.IsLatest = true
		return nil
	}

	for _, prev := range versions {
		prev.IsLatest = false
	}
	cp := *rb
	cp.Version = len(versions) + 1
	cp.IsLatest = true
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.runbooks[rb.ID] = append(versions, &cp)
	// Reflect the assigned version back to the caller.
	rb.Version = cp.Version
	rb.IsLatest = true
	return nil
}

func (m *memRunbooks) GetLatest(_ context.Context, id string) (*types.Runbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.runbooks[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (m *memRunbooks) GetVersion(_ context.Context, id string, version int) (*types.Runbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.runbooks[id]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	cp := *versions[version-1]
	return &cp, nil
}

func (m *memRunbooks) List(_ context.Context) ([]*types.Runbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Runbook, 0, len(m.runbooks))
	for _, versions := range m.runbooks {
		cp := *versions[len(versions)-1]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Executions ---

type memExecutions memory

func (m *memExecutions) Create(_ context.Context, e *types.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = cloneExecution(e)
	return nil
}

func (m *memExecutions) Get(_ context.Context, id string) (*types.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExecution(e), nil
}

func (m *memExecutions) Update(_ context.Context, e *types.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.executions[e.ID]
	if !ok {
		return ErrNotFound
	}
	cp := cloneExecution(e)
	// The cancel flag is owned by RequestCancel; a writer holding a
	// stale snapshot must not clear it.
	cp.CancelRequested = stored.CancelRequested
	m.executions[e.ID] = cp
	return nil
}

func (m *memExecutions) Claim(_ context.Context, id string, from, to types.ExecutionStatus) (*types.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != from {
		return nil, ErrConflict
	}
	if err := e.Transition(to); err != nil {
		return nil, ErrConflict
	}
	return cloneExecution(e), nil
}

func (m *memExecutions) DequeueQueued(_ context.Context) (*types.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *types.Execution
	for _, e := range m.executions {
		if e.Status != types.ExecutionQueued {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	if err := oldest.Transition(types.ExecutionRunning); err != nil {
		return nil, ErrConflict
	}
	return cloneExecution(oldest), nil
}

func (m *memExecutions) ListByStatus(_ context.Context, status types.ExecutionStatus) ([]*types.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Execution
	for _, e := range m.executions {
		if e.Status == status {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memExecutions) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	e.CancelRequested = true
	return nil
}

// --- Logs ---

type memLogs memory

func (m *memLogs) Append(_ context.Context, entry *types.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.Metadata = cloneVars(entry.Metadata)
	m.logs[entry.ExecutionID] = append(m.logs[entry.ExecutionID], &cp)
	return nil
}

func (m *memLogs) List(_ context.Context, executionID string) ([]*types.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[executionID]
	out := make([]*types.LogEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// --- Approvals ---

type memApprovals memory

func (m *memApprovals) Create(_ context.Context, a *types.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.approvals {
		if existing.ExecutionID == a.ExecutionID &&
			existing.StepIndex == a.StepIndex &&
			existing.Status.IsOpen() {
			return ErrConflict
		}
	}
	m.approvals[a.ID] = cloneApproval(a)
	return nil
}

func (m *memApprovals) Get(_ context.Context, id string) (*types.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApproval(a), nil
}

func (m *memApprovals) GetOpen(_ context.Context, executionID string, stepIndex int) (*types.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.ExecutionID == executionID && a.StepIndex == stepIndex && a.Status.IsOpen() {
			return cloneApproval(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memApprovals) Update(_ context.Context, a *types.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.approvals[a.ID]
	if !ok {
		return ErrNotFound
	}
	// A decided approval never reopens.
	if !existing.Status.IsOpen() && a.Status != existing.Status {
		return ErrConflict
	}
	m.approvals[a.ID] = cloneApproval(a)
	return nil
}

func (m *memApprovals) ListExpired(_ context.Context, now time.Time) ([]*types.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.PendingApproval
	for _, a := range m.approvals {
		if a.Status.IsOpen() && a.Expired(now) {
			out = append(out, cloneApproval(a))
		}
	}
	return out, nil
}

// --- Secrets ---

type memSecrets memory

func (m *memSecrets) Create(_ context.Context, s *types.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[s.ID] = cloneSecret(s)
	return nil
}

func (m *memSecrets) Get(_ context.Context, id string) (*types.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSecret(s), nil
}

func (m *memSecrets) Update(_ context.Context, s *types.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[s.ID]; !ok {
		return ErrNotFound
	}
	m.secrets[s.ID] = cloneSecret(s)
	return nil
}

func (m *memSecrets) ListByName(_ context.Context, name string) ([]*types.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Secret
	for _, s := range m.secrets {
		if s.Name == name {
			out = append(out, cloneSecret(s))
		}
	}
	return out, nil
}

func (m *memSecrets) ListForExecution(_ context.Context, runbookID string, env types.Environment) ([]*types.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Secret
	for _, s := range m.secrets {
		if s.MatchesExecution(runbookID, env) {
			out = append(out, cloneSecret(s))
		}
	}
	return out, nil
}

// --- Schedules ---

type memSchedules memory

func (m *memSchedules) Create(_ context.Context, s *types.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (m *memSchedules) Get(_ context.Context, id string) (*types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(s), nil
}

func (m *memSchedules) Update(_ context.Context, s *types.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return ErrNotFound
	}
	m.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (m *memSchedules) List(_ context.Context) ([]*types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, cloneSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memSchedules) ListDue(_ context.Context, now time.Time) ([]*types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Schedule
	for _, s := range m.schedules {
		if s.Due(now) {
			out = append(out, cloneSchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (m *memSchedules) ClaimDue(_ context.Context, id string, observedNext, newNext time.Time, firedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return ErrNotFound
	}
	if !s.IsActive || !s.NextRunAt.Equal(observedNext) {
		return ErrConflict
	}
	fired := firedAt
	s.LastRunAt = &fired
	s.NextRunAt = newNext
	s.UpdatedAt = time.Now().UTC()
	if newNext.IsZero() {
		// One-shot schedules deactivate after firing.
		s.IsActive = false
	}
	return nil
}
