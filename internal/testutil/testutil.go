// Package testutil provides fixtures shared by engine, scheduler and
// service tests.
package testutil

import (
	"context"
	"testing"

	"github.com/runward-io/runward/internal/config"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/types"
	"github.com/runward-io/runward/internal/vault"
)

// NewVault returns a vault over the given secret store keyed with a
// fixed test key.
func NewVault(t *testing.T, secrets store.Secrets) *vault.Vault {
	t.Helper()
	v, err := vault.New("test-master-key", secrets, logging.NewForTest())
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	return v
}

// TestConfig returns defaults tuned for fast tests.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.Workers = 1
	return cfg
}

// ShellStep builds an active shell step running the given command.
func ShellStep(id, command string) types.Step {
	return types.Step{
		ID:    id,
		Type:  types.StepShell,
		Shell: &types.ShellConfig{Command: command},
	}
}

// WaitStep builds a wait step.
func WaitStep(id string, seconds int) types.Step {
	return types.Step{
		ID:   id,
		Type: types.StepWait,
		Wait: &types.WaitConfig{DurationSeconds: seconds},
	}
}

// ManualStep builds a manual approval step.
func ManualStep(id, message string) types.Step {
	return types.Step{
		ID:     id,
		Type:   types.StepManual,
		Manual: &types.ManualConfig{Message: message},
	}
}

// ActiveRunbook builds a development runbook in active status with
// the given steps.
func ActiveRunbook(id string, steps ...types.Step) *types.Runbook {
	return &types.Runbook{
		ID:          id,
		Name:        id,
		Status:      types.RunbookActive,
		Environment: types.EnvDevelopment,
		Steps:       steps,
	}
}

// SaveActive persists a runbook and returns the stored version.
func SaveActive(t *testing.T, st *store.Store, id string, steps ...types.Step) *types.Runbook {
	t.Helper()
	rb := ActiveRunbook(id, steps...)
	if err := st.Runbooks.Save(context.Background(), rb); err != nil {
		t.Fatalf("saving runbook: %v", err)
	}
	return rb
}
