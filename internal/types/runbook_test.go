package types

import (
	"testing"
	"time"
)

func sampleRunbook() *Runbook {
	return &Runbook{
		ID:          "rb-1",
		Name:        "restart service",
		Status:      RunbookDraft,
		Environment: EnvStaging,
		Version:     1,
		Parameters:  []Parameter{{Name: "service", Required: true}},
		Steps: []Step{
			{ID: "restart", Type: StepShell, Shell: &ShellConfig{Command: "systemctl restart {{service}}"}},
		},
	}
}

func TestRunbook_SameDefinition(t *testing.T) {
	base := sampleRunbook()

	t.Run("ignores lifecycle fields", func(t *testing.T) {
		other := sampleRunbook()
		other.Status = RunbookActive
		other.Version = 3
		other.IsLatest = true
		other.CreatedAt = time.Now()
		other.UpdatedAt = time.Now()
		if !base.SameDefinition(other) {
			t.Error("status and version changes must not count as a new definition")
		}
	})

	t.Run("step edit differs", func(t *testing.T) {
		other := sampleRunbook()
		other.Steps[0].Shell.Command = "systemctl stop {{service}}"
		if base.SameDefinition(other) {
			t.Error("expected changed step command to differ")
		}
	})

	t.Run("parameter edit differs", func(t *testing.T) {
		other := sampleRunbook()
		other.Parameters[0].Required = false
		if base.SameDefinition(other) {
			t.Error("expected changed parameter to differ")
		}
	})

	t.Run("rename differs", func(t *testing.T) {
		other := sampleRunbook()
		other.Name = "stop service"
		if base.SameDefinition(other) {
			t.Error("expected renamed runbook to differ")
		}
	})
}
