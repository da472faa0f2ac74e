package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	rwerr "github.com/runward-io/runward/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Engine.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected poll interval %v", cfg.Engine.PollInterval)
	}
	if cfg.Vault.MasterKeyEnv != "RUNWARD_MASTER_KEY" {
		t.Errorf("unexpected master key env %q", cfg.Vault.MasterKeyEnv)
	}
	if cfg.Logging.Level != LogLevelInfo || cfg.Logging.Format != LogFormatJSON {
		t.Errorf("unexpected logging defaults %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("expected defaults for missing file, got %d workers", cfg.Engine.Workers)
	}
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runward.toml")
	doc := `
[database]
dsn = "postgres://runward@localhost/runward"

[engine]
workers = 8

[logging]
level = "debug"
format = "text"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Workers != 8 {
		t.Errorf("expected workers override, got %d", cfg.Engine.Workers)
	}
	if cfg.Database.DSN == "" {
		t.Error("expected dsn to be set")
	}
	if cfg.Logging.Level != LogLevelDebug {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Scheduler.SweepInterval != 15*time.Second {
		t.Errorf("expected default sweep interval, got %v", cfg.Scheduler.SweepInterval)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runward.toml")
	doc := `
[engine]
workers = 0
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !rwerr.HasCode(err, rwerr.CodeConfigInvalidValue) {
		t.Errorf("expected invalid value error, got: %v", err)
	}
}

func TestMasterKey_FromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Vault.MasterKeyEnv = "RUNWARD_TEST_MASTER_KEY"
	t.Setenv("RUNWARD_TEST_MASTER_KEY", "correct horse battery staple")

	key, insecure, err := cfg.MasterKey()
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	if insecure {
		t.Error("env-provided key flagged insecure")
	}
	if key != "correct horse battery staple" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestMasterKey_MissingIsError(t *testing.T) {
	cfg := Default()
	cfg.Vault.MasterKeyEnv = "RUNWARD_TEST_MASTER_KEY_UNSET"

	_, _, err := cfg.MasterKey()
	if !rwerr.HasCode(err, rwerr.CodeConfigMissingMasterKey) {
		t.Errorf("expected missing master key error, got: %v", err)
	}
}

func TestMasterKey_InsecureDefault(t *testing.T) {
	cfg := Default()
	cfg.Vault.MasterKeyEnv = "RUNWARD_TEST_MASTER_KEY_UNSET"
	cfg.Vault.AllowInsecureDefault = true

	key, insecure, err := cfg.MasterKey()
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	if !insecure {
		t.Error("expected insecure flag for development fallback")
	}
	if key == "" {
		t.Error("expected a non-empty fallback key")
	}
}

func TestLogFile(t *testing.T) {
	cfg := Default()
	if got := cfg.LogFile("/var/lib/runward"); got != "" {
		t.Errorf("expected empty path when unset, got %q", got)
	}
	cfg.Logging.File = "runward.log"
	if got := cfg.LogFile("/var/lib/runward"); got != "/var/lib/runward/runward.log" {
		t.Errorf("expected joined path, got %q", got)
	}
	cfg.Logging.File = "/var/log/runward.log"
	if got := cfg.LogFile("/var/lib/runward"); got != "/var/log/runward.log" {
		t.Errorf("expected absolute path untouched, got %q", got)
	}
}
