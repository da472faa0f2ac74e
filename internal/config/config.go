// Package config loads engine configuration from TOML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	rwerr "github.com/runward-io/runward/internal/errors"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	// DSN is the postgres connection string. Empty selects the
	// in-memory store (single node, dev and tests only).
	DSN string `toml:"dsn"`
}

// VaultConfig holds secret vault settings.
type VaultConfig struct {
	// MasterKeyEnv names the environment variable carrying the master
	// key. The key itself never appears in the config file.
	MasterKeyEnv string `toml:"master_key_env"`

	// AllowInsecureDefault permits a fixed development key when the
	// environment variable is unset. Startup logs a loud warning; in
	// production this must stay false so the absence of a key is a
	// hard configuration error.
	AllowInsecureDefault bool `toml:"allow_insecure_default"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	Workers            int           `toml:"workers"`
	PollInterval       time.Duration `toml:"poll_interval"`
	DefaultStepTimeout time.Duration `toml:"default_step_timeout"`
}

// SchedulerConfig holds schedule sweep settings.
type SchedulerConfig struct {
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// ApprovalsConfig holds approval sweep settings.
type ApprovalsConfig struct {
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// AIConfig holds the default model backend for AI steps.
type AIConfig struct {
	BackendURL string        `toml:"backend_url"`
	Model      string        `toml:"model"`
	Timeout    time.Duration `toml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for the engine.
type Config struct {
	Version   string          `toml:"version"`
	Database  DatabaseConfig  `toml:"database"`
	Vault     VaultConfig     `toml:"vault"`
	Engine    EngineConfig    `toml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Approvals ApprovalsConfig `toml:"approvals"`
	AI        AIConfig        `toml:"ai"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Vault: VaultConfig{
			MasterKeyEnv: "RUNWARD_MASTER_KEY",
		},
		Engine: EngineConfig{
			Workers:            4,
			PollInterval:       250 * time.Millisecond,
			DefaultStepTimeout: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			SweepInterval: 15 * time.Second,
		},
		Approvals: ApprovalsConfig{
			SweepInterval: 30 * time.Second,
		},
		AI: AIConfig{
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
		},
	}
}

// Load reads the config file at path, layered over defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configured values are usable.
func (c *Config) Validate() error {
	if c.Engine.Workers < 1 {
		return rwerr.ConfigInvalidValue("engine.workers", "must be at least 1")
	}
	if c.Engine.PollInterval <= 0 {
		return rwerr.ConfigInvalidValue("engine.poll_interval", "must be positive")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return rwerr.ConfigInvalidValue("scheduler.sweep_interval", "must be positive")
	}
	if c.Approvals.SweepInterval <= 0 {
		return rwerr.ConfigInvalidValue("approvals.sweep_interval", "must be positive")
	}
	if c.Vault.MasterKeyEnv == "" {
		return rwerr.ConfigMissingField("vault.master_key_env")
	}
	return nil
}

// MasterKey reads the vault master key from the environment. Absence
// is a configuration error unless the insecure default is explicitly
// allowed, in which case the caller must log a warning.
func (c *Config) MasterKey() (key string, insecure bool, err error) {
	key = os.Getenv(c.Vault.MasterKeyEnv)
	if key != "" {
		return key, false, nil
	}
	if c.Vault.AllowInsecureDefault {
		return "runward-insecure-dev-key", true, nil
	}
	return "", false, rwerr.ConfigMissingMasterKey(c.Vault.MasterKeyEnv)
}

// LogFile returns the resolved log file path, or empty if unset.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}
