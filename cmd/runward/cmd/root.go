package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/runward-io/runward/internal/config"
	"github.com/runward-io/runward/internal/engine"
	"github.com/runward-io/runward/internal/logging"
	"github.com/runward-io/runward/internal/service"
	"github.com/runward-io/runward/internal/store"
	"github.com/runward-io/runward/internal/store/postgres"
	"github.com/runward-io/runward/internal/vault"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "runward",
	Short: "Runward - runbook automation engine",
	Long: `Runward runs versioned operational runbooks: multi-step workflows
with typed steps (http, sql, shell, script, wait, ai, manual,
conditional, parallel), failure policies, approval gates, an
encrypted secret vault and recurring schedules.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "runward.toml", "config file path")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("runward {{.Version}}\n")
}

// app bundles the wired components a command needs. Close releases
// the database pool and the log file.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	st      *store.Store
	svc     *service.Service
	engine  *engine.Engine
	closers []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		c.Close()
	}
}

// newApp loads config and wires store, vault, engine and service.
// With no database DSN configured it falls back to the in-memory
// store, which only makes sense for the serve command.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.NewFromConfig(cfg, ".")
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	if cfg.Database.DSN != "" {
		pg, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(pg.Close))
		a.st = pg.Store()
	} else {
		logger.Warn("no database configured, using in-memory store")
		a.st = store.NewMemory()
	}

	masterKey, insecure, err := cfg.MasterKey()
	if err != nil {
		a.Close()
		return nil, err
	}
	if insecure {
		logger.Warn("vault is using the insecure development key")
	}
	v, err := vault.New(masterKey, a.st.Secrets, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine = engine.New(cfg, a.st, v, logger)
	a.svc = service.New(a.st, v, a.engine, logger)
	return a, nil
}

type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }
