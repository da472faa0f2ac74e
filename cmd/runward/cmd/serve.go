package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/runward-io/runward/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execution engine and scheduler",
	Long: `Start the worker pool, the approval expiry sweeper and the
schedule sweeper. Runs until interrupted; in-flight steps finish
before shutdown completes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.cfg, a.st, a.svc, a.logger)

	errCh := make(chan error, 2)
	go func() { errCh <- a.engine.Run(ctx) }()
	go func() { errCh <- sched.Run(ctx) }()

	<-ctx.Done()
	a.logger.Info("shutting down")
	a.engine.Shutdown()
	sched.Shutdown()

	if err := <-errCh; err != nil && err != context.Canceled {
		return err
	}
	return nil
}
