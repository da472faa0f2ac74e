package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show the state of an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.svc.GetExecution(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Execution: %s\n", exec.ID)
	fmt.Printf("  Runbook:  %s (version %d)\n", exec.RunbookID, exec.RunbookVersion)
	fmt.Printf("  Status:   %s\n", exec.Status)
	fmt.Printf("  Trigger:  %s (%s)\n", exec.Trigger, exec.TriggeredBy)
	fmt.Printf("  Step:     %d\n", exec.CurrentStepIndex)
	fmt.Printf("  Created:  %s\n", exec.CreatedAt.Format(time.RFC3339))
	if exec.StartedAt != nil {
		fmt.Printf("  Started:  %s\n", exec.StartedAt.Format(time.RFC3339))
	}
	if exec.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", exec.FinishedAt.Format(time.RFC3339))
	}
	if exec.Error != "" {
		fmt.Printf("  Error:    %s\n", exec.Error)
	}
	return nil
}
