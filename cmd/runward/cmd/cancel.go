package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an execution",
	Long: `Request cancellation of an execution. Queued and paused
executions cancel immediately; a running execution halts at its next
step boundary, except a shell or script subprocess which is
terminated.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.CancelExecution(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested: %s\n", args[0])
	return nil
}
