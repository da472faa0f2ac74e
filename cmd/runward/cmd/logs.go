package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <execution-id>",
	Short: "Show the log of an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.svc.ListLogs(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	for _, entry := range entries {
		step := entry.StepID
		if step == "" {
			step = "-"
		}
		fmt.Printf("%s  %-5s  [%d:%s]  %s\n",
			entry.Timestamp.Format(time.RFC3339),
			entry.Level, entry.StepIndex, step, entry.Message)
	}
	return nil
}
