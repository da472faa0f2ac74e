package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runward-io/runward/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <runbook-id>",
	Short: "Trigger an execution of a runbook",
	Long: `Queue an execution of the latest active version of a runbook.
Parameters are passed as repeated --param name=value flags and
validated against the runbook's declarations.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runParams      []string
	runTriggeredBy string
)

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "parameter as name=value (repeatable)")
	runCmd.Flags().StringVar(&runTriggeredBy, "by", "cli", "who triggered the execution")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	exec, err := a.svc.Trigger(cmd.Context(), args[0], types.TriggerManual, runTriggeredBy, params)
	if err != nil {
		return err
	}

	fmt.Printf("Execution queued: %s\n", exec.ID)
	fmt.Printf("  Runbook: %s (version %d)\n", exec.RunbookID, exec.RunbookVersion)
	return nil
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}
		params[name] = value
	}
	return params, nil
}
