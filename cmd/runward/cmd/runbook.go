package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runward-io/runward/internal/runbook"
)

var runbookCmd = &cobra.Command{
	Use:   "runbook",
	Short: "Manage runbook definitions",
}

var runbookValidateCmd = &cobra.Command{
	Use:   "validate <file.yaml>",
	Short: "Validate a runbook definition file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunbookValidate,
}

var runbookPublishCmd = &cobra.Command{
	Use:   "publish <file.yaml>",
	Short: "Publish a runbook definition as a new version",
	Long: `Validate and store a runbook definition. Publishing a definition
with an existing ID creates the next version; older versions stay
immutable and keep serving their in-flight executions.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunbookPublish,
}

var runbookActivateCmd = &cobra.Command{
	Use:   "activate <runbook-id>",
	Short: "Activate the latest version of a runbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunbookActivate,
}

var runbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runbooks (latest versions)",
	Args:  cobra.NoArgs,
	RunE:  runRunbookList,
}

func init() {
	runbookCmd.AddCommand(runbookValidateCmd, runbookPublishCmd, runbookActivateCmd, runbookListCmd)
	rootCmd.AddCommand(runbookCmd)
}

func runRunbookValidate(cmd *cobra.Command, args []string) error {
	rb, err := runbook.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Valid: %s (%d steps, environment %s)\n", rb.Name, len(rb.Steps), rb.Environment)
	return nil
}

func runRunbookPublish(cmd *cobra.Command, args []string) error {
	rb, err := runbook.LoadFile(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	saved, err := a.svc.SaveRunbook(cmd.Context(), rb)
	if err != nil {
		return err
	}
	fmt.Printf("Published: %s\n", saved.ID)
	fmt.Printf("  Name:    %s\n", saved.Name)
	fmt.Printf("  Version: %d\n", saved.Version)
	fmt.Printf("  Status:  %s\n", saved.Status)
	return nil
}

func runRunbookActivate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rb, err := a.svc.ActivateRunbook(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Activated: %s (version %d)\n", rb.ID, rb.Version)
	return nil
}

func runRunbookList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	runbooks, err := a.st.Runbooks.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(runbooks) == 0 {
		fmt.Println("No runbooks.")
		return nil
	}
	for _, rb := range runbooks {
		fmt.Printf("%s  v%-3d  %-10s  %-12s  %s\n", rb.ID, rb.Version, rb.Status, rb.Environment, rb.Name)
	}
	return nil
}
