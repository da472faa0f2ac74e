package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending manual step",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending manual step",
	Long: `Reject a pending manual step. The manual step's failure policy
decides what happens to the execution: continue advances past the
step, rollback runs compensations, anything else fails it.`,
	Args: cobra.ExactArgs(1),
	RunE: runReject,
}

var (
	decisionBy      string
	decisionComment string
)

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&decisionBy, "by", "cli", "who decided")
		c.Flags().StringVar(&decisionComment, "comment", "", "decision comment")
		rootCmd.AddCommand(c)
	}
}

func runApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Approve(cmd.Context(), args[0], decisionBy, decisionComment); err != nil {
		return err
	}
	fmt.Printf("Approved: %s\n", args[0])
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Reject(cmd.Context(), args[0], decisionBy, decisionComment); err != nil {
		return err
	}
	fmt.Printf("Rejected: %s\n", args[0])
	return nil
}
