package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/runward-io/runward/internal/types"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage vault secrets",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create an encrypted secret",
	Long: `Create a secret in the vault. The value is read from stdin when
piped, otherwise prompted for without echo. Values never appear in
argv or logs.`,
	Args: cobra.ExactArgs(1),
	RunE: runSecretSet,
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate <secret-id>",
	Short: "Replace a secret's value",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretRotate,
}

var (
	secretScope     string
	secretType      string
	secretEnv       string
	secretRunbookID string
)

func init() {
	secretSetCmd.Flags().StringVar(&secretScope, "scope", "organization", "scope: organization, environment or runbook")
	secretSetCmd.Flags().StringVar(&secretType, "type", "", "secret type label (api_key, password, ...)")
	secretSetCmd.Flags().StringVar(&secretEnv, "env", "", "environment (for environment scope)")
	secretSetCmd.Flags().StringVar(&secretRunbookID, "runbook", "", "runbook ID (for runbook scope)")
	secretCmd.AddCommand(secretSetCmd, secretRotateCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	value, err := readSecretValue()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.svc.CreateSecret(cmd.Context(), args[0], value, secretType,
		types.SecretScope(secretScope), types.Environment(secretEnv), secretRunbookID)
	if err != nil {
		return err
	}
	fmt.Printf("Secret created: %s\n", id)
	return nil
}

func runSecretRotate(cmd *cobra.Command, args []string) error {
	value, err := readSecretValue()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.RotateSecret(cmd.Context(), args[0], value); err != nil {
		return err
	}
	fmt.Printf("Secret rotated: %s\n", args[0])
	return nil
}

func readSecretValue() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Value: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	value := strings.TrimRight(string(data), "\n")
	if value == "" {
		return "", fmt.Errorf("empty secret value")
	}
	return value, nil
}
