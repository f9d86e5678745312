package cmd

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var copyCmd = &cobra.Command{
	Use:   "copy [item-uuid]",
	Short: "Copy a credential to the clipboard",
	Long:  "Unlock the vault, decrypt one item and place the selected credential on the system clipboard.",
	Args:  cobra.ExactArgs(1),
	RunE:  copyCredential,
}

var (
	copyField string
	copyClear time.Duration
)

func init() {
	rootCmd.AddCommand(copyCmd)

	copyCmd.Flags().StringVarP(&copyField, "field", "f", "password", "credential to copy (password, username, totp)")
	copyCmd.Flags().DurationVar(&copyClear, "clear-after", 30*time.Second, "clear the clipboard after this delay (0 keeps it)")
}

func copyCredential(cmd *cobra.Command, args []string) error {
	session, err := unlockedSession(cmd)
	if err != nil {
		return err
	}
	defer session.Lock()

	creds, err := session.GetCredentials(args[0])
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	var value string
	switch copyField {
	case "password":
		value = creds.Password
	case "username":
		value = creds.Username
	case "totp":
		value = creds.Totp
	default:
		return fmt.Errorf("unknown field '%s' (expected password, username or totp)", copyField)
	}
	if value == "" {
		return fmt.Errorf("item '%s' has no %s", creds.Title, copyField)
	}

	if err := clipboard.WriteAll(value); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	fmt.Printf("Copied %s for '%s' to clipboard\n", copyField, creds.Title)

	if copyClear > 0 {
		fmt.Printf("Clearing clipboard in %s...\n", copyClear)
		time.Sleep(copyClear)
		// Only clear what we put there; the user may have copied since.
		current, err := clipboard.ReadAll()
		if err == nil && current == value {
			if err := clipboard.WriteAll(""); err != nil {
				return fmt.Errorf("failed to clear clipboard: %w", err)
			}
			fmt.Println("Clipboard cleared")
		}
	}

	return nil
}
