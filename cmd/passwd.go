package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/crypto"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master password",
	Long: `Changes the master password. Requires both the current and new passwords.
Re-encrypts the whole profile with the new key and removes any biometric
enrolment, which was bound to the old key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}

		currentPassword, err := ReadPassword("Enter current password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(currentPassword)

		newPassword, err := ReadPasswordConfirm("Enter new password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(newPassword)

		if err := m.ChangeMasterPassword(cmd.Context(), currentPassword, newPassword); err != nil {
			return err
		}

		// Compact database after rewriting all data
		if err := m.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
		}

		fmt.Println("password changed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}
