package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/auth"
	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/password"
)

var (
	initBiometric bool
	initReset     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the master password",
	Long: `Creates the master password and unlocks a new, empty profile.
The password is hashed with argon2id and never stored in clear. It must be
at least 12 characters and score as strong.

If the stored hash was lost, entering the previous master password restores
it and keeps the data. --reset discards data sealed under a forgotten one.`,
	Example: `  privkeep init
  privkeep init --biometric
  privkeep init --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}

		first, err := m.IsFirstRun()
		if err != nil {
			return err
		}
		if !first {
			return auth.ErrAlreadyInitialized
		}

		if initReset {
			if !Confirm("Discard all existing profile data") {
				return fmt.Errorf("reset cancelled")
			}
			if err := m.ResetProfile(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("✓ Existing profile data discarded")
		}

		pw, err := GetNewPassword("Enter new master password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(pw)

		if strength := password.Evaluate(pw); !strength.Strong {
			for _, hint := range strength.Feedback {
				fmt.Printf("  - %s\n", hint)
			}
			return password.ErrWeakPassword
		}

		if err := m.SetupMasterPassword(cmd.Context(), pw, initBiometric); err != nil {
			return err
		}

		fmt.Println("✓ Master password created")
		if initBiometric {
			state, err := m.State()
			if err == nil && state.BiometricEnrolled {
				fmt.Println("✓ Biometric unlock enabled")
			} else {
				fmt.Println("Biometric unlock is not available on this system")
			}
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initBiometric, "biometric", false, "enable biometric unlock")
	initCmd.Flags().BoolVar(&initReset, "reset", false, "discard data sealed under a lost master password")
	rootCmd.AddCommand(initCmd)
}
