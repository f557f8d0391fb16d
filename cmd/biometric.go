package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Manage biometric unlock",
	Long: `Biometric unlock keeps a copy of the profile key in the OS keyring and
releases it after a platform prompt. Changing the master password removes the
enrolment.`,
}

var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enrol the current key for biometric unlock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		ok, err := m.EnableBiometric()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Biometric unlock is not available on this system")
			return nil
		}
		fmt.Println("✓ Biometric unlock enabled")
		return nil
	},
}

var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the biometric enrolment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		if err := m.DisableBiometric(); err != nil {
			return err
		}
		fmt.Println("Biometric unlock disabled")
		return nil
	},
}

var biometricStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether biometric unlock is enrolled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}

		state, err := m.State()
		if err != nil {
			return err
		}
		switch {
		case !state.BiometricAvailable:
			fmt.Println("Biometric: not available")
		case state.BiometricEnrolled:
			fmt.Println("Biometric: enrolled")
		default:
			fmt.Println("Biometric: not enrolled")
		}
		return nil
	},
}

func init() {
	biometricCmd.AddCommand(biometricEnableCmd, biometricDisableCmd, biometricStatusCmd)
	rootCmd.AddCommand(biometricCmd)
}
