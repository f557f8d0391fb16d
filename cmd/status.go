package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ls"},
	Short:   "Show profile and session state",
	Long:    "Shows whether a master password is set, the lockout and biometric state\nand the profile location. Does not require a password.",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}

		state, err := m.State()
		if err != nil {
			return err
		}

		if state.FirstRun {
			fmt.Println("No master password set up")
			fmt.Println("Run 'privkeep init' to create one")
			return nil
		}

		fmt.Printf("Profile:   %s", cfg.DatabasePath())
		if info, err := os.Stat(cfg.DatabasePath()); err == nil {
			fmt.Printf(" (%s)", formatSize(info.Size()))
		}
		fmt.Println()

		if state.Authenticated {
			fmt.Println("Session:   unlocked")
		} else {
			fmt.Println("Session:   locked")
		}

		snap := m.Session()
		if snap.AutoLockMinutes > 0 {
			fmt.Printf("Auto-lock: after %d minutes\n", snap.AutoLockMinutes)
		} else {
			fmt.Println("Auto-lock: disabled")
		}

		switch {
		case !state.BiometricAvailable:
			fmt.Println("Biometric: not available")
		case state.BiometricEnrolled:
			fmt.Println("Biometric: enrolled")
		default:
			fmt.Println("Biometric: available, not enrolled")
		}

		if state.LockoutRemaining > 0 {
			fmt.Printf("Lockout:   %s remaining\n", state.LockoutRemaining.Round(time.Second))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
