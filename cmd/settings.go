package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var settingCmd = &cobra.Command{
	Use:   "setting",
	Short: "Read and write encrypted settings",
}

var settingGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		var value json.RawMessage
		found, err := m.GetSetting(args[0], &value)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Println(string(value))
		return nil
	},
}

var settingSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Long:  "Stores a setting. Values that parse as JSON are stored as such, anything\nelse is stored as a string.",
	Example: `  privkeep setting set theme dark
  privkeep setting set privacy.blockTrackers true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		var value any = args[1]
		if json.Valid([]byte(args[1])) {
			value = json.RawMessage(args[1])
		}
		if err := m.SaveSetting(args[0], value); err != nil {
			return err
		}
		fmt.Printf("✓ %s updated\n", args[0])
		return nil
	},
}

var settingListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all settings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		settings, err := m.Settings()
		if err != nil {
			return err
		}
		for _, st := range settings {
			fmt.Printf("%s = %s\n", st.Key, st.Value)
		}
		return nil
	},
}

var autolockCmd = &cobra.Command{
	Use:   "autolock [minutes]",
	Short: "Show or set the inactivity timeout",
	Long:  "Shows or sets how many idle minutes lock the session. 0 disables auto-lock.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			settings, err := m.SecuritySettings()
			if err != nil {
				return err
			}
			fmt.Printf("Auto-lock: %d minutes\n", settings.AutoLockMinutes)
			return nil
		}

		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid minutes %q", args[0])
		}
		if err := m.SetAutoLockTimeout(minutes); err != nil {
			return err
		}
		if minutes == 0 {
			fmt.Println("✓ Auto-lock disabled")
		} else {
			fmt.Printf("✓ Auto-lock after %d minutes\n", minutes)
		}
		return nil
	},
}

func init() {
	settingCmd.AddCommand(settingGetCmd, settingSetCmd, settingListCmd)
	rootCmd.AddCommand(settingCmd, autolockCmd)
}
