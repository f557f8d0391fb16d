package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the profile database",
	Long: `Compacts the profile database to reclaim unused disk space.
This is done automatically after 'passwd' and 'import', but can be run
manually if needed.

Does not require a password.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd.Context())
		if err != nil {
			return err
		}

		path := cfg.DatabasePath()
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		sizeBefore := info.Size()

		if err := m.Compact(); err != nil {
			return err
		}

		info, err = os.Stat(path)
		if err != nil {
			return err
		}
		sizeAfter := info.Size()

		fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
