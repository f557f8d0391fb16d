package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/backup"
	"github.com/illarion/privkeep/internal/crypto"
)

var (
	exportOut     string
	importPreview bool
	importForce   bool
)

var exportCmd = &cobra.Command{
	Use:   "export [name]",
	Short: "Write an encrypted archive of bookmarks, history and settings",
	Long: `Writes bookmarks, history and settings to an archive sealed with a
separate export password. Saved credentials are not exported.

Archives are kept in the profile's backups directory under a dated name
unless a name or --out is given.`,
	Example: `  privkeep export
  privkeep export before-reinstall.pkx
  privkeep export --out /media/usb/profile.pkx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		pw, err := ReadPasswordConfirm("Enter export password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(pw)

		data, err := m.ExportData(pw)
		if err != nil {
			return err
		}

		dest := exportOut
		if dest != "" {
			if err := os.WriteFile(dest, data, 0600); err != nil {
				return fmt.Errorf("failed to write archive: %w", err)
			}
		} else {
			dir, err := backup.Open(cfg.BackupPath())
			if err != nil {
				return err
			}
			defer dir.Close()

			name := backup.Name(time.Now())
			if len(args) == 1 {
				name = args[0]
			}
			if err := dir.Write(name, data); err != nil {
				return err
			}
			dest = filepath.Join(dir.Path(), filepath.FromSlash(name))
		}

		fmt.Printf("✓ Exported to %s (%s)\n", dest, formatSize(int64(len(data))))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <name|file>",
	Short: "Restore bookmarks, history and settings from an archive",
	Long: `Restores bookmarks, history and settings from an archive written by
'export'. Records keep their ids, so a record present in both is replaced by
the archived copy; nothing is deleted. The argument names an archive in the
backups directory or, failing that, a file path.

The differences are printed first: lines starting with '-' exist only in this
profile, lines starting with '+' only in the archive. With --preview nothing
is imported.`,
	Example: `  privkeep import privkeep-20240501T080000Z.pkx --preview
  privkeep import /media/usb/profile.pkx --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		data, err := readArchive(args[0])
		if err != nil {
			return err
		}

		pw, err := ReadPassword("Enter export password: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(pw)

		diff, err := m.PreviewImport(data, pw)
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Println("No changes")
			return nil
		}
		fmt.Print(diff)
		if importPreview {
			return nil
		}

		if !importForce && !Confirm("Import these records") {
			fmt.Println("Aborted")
			return nil
		}
		if err := m.ImportData(data, pw); err != nil {
			return err
		}
		if err := m.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: compaction failed: %s\n", err)
		}

		fmt.Println("✓ Import complete")
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List archives in the backups directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := backup.Open(cfg.BackupPath())
		if err != nil {
			return err
		}
		defer dir.Close()

		list, err := dir.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("(none)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tCREATED")
		for _, b := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, formatSize(b.Size), b.ModTime.Format(time.DateTime))
		}
		return w.Flush()
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write the archive to this path instead")
	importCmd.Flags().BoolVar(&importPreview, "preview", false, "show changes without importing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "import without confirmation")
	rootCmd.AddCommand(exportCmd, importCmd, backupsCmd)
}

func readArchive(name string) ([]byte, error) {
	dir, err := backup.Open(cfg.BackupPath())
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	if dir.Exists(name) {
		return dir.Read(name)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return data, nil
}
