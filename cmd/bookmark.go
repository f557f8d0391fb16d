package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/securestore"
)

var (
	historyLimit int
	historyForce bool
)

var bookmarkCmd = &cobra.Command{
	Use:   "bookmark",
	Short: "Manage bookmarks",
}

var bookmarkAddCmd = &cobra.Command{
	Use:   "add <url> [title...]",
	Short: "Save a bookmark",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		b := &securestore.Bookmark{URL: args[0], Title: strings.Join(args[1:], " ")}
		if err := m.SaveBookmark(b); err != nil {
			return err
		}
		fmt.Printf("✓ Bookmarked %s (%s)\n", b.URL, b.ID)
		return nil
	},
}

var bookmarkListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bookmarks, most recently updated first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		bookmarks, err := m.Bookmarks()
		if err != nil {
			return err
		}
		if len(bookmarks) == 0 {
			fmt.Println("(none)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tURL")
		for _, b := range bookmarks {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Title, b.URL)
		}
		return w.Flush()
	},
}

var bookmarkRemoveCmd = &cobra.Command{
	Use:     "rm <id> [id...]",
	Aliases: []string{"remove"},
	Short:   "Delete bookmarks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := m.DeleteBookmark(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
		}
		fmt.Printf("✓ Removed %d bookmark(s)\n", len(args))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage browsing history",
}

var historyAddCmd = &cobra.Command{
	Use:   "add <url> [title...]",
	Short: "Record a visit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		e := &securestore.HistoryEntry{URL: args[0], Title: strings.Join(args[1:], " ")}
		if err := m.SaveHistory(e); err != nil {
			return err
		}
		fmt.Printf("✓ Recorded %s\n", e.URL)
		return nil
	},
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent visits",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		entries, err := m.History(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("(none)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VISITED\tVISITS\tTITLE\tURL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.VisitedAt.Format(time.DateTime), e.VisitCount, e.Title, e.URL)
		}
		return w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all browsing history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		if !historyForce && !Confirm("Delete all browsing history") {
			fmt.Println("Aborted")
			return nil
		}
		if err := m.ClearHistory(); err != nil {
			return err
		}
		fmt.Println("✓ History cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", securestore.DefaultHistoryLimit, "number of entries to show")
	historyClearCmd.Flags().BoolVar(&historyForce, "force", false, "clear without confirmation")

	bookmarkCmd.AddCommand(bookmarkAddCmd, bookmarkListCmd, bookmarkRemoveCmd)
	historyCmd.AddCommand(historyAddCmd, historyListCmd, historyClearCmd)
	rootCmd.AddCommand(bookmarkCmd, historyCmd)
}
