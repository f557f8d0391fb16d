package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/illarion/privkeep/internal/logging"
	"github.com/illarion/privkeep/internal/power"
	"github.com/illarion/privkeep/internal/session"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Keep the profile unlocked in an interactive session",
	Long: `Starts an interactive session. The profile stays unlocked until the
session locks: on 'lock', after the auto-lock timeout, or when the system
suspends or the screen locks. Any other input is run as a privkeep command.

Built-in commands:
  lock      Lock the session and wipe the key from memory
  unlock    Unlock the session again
  exit      Leave the shell`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interactive {
			return errors.New("already in a shell")
		}

		ctx := cmd.Context()
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		interactive = true
		defer func() { interactive = false }()

		unsubscribe := m.Subscribe(func(ev session.Event) {
			if ev.State == session.Locked {
				fmt.Fprintf(os.Stderr, "\nSession locked (%s)\n", ev.Reason)
			}
		})
		defer unsubscribe()

		if cfg.WatchSystemEvents {
			watcher := power.NewLogindWatcher(logging.Component(log, "power"))
			triggers, err := watcher.Start(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("not watching system events")
			} else {
				m.WatchSystemEvents(ctx, triggers)
			}
		}

		for {
			if m.IsAuthenticated() {
				fmt.Fprint(os.Stderr, "privkeep> ")
			} else {
				fmt.Fprint(os.Stderr, "privkeep (locked)> ")
			}

			line, err := stdin.ReadString('\n')
			if errors.Is(err, io.EOF) && line == "" {
				fmt.Fprintln(os.Stderr)
				return nil
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}

			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}

			switch fields[0] {
			case "exit", "quit":
				return nil
			case "lock":
				m.LockSession()
				continue
			case "unlock":
				if _, err := unlocked(cmd); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
				}
				continue
			}

			rootCmd.SetArgs(fields)
			if err := rootCmd.ExecuteContext(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
			}
			resetFlags(rootCmd)
		}
	},
}

// resetFlags restores every flag to its default so one shell command does
// not leak options into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(child)
	}
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
