package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/vault"
)

var (
	vaultNotes      string
	vaultGenerate   bool
	vaultSkipBreach bool
	vaultShow       bool

	genLength    int
	genNoSymbols bool
	genNoNumbers bool
	genNoUpper   bool
	genNoLower   bool
	genNoAmbig   bool
	genWords     int
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage saved credentials",
}

var vaultAddCmd = &cobra.Command{
	Use:   "add <url|domain> <username>",
	Short: "Save a credential",
	Long: `Saves a credential. A URL is grouped by its registrable domain, so
https://login.example.com is stored under example.com. A bare domain is
stored exactly as given: mail.example.com does not match login.example.com.
The password is prompted for unless --generate is given, and checked against
the breach corpus unless --no-breach-check is given.`,
	Example: `  privkeep vault add https://example.com/login a@b.com
  privkeep vault add example.com a@b.com --generate`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		pw, err := entryPassword()
		if err != nil {
			return err
		}

		entry := &vault.Entry{Username: args[1], Password: pw, Notes: vaultNotes}
		if strings.Contains(args[0], "://") {
			entry.URL = args[0]
		} else {
			entry.Domain = args[0]
		}

		if err := m.SaveVaultEntry(entry); err != nil {
			return err
		}
		fmt.Printf("✓ Saved %s for %s (%s)\n", entry.Username, entry.Domain, entry.ID)

		if vaultGenerate {
			fmt.Printf("Password: %s\n", pw)
		} else if !vaultSkipBreach {
			warnIfBreached(cmd, pw)
		}
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <url|domain> <username>",
	Short: "Show the newest credential for a domain and username",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		entry, err := m.VaultEntry(args[0], args[1])
		if err != nil {
			return err
		}
		if err := m.MarkVaultEntryUsed(entry.ID); err != nil {
			log.Warn().Err(err).Msg("failed to record vault entry use")
		}

		fmt.Printf("ID:       %s\n", entry.ID)
		fmt.Printf("Domain:   %s\n", entry.Domain)
		if entry.URL != "" {
			fmt.Printf("URL:      %s\n", entry.URL)
		}
		fmt.Printf("Username: %s\n", entry.Username)
		fmt.Printf("Password: %s\n", entry.Password)
		if entry.Notes != "" {
			fmt.Printf("Notes:    %s\n", entry.Notes)
		}
		fmt.Printf("Updated:  %s\n", entry.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:     "list [query]",
	Aliases: []string{"ls", "search"},
	Short:   "List credentials, optionally filtered by username or URL",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		var entries []vault.Entry
		if len(args) == 1 {
			entries, err = m.SearchVault(args[0])
		} else {
			entries, err = m.VaultEntries()
		}
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("(none)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOMAIN\tUSERNAME\tPASSWORD\tLAST USED")
		for _, e := range entries {
			secret := "********"
			if vaultShow {
				secret = e.Password
			}
			lastUsed := "never"
			if e.LastUsed != nil {
				lastUsed = e.LastUsed.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Domain, e.Username, secret, lastUsed)
		}
		return w.Flush()
	},
}

var vaultRemoveCmd = &cobra.Command{
	Use:     "rm <id> [id...]",
	Aliases: []string{"remove"},
	Short:   "Delete credentials",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := m.DeleteVaultEntry(id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Printf("✓ Removed %s\n", id)
		}
		return nil
	},
}

var vaultPasswdCmd = &cobra.Command{
	Use:   "passwd <id>",
	Short: "Replace the password of a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		pw, err := entryPassword()
		if err != nil {
			return err
		}
		if err := m.UpdateVaultPassword(args[0], pw); err != nil {
			return err
		}

		fmt.Println("✓ Password updated")
		if vaultGenerate {
			fmt.Printf("Password: %s\n", pw)
		} else if !vaultSkipBreach {
			warnIfBreached(cmd, pw)
		}
		return nil
	},
}

var vaultGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password",
	Example: `  privkeep vault generate --length 32
  privkeep vault generate --words 4`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := unlocked(cmd)
		if err != nil {
			return err
		}

		var pw string
		if genWords > 0 {
			pw, err = vault.GenerateMemorable(genWords)
		} else {
			pw, err = m.GeneratePassword(generatorOptions())
		}
		if err != nil {
			return err
		}

		fmt.Println(pw)
		fmt.Fprintf(os.Stderr, "entropy: %.0f bits\n", vault.Entropy(pw))
		return nil
	},
}

var vaultBreachCmd = &cobra.Command{
	Use:   "breach",
	Short: "Check a password against the breach corpus",
	Long: `Checks a password against the Pwned Passwords range API. Only the first
five characters of its SHA-1 digest leave this machine. Network failures
report the password as not found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := unlocked(cmd); err != nil {
			return err
		}

		pw, err := ReadPassword("Password to check: ")
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(pw)

		if !warnIfBreached(cmd, string(pw)) {
			fmt.Println("✓ Not found in known breaches")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{vaultAddCmd, vaultPasswdCmd} {
		c.Flags().BoolVar(&vaultGenerate, "generate", false, "generate a random password")
		c.Flags().BoolVar(&vaultSkipBreach, "no-breach-check", false, "skip the breach check")
	}
	vaultAddCmd.Flags().StringVar(&vaultNotes, "notes", "", "free-form notes")
	vaultListCmd.Flags().BoolVar(&vaultShow, "show", false, "print passwords")

	f := vaultGenerateCmd.Flags()
	f.IntVarP(&genLength, "length", "l", vault.DefaultGeneratorOptions().Length, "password length (12-64)")
	f.BoolVar(&genNoUpper, "no-upper", false, "exclude upper case letters")
	f.BoolVar(&genNoLower, "no-lower", false, "exclude lower case letters")
	f.BoolVar(&genNoNumbers, "no-numbers", false, "exclude digits")
	f.BoolVar(&genNoSymbols, "no-symbols", false, "exclude symbols")
	f.BoolVar(&genNoAmbig, "no-ambiguous", false, "exclude look-alike characters")
	f.IntVar(&genWords, "words", 0, "generate a memorable password of this many words")

	vaultCmd.AddCommand(vaultAddCmd, vaultGetCmd, vaultListCmd, vaultRemoveCmd,
		vaultPasswdCmd, vaultGenerateCmd, vaultBreachCmd)
	rootCmd.AddCommand(vaultCmd)
}

func generatorOptions() vault.GeneratorOptions {
	return vault.GeneratorOptions{
		Length:           genLength,
		Uppercase:        !genNoUpper,
		Lowercase:        !genNoLower,
		Numbers:          !genNoNumbers,
		Symbols:          !genNoSymbols,
		ExcludeAmbiguous: genNoAmbig,
	}
}

func entryPassword() (string, error) {
	if vaultGenerate {
		return vault.Generate(vault.DefaultGeneratorOptions())
	}

	pw, err := ReadPassword("Password for entry: ")
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(pw)
	return string(pw), nil
}

// warnIfBreached prints a warning and reports whether pw was found
func warnIfBreached(cmd *cobra.Command, pw string) bool {
	breached, err := manager.CheckForBreaches(cmd.Context(), pw)
	if err != nil || !breached {
		return false
	}
	fmt.Fprintln(os.Stderr, "warning: this password appears in known data breaches")
	return true
}
