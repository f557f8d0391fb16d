package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/auth"
	"github.com/illarion/privkeep/internal/config"
	"github.com/illarion/privkeep/internal/logging"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	cfg     *config.Config
	log     zerolog.Logger
	manager *auth.Manager

	// set while the interactive shell is running
	interactive bool
)

var rootCmd = &cobra.Command{
	Use:   "privkeep",
	Short: "Encrypted profile and password vault for Privacy Browser",
	Long: `privkeep manages the encrypted browser profile: bookmarks, history,
settings and saved credentials. Everything is sealed with a key derived from
the master password and wiped from memory when the session locks.

The master password is read from PRIVKEEP_PASSWORD when set, otherwise it is
prompted for.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

// Execute runs the command line and wipes key material before returning
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if manager != nil {
		if serr := manager.Shutdown(); serr != nil && err == nil {
			err = serr
		}
		manager = nil
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "profile directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func loadConfig() error {
	if cfg != nil {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	log = logging.New(os.Stderr, cfg.LogLevel, logging.Format(cfg.LogFormat))
	return nil
}

// openManager returns the process-wide auth manager, creating it on first use
func openManager(ctx context.Context) (*auth.Manager, error) {
	if manager != nil {
		return manager, nil
	}
	if err := loadConfig(); err != nil {
		return nil, err
	}

	opts := auth.OptionsFromConfig(cfg, log)
	opts.Biometric = newBiometricProvider()

	m := auth.New(opts)
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := m.SetAutoLockTimeout(cfg.AutoLockMinutes); err != nil {
		log.Warn().Err(err).Msg("ignoring configured auto-lock timeout")
	}

	manager = m
	return m, nil
}
