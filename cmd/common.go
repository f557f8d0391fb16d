package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/privkeep/internal/auth"
	"github.com/illarion/privkeep/internal/biometric"
	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/keyring"
	"github.com/illarion/privkeep/internal/logging"
	"github.com/illarion/privkeep/internal/password"
	"github.com/illarion/privkeep/internal/storage"
	"github.com/illarion/privkeep/internal/vault"
)

func newBiometricProvider() biometric.Provider {
	opts := []biometric.Option{
		biometric.WithLogger(logging.Component(log, "biometric")),
		biometric.WithPrompt(func(ctx context.Context, reason string) (bool, error) {
			return Confirm(reason + "?"), nil
		}),
	}
	if cfg.BiometricOverride != nil {
		opts = append(opts, biometric.WithAvailability(*cfg.BiometricOverride))
	}
	return biometric.NewKeyringProvider(keyring.NewOSStore(), cfg.KeyringService, opts...)
}

// unlocked returns a manager with a live session, unlocking it with the
// enrolled biometric key or the master password as needed.
func unlocked(cmd *cobra.Command) (*auth.Manager, error) {
	ctx := cmd.Context()
	m, err := openManager(ctx)
	if err != nil {
		return nil, err
	}

	if m.IsAuthenticated() {
		m.ResetInactivity()
		return m, nil
	}

	state, err := m.State()
	if err != nil {
		return nil, err
	}
	if state.FirstRun {
		return nil, auth.ErrNotInitialized
	}

	if state.BiometricEnrolled && PasswordFromEnv() == nil {
		ok, err := m.LoginWithBiometric(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return m, nil
		}
	}

	pw, err := GetPassword("Enter master password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(pw)

	ok, err := m.Login(ctx, pw)
	if err != nil {
		return nil, err
	}
	if !ok {
		if remaining := m.LockoutRemaining(); remaining > 0 {
			return nil, fmt.Errorf("%w: try again in %s", password.ErrLocked, remaining.Round(time.Second))
		}
		return nil, password.ErrAuthenticationFailed
	}
	return m, nil
}

func describeError(err error) string {
	switch {
	case errors.Is(err, auth.ErrNotInitialized):
		return "master password not set up\nRun 'privkeep init' first"
	case errors.Is(err, auth.ErrAlreadyInitialized):
		return "master password already set up\nUse 'privkeep passwd' to change it"
	case errors.Is(err, password.ErrAuthenticationFailed):
		return "wrong password"
	case errors.Is(err, password.ErrWeakPassword):
		return fmt.Sprintf("password too weak\nUse at least %d characters mixing upper and lower case, digits and symbols", password.MinLength)
	case errors.Is(err, auth.ErrSessionLocked):
		return "session is locked\nRun 'unlock' to continue"
	case errors.Is(err, auth.ErrOrphanedData):
		return "existing data was sealed under a different master password\nEnter that password, or run 'privkeep init --reset' to discard the data"
	case errors.Is(err, auth.ErrKeyMismatch):
		return "stored profile does not match the master password"
	case errors.Is(err, storage.ErrUnavailable):
		return "profile database is not open"
	case errors.Is(err, vault.ErrNotFound):
		return "no matching vault entry"
	default:
		return err.Error()
	}
}

// HandleError prints err and exits
func HandleError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
	os.Exit(1)
}
