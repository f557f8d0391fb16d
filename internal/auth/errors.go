package auth

import (
	"errors"
	"fmt"

	"github.com/illarion/privkeep/internal/storage"
)

var (
	ErrSessionLocked      = errors.New("session is locked")
	ErrAlreadyInitialized = errors.New("master password already set up")
	ErrNotInitialized     = errors.New("master password not set up")
	ErrKeyMismatch        = errors.New("derived key does not match stored data")
	ErrOrphanedData       = errors.New("profile holds data sealed under another master password")

	// ErrNotOpen matches storage.ErrUnavailable
	ErrNotOpen = fmt.Errorf("auth manager not initialized: %w", storage.ErrUnavailable)
)
