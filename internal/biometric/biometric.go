// Package biometric models the platform biometric unlock as an opaque
// holder of the master key, gated by a user-consent prompt.
package biometric

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/keyring"
)

// MasterKeyAccount is the credential store account holding the enrolled key
const MasterKeyAccount = "MasterKey"

var (
	ErrUnavailable = errors.New("biometric authentication unavailable")
	ErrNotEnrolled = errors.New("biometric authentication not enrolled")
	ErrDeclined    = errors.New("biometric authentication declined")
)

// Provider is the biometric collaborator used by the auth layer
type Provider interface {
	IsAvailable() bool
	IsEnrolled() (bool, error)
	Enroll(key []byte) error
	Retrieve(ctx context.Context) (*crypto.Secret, error)
	Remove() error
}

// PromptFunc asks the user to confirm; it returns false or an error to decline
type PromptFunc func(ctx context.Context, reason string) (bool, error)

// KeyringProvider seals the master key in the OS credential store
type KeyringProvider struct {
	store     keyring.Store
	service   string
	available bool
	prompt    PromptFunc
	log       zerolog.Logger
}

// Option configures a KeyringProvider
type Option func(*KeyringProvider)

// WithAvailability overrides platform detection
func WithAvailability(available bool) Option {
	return func(p *KeyringProvider) { p.available = available }
}

// WithPrompt installs the consent prompt run before each retrieval
func WithPrompt(fn PromptFunc) Option {
	return func(p *KeyringProvider) { p.prompt = fn }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *KeyringProvider) { p.log = l }
}

// NewKeyringProvider creates a provider. Availability defaults to platforms
// with a native biometric prompt.
func NewKeyringProvider(store keyring.Store, service string, opts ...Option) *KeyringProvider {
	p := &KeyringProvider{
		store:     store,
		service:   service,
		available: PlatformSupported(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlatformSupported reports whether the OS offers a biometric prompt
func PlatformSupported() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	}
	return false
}

// IsAvailable reports whether biometric unlock can be used
func (p *KeyringProvider) IsAvailable() bool {
	return p.available
}

// IsEnrolled reports whether a master key is stored
func (p *KeyringProvider) IsEnrolled() (bool, error) {
	return keyring.Has(p.store, p.service, MasterKeyAccount)
}

// Enroll stores a copy of key
func (p *KeyringProvider) Enroll(key []byte) error {
	if !p.available {
		return ErrUnavailable
	}
	if len(key) != crypto.KeySize {
		return crypto.ErrInvalidKeyLength
	}
	if err := p.store.Set(p.service, MasterKeyAccount, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("failed to store biometric key: %w", err)
	}
	p.log.Info().Msg("biometric unlock enrolled")
	return nil
}

// Retrieve prompts the user and returns the enrolled key
func (p *KeyringProvider) Retrieve(ctx context.Context) (*crypto.Secret, error) {
	if !p.available {
		return nil, ErrUnavailable
	}

	encoded, err := p.store.Get(p.service, MasterKeyAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read biometric key: %w", err)
	}

	if p.prompt != nil {
		ok, err := p.prompt(ctx, "Unlock Privacy Browser")
		if err != nil || !ok {
			return nil, ErrDeclined
		}
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != crypto.KeySize {
		crypto.ClearBytes(key)
		return nil, fmt.Errorf("stored biometric key is corrupt: %w", crypto.ErrInvalidKeyLength)
	}
	return crypto.NewSecret(key), nil
}

// Remove deletes the enrolled key
func (p *KeyringProvider) Remove() error {
	if err := p.store.Delete(p.service, MasterKeyAccount); err != nil {
		return fmt.Errorf("failed to remove biometric key: %w", err)
	}
	return nil
}
