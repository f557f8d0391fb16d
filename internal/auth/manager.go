// Package auth is the orchestrator that turns a master password into a
// working encrypted profile and back.
//
// A Manager owns the only live copy of the master key. Every lock
// transition, whatever its trigger, runs the teardown installed in New,
// which destroys the engine and the key and drops cached plaintext. Data
// operations hold a read lock for their duration, so teardown never pulls
// an engine out from under a running operation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illarion/privkeep/internal/biometric"
	"github.com/illarion/privkeep/internal/config"
	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/keyring"
	"github.com/illarion/privkeep/internal/logging"
	"github.com/illarion/privkeep/internal/password"
	"github.com/illarion/privkeep/internal/securestore"
	"github.com/illarion/privkeep/internal/session"
	"github.com/illarion/privkeep/internal/storage"
	"github.com/illarion/privkeep/internal/vault"
)

// Options configures a Manager
type Options struct {
	DatabasePath   string
	KeyringService string
	Keyring        keyring.Store      // nil: OS keyring
	Biometric      biometric.Provider // nil: keyring-backed provider
	BiometricAvail *bool              // nil: decided by platform
	PasswordParams password.Params
	KDFIterations  int // 0: crypto.DefaultIterations
	PersistLockout bool
	BreachAPIURL   string
	BreachTimeout  time.Duration
	Clock          func() time.Time
	Logger         zerolog.Logger
}

// OptionsFromConfig maps the application config onto Options
func OptionsFromConfig(cfg *config.Config, log zerolog.Logger) Options {
	return Options{
		DatabasePath:   cfg.DatabasePath(),
		KeyringService: cfg.KeyringService,
		BiometricAvail: cfg.BiometricOverride,
		PasswordParams: password.Params{
			Memory:  cfg.HashMemoryKiB,
			Time:    cfg.HashTime,
			Threads: cfg.HashThreads,
		},
		PersistLockout: cfg.PersistLockout,
		BreachAPIURL:   cfg.BreachAPIURL,
		BreachTimeout:  cfg.BreachTimeout(),
		Logger:         log,
	}
}

// State is a summary of the authentication state
type State struct {
	FirstRun           bool          `json:"isFirstRun"`
	Authenticated      bool          `json:"authenticated"`
	BiometricAvailable bool          `json:"biometricAvailable"`
	BiometricEnrolled  bool          `json:"biometricEnrolled"`
	SessionLocked      bool          `json:"sessionLocked"`
	LockoutRemaining   time.Duration `json:"lockoutRemaining"`
}

// SecuritySettings are the user-tunable security preferences
type SecuritySettings struct {
	AutoLockMinutes  int  `json:"autoLockMinutes"`
	BiometricEnabled bool `json:"biometricEnabled"`
}

// Manager is the authentication context object
type Manager struct {
	opts      Options
	log       zerolog.Logger
	passwords *password.Manager
	bio       biometric.Provider
	session   *session.Manager
	breach    *vault.BreachChecker
	now       func() time.Time

	mu            sync.RWMutex
	db            *storage.Storage
	key           *crypto.Secret
	engine        *crypto.Engine
	store         *securestore.Store
	vault         *vault.Vault
	authenticated bool

	unsubscribe func()
}

// New creates a Manager. Call Initialize before use and Shutdown when done.
func New(opts Options) *Manager {
	if opts.KeyringService == "" {
		opts.KeyringService = config.DefaultKeyringService
	}
	if opts.Keyring == nil {
		opts.Keyring = keyring.NewOSStore()
	}
	if opts.PasswordParams == (password.Params{}) {
		opts.PasswordParams = password.DefaultParams()
	}
	if opts.KDFIterations <= 0 {
		opts.KDFIterations = crypto.DefaultIterations
	}
	if opts.BreachAPIURL == "" {
		opts.BreachAPIURL = vault.DefaultBreachAPI
	}
	if opts.BreachTimeout <= 0 {
		opts.BreachTimeout = vault.DefaultBreachTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	log := logging.Component(opts.Logger, "auth")

	m := &Manager{
		opts: opts,
		log:  log,
		passwords: password.NewManager(opts.Keyring, opts.KeyringService,
			password.WithParams(opts.PasswordParams),
			password.WithPersistentLockout(opts.PersistLockout),
			password.WithClock(opts.Clock),
			password.WithLogger(logging.Component(opts.Logger, "password"))),
		bio:     opts.Biometric,
		session: session.New(logging.Component(opts.Logger, "session")),
		breach:  vault.NewBreachChecker(opts.BreachAPIURL, opts.BreachTimeout, logging.Component(opts.Logger, "breach")),
		now:     opts.Clock,
	}

	if m.bio == nil {
		bioOpts := []biometric.Option{biometric.WithLogger(logging.Component(opts.Logger, "biometric"))}
		if opts.BiometricAvail != nil {
			bioOpts = append(bioOpts, biometric.WithAvailability(*opts.BiometricAvail))
		}
		m.bio = biometric.NewKeyringProvider(opts.Keyring, opts.KeyringService, bioOpts...)
	}

	// Registered first, so it runs before any caller subscriber sees the event
	m.unsubscribe = m.session.Subscribe(func(ev session.Event) {
		if ev.State == session.Locked {
			m.teardown(ev.Reason)
		}
	})

	return m
}

// Initialize opens the backing store
func (m *Manager) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return nil
	}

	db, err := storage.Open(m.opts.DatabasePath)
	if err != nil {
		return err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	m.db = db

	m.log.Debug().Str("path", m.opts.DatabasePath).Msg("profile opened")
	return nil
}

// Shutdown locks the session, wipes key material and closes the store
func (m *Manager) Shutdown() error {
	m.session.Lock()
	m.session.Close()
	m.teardown(session.ReasonManual)
	m.unsubscribe()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// WatchSystemEvents locks the session on every trigger until ctx is done
func (m *Manager) WatchSystemEvents(ctx context.Context, triggers <-chan session.Reason) {
	go m.session.Watch(ctx, triggers)
}

// Subscribe registers fn for lock and unlock events
func (m *Manager) Subscribe(fn func(session.Event)) func() {
	return m.session.Subscribe(fn)
}

// IsFirstRun reports whether no master password has been set up
func (m *Manager) IsFirstRun() (bool, error) {
	db, err := m.database()
	if err != nil {
		return false, err
	}

	_, err = db.GetAuthRecord()
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	has, err := m.passwords.HasMasterPassword()
	if err != nil {
		return false, err
	}
	return !has, nil
}

// IsAuthenticated reports whether a successful unlock is live
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authenticatedLocked()
}

func (m *Manager) authenticatedLocked() bool {
	return m.authenticated && m.engine != nil && m.session.IsActive()
}

// State summarizes the authentication state
func (m *Manager) State() (State, error) {
	first, err := m.IsFirstRun()
	if err != nil {
		return State{}, err
	}
	enrolled, err := m.bio.IsEnrolled()
	if err != nil {
		return State{}, err
	}

	return State{
		FirstRun:           first,
		Authenticated:      m.IsAuthenticated(),
		BiometricAvailable: m.bio.IsAvailable(),
		BiometricEnrolled:  enrolled,
		SessionLocked:      !m.session.IsActive(),
		LockoutRemaining:   m.passwords.LockoutRemaining(),
	}, nil
}

// Session returns a snapshot of the session
func (m *Manager) Session() session.Snapshot {
	return m.session.Snapshot()
}

// LockoutRemaining returns how long password login stays refused
func (m *Manager) LockoutRemaining() time.Duration {
	return m.passwords.LockoutRemaining()
}

// ValidatePasswordStrength scores a candidate master password
func (m *Manager) ValidatePasswordStrength(pw []byte) password.Strength {
	return password.Evaluate(pw)
}

// ResetInactivity records user activity
func (m *Manager) ResetInactivity() {
	m.session.ResetInactivity()
}

// SecuritySettings returns the persisted preferences, or the session's
// current values while locked.
func (m *Manager) SecuritySettings() (SecuritySettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.authenticatedLocked() {
		return SecuritySettings{AutoLockMinutes: m.session.Snapshot().AutoLockMinutes}, nil
	}

	minutes, err := m.store.AutoLockMinutes()
	if err != nil {
		return SecuritySettings{}, err
	}
	enabled, err := m.store.BiometricEnabled()
	if err != nil {
		return SecuritySettings{}, err
	}
	return SecuritySettings{AutoLockMinutes: minutes, BiometricEnabled: enabled}, nil
}

// SetAutoLockTimeout applies the timeout to the session and persists it
// when unlocked. Zero disables auto-lock.
func (m *Manager) SetAutoLockTimeout(minutes int) error {
	if err := m.session.SetAutoLockTimeout(minutes); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.authenticatedLocked() {
		return nil
	}
	return m.store.SetAutoLockMinutes(minutes)
}

// Compact reclaims free space in the backing store
func (m *Manager) Compact() error {
	db, err := m.database()
	if err != nil {
		return err
	}
	return db.Compact()
}

func (m *Manager) database() (*storage.Storage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrNotOpen
	}
	return m.db, nil
}
