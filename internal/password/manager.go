package password

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illarion/privkeep/internal/keyring"
)

const (
	HashAccount    = "PasswordHash"
	LockoutAccount = "LockoutState"

	MaxAttempts     = 5
	LockoutDuration = 30 * time.Second
)

var (
	ErrWeakPassword         = errors.New("password does not meet security requirements")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrLocked               = errors.New("too many failed attempts, try again later")
)

type lockoutState struct {
	FailedAttempts int       `json:"failedAttempts"`
	LockedUntil    time.Time `json:"lockedUntil"`
}

// Manager owns the master password hash and the failed-attempt lockout.
type Manager struct {
	store   keyring.Store
	service string
	params  Params
	persist bool
	now     func() time.Time
	compare func(encoded string, password []byte) (bool, error)
	log     zerolog.Logger

	mu             sync.Mutex
	failedAttempts int
	lockedUntil    time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithParams sets the argon2id cost
func WithParams(p Params) Option {
	return func(m *Manager) { m.params = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPersistentLockout mirrors the lockout counters into the credential store
func WithPersistentLockout(on bool) Option {
	return func(m *Manager) { m.persist = on }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a password manager storing its hash under service
func NewManager(store keyring.Store, service string, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		service: service,
		params:  DefaultParams(),
		now:     time.Now,
		compare: Verify,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.persist {
		m.loadLockout()
	}
	return m
}

// CreateMasterPassword hashes and stores a new master password
func (m *Manager) CreateMasterPassword(password []byte) error {
	if !Evaluate(password).Strong {
		return ErrWeakPassword
	}

	encoded, err := Hash(password, m.params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := m.store.Set(m.service, HashAccount, encoded); err != nil {
		return fmt.Errorf("failed to store password hash: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// VerifyMasterPassword reports whether password matches the stored hash.
// While locked out it returns false without consulting the hash.
func (m *Manager) VerifyMasterPassword(password []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.lockedUntil) {
		return false, nil
	}

	encoded, err := m.store.Get(m.service, HashAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read password hash: %w", err)
	}

	ok, err := m.compare(encoded, password)
	if err != nil {
		return false, fmt.Errorf("failed to verify password: %w", err)
	}

	if !ok {
		m.failedAttempts++
		if m.failedAttempts >= MaxAttempts {
			m.lockedUntil = now.Add(LockoutDuration)
			m.failedAttempts = 0
			m.log.Warn().Time("locked_until", m.lockedUntil).Msg("too many failed attempts, locking out")
		}
		m.saveLockout()
		return false, nil
	}

	m.resetLocked()
	return true, nil
}

// ChangeMasterPassword replaces the master password after verifying the old one
func (m *Manager) ChangeMasterPassword(oldPassword, newPassword []byte) error {
	if m.IsLockedOut() {
		return ErrLocked
	}

	ok, err := m.VerifyMasterPassword(oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthenticationFailed
	}

	return m.CreateMasterPassword(newPassword)
}

// HasMasterPassword reports whether a hash is stored
func (m *Manager) HasMasterPassword() (bool, error) {
	return keyring.Has(m.store, m.service, HashAccount)
}

// RemoveMasterPassword deletes the stored hash and lockout state
func (m *Manager) RemoveMasterPassword() error {
	if err := m.store.Delete(m.service, HashAccount); err != nil {
		return fmt.Errorf("failed to remove password hash: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

// LockedUntil returns the end of the current lockout, or the zero time
func (m *Manager) LockedUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedUntil
}

// IsLockedOut reports whether verification is currently refused
func (m *Manager) IsLockedOut() bool {
	return m.LockoutRemaining() > 0
}

// LockoutRemaining returns how long verification stays refused
func (m *Manager) LockoutRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.lockedUntil.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// resetLocked clears the counters; m.mu must be held
func (m *Manager) resetLocked() {
	changed := m.failedAttempts != 0 || !m.lockedUntil.IsZero()
	m.failedAttempts = 0
	m.lockedUntil = time.Time{}
	if changed {
		m.saveLockout()
	}
}

func (m *Manager) loadLockout() {
	data, err := m.store.Get(m.service, LockoutAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read lockout state")
		return
	}

	var st lockoutState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		m.log.Warn().Err(err).Msg("ignoring corrupt lockout state")
		return
	}
	m.failedAttempts = st.FailedAttempts
	m.lockedUntil = st.LockedUntil
}

func (m *Manager) saveLockout() {
	if !m.persist {
		return
	}

	if m.failedAttempts == 0 && m.lockedUntil.IsZero() {
		if err := m.store.Delete(m.service, LockoutAccount); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear lockout state")
		}
		return
	}

	data, err := json.Marshal(lockoutState{FailedAttempts: m.failedAttempts, LockedUntil: m.lockedUntil})
	if err != nil {
		return
	}
	if err := m.store.Set(m.service, LockoutAccount, string(data)); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist lockout state")
	}
}
