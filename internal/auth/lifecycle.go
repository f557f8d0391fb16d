package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/illarion/privkeep/internal/biometric"
	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/logging"
	"github.com/illarion/privkeep/internal/password"
	"github.com/illarion/privkeep/internal/securestore"
	"github.com/illarion/privkeep/internal/session"
	"github.com/illarion/privkeep/internal/storage"
	"github.com/illarion/privkeep/internal/vault"
)

// keyCheckValue is sealed under the master key so a derived or enrolled
// key can be validated before any user data is touched.
const keyCheckValue = "privkeep:key-check:v1"

// SetupMasterPassword creates the master password on first run and unlocks
// the session. Biometric enrolment is attempted only when requested and
// available.
func (m *Manager) SetupMasterPassword(ctx context.Context, pw []byte, enableBiometric bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := m.database()
	if err != nil {
		return err
	}

	first, err := m.IsFirstRun()
	if err != nil {
		return err
	}
	if !first {
		return ErrAlreadyInitialized
	}

	// An auth row without a stored hash means the hash was lost
	prev, err := db.GetAuthRecord()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		prev = nil
	case err != nil:
		return err
	}
	if prev != nil {
		restored, err := m.restoreHash(prev, pw, enableBiometric)
		if err != nil || restored {
			return err
		}
	}

	if err := m.passwords.CreateMasterPassword(pw); err != nil {
		return err
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	key, err := m.deriveKey(pw, salt)
	if err != nil {
		return err
	}

	engine, err := crypto.NewEngine(key.Bytes())
	if err != nil {
		key.Destroy()
		return err
	}
	check, err := engine.EncryptString(keyCheckValue)
	engine.Destroy()
	if err != nil {
		key.Destroy()
		return err
	}

	now := m.now()
	rec := &storage.AuthRecord{
		PasswordHash: password.HashAccount,
		Salt:         salt,
		KeyCheck:     check,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.PutAuthRecord(rec); err != nil {
		key.Destroy()
		return fmt.Errorf("failed to store auth record: %w", err)
	}

	return m.finishSetup(key, enableBiometric, "master password created")
}

// restoreHash handles a profile whose hash is gone. A password that opens
// the existing rows gets its hash back. Any other password is refused while
// sealed rows remain.
func (m *Manager) restoreHash(prev *storage.AuthRecord, pw []byte, enableBiometric bool) (bool, error) {
	if prev.KeyCheck != nil {
		key, err := m.deriveKey(pw, prev.Salt)
		if err != nil {
			return false, err
		}
		if checkKey(key, prev.KeyCheck) == nil {
			if err := m.passwords.CreateMasterPassword(pw); err != nil {
				key.Destroy()
				return false, err
			}
			return true, m.finishSetup(key, enableBiometric, "master password hash restored")
		}
		key.Destroy()
	}

	db, err := m.database()
	if err != nil {
		return false, err
	}
	var has bool
	err = db.View(func(tx *storage.Tx) (err error) {
		has, err = tx.HasData()
		return err
	})
	if err != nil {
		return false, err
	}
	if has {
		return false, ErrOrphanedData
	}
	return false, nil
}

func (m *Manager) finishSetup(key *crypto.Secret, enableBiometric bool, msg string) error {
	ok, err := m.unlock(key)
	if err != nil {
		return err
	}
	if ok && enableBiometric {
		if _, err := m.EnableBiometric(); err != nil {
			m.log.Warn().Err(err).Msg("biometric enrolment failed")
		}
	}

	m.log.Info().Msg(msg)
	return nil
}

// ResetProfile discards the auth row and every sealed row. It is only
// allowed while no master password hash exists.
func (m *Manager) ResetProfile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := m.database()
	if err != nil {
		return err
	}

	first, err := m.IsFirstRun()
	if err != nil {
		return err
	}
	if !first {
		return ErrAlreadyInitialized
	}

	m.mu.Lock()
	m.closeStoresLocked()
	err = db.Update(func(tx *storage.Tx) error {
		return tx.ResetProfile()
	})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to reset profile: %w", err)
	}

	if err := m.bio.Remove(); err != nil {
		m.log.Warn().Err(err).Msg("failed to remove biometric enrolment")
	}
	m.log.Warn().Msg("profile data discarded")
	return nil
}

// Login unlocks the session with the master password. It returns false on
// a wrong password or while locked out.
func (m *Manager) Login(ctx context.Context, pw []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	db, err := m.database()
	if err != nil {
		return false, err
	}

	ok, err := m.passwords.VerifyMasterPassword(pw)
	if err != nil || !ok {
		return false, err
	}

	rec, err := db.GetAuthRecord()
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrNotInitialized
	}
	if err != nil {
		return false, err
	}

	key, err := m.deriveKey(pw, rec.Salt)
	if err != nil {
		return false, err
	}
	switch err := checkKey(key, rec.KeyCheck); {
	case err == nil && rec.Rotation != nil:
		// new hash was stored, only the marker is left
		m.clearRotation(db, rec)
	case errors.Is(err, ErrKeyMismatch) && rec.Rotation != nil:
		key.Destroy()
		key, err = m.rollbackRotation(db, pw, rec)
		if err != nil {
			return false, err
		}
	case err != nil:
		key.Destroy()
		return false, err
	}

	return m.unlock(key)
}

// LoginWithBiometric unlocks the session with the enrolled key. Any failure
// of the biometric path, including a stale enrolment, yields false.
func (m *Manager) LoginWithBiometric(ctx context.Context) (bool, error) {
	db, err := m.database()
	if err != nil {
		return false, err
	}
	if !m.bio.IsAvailable() {
		return false, nil
	}

	rec, err := db.GetAuthRecord()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	key, err := m.bio.Retrieve(ctx)
	switch {
	case errors.Is(err, biometric.ErrUnavailable),
		errors.Is(err, biometric.ErrNotEnrolled),
		errors.Is(err, biometric.ErrDeclined):
		m.log.Debug().Err(err).Msg("biometric unlock not possible")
		return false, nil
	case err != nil:
		m.log.Warn().Err(err).Msg("biometric unlock failed")
		return false, nil
	}

	if err := checkKey(key, rec.KeyCheck); err != nil {
		key.Destroy()
		m.log.Warn().Msg("enrolled biometric key is stale")
		return false, nil
	}

	return m.unlock(key)
}

// LockSession locks the session and wipes key material. It is safe to call
// in any state.
func (m *Manager) LockSession() {
	m.session.LockWithReason(session.ReasonManual)
	m.teardown(session.ReasonManual)
}

// Logout is LockSession
func (m *Manager) Logout() {
	m.LockSession()
}

// ChangeMasterPassword re-encrypts every stored row under a key derived from
// newPassword, then replaces the password hash. On failure the stored data
// stays readable with the old password.
func (m *Manager) ChangeMasterPassword(ctx context.Context, oldPassword, newPassword []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := m.database()
	if err != nil {
		return err
	}

	rec, err := db.GetAuthRecord()
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}

	if !password.Evaluate(newPassword).Strong {
		return password.ErrWeakPassword
	}
	if m.passwords.IsLockedOut() {
		return password.ErrLocked
	}

	ok, err := m.passwords.VerifyMasterPassword(oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return password.ErrAuthenticationFailed
	}

	oldKey, err := m.deriveKey(oldPassword, rec.Salt)
	if err != nil {
		return err
	}
	defer oldKey.Destroy()
	if err := checkKey(oldKey, rec.KeyCheck); err != nil {
		return err
	}

	rot, err := m.prepareRotation(rec, oldKey, newPassword)
	if err != nil {
		return err
	}
	defer rot.destroy()

	m.mu.Lock()
	if m.db == nil {
		m.mu.Unlock()
		return ErrNotOpen
	}
	wasUnlocked := m.authenticatedLocked()
	// No row may be sealed by the live engine once the move starts
	m.closeStoresLocked()

	if err := reseal(m.db, rot.from, rot.to, rot.next); err != nil {
		m.reinstallLocked(wasUnlocked, oldKey)
		m.mu.Unlock()
		return fmt.Errorf("failed to re-encrypt profile: %w", err)
	}

	if err := m.passwords.CreateMasterPassword(newPassword); err != nil {
		if rerr := reseal(m.db, rot.to, rot.from, rot.prev); rerr != nil {
			m.log.Error().Err(rerr).Msg("failed to restore profile after password change")
		} else {
			m.reinstallLocked(wasUnlocked, oldKey)
		}
		m.mu.Unlock()
		return err
	}

	m.clearRotation(m.db, rot.next)

	key := rot.newKey
	rot.newKey = nil
	if err := m.installLocked(key); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.SetBiometricEnabled(false); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear biometric preference")
	}
	store := m.store
	m.mu.Unlock()

	// The enrolled key belongs to the old password
	if err := m.bio.Remove(); err != nil {
		m.log.Warn().Err(err).Msg("failed to remove biometric enrolment")
	}

	m.applyAutoLock(store)
	m.startSession()
	m.log.Info().Msg("master password changed")
	return nil
}

// rotation is a prepared password change. Both engines are private to it.
type rotation struct {
	prev   *storage.AuthRecord
	next   *storage.AuthRecord
	from   *crypto.Engine
	to     *crypto.Engine
	newKey *crypto.Secret
}

func (r *rotation) destroy() {
	r.from.Destroy()
	r.to.Destroy()
	if r.newKey != nil {
		r.newKey.Destroy()
	}
}

// prepareRotation derives the new key and builds the auth row that marks
// the change as pending until the new hash is stored.
func (m *Manager) prepareRotation(rec *storage.AuthRecord, oldKey *crypto.Secret, newPassword []byte) (*rotation, error) {
	newSalt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	newKey, err := m.deriveKey(newPassword, newSalt)
	if err != nil {
		return nil, err
	}

	from, err := crypto.NewEngine(oldKey.Bytes())
	if err != nil {
		newKey.Destroy()
		return nil, err
	}
	to, err := crypto.NewEngine(newKey.Bytes())
	if err != nil {
		from.Destroy()
		newKey.Destroy()
		return nil, err
	}
	r := &rotation{from: from, to: to, newKey: newKey}

	check, err := to.EncryptString(keyCheckValue)
	if err != nil {
		r.destroy()
		return nil, err
	}
	sealed, err := from.Encrypt(newKey.Bytes())
	if err != nil {
		r.destroy()
		return nil, err
	}

	prev := *rec
	prev.Rotation = nil
	next := prev
	next.Salt = newSalt
	next.KeyCheck = check
	next.UpdatedAt = m.now()
	next.Rotation = &storage.Rotation{Salt: rec.Salt, KeyCheck: rec.KeyCheck, SealedKey: sealed}

	r.prev = &prev
	r.next = &next
	return r, nil
}

// rollbackRotation undoes a password change that stopped before the new
// hash was stored. pw is the old password, which still matches the hash.
func (m *Manager) rollbackRotation(db *storage.Storage, pw []byte, rec *storage.AuthRecord) (*crypto.Secret, error) {
	pending := rec.Rotation

	oldKey, err := m.deriveKey(pw, pending.Salt)
	if err != nil {
		return nil, err
	}
	if err := checkKey(oldKey, pending.KeyCheck); err != nil {
		oldKey.Destroy()
		return nil, err
	}

	from, err := crypto.NewEngine(oldKey.Bytes())
	if err != nil {
		oldKey.Destroy()
		return nil, err
	}
	defer from.Destroy()

	newKey, err := from.Decrypt(pending.SealedKey)
	if err != nil {
		oldKey.Destroy()
		return nil, fmt.Errorf("%w: pending key unreadable", ErrKeyMismatch)
	}
	to, err := crypto.NewEngine(newKey)
	crypto.ClearBytes(newKey)
	if err != nil {
		oldKey.Destroy()
		return nil, err
	}
	defer to.Destroy()

	prev := *rec
	prev.Salt = pending.Salt
	prev.KeyCheck = pending.KeyCheck
	prev.Rotation = nil
	prev.UpdatedAt = m.now()

	m.mu.Lock()
	m.closeStoresLocked()
	err = reseal(db, to, from, &prev)
	m.mu.Unlock()
	if err != nil {
		oldKey.Destroy()
		return nil, fmt.Errorf("failed to roll back interrupted password change: %w", err)
	}

	m.log.Warn().Msg("rolled back interrupted password change")
	return oldKey, nil
}

// clearRotation drops the pending marker and the sealed key it carries
func (m *Manager) clearRotation(db *storage.Storage, rec *storage.AuthRecord) {
	done := *rec
	done.Rotation = nil
	if err := db.PutAuthRecord(&done); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear password change marker")
		return
	}
	rec.Rotation = nil
}

// EnableBiometric enrols the live master key. It returns false when the
// platform offers no biometric unlock.
func (m *Manager) EnableBiometric() (bool, error) {
	if !m.bio.IsAvailable() {
		return false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.authenticatedLocked() {
		return false, ErrSessionLocked
	}
	if err := m.bio.Enroll(m.key.Bytes()); err != nil {
		return false, err
	}
	if err := m.store.SetBiometricEnabled(true); err != nil {
		return false, err
	}
	return true, nil
}

// DisableBiometric removes the enrolment
func (m *Manager) DisableBiometric() error {
	if err := m.bio.Remove(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.authenticatedLocked() {
		return nil
	}
	return m.store.SetBiometricEnabled(false)
}

func (m *Manager) deriveKey(pw, salt []byte) (*crypto.Secret, error) {
	kdf := &crypto.KDF{Salt: salt, Iterations: m.opts.KDFIterations}
	key, err := kdf.DeriveKey(pw)
	if err != nil {
		return nil, err
	}
	return crypto.NewSecret(key), nil
}

func checkKey(key *crypto.Secret, check *crypto.Envelope) error {
	if check == nil {
		return nil
	}

	engine, err := crypto.NewEngine(key.Bytes())
	if err != nil {
		return err
	}
	defer engine.Destroy()

	got, err := engine.DecryptString(check)
	if err != nil || got != keyCheckValue {
		return ErrKeyMismatch
	}
	return nil
}

// reseal moves every sealed row from one key to another and stores rec,
// all in one transaction.
func reseal(db *storage.Storage, from, to *crypto.Engine, rec *storage.AuthRecord) error {
	return db.Update(func(tx *storage.Tx) error {
		if err := securestore.Reencrypt(tx, from, to); err != nil {
			return err
		}
		if err := vault.Reencrypt(tx, from, to); err != nil {
			return err
		}
		return tx.PutAuthRecord(rec)
	})
}

// unlock installs key, starts the session and reports whether the unlock
// survived a lock that raced with it.
func (m *Manager) unlock(key *crypto.Secret) (bool, error) {
	if err := m.openStores(key); err != nil {
		return false, err
	}
	return m.startSession(), nil
}

func (m *Manager) startSession() bool {
	m.session.Start()
	if !m.IsAuthenticated() {
		m.session.LockWithReason(session.ReasonManual)
		return false
	}

	m.log.Info().Msg("session unlocked")
	return true
}

// openStores takes ownership of key and rebuilds the stores around it
func (m *Manager) openStores(key *crypto.Secret) error {
	m.mu.Lock()
	if m.db == nil {
		m.mu.Unlock()
		key.Destroy()
		return ErrNotOpen
	}
	if err := m.installLocked(key); err != nil {
		m.mu.Unlock()
		return err
	}
	store := m.store
	m.mu.Unlock()

	m.applyAutoLock(store)
	return nil
}

// installLocked takes ownership of key and binds fresh stores to it. The
// previous engine is destroyed first.
func (m *Manager) installLocked(key *crypto.Secret) error {
	m.closeStoresLocked()

	engine, err := crypto.NewEngine(key.Bytes())
	if err != nil {
		key.Destroy()
		return err
	}

	m.key = key
	m.engine = engine
	m.store = securestore.New(m.db, engine,
		securestore.WithLogger(logging.Component(m.opts.Logger, "securestore")))
	m.vault = vault.New(m.db, engine,
		vault.WithBreachChecker(m.breach),
		vault.WithLogger(logging.Component(m.opts.Logger, "vault")))
	m.authenticated = true
	return nil
}

// reinstallLocked puts a copy of key back after a failed password change
func (m *Manager) reinstallLocked(wasUnlocked bool, key *crypto.Secret) {
	if !wasUnlocked {
		return
	}
	if err := m.installLocked(crypto.CopySecret(key.Bytes())); err != nil {
		m.log.Warn().Err(err).Msg("failed to reopen profile after password change")
	}
}

func (m *Manager) applyAutoLock(store *securestore.Store) {
	minutes, err := store.AutoLockMinutes()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read auto-lock preference")
		return
	}
	if err := m.session.SetAutoLockTimeout(minutes); err != nil {
		m.log.Warn().Err(err).Int("minutes", minutes).Msg("ignoring stored auto-lock preference")
	}
}

func (m *Manager) teardown(reason session.Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil && !m.authenticated {
		return
	}
	m.closeStoresLocked()
	m.log.Info().Str("reason", string(reason)).Msg("key material wiped")
}

func (m *Manager) closeStoresLocked() {
	if m.store != nil {
		m.store.Close()
	}
	if m.engine != nil {
		m.engine.Destroy()
	}
	if m.key != nil {
		m.key.Destroy()
	}
	m.store = nil
	m.vault = nil
	m.engine = nil
	m.key = nil
	m.authenticated = false
}
