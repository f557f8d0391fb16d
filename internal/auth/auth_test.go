package auth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/privkeep/internal/biometric"
	"github.com/illarion/privkeep/internal/keyring"
	"github.com/illarion/privkeep/internal/password"
	"github.com/illarion/privkeep/internal/securestore"
	"github.com/illarion/privkeep/internal/session"
	"github.com/illarion/privkeep/internal/vault"
)

const (
	masterPassword = "Tr0ub4dor&3Long!"
	nextPassword   = "C0rrect-Horse-Battery!"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, mutate ...func(*Options)) (*Manager, *fakeClock) {
	t.Helper()
	keyring.UseMock()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	service := "privkeep-test-" + t.Name()
	store := keyring.NewOSStore()

	opts := Options{
		DatabasePath:   filepath.Join(t.TempDir(), "user.db"),
		KeyringService: service,
		Keyring:        store,
		Biometric:      biometric.NewKeyringProvider(store, service, biometric.WithAvailability(false)),
		PasswordParams: password.Params{Memory: 64, Time: 1, Threads: 1},
		KDFIterations:  1000,
		Clock:          clock.Now,
		Logger:         zerolog.Nop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m := New(opts)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Shutdown() })
	return m, clock
}

func withBiometric(opts *Options) {
	opts.Biometric = biometric.NewKeyringProvider(opts.Keyring, opts.KeyringService, biometric.WithAvailability(true))
}

func storedHash(t *testing.T, m *Manager) string {
	t.Helper()
	hash, err := m.opts.Keyring.Get(m.opts.KeyringService, password.HashAccount)
	require.NoError(t, err)
	return hash
}

// reopen shuts m down and opens a new manager on the same profile
func reopen(t *testing.T, m *Manager) *Manager {
	t.Helper()
	require.NoError(t, m.Shutdown())
	next := New(m.opts)
	require.NoError(t, next.Initialize(context.Background()))
	t.Cleanup(func() { next.Shutdown() })
	return next
}

// interruptRotation moves the rows to a key derived from newPassword and
// stops, as a crash before the password change finished would. With
// hashStored the new hash has been written too.
func interruptRotation(t *testing.T, m *Manager, oldPassword, newPassword string, hashStored bool) {
	t.Helper()
	rec, err := m.db.GetAuthRecord()
	require.NoError(t, err)

	oldKey, err := m.deriveKey([]byte(oldPassword), rec.Salt)
	require.NoError(t, err)
	defer oldKey.Destroy()

	rot, err := m.prepareRotation(rec, oldKey, []byte(newPassword))
	require.NoError(t, err)
	defer rot.destroy()

	m.mu.Lock()
	m.closeStoresLocked()
	err = reseal(m.db, rot.from, rot.to, rot.next)
	m.mu.Unlock()
	require.NoError(t, err)

	if hashStored {
		require.NoError(t, m.passwords.CreateMasterPassword([]byte(newPassword)))
	}
}

func setup(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.SetupMasterPassword(context.Background(), []byte(masterPassword), false))
	require.True(t, m.IsAuthenticated())
}

func TestFirstRunSetup(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.IsFirstRun()
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, m.IsAuthenticated())

	err = m.SetupMasterPassword(ctx, []byte("short"), false)
	assert.ErrorIs(t, err, password.ErrWeakPassword)
	first, _ = m.IsFirstRun()
	assert.True(t, first, "a rejected password leaves the profile uninitialized")

	require.NoError(t, m.SetupMasterPassword(ctx, []byte(masterPassword), false))
	assert.True(t, m.IsAuthenticated())

	first, err = m.IsFirstRun()
	require.NoError(t, err)
	assert.False(t, first)

	err = m.SetupMasterPassword(ctx, []byte(nextPassword), false)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestLoginAfterLock(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveVaultEntry(&vault.Entry{Domain: "example.com", Username: "a@b.com", Password: "p1"}))

	m.LockSession()
	assert.False(t, m.IsAuthenticated())

	_, err := m.VaultEntry("example.com", "a@b.com")
	assert.ErrorIs(t, err, ErrSessionLocked)
	_, err = m.Bookmarks()
	assert.ErrorIs(t, err, ErrSessionLocked)

	before, err := m.db.GetAuthRecord()
	require.NoError(t, err)

	ok, err := m.Login(ctx, []byte("wrong password!"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.IsAuthenticated())

	after, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	assert.Equal(t, before.Salt, after.Salt)

	ok, err = m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.True(t, ok)

	entry, err := m.VaultEntry("example.com", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "p1", entry.Password)
}

func TestLoginBeforeSetup(t *testing.T) {
	m, _ := newTestManager(t)

	ok, err := m.Login(context.Background(), []byte(masterPassword))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockoutBlocksCorrectPassword(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	setup(t, m)
	m.LockSession()

	for i := 0; i < password.MaxAttempts; i++ {
		ok, err := m.Login(ctx, []byte("wrong password!"))
		require.NoError(t, err)
		require.False(t, ok)
	}
	assert.Equal(t, password.LockoutDuration, m.LockoutRemaining())

	ok, err := m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.False(t, ok, "correct password is refused during lockout")

	clock.Advance(password.LockoutDuration + time.Second)
	ok, err = m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangeMasterPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveVaultEntry(&vault.Entry{Domain: "example.com", Username: "a@b.com", Password: "p1"}))
	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))
	require.NoError(t, m.SaveSetting("theme", "dark"))

	err := m.ChangeMasterPassword(ctx, []byte(masterPassword), []byte("weak"))
	assert.ErrorIs(t, err, password.ErrWeakPassword)

	before, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	hashBefore := storedHash(t, m)

	err = m.ChangeMasterPassword(ctx, []byte("not the password"), []byte(nextPassword))
	assert.ErrorIs(t, err, password.ErrAuthenticationFailed)

	after, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	assert.Equal(t, before.Salt, after.Salt, "a failed change leaves the salt alone")
	assert.Equal(t, storedHash(t, m), hashBefore, "a failed change leaves the hash alone")

	require.NoError(t, m.ChangeMasterPassword(ctx, []byte(masterPassword), []byte(nextPassword)))
	assert.True(t, m.IsAuthenticated())

	m.LockSession()

	ok, err := m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Login(ctx, []byte(nextPassword))
	require.NoError(t, err)
	require.True(t, ok)

	entry, err := m.VaultEntry("example.com", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "p1", entry.Password)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "Example", bookmarks[0].Title)

	var theme string
	found, err := m.GetSetting("theme", &theme)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dark", theme)
}

func TestChangeMasterPasswordWithConcurrentWrites(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				b := &securestore.Bookmark{URL: fmt.Sprintf("https://example.com/%d/%d", i, n), Title: "page"}
				if err := m.SaveBookmark(b); err != nil && !errors.Is(err, ErrSessionLocked) {
					t.Errorf("SaveBookmark: %v", err)
					return
				}
			}
		}(i)
	}

	require.NoError(t, m.ChangeMasterPassword(ctx, []byte(masterPassword), []byte(nextPassword)))
	close(stop)
	wg.Wait()

	m.LockSession()
	ok, err := m.Login(ctx, []byte(nextPassword))
	require.NoError(t, err)
	require.True(t, ok)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err, "every row must open under the new key")
	assert.NotEmpty(t, bookmarks)

	archive, err := m.ExportData([]byte("export-pw"))
	require.NoError(t, err)
	assert.NotEmpty(t, archive)
}

func TestInterruptedPasswordChangeRollsBack(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))
	require.NoError(t, m.SaveVaultEntry(&vault.Entry{Domain: "example.com", Username: "a@b.com", Password: "p1"}))
	before, err := m.db.GetAuthRecord()
	require.NoError(t, err)

	interruptRotation(t, m, masterPassword, nextPassword, false)
	m = reopen(t, m)

	ok, err := m.Login(ctx, []byte(nextPassword))
	require.NoError(t, err)
	assert.False(t, ok, "the new hash was never stored")

	ok, err = m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	require.True(t, ok)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "Example", bookmarks[0].Title)
	entry, err := m.VaultEntry("example.com", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "p1", entry.Password)

	rec, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	assert.Nil(t, rec.Rotation)
	assert.Equal(t, before.Salt, rec.Salt)

	m.LockSession()
	ok, err = m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInterruptedPasswordChangeCompletes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))
	before, err := m.db.GetAuthRecord()
	require.NoError(t, err)

	interruptRotation(t, m, masterPassword, nextPassword, true)
	m = reopen(t, m)

	ok, err := m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Login(ctx, []byte(nextPassword))
	require.NoError(t, err)
	require.True(t, ok)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)

	rec, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	assert.Nil(t, rec.Rotation, "the sealed key is dropped once the change is complete")
	assert.NotEqual(t, before.Salt, rec.Salt)
}

func TestSetupAfterLostHash(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))
	m.LockSession()
	require.NoError(t, m.opts.Keyring.Delete(m.opts.KeyringService, password.HashAccount))

	first, err := m.IsFirstRun()
	require.NoError(t, err)
	assert.True(t, first)

	before, err := m.db.GetAuthRecord()
	require.NoError(t, err)

	err = m.SetupMasterPassword(ctx, []byte(nextPassword), false)
	assert.ErrorIs(t, err, ErrOrphanedData)
	assert.False(t, m.IsAuthenticated())
	after, err := m.db.GetAuthRecord()
	require.NoError(t, err)
	assert.Equal(t, before.Salt, after.Salt, "refused setup leaves the profile alone")

	// the password that sealed the rows gets its hash back
	require.NoError(t, m.SetupMasterPassword(ctx, []byte(masterPassword), false))
	require.True(t, m.IsAuthenticated())
	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "Example", bookmarks[0].Title)

	m.LockSession()
	ok, err := m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetProfile(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com", Title: "Example"}))
	m.LockSession()

	assert.ErrorIs(t, m.ResetProfile(ctx), ErrAlreadyInitialized)

	require.NoError(t, m.opts.Keyring.Delete(m.opts.KeyringService, password.HashAccount))
	require.NoError(t, m.ResetProfile(ctx))

	require.NoError(t, m.SetupMasterPassword(ctx, []byte(nextPassword), false))
	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	assert.Empty(t, bookmarks)
}

func TestChangeMasterPasswordWhileLockedOut(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	for i := 0; i < password.MaxAttempts; i++ {
		m.Login(ctx, []byte("wrong password!"))
	}

	err := m.ChangeMasterPassword(ctx, []byte(masterPassword), []byte(nextPassword))
	assert.ErrorIs(t, err, password.ErrLocked)
}

func TestChangeMasterPasswordNotInitialized(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.ChangeMasterPassword(context.Background(), []byte(masterPassword), []byte(nextPassword))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBiometricUnlock(t *testing.T) {
	m, _ := newTestManager(t, withBiometric)
	ctx := context.Background()

	require.NoError(t, m.SetupMasterPassword(ctx, []byte(masterPassword), true))
	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://example.com"}))

	state, err := m.State()
	require.NoError(t, err)
	assert.True(t, state.BiometricAvailable)
	assert.True(t, state.BiometricEnrolled)

	settings, err := m.SecuritySettings()
	require.NoError(t, err)
	assert.True(t, settings.BiometricEnabled)

	m.LockSession()
	ok, err := m.LoginWithBiometric(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	assert.Len(t, bookmarks, 1)

	// A password change invalidates the enrolment
	require.NoError(t, m.ChangeMasterPassword(ctx, []byte(masterPassword), []byte(nextPassword)))
	state, err = m.State()
	require.NoError(t, err)
	assert.False(t, state.BiometricEnrolled)

	m.LockSession()
	ok, err = m.LoginWithBiometric(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBiometricStaleKey(t *testing.T) {
	m, _ := newTestManager(t, withBiometric)
	ctx := context.Background()
	setup(t, m)

	stale := make([]byte, 32)
	require.NoError(t, m.bio.Enroll(stale))
	m.LockSession()

	ok, err := m.LoginWithBiometric(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.IsAuthenticated())
}

func TestBiometricUnavailable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	ok, err := m.EnableBiometric()
	require.NoError(t, err)
	assert.False(t, ok)

	m.LockSession()
	ok, err = m.LoginWithBiometric(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnableBiometricRequiresUnlock(t *testing.T) {
	m, _ := newTestManager(t, withBiometric)
	setup(t, m)
	m.LockSession()

	_, err := m.EnableBiometric()
	assert.ErrorIs(t, err, ErrSessionLocked)

	require.NoError(t, m.DisableBiometric())
}

func TestLockWipesKeyMaterial(t *testing.T) {
	m, _ := newTestManager(t)
	setup(t, m)

	var (
		mu     sync.Mutex
		events []session.Event
	)
	unsubscribe := m.Subscribe(func(ev session.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	defer unsubscribe()

	m.mu.RLock()
	engine := m.engine
	key := m.key
	m.mu.RUnlock()

	m.LockSession()
	m.LockSession()

	assert.True(t, engine.Destroyed())
	assert.False(t, key.Alive())

	m.mu.RLock()
	assert.Nil(t, m.engine)
	assert.Nil(t, m.store)
	m.mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, session.Locked, events[0].State)
	assert.Equal(t, session.ReasonManual, events[0].Reason)
}

func TestSystemEventsLock(t *testing.T) {
	m, _ := newTestManager(t)
	setup(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggers := make(chan session.Reason, 1)
	m.WatchSystemEvents(ctx, triggers)
	triggers <- session.ReasonSuspend

	assert.Eventually(t, func() bool { return !m.IsAuthenticated() }, time.Second, 10*time.Millisecond)

	state, err := m.State()
	require.NoError(t, err)
	assert.True(t, state.SessionLocked)
}

func TestAutoLockPreference(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	setup(t, m)

	assert.ErrorIs(t, m.SetAutoLockTimeout(-1), session.ErrInvalidTimeout)
	require.NoError(t, m.SetAutoLockTimeout(5))

	settings, err := m.SecuritySettings()
	require.NoError(t, err)
	assert.Equal(t, 5, settings.AutoLockMinutes)

	m.LockSession()
	require.NoError(t, m.SetAutoLockTimeout(30))

	ok, err := m.Login(ctx, []byte(masterPassword))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, m.Session().AutoLockMinutes, "stored preference wins on unlock")
}

func TestExportImport(t *testing.T) {
	m, _ := newTestManager(t)
	setup(t, m)

	require.NoError(t, m.SaveHistory(&securestore.HistoryEntry{URL: "https://example.com", Title: "Example"}))
	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://go.dev", Title: "Go"}))

	archive, err := m.ExportData([]byte("export-pw"))
	require.NoError(t, err)

	require.NoError(t, m.ClearHistory())
	history, err := m.History(securestore.DefaultHistoryLimit)
	require.NoError(t, err)
	assert.Empty(t, history)

	preview, err := m.PreviewImport(archive, []byte("export-pw"))
	require.NoError(t, err)
	assert.Contains(t, preview, "https://example.com")

	// added after the export, must survive the import
	require.NoError(t, m.SaveBookmark(&securestore.Bookmark{URL: "https://pkg.go.dev", Title: "Packages"}))

	require.NoError(t, m.ImportData(archive, []byte("export-pw")))
	history, err = m.History(securestore.DefaultHistoryLimit)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Example", history[0].Title)

	bookmarks, err := m.Bookmarks()
	require.NoError(t, err)
	assert.Len(t, bookmarks, 2, "import merges by id")

	err = m.ImportData(archive, []byte("wrong-pw"))
	assert.Error(t, err)
}

func TestImportIntoFreshProfile(t *testing.T) {
	src, _ := newTestManager(t)
	setup(t, src)

	require.NoError(t, src.SaveBookmark(&securestore.Bookmark{URL: "https://go.dev", Title: "Go"}))
	require.NoError(t, src.SaveHistory(&securestore.HistoryEntry{URL: "https://example.com", Title: "Example"}))
	require.NoError(t, src.SaveSetting("theme", "dark"))

	archive, err := src.ExportData([]byte("export-pw"))
	require.NoError(t, err)

	dst, _ := newTestManager(t, func(o *Options) { o.KeyringService += "-fresh" })
	require.NoError(t, dst.SetupMasterPassword(context.Background(), []byte(nextPassword), false))
	require.NoError(t, dst.ImportData(archive, []byte("export-pw")))

	wantBookmarks, err := src.Bookmarks()
	require.NoError(t, err)
	gotBookmarks, err := dst.Bookmarks()
	require.NoError(t, err)
	assert.Equal(t, wantBookmarks, gotBookmarks)

	wantHistory, err := src.History(securestore.DefaultHistoryLimit)
	require.NoError(t, err)
	gotHistory, err := dst.History(securestore.DefaultHistoryLimit)
	require.NoError(t, err)
	assert.Equal(t, wantHistory, gotHistory)

	var theme string
	found, err := dst.GetSetting("theme", &theme)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dark", theme)
}

func TestVaultOperations(t *testing.T) {
	m, _ := newTestManager(t)
	setup(t, m)

	entry := &vault.Entry{URL: "https://login.example.com/signin", Username: "a@b.com", Password: "p1"}
	require.NoError(t, m.SaveVaultEntry(entry))
	assert.Equal(t, "example.com", entry.Domain)

	require.NoError(t, m.UpdateVaultPassword(entry.ID, "p2"))
	require.NoError(t, m.MarkVaultEntryUsed(entry.ID))

	got, err := m.VaultEntry("example.com", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.Password)
	assert.NotNil(t, got.LastUsed)

	found, err := m.SearchVault("a@b")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	generated, err := m.GeneratePassword(vault.DefaultGeneratorOptions())
	require.NoError(t, err)
	assert.Len(t, generated, 20)

	require.NoError(t, m.DeleteVaultEntry(entry.ID))
	all, err := m.VaultEntries()
	require.NoError(t, err)
	assert.Empty(t, all)

	m.LockSession()
	_, err = m.GeneratePassword(vault.DefaultGeneratorOptions())
	assert.ErrorIs(t, err, ErrSessionLocked)
}

func TestCheckForBreaches(t *testing.T) {
	sum := sha1.Sum([]byte("password123"))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/range/"+digest[:5], r.URL.Path)
		fmt.Fprintf(w, "%s:42\r\n", digest[5:])
	}))
	defer srv.Close()

	m, _ := newTestManager(t, func(o *Options) { o.BreachAPIURL = srv.URL })

	_, err := m.CheckForBreaches(context.Background(), "password123")
	assert.ErrorIs(t, err, ErrSessionLocked)

	setup(t, m)
	breached, err := m.CheckForBreaches(context.Background(), "password123")
	require.NoError(t, err)
	assert.True(t, breached)
}

func TestNotInitialized(t *testing.T) {
	m := New(Options{Logger: zerolog.Nop(), Keyring: keyring.NewOSStore()})

	_, err := m.IsFirstRun()
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = m.Login(context.Background(), []byte(masterPassword))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.NoError(t, m.Shutdown())
}
