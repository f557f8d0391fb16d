package vault

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/storage"
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

func openDB(t *testing.T) *storage.Storage {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Initialize())
	return db
}

func newEngine(t *testing.T) *crypto.Engine {
	t.Helper()
	key, err := crypto.GenerateRandom(crypto.KeySize)
	require.NoError(t, err)
	eng, err := crypto.NewEngine(key)
	require.NoError(t, err)
	t.Cleanup(eng.Destroy)
	return eng
}

func newTestVault(t *testing.T) (*Vault, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New(openDB(t), newEngine(t), WithClock(clock.Now), WithLogger(zerolog.Nop())), clock
}

func TestDomainOf(t *testing.T) {
	tests := map[string]string{
		"https://example.com/login":        "example.com",
		"https://accounts.Example.com/":    "example.com",
		"https://www.bbc.co.uk/news":       "bbc.co.uk",
		"example.org":                      "example.org",
		"mail.example.org":                 "example.org",
		"http://localhost:8080/admin":      "localhost",
		"http://192.168.1.10/router":       "192.168.1.10",
		"https://user:pw@shop.example.net": "example.net",
		"":                                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, DomainOf(in), in)
	}
}

func TestSaveAndGet(t *testing.T) {
	v, _ := newTestVault(t)

	e := &Entry{URL: "https://example.com/login", Username: "u", Password: "p1"}
	require.NoError(t, v.Save(e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "example.com", e.Domain)

	got, err := v.Get("example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Password)
	assert.Equal(t, "u", got.Username)

	got, err = v.Get("https://login.example.com", "u")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = v.Get("example.com", "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = v.Get("example.org", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsMostRecent(t *testing.T) {
	v, clock := newTestVault(t)

	older := &Entry{URL: "https://example.com", Username: "alice", Password: "old"}
	require.NoError(t, v.Save(older))
	clock.Advance(time.Minute)
	newer := &Entry{URL: "https://example.com", Username: "bob", Password: "new"}
	require.NoError(t, v.Save(newer))

	got, err := v.Get("example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	got, err = v.Get("example.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Password)
}

func TestSaveValidation(t *testing.T) {
	v, _ := newTestVault(t)

	assert.Error(t, v.Save(&Entry{URL: "https://example.com", Username: "u"}), "password required")
	assert.Error(t, v.Save(&Entry{Username: "u", Password: "p"}), "url or domain required")
	assert.Error(t, v.Save(&Entry{URL: "not a url", Password: "p"}))

	require.NoError(t, v.Save(&Entry{Domain: "Example.COM", Password: "p"}))
	got, err := v.Get("example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
}

func TestSuppliedDomainKeptExact(t *testing.T) {
	v, _ := newTestVault(t)

	mail := &Entry{Domain: "Mail.Example.com.", Username: "u", Password: "mail-pw"}
	require.NoError(t, v.Save(mail))
	assert.Equal(t, "mail.example.com", mail.Domain)

	got, err := v.Get("mail.example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "mail-pw", got.Password)

	_, err = v.Get("login.example.com", "")
	assert.ErrorIs(t, err, ErrNotFound, "a sibling subdomain must not see the entry")
	_, err = v.Get("example.com", "")
	assert.ErrorIs(t, err, ErrNotFound)

	site := &Entry{URL: "https://login.example.com/signin", Username: "u", Password: "site-pw"}
	require.NoError(t, v.Save(site))
	assert.Equal(t, "example.com", site.Domain)

	got, err = v.Get("https://www.example.com", "u")
	require.NoError(t, err)
	assert.Equal(t, site.ID, got.ID)
	got, err = v.Get("mail.example.com", "u")
	require.NoError(t, err)
	assert.Equal(t, mail.ID, got.ID)
}

func TestPasswordsEncryptedAtRest(t *testing.T) {
	v, _ := newTestVault(t)
	require.NoError(t, v.Save(&Entry{URL: "https://example.com", Username: "u", Password: "hunter2-secret", Notes: "recovery code 1234"}))

	err := v.db.View(func(tx *storage.Tx) error {
		return tx.ForEach(storage.VaultEntriesBucket, func(k, data []byte) error {
			assert.False(t, bytes.Contains(data, []byte("hunter2-secret")))
			assert.False(t, bytes.Contains(data, []byte("recovery code")))
			return nil
		})
	})
	require.NoError(t, err)
}

func TestUpdateMovesDomainIndex(t *testing.T) {
	v, _ := newTestVault(t)

	e := &Entry{URL: "https://example.com", Username: "u", Password: "p"}
	require.NoError(t, v.Save(e))
	created := e.CreatedAt

	e.URL = "https://example.org"
	e.Domain = ""
	require.NoError(t, v.Save(e))
	assert.True(t, e.CreatedAt.Equal(created))

	_, err := v.Get("example.com", "")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := v.Get("example.org", "")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestAllSearchDelete(t *testing.T) {
	v, clock := newTestVault(t)

	entries := []*Entry{
		{URL: "https://github.com", Username: "octocat", Password: "a"},
		{URL: "https://mail.example.com", Username: "Alice@example.com", Password: "b"},
		{URL: "https://bank.example.net", Username: "alice", Password: "c", Notes: "pin"},
	}
	for _, e := range entries {
		require.NoError(t, v.Save(e))
		clock.Advance(time.Second)
	}

	all, err := v.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username, "most recently updated first")
	assert.Equal(t, "pin", all[0].Notes)

	found, err := v.Search("ALICE")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = v.Search("github")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "octocat", found[0].Username)

	require.NoError(t, v.Delete(entries[0].ID))
	require.NoError(t, v.Delete("missing"))
	_, err = v.Get("github.com", "")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = v.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdatePasswordAndMarkUsed(t *testing.T) {
	v, clock := newTestVault(t)

	e := &Entry{URL: "https://example.com", Username: "u", Password: "p1"}
	require.NoError(t, v.Save(e))

	clock.Advance(time.Hour)
	require.NoError(t, v.UpdatePassword(e.ID, "p2"))
	require.NoError(t, v.MarkUsed(e.ID))

	got, err := v.Get("example.com", "u")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.Password)
	assert.True(t, got.UpdatedAt.Equal(clock.Now()))
	require.NotNil(t, got.LastUsed)
	assert.True(t, got.LastUsed.Equal(clock.Now()))

	assert.ErrorIs(t, v.UpdatePassword("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, v.MarkUsed("missing"), ErrNotFound)
	assert.Error(t, v.UpdatePassword(e.ID, ""))

	// re-saving keeps lastUsed
	got.Notes = "updated"
	got.LastUsed = nil
	require.NoError(t, v.Save(got))
	again, err := v.Get("example.com", "u")
	require.NoError(t, err)
	assert.NotNil(t, again.LastUsed)
}

func TestReencrypt(t *testing.T) {
	db := openDB(t)
	oldEngine := newEngine(t)
	nextEngine := newEngine(t)

	v := New(db, oldEngine)
	require.NoError(t, v.Save(&Entry{URL: "https://example.com", Username: "u", Password: "p1", Notes: "n"}))

	require.NoError(t, db.Update(func(tx *storage.Tx) error {
		return Reencrypt(tx, oldEngine, nextEngine)
	}))

	got, err := New(db, nextEngine).Get("example.com", "u")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Password)
	assert.Equal(t, "n", got.Notes)

	_, err = v.Get("example.com", "u")
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}
