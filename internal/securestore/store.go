// Package securestore keeps bookmarks, history and settings encrypted at rest.
//
// Every user-visible string is sealed with the session's encryption engine
// before it reaches the backing store; ids, favicons, counters and
// timestamps stay in clear. Decrypted query results are memoized for a short
// TTL and dropped on every write that could change them.
package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/storage"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit
const DefaultHistoryLimit = 100

const (
	cacheBookmarks = "bookmarks"
	cacheHistory   = "history:"
	cacheSetting   = "setting:"
)

// Store is the encrypted profile store bound to one engine
type Store struct {
	db       *storage.Storage
	engine   *crypto.Engine
	cache    *cache
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithCacheTTL sets the decrypted-result cache TTL; zero disables caching
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.cache.ttl = ttl }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
		s.cache.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a store writing through db and sealing with engine
func New(db *storage.Storage, engine *crypto.Engine, opts ...Option) *Store {
	s := &Store{
		db:       db,
		engine:   engine,
		cache:    newCache(DefaultCacheTTL, time.Now),
		validate: validator.New(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID() string {
	return uuid.NewString()
}

// Close drops all cached plaintext
func (s *Store) Close() {
	s.cache.clear()
}

// SaveBookmark inserts or updates a bookmark. An empty ID gets a new UUID
// and an existing bookmark keeps its creation time.
func (s *Store) SaveBookmark(b *Bookmark) error {
	if err := s.validate.Struct(b); err != nil {
		return fmt.Errorf("invalid bookmark: %w", err)
	}
	if b.ID == "" {
		b.ID = newID()
	}

	now := s.now()
	b.UpdatedAt = now

	err := s.db.Update(func(tx *storage.Tx) error {
		var existing bookmarkRow
		err := tx.GetJSON(storage.BookmarksBucket, []byte(b.ID), &existing)
		switch {
		case err == nil:
			b.CreatedAt = existing.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			if b.CreatedAt.IsZero() {
				b.CreatedAt = now
			}
		default:
			return err
		}
		return putBookmark(tx, s.engine, b)
	})
	if err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}

	s.cache.invalidate(cacheBookmarks)
	return nil
}

func putBookmark(tx *storage.Tx, engine *crypto.Engine, b *Bookmark) error {
	url, err := engine.EncryptString(b.URL)
	if err != nil {
		return err
	}
	title, err := engine.EncryptString(b.Title)
	if err != nil {
		return err
	}

	return tx.PutJSON(storage.BookmarksBucket, []byte(b.ID), bookmarkRow{
		ID:        b.ID,
		URL:       url,
		Title:     title,
		Favicon:   b.Favicon,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	})
}

// Bookmarks returns all bookmarks, most recently updated first
func (s *Store) Bookmarks() ([]Bookmark, error) {
	if v, ok := s.cache.get(cacheBookmarks); ok {
		return slices.Clone(v.([]Bookmark)), nil
	}

	var bookmarks []Bookmark
	err := s.db.View(func(tx *storage.Tx) error {
		var err error
		bookmarks, err = s.readBookmarks(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.set(cacheBookmarks, slices.Clone(bookmarks))
	return bookmarks, nil
}

func (s *Store) readBookmarks(tx *storage.Tx) ([]Bookmark, error) {
	bookmarks := make([]Bookmark, 0)
	err := tx.ForEach(storage.BookmarksBucket, func(k, v []byte) error {
		var row bookmarkRow
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("failed to decode bookmark %s: %w", k, err)
		}
		url, err := s.engine.DecryptString(row.URL)
		if err != nil {
			return err
		}
		title, err := s.engine.DecryptString(row.Title)
		if err != nil {
			return err
		}
		bookmarks = append(bookmarks, Bookmark{
			ID:        row.ID,
			URL:       url,
			Title:     title,
			Favicon:   row.Favicon,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(bookmarks, func(a, b Bookmark) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return bookmarks, nil
}

// DeleteBookmark removes a bookmark. Deleting a missing id is not an error.
func (s *Store) DeleteBookmark(id string) error {
	err := s.db.Update(func(tx *storage.Tx) error {
		return tx.Delete(storage.BookmarksBucket, []byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}

	s.cache.invalidate(cacheBookmarks)
	return nil
}

// SaveHistory records a visit. Saving an existing id increments its visit
// count and keeps its creation time.
func (s *Store) SaveHistory(e *HistoryEntry) error {
	if err := s.validate.Struct(e); err != nil {
		return fmt.Errorf("invalid history entry: %w", err)
	}
	if e.ID == "" {
		e.ID = newID()
	}

	now := s.now()
	if e.VisitedAt.IsZero() {
		e.VisitedAt = now
	}

	err := s.db.Update(func(tx *storage.Tx) error {
		var existing historyRow
		err := tx.GetJSON(storage.HistoryBucket, []byte(e.ID), &existing)
		switch {
		case err == nil:
			e.VisitCount = existing.VisitCount + 1
			e.CreatedAt = existing.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			e.VisitCount = 1
			e.CreatedAt = now
		default:
			return err
		}
		return putHistory(tx, s.engine, e)
	})
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	s.cache.invalidatePrefix(cacheHistory)
	return nil
}

func putHistory(tx *storage.Tx, engine *crypto.Engine, e *HistoryEntry) error {
	url, err := engine.EncryptString(e.URL)
	if err != nil {
		return err
	}
	title, err := engine.EncryptString(e.Title)
	if err != nil {
		return err
	}

	return tx.PutJSON(storage.HistoryBucket, []byte(e.ID), historyRow{
		ID:         e.ID,
		URL:        url,
		Title:      title,
		Favicon:    e.Favicon,
		VisitCount: e.VisitCount,
		LastVisit:  e.VisitedAt,
		CreatedAt:  e.CreatedAt,
	})
}

// History returns up to limit entries, most recent visit first
func (s *Store) History(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	key := cacheHistory + strconv.Itoa(limit)
	if v, ok := s.cache.get(key); ok {
		return slices.Clone(v.([]HistoryEntry)), nil
	}

	var entries []HistoryEntry
	err := s.db.View(func(tx *storage.Tx) error {
		var err error
		entries, err = s.readHistory(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	s.cache.set(key, slices.Clone(entries))
	return entries, nil
}

func (s *Store) readHistory(tx *storage.Tx) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0)
	err := tx.ForEach(storage.HistoryBucket, func(k, v []byte) error {
		var row historyRow
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("failed to decode history %s: %w", k, err)
		}
		url, err := s.engine.DecryptString(row.URL)
		if err != nil {
			return err
		}
		title, err := s.engine.DecryptString(row.Title)
		if err != nil {
			return err
		}
		entries = append(entries, HistoryEntry{
			ID:         row.ID,
			URL:        url,
			Title:      title,
			Favicon:    row.Favicon,
			VisitCount: row.VisitCount,
			VisitedAt:  row.LastVisit,
			CreatedAt:  row.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(entries, func(a, b HistoryEntry) int {
		return b.VisitedAt.Compare(a.VisitedAt)
	})
	return entries, nil
}

// ClearHistory removes every history entry
func (s *Store) ClearHistory() error {
	err := s.db.Update(func(tx *storage.Tx) error {
		return tx.Clear(storage.HistoryBucket)
	})
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	s.cache.invalidatePrefix(cacheHistory)
	return nil
}

// SaveSetting stores value as encrypted JSON under key
func (s *Store) SaveSetting(key string, value any) error {
	if key == "" {
		return errors.New("setting key is required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}

	err = s.db.Update(func(tx *storage.Tx) error {
		return putSetting(tx, s.engine, &Setting{Key: key, Value: raw, UpdatedAt: s.now()})
	})
	crypto.ClearBytes(raw)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	s.cache.invalidate(cacheSetting + key)
	return nil
}

func putSetting(tx *storage.Tx, engine *crypto.Engine, st *Setting) error {
	value, err := engine.Encrypt(st.Value)
	if err != nil {
		return err
	}
	return tx.PutJSON(storage.SettingsBucket, []byte(st.Key), settingRow{
		Key:       st.Key,
		Value:     value,
		UpdatedAt: st.UpdatedAt,
	})
}

// GetSetting decodes the value under key into out. It reports false when
// the key has never been set.
func (s *Store) GetSetting(key string, out any) (bool, error) {
	cacheKey := cacheSetting + key
	if v, ok := s.cache.get(cacheKey); ok {
		return true, json.Unmarshal(v.(json.RawMessage), out)
	}

	var raw []byte
	err := s.db.View(func(tx *storage.Tx) error {
		var row settingRow
		if err := tx.GetJSON(storage.SettingsBucket, []byte(key), &row); err != nil {
			return err
		}
		var err error
		raw, err = s.engine.Decrypt(row.Value)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	defer crypto.ClearBytes(raw)

	s.cache.set(cacheKey, json.RawMessage(slices.Clone(raw)))
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return true, nil
}

// Settings returns every setting decrypted, ordered by key
func (s *Store) Settings() ([]Setting, error) {
	var settings []Setting
	err := s.db.View(func(tx *storage.Tx) error {
		var err error
		settings, err = s.readSettings(tx)
		return err
	})
	return settings, err
}

func (s *Store) readSettings(tx *storage.Tx) ([]Setting, error) {
	settings := make([]Setting, 0)
	err := tx.ForEach(storage.SettingsBucket, func(k, v []byte) error {
		var row settingRow
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("failed to decode setting %s: %w", k, err)
		}
		raw, err := s.engine.Decrypt(row.Value)
		if err != nil {
			return err
		}
		settings = append(settings, Setting{Key: row.Key, Value: raw, UpdatedAt: row.UpdatedAt})
		return nil
	})
	return settings, err
}

// Reencrypt re-seals every envelope in the bookmark, history and settings
// buckets from one engine to another inside tx.
func Reencrypt(tx *storage.Tx, from, to *crypto.Engine) error {
	if err := storage.RewriteEach(tx, storage.BookmarksBucket, func(row *bookmarkRow) error {
		var err error
		if row.URL, err = crypto.Reseal(from, to, row.URL); err != nil {
			return err
		}
		row.Title, err = crypto.Reseal(from, to, row.Title)
		return err
	}); err != nil {
		return fmt.Errorf("failed to re-encrypt bookmarks: %w", err)
	}

	if err := storage.RewriteEach(tx, storage.HistoryBucket, func(row *historyRow) error {
		var err error
		if row.URL, err = crypto.Reseal(from, to, row.URL); err != nil {
			return err
		}
		row.Title, err = crypto.Reseal(from, to, row.Title)
		return err
	}); err != nil {
		return fmt.Errorf("failed to re-encrypt history: %w", err)
	}

	if err := storage.RewriteEach(tx, storage.SettingsBucket, func(row *settingRow) error {
		var err error
		row.Value, err = crypto.Reseal(from, to, row.Value)
		return err
	}); err != nil {
		return fmt.Errorf("failed to re-encrypt settings: %w", err)
	}
	return nil
}
