package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/illarion/privkeep/internal/crypto"
)

// Bucket names
var (
	MetaBucket         = []byte("meta")          // schema version, timestamps - unencrypted
	AuthBucket         = []byte("auth")          // salt, key check, hash marker
	BookmarksBucket    = []byte("bookmarks")     // rows with encrypted url/title
	HistoryBucket      = []byte("history")       // rows with encrypted url/title
	SettingsBucket     = []byte("settings")      // encrypted JSON values
	VaultEntriesBucket = []byte("vault_entries") // rows with encrypted password/notes
	VaultDomainsBucket = []byte("vault_domains") // domain\x00id -> id, clear text index
)

var allBuckets = [][]byte{
	MetaBucket, AuthBucket, BookmarksBucket, HistoryBucket,
	SettingsBucket, VaultEntriesBucket, VaultDomainsBucket,
}

// DataBuckets hold rows sealed under the master key
var DataBuckets = [][]byte{
	BookmarksBucket, HistoryBucket, SettingsBucket,
	VaultEntriesBucket, VaultDomainsBucket,
}

// Meta keys
var (
	MetaVersion = []byte("version")
	MetaCreated = []byte("created")
)

var authRecordKey = []byte("1")

var (
	ErrUnavailable = errors.New("storage unavailable")
	ErrNotFound    = errors.New("record not found")
)

const schemaVersion = "1"

// AuthRecord is the single authentication row.
type AuthRecord struct {
	PasswordHash string           `json:"passwordHash"` // where the hash lives, not the hash
	Salt         []byte           `json:"salt"`
	KeyCheck     *crypto.Envelope `json:"keyCheck,omitempty"`
	Rotation     *Rotation        `json:"rotation,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Rotation marks a password change whose rows are already sealed under the
// new key while the stored hash may still be the old one. SealedKey is the
// new master key sealed under the previous key.
type Rotation struct {
	Salt      []byte           `json:"salt"`
	KeyCheck  *crypto.Envelope `json:"keyCheck"`
	SealedKey *crypto.Envelope `json:"sealedKey"`
}

// Storage provides BBolt-based storage for the encrypted profile
type Storage struct {
	mu   sync.RWMutex
	db   *bolt.DB
	path string
}

// Open opens or creates the profile database
func Open(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db, path: path}, nil
}

// Close closes the database. Further use fails with ErrUnavailable.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.path
}

// Initialize creates the bucket structure. Safe to call on an existing database.
func (s *Storage) Initialize() error {
	return s.update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(MetaBucket)
		if meta.Get(MetaVersion) != nil {
			return nil
		}
		if err := meta.Put(MetaVersion, []byte(schemaVersion)); err != nil {
			return err
		}
		created, _ := time.Now().MarshalBinary()
		return meta.Put(MetaCreated, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.view(func(tx *bolt.Tx) error {
		meta := tx.Bucket(MetaBucket)
		if meta != nil && meta.Get(MetaVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

func (s *Storage) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrUnavailable
	}
	return s.db.View(fn)
}

func (s *Storage) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrUnavailable
	}
	return s.db.Update(fn)
}

// View runs fn in a read-only transaction
func (s *Storage) View(fn func(*Tx) error) error {
	if s == nil {
		return ErrUnavailable
	}
	return s.view(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Update runs fn in a read-write transaction. Returning an error rolls back.
func (s *Storage) Update(fn func(*Tx) error) error {
	if s == nil {
		return ErrUnavailable
	}
	return s.update(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Tx is a transaction scoped to the profile buckets
type Tx struct {
	tx *bolt.Tx
}

func (t *Tx) bucket(name []byte) (*bolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found: %w", name, ErrUnavailable)
	}
	return b, nil
}

// Get returns a copy of the value under key, or ErrNotFound
func (t *Tx) Get(bucket, key []byte) ([]byte, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	data := b.Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	// Make a copy since the slice is only valid during the transaction
	return append([]byte(nil), data...), nil
}

// Put stores value under key
func (t *Tx) Put(bucket, key, value []byte) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Tx) Delete(bucket, key []byte) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// ForEach calls fn for every pair in bucket. Slices are only valid inside fn.
func (t *Tx) ForEach(bucket []byte, fn func(k, v []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.ForEach(fn)
}

// ForEachPrefix calls fn for every key starting with prefix
func (t *Tx) ForEachPrefix(bucket, prefix []byte, fn func(k, v []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key in bucket
func (t *Tx) Clear(bucket []byte) error {
	if err := t.tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return fmt.Errorf("failed to clear bucket %s: %w", bucket, err)
	}
	_, err := t.tx.CreateBucket(bucket)
	return err
}

// GetJSON decodes the row under key into v
func (t *Tx) GetJSON(bucket, key []byte, v any) error {
	data, err := t.Get(bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s row: %w", bucket, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key
func (t *Tx) PutJSON(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", bucket, err)
	}
	return t.Put(bucket, key, data)
}

// RewriteEach decodes every row of bucket into T, lets fn modify it and
// writes it back. Rows are collected first since a bucket must not be
// modified while it is being iterated.
func RewriteEach[T any](tx *Tx, bucket []byte, fn func(*T) error) error {
	type pending struct {
		key []byte
		row T
	}

	var rows []pending
	err := tx.ForEach(bucket, func(k, v []byte) error {
		var row T
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("failed to decode %s row: %w", bucket, err)
		}
		rows = append(rows, pending{key: append([]byte(nil), k...), row: row})
		return nil
	})
	if err != nil {
		return err
	}

	for i := range rows {
		if err := fn(&rows[i].row); err != nil {
			return err
		}
		if err := tx.PutJSON(bucket, rows[i].key, rows[i].row); err != nil {
			return err
		}
	}
	return nil
}

// GetAuthRecord returns the authentication row, or ErrNotFound
func (t *Tx) GetAuthRecord() (*AuthRecord, error) {
	var rec AuthRecord
	if err := t.GetJSON(AuthBucket, authRecordKey, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutAuthRecord stores the authentication row
func (t *Tx) PutAuthRecord(rec *AuthRecord) error {
	return t.PutJSON(AuthBucket, authRecordKey, rec)
}

// HasData reports whether any sealed row exists
func (t *Tx) HasData() (bool, error) {
	for _, name := range DataBuckets {
		b, err := t.bucket(name)
		if err != nil {
			return false, err
		}
		if k, _ := b.Cursor().First(); k != nil {
			return true, nil
		}
	}
	return false, nil
}

// ResetProfile drops the auth row and every sealed row
func (t *Tx) ResetProfile() error {
	for _, name := range append([][]byte{AuthBucket}, DataBuckets...) {
		if err := t.Clear(name); err != nil {
			return err
		}
	}
	return nil
}

// GetAuthRecord reads the authentication row in its own transaction
func (s *Storage) GetAuthRecord() (*AuthRecord, error) {
	var rec *AuthRecord
	err := s.View(func(tx *Tx) error {
		var err error
		rec, err = tx.GetAuthRecord()
		return err
	})
	return rec, err
}

// PutAuthRecord writes the authentication row in its own transaction
func (s *Storage) PutAuthRecord(rec *AuthRecord) error {
	return s.Update(func(tx *Tx) error {
		return tx.PutAuthRecord(rec)
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after clearing history or deleting vault entries.
func (s *Storage) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrUnavailable
	}

	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}
	s.db = nil

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	db, err := bolt.Open(srcPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}
	s.db = db

	return nil
}
