// Package vault stores website credentials with the password and notes
// encrypted at rest and a clear text domain index for lookups.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/storage"
)

var ErrNotFound = errors.New("vault entry not found")

// Entry is a decrypted credential
type Entry struct {
	ID        string     `json:"id"`
	URL       string     `json:"url" validate:"omitempty,url"`
	Domain    string     `json:"domain" validate:"required_without=URL"`
	Username  string     `json:"username"`
	Password  string     `json:"password" validate:"required"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

type entryRow struct {
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	Domain    string           `json:"domain"`
	Username  string           `json:"username"`
	Password  *crypto.Envelope `json:"password"`
	Notes     *crypto.Envelope `json:"notes,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	LastUsed  *time.Time       `json:"lastUsed,omitempty"`
}

// Vault is the credential store bound to one engine
type Vault struct {
	db       *storage.Storage
	engine   *crypto.Engine
	breach   *BreachChecker
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Vault
type Option func(*Vault)

// WithBreachChecker sets the breach lookup client
func WithBreachChecker(b *BreachChecker) Option {
	return func(v *Vault) { v.breach = b }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.log = l }
}

// New creates a vault writing through db and sealing with engine
func New(db *storage.Storage, engine *crypto.Engine, opts ...Option) *Vault {
	v := &Vault{
		db:       db,
		engine:   engine,
		validate: validator.New(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.breach == nil {
		v.breach = NewBreachChecker(DefaultBreachAPI, DefaultBreachTimeout, v.log)
	}
	return v
}

// DomainOf returns the registrable domain (eTLD+1) of rawURL, falling back
// to the host for IPs, localhost and unknown suffixes.
func DomainOf(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// domainKey normalizes a caller-supplied domain. URLs are reduced with
// DomainOf; bare domains are kept as given apart from case and a trailing dot.
func domainKey(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return DomainOf(s)
	}
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

func indexKey(domain, id string) []byte {
	return []byte(domain + "\x00" + id)
}

// Save inserts or updates a credential. An empty ID gets a new UUID and an
// empty Domain is derived from URL. A supplied Domain is stored as given.
func (v *Vault) Save(e *Entry) error {
	if err := v.validate.Struct(e); err != nil {
		return fmt.Errorf("invalid vault entry: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Domain == "" {
		e.Domain = DomainOf(e.URL)
	} else {
		e.Domain = domainKey(e.Domain)
	}
	if e.Domain == "" {
		return fmt.Errorf("invalid vault entry: no domain for %q", e.URL)
	}

	password, err := v.engine.EncryptString(e.Password)
	if err != nil {
		return err
	}
	var notes *crypto.Envelope
	if e.Notes != "" {
		if notes, err = v.engine.EncryptString(e.Notes); err != nil {
			return err
		}
	}

	now := v.now()
	err = v.db.Update(func(tx *storage.Tx) error {
		var existing entryRow
		err := tx.GetJSON(storage.VaultEntriesBucket, []byte(e.ID), &existing)
		switch {
		case err == nil:
			if existing.Domain != e.Domain {
				if err := tx.Delete(storage.VaultDomainsBucket, indexKey(existing.Domain, e.ID)); err != nil {
					return err
				}
			}
			e.CreatedAt = existing.CreatedAt
			if e.LastUsed == nil {
				e.LastUsed = existing.LastUsed
			}
		case errors.Is(err, storage.ErrNotFound):
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
		default:
			return err
		}
		e.UpdatedAt = now

		if err := tx.PutJSON(storage.VaultEntriesBucket, []byte(e.ID), entryRow{
			ID:        e.ID,
			URL:       e.URL,
			Domain:    e.Domain,
			Username:  e.Username,
			Password:  password,
			Notes:     notes,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
			LastUsed:  e.LastUsed,
		}); err != nil {
			return err
		}
		return tx.Put(storage.VaultDomainsBucket, indexKey(e.Domain, e.ID), []byte(e.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to save vault entry: %w", err)
	}

	v.log.Debug().Str("domain", e.Domain).Msg("vault entry saved")
	return nil
}

// Get returns the most recently updated entry stored under exactly domain,
// restricted to username when it is not empty. A URL is first reduced to
// its registrable domain.
func (v *Vault) Get(domain, username string) (*Entry, error) {
	domain = domainKey(domain)

	var best *entryRow
	err := v.db.View(func(tx *storage.Tx) error {
		return tx.ForEachPrefix(storage.VaultDomainsBucket, indexKey(domain, ""), func(k, id []byte) error {
			var row entryRow
			if err := tx.GetJSON(storage.VaultEntriesBucket, id, &row); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return err
			}
			if username != "" && row.Username != username {
				return nil
			}
			if best == nil || row.UpdatedAt.After(best.UpdatedAt) {
				best = &row
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return v.decode(best)
}

// All returns every entry, most recently updated first
func (v *Vault) All() ([]Entry, error) {
	return v.filter(func(*entryRow) bool { return true })
}

// Search returns entries whose username or URL contains query, ignoring case
func (v *Vault) Search(query string) ([]Entry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return v.filter(func(row *entryRow) bool {
		return strings.Contains(strings.ToLower(row.Username), q) ||
			strings.Contains(strings.ToLower(row.URL), q)
	})
}

func (v *Vault) filter(match func(*entryRow) bool) ([]Entry, error) {
	var rows []entryRow
	err := v.db.View(func(tx *storage.Tx) error {
		return tx.ForEach(storage.VaultEntriesBucket, func(k, data []byte) error {
			var row entryRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("failed to decode vault entry %s: %w", k, err)
			}
			if match(&row) {
				rows = append(rows, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(rows, func(a, b entryRow) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		e, err := v.decode(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// Delete removes an entry. Deleting a missing id is not an error.
func (v *Vault) Delete(id string) error {
	err := v.db.Update(func(tx *storage.Tx) error {
		var row entryRow
		err := tx.GetJSON(storage.VaultEntriesBucket, []byte(id), &row)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(storage.VaultDomainsBucket, indexKey(row.Domain, id)); err != nil {
			return err
		}
		return tx.Delete(storage.VaultEntriesBucket, []byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete vault entry: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password of an existing entry
func (v *Vault) UpdatePassword(id, password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	sealed, err := v.engine.EncryptString(password)
	if err != nil {
		return err
	}
	return v.modify(id, func(row *entryRow) {
		row.Password = sealed
		row.UpdatedAt = v.now()
	})
}

// MarkUsed records that the entry was just filled in
func (v *Vault) MarkUsed(id string) error {
	return v.modify(id, func(row *entryRow) {
		now := v.now()
		row.LastUsed = &now
	})
}

func (v *Vault) modify(id string, fn func(*entryRow)) error {
	return v.db.Update(func(tx *storage.Tx) error {
		var row entryRow
		err := tx.GetJSON(storage.VaultEntriesBucket, []byte(id), &row)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		fn(&row)
		return tx.PutJSON(storage.VaultEntriesBucket, []byte(id), row)
	})
}

// CheckForBreaches reports whether password appears in the breach corpus.
// Lookup failures are logged and reported as not breached.
func (v *Vault) CheckForBreaches(ctx context.Context, password string) bool {
	return v.breach.Check(ctx, password)
}

func (v *Vault) decode(row *entryRow) (*Entry, error) {
	password, err := v.engine.DecryptString(row.Password)
	if err != nil {
		return nil, err
	}
	var notes string
	if row.Notes != nil {
		if notes, err = v.engine.DecryptString(row.Notes); err != nil {
			return nil, err
		}
	}
	return &Entry{
		ID:        row.ID,
		URL:       row.URL,
		Domain:    row.Domain,
		Username:  row.Username,
		Password:  password,
		Notes:     notes,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		LastUsed:  row.LastUsed,
	}, nil
}

// Reencrypt re-seals every password and note from one engine to another
// inside tx.
func Reencrypt(tx *storage.Tx, from, to *crypto.Engine) error {
	err := storage.RewriteEach(tx, storage.VaultEntriesBucket, func(row *entryRow) error {
		var err error
		if row.Password, err = crypto.Reseal(from, to, row.Password); err != nil {
			return err
		}
		row.Notes, err = crypto.Reseal(from, to, row.Notes)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to re-encrypt vault: %w", err)
	}
	return nil
}
