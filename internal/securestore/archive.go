package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/privkeep/internal/crypto"
	"github.com/illarion/privkeep/internal/storage"
)

// ExportVersion is the archive format version written by ExportData
const ExportVersion = 1

var (
	ErrInvalidArchive     = errors.New("invalid export archive")
	ErrUnsupportedVersion = errors.New("unsupported export archive version")
)

// Archive is the decrypted content of an export
type Archive struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Bookmarks  []Bookmark     `json:"bookmarks"`
	History    []HistoryEntry `json:"history"`
	Settings   []Setting      `json:"settings"`
}

// ExportData snapshots the whole profile and encrypts it with a key derived
// from password alone, so the archive opens under any master key.
func (s *Store) ExportData(password []byte) ([]byte, error) {
	archive := Archive{Version: ExportVersion, ExportedAt: s.now().UTC()}

	err := s.db.View(func(tx *storage.Tx) error {
		var err error
		if archive.Bookmarks, err = s.readBookmarks(tx); err != nil {
			return err
		}
		if archive.History, err = s.readHistory(tx); err != nil {
			return err
		}
		archive.Settings, err = s.readSettings(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	payload, err := json.Marshal(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	defer crypto.ClearBytes(payload)

	engine, err := exportEngine(password)
	if err != nil {
		return nil, err
	}
	defer engine.Destroy()

	env, err := engine.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt archive: %w", err)
	}
	return json.Marshal(env)
}

// ImportData restores an archive produced by ExportData. Rows are written
// with their original ids, timestamps and visit counts; existing rows with
// the same id are replaced.
func (s *Store) ImportData(data, password []byte) error {
	archive, err := openArchive(data, password)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *storage.Tx) error {
		for i := range archive.Bookmarks {
			b := &archive.Bookmarks[i]
			if err := s.validate.Struct(b); err != nil {
				return fmt.Errorf("invalid bookmark in archive: %w", err)
			}
			if b.ID == "" {
				b.ID = newID()
			}
			if err := putBookmark(tx, s.engine, b); err != nil {
				return err
			}
		}
		for i := range archive.History {
			e := &archive.History[i]
			if err := s.validate.Struct(e); err != nil {
				return fmt.Errorf("invalid history entry in archive: %w", err)
			}
			if e.ID == "" {
				e.ID = newID()
			}
			if err := putHistory(tx, s.engine, e); err != nil {
				return err
			}
		}
		for i := range archive.Settings {
			st := &archive.Settings[i]
			if err := s.validate.Struct(st); err != nil {
				return fmt.Errorf("invalid setting in archive: %w", err)
			}
			if err := putSetting(tx, s.engine, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import archive: %w", err)
	}

	s.cache.clear()
	s.log.Info().
		Int("bookmarks", len(archive.Bookmarks)).
		Int("history", len(archive.History)).
		Int("settings", len(archive.Settings)).
		Msg("archive imported")
	return nil
}

// PreviewImport returns a line diff between the current profile and the
// archive. Lines starting with "-" exist only locally, "+" only in the
// archive. An empty result means importing changes nothing.
func (s *Store) PreviewImport(data, password []byte) (string, error) {
	incoming, err := openArchive(data, password)
	if err != nil {
		return "", err
	}

	var current Archive
	err = s.db.View(func(tx *storage.Tx) error {
		var err error
		if current.Bookmarks, err = s.readBookmarks(tx); err != nil {
			return err
		}
		if current.History, err = s.readHistory(tx); err != nil {
			return err
		}
		current.Settings, err = s.readSettings(tx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to read profile: %w", err)
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for readable output
	a, b, lineArray := dmp.DiffLinesToChars(renderArchive(&current), renderArchive(incoming))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String(), nil
}

// renderArchive prints one sorted line per record so the diff is stable
func renderArchive(a *Archive) string {
	lines := make([]string, 0, len(a.Bookmarks)+len(a.History)+len(a.Settings))
	for _, b := range a.Bookmarks {
		lines = append(lines, "bookmark "+b.ID+" "+b.URL+" "+strconv.Quote(b.Title))
	}
	for _, e := range a.History {
		lines = append(lines, fmt.Sprintf("history %s %s %q visits=%d", e.ID, e.URL, e.Title, e.VisitCount))
	}
	for _, st := range a.Settings {
		lines = append(lines, "setting "+st.Key+" = "+string(st.Value))
	}
	slices.Sort(lines)

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func openArchive(data, password []byte) (*Archive, error) {
	var env crypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidArchive
	}

	engine, err := exportEngine(password)
	if err != nil {
		return nil, err
	}
	defer engine.Destroy()

	payload, err := engine.Decrypt(&env)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(payload)

	var archive Archive
	if err := json.Unmarshal(payload, &archive); err != nil {
		return nil, ErrInvalidArchive
	}
	if archive.Version < 1 || archive.Version > ExportVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, archive.Version)
	}
	return &archive, nil
}

func exportEngine(password []byte) (*crypto.Engine, error) {
	key := crypto.ExportKey(password)
	defer crypto.ClearBytes(key)
	return crypto.NewEngine(key)
}
