// Package backup keeps export archives in a directory under the profile.
//
// All file access goes through an os.Root opened on the directory, so an
// archive name can never reach a file outside it.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Extension is appended to generated archive names
const Extension = ".pkx"

var (
	ErrPathEscapes  = errors.New("name escapes backup directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyName    = errors.New("empty archive name")
)

// Dir is a backup directory confined with os.Root
type Dir struct {
	root *os.Root
	path string
}

// Info describes a stored archive
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Open creates the directory if needed and confines access to it
func Open(path string) (*Dir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup directory: %w", err)
	}

	return &Dir{root: root, path: absPath}, nil
}

// Close releases the directory handle
func (d *Dir) Close() error {
	if d.root != nil {
		return d.root.Close()
	}
	return nil
}

// Path returns the absolute directory path
func (d *Dir) Path() string {
	return d.path
}

// Validate checks a user-provided archive name and returns it cleaned with
// forward slashes.
func (d *Dir) Validate(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}

	if !filepath.IsLocal(name) {
		if filepath.IsAbs(name) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, name)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	clean := filepath.Clean(name)
	rel, err := filepath.Rel(d.path, filepath.Join(d.path, clean))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	return filepath.ToSlash(rel), nil
}

// Write stores an archive, readable only by the owner
func (d *Dir) Write(name string, data []byte) error {
	clean, err := d.Validate(filepath.FromSlash(name))
	if err != nil {
		return fmt.Errorf("invalid archive name: %w", err)
	}

	platform := filepath.FromSlash(clean)
	if err := d.mkdirAll(filepath.Dir(platform)); err != nil {
		return err
	}

	f, err := d.root.OpenFile(platform, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Dir) mkdirAll(dir string) error {
	if dir == "." {
		return nil
	}
	if err := d.mkdirAll(filepath.Dir(dir)); err != nil {
		return err
	}
	if err := d.root.Mkdir(dir, 0700); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// Read loads an archive
func (d *Dir) Read(name string) ([]byte, error) {
	clean, err := d.Validate(filepath.FromSlash(name))
	if err != nil {
		return nil, fmt.Errorf("invalid archive name: %w", err)
	}

	f, err := d.root.Open(filepath.FromSlash(clean))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Exists reports whether an archive with this name is stored
func (d *Dir) Exists(name string) bool {
	clean, err := d.Validate(filepath.FromSlash(name))
	if err != nil {
		return false
	}
	_, err = d.root.Stat(filepath.FromSlash(clean))
	return err == nil
}

// List returns stored archives, newest first
func (d *Dir) List() ([]Info, error) {
	var out []Info
	err := fs.WalkDir(d.root.FS(), ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || filepath.Ext(p) != Extension {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{Name: p, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	slices.SortFunc(out, func(a, b Info) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Name returns the default archive name for an export taken at t
func Name(t time.Time) string {
	return "privkeep-" + t.UTC().Format("20060102T150405Z") + Extension
}
