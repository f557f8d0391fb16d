package auth

import (
	"context"

	"github.com/illarion/privkeep/internal/securestore"
	"github.com/illarion/privkeep/internal/vault"
)

// withStore runs fn against the unlocked profile store
func (m *Manager) withStore(fn func(*securestore.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.authenticatedLocked() {
		return ErrSessionLocked
	}
	return fn(m.store)
}

// withVault runs fn against the unlocked password vault
func (m *Manager) withVault(fn func(*vault.Vault) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.authenticatedLocked() {
		return ErrSessionLocked
	}
	return fn(m.vault)
}

func (m *Manager) SaveBookmark(b *securestore.Bookmark) error {
	return m.withStore(func(s *securestore.Store) error {
		return s.SaveBookmark(b)
	})
}

func (m *Manager) Bookmarks() (out []securestore.Bookmark, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		out, err = s.Bookmarks()
		return err
	})
	return out, err
}

func (m *Manager) DeleteBookmark(id string) error {
	return m.withStore(func(s *securestore.Store) error {
		return s.DeleteBookmark(id)
	})
}

func (m *Manager) SaveHistory(e *securestore.HistoryEntry) error {
	return m.withStore(func(s *securestore.Store) error {
		return s.SaveHistory(e)
	})
}

func (m *Manager) History(limit int) (out []securestore.HistoryEntry, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		out, err = s.History(limit)
		return err
	})
	return out, err
}

func (m *Manager) ClearHistory() error {
	return m.withStore(func(s *securestore.Store) error {
		return s.ClearHistory()
	})
}

func (m *Manager) SaveSetting(key string, value any) error {
	return m.withStore(func(s *securestore.Store) error {
		return s.SaveSetting(key, value)
	})
}

// GetSetting decodes the setting into out and reports whether it exists
func (m *Manager) GetSetting(key string, out any) (found bool, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		found, err = s.GetSetting(key, out)
		return err
	})
	return found, err
}

func (m *Manager) Settings() (out []securestore.Setting, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		out, err = s.Settings()
		return err
	})
	return out, err
}

// ExportData returns an archive of the profile sealed with exportPassword
func (m *Manager) ExportData(exportPassword []byte) (out []byte, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		out, err = s.ExportData(exportPassword)
		return err
	})
	return out, err
}

// ImportData merges the archive into the profile. Records keep their ids,
// so an imported record replaces the local one with the same id.
func (m *Manager) ImportData(data, exportPassword []byte) error {
	return m.withStore(func(s *securestore.Store) error {
		return s.ImportData(data, exportPassword)
	})
}

// PreviewImport describes what ImportData would change
func (m *Manager) PreviewImport(data, exportPassword []byte) (diff string, err error) {
	err = m.withStore(func(s *securestore.Store) error {
		diff, err = s.PreviewImport(data, exportPassword)
		return err
	})
	return diff, err
}

func (m *Manager) SaveVaultEntry(e *vault.Entry) error {
	return m.withVault(func(v *vault.Vault) error {
		return v.Save(e)
	})
}

// VaultEntry returns the most recently updated entry for domain and username
func (m *Manager) VaultEntry(domain, username string) (out *vault.Entry, err error) {
	err = m.withVault(func(v *vault.Vault) error {
		out, err = v.Get(domain, username)
		return err
	})
	return out, err
}

func (m *Manager) VaultEntries() (out []vault.Entry, err error) {
	err = m.withVault(func(v *vault.Vault) error {
		out, err = v.All()
		return err
	})
	return out, err
}

func (m *Manager) SearchVault(query string) (out []vault.Entry, err error) {
	err = m.withVault(func(v *vault.Vault) error {
		out, err = v.Search(query)
		return err
	})
	return out, err
}

func (m *Manager) DeleteVaultEntry(id string) error {
	return m.withVault(func(v *vault.Vault) error {
		return v.Delete(id)
	})
}

func (m *Manager) UpdateVaultPassword(id, pw string) error {
	return m.withVault(func(v *vault.Vault) error {
		return v.UpdatePassword(id, pw)
	})
}

func (m *Manager) MarkVaultEntryUsed(id string) error {
	return m.withVault(func(v *vault.Vault) error {
		return v.MarkUsed(id)
	})
}

// GeneratePassword needs an unlocked session like every other vault call
func (m *Manager) GeneratePassword(opts vault.GeneratorOptions) (out string, err error) {
	err = m.withVault(func(*vault.Vault) error {
		out, err = vault.Generate(opts)
		return err
	})
	return out, err
}

// CheckForBreaches reports whether pw appears in the breach corpus. Network
// failures report false. The lookup runs outside the store lock.
func (m *Manager) CheckForBreaches(ctx context.Context, pw string) (bool, error) {
	if !m.IsAuthenticated() {
		return false, ErrSessionLocked
	}
	return m.breach.Check(ctx, pw), nil
}
