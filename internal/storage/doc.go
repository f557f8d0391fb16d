// Package storage provides the BBolt database behind the encrypted profile.
//
// Database structure uses these buckets:
//   - meta: schema version and creation time (unencrypted)
//   - auth: salt, key check envelope and hash location (single row)
//   - bookmarks, history: JSON rows whose url and title are envelopes
//   - settings: JSON rows holding an encrypted JSON value
//   - vault_entries: credential rows with encrypted password and notes
//   - vault_domains: clear text domain index, domain\x00id -> id
//
// The storage layer never sees keys or plaintext; callers seal values with
// an encryption engine before writing them. A closed or never-opened store
// reports ErrUnavailable.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage
