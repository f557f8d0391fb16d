package keyring

import (
	"errors"

	gokeyring "github.com/zalando/go-keyring"
)

// ErrNotFound is returned when no secret is stored for a service/account
var ErrNotFound = errors.New("secret not found in keyring")

// Store is the opaque OS credential holder
type Store interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// OSStore keeps secrets in the platform keyring (Secret Service, Keychain, WinCred)
type OSStore struct{}

// NewOSStore returns a Store backed by the OS keyring
func NewOSStore() *OSStore {
	return &OSStore{}
}

// Set stores a secret
func (OSStore) Set(service, account, secret string) error {
	return gokeyring.Set(service, account, secret)
}

// Get retrieves a secret
func (OSStore) Get(service, account string) (string, error) {
	secret, err := gokeyring.Get(service, account)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return secret, err
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (OSStore) Delete(service, account string) error {
	err := gokeyring.Delete(service, account)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil
	}
	return err
}

// Has checks if a secret is stored
func Has(s Store, service, account string) (bool, error) {
	_, err := s.Get(service, account)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UseMock replaces the OS keyring with an in-memory provider for tests
func UseMock() {
	gokeyring.MockInit()
}
