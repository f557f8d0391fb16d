package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize          = 32      // Salt size in bytes
	KeySize           = 32      // AES-256 key size
	NonceSize         = 12      // GCM nonce size
	TagSize           = 16      // GCM authentication tag size
	DefaultIterations = 600_000 // PBKDF2-SHA512 iterations
)

var (
	ErrInvalidSaltLength = errors.New("invalid salt length")
	ErrInvalidKeyLength  = errors.New("invalid key length")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrEngineDestroyed   = errors.New("encryption engine destroyed")
)

// KDF handles key derivation from passwords
type KDF struct {
	Salt       []byte
	Iterations int
}

// NewKDF creates a new KDF with a random salt
func NewKDF() (*KDF, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}

	return &KDF{
		Salt:       salt,
		Iterations: DefaultIterations,
	}, nil
}

// DeriveKey derives an encryption key from a password.
// The caller owns the returned key and must clear it.
func (k *KDF) DeriveKey(password []byte) ([]byte, error) {
	if len(k.Salt) != SaltSize {
		return nil, ErrInvalidSaltLength
	}
	iterations := k.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(password, k.Salt, iterations, KeySize, sha512.New), nil
}

// DeriveKey derives a 32-byte key from password and salt with the default cost.
func DeriveKey(password, salt []byte) ([]byte, error) {
	return (&KDF{Salt: salt, Iterations: DefaultIterations}).DeriveKey(password)
}

// GenerateSalt returns SaltSize random bytes
func GenerateSalt() ([]byte, error) {
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// ExportKey derives the archive key for export/import. It is independent of
// the login KDF so archives move between installations.
func ExportKey(password []byte) []byte {
	sum := sha256.Sum256(password)
	return sum[:]
}

// Envelope is one unit of at-rest protection
type Envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"authTag"`
}

// Engine provides authenticated encryption bound to a single key
type Engine struct {
	mu  sync.RWMutex
	key *memguard.LockedBuffer
}

// NewEngine creates an engine holding a private, locked copy of key.
// The caller keeps ownership of the key slice passed in.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	buf := memguard.NewBuffer(KeySize)
	buf.Copy(key)

	return &Engine{key: buf}, nil
}

func (e *Engine) aead() (cipher.AEAD, error) {
	if e.key == nil || !e.key.IsAlive() {
		return nil, ErrEngineDestroyed
	}

	block, err := aes.NewCipher(e.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a fresh nonce
func (e *Engine) Encrypt(plaintext []byte) (*Envelope, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize

	return &Envelope{
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt verifies and decrypts an envelope. Any failure, including a
// malformed envelope, is reported as ErrDecryptionFailed.
func (e *Engine) Decrypt(env *Envelope) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	if env == nil || len(env.IV) != NonceSize || len(env.AuthTag) != TagSize {
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptString encrypts a UTF-8 string
func (e *Engine) EncryptString(s string) (*Envelope, error) {
	data := []byte(s)
	defer ClearBytes(data)
	return e.Encrypt(data)
}

// DecryptString decrypts an envelope into a string
func (e *Engine) DecryptString(env *Envelope) (string, error) {
	data, err := e.Decrypt(env)
	if err != nil {
		return "", err
	}
	defer ClearBytes(data)
	return string(data), nil
}

// Destroy clears the engine's key from memory
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.key != nil {
		e.key.Destroy()
	}
}

// Destroyed reports whether Destroy has been called
func (e *Engine) Destroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key == nil || !e.key.IsAlive()
}

// Reseal moves an envelope from one key to another. A nil envelope stays nil.
func Reseal(from, to *Engine, env *Envelope) (*Envelope, error) {
	if env == nil {
		return nil, nil
	}
	plaintext, err := from.Decrypt(env)
	if err != nil {
		return nil, err
	}
	defer ClearBytes(plaintext)
	return to.Encrypt(plaintext)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	memguard.WipeBytes(b)
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
