package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/illarion/privkeep/internal/crypto"
)

const (
	hashSaltSize = 16
	hashKeySize  = 32
)

var ErrInvalidHash = errors.New("invalid password hash encoding")

// Params are the argon2id cost parameters
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultParams returns the production cost: 64 MiB, 3 passes, 4 lanes.
func DefaultParams() Params {
	return Params{Memory: 64 * 1024, Time: 3, Threads: 4}
}

// Hash returns a PHC-style encoded argon2id hash of password
func Hash(password []byte, p Params) (string, error) {
	salt, err := crypto.GenerateRandom(hashSaltSize)
	if err != nil {
		return "", err
	}

	key := argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, hashKeySize)
	defer crypto.ClearBytes(key)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify checks password against an encoded hash in constant time
func Verify(encoded string, password []byte) (bool, error) {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	defer crypto.ClearBytes(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrInvalidHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Time == 0 || p.Threads == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	return p, salt, key, nil
}
