package crypto

import (
	"github.com/awnumar/memguard"
)

// Secret is an owned buffer for key material or plaintext passwords.
// The backing memory is locked and wiped by Destroy; callers pair every
// NewSecret with a deferred Destroy.
type Secret struct {
	buf *memguard.LockedBuffer
}

// NewSecret moves b into a locked buffer. b is wiped.
func NewSecret(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	return &Secret{buf: memguard.NewBufferFromBytes(b)}
}

// CopySecret stores a copy of b, leaving b untouched.
func CopySecret(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	buf := memguard.NewBuffer(len(b))
	buf.Copy(b)
	return &Secret{buf: buf}
}

// Bytes returns the protected bytes, or nil once destroyed.
// The slice must not be retained past Destroy.
func (s *Secret) Bytes() []byte {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return nil
	}
	return s.buf.Bytes()
}

// Alive reports whether the secret still holds data
func (s *Secret) Alive() bool {
	return s != nil && s.buf != nil && s.buf.IsAlive()
}

// Destroy wipes and releases the buffer. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
}
