// Package crypto provides cryptographic operations for privkeep.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key held in a memguard locked buffer per Engine
//   - 12-byte random nonce per encryption operation
//   - 16-byte authentication tag kept separately in the Envelope
//
// Key derivation uses PBKDF2-HMAC-SHA512 with:
//   - 32-byte random salt (stored unencrypted)
//   - 600,000 iterations
//
// Memory safety:
//   - Keep keys and passwords that outlive a call in a Secret
//   - Use ClearBytes() to zero transient slices after use
//   - Call Engine.Destroy() when done with encryption operations
package crypto
