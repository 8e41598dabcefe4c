package sealbox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length in bytes of every key this subsystem handles:
// vault keys, session keys and backup wrapping keys are all 256 bits.
const KeySize = chacha20poly1305.KeySize

// maxPlaintextSize caps a single encryption call to prevent memory
// exhaustion from hostile or buggy callers.
const maxPlaintextSize = 10 * 1024 * 1024

// Seal encrypts plaintext under the given 256-bit key with ChaCha20-Poly1305
// authenticated encryption.
//
// SECURITY PROPERTIES:
//   - Cipher: ChaCha20-Poly1305 (RFC 8439), 256-bit key, 96-bit nonce,
//     128-bit authentication tag
//   - A fresh cryptographically secure random nonce is drawn on every call;
//     callers can never supply their own nonce, so nonce reuse under one key
//     cannot be caused from outside
//   - Confidentiality and integrity are provided together: any later
//     modification of the envelope is detected by Open
//
// The returned envelope carries no key version; callers encrypting message
// traffic attach the ring version through SessionCipher. Seal either fully
// succeeds or returns an error with nothing produced; no partial envelopes.
//
// Parameters:
//   - key: 32-byte key material. Not retained; the caller keeps ownership
//     and is responsible for wiping it.
//   - plaintext: data to encrypt. May be empty; capped at 10MB.
//
// Returns the envelope on success, or an error if the key is malformed, the
// plaintext exceeds the size cap, or the system random source fails.
func Seal(key, plaintext []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	if len(plaintext) > maxPlaintextSize {
		return nil, errors.New("plaintext too large")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	var env Envelope
	if _, err = rand.Read(env.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env.Ciphertext = aead.Seal(nil, env.Nonce[:], plaintext, nil)
	return &env, nil
}

// Open decrypts and authenticates an envelope previously produced by Seal.
//
// Every failure mode (authentication tag mismatch, truncated ciphertext,
// malformed envelope, wrong or malformed key) collapses into the single
// opaque ErrDecryptionFailed. Distinguishable decryption errors would hand
// an attacker a padding/format oracle, so the cause is deliberately not
// reported. Decryption failure is never transient: it is propagated, never
// swallowed, and must not be retried.
func Open(key []byte, env *Envelope) ([]byte, error) {
	if env == nil || len(key) != KeySize {
		return nil, ErrDecryptionFailed
	}
	if len(env.Ciphertext) < TagOverhead {
		return nil, ErrDecryptionFailed
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
