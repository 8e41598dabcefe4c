package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 iteration count used when the caller
	// does not configure one. Existing persisted vaults were created at
	// this count, so changing it breaks interoperability with them.
	DefaultIterations = 600_000

	// MinSaltSize is the smallest salt accepted for key derivation.
	MinSaltSize = 16

	// saltSize is the length of newly generated salts.
	saltSize = 32
)

// DeriveKey derives a 256-bit vault key from a passphrase and salt using
// PBKDF2-HMAC-SHA256.
//
// The derivation is fully deterministic: identical (password, salt,
// iterations) inputs always yield an identical key, which is what lets the
// same user recreate their vault key on another device or session from the
// same passphrase and the persisted salt.
//
// An iterations value of 0 selects DefaultIterations. Values below the
// default are rejected rather than silently accepted: a low iteration
// count would quietly weaken every vault derived with it.
//
// This call is CPU-bound and takes hundreds of milliseconds at the default
// count. Callers must keep it off latency-sensitive paths; the Vault runs
// it outside its lock so concurrent operations observe Deriving and fail
// fast instead of blocking.
//
// The password buffer is read but never retained or wiped here; ownership
// stays with the caller.
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt too short: need at least %d bytes, got %d", MinSaltSize, len(salt))
	}

	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < DefaultIterations {
		return nil, fmt.Errorf("iteration count %d below minimum %d", iterations, DefaultIterations)
	}

	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// GenerateSalt draws a fresh random salt from the system's secure random
// source. The salt is not secret: it is persisted unencrypted next to the
// encrypted payloads it protects, but never inside them.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
