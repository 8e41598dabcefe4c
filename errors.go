package sealbox

import "errors"

// Error taxonomy for the session and storage subsystem.
//
// Every operation returns one of these sentinels (possibly wrapped with
// additional context via fmt.Errorf and %w) so that callers can branch with
// errors.Is. Cryptographic failures are never downgraded to a best-effort
// success and are never retried internally.
var (
	// ErrKeyDerivationFailed indicates that deriving the vault key from the
	// passphrase failed. The failed Initialize attempt leaves no partial
	// state; derivation is a pure function of its inputs, so retrying with
	// the same inputs is safe.
	ErrKeyDerivationFailed = errors.New("sealbox: key derivation failed")

	// ErrKeyNotReady indicates an encrypt was attempted before any session
	// key has been received. Callers must surface this instead of queuing
	// the message silently.
	ErrKeyNotReady = errors.New("sealbox: no session key available")

	// ErrKeyNotFound indicates a decrypt referenced a session key version
	// that was never received or has been evicted from the ring. The
	// affected message is unrecoverable; the error is not transient.
	ErrKeyNotFound = errors.New("sealbox: session key version not found")

	// ErrDecryptionFailed is the single opaque error for every decryption
	// failure: authentication tag mismatch, truncated input, malformed
	// envelope or a wrong key. Callers must not be able to distinguish the
	// cause, which would otherwise open an oracle.
	ErrDecryptionFailed = errors.New("sealbox: decryption failed")

	// ErrVaultNotReady indicates a storage operation was attempted while the
	// vault key is unavailable (uninitialized, deriving or locked). There is
	// no plaintext fallback path.
	ErrVaultNotReady = errors.New("sealbox: vault not ready")

	// ErrStorageTransactionFailed wraps I/O errors from the underlying
	// key-value engine. The caller may retry with backoff; this subsystem
	// does not retry internally.
	ErrStorageTransactionFailed = errors.New("sealbox: storage transaction failed")

	// ErrVaultClosed indicates the vault has been closed and can no longer
	// be used.
	ErrVaultClosed = errors.New("sealbox: vault is closed")
)
