package sealbox

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/Amitgupta0001/SecureChannelX-sub000/audit"
	"github.com/Amitgupta0001/SecureChannelX-sub000/internal/mem"
	"github.com/Amitgupta0001/SecureChannelX-sub000/kv"
)

// VaultState is the lifecycle state of the vault key.
type VaultState int

const (
	// StateUninitialized means no salt exists and no key has ever been
	// derived for this store.
	StateUninitialized VaultState = iota

	// StateDeriving means an Initialize call is running key derivation.
	// Storage operations fail fast with ErrVaultNotReady instead of
	// blocking behind the CPU-bound derivation.
	StateDeriving

	// StateReady means the vault key is held and all operations are
	// available.
	StateReady

	// StateLocked means a salt exists but the key has been dropped,
	// typically on logout. Re-initialization with the passphrase or
	// Restore with an exported key returns the vault to Ready.
	StateLocked
)

func (s VaultState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDeriving:
		return "deriving"
	case StateReady:
		return "ready"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// saltKey is where the key-derivation salt lives in the store. It sits
// outside the record/ prefix so Clear never touches it.
const saltKey = "vault/salt"

// Vault is the key lifecycle controller. It is the sole owner and sole
// writer of the vault key and its state; every other component reaches
// the key through the Vault's contracts. Multiple independent vaults
// can coexist in one process, each bound to its own store.
//
// All methods are safe for concurrent use.
type Vault struct {
	mu         sync.RWMutex
	state      VaultState
	key        *memguard.Enclave
	salt       []byte
	iterations int
	options    Options
	store      kv.Store
	audit      audit.Logger
	closed     bool
}

// NewVault creates a vault bound to the given store.
//
// The store is probed and inspected for an existing salt: a vault that
// was initialized before starts Locked, a fresh one starts
// Uninitialized. Either way no key material exists until Initialize or
// Restore is called.
func NewVault(options Options, store kv.Store, auditLogger audit.Logger) (*Vault, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("%w: store unreachable: %v", ErrStorageTransactionFailed, err)
	}

	iterations := options.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}

	v := &Vault{
		state:      StateUninitialized,
		iterations: iterations,
		options:    options,
		store:      store,
		audit:      auditLogger,
	}

	if options.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock memory: %w", err)
		}
		auditLogger.Log("memory_lock", true, map[string]interface{}{
			"protection": level.String(),
		})
	}

	// Wipe enclaves before the process dies on a signal.
	memguard.CatchInterrupt()

	salt, err := store.Get(saltKey)
	if err != nil && err != kv.ErrNotFound {
		return nil, fmt.Errorf("%w: reading salt: %v", ErrStorageTransactionFailed, err)
	}
	if salt != nil {
		v.salt = salt
		v.state = StateLocked
	}

	return v, nil
}

// State reports the current lifecycle state.
func (v *Vault) State() VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Salt returns a copy of the persisted key-derivation salt, or nil if
// the vault has never been initialized. The salt is not secret.
func (v *Vault) Salt() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.salt == nil {
		return nil
	}
	return append([]byte(nil), v.salt...)
}

// Initialize derives the vault key from the passphrase and transitions
// the vault to Ready.
//
// If no salt exists one is generated (or taken from
// Options.DerivationSalt) and persisted before derivation starts. The
// vault moves to Deriving for the duration of the PBKDF2 call, which
// runs outside the vault lock: concurrent storage operations observe
// Deriving and fail fast with ErrVaultNotReady rather than blocking.
//
// On failure the vault returns to its previous not-ready state and the
// caller receives ErrKeyDerivationFailed. Retrying with the same
// passphrase is safe: derivation is a pure function of its inputs.
//
// The password buffer is wiped before Initialize returns, success or
// not. If the buffer is empty and Options.EnvPassphraseVar is set, the
// passphrase is read from that environment variable, which is unset
// immediately after the read.
func (v *Vault) Initialize(password []byte) error {
	defer memguard.WipeBytes(password)

	if len(password) == 0 && v.options.EnvPassphraseVar != "" {
		env := os.Getenv(v.options.EnvPassphraseVar)
		os.Unsetenv(v.options.EnvPassphraseVar)
		password = []byte(env)
		defer memguard.WipeBytes(password)
	}
	if len(password) == 0 {
		return fmt.Errorf("%w: empty passphrase", ErrKeyDerivationFailed)
	}

	salt, prev, err := v.beginDerivation()
	if err != nil {
		return err
	}

	// CPU-bound; deliberately outside the lock.
	key, err := DeriveKey(password, salt, v.iterations)
	if err != nil {
		v.abortDerivation(prev)
		v.audit.Log("vault_initialize", false, map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	v.completeDerivation(key)
	v.audit.Log("vault_initialize", true, map[string]interface{}{
		"iterations": v.iterations,
	})
	return nil
}

// beginDerivation resolves the salt, persists it if absent, and moves
// the vault into Deriving. It returns the salt to derive with and the
// state to fall back to if derivation fails.
func (v *Vault) beginDerivation() ([]byte, VaultState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, 0, ErrVaultClosed
	}
	switch v.state {
	case StateDeriving:
		return nil, 0, fmt.Errorf("%w: derivation already in progress", ErrVaultNotReady)
	case StateReady:
		return nil, 0, fmt.Errorf("vault already initialized")
	}

	if v.salt == nil {
		salt := v.options.DerivationSalt
		if salt == nil {
			generated, err := GenerateSalt()
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
			}
			salt = generated
		}
		if err := v.store.Put(saltKey, salt); err != nil {
			return nil, 0, fmt.Errorf("%w: persisting salt: %v", ErrStorageTransactionFailed, err)
		}
		v.salt = salt
	} else if v.options.DerivationSalt != nil && !bytes.Equal(v.options.DerivationSalt, v.salt) {
		return nil, 0, fmt.Errorf("%w: configured salt does not match persisted salt", ErrKeyDerivationFailed)
	}

	prev := v.state
	v.state = StateDeriving
	return append([]byte(nil), v.salt...), prev, nil
}

func (v *Vault) abortDerivation(prev VaultState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = prev
}

func (v *Vault) completeDerivation(key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = memguard.NewEnclave(key) // wipes key
	v.state = StateReady
}

// Restore re-enters Ready from Locked or Uninitialized using key bytes
// previously obtained through Export, skipping derivation entirely. The
// input buffer is wiped before Restore returns.
func (v *Vault) Restore(exportedKey []byte) error {
	defer memguard.WipeBytes(exportedKey)

	if len(exportedKey) != KeySize {
		return fmt.Errorf("%w: restored key must be %d bytes", ErrKeyDerivationFailed, KeySize)
	}
	if isAllZero(exportedKey) {
		return fmt.Errorf("%w: restored key is zero", ErrKeyDerivationFailed)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrVaultClosed
	}
	switch v.state {
	case StateDeriving:
		return fmt.Errorf("%w: derivation in progress", ErrVaultNotReady)
	case StateReady:
		return fmt.Errorf("vault already initialized")
	}

	v.key = memguard.NewEnclave(append([]byte(nil), exportedKey...))
	v.state = StateReady
	v.audit.Log("vault_restore", true, nil)
	return nil
}

// Lock drops the held key and transitions to Locked. It must be called
// on explicit logout and is idempotent; calling it on a vault that
// holds no key is a no-op.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateReady {
		return
	}
	v.key = nil
	v.state = StateLocked
	v.audit.Log("vault_lock", true, nil)
}

// Export returns a copy of the raw vault key for backup or per-session
// handoff. Only callable from Ready.
//
// Exporting raw key material trades confidentiality for recoverability,
// so the call demands fresh authentication: the passphrase is
// re-derived and compared in constant time against the held key before
// anything is released. A key installed through Import is not
// passphrase-derived and cannot pass this check; see Import. The reason
// string is recorded in the audit trail. The caller owns the returned
// buffer and must wipe it.
func (v *Vault) Export(password []byte, reason string) ([]byte, error) {
	defer memguard.WipeBytes(password)

	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return nil, ErrVaultClosed
	}
	if v.state != StateReady {
		v.mu.RUnlock()
		v.audit.Log("vault_export", false, map[string]interface{}{
			"reason": reason,
			"error":  "vault not ready",
		})
		return nil, ErrVaultNotReady
	}
	salt := append([]byte(nil), v.salt...)
	enclave := v.key
	v.mu.RUnlock()

	// Fresh authentication, outside the lock.
	derived, err := DeriveKey(password, salt, v.iterations)
	if err != nil {
		v.audit.Log("vault_export", false, map[string]interface{}{
			"reason": reason,
			"error":  "derivation failed",
		})
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	defer memguard.WipeBytes(derived)

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open vault key: %w", err)
	}
	defer buf.Destroy()

	if subtle.ConstantTimeCompare(derived, buf.Bytes()) != 1 {
		v.audit.Log("vault_export", false, map[string]interface{}{
			"reason": reason,
			"error":  "authentication failed",
		})
		return nil, ErrDecryptionFailed
	}

	v.audit.Log("vault_export", true, map[string]interface{}{
		"reason": reason,
	})
	return append([]byte(nil), buf.Bytes()...), nil
}

// Import replaces the held vault key with externally recovered key
// bytes. Only callable from Ready; records persisted under the old key
// become undecryptable. The input buffer is wiped before Import
// returns.
//
// An imported key is not derived from the vault passphrase, so Export's
// fresh-authentication check will refuse the passphrase from then on.
// Use ExportBackup, which authenticates with its own backup passphrase,
// to export an imported vault.
func (v *Vault) Import(key []byte) error {
	defer memguard.WipeBytes(key)

	if len(key) != KeySize {
		return fmt.Errorf("%w: imported key must be %d bytes", ErrKeyDerivationFailed, KeySize)
	}
	if isAllZero(key) {
		return fmt.Errorf("%w: imported key is zero", ErrKeyDerivationFailed)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrVaultClosed
	}
	if v.state != StateReady {
		return ErrVaultNotReady
	}

	v.key = memguard.NewEnclave(append([]byte(nil), key...))
	v.audit.Log("vault_import", true, nil)
	return nil
}

// Close locks the vault and releases OS-level memory locks. The vault
// cannot be used afterwards.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.key = nil
	v.state = StateLocked
	v.closed = true

	if v.options.EnableMemoryLock {
		if err := mem.Unlock(); err != nil {
			return err
		}
	}
	return nil
}

// withKey runs fn with a transient copy of the vault key. The copy is
// wiped when fn returns. Fails with ErrVaultNotReady unless the vault
// is Ready.
func (v *Vault) withKey(fn func(key []byte) error) error {
	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return ErrVaultClosed
	}
	if v.state != StateReady || v.key == nil {
		v.mu.RUnlock()
		return ErrVaultNotReady
	}
	enclave := v.key
	v.mu.RUnlock()

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open vault key: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

func isAllZero(b []byte) bool {
	var acc byte
	for _, x := range b {
		acc |= x
	}
	return acc == 0
}
