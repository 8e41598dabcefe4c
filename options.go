package sealbox

import (
	"fmt"
)

// Options configures vault initialization and operation.
//
// The security-critical fields carry `json:"-"` so a serialized Options can
// never leak salt material into configuration files, logs or crash dumps.
// The passphrase itself is never part of Options: it is supplied exactly
// once to Initialize and scrubbed after the derivation call, or delivered
// through the environment variable named by EnvPassphraseVar.
type Options struct {
	// DerivationSalt optionally supplies the key-derivation salt, for
	// recreating a vault on a new device from credentials established
	// elsewhere. When the store already holds a salt the provided one must
	// match it; when the store is empty the provided salt is persisted.
	// Nil lets the vault generate and persist a fresh random salt on first
	// initialization.
	//
	// The salt is not secret, but it is never serialized through Options:
	// it travels only through the persistence layer, stored next to any
	// encrypted payload but never inside one.
	DerivationSalt []byte `json:"-"`

	// EnvPassphraseVar names an environment variable holding the
	// passphrase, for deployments where passing the passphrase through
	// call arguments is impractical. The variable is read once during
	// Initialize and unset immediately, so the passphrase does not linger
	// in the process environment.
	EnvPassphraseVar string `json:"env_passphrase_var,omitempty"`

	// Iterations overrides the PBKDF2 iteration count. Zero selects
	// DefaultIterations; values below the default are rejected. The
	// default must be used for vaults that need to interoperate with
	// data persisted at the default count.
	Iterations int `json:"iterations,omitempty"`

	// EnableMemoryLock requests best-effort locking of process memory
	// (mlockall on unixes) so key material cannot be paged to swap. The
	// vault stays functional when the platform refuses; memguard enclaves
	// still protect the keys themselves.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// Validate checks the option set for obvious misconfiguration.
func (o Options) Validate() error {
	if o.Iterations != 0 && o.Iterations < DefaultIterations {
		return fmt.Errorf("iteration count %d below minimum %d", o.Iterations, DefaultIterations)
	}
	if o.DerivationSalt != nil && len(o.DerivationSalt) < MinSaltSize {
		return fmt.Errorf("derivation salt too short: need at least %d bytes", MinSaltSize)
	}
	return nil
}
