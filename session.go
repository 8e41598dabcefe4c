package sealbox

import (
	"github.com/Amitgupta0001/SecureChannelX-sub000/audit"
	"github.com/awnumar/memguard"
)

// SessionCipher encrypts and decrypts message traffic for one conversation
// using whichever key the session key ring resolves for a given version.
//
// Encrypt and decrypt calls are independent and may run fully in parallel;
// the only shared state is the ring's read-locked key lookup. Failed
// decrypts are audit-logged for security monitoring but never retried;
// a tampered or orphaned message stays unavailable.
type SessionCipher struct {
	ring  *KeyRing
	audit audit.Logger
}

// NewSessionCipher binds a cipher to a session key ring. A nil audit logger
// selects the no-op logger.
func NewSessionCipher(ring *KeyRing, auditLogger audit.Logger) *SessionCipher {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &SessionCipher{ring: ring, audit: auditLogger}
}

// EncryptMessage seals plaintext under the ring's current (highest-version)
// session key and stamps the envelope with that version so the receiver can
// resolve the matching key after further rotations.
//
// An empty ring fails fast with ErrKeyNotReady: the caller must surface the
// not-ready state rather than queue the message silently.
func (s *SessionCipher) EncryptMessage(plaintext []byte) (*Envelope, error) {
	entry, ok := s.ring.Current()
	if !ok {
		return nil, ErrKeyNotReady
	}

	key, err := entry.Key()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	env, err := Seal(key, plaintext)
	if err != nil {
		s.audit.Log("encrypt_message", false, map[string]interface{}{
			"key_version": entry.Version,
			"error":       err.Error(),
		})
		return nil, err
	}

	version := entry.Version
	env.Version = &version
	return env, nil
}

// DecryptMessage opens a message envelope with the session key its version
// selects.
//
// A version that was never received or has already been evicted returns
// ErrKeyNotFound; the message is unavailable and that is final. A version
// that resolves but fails authentication returns the opaque
// ErrDecryptionFailed, which is audit-logged since it indicates tampering,
// corruption or a wrong key.
func (s *SessionCipher) DecryptMessage(env *Envelope) ([]byte, error) {
	if env == nil || env.Version == nil {
		s.audit.Log("decrypt_message", false, map[string]interface{}{
			"error": "envelope missing key version",
		})
		return nil, ErrDecryptionFailed
	}

	key, err := s.ring.Resolve(*env.Version)
	if err != nil {
		s.audit.Log("decrypt_message", false, map[string]interface{}{
			"key_version": *env.Version,
			"error":       "key version not resolvable",
		})
		return nil, err
	}
	defer memguard.WipeBytes(key)

	plaintext, err := Open(key, env)
	if err != nil {
		s.audit.Log("decrypt_message", false, map[string]interface{}{
			"key_version": *env.Version,
			"error":       "authentication failed",
		})
		return nil, err
	}

	return plaintext, nil
}
