package sealbox

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Amitgupta0001/SecureChannelX-sub000/audit"
	"github.com/Amitgupta0001/SecureChannelX-sub000/kv"
)

// recordPrefix namespaces encrypted records in the store, keeping them
// apart from vault metadata like the salt.
const recordPrefix = "record/"

var recordKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+(/[a-zA-Z0-9\-_.]+)*$`)

// StorageRecord is the persisted form of one secure storage entry. Only
// the envelope is opaque; the key and timestamp are visible to anyone
// holding the underlying store.
type StorageRecord struct {
	Key       string    `json:"key"`
	Envelope  *Envelope `json:"envelope"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SecureStore is the envelope-encrypting facade over an external
// key-value engine. Values are JSON-serialized, sealed under the vault
// key and written as StorageRecords; the engine only ever sees
// ciphertext.
//
// Every read and write fails closed with ErrVaultNotReady while the
// vault key is unavailable. There is no plaintext fallback: a record is
// either written encrypted or not written at all.
type SecureStore struct {
	vault *Vault
	store kv.Store
	audit audit.Logger
}

// NewSecureStore binds secure storage to a vault and its key-value
// engine. A nil audit logger selects the no-op logger.
func NewSecureStore(vault *Vault, store kv.Store, auditLogger audit.Logger) (*SecureStore, error) {
	if vault == nil {
		return nil, fmt.Errorf("vault cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &SecureStore{vault: vault, store: store, audit: auditLogger}, nil
}

func validateRecordKey(key string) error {
	if key == "" {
		return fmt.Errorf("record key cannot be empty")
	}
	if !recordKeyPattern.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid record key %q", key)
	}
	return nil
}

// Put serializes value as JSON, seals it under the vault key and writes
// it to the engine. An existing record under the same key is replaced.
//
// The vault key is checked before anything touches the engine: a Put
// while the vault is not Ready returns ErrVaultNotReady and leaves no
// record behind.
func (s *SecureStore) Put(key string, value interface{}) error {
	if err := validateRecordKey(key); err != nil {
		return err
	}

	plaintext, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}

	return s.vault.withKey(func(vaultKey []byte) error {
		env, err := Seal(vaultKey, plaintext)
		if err != nil {
			return err
		}

		record := StorageRecord{
			Key:       key,
			Envelope:  env,
			UpdatedAt: time.Now().UTC(),
		}
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to serialize record: %w", err)
		}

		if err = s.store.Put(recordPrefix+key, raw); err != nil {
			s.audit.Log("storage_put", false, map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
		}
		return nil
	})
}

// Get reads the record for key, opens its envelope with the vault key
// and unmarshals the plaintext into out. It reports whether a record
// existed; a missing record is (false, nil), not an error.
//
// The vault key is checked before the engine is read: while the vault
// is not Ready, Get returns ErrVaultNotReady without revealing whether
// a record exists. A record that fails authentication returns
// ErrDecryptionFailed: the data was tampered with, corrupted, or
// written under a different vault key. The failure is audit-logged and
// never retried.
func (s *SecureStore) Get(key string, out interface{}) (bool, error) {
	if err := validateRecordKey(key); err != nil {
		return false, err
	}

	found := false
	err := s.vault.withKey(func(vaultKey []byte) error {
		raw, err := s.store.Get(recordPrefix + key)
		if err == kv.ErrNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
		}

		var record StorageRecord
		if err = json.Unmarshal(raw, &record); err != nil {
			s.audit.Log("storage_get", false, map[string]interface{}{
				"key":   key,
				"error": "malformed record",
			})
			return ErrDecryptionFailed
		}
		if record.Envelope == nil {
			return ErrDecryptionFailed
		}

		plaintext, err := Open(vaultKey, record.Envelope)
		if err != nil {
			s.audit.Log("storage_get", false, map[string]interface{}{
				"key":   key,
				"error": "authentication failed",
			})
			return err
		}
		if err = json.Unmarshal(plaintext, out); err != nil {
			return fmt.Errorf("failed to deserialize value: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Delete removes the record for key. Deleting a missing record is a
// no-op. Like Put and Get it requires a Ready vault; removal is a
// storage mutation and stays behind the same gate.
func (s *SecureStore) Delete(key string) error {
	if err := validateRecordKey(key); err != nil {
		return err
	}
	return s.vault.withKey(func([]byte) error {
		if err := s.store.Delete(recordPrefix + key); err != nil && err != kv.ErrNotFound {
			return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
		}
		return nil
	})
}

// Keys lists the record keys currently stored, without decrypting
// anything. Requires a Ready vault.
func (s *SecureStore) Keys() ([]string, error) {
	var keys []string
	err := s.vault.withKey(func([]byte) error {
		stored, err := s.store.Keys(recordPrefix)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
		}
		for _, k := range stored {
			keys = append(keys, strings.TrimPrefix(k, recordPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Clear deletes every record. It is the one operation permitted while
// the vault is Locked, supporting a complete logout wipe, and needs no
// key since it only removes ciphertext. The salt is untouched so the
// vault can be re-initialized with the same passphrase afterwards.
func (s *SecureStore) Clear() error {
	state := s.vault.State()
	if state != StateReady && state != StateLocked {
		return ErrVaultNotReady
	}

	keys, err := s.store.Keys(recordPrefix)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
	}
	for _, k := range keys {
		if err = s.store.Delete(k); err != nil && err != kv.ErrNotFound {
			return fmt.Errorf("%w: %v", ErrStorageTransactionFailed, err)
		}
	}

	s.audit.Log("storage_clear", true, map[string]interface{}{
		"records": len(keys),
	})
	return nil
}
