package sealbox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	backupFormatVersion   = 1
	backupEncryptionLabel = "chacha20poly1305-argon2id"
	backupKDFLabel        = "sealbox/backup/v1"

	backupArgonTime    = 3
	backupArgonMemory  = 64 * 1024
	backupArgonThreads = 4
)

// BackupContainer is the portable encrypted form of a vault's key
// material. It carries everything needed to recover the vault on
// another device except the backup passphrase.
type BackupContainer struct {
	BackupID         string    `json:"backup_id"`
	CreatedAt        time.Time `json:"created_at"`
	FormatVersion    int       `json:"format_version"`
	EncryptionMethod string    `json:"encryption_method"`
	KDFSalt          string    `json:"kdf_salt"`        // base64, for the backup passphrase
	Checksum         string    `json:"checksum"`        // hex SHA-256 of the decoded payload bytes
	EncryptedData    string    `json:"encrypted_data"`  // base64 envelope
}

// backupPayload is what gets sealed inside the container.
type backupPayload struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	Key        []byte `json:"key"`
}

// deriveBackupKey stretches the backup passphrase with Argon2id and
// binds the result to the backup format through an HKDF expansion.
func deriveBackupKey(passphrase, salt []byte) ([]byte, error) {
	stretched := argon2.IDKey(passphrase, salt, backupArgonTime, backupArgonMemory, backupArgonThreads, KeySize)
	defer memguard.WipeBytes(stretched)

	key := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, stretched, nil, []byte(backupKDFLabel))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to expand backup key: %w", err)
	}
	return key, nil
}

// ExportBackup seals the vault's salt, iteration count and key into a
// portable container encrypted under an independent backup passphrase.
// Only callable from Ready.
//
// The backup passphrase is deliberately separate from the vault
// passphrase so a backup can outlive a passphrase change. Anyone
// holding the container and its passphrase can reconstruct the vault
// key; callers must surface that trade-off before offering the feature.
func (v *Vault) ExportBackup(passphrase []byte) (*BackupContainer, error) {
	defer memguard.WipeBytes(passphrase)

	if len(passphrase) == 0 {
		return nil, fmt.Errorf("backup passphrase cannot be empty")
	}

	var container *BackupContainer
	err := v.withKey(func(vaultKey []byte) error {
		payload := backupPayload{
			Salt:       v.Salt(),
			Iterations: v.iterations,
			Key:        append([]byte(nil), vaultKey...),
		}
		plaintext, err := json.Marshal(payload)
		memguard.WipeBytes(payload.Key)
		if err != nil {
			return fmt.Errorf("failed to serialize backup payload: %w", err)
		}
		defer memguard.WipeBytes(plaintext)

		kdfSalt, err := GenerateSalt()
		if err != nil {
			return err
		}
		wrapKey, err := deriveBackupKey(passphrase, kdfSalt)
		if err != nil {
			return err
		}
		defer memguard.WipeBytes(wrapKey)

		checksum := sha256.Sum256(plaintext)
		env, err := Seal(wrapKey, plaintext)
		if err != nil {
			return err
		}

		container = &BackupContainer{
			BackupID:         uuid.NewString(),
			CreatedAt:        time.Now().UTC(),
			FormatVersion:    backupFormatVersion,
			EncryptionMethod: backupEncryptionLabel,
			KDFSalt:          base64.StdEncoding.EncodeToString(kdfSalt),
			Checksum:         hex.EncodeToString(checksum[:]),
			EncryptedData:    env.EncodeToString(),
		}
		return nil
	})
	if err != nil {
		v.audit.Log("backup_export", false, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	v.audit.Log("backup_export", true, map[string]interface{}{
		"backup_id": container.BackupID,
	})
	return container, nil
}

// ImportBackup recovers a vault from a backup container, persisting the
// contained salt and entering Ready with the contained key. Callable
// from Uninitialized or Locked; an already-Ready vault refuses rather
// than silently replacing its key.
//
// A wrong passphrase and a tampered container are indistinguishable:
// both surface as ErrDecryptionFailed.
func (v *Vault) ImportBackup(container *BackupContainer, passphrase []byte) error {
	defer memguard.WipeBytes(passphrase)

	if container == nil {
		return fmt.Errorf("backup container cannot be nil")
	}
	if container.FormatVersion != backupFormatVersion {
		return fmt.Errorf("unsupported backup format version %d", container.FormatVersion)
	}
	if len(passphrase) == 0 {
		return fmt.Errorf("backup passphrase cannot be empty")
	}

	kdfSalt, err := base64.StdEncoding.DecodeString(container.KDFSalt)
	if err != nil {
		return ErrDecryptionFailed
	}
	env, err := DecodeEnvelopeString(container.EncryptedData)
	if err != nil {
		return ErrDecryptionFailed
	}

	wrapKey, err := deriveBackupKey(passphrase, kdfSalt)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(wrapKey)

	plaintext, err := Open(wrapKey, env)
	if err != nil {
		v.audit.Log("backup_import", false, map[string]interface{}{
			"backup_id": container.BackupID,
			"error":     "authentication failed",
		})
		return err
	}
	defer memguard.WipeBytes(plaintext)

	checksum := sha256.Sum256(plaintext)
	if hex.EncodeToString(checksum[:]) != container.Checksum {
		v.audit.Log("backup_import", false, map[string]interface{}{
			"backup_id": container.BackupID,
			"error":     "checksum mismatch",
		})
		return ErrDecryptionFailed
	}

	var payload backupPayload
	if err = json.Unmarshal(plaintext, &payload); err != nil {
		return ErrDecryptionFailed
	}
	defer memguard.WipeBytes(payload.Key)

	if len(payload.Key) != KeySize || len(payload.Salt) < MinSaltSize {
		return ErrDecryptionFailed
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

	if v.salt != nil {
		// Recovering over an existing store: the backup's salt must be
		// the one the store's records were derived under.
		if hex.EncodeToString(v.salt) != hex.EncodeToString(payload.Salt) {
			return fmt.Errorf("%w: backup salt does not match persisted salt", ErrKeyDerivationFailed)
		}
	} else {
		if err = v.store.Put(saltKey, payload.Salt); err != nil {
			return fmt.Errorf("%w: persisting salt: %v", ErrStorageTransactionFailed, err)
		}
		v.salt = append([]byte(nil), payload.Salt...)
	}

	v.iterations = payload.Iterations
	v.key = memguard.NewEnclave(append([]byte(nil), payload.Key...))
	v.state = StateReady

	v.audit.Log("backup_import", true, map[string]interface{}{
		"backup_id": container.BackupID,
	})
	return nil
}
