package sealbox

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Amitgupta0001/SecureChannelX-sub000/kv"
)

type testProfile struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Tags  []string `json:"tags,omitempty"`
}

func readyStore(t *testing.T) (*SecureStore, *Vault, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	vault := newTestVault(t, store)
	if err := vault.Initialize(passphrase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	secure, err := NewSecureStore(vault, store, nil)
	if err != nil {
		t.Fatalf("NewSecureStore failed: %v", err)
	}
	return secure, vault, store
}

func TestSecureStoreRoundTrip(t *testing.T) {
	secure, _, _ := readyStore(t)

	in := testProfile{Name: "Ada", Email: "ada@example.com", Tags: []string{"admin"}}
	if err := secure.Put("profile", in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var out testProfile
	found, err := secure.Get("profile", &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("stored record not found")
	}
	if out.Name != in.Name || out.Email != in.Email || len(out.Tags) != 1 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestSecureStoreGetMissing(t *testing.T) {
	secure, _, _ := readyStore(t)

	var out testProfile
	found, err := secure.Get("never-written", &out)
	if err != nil {
		t.Fatalf("Get of missing record errored: %v", err)
	}
	if found {
		t.Fatal("missing record reported as found")
	}
}

func TestSecureStoreCiphertextOnly(t *testing.T) {
	secure, _, store := readyStore(t)

	if err := secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The engine must never see the plaintext.
	raw, err := store.Get("record/profile")
	if err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if bytes.Contains(raw, []byte("Ada")) {
		t.Fatal("plaintext leaked into the underlying store")
	}
}

func TestSecureStoreFailsClosed(t *testing.T) {
	store := kv.NewMemoryStore()
	vault := newTestVault(t, store)
	secure, err := NewSecureStore(vault, store, nil)
	if err != nil {
		t.Fatalf("NewSecureStore failed: %v", err)
	}

	// Uninitialized: no read, no write, and no record left behind.
	if err = secure.Put("profile", testProfile{Name: "Ada"}); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Put while uninitialized: got %v, want ErrVaultNotReady", err)
	}
	if _, err = store.Get("record/profile"); err != kv.ErrNotFound {
		t.Fatal("fail-closed Put still wrote to the engine")
	}
	if _, err = secure.Get("profile", &testProfile{}); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Get while uninitialized: got %v, want ErrVaultNotReady", err)
	}

	// Locked after logout: same gate.
	if err = vault.Initialize(passphrase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err = secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	vault.Lock()

	if _, err = secure.Get("profile", &testProfile{}); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Get while locked: got %v, want ErrVaultNotReady", err)
	}
	// A Get on a key that was never written must fail the same way, so a
	// locked caller cannot learn whether a record exists.
	if _, err = secure.Get("never-written", &testProfile{}); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Get of missing key while locked: got %v, want ErrVaultNotReady", err)
	}
	if err = secure.Put("profile", testProfile{Name: "Eve"}); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Put while locked: got %v, want ErrVaultNotReady", err)
	}
	if err = secure.Delete("profile"); !errors.Is(err, ErrVaultNotReady) {
		t.Fatalf("Delete while locked: got %v, want ErrVaultNotReady", err)
	}
}

func TestSecureStorePersistsAcrossRestart(t *testing.T) {
	store := kv.NewMemoryStore()

	first := newTestVault(t, store)
	if err := first.Initialize(passphrase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	secure, err := NewSecureStore(first, store, nil)
	if err != nil {
		t.Fatalf("NewSecureStore failed: %v", err)
	}
	if err = secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	first.Close()

	// New vault over the same store, same passphrase: the persisted salt
	// makes re-derivation land on the same key.
	second := newTestVault(t, store)
	if err = second.Initialize(passphrase()); err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	secure2, err := NewSecureStore(second, store, nil)
	if err != nil {
		t.Fatalf("NewSecureStore failed: %v", err)
	}

	var out testProfile
	found, err := secure2.Get("profile", &out)
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if !found || out.Name != "Ada" {
		t.Fatalf("record lost across restart: found=%v %+v", found, out)
	}
}

func TestSecureStoreCorruptRecord(t *testing.T) {
	secure, _, store := readyStore(t)

	if err := secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw, err := store.Get("record/profile")
	if err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	// Flip one byte inside the stored record.
	raw[len(raw)/2] ^= 0x01
	if err = store.Put("record/profile", raw); err != nil {
		t.Fatalf("raw write failed: %v", err)
	}

	if _, err = secure.Get("profile", &testProfile{}); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("corrupt record: got %v, want ErrDecryptionFailed", err)
	}
}

func TestSecureStoreWrongVaultKey(t *testing.T) {
	store := kv.NewMemoryStore()
	first := newTestVault(t, store)
	if err := first.Initialize(passphrase()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	secure, err := NewSecureStore(first, store, nil)
	if err != nil {
		t.Fatalf("NewSecureStore failed: %v", err)
	}
	if err = secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Swap in a different key; existing records must refuse to open.
	if err = first.Import(versionedKey(0xCD)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if _, err = secure.Get("profile", &testProfile{}); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("wrong key: got %v, want ErrDecryptionFailed", err)
	}
}

func TestSecureStoreDelete(t *testing.T) {
	secure, _, store := readyStore(t)

	if err := secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := secure.Delete("profile"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("record/profile"); err != kv.ErrNotFound {
		t.Fatal("record still present after Delete")
	}
	// Deleting a missing record is a no-op.
	if err := secure.Delete("profile"); err != nil {
		t.Fatalf("Delete of missing record errored: %v", err)
	}
}

func TestSecureStoreKeys(t *testing.T) {
	secure, _, _ := readyStore(t)

	for _, k := range []string{"profile", "settings/theme", "contacts"} {
		if err := secure.Put(k, "v"); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}
	keys, err := secure.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("Keys returned %d entries, want 3: %v", len(keys), keys)
	}
}

func TestSecureStoreClearWhileLocked(t *testing.T) {
	secure, vault, store := readyStore(t)

	if err := secure.Put("profile", testProfile{Name: "Ada"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := secure.Put("settings", "dark"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	vault.Lock()

	// Clear is the one operation permitted while locked.
	if err := secure.Clear(); err != nil {
		t.Fatalf("Clear while locked failed: %v", err)
	}

	keys, err := store.Keys("record/")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("records remain after Clear: %v", keys)
	}

	// The salt survives so the same passphrase still works.
	if _, err = store.Get("vault/salt"); err != nil {
		t.Fatalf("Clear removed the salt: %v", err)
	}
	if err = vault.Initialize(passphrase()); err != nil {
		t.Fatalf("re-Initialize after Clear failed: %v", err)
	}
}

func TestSecureStoreKeyValidation(t *testing.T) {
	secure, _, _ := readyStore(t)

	for _, bad := range []string{"", "../escape", "a//b", "/leading", "trailing/"} {
		if err := secure.Put(bad, "v"); err == nil {
			t.Fatalf("invalid key %q accepted", bad)
		}
	}
}
