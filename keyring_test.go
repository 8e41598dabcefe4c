package sealbox

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// ringEntry builds an entry whose key bytes are derived from the version,
// so tests can predict what Resolve should return.
func ringEntry(t *testing.T, version uint64) *SessionKeyEntry {
	t.Helper()
	entry, err := NewSessionKeyEntry(version, versionedKey(version))
	if err != nil {
		t.Fatalf("NewSessionKeyEntry failed: %v", err)
	}
	return entry
}

func versionedKey(version uint64) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(version)
	}
	return key
}

func TestNewSessionKeyEntryWipesInput(t *testing.T) {
	input := versionedKey(7)
	entry, err := NewSessionKeyEntry(1, input)
	if err != nil {
		t.Fatalf("NewSessionKeyEntry failed: %v", err)
	}

	if !bytes.Equal(input, make([]byte, KeySize)) {
		t.Fatal("input buffer was not wiped")
	}
	got, err := entry.Key()
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if !bytes.Equal(got, versionedKey(7)) {
		t.Fatal("enclave does not hold the original key material")
	}
}

func TestNewSessionKeyEntryRejectsBadSize(t *testing.T) {
	if _, err := NewSessionKeyEntry(1, make([]byte, 16)); err == nil {
		t.Fatal("short key accepted")
	}
}

func TestKeyRingApplyIdempotent(t *testing.T) {
	ring := NewKeyRing(DefaultRingCapacity)

	if err := ring.Apply(ringEntry(t, 1)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// Duplicate delivery of the same version is absorbed.
	if err := ring.Apply(ringEntry(t, 1)); err != nil {
		t.Fatalf("duplicate Apply errored: %v", err)
	}
	if ring.Len() != 1 {
		t.Fatalf("ring holds %d entries after duplicate apply, want 1", ring.Len())
	}

	key, err := ring.Resolve(1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !bytes.Equal(key, versionedKey(1)) {
		t.Fatal("duplicate apply replaced the original key")
	}
}

func TestKeyRingEviction(t *testing.T) {
	ring := NewKeyRing(DefaultRingCapacity)

	for v := uint64(1); v <= 6; v++ {
		if err := ring.Apply(ringEntry(t, v)); err != nil {
			t.Fatalf("Apply(%d) failed: %v", v, err)
		}
	}

	if ring.Len() != DefaultRingCapacity {
		t.Fatalf("ring holds %d entries, want %d", ring.Len(), DefaultRingCapacity)
	}
	if _, err := ring.Resolve(1); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("evicted version still resolvable: %v", err)
	}
	for v := uint64(2); v <= 6; v++ {
		key, err := ring.Resolve(v)
		if err != nil {
			t.Fatalf("Resolve(%d) failed: %v", v, err)
		}
		if !bytes.Equal(key, versionedKey(v)) {
			t.Fatalf("Resolve(%d) returned wrong key", v)
		}
	}
}

func TestKeyRingStaleReplayAfterEviction(t *testing.T) {
	ring := NewKeyRing(2)

	for v := uint64(1); v <= 3; v++ {
		if err := ring.Apply(ringEntry(t, v)); err != nil {
			t.Fatalf("Apply(%d) failed: %v", v, err)
		}
	}
	// Version 1 has been evicted; a replayed rotation event for it must
	// be ignored, not reinserted.
	if err := ring.Apply(ringEntry(t, 1)); err != nil {
		t.Fatalf("stale Apply errored: %v", err)
	}
	if _, err := ring.Resolve(1); !errors.Is(err, ErrKeyNotFound) {
		t.Fatal("evicted version was reinserted by a replay")
	}
	if got := ring.Versions(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected versions after replay: %v", got)
	}
}

func TestKeyRingOutOfOrderApply(t *testing.T) {
	ring := NewKeyRing(DefaultRingCapacity)

	for _, v := range []uint64{3, 1, 2} {
		if err := ring.Apply(ringEntry(t, v)); err != nil {
			t.Fatalf("Apply(%d) failed: %v", v, err)
		}
	}

	if got := ring.Versions(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("entries not in version order: %v", got)
	}
	current, ok := ring.Current()
	if !ok || current.Version != 3 {
		t.Fatalf("Current is not the highest version: %+v", current)
	}
}

func TestKeyRingCurrentEmpty(t *testing.T) {
	ring := NewKeyRing(DefaultRingCapacity)
	if _, ok := ring.Current(); ok {
		t.Fatal("empty ring reported a current entry")
	}
	if _, ok := ring.HighestVersion(); ok {
		t.Fatal("empty ring reported a highest version")
	}
}

func TestKeyRingConcurrentUse(t *testing.T) {
	ring := NewKeyRing(DefaultRingCapacity)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 50; i++ {
				v := base*50 + i + 1
				entry, err := NewSessionKeyEntry(v, versionedKey(v))
				if err != nil {
					panic(fmt.Sprintf("entry(%d): %v", v, err))
				}
				if err := ring.Apply(entry); err != nil {
					panic(fmt.Sprintf("Apply(%d): %v", v, err))
				}
				ring.Resolve(v)
				ring.Current()
			}
		}(uint64(w))
	}
	wg.Wait()

	if ring.Len() != DefaultRingCapacity {
		t.Fatalf("ring holds %d entries after concurrent load, want %d", ring.Len(), DefaultRingCapacity)
	}
	versions := ring.Versions()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions not strictly ascending: %v", versions)
		}
	}
}
