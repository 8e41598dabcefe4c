package sealbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// DefaultRingCapacity is the number of historical session keys retained
// when the caller does not configure a capacity.
const DefaultRingCapacity = 5

// SessionKeyEntry is one versioned session key. Entries are immutable once
// created: the key material lives in a memguard enclave and is only ever
// read out as short-lived copies.
type SessionKeyEntry struct {
	// Version orders this entry within the ring. A given version is bound
	// to exactly one key for the lifetime of the conversation.
	Version uint64

	// CreatedAt records when this entry was applied locally.
	CreatedAt time.Time

	key *memguard.Enclave
}

// NewSessionKeyEntry builds an entry from raw key material.
//
// The key bytes are copied into protected memory and the caller's buffer is
// wiped before returning; after this call the enclave holds the only copy.
func NewSessionKeyEntry(version uint64, key []byte) (*SessionKeyEntry, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid session key size: expected %d bytes, got %d", KeySize, len(key))
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)
	enclave := memguard.NewEnclave(keyCopy)
	memguard.WipeBytes(keyCopy)
	memguard.WipeBytes(key)

	return &SessionKeyEntry{
		Version:   version,
		CreatedAt: time.Now().UTC(),
		key:       enclave,
	}, nil
}

// Key returns a fresh copy of the entry's key material. The caller owns the
// copy and must wipe it after use.
func (e *SessionKeyEntry) Key() ([]byte, error) {
	buf, err := e.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access session key: %w", err)
	}
	defer buf.Destroy()

	out := make([]byte, KeySize)
	copy(out, buf.Bytes())
	return out, nil
}

// KeyRing is the bounded, versioned history of session keys for one
// conversation. It retains the most recent N keys so that messages sealed
// shortly before a rotation remain decryptable, and evicts the oldest entry
// once capacity is exceeded.
//
// The ring is the sole writer of its contents. Apply calls are serialized
// with respect to each other; Resolve and Current are snapshot reads that
// hand out copies, so an eviction racing a decrypt cannot tear the key the
// decrypt already read.
type KeyRing struct {
	mu       sync.RWMutex
	entries  []*SessionKeyEntry // ascending by version
	capacity int

	// evictedHigh is the highest version ever evicted. Replays of evicted
	// versions are silently ignored rather than reinserted.
	evictedHigh uint64
	hasEvicted  bool
}

// NewKeyRing creates a ring with the given capacity. A capacity of zero or
// less selects DefaultRingCapacity.
func NewKeyRing(capacity int) *KeyRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &KeyRing{capacity: capacity}
}

// Apply inserts a session key entry, idempotently.
//
// Rules, in order:
//   - a version already present in the ring is a no-op (duplicate delivery)
//   - a version at or below the highest version already evicted is a no-op
//     (stale or replayed rotation event; ignored, not an error)
//   - otherwise the entry is inserted in version order, and if the ring now
//     exceeds its capacity the lowest-version entry is evicted
//
// The realtime transport may deliver rotation events out of order or more
// than once; Apply absorbs both without corrupting the version history.
func (r *KeyRing) Apply(entry *SessionKeyEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(entry)
}

// applyLocked carries Apply's insert rules; the caller holds r.mu so
// that version assignment and insertion can share one critical section.
func (r *KeyRing) applyLocked(entry *SessionKeyEntry) error {
	if entry == nil || entry.key == nil {
		return errors.New("nil session key entry")
	}

	if r.hasEvicted && entry.Version <= r.evictedHigh {
		return nil
	}
	for _, e := range r.entries {
		if e.Version == entry.Version {
			return nil
		}
	}

	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Version > entry.Version
	})
	r.entries = append(r.entries, nil)
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = entry

	for len(r.entries) > r.capacity {
		evicted := r.entries[0]
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = nil
		r.entries = r.entries[:len(r.entries)-1]

		if !r.hasEvicted || evicted.Version > r.evictedHigh {
			r.evictedHigh = evicted.Version
			r.hasEvicted = true
		}
	}

	return nil
}

// Current returns the highest-version entry, or false if the ring is empty.
// An empty ring means the conversation is not yet ready to encrypt.
func (r *KeyRing) Current() (*SessionKeyEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, false
	}
	return r.entries[len(r.entries)-1], true
}

// Resolve looks up key material by exact version and returns a copy of it.
//
// ErrKeyNotFound means the version was either never received or has been
// evicted; the distinction is not observable and the affected message is
// unrecoverable either way. The returned copy belongs to the caller: a
// decrypt in flight keeps the bytes it resolved even if the entry is
// evicted a moment later.
func (r *KeyRing) Resolve(version uint64) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Version == version {
			return e.Key()
		}
	}
	return nil, ErrKeyNotFound
}

// HighestVersion returns the newest version in the ring, or false when the
// ring is empty.
func (r *KeyRing) HighestVersion() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return 0, false
	}
	return r.entries[len(r.entries)-1].Version, true
}

// Len reports the number of entries currently held.
func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Versions returns the versions currently resolvable, in ascending order.
func (r *KeyRing) Versions() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint64, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Version
	}
	return out
}
