package sealbox

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Event names delivered by the realtime transport. The transport adapter
// decodes the wire payload (base64 or equivalent) before handing the raw
// key material to this package.
const (
	// EventSessionKey announces the first session key of a conversation.
	EventSessionKey = "session_key"

	// EventSessionKeyRotated announces a replacement session key.
	EventSessionKeyRotated = "session_key_rotated"
)

// KeyEvent is one key-management event from the realtime transport.
type KeyEvent struct {
	// Event is one of EventSessionKey or EventSessionKeyRotated.
	Event string

	// Key is the already-decoded 32-byte key material. ApplyEvent wipes
	// this buffer after copying it into protected memory.
	Key []byte

	// Version is the transport-assigned key version, when the transport
	// supplies one. Nil lets the ring assign the next local version.
	Version *uint64
}

// ApplyEvent consumes a transport key event and applies it to the ring,
// returning the version the key was registered under.
//
// Version convention: a transport-assigned version always wins when
// present, so clients sharing history across devices agree on numbering
// whenever the transport provides it. When the transport sends only raw key
// material, the common case for this protocol, the ring assigns the next
// local version: 1 for the first key of a conversation, highest-seen+1 for
// every rotation. Replayed or stale events collapse into Apply's idempotent
// no-op, so redelivery across reconnects is harmless.
//
// The event's key buffer is wiped before returning, success or failure.
func (r *KeyRing) ApplyEvent(ev KeyEvent) (uint64, error) {
	if len(ev.Key) != KeySize {
		memguard.WipeBytes(ev.Key)
		return 0, fmt.Errorf("invalid key material in %q event: expected %d bytes, got %d", ev.Event, KeySize, len(ev.Key))
	}

	switch ev.Event {
	case EventSessionKey, EventSessionKeyRotated:
	default:
		memguard.WipeBytes(ev.Key)
		return 0, fmt.Errorf("unknown key event %q", ev.Event)
	}

	// Version assignment and ring insertion share one lock acquisition:
	// a concurrent burst of rotation events must hand out distinct
	// versions, never compute the same highest+1 twice.
	r.mu.Lock()
	defer r.mu.Unlock()

	version := r.nextVersionLocked(ev.Version)

	// NewSessionKeyEntry wipes ev.Key after copying it into the enclave.
	entry, err := NewSessionKeyEntry(version, ev.Key)
	if err != nil {
		return 0, err
	}

	if err := r.applyLocked(entry); err != nil {
		return 0, err
	}
	return version, nil
}

// nextVersionLocked picks the version for an incoming key: the transport's
// when assigned, otherwise a local increment over everything seen so far
// (including evicted versions, so reconnect bursts cannot reuse a number).
// The caller holds r.mu.
func (r *KeyRing) nextVersionLocked(assigned *uint64) uint64 {
	if assigned != nil {
		return *assigned
	}

	highest := uint64(0)
	if len(r.entries) > 0 {
		highest = r.entries[len(r.entries)-1].Version
	}
	if r.hasEvicted && r.evictedHigh > highest {
		highest = r.evictedHigh
	}
	return highest + 1
}
