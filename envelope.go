package sealbox

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Envelope sizes. The cipher is ChaCha20-Poly1305 (RFC 8439): 96-bit nonce,
// 128-bit authentication tag appended to the ciphertext.
const (
	NonceSize   = 12
	TagOverhead = 16
)

// Envelope flag bits for the binary wire format.
const (
	flagHasVersion byte = 1 << 0
)

// Envelope is the unit produced by one encryption call: a fresh random nonce
// and the ciphertext (authentication tag included). Message envelopes carry
// the session key version that sealed them so the receiver can resolve the
// matching ring entry; vault envelopes carry no version because they are
// always bound to the current vault key.
//
// WIRE FORMAT (before any base64 encoding):
//
//	[1 byte:  flags]
//	[8 bytes: key version, big-endian, present only when flags&0x01]
//	[12 bytes: nonce]
//	[N bytes: ciphertext + 16-byte authentication tag]
//
// The envelope is handed to the transport verbatim; this subsystem does not
// frame or route messages.
type Envelope struct {
	// Version selects the session key ring entry that sealed this envelope.
	// Nil for vault envelopes.
	Version *uint64

	// Nonce is the 96-bit random nonce drawn for this single encryption
	// call. Never reused under the same key.
	Nonce [NonceSize]byte

	// Ciphertext holds the encrypted payload with the Poly1305 tag
	// appended.
	Ciphertext []byte
}

// Marshal encodes the envelope into its binary wire format.
func (e *Envelope) Marshal() []byte {
	size := 1 + NonceSize + len(e.Ciphertext)
	if e.Version != nil {
		size += 8
	}

	out := make([]byte, 0, size)

	var flags byte
	if e.Version != nil {
		flags |= flagHasVersion
	}
	out = append(out, flags)

	if e.Version != nil {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], *e.Version)
		out = append(out, v[:]...)
	}

	out = append(out, e.Nonce[:]...)
	out = append(out, e.Ciphertext...)
	return out
}

// ParseEnvelope decodes an envelope from its binary wire format.
//
// Any malformed input fails with the opaque ErrDecryptionFailed: the parse
// step is part of the decryption surface, and callers must not be able to
// distinguish a framing failure from an authentication failure.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) < 1 {
		return nil, ErrDecryptionFailed
	}

	flags := data[0]
	if flags&^flagHasVersion != 0 {
		return nil, ErrDecryptionFailed
	}
	rest := data[1:]

	var env Envelope

	if flags&flagHasVersion != 0 {
		if len(rest) < 8 {
			return nil, ErrDecryptionFailed
		}
		version := binary.BigEndian.Uint64(rest[:8])
		env.Version = &version
		rest = rest[8:]
	}

	// Nonce plus at least the authentication tag must be present.
	if len(rest) < NonceSize+TagOverhead {
		return nil, ErrDecryptionFailed
	}

	copy(env.Nonce[:], rest[:NonceSize])
	env.Ciphertext = make([]byte, len(rest)-NonceSize)
	copy(env.Ciphertext, rest[NonceSize:])

	return &env, nil
}

// EncodeToString returns the base64 form of the binary envelope for safe
// text transmission and storage.
func (e *Envelope) EncodeToString() string {
	return base64.StdEncoding.EncodeToString(e.Marshal())
}

// DecodeEnvelopeString parses a base64-encoded envelope produced by
// EncodeToString.
func DecodeEnvelopeString(s string) (*Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return ParseEnvelope(data)
}

// MarshalJSON encodes the envelope as a base64 JSON string of its binary
// form, keeping storage records compact and format-stable.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.EncodeToString())
}

// UnmarshalJSON decodes the base64 JSON string form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("envelope must be a base64 string: %w", err)
	}
	parsed, err := DecodeEnvelopeString(s)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}
