// Package kv defines the boundary to the embedded key-value engine that
// persists the subsystem's encrypted records.
//
// Everything written through this interface is already encrypted by the
// vault layer (the only exception is the key-derivation salt, which is not
// secret). The engine is treated as unordered, crash-consistent storage of
// opaque byte blobs; durability is its problem, not this subsystem's.
package kv

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("kv: key not found")

// Store is the contract every key-value backend implements.
//
// Keys are slash-separated paths (for example "record/profile" or
// "vault/salt"); values are opaque byte blobs. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, overwriting any previous value. The
	// write must be atomic: a crash mid-write leaves either the old or the
	// new value, never a torn blob.
	Put(key string, value []byte) error

	// Delete removes the value under key. Deleting a missing key is not an
	// error.
	Delete(key string) error

	// Keys lists the keys beginning with prefix, in unspecified order.
	Keys(prefix string) ([]string, error)

	// Ping tests availability, mainly for remote backends.
	Ping() error

	// Close releases any resources the store holds.
	Close() error

	// GetType identifies the backend ("memory", "filesystem", "s3").
	GetType() string
}

// StoreType selects a backend in Config-driven construction.
type StoreType string

const (
	StoreTypeMemory     StoreType = "memory"
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
)

// Config carries backend selection plus backend-specific settings.
type Config struct {
	Type   StoreType              `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// NewStore constructs a backend from configuration.
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFileSystem:
		return NewFileSystemStoreFromConfig(config)
	case StoreTypeS3:
		return NewS3StoreFromConfig(config)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
