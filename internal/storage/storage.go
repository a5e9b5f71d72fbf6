// Package storage implements the narrow key/value contract the core
// depends on (§3 "Storage contract"): get/set/delete by string key, plus
// an atomic compare-and-set for the pending record. It ships two
// backends: an in-memory map for tests and single-process deployments,
// and a file-backed one for single-host persistence across restarts.
// Embedding applications may supply their own backend (Redis, a
// database) against the same interface.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when key has no value, or has expired.
var ErrNotFound = errors.New("storage: key not found")

// ErrCASMismatch is returned by CompareAndSwap when the stored value
// doesn't match the expected one.
var ErrCASMismatch = errors.New("storage: compare-and-swap mismatch")

// Store is the key/value contract every layer of the core depends on.
// Keys follow the "client:"/"token:"/"pending:"/"state:" schema (§3);
// values are opaque byte slices (JSON-encoded by the caller). An
// implementation must be safe for concurrent use and linearizable per
// key, but needs no cross-key transactions.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value for key. If ttl > 0, the entry expires after ttl
	// and subsequent Gets return ErrNotFound.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap atomically replaces the value at key with newValue
	// only if the current value equals oldValue (nil oldValue means
	// "key must not currently exist"). Used by the pending-record flow
	// to guarantee single-use state tokens under concurrent callbacks.
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) error
}
