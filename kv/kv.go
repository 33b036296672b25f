// Package kv defines the key/value persistence used by the cache namespaces
// and the operation queue.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key. The "fieldsync:" key prefix is owned
// by fieldsync; foreign values under it fail frame validation and are treated as
// corrupt.
//
// Durability varies by implementation. bigcache and ristretto are in-process
// and lose everything on restart (fine for caches, wrong for the queue); sqlite,
// redis and datastore-backed stores survive restarts.
package kv

import (
	"context"
	"errors"
)

// ErrRejected is returned by Set when a store refused a write under pressure.
var ErrRejected = errors.New("kv: write rejected")

// Store is a minimal byte store. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
