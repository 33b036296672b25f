// Package blobstore holds binary payloads (photos attached to reports, avatar
// images, map tiles) for the blob cache. It has higher capacity than the kv
// stores that hold cache records and the queue; the blob cache keeps its index
// in kv and only payload bytes here.
package blobstore

import (
	"context"

	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/kv"
)

// Store is keyed by source URL. Must be safe for concurrent use and
// byte-for-byte transparent.
type Store interface {
	// Get returns (payload, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, payload []byte) error
	// Del removes a payload. Deleting a missing URL is not an error.
	Del(ctx context.Context, url string) error
	Close(ctx context.Context) error
}

// Purger is implemented by stores that can drop every payload they hold. The
// blob cache purges when its index is lost, since nothing references the
// payloads afterwards.
type Purger interface {
	Purge(ctx context.Context) error
}

// FromKV stores payloads in any kv.Store under "fieldsync:blob:<sha256(url)>".
// Handy with redis or sqlite when no writable directory is available.
func FromKV(s kv.Store) Store { return kvStore{s: s} }

type kvStore struct{ s kv.Store }

func (k kvStore) key(url string) string { return "fieldsync:blob:" + keys.Digest(url) }

func (k kvStore) Get(ctx context.Context, url string) ([]byte, bool, error) {
	return k.s.Get(ctx, k.key(url))
}

func (k kvStore) Set(ctx context.Context, url string, payload []byte) error {
	return k.s.Set(ctx, k.key(url), payload)
}

func (k kvStore) Del(ctx context.Context, url string) error {
	return k.s.Del(ctx, k.key(url))
}

func (k kvStore) Close(ctx context.Context) error { return k.s.Close(ctx) }
