package fieldsync

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/fieldsync/codec"
)

// Namespace is a typed view over one cache namespace.
// V is the caller's value type; serialization is handled by a pluggable Codec[V].
type Namespace[V any] struct {
	cache *Cache
	name  string
	codec codec.Codec[V]
}

// NewNamespace binds name to a codec. A nil codec selects codec.JSON[V].
func NewNamespace[V any](c *Cache, name string, cd codec.Codec[V]) *Namespace[V] {
	if cd == nil {
		cd = codec.JSON[V]{}
	}
	return &Namespace[V]{cache: c, name: name, codec: cd}
}

func (n *Namespace[V]) Name() string { return n.name }

// Get decodes the cached value. A value that no longer decodes is purged and
// reported as a miss.
func (n *Namespace[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, ok := n.cache.Get(ctx, n.name, key)
	if !ok {
		return zero, false
	}
	v, err := n.codec.Decode(raw)
	if err != nil {
		n.cache.Invalidate(ctx, n.name, key)
		n.cache.hooks.CacheSelfHeal(n.name, key, "corrupt")
		return zero, false
	}
	return v, true
}

// Put encodes v and stores it with the namespace TTL. Only encode failures
// are returned.
func (n *Namespace[V]) Put(ctx context.Context, key string, v V) error {
	return n.PutTTL(ctx, key, v, 0)
}

func (n *Namespace[V]) PutTTL(ctx context.Context, key string, v V, ttl time.Duration) error {
	b, err := n.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("fieldsync: encode %s/%s: %w", n.name, key, err)
	}
	n.cache.PutTTL(ctx, n.name, key, b, ttl)
	return nil
}

func (n *Namespace[V]) Invalidate(ctx context.Context, key string) {
	n.cache.Invalidate(ctx, n.name, key)
}

// GetOrFetch is the cache-aside read: a hit is returned as is, a miss calls
// fetch and caches its result. Fetch errors are returned; cache failures
// never are.
func GetOrFetch[V any](ctx context.Context, n *Namespace[V], key string, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := n.Get(ctx, key); ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	if err := n.Put(ctx, key, v); err != nil {
		n.cache.log.Warn("fetched value not cached", Fields{
			"module": "cache", "operation": "get_or_fetch", "namespace": n.name, "key": key, "err": err,
		})
	}
	return v, nil
}
