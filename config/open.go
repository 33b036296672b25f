package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/blobstore/fs"
	"github.com/unkn0wn-root/fieldsync/kv"
	"github.com/unkn0wn-root/fieldsync/kv/bigcache"
	"github.com/unkn0wn-root/fieldsync/kv/datastore"
	"github.com/unkn0wn-root/fieldsync/kv/memory"
	"github.com/unkn0wn-root/fieldsync/kv/redis"
	"github.com/unkn0wn-root/fieldsync/kv/ristretto"
	"github.com/unkn0wn-root/fieldsync/kv/sqlite"
	"github.com/unkn0wn-root/fieldsync/probe"
)

const defaultMaxCostMB = 64

// OpenStore opens the durable store that holds the operation queue.
func (c Config) OpenStore(ctx context.Context) (kv.Store, error) {
	return openKV(ctx, "store", c.Store)
}

// OpenCacheStore opens the store for cache records. It returns nil when no
// cache_store driver is set, meaning cache records share the durable store.
func (c Config) OpenCacheStore(ctx context.Context) (kv.Store, error) {
	if c.CacheStore.Driver == "" {
		return nil, nil
	}
	return openKV(ctx, "cache_store", c.CacheStore)
}

// OpenBlobStore returns nil for the "kv" driver: payloads then live next to
// the blob index in the cache store.
func (c Config) OpenBlobStore() (blobstore.Store, error) {
	switch strings.ToLower(c.Blobs.Driver) {
	case "", "kv":
		return nil, nil
	case "fs":
		s, err := fs.NewOS(c.Blobs.Dir)
		if err != nil {
			return nil, fmt.Errorf("blobs: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("blobs: unknown driver %q", c.Blobs.Driver)
	}
}

func openKV(ctx context.Context, what string, sc StoreConfig) (kv.Store, error) {
	var (
		s   kv.Store
		err error
	)
	switch sc.Driver {
	case "memory":
		s = memory.New()
	case "sqlite":
		s, err = sqlite.Open(sc.Path)
	case "redis":
		s, err = redis.Open(sc.URL, sc.Prefix)
	case "datastore":
		s, err = datastore.New(datastore.Config{
			Datastore: dssync.MutexWrap(ds.NewMapDatastore()),
			Namespace: sc.Prefix,
			CloseDS:   true,
		})
	case "bigcache":
		s, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         sc.LifeWindow,
			HardMaxCacheSizeMB: sc.MaxCostMB,
		})
	case "ristretto":
		mb := int64(sc.MaxCostMB)
		if mb <= 0 {
			mb = defaultMaxCostMB
		}
		s, err = ristretto.New(ristretto.Config{
			NumCounters: 100_000,
			MaxCost:     mb << 20,
			BufferItems: 64,
		})
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", what, sc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w", what, sc.Driver, err)
	}
	return s, nil
}

// Prober builds the reachability probe, or nil when neither url nor addr is set.
func (c Config) Prober() fieldsync.Prober {
	switch {
	case c.Probe.URL != "":
		p := probe.NewHTTP(c.Probe.URL)
		if c.Probe.Timeout > 0 {
			p.Client = &http.Client{Timeout: c.Probe.Timeout}
		}
		return p
	case c.Probe.Addr != "":
		return &probe.Dial{Addr: c.Probe.Addr, Timeout: c.Probe.Timeout}
	default:
		return nil
	}
}

// ClientOptions opens every configured store and maps the settings onto
// fieldsync.Options. Stores opened before a failure are closed again.
func (c Config) ClientOptions(ctx context.Context, backend fieldsync.Backend) (fieldsync.Options, error) {
	enc, err := fieldsync.ParseEncoding(c.Cache.Encoding)
	if err != nil {
		return fieldsync.Options{}, err
	}
	store, err := c.OpenStore(ctx)
	if err != nil {
		return fieldsync.Options{}, err
	}
	cacheStore, err := c.OpenCacheStore(ctx)
	if err != nil {
		return fieldsync.Options{}, errors.Join(err, store.Close(ctx))
	}
	blobs, err := c.OpenBlobStore()
	if err != nil {
		err = errors.Join(err, store.Close(ctx))
		if cacheStore != nil {
			err = errors.Join(err, cacheStore.Close(ctx))
		}
		return fieldsync.Options{}, err
	}

	return fieldsync.Options{
		Store:      store,
		CacheStore: cacheStore,
		Blobs:      blobs,
		Backend:    backend,

		Namespaces:    c.namespaces(),
		Blob:          c.blob(),
		SchemaVersion: c.Cache.SchemaVersion,
		SweepInterval: c.Cache.SweepInterval,
		Encoding:      enc,

		MaxPending:      c.Queue.MaxPending,
		DeadLetterLimit: c.Queue.DeadLetterLimit,

		Prober:        c.Prober(),
		ProbeInterval: c.Probe.Interval,

		SyncInterval:     c.Sync.Interval,
		BatchSize:        c.Sync.BatchSize,
		BatchPause:       c.Sync.BatchPause,
		MaxRetries:       c.Sync.MaxRetries,
		OperationTimeout: c.Sync.OperationTimeout,
		ErrorLimit:       c.Sync.ErrorLimit,
		DisableAutoSync:  c.Sync.DisableAutoSync,
	}, nil
}

// CacheOptions maps the cache settings for a standalone fieldsync.Cache over
// already opened stores. blobs may be nil.
func (c Config) CacheOptions(store kv.Store, blobs blobstore.Store) (fieldsync.CacheOptions, error) {
	enc, err := fieldsync.ParseEncoding(c.Cache.Encoding)
	if err != nil {
		return fieldsync.CacheOptions{}, err
	}
	return fieldsync.CacheOptions{
		Store:         store,
		Blobs:         blobs,
		Namespaces:    c.namespaces(),
		Blob:          c.blob(),
		SchemaVersion: c.Cache.SchemaVersion,
		SweepInterval: c.Cache.SweepInterval,
		Encoding:      enc,
	}, nil
}

func (c Config) namespaces() map[string]fieldsync.NamespaceConfig {
	if len(c.Cache.Namespaces) == 0 {
		return nil
	}
	out := make(map[string]fieldsync.NamespaceConfig, len(c.Cache.Namespaces))
	for name, ns := range c.Cache.Namespaces {
		out[name] = fieldsync.NamespaceConfig{TTL: ns.TTL, MaxEntries: ns.MaxEntries}
	}
	return out
}

func (c Config) blob() fieldsync.BlobConfig {
	return fieldsync.BlobConfig{
		TTL:        c.Cache.Blob.TTL,
		MaxBytes:   c.Cache.Blob.MaxBytes,
		MaxEntries: c.Cache.Blob.MaxEntries,
	}
}
