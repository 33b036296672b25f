package fieldsync

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/kv"
)

// Options configure a Client. Only Store and Backend are required; others have
// sensible defaults.
type Options struct {
	// Required
	Store   kv.Store // durable; holds the queue (and cache records unless CacheStore is set)
	Backend Backend

	// CacheStore holds namespace records and the blob index, e.g. kv/bigcache
	// or kv/ristretto when cached reads need not survive a restart. nil => Store.
	CacheStore kv.Store
	Blobs      blobstore.Store // nil => payloads in the cache store

	// Cache
	Namespaces    map[string]NamespaceConfig // nil => DefaultNamespaces()
	Blob          BlobConfig
	SchemaVersion string        // "" => "1"
	SweepInterval time.Duration // 0 => 5m, negative disables
	Encoding      Encoding

	// Queue
	MaxPending      int // 0 => unbounded
	DeadLetterLimit int // 0 => 50

	// Connectivity
	Events        <-chan bool
	Prober        Prober
	ProbeInterval time.Duration // 0 => 30s
	InitialOnline bool

	// Sync
	SyncInterval     time.Duration // 0 => 30s
	BatchSize        int           // 0 => 5
	BatchPause       time.Duration // 0 => 1s
	MaxRetries       int           // 0 => 3
	OperationTimeout time.Duration // 0 => 30s
	ErrorLimit       int           // 0 => 5
	DisableAutoSync  bool          // default false => timer started by New

	Tracer trace.Tracer
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
	Clock  Clock
}

// New builds and starts a Client. The queue is rehydrated from Store before
// New returns; a corrupt queue snapshot fails New.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("fieldsync: store is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("fieldsync: backend is required")
	}
	cacheStore := opts.CacheStore
	if cacheStore == nil {
		cacheStore = opts.Store
	}

	mon := NewMonitor(MonitorOptions{
		Events:        opts.Events,
		Prober:        opts.Prober,
		ProbeInterval: opts.ProbeInterval,
		InitialOnline: opts.InitialOnline,
		Logger:        opts.Logger,
		Hooks:         opts.Hooks,
		Clock:         opts.Clock,
	})

	cache, err := NewCache(CacheOptions{
		Store:         cacheStore,
		Blobs:         opts.Blobs,
		Namespaces:    opts.Namespaces,
		Blob:          opts.Blob,
		SchemaVersion: opts.SchemaVersion,
		SweepInterval: opts.SweepInterval,
		Encoding:      opts.Encoding,
		Logger:        opts.Logger,
		Hooks:         opts.Hooks,
		Clock:         opts.Clock,
	})
	if err != nil {
		mon.Close()
		return nil, err
	}

	queue, err := OpenQueue(ctx, QueueOptions{
		Store:           opts.Store,
		Connectivity:    mon,
		MaxPending:      opts.MaxPending,
		DeadLetterLimit: opts.DeadLetterLimit,
		Logger:          opts.Logger,
		Hooks:           opts.Hooks,
		Clock:           opts.Clock,
	})
	if err != nil {
		_ = cache.Close(ctx)
		mon.Close()
		return nil, err
	}

	coord, err := NewCoordinator(CoordinatorOptions{
		Queue:            queue,
		Backend:          opts.Backend,
		Connectivity:     mon,
		Interval:         opts.SyncInterval,
		BatchSize:        opts.BatchSize,
		BatchPause:       opts.BatchPause,
		MaxRetries:       opts.MaxRetries,
		OperationTimeout: opts.OperationTimeout,
		ErrorLimit:       opts.ErrorLimit,
		Tracer:           opts.Tracer,
		Logger:           opts.Logger,
		Hooks:            opts.Hooks,
		Clock:            opts.Clock,
	})
	if err != nil {
		_ = cache.Close(ctx)
		mon.Close()
		return nil, err
	}
	if !opts.DisableAutoSync {
		coord.StartAutoSync()
	}

	return &Client{
		Cache:       cache,
		Queue:       queue,
		Monitor:     mon,
		Coordinator: coord,
		backend:     opts.Backend,
		store:       opts.Store,
		cacheStore:  opts.CacheStore,
		blobs:       opts.Blobs,
		opTimeout:   coalesce(opts.OperationTimeout, DefaultOperationTimeout),
		log:         coalesce[Logger](opts.Logger, NopLogger{}),
		clock:       coalesce[Clock](opts.Clock, SystemClock),
	}, nil
}
