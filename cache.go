package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/internal/wire"
	"github.com/unkn0wn-root/fieldsync/kv"
)

// NamespaceConfig is the policy of one logical cache.
type NamespaceConfig struct {
	TTL        time.Duration // 0 => 1m
	MaxEntries int           // 0 => 100
}

// BlobConfig bounds the blob cache.
type BlobConfig struct {
	TTL        time.Duration // 0 => 24h
	MaxBytes   int64         // 0 => 50 MiB
	MaxEntries int           // 0 => 200
}

type CacheOptions struct {
	// Store persists namespace records and the blob index. Required.
	Store kv.Store

	// Blobs holds blob payloads. nil stores them in Store.
	Blobs blobstore.Store

	// Namespaces maps a namespace name to its policy. nil => DefaultNamespaces().
	// Namespaces not listed here get the default policy on first use.
	Namespaces map[string]NamespaceConfig
	Blob       BlobConfig

	// SchemaVersion tags every entry. Entries written under another version
	// are treated as absent. "" => "1".
	SchemaVersion string

	// SweepInterval of the background purge. 0 => 5m, negative disables it.
	SweepInterval time.Duration

	// Encoding of namespace records and the blob index. Records written with
	// another encoding still decode.
	Encoding Encoding

	Logger Logger
	Hooks  Hooks
	Clock  Clock
}

// Cache is the tiered result/collection/blob cache. It is best-effort: storage
// failures are logged and reported through Hooks, never returned to callers.
//
// Each namespace is persisted as one record and mirrored in memory after the
// first access, so lookups are map reads. The in-memory mirror is
// authoritative for the life of the process.
type Cache struct {
	store  kv.Store
	blobs  blobstore.Store
	schema string
	enc    Encoding
	cfg    map[string]NamespaceConfig
	blob   BlobConfig
	log    Logger
	hooks  Hooks
	clock  Clock

	mu  sync.Mutex
	nss map[string]*nsState

	blobMu  sync.Mutex
	blobIdx *blobIndex

	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

type entry struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Schema    string    `json:"schemaVersion"`
	Seq       uint64    `json:"seq"`
}

type nsRecord struct {
	Seq     uint64           `json:"seq"`
	Entries map[string]entry `json:"entries"`
}

type nsState struct {
	mu     sync.Mutex
	name   string
	cfg    NamespaceConfig
	loaded bool
	rec    nsRecord
}

func NewCache(opts CacheOptions) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("fieldsync: cache store is required")
	}
	c := &Cache{
		store:  opts.Store,
		blobs:  opts.Blobs,
		schema: coalesce(opts.SchemaVersion, DefaultSchemaVersion),
		enc:    opts.Encoding,
		cfg:    make(map[string]NamespaceConfig),
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		clock:  coalesce[Clock](opts.Clock, SystemClock),
		nss:    make(map[string]*nsState),
	}
	if c.blobs == nil {
		c.blobs = blobstore.FromKV(opts.Store)
	}
	nsCfg := opts.Namespaces
	if nsCfg == nil {
		nsCfg = DefaultNamespaces()
	}
	for name, nc := range nsCfg {
		if name == "" {
			return nil, fmt.Errorf("fieldsync: empty namespace name")
		}
		c.cfg[name] = normalizeNamespace(nc)
	}
	c.blob = BlobConfig{
		TTL:        coalesce(opts.Blob.TTL, DefaultBlobTTL),
		MaxBytes:   coalesce[int64](opts.Blob.MaxBytes, DefaultBlobMaxBytes),
		MaxEntries: coalesce(opts.Blob.MaxEntries, DefaultBlobMaxEntries),
	}

	every := coalesce(opts.SweepInterval, DefaultSweepInterval)
	if every > 0 {
		c.ticker = time.NewTicker(every)
		c.stopCh = make(chan struct{})
		c.closeWg.Add(1)
		go c.sweepLoop()
	}
	return c, nil
}

func normalizeNamespace(nc NamespaceConfig) NamespaceConfig {
	return NamespaceConfig{
		TTL:        coalesce(nc.TTL, DefaultNamespaceTTL),
		MaxEntries: coalesce(nc.MaxEntries, DefaultMaxEntries),
	}
}

// SchemaVersion is the version stamped on new entries.
func (c *Cache) SchemaVersion() string { return c.schema }

// Close stops the background sweep. The stores are owned by the caller.
func (c *Cache) Close(context.Context) error {
	c.closeOnce.Do(func() {
		if c.stopCh != nil {
			close(c.stopCh)
			c.closeWg.Wait()
			c.ticker.Stop()
		}
	})
	return nil
}

func (c *Cache) sweepLoop() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.ticker.C:
			n := c.Sweep(context.Background())
			if n > 0 {
				c.log.Debug("sweep purged entries", Fields{"module": "cache", "operation": "sweep", "purged": n})
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) namespace(name string) *nsState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.nss[name]
	if !ok {
		cfg, known := c.cfg[name]
		if !known {
			cfg = normalizeNamespace(NamespaceConfig{})
		}
		s = &nsState{name: name, cfg: cfg}
		c.nss[name] = s
	}
	return s
}

// hydrateLocked loads the namespace record once. A store failure leaves the
// namespace unloaded so the next access retries; a corrupt record is discarded.
// Caller holds s.mu.
func (c *Cache) hydrateLocked(ctx context.Context, s *nsState) bool {
	if s.loaded {
		return true
	}
	raw, ok, err := c.store.Get(ctx, keys.Namespace(s.name))
	if err != nil {
		c.storeError(s.name, "load", err)
		return false
	}
	s.rec = nsRecord{Entries: make(map[string]entry)}
	s.loaded = true
	if !ok {
		return true
	}
	rec, err := decodeRecord[nsRecord](wire.KindNamespace, raw)
	if err != nil {
		c.log.Warn("namespace record corrupt; discarded", Fields{
			"module": "cache", "operation": "load", "namespace": s.name, "err": err,
		})
		c.hooks.CacheSelfHeal(s.name, "", "corrupt")
		if derr := c.store.Del(ctx, keys.Namespace(s.name)); derr != nil {
			c.storeError(s.name, "delete", derr)
		}
		return true
	}
	if rec.Entries == nil {
		rec.Entries = make(map[string]entry)
	}
	s.rec = rec
	return true
}

func (c *Cache) persistLocked(ctx context.Context, s *nsState) {
	b, err := encodeRecord(c.enc, wire.KindNamespace, s.rec)
	if err == nil {
		err = c.store.Set(ctx, keys.Namespace(s.name), b)
	}
	if err != nil {
		c.storeError(s.name, "persist", err)
	}
}

func (c *Cache) storeError(ns, op string, err error) {
	c.log.Warn("cache store error", Fields{
		"module": "cache", "operation": op, "outcome": "failure", "namespace": ns, "err": err,
	})
	c.hooks.CacheStoreError(ns, err)
}

// Put stores payload under (ns, key) with the namespace TTL.
func (c *Cache) Put(ctx context.Context, ns, key string, payload []byte) {
	c.PutTTL(ctx, ns, key, payload, 0)
}

// PutTTL stores payload with an explicit ttl (0 => namespace TTL) and evicts
// the oldest entries beyond the namespace bound.
func (c *Cache) PutTTL(ctx context.Context, ns, key string, payload []byte, ttl time.Duration) {
	s := c.namespace(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.hydrateLocked(ctx, s) {
		return
	}
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	now := c.clock.Now()
	s.rec.Seq++
	s.rec.Entries[key] = entry{
		Data:      append([]byte(nil), payload...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Schema:    c.schema,
		Seq:       s.rec.Seq,
	}
	if n := evictOldest(s.rec.Entries, s.cfg.MaxEntries); n > 0 {
		c.hooks.CacheEvicted(ns, n)
	}
	c.persistLocked(ctx, s)
}

// evictOldest removes entries, oldest createdAt first, until at most max remain.
func evictOldest(m map[string]entry, max int) int {
	over := len(m) - max
	if over <= 0 {
		return 0
	}
	type item struct {
		k string
		e entry
	}
	all := make([]item, 0, len(m))
	for k, e := range m {
		all = append(all, item{k, e})
	}
	sort.Slice(all, func(i, j int) bool { return olderThan(all[i].e.CreatedAt, all[i].e.Seq, all[j].e.CreatedAt, all[j].e.Seq) })
	for _, it := range all[:over] {
		delete(m, it.k)
	}
	return over
}

func olderThan(at time.Time, seq uint64, bt time.Time, bseq uint64) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return seq < bseq
}

// Get returns the payload under (ns, key). Expired entries and entries of
// another schema version are purged and reported as a miss.
func (c *Cache) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	s := c.namespace(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.hydrateLocked(ctx, s) {
		return nil, false
	}
	e, ok := s.rec.Entries[key]
	if !ok {
		return nil, false
	}
	if reason := c.invalidReason(e, c.clock.Now()); reason != "" {
		delete(s.rec.Entries, key)
		c.persistLocked(ctx, s)
		c.hooks.CacheSelfHeal(ns, key, reason)
		return nil, false
	}
	return append([]byte(nil), e.Data...), true
}

func (c *Cache) invalidReason(e entry, now time.Time) string {
	if e.Schema != c.schema {
		return "schema_mismatch"
	}
	if !now.Before(e.ExpiresAt) {
		return "expired"
	}
	return ""
}

// Invalidate removes (ns, key).
func (c *Cache) Invalidate(ctx context.Context, ns, key string) {
	s := c.namespace(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.hydrateLocked(ctx, s) {
		return
	}
	if _, ok := s.rec.Entries[key]; !ok {
		return
	}
	delete(s.rec.Entries, key)
	c.persistLocked(ctx, s)
}

// InvalidateNamespace drops every entry of ns.
func (c *Cache) InvalidateNamespace(ctx context.Context, ns string) {
	s := c.namespace(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nsRecord{Seq: s.rec.Seq, Entries: make(map[string]entry)}
	s.loaded = true
	if err := c.store.Del(ctx, keys.Namespace(ns)); err != nil {
		c.storeError(ns, "delete", err)
	}
}

// Len reports the number of stored entries in ns, valid or not.
func (c *Cache) Len(ctx context.Context, ns string) int {
	s := c.namespace(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.hydrateLocked(ctx, s) {
		return 0
	}
	return len(s.rec.Entries)
}

// Sweep purges every invalid entry of every configured or touched namespace
// and every expired blob. It returns the number of purged entries.
func (c *Cache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	names := make(map[string]struct{}, len(c.cfg)+len(c.nss))
	for n := range c.cfg {
		names[n] = struct{}{}
	}
	for n := range c.nss {
		names[n] = struct{}{}
	}
	c.mu.Unlock()

	now := c.clock.Now()
	total := 0
	for name := range names {
		s := c.namespace(name)
		s.mu.Lock()
		if c.hydrateLocked(ctx, s) {
			n := 0
			for k, e := range s.rec.Entries {
				if reason := c.invalidReason(e, now); reason != "" {
					delete(s.rec.Entries, k)
					c.hooks.CacheSelfHeal(name, k, reason)
					n++
				}
			}
			if n > 0 {
				c.persistLocked(ctx, s)
			}
			total += n
		}
		s.mu.Unlock()
	}
	return total + c.sweepBlobs(ctx, now)
}

func encodeRecord[T any](enc Encoding, kind wire.Kind, v T) ([]byte, error) {
	b, err := recordCodec[T](enc).Encode(v)
	if err != nil {
		return nil, err
	}
	return wire.Encode(kind, byte(enc), b), nil
}

var errUnknownEncoding = errors.New("unknown record encoding")

func decodeRecord[T any](kind wire.Kind, raw []byte) (T, error) {
	var zero T
	enc, payload, err := wire.Decode(kind, raw)
	if err != nil {
		return zero, err
	}
	if Encoding(enc) > EncodingMsgpack {
		return zero, fmt.Errorf("%w: %d", errUnknownEncoding, enc)
	}
	return recordCodec[T](Encoding(enc)).Decode(payload)
}
