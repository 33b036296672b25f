package fieldsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/unkn0wn-root/fieldsync/codec"
	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/kv"
)

func newTestCache(t *testing.T, store kv.Store, clk Clock, mutate func(*CacheOptions)) *Cache {
	t.Helper()
	opts := CacheOptions{Store: store, Clock: clk, SweepInterval: -1}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewCache(opts)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestCacheRequiresStore(t *testing.T) {
	if _, err := NewCache(CacheOptions{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

// TestCacheTTLBoundary verifies an entry is valid strictly before expiresAt and
// purged on the first read at or after it.
func TestCacheTTLBoundary(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFlakyStore()
	hooks := newRecordingHooks()
	c := newTestCache(t, store, clk, func(o *CacheOptions) { o.Hooks = hooks })

	c.PutTTL(ctx, NamespaceResults, "feed:1", []byte("a"), 10*time.Second)

	clk.Advance(10*time.Second - time.Nanosecond)
	if got, ok := c.Get(ctx, NamespaceResults, "feed:1"); !ok || string(got) != "a" {
		t.Fatalf("hit expected just before expiry, ok=%v got=%q", ok, got)
	}

	clk.Advance(time.Nanosecond)
	if _, ok := c.Get(ctx, NamespaceResults, "feed:1"); ok {
		t.Fatalf("miss expected at expiresAt")
	}
	if n := c.Len(ctx, NamespaceResults); n != 0 {
		t.Fatalf("expired entry should be purged, len=%d", n)
	}
	if r := hooks.healReasons(); len(r) != 1 || r[0] != "expired" {
		t.Fatalf("expected one expired self-heal, got %v", r)
	}

	// the purge is persisted: a fresh cache over the same store does not see it
	c2 := newTestCache(t, store, clk, nil)
	if n := c2.Len(ctx, NamespaceResults); n != 0 {
		t.Fatalf("purge not persisted, len=%d", n)
	}
}

func TestCacheQueryScenarioExpiresAfter61s(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, nil)

	payload := []byte(`[{"id":"r1"},{"id":"r2"}]`)
	c.PutTTL(ctx, NamespaceQueries, "near:-17.64,-71.33", payload, 60000*time.Millisecond)
	if _, ok := c.Get(ctx, NamespaceQueries, "near:-17.64,-71.33"); !ok {
		t.Fatalf("fresh entry should hit")
	}

	clk.Advance(61 * time.Second)
	if got, ok := c.Get(ctx, NamespaceQueries, "near:-17.64,-71.33"); ok {
		t.Fatalf("expected miss after 61s, got %q", got)
	}
}

func TestCacheNamespaceDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, nil)

	c.Put(ctx, NamespaceQueries, "q", []byte("x"))
	c.Put(ctx, NamespaceResults, "r", []byte("x"))

	clk.Advance(90 * time.Second)
	if _, ok := c.Get(ctx, NamespaceQueries, "q"); ok {
		t.Fatalf("queries TTL is 1m; entry should be gone at 90s")
	}
	if _, ok := c.Get(ctx, NamespaceResults, "r"); !ok {
		t.Fatalf("results TTL is 2m; entry should survive 90s")
	}
}

// TestCacheEvictsExactlyOldest inserts N+1 entries (same timestamp) into a
// namespace bounded to N and checks the bound after every insert.
func TestCacheEvictsExactlyOldest(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := newRecordingHooks()
	const n = 4
	c := newTestCache(t, newFlakyStore(), clk, func(o *CacheOptions) {
		o.Namespaces = map[string]NamespaceConfig{"feed": {TTL: time.Hour, MaxEntries: n}}
		o.Hooks = hooks
	})

	for i := 0; i <= n; i++ {
		c.Put(ctx, "feed", fmt.Sprintf("k%d", i), []byte{byte(i)})
		if got := c.Len(ctx, "feed"); got > n {
			t.Fatalf("after insert %d: len=%d > %d", i, got, n)
		}
	}
	if _, ok := c.Get(ctx, "feed", "k0"); ok {
		t.Fatalf("oldest entry k0 should be evicted")
	}
	for i := 1; i <= n; i++ {
		if _, ok := c.Get(ctx, "feed", fmt.Sprintf("k%d", i)); !ok {
			t.Fatalf("k%d should survive", i)
		}
	}
	if hooks.evicted["feed"] != 1 {
		t.Fatalf("expected exactly one eviction, got %d", hooks.evicted["feed"])
	}
}

func TestCacheEvictionUsesCreatedAt(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, func(o *CacheOptions) {
		o.Namespaces = map[string]NamespaceConfig{"feed": {TTL: time.Hour, MaxEntries: 2}}
	})

	c.Put(ctx, "feed", "a", []byte("1"))
	clk.Advance(time.Second)
	c.Put(ctx, "feed", "b", []byte("2"))
	clk.Advance(time.Second)
	c.Put(ctx, "feed", "a", []byte("3")) // rewrite refreshes createdAt
	clk.Advance(time.Second)
	c.Put(ctx, "feed", "c", []byte("4"))

	if _, ok := c.Get(ctx, "feed", "b"); ok {
		t.Fatalf("b is the oldest after a was rewritten and should be evicted")
	}
	if got, ok := c.Get(ctx, "feed", "a"); !ok || string(got) != "3" {
		t.Fatalf("a should hold its rewritten value, ok=%v got=%q", ok, got)
	}
}

func TestCacheSchemaMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFlakyStore()
	v1 := newTestCache(t, store, clk, func(o *CacheOptions) { o.SchemaVersion = "1" })
	v1.Put(ctx, NamespaceCollections, "owner:7", []byte("old shape"))

	hooks := newRecordingHooks()
	v2 := newTestCache(t, store, clk, func(o *CacheOptions) {
		o.SchemaVersion = "2"
		o.Hooks = hooks
	})
	if _, ok := v2.Get(ctx, NamespaceCollections, "owner:7"); ok {
		t.Fatalf("entry of schema 1 must not be visible to schema 2")
	}
	if r := hooks.healReasons(); len(r) != 1 || r[0] != "schema_mismatch" {
		t.Fatalf("expected schema_mismatch self-heal, got %v", r)
	}
	if v2.SchemaVersion() != "2" {
		t.Fatalf("SchemaVersion=%q", v2.SchemaVersion())
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFlakyStore()

	c1 := newTestCache(t, store, clk, nil)
	c1.Put(ctx, NamespaceResults, "feed", []byte("persisted"))

	c2 := newTestCache(t, store, clk, nil)
	if got, ok := c2.Get(ctx, NamespaceResults, "feed"); !ok || string(got) != "persisted" {
		t.Fatalf("expected hit after reopen, ok=%v got=%q", ok, got)
	}
}

func TestCacheEncodingsInteroperate(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingCBOR, EncodingMsgpack} {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			clk := newFakeClock()
			store := newFlakyStore()

			w := newTestCache(t, store, clk, func(o *CacheOptions) { o.Encoding = enc })
			w.Put(ctx, NamespaceResults, "k", []byte{0, 1, 2, 0xff})

			// a reader configured with another encoding still decodes the record
			r := newTestCache(t, store, clk, func(o *CacheOptions) { o.Encoding = (enc + 1) % 3 })
			got, ok := r.Get(ctx, NamespaceResults, "k")
			if !ok || !bytes.Equal(got, []byte{0, 1, 2, 0xff}) {
				t.Fatalf("ok=%v got=%v", ok, got)
			}
		})
	}
}

func TestCacheCorruptRecordSelfHeals(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	if err := store.Store.Set(ctx, keys.Namespace(NamespaceResults), []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	hooks := newRecordingHooks()
	c := newTestCache(t, store, newFakeClock(), func(o *CacheOptions) { o.Hooks = hooks })

	if _, ok := c.Get(ctx, NamespaceResults, "any"); ok {
		t.Fatalf("corrupt record should read as empty")
	}
	if _, ok, _ := store.Store.Get(ctx, keys.Namespace(NamespaceResults)); ok {
		t.Fatalf("corrupt record should be deleted")
	}
	if r := hooks.healReasons(); len(r) != 1 || r[0] != "corrupt" {
		t.Fatalf("expected corrupt self-heal, got %v", r)
	}

	c.Put(ctx, NamespaceResults, "k", []byte("v"))
	if _, ok := c.Get(ctx, NamespaceResults, "k"); !ok {
		t.Fatalf("namespace should be usable after self-heal")
	}
}

func TestCacheStoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	hooks := newRecordingHooks()
	c := newTestCache(t, store, newFakeClock(), func(o *CacheOptions) { o.Hooks = hooks })

	store.failGet(errors.New("disk gone"))
	c.Put(ctx, NamespaceResults, "k", []byte("v")) // must not panic or block
	if _, ok := c.Get(ctx, NamespaceResults, "k"); ok {
		t.Fatalf("unreadable store should degrade to a miss")
	}
	if hooks.storeErrs == 0 {
		t.Fatalf("store errors should be reported through hooks")
	}

	// once the store recovers, the namespace hydrates and writes go through
	store.failGet(nil)
	store.failSet(errors.New("read-only"))
	c.Put(ctx, NamespaceResults, "k", []byte("v"))
	if got, ok := c.Get(ctx, NamespaceResults, "k"); !ok || string(got) != "v" {
		t.Fatalf("in-memory copy should serve while persistence fails, ok=%v", ok)
	}
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	c := newTestCache(t, store, newFakeClock(), nil)

	c.Put(ctx, NamespaceResults, "a", []byte("1"))
	c.Put(ctx, NamespaceResults, "b", []byte("2"))
	c.Invalidate(ctx, NamespaceResults, "a")
	if _, ok := c.Get(ctx, NamespaceResults, "a"); ok {
		t.Fatalf("a should be invalidated")
	}
	if _, ok := c.Get(ctx, NamespaceResults, "b"); !ok {
		t.Fatalf("b should remain")
	}

	c.InvalidateNamespace(ctx, NamespaceResults)
	if n := c.Len(ctx, NamespaceResults); n != 0 {
		t.Fatalf("namespace should be empty, len=%d", n)
	}
	if _, ok, _ := store.Store.Get(ctx, keys.Namespace(NamespaceResults)); ok {
		t.Fatalf("namespace record should be deleted")
	}
}

func TestCacheSweepPurgesAcrossNamespaces(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, nil)

	c.Put(ctx, NamespaceQueries, "q1", []byte("x"))
	c.Put(ctx, NamespaceResults, "r1", []byte("x"))
	c.PutTTL(ctx, NamespaceCollections, "c1", []byte("x"), time.Hour)
	c.PutTTL(ctx, "adhoc", "a1", []byte("x"), time.Second)

	clk.Advance(3 * time.Minute)
	if n := c.Sweep(ctx); n != 3 {
		t.Fatalf("expected 3 purged, got %d", n)
	}
	if c.Len(ctx, NamespaceCollections) != 1 {
		t.Fatalf("unexpired entry must survive the sweep")
	}
	if n := c.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep should purge nothing, got %d", n)
	}
}

func TestCacheBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, func(o *CacheOptions) { o.SweepInterval = 10 * time.Millisecond })

	c.PutTTL(ctx, NamespaceResults, "k", []byte("x"), time.Second)
	clk.Advance(2 * time.Second)
	eventually(t, "background sweep", func() bool { return c.Len(ctx, NamespaceResults) == 0 })
}

type report struct {
	ID    string  `json:"id" cbor:"id" msgpack:"id"`
	Title string  `json:"title" cbor:"title" msgpack:"title"`
	Lat   float64 `json:"lat" cbor:"lat" msgpack:"lat"`
}

func TestNamespaceTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFlakyStore(), newFakeClock(), nil)

	cases := []struct {
		name  string
		codec codec.Codec[report]
	}{
		{"json", nil},
		{"cbor", codec.MustCBOR[report](true)},
		{"msgpack", codec.Msgpack[report]{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ns := NewNamespace[report](c, NamespaceResults+"-"+tc.name, tc.codec)
			want := report{ID: "r1", Title: "pothole", Lat: -17.64}
			if err := ns.Put(ctx, "r1", want); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, ok := ns.Get(ctx, "r1")
			if !ok || got != want {
				t.Fatalf("ok=%v got=%+v", ok, got)
			}
		})
	}
}

func TestNamespaceUndecodableValueSelfHeals(t *testing.T) {
	ctx := context.Background()
	hooks := newRecordingHooks()
	c := newTestCache(t, newFlakyStore(), newFakeClock(), func(o *CacheOptions) { o.Hooks = hooks })

	c.Put(ctx, NamespaceResults, "r1", []byte("{not json"))
	ns := NewNamespace[report](c, NamespaceResults, nil)
	if _, ok := ns.Get(ctx, "r1"); ok {
		t.Fatalf("undecodable value should be a miss")
	}
	if c.Len(ctx, NamespaceResults) != 0 {
		t.Fatalf("undecodable value should be purged")
	}
	if r := hooks.healReasons(); len(r) != 1 || r[0] != "corrupt" {
		t.Fatalf("expected corrupt self-heal, got %v", r)
	}
}

func TestGetOrFetch(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	c := newTestCache(t, newFlakyStore(), clk, nil)
	ns := NewNamespace[[]report](c, NamespaceQueries, nil)

	fetches := 0
	fetch := func(context.Context) ([]report, error) {
		fetches++
		return []report{{ID: "r1"}}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFetch(ctx, ns, "near:-17.64,-71.33", fetch)
		if err != nil || len(got) != 1 {
			t.Fatalf("GetOrFetch: %v %v", got, err)
		}
	}
	if fetches != 1 {
		t.Fatalf("expected one fetch, got %d", fetches)
	}

	clk.Advance(61 * time.Second)
	if _, err := GetOrFetch(ctx, ns, "near:-17.64,-71.33", fetch); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("expired entry should refetch, fetches=%d", fetches)
	}

	boom := errors.New("backend down")
	_, err := GetOrFetch(ctx, ns, "other", func(context.Context) ([]report, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("fetch error should propagate, got %v", err)
	}
}
