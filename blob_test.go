package fieldsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/kv/memory"
)

func TestIsEphemeralURL(t *testing.T) {
	cases := map[string]bool{
		"https://cdn.example.com/a.jpg":         false,
		"http://tiles.example.com/1/2/3.png":    false,
		"gs://bucket/reports/r1.jpg":            false,
		"blob:https://app.example.com/5e1c":     true,
		"data:image/png;base64,iVBOR":           true,
		"file:///var/mobile/photo.jpg":          true,
		"content://media/external/images/1":     true,
		"ph://ED7AC36B-A150":                    true,
		"assets-library://asset/asset.JPG?id=1": true,
		"filesystem:https://x/temporary/a":      true,
		"FILE:///upper.jpg":                     true,
		"/local/path.jpg":                       true,
		"photo.jpg":                             true,
		"":                                      true,
	}
	for u, want := range cases {
		if got := IsEphemeralURL(u); got != want {
			t.Errorf("IsEphemeralURL(%q)=%v want %v", u, got, want)
		}
	}
}

func TestPutBlobRejectsEphemeralAndOversized(t *testing.T) {
	ctx := context.Background()
	hooks := newRecordingHooks()
	c := newTestCache(t, newFlakyStore(), newFakeClock(), func(o *CacheOptions) {
		o.Blob = BlobConfig{MaxBytes: 10}
		o.Hooks = hooks
	})

	if err := c.PutBlob(ctx, "file:///tmp/x.jpg", []byte("x")); !errors.Is(err, ErrEphemeralURL) {
		t.Fatalf("expected ErrEphemeralURL, got %v", err)
	}
	if err := c.PutBlob(ctx, "https://cdn/x.jpg", make([]byte, 11)); !errors.Is(err, ErrBlobTooLarge) {
		t.Fatalf("expected ErrBlobTooLarge, got %v", err)
	}
	if b, n := c.BlobUsage(ctx); b != 0 || n != 0 {
		t.Fatalf("rejected blobs must not be indexed: %d bytes, %d entries", b, n)
	}
	if len(hooks.rejected) != 2 || hooks.rejected[0] != "ephemeral_url" || hooks.rejected[1] != "too_large" {
		t.Fatalf("unexpected rejections %v", hooks.rejected)
	}
}

func TestBlobByteBudgetEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	hooks := newRecordingHooks()
	c := newTestCache(t, newFlakyStore(), clk, func(o *CacheOptions) {
		o.Blob = BlobConfig{MaxBytes: 100, MaxEntries: 50}
		o.Hooks = hooks
	})

	url := func(i int) string { return fmt.Sprintf("https://cdn.example.com/%d.jpg", i) }
	for i := 0; i < 4; i++ {
		if err := c.PutBlob(ctx, url(i), bytes.Repeat([]byte{byte(i)}, 30)); err != nil {
			t.Fatalf("PutBlob %d: %v", i, err)
		}
		clk.Advance(time.Second)
		if b, _ := c.BlobUsage(ctx); b > 100 {
			t.Fatalf("after %d: %d bytes exceeds budget", i, b)
		}
	}

	// 4 x 30 = 120 > 100: only the oldest goes
	if _, ok := c.GetBlob(ctx, url(0)); ok {
		t.Fatalf("oldest blob should be evicted")
	}
	for i := 1; i < 4; i++ {
		got, ok := c.GetBlob(ctx, url(i))
		if !ok || len(got) != 30 || got[0] != byte(i) {
			t.Fatalf("blob %d: ok=%v len=%d", i, ok, len(got))
		}
	}

	// a 70-byte blob forces two more evictions
	if err := c.PutBlob(ctx, url(9), make([]byte, 70)); err != nil {
		t.Fatal(err)
	}
	b, n := c.BlobUsage(ctx)
	if b != 100 || n != 2 {
		t.Fatalf("expected 100 bytes in 2 blobs, got %d in %d", b, n)
	}
	if _, ok := c.GetBlob(ctx, url(3)); !ok {
		t.Fatalf("newest of the old blobs should survive")
	}
	if hooks.evicted[blobNamespace] != 3 {
		t.Fatalf("expected 3 blob evictions, got %d", hooks.evicted[blobNamespace])
	}
}

func TestBlobCountBudget(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFlakyStore(), newFakeClock(), func(o *CacheOptions) {
		o.Blob = BlobConfig{MaxBytes: 1 << 20, MaxEntries: 2}
	})
	for i := 0; i < 3; i++ {
		_ = c.PutBlob(ctx, fmt.Sprintf("https://cdn/%d", i), []byte("x"))
	}
	if _, n := c.BlobUsage(ctx); n != 2 {
		t.Fatalf("count budget 2, got %d", n)
	}
	if _, ok := c.GetBlob(ctx, "https://cdn/0"); ok {
		t.Fatalf("oldest should be evicted by count")
	}
}

func TestBlobPayloadsDeletedOnEviction(t *testing.T) {
	ctx := context.Background()
	payloads := memory.New()
	c := newTestCache(t, newFlakyStore(), newFakeClock(), func(o *CacheOptions) {
		o.Blobs = blobstore.FromKV(payloads)
		o.Blob = BlobConfig{MaxBytes: 1 << 20, MaxEntries: 1}
	})
	_ = c.PutBlob(ctx, "https://cdn/a", []byte("a"))
	_ = c.PutBlob(ctx, "https://cdn/b", []byte("b"))
	if n := len(payloads.Keys()); n != 1 {
		t.Fatalf("evicted payload should be removed from the blob store, have %d", n)
	}
}

func TestBlobTTLAndMissingPayload(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	payloads := memory.New()
	hooks := newRecordingHooks()
	c := newTestCache(t, newFlakyStore(), clk, func(o *CacheOptions) {
		o.Blobs = blobstore.FromKV(payloads)
		o.Hooks = hooks
	})

	_ = c.PutBlob(ctx, "https://cdn/a", []byte("a"))
	_ = c.PutBlob(ctx, "https://cdn/b", []byte("b"))

	// payload vanished underneath the index (e.g. the OS purged a cache dir)
	for _, k := range payloads.Keys() {
		_ = payloads.Del(ctx, k)
		break
	}
	missing := 0
	for _, u := range []string{"https://cdn/a", "https://cdn/b"} {
		if _, ok := c.GetBlob(ctx, u); !ok {
			missing++
		}
	}
	if missing != 1 {
		t.Fatalf("expected one missing payload, got %d", missing)
	}

	clk.Advance(DefaultBlobTTL)
	if n := c.Sweep(ctx); n != 1 {
		t.Fatalf("sweep should purge the remaining expired blob, got %d", n)
	}
	if _, n := c.BlobUsage(ctx); n != 0 {
		t.Fatalf("index should be empty, got %d", n)
	}
	want := map[string]bool{"missing_payload": true, "expired": true}
	for _, r := range hooks.healReasons() {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Fatalf("missing self-heal reasons %v", want)
	}
}

func TestBlobIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	clk := newFakeClock()

	c1 := newTestCache(t, store, clk, nil)
	if err := c1.PutBlob(ctx, "https://cdn/avatar.png", []byte("png")); err != nil {
		t.Fatal(err)
	}
	c2 := newTestCache(t, store, clk, nil)
	if got, ok := c2.GetBlob(ctx, "https://cdn/avatar.png"); !ok || string(got) != "png" {
		t.Fatalf("ok=%v got=%q", ok, got)
	}
}

func TestBlobStoreFailureSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	c := newTestCache(t, store, newFakeClock(), nil)
	store.failSet(errors.New("quota"))
	if err := c.PutBlob(ctx, "https://cdn/a", []byte("a")); err != nil {
		t.Fatalf("storage failures must not surface, got %v", err)
	}
	if _, ok := c.GetBlob(ctx, "https://cdn/a"); ok {
		t.Fatalf("unstored blob must miss")
	}
}

type purgingBlobs struct {
	blobstore.Store
	purged int
}

func (p *purgingBlobs) Purge(context.Context) error {
	p.purged++
	return nil
}

func TestCorruptBlobIndexPurgesPayloads(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	blobs := &purgingBlobs{Store: blobstore.FromKV(memory.New())}
	if err := store.Store.Set(ctx, keys.BlobIndex, []byte("not a frame")); err != nil {
		t.Fatal(err)
	}
	hooks := newRecordingHooks()
	c := newTestCache(t, store, newFakeClock(), func(o *CacheOptions) {
		o.Blobs = blobs
		o.Hooks = hooks
	})

	if b, n := c.BlobUsage(ctx); b != 0 || n != 0 {
		t.Fatalf("corrupt index should load empty: %d bytes, %d entries", b, n)
	}
	if blobs.purged != 1 {
		t.Fatalf("payloads of a lost index must be purged, purged=%d", blobs.purged)
	}
	if r := hooks.healReasons(); len(r) != 1 || r[0] != "corrupt" {
		t.Fatalf("heal reasons=%v", r)
	}
}
