package fieldsync

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/internal/wire"
)

const blobNamespace = "blobs"

type blobEntry struct {
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Seq       uint64    `json:"seq"`
}

type blobIndex struct {
	Seq     uint64               `json:"seq"`
	Entries map[string]blobEntry `json:"entries"`
}

func (ix *blobIndex) total() int64 {
	var n int64
	for _, e := range ix.Entries {
		n += e.Size
	}
	return n
}

// ephemeralSchemes name URLs that only resolve inside the current process or
// device and so are not stable cache keys.
var ephemeralSchemes = map[string]struct{}{
	"blob":           {},
	"data":           {},
	"file":           {},
	"content":        {},
	"ph":             {},
	"assets-library": {},
	"filesystem":     {},
}

// IsEphemeralURL reports whether u is local or scheme-less.
func IsEphemeralURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" {
		return true
	}
	_, ok := ephemeralSchemes[strings.ToLower(parsed.Scheme)]
	return ok
}

// blobIndexLocked returns the hydrated index, or nil when the store failed.
// Caller holds c.blobMu.
func (c *Cache) blobIndexLocked(ctx context.Context) *blobIndex {
	if c.blobIdx != nil {
		return c.blobIdx
	}
	raw, ok, err := c.store.Get(ctx, keys.BlobIndex)
	if err != nil {
		c.storeError(blobNamespace, "load", err)
		return nil
	}
	ix := &blobIndex{Entries: make(map[string]blobEntry)}
	if ok {
		dec, err := decodeRecord[blobIndex](wire.KindBlobIndex, raw)
		if err != nil {
			c.log.Warn("blob index corrupt; discarded", Fields{
				"module": "cache", "operation": "load", "namespace": blobNamespace, "err": err,
			})
			c.hooks.CacheSelfHeal(blobNamespace, "", "corrupt")
			c.purgeBlobsLocked(ctx)
		} else {
			ix = &dec
			if ix.Entries == nil {
				ix.Entries = make(map[string]blobEntry)
			}
		}
	}
	c.blobIdx = ix
	return ix
}

// purgeBlobsLocked drops payloads no index references any more. Stores that
// cannot enumerate their payloads leave them behind; that is logged.
func (c *Cache) purgeBlobsLocked(ctx context.Context) {
	p, ok := c.blobs.(blobstore.Purger)
	if !ok {
		c.log.Warn("blob payloads orphaned by index reset", Fields{
			"module": "cache", "operation": "purge", "namespace": blobNamespace,
		})
		return
	}
	if err := p.Purge(ctx); err != nil {
		c.storeError(blobNamespace, "purge", err)
	}
}

func (c *Cache) persistBlobIndexLocked(ctx context.Context) {
	b, err := encodeRecord(c.enc, wire.KindBlobIndex, *c.blobIdx)
	if err == nil {
		err = c.store.Set(ctx, keys.BlobIndex, b)
	}
	if err != nil {
		c.storeError(blobNamespace, "persist", err)
	}
}

func (c *Cache) dropBlobLocked(ctx context.Context, u string) {
	delete(c.blobIdx.Entries, u)
	if err := c.blobs.Del(ctx, u); err != nil {
		c.storeError(blobNamespace, "delete", err)
	}
}

// PutBlob caches payload under its source URL. Ephemeral URLs return
// ErrEphemeralURL and a payload larger than the whole byte budget returns
// ErrBlobTooLarge; storage failures are swallowed. After the insert the
// oldest blobs are evicted until both budgets hold.
func (c *Cache) PutBlob(ctx context.Context, u string, payload []byte) error {
	if IsEphemeralURL(u) {
		c.hooks.BlobRejected(u, "ephemeral_url")
		return ErrEphemeralURL
	}
	size := int64(len(payload))
	if size > c.blob.MaxBytes {
		c.hooks.BlobRejected(u, "too_large")
		return ErrBlobTooLarge
	}

	c.blobMu.Lock()
	defer c.blobMu.Unlock()
	ix := c.blobIndexLocked(ctx)
	if ix == nil {
		return nil
	}
	if err := c.blobs.Set(ctx, u, payload); err != nil {
		c.storeError(blobNamespace, "put", err)
		return nil
	}
	now := c.clock.Now()
	ix.Seq++
	ix.Entries[u] = blobEntry{Size: size, CreatedAt: now, ExpiresAt: now.Add(c.blob.TTL), Seq: ix.Seq}

	if n := c.evictBlobsLocked(ctx); n > 0 {
		c.hooks.CacheEvicted(blobNamespace, n)
	}
	c.persistBlobIndexLocked(ctx)
	return nil
}

func (c *Cache) evictBlobsLocked(ctx context.Context) int {
	ix := c.blobIdx
	total := ix.total()
	if total <= c.blob.MaxBytes && len(ix.Entries) <= c.blob.MaxEntries {
		return 0
	}
	type item struct {
		u string
		e blobEntry
	}
	all := make([]item, 0, len(ix.Entries))
	for u, e := range ix.Entries {
		all = append(all, item{u, e})
	}
	sort.Slice(all, func(i, j int) bool { return olderThan(all[i].e.CreatedAt, all[i].e.Seq, all[j].e.CreatedAt, all[j].e.Seq) })

	n := 0
	for _, it := range all {
		if total <= c.blob.MaxBytes && len(ix.Entries) <= c.blob.MaxEntries {
			break
		}
		total -= it.e.Size
		c.dropBlobLocked(ctx, it.u)
		n++
	}
	return n
}

// GetBlob returns the cached payload for u. Expired blobs and index entries
// whose payload has gone missing are purged and reported as a miss.
func (c *Cache) GetBlob(ctx context.Context, u string) ([]byte, bool) {
	c.blobMu.Lock()
	defer c.blobMu.Unlock()
	ix := c.blobIndexLocked(ctx)
	if ix == nil {
		return nil, false
	}
	e, ok := ix.Entries[u]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.ExpiresAt) {
		c.dropBlobLocked(ctx, u)
		c.persistBlobIndexLocked(ctx)
		c.hooks.CacheSelfHeal(blobNamespace, u, "expired")
		return nil, false
	}
	b, ok, err := c.blobs.Get(ctx, u)
	if err != nil {
		c.storeError(blobNamespace, "get", err)
		return nil, false
	}
	if !ok {
		delete(ix.Entries, u)
		c.persistBlobIndexLocked(ctx)
		c.hooks.CacheSelfHeal(blobNamespace, u, "missing_payload")
		return nil, false
	}
	return b, true
}

// BlobUsage reports the aggregate size and count of indexed blobs.
func (c *Cache) BlobUsage(ctx context.Context) (bytes int64, count int) {
	c.blobMu.Lock()
	defer c.blobMu.Unlock()
	ix := c.blobIndexLocked(ctx)
	if ix == nil {
		return 0, 0
	}
	return ix.total(), len(ix.Entries)
}

func (c *Cache) sweepBlobs(ctx context.Context, now time.Time) int {
	c.blobMu.Lock()
	defer c.blobMu.Unlock()
	ix := c.blobIndexLocked(ctx)
	if ix == nil {
		return 0
	}
	n := 0
	for u, e := range ix.Entries {
		if !now.Before(e.ExpiresAt) {
			c.dropBlobLocked(ctx, u)
			c.hooks.CacheSelfHeal(blobNamespace, u, "expired")
			n++
		}
	}
	if n > 0 {
		c.persistBlobIndexLocked(ctx)
	}
	return n
}
