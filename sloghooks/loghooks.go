// Package sloghooks reports fieldsync.Hooks events through log/slog with
// sampling for the noisy cache events and redaction of cache keys and URLs.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/fieldsync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	EvictEvery    uint64
	// Optional key/URL redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	evictCtr    atomic.Uint64
}

var _ fieldsync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheSelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("fieldsync.cache_self_heal", "ns", ns, "key", h.redact(key), "reason", reason)
}

func (h *Hooks) CacheEvicted(ns string, n int) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("fieldsync.cache_evicted", "ns", ns, "count", n)
}

func (h *Hooks) CacheStoreError(ns string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("fieldsync.cache_store_error", "ns", ns, "err", err)
}

func (h *Hooks) BlobRejected(url, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("fieldsync.blob_rejected", "url", h.redact(url), "reason", reason)
}

func (h *Hooks) OperationEnqueued(op fieldsync.Operation) {
	if h.l == nil {
		return
	}
	h.l.Debug("fieldsync.operation_enqueued", "id", op.ID, "kind", string(op.Kind()))
}

func (h *Hooks) OperationDropped(op fieldsync.Operation, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("fieldsync.operation_dropped",
		"id", op.ID,
		"kind", string(op.Kind()),
		"retry_count", op.RetryCount,
		"err", err)
}

func (h *Hooks) DrainCompleted(res fieldsync.DrainResult) {
	if h.l == nil || res.Skipped || res.Attempted == 0 {
		return
	}
	if res.Err != nil {
		h.l.Error("fieldsync.drain_aborted",
			"attempted", res.Attempted,
			"succeeded", res.Succeeded,
			"err", res.Err)
		return
	}
	h.l.Info("fieldsync.drain_completed",
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"dropped", res.Dropped)
}

func (h *Hooks) ConnectivityChanged(online bool) {
	if h.l == nil {
		return
	}
	h.l.Info("fieldsync.connectivity_changed", "online", online)
}
