// Package asynchook moves fieldsync.Hooks callbacks off the caller's goroutine.
//
// Cache hooks run on the read path and queue hooks inside a drain, so a slow
// sink (network metrics, remote logging) should be wrapped:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := fieldsync.New(ctx, fieldsync.Options{Store: store, Backend: backend, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/fieldsync"
)

// Hooks queues every callback to a fixed worker pool. When the queue is full
// the event is dropped and counted; callers never block.
type Hooks struct {
	inner   fieldsync.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ fieldsync.Hooks = (*Hooks)(nil)

func New(inner fieldsync.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = fieldsync.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on a channel closed by a concurrent Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheSelfHeal(ns, key, reason string) {
	h.try(func() { h.inner.CacheSelfHeal(ns, key, reason) })
}
func (h *Hooks) CacheEvicted(ns string, n int)       { h.try(func() { h.inner.CacheEvicted(ns, n) }) }
func (h *Hooks) CacheStoreError(ns string, err error) { h.try(func() { h.inner.CacheStoreError(ns, err) }) }
func (h *Hooks) BlobRejected(url, reason string)      { h.try(func() { h.inner.BlobRejected(url, reason) }) }
func (h *Hooks) OperationEnqueued(op fieldsync.Operation) {
	h.try(func() { h.inner.OperationEnqueued(op) })
}
func (h *Hooks) OperationDropped(op fieldsync.Operation, err error) {
	h.try(func() { h.inner.OperationDropped(op, err) })
}
func (h *Hooks) DrainCompleted(res fieldsync.DrainResult) {
	h.try(func() { h.inner.DrainCompleted(res) })
}
func (h *Hooks) ConnectivityChanged(online bool) {
	h.try(func() { h.inner.ConnectivityChanged(online) })
}
