package fieldsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/fieldsync/kv/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyStore is an in-memory kv.Store whose operations can be made to fail.
type flakyStore struct {
	*memory.Store

	mu      sync.Mutex
	getErr  error
	setErr  error
	delErr  error
	setKeys []string
	closed  atomic.Int32
}

func newFlakyStore() *flakyStore { return &flakyStore{Store: memory.New()} }

func (s *flakyStore) failGet(err error) { s.mu.Lock(); s.getErr = err; s.mu.Unlock() }
func (s *flakyStore) failSet(err error) { s.mu.Lock(); s.setErr = err; s.mu.Unlock() }
func (s *flakyStore) failDel(err error) { s.mu.Lock(); s.delErr = err; s.mu.Unlock() }

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return s.Store.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	err := s.setErr
	s.setKeys = append(s.setKeys, key)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value)
}

func (s *flakyStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	err := s.delErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Del(ctx, key)
}

func (s *flakyStore) Close(ctx context.Context) error {
	s.closed.Add(1)
	return s.Store.Close(ctx)
}

type selfHeal struct{ ns, key, reason string }

type recordingHooks struct {
	NopHooks

	mu          sync.Mutex
	heals       []selfHeal
	evicted     map[string]int
	storeErrs   int
	rejected    []string
	enqueued    []Operation
	dropped     []Operation
	drains      []DrainResult
	transitions []bool
}

func newRecordingHooks() *recordingHooks { return &recordingHooks{evicted: make(map[string]int)} }

func (h *recordingHooks) CacheSelfHeal(ns, key, reason string) {
	h.mu.Lock()
	h.heals = append(h.heals, selfHeal{ns, key, reason})
	h.mu.Unlock()
}

func (h *recordingHooks) CacheEvicted(ns string, n int) {
	h.mu.Lock()
	h.evicted[ns] += n
	h.mu.Unlock()
}

func (h *recordingHooks) CacheStoreError(string, error) {
	h.mu.Lock()
	h.storeErrs++
	h.mu.Unlock()
}

func (h *recordingHooks) BlobRejected(_ string, reason string) {
	h.mu.Lock()
	h.rejected = append(h.rejected, reason)
	h.mu.Unlock()
}

func (h *recordingHooks) OperationEnqueued(op Operation) {
	h.mu.Lock()
	h.enqueued = append(h.enqueued, op)
	h.mu.Unlock()
}

func (h *recordingHooks) OperationDropped(op Operation, _ error) {
	h.mu.Lock()
	h.dropped = append(h.dropped, op)
	h.mu.Unlock()
}

func (h *recordingHooks) DrainCompleted(res DrainResult) {
	h.mu.Lock()
	h.drains = append(h.drains, res)
	h.mu.Unlock()
}

func (h *recordingHooks) ConnectivityChanged(online bool) {
	h.mu.Lock()
	h.transitions = append(h.transitions, online)
	h.mu.Unlock()
}

func (h *recordingHooks) healReasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.heals))
	for _, s := range h.heals {
		out = append(out, s.reason)
	}
	return out
}

func (h *recordingHooks) droppedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.dropped)
}

// recordingBackend records every call; fn decides the outcome.
type recordingBackend struct {
	mu    sync.Mutex
	calls []Operation
	fn    func(Operation) error
}

func (b *recordingBackend) Write(_ context.Context, op Operation) error {
	b.mu.Lock()
	b.calls = append(b.calls, op)
	fn := b.fn
	b.mu.Unlock()
	if fn != nil {
		return fn(op)
	}
	return nil
}

func (b *recordingBackend) Calls() []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Operation(nil), b.calls...)
}

// switchConn is a Connectivity without subscriptions.
type switchConn struct{ on atomic.Bool }

func (c *switchConn) Online() bool { return c.on.Load() }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func profileOp(user, name string) UpdateProfile {
	return UpdateProfile{UserID: user, Updates: map[string]any{"displayName": name}}
}
