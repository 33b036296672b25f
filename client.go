package fieldsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/fieldsync/blobstore"
	"github.com/unkn0wn-root/fieldsync/kv"
)

// Client wires the cache, queue, monitor and coordinator. The components are
// exported for direct use; Client only adds the write path and shutdown.
type Client struct {
	Cache       *Cache
	Queue       *Queue
	Monitor     *Monitor
	Coordinator *Coordinator

	backend    Backend
	store      kv.Store
	cacheStore kv.Store
	blobs      blobstore.Store
	opTimeout  time.Duration
	log        Logger
	clock      Clock

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// WriteResult tells the caller where a write went.
type WriteResult struct {
	ID      string // operation id
	Applied bool   // written to the backend directly
	Queued  bool   // appended to the queue for a later drain
}

// Write applies op to the backend when online. When offline, or when the
// backend fails with a transient error, op is queued instead. Permanent
// failures are returned and nothing is queued. After Close, Write returns
// ErrClosed.
func (c *Client) Write(ctx context.Context, op Op) (WriteResult, error) {
	if c.closed.Load() {
		return WriteResult{}, ErrClosed
	}
	if err := Validate(op); err != nil {
		return WriteResult{}, err
	}
	if c.Monitor.Online() {
		o := Operation{ID: newOperationID(), Op: op, EnqueuedAt: c.clock.Now().UTC()}
		callCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		err := c.backend.Write(callCtx, o)
		cancel()
		if err == nil {
			return WriteResult{ID: o.ID, Applied: true}, nil
		}
		if IsPermanent(err) {
			return WriteResult{ID: o.ID}, err
		}
		if ctx.Err() != nil {
			return WriteResult{}, ctx.Err()
		}
		c.log.Warn("direct write failed; queued", Fields{
			"module": "client", "operation": "write", "outcome": "fallback",
			"kind": op.Kind(), "error_kind": KindOf(err).String(), "err": err,
		})
	}
	id, err := c.Queue.Enqueue(ctx, op)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{ID: id, Queued: true}, nil
}

// Status is shorthand for Coordinator.Status.
func (c *Client) Status() SyncStatus { return c.Coordinator.Status() }

// Close stops background work and closes the stores handed to New.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.Coordinator.Close()
		c.Monitor.Close()
		var errs []error
		errs = append(errs, c.Cache.Close(ctx))
		if c.blobs != nil {
			errs = append(errs, c.blobs.Close(ctx))
		}
		if c.cacheStore != nil && c.cacheStore != c.store {
			errs = append(errs, c.cacheStore.Close(ctx))
		}
		errs = append(errs, c.store.Close(ctx))
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
