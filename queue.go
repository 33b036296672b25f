package fieldsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/fieldsync/internal/keys"
	"github.com/unkn0wn-root/fieldsync/internal/wire"
	"github.com/unkn0wn-root/fieldsync/kv"
)

// QueueOptions configure an Operation Queue. Only Store is required.
type QueueOptions struct {
	Store kv.Store // should be durable (kv/sqlite, kv/redis, kv/datastore)

	// Connectivity gates the drain signal on Enqueue. nil signals unconditionally.
	Connectivity Connectivity

	MaxPending      int // 0 => unbounded
	DeadLetterLimit int // 0 => 50

	Logger Logger
	Hooks  Hooks
	Clock  Clock
}

type QueueEventType int

const (
	QueueEnqueued QueueEventType = iota
	QueueRemoved
	QueueRetried
	QueueDropped
	QueueCleared
)

func (t QueueEventType) String() string {
	switch t {
	case QueueEnqueued:
		return "enqueued"
	case QueueRemoved:
		return "removed"
	case QueueRetried:
		return "retried"
	case QueueDropped:
		return "dropped"
	case QueueCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// QueueEvent is delivered to subscribers after every mutation.
type QueueEvent struct {
	Type      QueueEventType
	Operation Operation // zero for QueueCleared
	Pending   int
	Err       error // cause for QueueRetried and QueueDropped
}

// DeadLetter records an operation that was dropped without reaching the backend.
type DeadLetter struct {
	Operation Operation
	DroppedAt time.Time
	Reason    string
}

type storedDeadLetter struct {
	storedOperation
	DroppedAt time.Time `json:"droppedAt"`
	Reason    string    `json:"reason"`
}

// Queue is the durable FIFO of pending write intents. Every mutation rewrites
// the persisted snapshot before it returns, so a restart replays exactly the
// operations that were pending (a failed persist after Remove may replay an
// already-applied operation; the backend sees at-least-once delivery).
type Queue struct {
	store     kv.Store
	conn      Connectivity
	max       int
	deadLimit int
	log       Logger
	hooks     Hooks
	clock     Clock

	// mu also serializes persistence so snapshots land in mutation order.
	mu   sync.Mutex
	ops  []Operation
	dead []storedDeadLetter

	subs  subscribers[QueueEvent]
	ready chan struct{}
}

// OpenQueue rehydrates the queue from opts.Store. A snapshot that fails to
// decode is an error: pending writes are never silently discarded.
func OpenQueue(ctx context.Context, opts QueueOptions) (*Queue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("fieldsync: queue store is required")
	}
	q := &Queue{
		store:     opts.Store,
		conn:      opts.Connectivity,
		max:       opts.MaxPending,
		deadLimit: coalesce(opts.DeadLetterLimit, DefaultDeadLetterLimit),
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:     coalesce[Hooks](opts.Hooks, NopHooks{}),
		clock:     coalesce[Clock](opts.Clock, SystemClock),
		ready:     make(chan struct{}, 1),
	}

	var stored []storedOperation
	ok, err := q.load(ctx, keys.Queue, wire.KindQueue, &stored)
	if err != nil {
		return nil, fmt.Errorf("fieldsync: load queue: %w", err)
	}
	if ok {
		q.ops = make([]Operation, 0, len(stored))
		for _, s := range stored {
			q.ops = append(q.ops, decodeOperation(s))
		}
	}

	if _, err := q.load(ctx, keys.DeadLetters, wire.KindDeadLetters, &q.dead); err != nil {
		q.log.Warn("dead letters unreadable; starting empty", Fields{
			"module": "queue", "operation": "load", "err": err,
		})
		q.dead = nil
	}

	if len(q.ops) > 0 {
		q.log.Info("queue rehydrated", Fields{"module": "queue", "operation": "load", "pending": len(q.ops)})
	}
	return q, nil
}

func (q *Queue) load(ctx context.Context, key string, kind wire.Kind, out any) (bool, error) {
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	_, payload, err := wire.Decode(kind, raw)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (q *Queue) save(ctx context.Context, key string, kind wire.Kind, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return q.store.Set(ctx, key, wire.Encode(kind, byte(EncodingJSON), b))
}

// persistLocked writes the pending snapshot. Caller holds q.mu.
func (q *Queue) persistLocked(ctx context.Context) error {
	stored := make([]storedOperation, 0, len(q.ops))
	for _, o := range q.ops {
		s, err := encodeOperation(o)
		if err != nil {
			return err
		}
		stored = append(stored, s)
	}
	return q.save(ctx, keys.Queue, wire.KindQueue, stored)
}

func newOperationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Enqueue appends op and persists the queue. When connectivity reports online
// it also signals Ready so the coordinator drains right away; the caller never
// waits for that drain.
func (q *Queue) Enqueue(ctx context.Context, op Op) (string, error) {
	if err := Validate(op); err != nil {
		return "", err
	}
	o := Operation{ID: newOperationID(), Op: op, EnqueuedAt: q.clock.Now().UTC()}

	q.mu.Lock()
	if q.max > 0 && len(q.ops) >= q.max {
		pending := len(q.ops)
		q.mu.Unlock()
		q.log.Warn("queue full; write abandoned", Fields{
			"module": "queue", "operation": "enqueue", "outcome": "failure",
			"kind": op.Kind(), "pending": pending,
		})
		return "", ErrQueueFull
	}
	q.ops = append(q.ops, o)
	if err := q.persistLocked(ctx); err != nil {
		q.ops = q.ops[:len(q.ops)-1]
		q.mu.Unlock()
		return "", fmt.Errorf("fieldsync: persist queue: %w", err)
	}
	pending := len(q.ops)
	q.mu.Unlock()

	q.log.Debug("operation enqueued", Fields{
		"module": "queue", "operation": "enqueue", "outcome": "success",
		"operation_id": o.ID, "kind": o.Kind(), "pending": pending,
	})
	q.hooks.OperationEnqueued(o)
	q.subs.emit(QueueEvent{Type: QueueEnqueued, Operation: o, Pending: pending})

	if q.conn == nil || q.conn.Online() {
		q.signal()
	}
	return o.ID, nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready fires (coalesced) when work was enqueued while online.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// ListPending returns a FIFO snapshot.
func (q *Queue) ListPending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.ops {
		if q.ops[i].ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes the operation after it was applied. Reports false if id is
// not pending. On a persist error the in-memory removal stands and the error
// is returned.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return false, nil
	}
	o := q.ops[i]
	q.ops = append(q.ops[:i], q.ops[i+1:]...)
	err := q.persistLocked(ctx)
	pending := len(q.ops)
	q.mu.Unlock()

	q.subs.emit(QueueEvent{Type: QueueRemoved, Operation: o, Pending: pending})
	if err != nil {
		return true, fmt.Errorf("fieldsync: persist queue: %w", err)
	}
	return true, nil
}

// RecordFailure advances the retry counter of id and stores cause as its last
// error. It returns the updated operation.
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error) (Operation, bool, error) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return Operation{}, false, nil
	}
	q.ops[i].RetryCount++
	if cause != nil {
		q.ops[i].LastError = cause.Error()
	}
	o := q.ops[i]
	err := q.persistLocked(ctx)
	pending := len(q.ops)
	q.mu.Unlock()

	q.subs.emit(QueueEvent{Type: QueueRetried, Operation: o, Pending: pending, Err: cause})
	if err != nil {
		return o, true, fmt.Errorf("fieldsync: persist queue: %w", err)
	}
	return o, true, nil
}

// Drop removes id without applying it and records it as a dead letter. The
// change is lost; Hooks.OperationDropped and subscribers are told.
func (q *Queue) Drop(ctx context.Context, id string, cause error) (Operation, bool, error) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return Operation{}, false, nil
	}
	o := q.ops[i]
	if cause != nil {
		o.LastError = cause.Error()
	}
	q.ops = append(q.ops[:i], q.ops[i+1:]...)
	perr := q.persistLocked(ctx)

	if s, err := encodeOperation(o); err == nil {
		q.dead = append(q.dead, storedDeadLetter{
			storedOperation: s,
			DroppedAt:       q.clock.Now().UTC(),
			Reason:          o.LastError,
		})
		if over := len(q.dead) - q.deadLimit; over > 0 {
			q.dead = append([]storedDeadLetter(nil), q.dead[over:]...)
		}
		if err := q.save(ctx, keys.DeadLetters, wire.KindDeadLetters, q.dead); err != nil {
			q.log.Warn("dead letter not persisted", Fields{
				"module": "queue", "operation": "drop", "operation_id": o.ID, "err": err,
			})
		}
	}
	pending := len(q.ops)
	q.mu.Unlock()

	q.log.Error("operation dropped", Fields{
		"module": "queue", "operation": "drop", "outcome": "failure",
		"operation_id": o.ID, "kind": o.Kind(), "retry_count": o.RetryCount, "err": cause,
	})
	q.hooks.OperationDropped(o, cause)
	q.subs.emit(QueueEvent{Type: QueueDropped, Operation: o, Pending: pending, Err: cause})
	if perr != nil {
		return o, true, fmt.Errorf("fieldsync: persist queue: %w", perr)
	}
	return o, true, nil
}

// DeadLetters returns dropped operations, oldest first.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, 0, len(q.dead))
	for _, d := range q.dead {
		out = append(out, DeadLetter{
			Operation: decodeOperation(d.storedOperation),
			DroppedAt: d.DroppedAt,
			Reason:    d.Reason,
		})
	}
	return out
}

// Clear drops every pending operation. Intended for an explicit user reset;
// cleared operations are not dead-lettered.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	prev := q.ops
	q.ops = nil
	if err := q.persistLocked(ctx); err != nil {
		q.ops = prev
		q.mu.Unlock()
		return fmt.Errorf("fieldsync: persist queue: %w", err)
	}
	q.mu.Unlock()

	q.log.Info("queue cleared", Fields{"module": "queue", "operation": "clear", "cleared": len(prev)})
	q.subs.emit(QueueEvent{Type: QueueCleared})
	return nil
}

// Subscribe registers fn for queue events. Callbacks run synchronously on the
// mutating goroutine after the mutation is persisted.
func (q *Queue) Subscribe(fn func(QueueEvent)) (unsubscribe func()) {
	return q.subs.add(fn)
}
