package fieldsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Backend applies one write intent to the remote service. Return a
// *BackendError to classify failures; unclassified errors are retried.
type Backend interface {
	Write(ctx context.Context, op Operation) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, op Operation) error

func (f BackendFunc) Write(ctx context.Context, op Operation) error { return f(ctx, op) }

type CoordinatorOptions struct {
	Queue   *Queue  // required
	Backend Backend // required

	// Connectivity gates automatic drains. If it also offers
	// Subscribe(func(ConnectivityState)) func() (as *Monitor does), regaining
	// connectivity starts a drain. nil is always online.
	Connectivity Connectivity

	Interval         time.Duration // auto-sync period; 0 => 30s
	BatchSize        int           // 0 => 5
	BatchPause       time.Duration // 0 => 1s, negative => none
	MaxRetries       int           // 0 => 3
	OperationTimeout time.Duration // per backend call; 0 => 30s
	ErrorLimit       int           // 0 => 5

	Tracer trace.Tracer // nil => otel global tracer
	Logger Logger
	Hooks  Hooks
	Clock  Clock
}

// SyncStatus is the observable state of the coordinator.
type SyncStatus struct {
	Active       bool // auto-sync timer running
	Online       bool
	LastSyncAt   time.Time
	PendingCount int
	InProgress   bool
	Errors       []string // most recent last
}

// OperationResult is the outcome of one backend call during a drain.
type OperationResult struct {
	Operation Operation
	Success   bool
	Err       error
	Dropped   bool
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Dropped   int
	Results   []OperationResult
	Skipped   bool  // another drain held the guard, or offline
	Err       error // queue storage failure that aborted the drain
}

type connectivitySubscriber interface {
	Subscribe(func(ConnectivityState)) func()
}

// Coordinator drains the Queue against the Backend. At most one guarded drain
// runs at a time; ForceSyncNow bypasses the guard but never writes an
// operation that is already in flight.
type Coordinator struct {
	queue   *Queue
	backend Backend
	conn    Connectivity

	interval   time.Duration
	batchSize  int
	batchPause time.Duration
	maxRetries int
	opTimeout  time.Duration
	errLimit   int

	tracer trace.Tracer
	log    Logger
	hooks  Hooks
	clock  Clock

	running atomic.Bool

	mu         sync.Mutex
	inflight   map[string]struct{}
	lastSyncAt time.Time
	errs       []string

	subs subscribers[SyncStatus]

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoActive atomic.Bool
	autoWg     sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	regained  chan struct{}
	unsub     func()
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("fieldsync: coordinator queue is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("fieldsync: coordinator backend is required")
	}
	c := &Coordinator{
		queue:      opts.Queue,
		backend:    opts.Backend,
		conn:       opts.Connectivity,
		interval:   coalesce(opts.Interval, DefaultSyncInterval),
		batchSize:  coalesce(opts.BatchSize, DefaultBatchSize),
		batchPause: coalesce(opts.BatchPause, DefaultBatchPause),
		maxRetries: coalesce(opts.MaxRetries, DefaultMaxRetries),
		opTimeout:  coalesce(opts.OperationTimeout, DefaultOperationTimeout),
		errLimit:   coalesce(opts.ErrorLimit, DefaultErrorLimit),
		tracer:     opts.Tracer,
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		clock:      coalesce[Clock](opts.Clock, SystemClock),
		inflight:   make(map[string]struct{}),
		regained:   make(chan struct{}, 1),
		unsub:      func() {},
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/unkn0wn-root/fieldsync")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if s, ok := c.conn.(connectivitySubscriber); ok {
		c.unsub = s.Subscribe(func(st ConnectivityState) {
			if !st.Online {
				return
			}
			select {
			case c.regained <- struct{}{}:
			default:
			}
		})
	}

	c.closeWg.Add(1)
	go c.dispatch()
	return c, nil
}

func (c *Coordinator) dispatch() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.queue.Ready():
			c.autoDrain(c.ctx, "enqueue")
		case <-c.regained:
			c.autoDrain(c.ctx, "reconnect")
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) online() bool { return c.conn == nil || c.conn.Online() }

// autoDrain runs a guarded drain when online with work pending.
func (c *Coordinator) autoDrain(ctx context.Context, trigger string) {
	if !c.online() || c.queue.Len() == 0 {
		return
	}
	c.drainGuarded(ctx, trigger)
}

// StartAutoSync starts the periodic drain. Calling it while running is a no-op.
func (c *Coordinator) StartAutoSync() {
	c.autoMu.Lock()
	if c.autoCancel != nil || c.ctx.Err() != nil {
		c.autoMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.autoCancel = cancel
	c.autoActive.Store(true)
	c.autoWg.Add(1)
	go func() {
		defer c.autoWg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.autoDrain(ctx, "timer")
			case <-ctx.Done():
				return
			}
		}
	}()
	c.autoMu.Unlock()

	c.log.Info("auto-sync started", Fields{"module": "coordinator", "operation": "start", "interval": c.interval.String()})
	c.emitStatus()
}

// StopAutoSync stops the periodic drain. A timer drain already running
// finishes its current batch and starts no further batches; StopAutoSync
// returns once it has.
func (c *Coordinator) StopAutoSync() {
	c.autoMu.Lock()
	cancel := c.autoCancel
	c.autoCancel = nil
	if cancel != nil {
		cancel()
		c.autoActive.Store(false)
	}
	c.autoMu.Unlock()
	if cancel == nil {
		return
	}
	c.autoWg.Wait()
	c.log.Info("auto-sync stopped", Fields{"module": "coordinator", "operation": "stop"})
	c.emitStatus()
}

// Drain runs one guarded drain now. It is skipped when offline or when another
// drain is running.
func (c *Coordinator) Drain(ctx context.Context) DrainResult {
	if !c.online() {
		res := DrainResult{Skipped: true}
		c.hooks.DrainCompleted(res)
		return res
	}
	return c.drainGuarded(ctx, "manual")
}

// ForceSyncNow drains regardless of connectivity and of a drain in progress.
// Operations another drain is already writing are skipped.
func (c *Coordinator) ForceSyncNow(ctx context.Context) DrainResult {
	if c.running.CompareAndSwap(false, true) {
		defer c.finish()
	}
	return c.drain(ctx, "force")
}

func (c *Coordinator) drainGuarded(ctx context.Context, trigger string) DrainResult {
	if !c.running.CompareAndSwap(false, true) {
		c.log.Debug("drain already running", Fields{"module": "coordinator", "operation": "drain", "trigger": trigger, "outcome": "skipped"})
		res := DrainResult{Skipped: true}
		c.hooks.DrainCompleted(res)
		return res
	}
	defer c.finish()
	return c.drain(ctx, trigger)
}

func (c *Coordinator) finish() {
	c.running.Store(false)
	c.emitStatus()
}

func (c *Coordinator) claim(ops []Operation) []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ops[:0]
	for _, o := range ops {
		if _, busy := c.inflight[o.ID]; busy {
			continue
		}
		c.inflight[o.ID] = struct{}{}
		out = append(out, o)
	}
	return out
}

func (c *Coordinator) release(ops []Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range ops {
		delete(c.inflight, o.ID)
	}
}

func (c *Coordinator) drain(ctx context.Context, trigger string) (res DrainResult) {
	ctx, span := c.tracer.Start(ctx, "fieldsync.drain", trace.WithAttributes(
		attribute.String("fieldsync.trigger", trigger),
	))
	defer span.End()

	ops := c.claim(c.queue.ListPending())
	defer c.release(ops)
	c.emitStatus()

	start := c.clock.Now()
	for i := 0; i < len(ops); i += c.batchSize {
		if i > 0 && !c.pause(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		end := min(i+c.batchSize, len(ops))
		batch := ops[i:end]
		results := make([]OperationResult, len(batch))

		// Batch members run concurrently; a queue storage failure from any of
		// them surfaces through Wait and ends the drain after this batch.
		var g errgroup.Group
		for j, op := range batch {
			g.Go(func() error {
				r, err := c.apply(ctx, op)
				results[j] = r
				return err
			})
		}
		storeErr := g.Wait()

		for _, r := range results {
			res.Attempted++
			switch {
			case r.Success:
				res.Succeeded++
			case r.Dropped:
				res.Dropped++
			default:
				res.Failed++
			}
		}
		res.Results = append(res.Results, results...)

		if storeErr != nil {
			res.Err = storeErr
			c.recordError(storeErr.Error())
			c.log.Error("drain aborted", Fields{
				"module": "coordinator", "operation": "drain", "trigger": trigger,
				"outcome": "aborted", "err": storeErr,
			})
			break
		}
	}

	c.mu.Lock()
	c.lastSyncAt = c.clock.Now()
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Int("fieldsync.attempted", res.Attempted),
		attribute.Int("fieldsync.succeeded", res.Succeeded),
		attribute.Int("fieldsync.failed", res.Failed),
		attribute.Int("fieldsync.dropped", res.Dropped),
	)
	switch {
	case res.Err != nil:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "drain aborted")
	case res.Failed > 0 || res.Dropped > 0:
		span.SetStatus(codes.Error, "operations failed")
	}

	fields := Fields{
		"module": "coordinator", "operation": "drain", "trigger": trigger,
		"attempted": res.Attempted, "succeeded": res.Succeeded, "failed": res.Failed,
		"dropped": res.Dropped, "elapsed": c.clock.Now().Sub(start).String(),
	}
	if res.Attempted > 0 {
		c.log.Info("drain completed", fields)
	} else {
		c.log.Debug("drain completed", fields)
	}
	c.hooks.DrainCompleted(res)
	return res
}

func (c *Coordinator) pause(ctx context.Context) bool {
	if c.batchPause <= 0 {
		return true
	}
	t := time.NewTimer(c.batchPause)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// apply writes one operation and records its outcome in the queue. The
// backend call and queue mutations outlive ctx cancellation; OperationTimeout
// bounds the call. The returned error is a queue storage failure only.
func (c *Coordinator) apply(ctx context.Context, op Operation) (OperationResult, error) {
	base := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(base, c.opTimeout)
	err := c.write(callCtx, op)
	cancel()

	if err == nil {
		_, rerr := c.queue.Remove(base, op.ID)
		return OperationResult{Operation: op, Success: true}, rerr
	}

	kind := KindOf(err)
	if kind.Permanent() {
		derr := &DropError{Op: op, Retries: op.RetryCount + 1, Err: err}
		return OperationResult{Operation: op, Err: derr, Dropped: true}, c.dropOp(base, op, derr)
	}

	updated, ok, rerr := c.queue.RecordFailure(base, op.ID, err)
	if rerr != nil {
		return OperationResult{Operation: op, Err: err}, rerr
	}
	if !ok {
		return OperationResult{Operation: op, Err: err}, nil
	}
	c.recordError(fmt.Sprintf("%s %s: %v", op.Kind(), op.ID, err))
	c.log.Warn("operation failed", Fields{
		"module": "coordinator", "operation": "apply", "outcome": "retry",
		"operation_id": op.ID, "kind": op.Kind(), "error_kind": kind.String(),
		"retry_count": updated.RetryCount, "err": err,
	})
	if updated.RetryCount >= c.maxRetries {
		derr := &DropError{Op: updated, Retries: updated.RetryCount, Err: err}
		return OperationResult{Operation: updated, Err: derr, Dropped: true}, c.dropOp(base, updated, derr)
	}
	return OperationResult{Operation: updated, Err: err}, nil
}

// write calls the backend, turning a panic into an unclassified error.
func (c *Coordinator) write(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Write(ctx, op)
}

func (c *Coordinator) dropOp(ctx context.Context, op Operation, derr *DropError) error {
	_, _, err := c.queue.Drop(ctx, op.ID, derr)
	c.recordError(derr.Error())
	return err
}

func (c *Coordinator) recordError(msg string) {
	c.mu.Lock()
	c.errs = append(c.errs, msg)
	if over := len(c.errs) - c.errLimit; over > 0 {
		c.errs = append([]string(nil), c.errs[over:]...)
	}
	c.mu.Unlock()
}

// Status returns a snapshot.
func (c *Coordinator) Status() SyncStatus {
	c.mu.Lock()
	last := c.lastSyncAt
	errs := append([]string(nil), c.errs...)
	c.mu.Unlock()
	return SyncStatus{
		Active:       c.autoActive.Load(),
		Online:       c.online(),
		LastSyncAt:   last,
		PendingCount: c.queue.Len(),
		InProgress:   c.running.Load(),
		Errors:       errs,
	}
}

// Subscribe registers fn for status changes (drain start/end, auto-sync
// start/stop).
func (c *Coordinator) Subscribe(fn func(SyncStatus)) (unsubscribe func()) {
	return c.subs.add(fn)
}

func (c *Coordinator) emitStatus() { c.subs.emit(c.Status()) }

// Close stops auto-sync and the dispatcher and waits for a running automatic
// drain to settle. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.unsub()
		c.StopAutoSync()
		c.cancel()
		c.closeWg.Wait()
	})
}
