// Package dbqueue serializes database access through two bounded FIFO
// queues, one for reads and one for writes. Worker pools drain the queues
// and a per-queue semaphore caps how many pool connections each side may
// hold, so a flood of reads can never starve writes of connections.
package dbqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Kind selects the read or write lane.
type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// ErrQueueFull is returned when a lane's buffer is at capacity.
var ErrQueueFull = errors.New("database queue full")

// ErrQueueClosed is returned when the queue is not running.
var ErrQueueClosed = errors.New("database queue not running")

// ErrTimeout is the sentinel wrapped by TimeoutError.
var ErrTimeout = errors.New("database operation timed out")

// TimeoutError reports an operation that missed its deadline, including
// time spent queued.
type TimeoutError struct {
	Kind    Kind
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %s", e.Kind, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Op is a unit of database work. It receives a dedicated pool connection
// and a context that expires at the task deadline.
type Op func(ctx context.Context, conn *pgxpool.Conn) (any, error)

const (
	defaultQueueSize    = 2000
	defaultReadWorkers  = 10
	defaultWriteWorkers = 3
	defaultReadConns    = 12
	defaultWriteConns   = 4
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second

	logFieldTaskID = "task_id"
	logFieldKind   = "kind"

	metricOK      = "ok"
	metricError   = "error"
	metricDropped = "dropped"
)

// Options configures lane sizes and limits. Zero values take defaults.
type Options struct {
	QueueSize    int
	ReadWorkers  int
	WriteWorkers int
	ReadConns    int
	WriteConns   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:    defaultQueueSize,
		ReadWorkers:  defaultReadWorkers,
		WriteWorkers: defaultWriteWorkers,
		ReadConns:    defaultReadConns,
		WriteConns:   defaultWriteConns,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()

	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}

	if o.ReadWorkers <= 0 {
		o.ReadWorkers = d.ReadWorkers
	}

	if o.WriteWorkers <= 0 {
		o.WriteWorkers = d.WriteWorkers
	}

	if o.ReadConns <= 0 {
		o.ReadConns = d.ReadConns
	}

	if o.WriteConns <= 0 {
		o.WriteConns = d.WriteConns
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}

	return o
}

type result struct {
	value any
	err   error
}

type task struct {
	id       uuid.UUID
	kind     Kind
	op       Op
	ctx      context.Context
	done     chan result
	enqueued time.Time
}

// deliver hands the result to a waiting Submit. The channel is buffered, so
// a Submit that already gave up never blocks the worker; the value is dropped.
func (t *task) deliver(r result) {
	t.done <- r
}

// Queue is the two-lane database operation queue.
type Queue struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *zerolog.Logger

	readTasks  chan *task
	writeTasks chan *task
	readSlots  chan struct{}
	writeSlots chan struct{}

	wg      sync.WaitGroup
	running atomic.Bool

	readProcessed  atomic.Int64
	writeProcessed atomic.Int64
	readErrors     atomic.Int64
	writeErrors    atomic.Int64
}

// New creates a queue over the given pool. Call Start before Submit.
func New(pool *pgxpool.Pool, opts Options, logger *zerolog.Logger) *Queue {
	opts = opts.withDefaults()

	return &Queue{
		pool:       pool,
		opts:       opts,
		logger:     logger,
		readTasks:  make(chan *task, opts.QueueSize),
		writeTasks: make(chan *task, opts.QueueSize),
		readSlots:  make(chan struct{}, opts.ReadConns),
		writeSlots: make(chan struct{}, opts.WriteConns),
	}
}

// Start launches the worker pools. Workers exit when ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < q.opts.ReadWorkers; i++ {
		q.wg.Add(1)

		go q.worker(ctx, KindRead)
	}

	for i := 0; i < q.opts.WriteWorkers; i++ {
		q.wg.Add(1)

		go q.worker(ctx, KindWrite)
	}

	go func() {
		<-ctx.Done()
		q.running.Store(false)
	}()

	q.logger.Info().
		Int("read_workers", q.opts.ReadWorkers).
		Int("write_workers", q.opts.WriteWorkers).
		Int("queue_size", q.opts.QueueSize).
		Msg("database queue started")
}

// Stop waits for all workers to exit. Cancel the Start context first.
func (q *Queue) Stop() {
	q.running.Store(false)
	q.wg.Wait()
	q.logger.Info().Msg("database queue stopped")
}

// Submit enqueues op on the kind lane and waits for its result. timeout <= 0
// uses the lane default; the deadline covers queue wait plus execution.
func (q *Queue) Submit(ctx context.Context, kind Kind, timeout time.Duration, op Op) (any, error) {
	if !q.running.Load() {
		return nil, ErrQueueClosed
	}

	if timeout <= 0 {
		timeout = q.defaultTimeout(kind)
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := &task{
		id:       uuid.New(),
		kind:     kind,
		op:       op,
		ctx:      taskCtx,
		done:     make(chan result, 1),
		enqueued: time.Now(),
	}

	lane := q.lane(kind)

	select {
	case lane <- t:
		DBQueueDepth.WithLabelValues(string(kind)).Set(float64(len(lane)))
	default:
		q.recordError(kind)

		return nil, fmt.Errorf("%w: %s lane at capacity %d", ErrQueueFull, kind, cap(lane))
	}

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-taskCtx.Done():
		q.logger.Warn().
			Str(logFieldTaskID, t.id.String()).
			Str(logFieldKind, string(kind)).
			Msg("abandoning queued database task")

		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Kind: kind, Elapsed: time.Since(t.enqueued)}
		}

		return nil, fmt.Errorf("database task interrupted: %w", taskCtx.Err())
	}
}

func (q *Queue) worker(ctx context.Context, kind Kind) {
	defer q.wg.Done()

	lane := q.lane(kind)
	slots := q.slots(kind)

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-lane:
			DBQueueDepth.WithLabelValues(string(kind)).Set(float64(len(lane)))
			q.runTask(ctx, t, slots)
		}
	}
}

func (q *Queue) runTask(ctx context.Context, t *task, slots chan struct{}) {
	kind := string(t.kind)

	// The submitter may have given up while the task sat in the queue.
	if err := t.ctx.Err(); err != nil {
		q.recordError(t.kind)
		DBQueueOperations.WithLabelValues(kind, metricDropped).Inc()
		t.deliver(result{err: fmt.Errorf("task abandoned in queue: %w", err)})

		return
	}

	select {
	case slots <- struct{}{}:
	case <-t.ctx.Done():
		q.recordError(t.kind)
		DBQueueOperations.WithLabelValues(kind, metricDropped).Inc()
		t.deliver(result{err: fmt.Errorf("task abandoned waiting for connection: %w", t.ctx.Err())})

		return
	case <-ctx.Done():
		t.deliver(result{err: ErrQueueClosed})

		return
	}

	defer func() {
		<-slots
		DBQueueConnsAvailable.WithLabelValues(kind).Set(float64(cap(slots) - len(slots)))
	}()

	DBQueueConnsAvailable.WithLabelValues(kind).Set(float64(cap(slots) - len(slots)))
	DBQueueWaitDuration.WithLabelValues(kind).Observe(time.Since(t.enqueued).Seconds())

	conn, err := q.pool.Acquire(t.ctx)
	if err != nil {
		q.recordError(t.kind)
		DBQueueOperations.WithLabelValues(kind, metricError).Inc()
		t.deliver(result{err: fmt.Errorf("acquire connection: %w", err)})

		return
	}
	defer conn.Release()

	value, err := t.op(t.ctx, conn)
	if err != nil {
		q.recordError(t.kind)
		DBQueueOperations.WithLabelValues(kind, metricError).Inc()
		q.logger.Debug().
			Str(logFieldTaskID, t.id.String()).
			Str(logFieldKind, kind).
			Err(err).
			Msg("database task failed")
		t.deliver(result{err: err})

		return
	}

	q.recordProcessed(t.kind)
	DBQueueOperations.WithLabelValues(kind, metricOK).Inc()
	t.deliver(result{value: value})
}

func (q *Queue) lane(kind Kind) chan *task {
	if kind == KindWrite {
		return q.writeTasks
	}

	return q.readTasks
}

func (q *Queue) slots(kind Kind) chan struct{} {
	if kind == KindWrite {
		return q.writeSlots
	}

	return q.readSlots
}

func (q *Queue) defaultTimeout(kind Kind) time.Duration {
	if kind == KindWrite {
		return q.opts.WriteTimeout
	}

	return q.opts.ReadTimeout
}

func (q *Queue) recordProcessed(kind Kind) {
	if kind == KindWrite {
		q.writeProcessed.Add(1)

		return
	}

	q.readProcessed.Add(1)
}

func (q *Queue) recordError(kind Kind) {
	if kind == KindWrite {
		q.writeErrors.Add(1)

		return
	}

	q.readErrors.Add(1)
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	ReadOperations      int64 `json:"read_operations"`
	WriteOperations     int64 `json:"write_operations"`
	ReadErrors          int64 `json:"read_errors"`
	WriteErrors         int64 `json:"write_errors"`
	TotalProcessed      int64 `json:"total_processed"`
	ReadQueueSize       int   `json:"read_queue_size"`
	WriteQueueSize      int   `json:"write_queue_size"`
	ReadConnsAvailable  int   `json:"read_connections_available"`
	WriteConnsAvailable int   `json:"write_connections_available"`
	TotalWorkers        int   `json:"total_workers"`
	Running             bool  `json:"running"`
}

// Stats returns the current queue snapshot.
func (q *Queue) Stats() Stats {
	read := q.readProcessed.Load()
	write := q.writeProcessed.Load()

	return Stats{
		ReadOperations:      read,
		WriteOperations:     write,
		ReadErrors:          q.readErrors.Load(),
		WriteErrors:         q.writeErrors.Load(),
		TotalProcessed:      read + write,
		ReadQueueSize:       len(q.readTasks),
		WriteQueueSize:      len(q.writeTasks),
		ReadConnsAvailable:  cap(q.readSlots) - len(q.readSlots),
		WriteConnsAvailable: cap(q.writeSlots) - len(q.writeSlots),
		TotalWorkers:        q.opts.ReadWorkers + q.opts.WriteWorkers,
		Running:             q.running.Load(),
	}
}
