package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"easypay.backend/pkg/metrics"
)

// Priority orders admitted requests. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical

	numPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

var (
	// ErrQueueFull is returned when the target priority level is at capacity.
	ErrQueueFull = errors.New("request queue is full")
	// ErrTimeout is returned when no worker picked the request up in time.
	ErrTimeout = errors.New("request timed out in queue")
	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("request queue is shutting down")
)

// Config sizes the queue and its worker pool.
type Config struct {
	MaxQueueSize   int
	MaxWorkers     int
	RequestTimeout time.Duration
}

// DefaultConfig returns the standard admission sizing.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:   1000,
		MaxWorkers:     10,
		RequestTimeout: 30 * time.Second,
	}
}

type item struct {
	fn   func()
	done chan struct{}
	// claimed settles ownership between the worker that dequeued the item
	// and a submitter giving up on it. Exactly one side wins: a worker that
	// loses discards the item, a submitter that loses waits on done.
	claimed atomic.Bool
}

// claim returns true for exactly one caller.
func (it *item) claim() bool {
	return it.claimed.CompareAndSwap(false, true)
}

// RequestQueue is a bounded in-memory priority queue with a fixed worker
// pool. Workers always drain the highest non-empty level first.
type RequestQueue struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	levels   [numPriorities][]*item
	queued   int
	inFlight int64
	draining bool

	wg sync.WaitGroup
}

// New creates the queue and starts its workers.
func New(cfg Config) *RequestQueue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	q := &RequestQueue{cfg: cfg}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(cfg.MaxWorkers)
	for i := 0; i < cfg.MaxWorkers; i++ {
		go q.worker()
	}
	return q
}

// Load reports queued plus in-flight requests.
func (q *RequestQueue) Load() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued + int(atomic.LoadInt64(&q.inFlight))
}

// Capacity returns the configured total queue capacity.
func (q *RequestQueue) Capacity() int {
	return q.cfg.MaxQueueSize
}

// Draining reports whether Shutdown has begun.
func (q *RequestQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Submit enqueues fn at the given priority and blocks until it has run or
// the request timeout elapsed. fn runs on a worker goroutine.
func (q *RequestQueue) Submit(ctx context.Context, priority Priority, fn func()) error {
	if priority < PriorityLow || priority > PriorityCritical {
		priority = PriorityLow
	}

	it := &item{
		fn:   fn,
		done: make(chan struct{}),
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return ErrShuttingDown
	}
	if q.queued >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.levels[priority] = append(q.levels[priority], it)
	q.queued++
	metrics.QueueDepth.WithLabelValues(priority.String()).Set(float64(len(q.levels[priority])))
	q.cond.Signal()
	q.mu.Unlock()

	timer := time.NewTimer(q.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-it.done:
		return nil
	case <-timer.C:
		if !it.claim() {
			// a worker already picked the item up; the request is being
			// served, so wait it out instead of abandoning a live handler
			<-it.done
			return nil
		}
		return ErrTimeout
	case <-ctx.Done():
		if !it.claim() {
			<-it.done
			return nil
		}
		return ctx.Err()
	}
}

// Serve runs fn immediately on the caller, bypassing the queue, while still
// counting it against in-flight load. Used for CRITICAL requests under
// backpressure.
func (q *RequestQueue) Serve(fn func()) {
	atomic.AddInt64(&q.inFlight, 1)
	defer atomic.AddInt64(&q.inFlight, -1)
	fn()
}

func (q *RequestQueue) worker() {
	defer q.wg.Done()
	for {
		it, ok := q.next()
		if !ok {
			return
		}

		if !it.claim() {
			// the submitter timed out or went away before we got here
			metrics.QueueTimeoutsTotal.Inc()
			continue
		}

		atomic.AddInt64(&q.inFlight, 1)
		it.fn()
		atomic.AddInt64(&q.inFlight, -1)
		close(it.done)
	}
}

// next blocks until an item is available or the queue is drained empty
// during shutdown.
func (q *RequestQueue) next() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for level := PriorityCritical; level >= PriorityLow; level-- {
			if len(q.levels[level]) > 0 {
				it := q.levels[level][0]
				q.levels[level] = q.levels[level][1:]
				q.queued--
				metrics.QueueDepth.WithLabelValues(level.String()).Set(float64(len(q.levels[level])))
				return it, true
			}
		}
		if q.draining {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Shutdown stops accepting new requests and waits for queued work to drain
// until ctx expires. Items never picked up are abandoned; their submitters
// already received ErrShuttingDown or a timeout.
func (q *RequestQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.draining = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
