package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/fetchgate/observability"
)

// Common gate errors.
var (
	// ErrGateCleared indicates a queued request was rejected by Clear.
	ErrGateCleared = errors.New("gate: cleared while queued")

	// ErrQueueFull indicates the bounded queue rejected an enqueue.
	ErrQueueFull = errors.New("gate: queue full")

	// ErrClosed indicates the gate has been closed.
	ErrClosed = errors.New("gate: closed")

	// ErrInvalidConfig indicates that the gate configuration is invalid.
	ErrInvalidConfig = errors.New("gate: invalid configuration")
)

// Task is a unit of work dispatched by the gate. The context it receives is
// bound to the gate's lifetime, not the submitting caller's: a dispatched
// task runs to completion even if the caller stopped waiting. A Task must
// not call Do reentrantly; the gate has a single queue and would deadlock.
type Task func(ctx context.Context) error

// Config configures a Gate.
type Config struct {
	// Interval is the minimum spacing between consecutive dispatches.
	Interval time.Duration

	// MaxQueueLength bounds the queue; 0 means unbounded.
	MaxQueueLength int

	// Now overrides the time source used for wait accounting; nil uses
	// time.Now.
	Now func() time.Time
}

// Stats is a snapshot of gate counters.
type Stats struct {
	// QueueLength is the number of requests waiting to be dispatched.
	QueueLength int

	// TotalRequests counts every accepted enqueue since the last Reset.
	TotalRequests int64

	// RejectedRequests counts enqueues rejected by a full queue plus
	// queued requests rejected by Clear.
	RejectedRequests int64

	// AverageWait is the mean time between enqueue and dispatch over
	// completed requests.
	AverageWait time.Duration
}

// queuedRequest is one entry in the FIFO queue. It is never mutated outside
// the gate.
type queuedRequest struct {
	id         uuid.UUID
	enqueuedAt time.Time
	task       Task
	done       chan error
	canceled   atomic.Bool
}

// Gate dispatches queued tasks one at a time, at most one per interval,
// in strict FIFO order.
type Gate struct {
	interval time.Duration
	maxQueue int
	limiter  *rate.Limiter
	logger   observability.Logger
	now      func() time.Time

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu       sync.Mutex
	queue    []*queuedRequest
	draining bool
	closed   bool

	totalRequests int64
	rejected      int64
	completed     int64
	totalWait     time.Duration
}

// New creates a Gate.
func New(cfg Config, logger observability.Logger) (*Gate, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if cfg.MaxQueueLength < 0 {
		return nil, fmt.Errorf("%w: max queue length must not be negative", ErrInvalidConfig)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gate{
		interval:   cfg.Interval,
		maxQueue:   cfg.MaxQueueLength,
		limiter:    rate.NewLimiter(rate.Every(cfg.Interval), 1),
		logger:     logger,
		now:        now,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}

	logger.Info("request gate initialized",
		observability.Duration("interval", cfg.Interval),
		observability.Int("maxQueueLength", cfg.MaxQueueLength))

	return g, nil
}

// Do enqueues a task and blocks until its turn is dispatched and the task
// settles, returning the task's error. If ctx ends while the request is
// still queued, Do returns ctx.Err() and the request is skipped without
// consuming a dispatch slot.
func (g *Gate) Do(ctx context.Context, task Task) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.maxQueue > 0 && len(g.queue) >= g.maxQueue {
		g.rejected++
		g.mu.Unlock()
		Metrics().rejectedTotal.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}

	req := &queuedRequest{
		id:         uuid.New(),
		enqueuedAt: g.now(),
		task:       task,
		done:       make(chan error, 1),
	}
	g.queue = append(g.queue, req)
	g.totalRequests++
	depth := len(g.queue)

	startDrain := !g.draining
	if startDrain {
		g.draining = true
	}
	g.mu.Unlock()

	Metrics().queueDepth.Set(float64(depth))

	if startDrain {
		go g.drain()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		req.canceled.Store(true)
		return ctx.Err()
	}
}

// drain pops and dispatches queued requests one at a time. Exactly one
// drain goroutine runs at a time, guarded by the draining flag.
func (g *Gate) drain() {
	for {
		g.mu.Lock()
		if len(g.queue) == 0 || g.closed {
			g.draining = false
			g.mu.Unlock()
			return
		}
		req := g.queue[0]
		g.queue = g.queue[1:]
		depth := len(g.queue)
		g.mu.Unlock()

		Metrics().queueDepth.Set(float64(depth))

		// A caller that stopped waiting while queued is skipped and
		// does not consume a dispatch slot.
		if req.canceled.Load() {
			req.done <- context.Canceled
			continue
		}

		if err := g.limiter.Wait(g.lifeCtx); err != nil {
			req.done <- ErrClosed
			continue
		}

		wait := g.now().Sub(req.enqueuedAt)
		g.mu.Lock()
		g.completed++
		g.totalWait += wait
		g.mu.Unlock()

		Metrics().dispatchedTotal.Inc()
		Metrics().waitDuration.Observe(wait.Seconds())

		g.logger.Debug("request dispatched",
			observability.String("id", req.id.String()),
			observability.Duration("wait", wait))

		req.done <- g.runTask(req)
	}
}

// runTask executes the task, converting a panic into an error so one bad
// task cannot halt the drain loop.
func (g *Gate) runTask(req *queuedRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate: task panicked: %v", r)
			g.logger.Error("task panicked",
				observability.String("id", req.id.String()),
				observability.Any("panic", r))
		}
	}()
	return req.task(g.lifeCtx)
}

// Stats returns a snapshot of gate counters. It has no side effects.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var avg time.Duration
	if g.completed > 0 {
		avg = g.totalWait / time.Duration(g.completed)
	}

	return Stats{
		QueueLength:      len(g.queue),
		TotalRequests:    g.totalRequests,
		RejectedRequests: g.rejected,
		AverageWait:      avg,
	}
}

// Clear rejects every queued (undispatched) request with ErrGateCleared.
// An in-flight dispatch is unaffected and settles normally.
func (g *Gate) Clear() {
	g.mu.Lock()
	cleared := g.queue
	g.queue = nil
	g.rejected += int64(len(cleared))
	g.mu.Unlock()

	for _, req := range cleared {
		req.done <- ErrGateCleared
		Metrics().rejectedTotal.WithLabelValues("cleared").Inc()
	}

	if len(cleared) > 0 {
		Metrics().queueDepth.Set(0)
		g.logger.Info("gate cleared",
			observability.Int("rejected", len(cleared)))
	}
}

// Reset zeroes the stats counters without touching the queue.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalRequests = 0
	g.rejected = 0
	g.completed = 0
	g.totalWait = 0
}

// Close rejects all queued requests and refuses further enqueues. It is
// safe to call more than once.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.Clear()
	g.lifeCancel()

	g.logger.Info("request gate closed")
	return nil
}
