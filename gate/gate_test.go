package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/fetchgate/observability"
)

func newTestGate(t *testing.T, cfg Config) *Gate {
	t.Helper()

	g, err := New(cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// enqueueAsync submits a task from a goroutine and waits until the gate has
// accepted it, so that successive calls produce a deterministic queue order.
func enqueueAsync(t *testing.T, g *Gate, task Task) <-chan error {
	t.Helper()

	before := g.Stats().TotalRequests
	result := make(chan error, 1)
	go func() {
		result <- g.Do(context.Background(), task)
	}()

	require.Eventually(t, func() bool {
		return g.Stats().TotalRequests > before
	}, time.Second, time.Millisecond)

	return result
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Interval: time.Millisecond, MaxQueueLength: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGate_Do_ReturnsTaskResult(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	taskErr := errors.New("origin unavailable")
	err = g.Do(context.Background(), func(ctx context.Context) error {
		return taskErr
	})
	assert.ErrorIs(t, err, taskErr)
}

func TestGate_TaskErrorDoesNotHaltDrain(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	_ = g.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestGate_TaskPanicIsRecovered(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.NoError(t, g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}))
}

func TestGate_FIFOOrder(t *testing.T) {
	g := newTestGate(t, Config{Interval: 2 * time.Millisecond})

	const n = 10

	var mu sync.Mutex
	var order []int
	var results []<-chan error

	for i := 0; i < n; i++ {
		i := i
		results = append(results, enqueueAsync(t, g, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	for _, result := range results {
		assert.NoError(t, <-result)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "dispatch order must equal enqueue order")
	}
}

func TestGate_DispatchSpacing(t *testing.T) {
	const interval = 30 * time.Millisecond
	g := newTestGate(t, Config{Interval: interval})

	const n = 5

	var mu sync.Mutex
	var dispatchTimes []time.Time
	var results []<-chan error

	for i := 0; i < n; i++ {
		results = append(results, enqueueAsync(t, g, func(ctx context.Context) error {
			mu.Lock()
			dispatchTimes = append(dispatchTimes, time.Now())
			mu.Unlock()
			return nil
		}))
	}

	for _, result := range results {
		require.NoError(t, <-result)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatchTimes, n)

	// Allow a small scheduler tolerance below the configured interval.
	const tolerance = 5 * time.Millisecond
	for i := 1; i < n; i++ {
		gap := dispatchTimes[i].Sub(dispatchTimes[i-1])
		assert.GreaterOrEqual(t, gap, interval-tolerance,
			"gap between dispatch %d and %d too small", i-1, i)
	}

	total := dispatchTimes[n-1].Sub(dispatchTimes[0])
	assert.GreaterOrEqual(t, total, (n-1)*interval-tolerance)
}

func TestGate_QueueFull(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond, MaxQueueLength: 2})

	started := make(chan struct{})
	release := make(chan struct{})

	first := enqueueAsync(t, g, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	// The first task is executing; these two fill the bounded queue.
	second := enqueueAsync(t, g, func(ctx context.Context) error { return nil })
	third := enqueueAsync(t, g, func(ctx context.Context) error { return nil })

	err := g.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.RejectedRequests)

	close(release)
	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.NoError(t, <-third)
}

func TestGate_Clear(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})

	executing := enqueueAsync(t, g, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	var queued []<-chan error
	for i := 0; i < 3; i++ {
		queued = append(queued, enqueueAsync(t, g, func(ctx context.Context) error {
			return nil
		}))
	}

	g.Clear()

	for _, result := range queued {
		assert.ErrorIs(t, <-result, ErrGateCleared)
	}

	// The in-flight dispatch still settles normally.
	close(release)
	assert.NoError(t, <-executing)

	assert.Equal(t, int64(3), g.Stats().RejectedRequests)
}

func TestGate_CancelWhileQueued(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})

	executing := enqueueAsync(t, g, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())

	var ran bool
	var mu sync.Mutex

	before := g.Stats().TotalRequests
	canceled := make(chan error, 1)
	go func() {
		canceled <- g.Do(ctx, func(ctx context.Context) error {
			mu.Lock()
			ran = true
			mu.Unlock()
			return nil
		})
	}()
	require.Eventually(t, func() bool {
		return g.Stats().TotalRequests > before
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-canceled, context.Canceled)

	close(release)
	require.NoError(t, <-executing)

	// Give the drain loop time to skip the canceled request, then verify
	// it never executed and the gate still dispatches.
	assert.NoError(t, g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran, "canceled queued task must not run")
}

func TestGate_Stats(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error {
			return nil
		}))
	}

	stats := g.Stats()
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.RejectedRequests)
	assert.GreaterOrEqual(t, stats.AverageWait, time.Duration(0))
}

func TestGate_Reset(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	require.Equal(t, int64(1), g.Stats().TotalRequests)

	g.Reset()

	stats := g.Stats()
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.RejectedRequests)
	assert.Equal(t, time.Duration(0), stats.AverageWait)
}

func TestGate_Close(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	require.NoError(t, g.Close())

	err := g.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, g.Close())
}

func TestGate_CloseRejectsQueued(t *testing.T) {
	g := newTestGate(t, Config{Interval: time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})

	executing := enqueueAsync(t, g, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := enqueueAsync(t, g, func(ctx context.Context) error { return nil })

	require.NoError(t, g.Close())
	assert.ErrorIs(t, <-queued, ErrGateCleared)

	close(release)
	assert.NoError(t, <-executing)
}
