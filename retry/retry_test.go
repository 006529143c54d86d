package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func fastConfig() *Config {
	return &Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFactor:   0.1,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, errTransient)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 4, calls)
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("permanent failure")
	calls := 0

	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	}, &Options{
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, permanent)
		},
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int

	err := Do(context.Background(), fastConfig(), func() error {
		return errTransient
	}, &Options{
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			attempts = append(attempts, attempt)
			assert.ErrorIs(t, err, errTransient)
			assert.Greater(t, backoff, time.Duration(0))
		},
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_NilConfigUsesDefaults(t *testing.T) {
	err := Do(context.Background(), nil, func() error {
		return nil
	}, nil)
	assert.NoError(t, err)
}

func TestCalculateBackoff(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second

	for attempt := 0; attempt < 10; attempt++ {
		backoff := CalculateBackoff(attempt, initial, max, 0.25)
		assert.GreaterOrEqual(t, backoff, time.Duration(0))
		assert.LessOrEqual(t, backoff, max)
	}

	// Without jitter the first attempt equals the initial backoff.
	assert.Equal(t, initial, CalculateBackoff(0, initial, max, 0))
}
