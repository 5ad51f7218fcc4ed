package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

func testPolicy(maxAttempts int) (*Policy, *[]time.Duration) {
	p := NewPolicy(maxAttempts, 100*time.Millisecond, 800*time.Millisecond, 2.0)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	p, slept := testPolicy(5)

	failures := 3
	calls := 0
	err := p.Do(context.Background(), nil, "send", func(ctx context.Context) error {
		calls++
		if calls <= failures {
			return Retryable(errors.New("connection reset"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, failures+1, calls)

	// one backoff per retry, non-decreasing and capped
	require.Len(t, *slept, failures)
	prev := time.Duration(0)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 800*time.Millisecond)
		prev = d
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	t.Parallel()

	p, slept := testPolicy(5)

	terminal := errors.New("invalid credentials")
	calls := 0
	err := p.Do(context.Background(), nil, "send", func(ctx context.Context) error {
		calls++
		return terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	p, _ := testPolicy(3)

	last := Retryable(errors.New("still down"))
	calls := 0
	err := p.Do(context.Background(), nil, "send", func(ctx context.Context) error {
		calls++
		return last
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, last)
}

func TestDoRespectsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	p := NewPolicy(3, 50*time.Millisecond, 400*time.Millisecond, 2.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, nil, "send", func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("transient"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelaySchedule(t *testing.T) {
	t.Parallel()

	p := NewPolicy(6, 100*time.Millisecond, 800*time.Millisecond, 2.0)

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3))
	assert.Equal(t, 400*time.Millisecond, p.Delay(4))
	assert.Equal(t, 800*time.Millisecond, p.Delay(5))
	assert.Equal(t, 800*time.Millisecond, p.Delay(6))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.False(t, Classify(nil))
	assert.False(t, Classify(errors.New("plain")))
	assert.True(t, Classify(Retryable(errors.New("flaky"))))
	assert.True(t, Classify(context.DeadlineExceeded))

	// delivery errors carry their own classification
	retryable := &channel.DeliveryError{Reason: "rate limited", Retryable: true}
	terminal := &channel.DeliveryError{Reason: "token expired", Retryable: false}
	assert.True(t, Classify(retryable))
	assert.False(t, Classify(terminal))
}

func TestNewPolicyClampsBadValues(t *testing.T) {
	t.Parallel()

	p := NewPolicy(0, -1, -1, 0)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Greater(t, p.InitialDelay, time.Duration(0))
	assert.GreaterOrEqual(t, p.MaxDelay, p.InitialDelay)
	assert.GreaterOrEqual(t, p.BackoffFactor, 1.0)
}
