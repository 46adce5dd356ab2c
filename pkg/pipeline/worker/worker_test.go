package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/core"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/worker"
)

func fastOpts() worker.Options {
	return worker.Options{
		Workers:        1,
		RequestTimeout: time.Second,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestProcessAll_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &core.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	}

	var retries []int
	opts := fastOpts()
	opts.MaxRetries = 3
	opts.OnRetry = func(attempt int, _ time.Duration, err error) {
		retries = append(retries, attempt)
		assert.EqualError(t, err, "try again")
	}

	out, err := worker.ProcessAll(context.Background(), []string{"https://example.com"}, fn, opts)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, "ok", out[0].Output)
	assert.Equal(t, 3, out[0].Attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestProcessAll_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	}

	opts := fastOpts()
	opts.MaxRetries = 10
	out, err := worker.ProcessAll(context.Background(), []string{"https://example.com"}, fn, opts)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualError(t, out[0].Err, "permanent")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessAll_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &core.LimitedTransientError{Err: errors.New("throttled"), MaxRetries: 1}
	}

	opts := fastOpts()
	opts.MaxRetries = 10
	out, err := worker.ProcessAll(context.Background(), []string{"https://example.com"}, fn, opts)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Error(t, out[0].Err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, out[0].Attempts)
}

func TestProcessAll_FailFastStops(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, u string) (string, error) {
		calls.Add(1)
		if u == "bad" {
			return "", errors.New("boom")
		}
		t.Errorf("unexpected call for %q", u)
		return "", nil
	}

	opts := fastOpts()
	opts.FailurePolicy = worker.FailurePolicyFailFast
	out, err := worker.ProcessAll(context.Background(), []string{"bad", "good"}, fn, opts)
	assert.EqualError(t, err, "boom")
	assert.Nil(t, out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProcessAll_PartialOutputKeepsInputOrder(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, u string) (string, error) {
		if u == "bad" {
			return "", errors.New("boom")
		}
		return u + "!", nil
	}

	opts := fastOpts()
	opts.Workers = 3
	out, err := worker.ProcessAll(context.Background(), []string{"bad", "a", "b"}, fn, opts)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.EqualError(t, out[0].Err, "boom")
	assert.Equal(t, "a!", out[1].Output)
	assert.Equal(t, "b!", out[2].Output)
}

func TestProcessAll_TimeoutIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(ctx context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}

	opts := fastOpts()
	opts.RequestTimeout = 20 * time.Millisecond
	opts.MaxRetries = 1
	out, err := worker.ProcessAll(context.Background(), []string{"slow"}, fn, opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", out[0].Output)
	assert.Equal(t, 2, out[0].Attempts)
}

func TestProcessAllWithCallback_CompletionOrder(t *testing.T) {
	t.Parallel()

	releaseSlow := make(chan struct{})
	fn := func(_ context.Context, u string) (string, error) {
		if u == "slow" {
			<-releaseSlow
		}
		return u, nil
	}

	var mu sync.Mutex
	var seen []string
	onResult := func(res worker.Result[string, string]) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, res.Input)
		if res.Input == "fast" {
			close(releaseSlow)
		}
		return nil
	}

	opts := fastOpts()
	opts.Workers = 2
	_, err := worker.ProcessAllWithCallback(context.Background(), []string{"slow", "fast"}, fn, onResult, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "slow"}, seen)
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	callbackErr := errors.New("callback failed")
	_, err := worker.ProcessAllWithCallback(
		context.Background(),
		[]string{"a"},
		func(_ context.Context, u string) (string, error) { return u, nil },
		func(worker.Result[string, string]) error { return callbackErr },
		fastOpts(),
	)
	assert.ErrorIs(t, err, callbackErr)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, worker.IsTransient(nil))
	assert.False(t, worker.IsTransient(errors.New("x")))
	assert.True(t, worker.IsTransient(&core.TransientError{Err: errors.New("x")}))
	assert.True(t, worker.IsTransient(context.DeadlineExceeded))
	assert.False(t, worker.IsTransient(context.Canceled))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, worker.Backoff(100*time.Millisecond, time.Second, 0, 0))
	assert.Equal(t, 400*time.Millisecond, worker.Backoff(100*time.Millisecond, time.Second, 0, 2))
	assert.Equal(t, time.Second, worker.Backoff(100*time.Millisecond, time.Second, 0, 10))

	d := worker.Backoff(time.Second, time.Second, 0.2, 0)
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)
}
