// Package worker runs a processing function over a slice of items with a bounded pool,
// a shared rate limit, per-item timeouts and retries for transient failures.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/core"
)

type FailurePolicy int

const (
	// FailurePolicyPartialOutput records per-item errors and keeps going.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast cancels the run on the first item error.
	FailurePolicyFailFast
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
	// Attempts counts processor calls, including the first.
	Attempts int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// ProcessAll runs fn over all items and returns results in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	fn core.ProcessFunc[In, Out],
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, fn, nil, opts)
}

// ProcessAllWithCallback is ProcessAll with onResult invoked in completion order from a
// single goroutine. A callback error stops the run.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn core.ProcessFunc[In, Out],
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	type job struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Result[In, Out]
	}

	jobs := make(chan job)
	done := make(chan completion, opts.Workers)

	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if runCtx.Err() != nil {
					return
				}
				res := runItem(runCtx, j.in, fn, limiter, opts)
				select {
				case done <- completion{idx: j.idx, res: res}:
				case <-runCtx.Done():
					return
				}
				if res.Err != nil && opts.FailurePolicy == FailurePolicyFailFast {
					fail(res.Err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	out := make([]Result[In, Out], len(items))
	for c := range done {
		out[c.idx] = c.res
		if onResult != nil {
			if err := onResult(c.res); err != nil {
				fail(err)
			}
		}
	}

	// fail only runs from workers and this goroutine, both finished by now.
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func runItem[In any, Out any](
	ctx context.Context,
	item In,
	fn core.ProcessFunc[In, Out],
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	res := Result[In, Out]{Input: item}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Err = err
				return res
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		out, err := fn(reqCtx, item)
		cancel()
		res.Attempts++
		res.Output, res.Err = out, err
		if err == nil {
			return res
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if !IsTransient(err) || attempt >= retryBudget(opts.MaxRetries, err) {
			return res
		}

		wait := Backoff(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			res.Err = ctx.Err()
			return res
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

// retryBudget is the pool-wide retry count, lowered by any cap the error carries.
func retryBudget(poolRetries int, err error) int {
	var rc retryCap
	if errors.As(err, &rc) {
		return max(0, min(rc.MaxExtraRetries(), poolRetries))
	}
	return poolRetries
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Backoff doubles initial per attempt up to limit, then applies +/- jitterFrac.
func Backoff(initial, limit time.Duration, jitterFrac float64, attempt int) time.Duration {
	d := initial
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	d = min(d, limit)
	if jitterFrac <= 0 {
		return d
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * j)
}
