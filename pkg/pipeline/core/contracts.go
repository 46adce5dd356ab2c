package core

import "context"

// Source yields the items a run processes.
type Source[In any] interface {
	Load(ctx context.Context) ([]In, error)
}

// Sink receives results as they complete.
type Sink[Out any] interface {
	Write(out Out) error
	Close() error
}

// ProcessFunc transforms one input item into one output item.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but at most MaxRetries extra times regardless of
// the pool-wide setting. Upstream rate limits use it so a throttled host is not hammered.
type LimitedTransientError struct {
	Err        error
	MaxRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.MaxRetries
}
