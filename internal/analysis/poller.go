package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the processing state of a remotely submitted artifact.
type State string

const (
	StateProcessing State = "PROCESSING"
	StateActive     State = "ACTIVE"
	StateFailed     State = "FAILED"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 120 * time.Second
)

var (
	// ErrJobFailed means the remote side rejected the artifact.
	ErrJobFailed = errors.New("Gemini file processing failed: FAILED")
	// ErrJobTimeout matches any *TimeoutError.
	ErrJobTimeout = errors.New("gemini file not ready")
)

// TimeoutError reports that the artifact never became ACTIVE within MaxWait.
type TimeoutError struct {
	MaxWait time.Duration
	State   State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Gemini file not ready after %ds: %s", int(e.MaxWait/time.Second), e.State)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrJobTimeout }

// Job tracks one submitted artifact while it is being polled.
type Job struct {
	RemoteID string
	State    State
	Elapsed  time.Duration
}

// Poller waits for a Job to leave PROCESSING.
//
// Elapsed time is counted in whole intervals rather than wall-clock time, so with the
// defaults there are at most 24 status checks.
type Poller struct {
	Interval time.Duration
	MaxWait  time.Duration

	// Sleep blocks for d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Poller) withDefaults() Poller {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Wait polls until job is ACTIVE (nil), FAILED (ErrJobFailed), or still not ACTIVE once
// MaxWait has elapsed (*TimeoutError). poll returns the current remote state.
func (p Poller) Wait(ctx context.Context, job *Job, poll func(context.Context) (State, error)) error {
	p = p.withDefaults()
	for job.State == StateProcessing && job.Elapsed < p.MaxWait {
		if err := p.Sleep(ctx, p.Interval); err != nil {
			return err
		}
		job.Elapsed += p.Interval
		state, err := poll(ctx)
		if err != nil {
			return fmt.Errorf("poll %s: %w", job.RemoteID, err)
		}
		job.State = state
	}
	switch job.State {
	case StateActive:
		return nil
	case StateFailed:
		return ErrJobFailed
	default:
		return &TimeoutError{MaxWait: p.MaxWait, State: job.State}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
