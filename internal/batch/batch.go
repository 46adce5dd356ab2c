// Package batch enriches a list of URLs with a worker pool and writes one classified row
// per URL.
package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/enrich"
	"github.com/shpitdev/bookmark-enricher/internal/fetch"
	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/core"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

// Header is the output CSV header.
var Header = []string{"url", "domain", "type", "title", "notify", "reason", "status", "error"}

// Row statuses.
const (
	StatusOK     = "ok"
	StatusNotify = "notify"
	StatusFailed = "failed"
)

// rateLimitRetries caps retries of a 429 so a throttling host is not hammered.
const rateLimitRetries = 1

type Enricher interface {
	Enrich(ctx context.Context, url string, opts enrich.WebpageOptions) (enrich.WebpageOutcome, error)
}

type Options struct {
	Worker  worker.Options
	Webpage enrich.WebpageOptions
	Logger  *zap.Logger
}

// Summary counts rows by status.
type Summary struct {
	RunID    string
	Total    int
	OK       int
	Notify   int
	Failed   int
	Retried  int
	Duration time.Duration
}

type Runner struct {
	enricher Enricher
	opts     Options
	log      *zap.Logger
}

func NewRunner(e Enricher, opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{enricher: e, opts: opts, log: log}
}

// Run loads URLs from src, enriches them and writes a row per URL to sink in completion
// order. The sink is closed before Run returns.
func (r *Runner) Run(ctx context.Context, src core.Source[string], sink core.Sink[[]string]) (sum Summary, err error) {
	sum.RunID = uuid.NewString()
	log := r.log.With(zap.String("run_id", sum.RunID))
	start := time.Now()

	defer func() {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close output: %w", cerr))
		}
	}()

	urls, err := src.Load(ctx)
	if err != nil {
		return sum, fmt.Errorf("load input: %w", err)
	}
	sum.Total = len(urls)
	log.Info("batch started", zap.Int("urls", len(urls)), zap.Int("workers", r.opts.Worker.Workers))

	wopts := r.opts.Worker
	wopts.OnRetry = func(attempt int, wait time.Duration, err error) {
		log.Warn("retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.String("error", redact.Secrets(err.Error())))
	}

	_, err = worker.ProcessAllWithCallback(ctx, urls, r.process, func(res worker.Result[string, enrich.WebpageOutcome]) error {
		row, status := RowFor(res.Input, res.Output, res.Err)
		switch status {
		case StatusOK:
			sum.OK++
		case StatusNotify:
			sum.Notify++
		default:
			sum.Failed++
		}
		if res.Attempts > 1 {
			sum.Retried++
		}
		return sink.Write(row)
	}, wopts)

	sum.Duration = time.Since(start)
	log.Info("batch finished",
		zap.Int("total", sum.Total),
		zap.Int("ok", sum.OK),
		zap.Int("notify", sum.Notify),
		zap.Int("failed", sum.Failed),
		zap.Int("retried", sum.Retried),
		zap.Duration("elapsed", sum.Duration),
	)
	return sum, err
}

// process enriches one URL. Embedded errors with a transient cause are surfaced so the pool
// retries them; the outcome is returned either way so the last attempt's record is kept.
func (r *Runner) process(ctx context.Context, url string) (enrich.WebpageOutcome, error) {
	out, err := r.enricher.Enrich(ctx, url, r.opts.Webpage)
	if err != nil {
		return out, err
	}
	if terr := retryable(out.FetchErr); terr != nil {
		return out, terr
	}
	if terr := retryable(out.AnalysisErr); terr != nil {
		return out, terr
	}
	return out, nil
}

// retryable wraps err for the worker pool when another attempt could succeed.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var hs *fetch.HTTPStatusError
	if errors.As(err, &hs) {
		switch {
		case hs.StatusCode == http.StatusTooManyRequests:
			return &core.LimitedTransientError{Err: err, MaxRetries: rateLimitRetries}
		case hs.StatusCode >= 500:
			return &core.TransientError{Err: err}
		}
		return nil
	}
	if errors.Is(err, fetch.ErrTimeout) || worker.IsTransient(err) {
		return &core.TransientError{Err: err}
	}
	return nil
}

// RowFor renders one output row. An embedded record error that exhausted its retries is
// still a record, so it classifies as notify rather than failed.
func RowFor(url string, out enrich.WebpageOutcome, err error) ([]string, string) {
	rec := out.Record
	if rec == nil {
		msg := "no record"
		if err != nil {
			msg = redact.Secrets(err.Error())
		}
		return []string{url, enrich.DomainOf(url), "", "", "true", "", StatusFailed, msg}, StatusFailed
	}

	v := enrichment.Classify(rec, http.StatusOK)
	status := StatusOK
	if v.Notify {
		status = StatusNotify
	}
	var errMsg string
	if rec.Error != nil {
		errMsg = rec.Error.Message
	}
	return []string{
		rec.URL,
		rec.Domain,
		string(rec.Type),
		rec.Title,
		strconv.FormatBool(v.Notify),
		v.Reason,
		status,
		errMsg,
	}, status
}
