package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/batch"
	"github.com/shpitdev/bookmark-enricher/internal/config"
	"github.com/shpitdev/bookmark-enricher/internal/enrich"
	"github.com/shpitdev/bookmark-enricher/internal/jobs"
	"github.com/shpitdev/bookmark-enricher/internal/logging"
	"github.com/shpitdev/bookmark-enricher/internal/server"
	"github.com/shpitdev/bookmark-enricher/internal/version"
	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/io/local"
	"github.com/shpitdev/bookmark-enricher/pkg/pipeline/worker"
	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
	exitNotify  = 3
)

// env is filled in by the app's Before hook.
type env struct {
	cfg config.Config
	log *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "enricher: %s\n", redact.Secrets(err.Error()))
		os.Exit(exitFailure)
	}
}

func newApp(stdout io.Writer) *cli.App {
	e := &env{}
	return &cli.App{
		Name:      "enricher",
		Usage:     "enrich bookmarked URLs into normalized metadata records",
		Version:   version.Current,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", EnvVars: []string{config.FileEnv}},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before reading the environment"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (env: LOG_LEVEL)"},
			&cli.StringFlag{Name: "log-format", Usage: "json or console (env: LOG_FORMAT)"},
		},
		Before: e.load,
		After: func(*cli.Context) error {
			if e.log != nil {
				_ = e.log.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			e.serveCommand(),
			e.workCommand(),
			e.webpageCommand(),
			e.videoCommand(),
			e.batchCommand(),
			classifyCommand(),
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintln(c.App.Writer, version.Current)
					return err
				},
			},
		},
	}
}

func (e *env) load(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return cli.Exit("config error: "+redact.Secrets(err.Error()), exitConfig)
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit("config error: "+err.Error(), exitConfig)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	e.cfg = cfg
	e.log = log.With(zap.String("version", version.Current))
	return nil
}

func (e *env) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve /enrich/webpage, /enrich/video, /classify and /healthz",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listen port (env: PORT)"},
			&cli.DurationFlag{Name: "request-timeout", Usage: "per-request deadline, 0 disables (env: SERVER_REQUEST_TIMEOUT)"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("port") {
				e.cfg.Server.Port = c.Int("port")
			}
			if c.IsSet("request-timeout") {
				e.cfg.Server.RequestTimeout = c.Duration("request-timeout")
			}
			srv, closeFn, err := e.newServer(c.Context)
			if err != nil {
				return err
			}
			defer closeFn()

			addr := net.JoinHostPort("", strconv.Itoa(e.cfg.Server.Port))
			hs := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- hs.ListenAndServe() }()
			e.log.Info("listening", zap.String("addr", addr))

			select {
			case err := <-errc:
				return err
			case <-c.Context.Done():
			}
			e.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Context), 30*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		},
	}
}

func (e *env) workCommand() *cli.Command {
	return &cli.Command{
		Name:  "work",
		Usage: "pull enrichment jobs from GET_JOB_URI and post results to POST_RESULT_URI",
		Action: func(c *cli.Context) error {
			if !(jobs.Config{GetJobURI: e.cfg.Jobs.GetJobURI, PostResultURI: e.cfg.Jobs.PostResultURI}).Enabled() {
				return cli.Exit("work requires GET_JOB_URI and POST_RESULT_URI", exitConfig)
			}
			srv, closeFn, err := e.newServer(c.Context)
			if err != nil {
				return err
			}
			defer closeFn()

			client, err := jobs.NewClient(jobs.Config{
				GetJobURI:     e.cfg.Jobs.GetJobURI,
				PostResultURI: e.cfg.Jobs.PostResultURI,
				AuthToken:     e.cfg.Jobs.AuthToken,
				CAPath:        e.cfg.Jobs.CAPath,
			}, e.log.Named("jobs"))
			if err != nil {
				return cli.Exit(redact.Secrets(err.Error()), exitConfig)
			}
			if err := client.Run(c.Context, jobs.Dispatch(srv)); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (e *env) newServer(ctx context.Context) (*server.Server, func(), error) {
	webpage, err := newWebpage(ctx, e.cfg, e.log)
	if err != nil {
		return nil, nil, err
	}
	video, closeStore, err := newVideo(ctx, e.cfg, e.log)
	if err != nil {
		return nil, nil, err
	}
	srv := server.New(webpage, video, server.Options{
		Version:        version.Current,
		RequestTimeout: e.cfg.Server.RequestTimeout,
		Logger:         e.log.Named("http"),
	})
	return srv, func() {
		if err := closeStore(); err != nil {
			e.log.Warn("close storage", zap.Error(err))
		}
	}, nil
}

func (e *env) webpageCommand() *cli.Command {
	return &cli.Command{
		Name:  "webpage",
		Usage: "enrich one webpage and print the record",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Required: true},
			&cli.BoolFlag{Name: "skip-ai", Usage: "skip Gemini analysis"},
			&cli.BoolFlag{Name: "no-code", Usage: "do not extract code snippets"},
		},
		Action: func(c *cli.Context) error {
			wp, err := newWebpage(c.Context, e.cfg, e.log)
			if err != nil {
				return err
			}
			out, err := wp.Enrich(c.Context, c.String("url"), enrich.WebpageOptions{
				SkipAI:      c.Bool("skip-ai"),
				ExtractCode: !c.Bool("no-code"),
			})
			if err != nil {
				return err
			}
			if err := printJSON(c.App.Writer, out.Record); err != nil {
				return err
			}
			if v := enrichment.Classify(out.Record, http.StatusOK); v.Notify {
				return cli.Exit(fmt.Sprintf("notify: %s %s", v.Reason, v.Detail), exitNotify)
			}
			return nil
		},
	}
}

func (e *env) videoCommand() *cli.Command {
	return &cli.Command{
		Name:  "video",
		Usage: "download, store and analyze one video",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Required: true},
			&cli.StringFlag{Name: "filename", Usage: "stored file name (default: derived from title and uploader)"},
			&cli.BoolFlag{Name: "no-audio", Usage: "skip mp3 extraction"},
			&cli.BoolFlag{Name: "no-analysis", Usage: "skip Gemini video analysis"},
		},
		Action: func(c *cli.Context) error {
			v, closeStore, err := newVideo(c.Context, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			resp, err := v.Enrich(c.Context, enrich.VideoRequest{
				URL:          c.String("url"),
				Filename:     c.String("filename"),
				ExtractAudio: !c.Bool("no-audio"),
				AnalyzeVideo: !c.Bool("no-analysis"),
			})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, resp)
		},
	}
}

func (e *env) batchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "enrich every URL of a CSV and write classified rows",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Required: true, Usage: "input CSV with a url column (- for stdin)"},
			&cli.StringFlag{Name: "output", Required: true, Usage: "output CSV (- for stdout)"},
			&cli.StringFlag{Name: "column", Value: "url", Usage: "input column holding URLs"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent enrichments (env: WORKERS)"},
			&cli.IntFlag{Name: "max-retries", Usage: "retries per URL for transient failures (env: MAX_RETRIES)"},
			&cli.DurationFlag{Name: "request-timeout", Usage: "per-URL timeout (env: REQUEST_TIMEOUT)"},
			&cli.Float64Flag{Name: "rate-limit-rps", Usage: "global rate limit, 0 disables (env: RATE_LIMIT_RPS)"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "stop at the first failed URL (env: FAIL_FAST)"},
			&cli.BoolFlag{Name: "skip-ai", Usage: "skip Gemini analysis"},
		},
		Action: func(c *cli.Context) error {
			b := e.cfg.Batch
			if c.IsSet("workers") {
				b.Workers = c.Int("workers")
			}
			if c.IsSet("max-retries") {
				b.MaxRetries = c.Int("max-retries")
			}
			if c.IsSet("request-timeout") {
				b.RequestTimeout = c.Duration("request-timeout")
			}
			if c.IsSet("rate-limit-rps") {
				b.RateLimitRPS = c.Float64("rate-limit-rps")
			}
			if c.IsSet("fail-fast") {
				b.FailFast = c.Bool("fail-fast")
			}

			wp, err := newWebpage(c.Context, e.cfg, e.log)
			if err != nil {
				return err
			}
			sink, err := local.CreateCSVSink(c.String("output"), batch.Header)
			if err != nil {
				return fmt.Errorf("open output: %w", err)
			}

			policy := worker.FailurePolicyPartialOutput
			if b.FailFast {
				policy = worker.FailurePolicyFailFast
			}
			runner := batch.NewRunner(wp, batch.Options{
				Worker: worker.Options{
					Workers:           b.Workers,
					MaxRetries:        b.MaxRetries,
					RequestTimeout:    b.RequestTimeout,
					RateLimitRPS:      b.RateLimitRPS,
					FailurePolicy:     policy,
					BackoffJitterFrac: 0.2,
				},
				Webpage: enrich.WebpageOptions{SkipAI: c.Bool("skip-ai"), ExtractCode: true},
				Logger:  e.log.Named("batch"),
			})
			sum, err := runner.Run(c.Context, local.FileSource{Path: c.String("input"), Column: c.String("column")}, sink)
			if err != nil {
				return err
			}
			if sum.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d URLs failed", sum.Failed, sum.Total), exitFailure)
			}
			return nil
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "classify an enrichment record read from a file or stdin",
		ArgsUsage: "[record.json]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "status", Value: http.StatusOK, Usage: "HTTP status the record was delivered with"},
		},
		Action: func(c *cli.Context) error {
			var (
				body []byte
				err  error
			)
			if path := c.Args().First(); path != "" && path != "-" {
				body, err = os.ReadFile(path)
			} else {
				body, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			v := enrichment.ClassifyJSON(body, c.Int("status"))
			if err := printJSON(c.App.Writer, v); err != nil {
				return err
			}
			if v.Notify {
				return cli.Exit("", exitNotify)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
