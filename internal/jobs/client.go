// Package jobs pulls enrichment jobs from an orchestrator queue and posts each result back.
//
// The queue speaks the compute-module job protocol: GET the job URI returns 204 when idle
// or a {"computeModuleJobV1": {...}} envelope, and results are POSTed to
// <result URI>/<jobId>. Both calls carry a Module-Auth-Token header.
package jobs

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

type envelope struct {
	Job Job `json:"computeModuleJobV1"`
}

// Job is one queued request. Query carries the same JSON body the HTTP route accepts.
type Job struct {
	JobID     string          `json:"jobId"`
	QueryType string          `json:"queryType"`
	Query     json.RawMessage `json:"query"`
}

// Result is what a handler produced for a job.
type Result struct {
	Status int
	Body   []byte
}

// Handler runs one job.
type Handler func(ctx context.Context, job Job) (Result, error)

type Config struct {
	GetJobURI     string
	PostResultURI string
	// AuthToken is the token itself or a path to a file holding it.
	AuthToken string
	// CAPath is an optional PEM bundle trusted for both endpoints.
	CAPath string
}

// Enabled reports whether both queue endpoints are set.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.GetJobURI) != "" && strings.TrimSpace(c.PostResultURI) != ""
}

const (
	idleWait       = 500 * time.Millisecond
	maxErrorWait   = 5 * time.Second
	postAttempts   = 5
	requestTimeout = 30 * time.Second
)

type Client struct {
	getURI  string
	postURI string
	token   string
	hc      *http.Client
	log     *zap.Logger

	// Sleep waits between polls. Tests shorten it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("GET_JOB_URI and POST_RESULT_URI are required")
	}
	getURI, err := normalizeLoopback(cfg.GetJobURI)
	if err != nil {
		return nil, fmt.Errorf("invalid GET_JOB_URI: %w", err)
	}
	postURI, err := normalizeLoopback(cfg.PostResultURI)
	if err != nil {
		return nil, fmt.Errorf("invalid POST_RESULT_URI: %w", err)
	}
	token, err := readValueOrFile(cfg.AuthToken, "MODULE_AUTH_TOKEN")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("MODULE_AUTH_TOKEN is required when GET_JOB_URI/POST_RESULT_URI are set")
	}
	hc, err := newHTTPClient(cfg.CAPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{getURI: getURI, postURI: postURI, token: token, hc: hc, log: log, Sleep: sleepCtx}, nil
}

// Run polls until ctx is done. Handler errors are posted as the job result so the queue
// records the failure.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	c.log.Info("job polling enabled", zap.String("get_job_uri", c.getURI))

	wait := idleWait
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, ok, err := c.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("get job failed", zap.String("error", redact.Secrets(err.Error())), zap.Duration("retry_in", wait))
			if err := c.Sleep(ctx, wait); err != nil {
				return err
			}
			wait = min(wait*2, maxErrorWait)
			continue
		}
		wait = idleWait
		if !ok {
			if err := c.Sleep(ctx, idleWait); err != nil {
				return err
			}
			continue
		}

		jobID := strings.TrimSpace(job.JobID)
		if jobID == "" {
			c.log.Warn("received job without jobId; skipping")
			if err := c.Sleep(ctx, idleWait); err != nil {
				return err
			}
			continue
		}
		log := c.log.With(zap.String("job_id", jobID), zap.String("query_type", job.QueryType))
		log.Info("job received")

		res, err := handle(ctx, job)
		if err != nil {
			log.Error("job failed", zap.String("error", redact.Secrets(err.Error())))
			if len(res.Body) == 0 {
				res.Body, _ = json.Marshal(map[string]string{"error": redact.Secrets(err.Error())})
			}
		}
		if len(res.Body) == 0 {
			res.Body = []byte("ok")
		}

		if err := c.postWithRetry(ctx, jobID, res.Body); err != nil {
			log.Error("post result failed", zap.String("error", redact.Secrets(err.Error())))
			continue
		}
		log.Info("job done", zap.Int("status", res.Status), zap.Int("bytes", len(res.Body)))
	}
}

func (c *Client) postWithRetry(ctx context.Context, jobID string, body []byte) error {
	var err error
	for attempt := range postAttempts {
		if err = c.post(ctx, jobID, body); err == nil {
			return nil
		}
		if attempt == postAttempts-1 {
			break
		}
		if serr := c.Sleep(ctx, time.Duration(attempt+1)*time.Second); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

func (c *Client) next(ctx context.Context) (Job, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.getURI, nil)
	if err != nil {
		return Job{}, false, err
	}
	req.Header.Set("Module-Auth-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Job{}, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return Job{}, false, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode/100 != 2 {
		return Job{}, false, fmt.Errorf("GET job: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Job{}, false, fmt.Errorf("parse GET job response: %w", err)
	}
	return env.Job, true, nil
}

func (c *Client) post(ctx context.Context, jobID string, body []byte) error {
	u := strings.TrimRight(c.postURI, "/") + "/" + path.Clean("/" + jobID)[1:]
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Module-Auth-Token", c.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST result: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func newHTTPClient(caPath string) (*http.Client, error) {
	caPath = strings.TrimSpace(caPath)
	if caPath == "" {
		return &http.Client{Timeout: requestTimeout}, nil
	}
	b, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read DEFAULT_CA_PATH: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(b); !ok {
		return nil, errors.New("parse DEFAULT_CA_PATH PEM: no certs found")
	}
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: tr, Timeout: requestTimeout}, nil
}

// normalizeLoopback pins "localhost" to IPv4; sidecars often bind only 127.0.0.1.
func normalizeLoopback(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if host := u.Hostname(); host == "localhost" || host == "::1" {
		if port := u.Port(); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

func readValueOrFile(v, varName string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return v, nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", varName, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
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
