// Package fetch retrieves raw HTML for a URL the way a desktop browser would.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	// maxBodyBytes caps how much of a page is read into memory.
	maxBodyBytes int64 = 16 << 20
)

// ErrTimeout is returned when the request deadline elapses.
var ErrTimeout = errors.New("Request timed out")

// HTTPStatusError is returned for 4xx/5xx responses.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}

// RequestError wraps any other transport failure.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	if e == nil || e.Err == nil {
		return "Request failed"
	}
	return "Request failed: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fetcher returns the decoded body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// Client is the default Fetcher. Redirects are followed.
type Client struct {
	http      *http.Client
	userAgent string
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{http: hc, userAgent: opts.UserAgent}
}

// Fetch performs a GET and returns the body. Errors are one of ErrTimeout,
// *HTTPStatusError or *RequestError, and their messages are safe to show callers.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", classify(err)
	}
	return string(body), nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return &RequestError{Err: err}
}
