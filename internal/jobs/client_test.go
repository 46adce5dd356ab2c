package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []string
	posted  map[string]string
	tokens  []string
	failGet int
	done    chan struct{}
	want    int
}

func (q *fakeQueue) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.tokens = append(q.tokens, r.Header.Get("Module-Auth-Token"))
		if q.failGet > 0 {
			q.failGet--
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if len(q.jobs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next := q.jobs[0]
		q.jobs = q.jobs[1:]
		_, _ = io.WriteString(w, next)
	})
	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		q.mu.Lock()
		defer q.mu.Unlock()
		q.posted[r.URL.Path] = string(b)
		if len(q.posted) == q.want {
			close(q.done)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func jobJSON(id, queryType, query string) string {
	b, _ := json.Marshal(map[string]any{"computeModuleJobV1": map[string]any{
		"jobId": id, "queryType": queryType, "query": json.RawMessage(query),
	}})
	return string(b)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, path string, body []byte) (int, []byte) {
	out, _ := json.Marshal(map[string]string{"path": path, "body": string(body)})
	return http.StatusOK, out
}

func TestClientRun(t *testing.T) {
	q := &fakeQueue{
		jobs: []string{
			jobJSON("j1", "classify", `{"record":{}}`),
			jobJSON("", "classify", `{}`),
			jobJSON("j2", "launchRocket", `{}`),
		},
		posted:  map[string]string{},
		failGet: 1,
		done:    make(chan struct{}),
		want:    2,
	}
	srv := httptest.NewServer(q.handler(t))
	defer srv.Close()

	c, err := NewClient(Config{GetJobURI: srv.URL + "/job", PostResultURI: srv.URL + "/result/", AuthToken: "tok"}, nil)
	require.NoError(t, err)
	c.Sleep = func(ctx context.Context, _ time.Duration) error { return sleepCtx(ctx, time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, Dispatch(echoInvoker{})) }()

	select {
	case <-q.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for results")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.JSONEq(t, `{"path":"/classify","body":"{\"record\":{}}"}`, q.posted["/result/j1"])
	assert.JSONEq(t, `{"error":"unknown queryType \"launchRocket\""}`, q.posted["/result/j2"])
	for _, tok := range q.tokens {
		assert.Equal(t, "tok", tok)
	}
}

func TestClientRunWaitsAfterJobWithoutID(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		gets.Add(1)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{GetJobURI: srv.URL, PostResultURI: srv.URL, AuthToken: "t"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var sleeps int
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, idleWait, d)
		sleeps++
		if sleeps == 3 {
			cancel()
		}
		return ctx.Err()
	}

	err = c.Run(ctx, func(context.Context, Job) (Result, error) {
		t.Error("handler called for a job without id")
		return Result{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, sleeps)
	assert.Equal(t, int32(3), gets.Load(), "one GET per idle wait")
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{GetJobURI: "http://x/job", PostResultURI: "http://x/res"}, nil)
	assert.ErrorContains(t, err, "MODULE_AUTH_TOKEN is required")

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("from-file\n"), 0o600))
	c, err := NewClient(Config{GetJobURI: "http://localhost:8945/job", PostResultURI: "http://x/res", AuthToken: tokenFile}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", c.token)
	assert.Equal(t, "http://127.0.0.1:8945/job", c.getURI)

	_, err = NewClient(Config{GetJobURI: "http://x/job", PostResultURI: "http://x/res", AuthToken: "t", CAPath: tokenFile}, nil)
	assert.ErrorContains(t, err, "no certs found")
}

func TestPostWithRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{GetJobURI: srv.URL, PostResultURI: srv.URL, AuthToken: "t"}, nil)
	require.NoError(t, err)
	c.Sleep = noSleep

	require.NoError(t, c.postWithRetry(context.Background(), "j", []byte("x")))
	assert.Equal(t, 3, calls)
}

func TestDispatchUnknown(t *testing.T) {
	_, err := Dispatch(echoInvoker{})(context.Background(), Job{QueryType: "nope"})
	assert.EqualError(t, err, `unknown queryType "nope"`)
	assert.False(t, errors.Is(err, context.Canceled))
}
