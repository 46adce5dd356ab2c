// Package mockqueue is an in-memory job queue speaking the protocol internal/jobs polls.
// It backs local runs of `enricher work` and the job client tests.
package mockqueue

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shpitdev/bookmark-enricher/internal/jobs"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Server hands out queued jobs in FIFO order and keeps every posted result.
type Server struct {
	resultDir string

	mu            sync.Mutex
	calls         []Call
	pending       []jobs.Job
	results       map[string][]byte
	expectedToken string
}

// New constructs a server. When resultDir is set each result is also written to
// <resultDir>/<jobId>.json.
func New(resultDir string) *Server {
	return &Server{resultDir: resultDir, results: make(map[string][]byte)}
}

// RequireToken enforces the Module-Auth-Token header. An empty token disables the check.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedToken = strings.TrimSpace(token)
}

func (s *Server) Enqueue(js ...jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, js...)
}

// LoadJobsFile enqueues one job per non-blank line of a JSONL file.
func (s *Server) LoadJobsFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var js []jobs.Job
	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var j jobs.Job
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			return 0, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !isSafeToken(j.JobID) {
			return 0, fmt.Errorf("line %d: invalid jobId %q", i+1, j.JobID)
		}
		js = append(js, j)
	}
	s.Enqueue(js...)
	return len(js), nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", s.handleJob)
	mux.HandleFunc("/result/", s.handleResult)
	mux.HandleFunc("/enqueue", s.handleEnqueue)
	mux.HandleFunc("/results", s.handleResults)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Results returns a snapshot of posted results keyed by job id.
func (s *Server) Results() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Pending reports how many jobs have not been handed out.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Server) begin(w http.ResponseWriter, r *http.Request, method string) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
	expected := s.expectedToken
	s.mu.Unlock()

	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if expected != "" && r.Header.Get("Module-Auth-Token") != expected {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodGet) {
		return
	}
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]jobs.Job{"computeModuleJobV1": next})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodPost) {
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/result/")
	if !isSafeToken(jobID) {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if s.resultDir != "" {
		if err := os.MkdirAll(s.resultDir, 0o755); err != nil {
			http.Error(w, "mkdir result dir", http.StatusInternalServerError)
			return
		}
		if err := os.WriteFile(filepath.Join(s.resultDir, jobID+".json"), b, 0o644); err != nil {
			http.Error(w, "write result", http.StatusInternalServerError)
			return
		}
	}

	s.mu.Lock()
	s.results[jobID] = b
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodPost) {
		return
	}
	var j jobs.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		http.Error(w, "invalid job: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !isSafeToken(j.JobID) {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	s.Enqueue(j)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodGet) {
		return
	}
	out := make(map[string]json.RawMessage)
	for id, b := range s.Results() {
		if json.Valid(b) {
			out[id] = b
			continue
		}
		quoted, _ := json.Marshal(string(b))
		out[id] = quoted
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func isSafeToken(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}
