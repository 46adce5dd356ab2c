// Package server exposes enrichment over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/enrich"
	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

const (
	HeaderNotify       = "X-Enrichment-Notify"
	HeaderNotifyReason = "X-Enrichment-Notify-Reason"
	HeaderRequestID    = "X-Request-ID"

	maxBodyBytes = 1 << 20
)

// WebpageEnricher is implemented by *enrich.Webpage.
type WebpageEnricher interface {
	Enrich(ctx context.Context, url string, opts enrich.WebpageOptions) (enrich.WebpageOutcome, error)
}

// VideoEnricher is implemented by *enrich.Video.
type VideoEnricher interface {
	Enrich(ctx context.Context, req enrich.VideoRequest) (*enrich.VideoResponse, error)
}

type Options struct {
	Version string
	// RequestTimeout bounds each enrichment request. <=0 disables.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type Server struct {
	webpage WebpageEnricher
	video   VideoEnricher
	opts    Options
	log     *zap.Logger
}

// New builds a Server. Either enricher may be nil, in which case its route answers 503.
func New(webpage WebpageEnricher, video VideoEnricher, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{webpage: webpage, video: video, opts: opts, log: log}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/enrich/webpage", s.route(http.MethodPost, true, s.handleWebpage, writeProcessingFault))
	mux.Handle("/enrich/video", s.route(http.MethodPost, false, s.handleVideo, writeVideoFault))
	mux.Handle("/classify", s.route(http.MethodPost, false, s.handleClassify, writeProcessingFault))
	mux.Handle("/healthz", s.route(http.MethodGet, false, s.handleHealth, writeProcessingFault))
	return mux
}

// faultWriter renders an internal failure in the route's error shape.
type faultWriter func(w http.ResponseWriter, err error, trace string)

type ctxKey struct{}

func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// route applies CORS, method filtering, request ids and panic recovery.
func (s *Server) route(method string, maxAge bool, h http.HandlerFunc, fault faultWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", method)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if maxAge {
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method {
			w.Header().Set("Allow", method+", OPTIONS")
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		reqID := uuid.NewString()
		w.Header().Set(HeaderRequestID, reqID)
		log := s.log.With(zap.String("request_id", reqID), zap.String("path", r.URL.Path))
		ctx := context.WithValue(r.Context(), ctxKey{}, log)

		start := time.Now()
		defer func() {
			if v := recover(); v != nil {
				err := fmt.Errorf("panic: %v", v)
				log.Error("handler panic", zap.Error(err), zap.ByteString("stack", debug.Stack()))
				fault(w, err, string(debug.Stack()))
				return
			}
			log.Debug("request complete", zap.Duration("elapsed", time.Since(start)))
		}()

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		h(w, r.WithContext(ctx))
	})
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}

type webpageRequest struct {
	// URL is nil only when absent or null. An empty url is still fetched.
	URL     *string `json:"url"`
	Options *struct {
		SkipAI      *bool `json:"skip_ai"`
		ExtractCode *bool `json:"extract_code"`
	} `json:"options"`
}

func (s *Server) handleWebpage(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), s.log)

	var req webpageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required field: url"})
		return
	}
	if s.webpage == nil {
		writeProcessingFault(w, errors.New("webpage enrichment is not configured"), "")
		return
	}
	opts := enrich.DefaultWebpageOptions()
	if req.Options != nil {
		if req.Options.SkipAI != nil {
			opts.SkipAI = *req.Options.SkipAI
		}
		if req.Options.ExtractCode != nil {
			opts.ExtractCode = *req.Options.ExtractCode
		}
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	url := *req.URL
	out, err := s.webpage.Enrich(ctx, url, opts)
	if err != nil {
		log.Error("webpage enrichment failed", zap.String("url", url), zap.String("error", redact.Secrets(err.Error())))
		writeProcessingFault(w, err, "")
		return
	}

	v := enrichment.Classify(out.Record, http.StatusOK)
	w.Header().Set(HeaderNotify, strconv.FormatBool(v.Notify))
	if v.Reason != "" {
		w.Header().Set(HeaderNotifyReason, v.Reason)
	}
	log.Info("webpage enriched",
		zap.String("url", url),
		zap.String("type", string(out.Record.Type)),
		zap.Bool("notify", v.Notify),
		zap.String("reason", v.Reason),
	)
	writeJSON(w, http.StatusOK, out.Record)
}

type videoRequest struct {
	VideoURL     string `json:"video_url"`
	Filename     string `json:"filename"`
	ExtractAudio *bool  `json:"extract_audio"`
	AnalyzeVideo *bool  `json:"analyze_video"`
	GeminiAPIKey string `json:"gemini_api_key"`
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), s.log)

	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeVideoFault(w, fmt.Errorf("invalid JSON body: %w", err), "")
		return
	}
	if strings.TrimSpace(req.VideoURL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "video_url is required"})
		return
	}
	if s.video == nil {
		writeVideoFault(w, errors.New("video enrichment is not configured"), "")
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	resp, err := s.video.Enrich(ctx, enrich.VideoRequest{
		URL:          req.VideoURL,
		Filename:     req.Filename,
		ExtractAudio: boolOr(req.ExtractAudio, true),
		AnalyzeVideo: boolOr(req.AnalyzeVideo, true),
		GeminiAPIKey: req.GeminiAPIKey,
	})
	if err != nil {
		log.Error("video enrichment failed", zap.String("url", req.VideoURL), zap.String("error", redact.Secrets(err.Error())))
		writeVideoFault(w, err, errorTrace(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type classifyRequest struct {
	Record     json.RawMessage `json:"record"`
	StatusCode *int            `json:"status_code"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	status := http.StatusOK
	if req.StatusCode != nil {
		status = *req.StatusCode
	}
	record := req.Record
	if len(record) == 0 {
		record = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, enrichment.ClassifyJSON(record, status))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.opts.Version})
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProcessingFault(w http.ResponseWriter, err error, _ string) {
	writeJSON(w, http.StatusInternalServerError, map[string]*enrichment.ErrorDetail{
		"error": enrichment.NewErrorDetail(enrichment.StageProcessing, redact.Secrets(err.Error()), false),
	})
}

func writeVideoFault(w http.ResponseWriter, err error, trace string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":     redact.Secrets(err.Error()),
		"traceback": redact.Secrets(trace),
		"success":   false,
	})
}

// errorTrace lists the wrapped error chain, outermost first.
func errorTrace(err error) string {
	var lines []string
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		if e == nil {
			return
		}
		lines = append(lines, fmt.Sprintf("%s%T: %s", strings.Repeat("  ", depth), e, e.Error()))
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap(), depth+1)
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner, depth+1)
			}
		}
	}
	walk(err, 0)
	return strings.Join(lines, "\n")
}

// Invoke serves a POST of body to path without a network round trip.
func (s *Server) Invoke(ctx context.Context, path string, body []byte) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return http.StatusBadRequest, []byte(`{"error":"invalid route"}`)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := &bufferedResponse{header: http.Header{}}
	s.Handler().ServeHTTP(rec, req)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.status, rec.body.Bytes()
}

type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *bufferedResponse) Header() http.Header { return r.header }

func (r *bufferedResponse) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *bufferedResponse) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}
