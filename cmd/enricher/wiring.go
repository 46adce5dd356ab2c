package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/acquire"
	"github.com/shpitdev/bookmark-enricher/internal/analysis"
	"github.com/shpitdev/bookmark-enricher/internal/config"
	"github.com/shpitdev/bookmark-enricher/internal/enrich"
	"github.com/shpitdev/bookmark-enricher/internal/fetch"
	"github.com/shpitdev/bookmark-enricher/internal/storage"
)

func analysisConfig(cfg config.Config) analysis.Config {
	return analysis.Config{
		APIKey:       cfg.Gemini.APIKey,
		Model:        cfg.Gemini.Model,
		BaseURL:      cfg.Gemini.BaseURL,
		RateLimitRPS: cfg.Gemini.RateLimitRPS,
	}
}

// newWebpage builds the webpage enricher. A missing Gemini key is not fatal: records then
// carry the "not configured" analysis error.
func newWebpage(ctx context.Context, cfg config.Config, log *zap.Logger) (*enrich.Webpage, error) {
	fetcher := fetch.New(fetch.Options{Timeout: cfg.Fetch.Timeout, UserAgent: cfg.Fetch.UserAgent})

	var model analysis.Model
	backend, err := analysis.Dial(ctx, analysisConfig(cfg), cfg.Gemini.APIKey)
	switch {
	case errors.Is(err, analysis.ErrNotConfigured):
		log.Warn("GEMINI_API_KEY not set; webpage analysis disabled")
	case err != nil:
		return nil, fmt.Errorf("gemini: %w", err)
	default:
		model = backend
	}

	analyzer := analysis.NewWebpageAnalyzer(model, cfg.Gemini.RateLimitRPS, log.Named("analysis"))
	return enrich.NewWebpage(fetcher, analyzer, log.Named("webpage")), nil
}

// newVideo builds the video enricher. The returned func releases the storage client.
func newVideo(ctx context.Context, cfg config.Config, log *zap.Logger) (*enrich.Video, func() error, error) {
	uploader, closeStore, err := newUploader(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	pipeline := newAcquirer(cfg, log)

	analyzer := analysis.NewVideoAnalyzer(analysis.DialBackend(analysisConfig(cfg)), analysis.VideoAnalyzerOptions{
		DefaultAPIKey: cfg.Gemini.APIKey,
		Model:         cfg.Gemini.Model,
		Poller:        analysis.Poller{Interval: cfg.Gemini.PollInterval, MaxWait: cfg.Gemini.MaxWait},
		RateLimitRPS:  cfg.Gemini.RateLimitRPS,
		Logger:        log.Named("analysis"),
	})

	v := enrich.NewVideo(pipeline, uploader, acquire.NewAudioExtractor(cfg.Acquire.FFmpegPath, log.Named("audio")), analyzer, log.Named("video"))
	v.TempDir = cfg.Acquire.TempDir
	return v, closeStore, nil
}

// newAcquirer always includes the RapidAPI fallback. Without a key it fails with
// "RapidAPI key not configured", which then shows up as the second attempt.
func newAcquirer(cfg config.Config, log *zap.Logger) *acquire.Pipeline {
	r := acquire.NewRapidAPI(cfg.Acquire.RapidAPIKey)
	r.Host = cfg.Acquire.RapidAPIHost
	r.BaseURL = "https://" + cfg.Acquire.RapidAPIHost
	if cfg.Acquire.RapidAPIKey == "" {
		log.Warn("RAPIDAPI_KEY not set; TikTok fallback will fail")
	}
	return acquire.NewPipeline(acquire.NewYtDlp(cfg.Acquire.YtDlpPath), r, log.Named("acquire"))
}

func newUploader(ctx context.Context, cfg config.Config) (storage.Uploader, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal:
		l := storage.NewLocal(cfg.Storage.LocalDir)
		l.BaseURL = cfg.Storage.PublicBaseURL
		return l, func() error { return nil }, nil
	default:
		g, err := storage.NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs: %w", err)
		}
		return g, g.Close, nil
	}
}
