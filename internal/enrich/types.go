// Package enrich assembles enrichment records for webpages and videos from the fetch,
// extraction, acquisition, storage and analysis components.
package enrich

import (
	"context"

	"github.com/shpitdev/bookmark-enricher/internal/acquire"
	"github.com/shpitdev/bookmark-enricher/internal/analysis"
	"github.com/shpitdev/bookmark-enricher/pkg/enrichment"
)

// PageAnalyzer summarizes a fetched page.
type PageAnalyzer interface {
	Analyze(ctx context.Context, url, title, content string, ct enrichment.ContentType) analysis.PageAnalysis
}

// VideoAnalyzer describes a downloaded video. apiKey overrides the configured key.
type VideoAnalyzer interface {
	Analyze(ctx context.Context, videoPath, apiKey string) analysis.VideoAnalysis
}

// Acquirer downloads a video into workDir.
type Acquirer interface {
	Acquire(ctx context.Context, url, workDir string) (*acquire.DownloadResult, error)
}

// AudioExtractor converts a video to mp3, returning "" when it could not.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, workDir string) string
}
