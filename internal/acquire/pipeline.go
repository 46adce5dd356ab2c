package acquire

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

// Pipeline picks the strategy chain for a URL and runs it in order.
type Pipeline struct {
	primary  Strategy
	fallback Strategy
	log      *zap.Logger
}

// NewPipeline wires primary for every URL and fallback for short-form platform URLs.
// fallback may be nil.
func NewPipeline(primary, fallback Strategy, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{primary: primary, fallback: fallback, log: log}
}

// StrategiesFor returns the ordered chain for url.
func (p *Pipeline) StrategiesFor(url string) []Strategy {
	chain := []Strategy{p.primary}
	if p.fallback != nil && strings.Contains(strings.ToLower(url), "tiktok") {
		chain = append(chain, p.fallback)
	}
	return chain
}

// Acquire tries each strategy once. The first success wins; if all fail the result is an
// *AcquisitionError listing every attempt.
func (p *Pipeline) Acquire(ctx context.Context, url, workDir string) (*DownloadResult, error) {
	acqErr := &AcquisitionError{URL: url}
	for _, s := range p.StrategiesFor(url) {
		res, err := s.Acquire(ctx, url, workDir)
		if err == nil {
			p.log.Info("video downloaded",
				zap.String("url", url),
				zap.String("method", s.Name()),
				zap.String("video_id", res.VideoID),
			)
			return res, nil
		}
		acqErr.Attempts = append(acqErr.Attempts, Attempt{Strategy: s.Name(), Err: err})
		p.log.Warn("download strategy failed",
			zap.String("url", url),
			zap.String("method", s.Name()),
			zap.String("error", redact.Secrets(err.Error())),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, acqErr
}
