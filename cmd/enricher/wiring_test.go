package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/internal/acquire"
	"github.com/shpitdev/bookmark-enricher/internal/config"
)

func TestNewAcquirerReportsMissingRapidAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Acquire.YtDlpPath = filepath.Join(t.TempDir(), "no-yt-dlp")
	cfg.Acquire.RapidAPIKey = ""

	p := newAcquirer(cfg, zap.NewNop())
	const tiktok = "https://www.tiktok.com/@user/video/7301"
	require.Len(t, p.StrategiesFor(tiktok), 2)
	require.Len(t, p.StrategiesFor("https://vimeo.com/1"), 1)

	_, err := p.Acquire(context.Background(), tiktok, t.TempDir())
	var acqErr *acquire.AcquisitionError
	require.True(t, errors.As(err, &acqErr), "got %v", err)
	require.Len(t, acqErr.Attempts, 2)
	assert.Equal(t, acquire.MethodRapidAPI, acqErr.Attempts[1].Strategy)
	assert.EqualError(t, acqErr.Attempts[1].Err, "RapidAPI key not configured")
}
