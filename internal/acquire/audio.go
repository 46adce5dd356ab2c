package acquire

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

// AudioExtractor converts a downloaded video to an mp3 next to it with ffmpeg.
type AudioExtractor struct {
	FFmpegPath string
	Run        CommandRunner
	Log        *zap.Logger
}

func NewAudioExtractor(ffmpegPath string, log *zap.Logger) *AudioExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AudioExtractor{FFmpegPath: ffmpegPath, Run: ExecRunner, Log: log}
}

// Extract returns the mp3 path, or "" if ffmpeg failed. A failure is logged and never
// returned: audio is optional for a video request.
func (a *AudioExtractor) Extract(ctx context.Context, videoPath, workDir string) string {
	out := filepath.Join(workDir, AudioName(filepath.Base(videoPath)))
	_, err := a.Run(ctx, a.FFmpegPath,
		"-i", videoPath,
		"-vn", "-acodec", "libmp3lame", "-q:a", "2",
		"-y", out,
	)
	if err != nil {
		a.Log.Warn("audio extraction failed", zap.String("video", videoPath), zap.String("error", redact.Secrets(err.Error())))
		return ""
	}
	return out
}

// AudioName swaps the final extension of name for .mp3.
func AudioName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name + ".mp3"
}
