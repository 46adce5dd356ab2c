package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/bookmark-enricher/pkg/redact"
)

const releaseTimeout = 15 * time.Second

var ErrNoVideoKey = errors.New("No Gemini API key provided")

const videoPrompt = `Analyze this video in detail. Provide a comprehensive analysis covering:

1. **Visual Content**: Describe what you see throughout the video - people, objects, settings, actions, transitions, visual effects, text overlays, and any on-screen graphics.

2. **Audio Content**: Describe the audio - speech (summarize what is said), music, sound effects, and overall audio quality.

3. **Style & Production**: Comment on the video style, editing techniques, pacing, and production quality.

4. **Mood & Tone**: Describe the overall mood, emotional tone, and atmosphere of the video.

5. **Key Messages**: What are the main points, messages, or takeaways from this video?

6. **Content Category**: What type of content is this? (e.g., tutorial, entertainment, educational, promotional, personal vlog, etc.)

Be specific and detailed in your analysis.`

// VideoAnalysis is the gemini_analysis object of a video response. Exactly one of
// Analysis and Error is set.
type VideoAnalysis struct {
	Analysis *string `json:"analysis"`
	Model    string  `json:"model,omitempty"`
	Error    *string `json:"error"`
}

// FilesDialer opens a File API session for one API key.
type FilesDialer func(ctx context.Context, apiKey string) (Files, error)

type VideoAnalyzerOptions struct {
	DefaultAPIKey string
	Model         string
	Poller        Poller
	RateLimitRPS  float64
	Logger        *zap.Logger
}

// VideoAnalyzer uploads a local video, waits for it to be processed, asks for an
// analysis, and always deletes the uploaded copy.
type VideoAnalyzer struct {
	dial       FilesDialer
	defaultKey string
	model      string
	poller     Poller
	limiter    *rate.Limiter
	log        *zap.Logger
}

func NewVideoAnalyzer(dial FilesDialer, opts VideoAnalyzerOptions) *VideoAnalyzer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	return &VideoAnalyzer{
		dial:       dial,
		defaultKey: strings.TrimSpace(opts.DefaultAPIKey),
		model:      opts.Model,
		poller:     opts.Poller,
		limiter:    newLimiter(opts.RateLimitRPS),
		log:        opts.Logger,
	}
}

// Analyze never fails the caller: every problem is reported in the Error field.
// apiKey overrides the configured key when non-empty.
func (a *VideoAnalyzer) Analyze(ctx context.Context, videoPath, apiKey string) VideoAnalysis {
	text, err := a.analyze(ctx, videoPath, apiKey)
	if err != nil {
		msg := redact.Secrets(err.Error())
		a.log.Warn("video analysis failed", zap.String("path", videoPath), zap.String("error", msg))
		return VideoAnalysis{Error: &msg}
	}
	return VideoAnalysis{Analysis: &text, Model: a.model}
}

func (a *VideoAnalyzer) analyze(ctx context.Context, videoPath, apiKey string) (string, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = a.defaultKey
	}
	if key == "" {
		return "", ErrNoVideoKey
	}
	files, err := a.dial(ctx, key)
	if err != nil {
		return "", err
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	file, err := files.Upload(ctx, videoPath, videoMIMEType(videoPath))
	if err != nil {
		return "", err
	}
	a.log.Debug("video uploaded", zap.String("file", file.Name), zap.String("state", string(file.State)))
	defer a.release(ctx, files, file.Name)

	job := &Job{RemoteID: file.Name, State: file.State}
	err = a.poller.Wait(ctx, job, func(ctx context.Context) (State, error) {
		f, err := files.Get(ctx, file.Name)
		if err != nil {
			return "", err
		}
		file = f
		return f.State, nil
	})
	if err != nil {
		return "", err
	}
	a.log.Debug("video ready", zap.String("file", file.Name), zap.Duration("waited", job.Elapsed))

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return files.GenerateFromFile(ctx, file, videoPrompt)
}

// release deletes the remote copy even when ctx is already cancelled.
func (a *VideoAnalyzer) release(ctx context.Context, files Files, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := files.Delete(ctx, name); err != nil {
		a.log.Warn("failed to delete uploaded file", zap.String("file", name), zap.String("error", redact.Secrets(err.Error())))
	}
}

var videoMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

func videoMIMEType(path string) string {
	if t, ok := videoMIMETypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "video/mp4"
}

// DialBackend is the production FilesDialer.
func DialBackend(cfg Config) FilesDialer {
	return func(ctx context.Context, apiKey string) (Files, error) {
		return Dial(ctx, cfg, apiKey)
	}
}
