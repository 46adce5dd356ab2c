package enrich

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/bookmark-enricher/internal/acquire"
	"github.com/shpitdev/bookmark-enricher/internal/analysis"
	"github.com/shpitdev/bookmark-enricher/internal/storage"
)

// VideoRequest mirrors the /enrich/video request body.
type VideoRequest struct {
	URL          string
	Filename     string
	ExtractAudio bool
	AnalyzeVideo bool
	GeminiAPIKey string
}

// StoredFile is an uploaded video or audio file.
type StoredFile struct {
	FileName  string `json:"file_name"`
	PublicURL string `json:"public_url"`
	SizeBytes int64  `json:"size_bytes"`
	BlobName  string `json:"blob_name"`
}

type VideoMetadata struct {
	Title     string         `json:"title"`
	Duration  float64        `json:"duration"`
	Uploader  string         `json:"uploader"`
	VideoID   string         `json:"video_id"`
	Source    acquire.Source `json:"source"`
	Thumbnail *string        `json:"thumbnail"`
}

type VideoResponse struct {
	Success        bool                    `json:"success"`
	Video          StoredFile              `json:"video"`
	Metadata       VideoMetadata           `json:"metadata"`
	Audio          *StoredFile             `json:"audio,omitempty"`
	GeminiAnalysis *analysis.VideoAnalysis `json:"gemini_analysis,omitempty"`
}

// Video downloads, stores and optionally analyzes a video.
type Video struct {
	acquirer Acquirer
	uploader storage.Uploader
	audio    AudioExtractor
	analyzer VideoAnalyzer
	log      *zap.Logger

	// TempDir is the parent of per-request work directories ("" = os.TempDir()).
	TempDir string
}

func NewVideo(acquirer Acquirer, uploader storage.Uploader, audio AudioExtractor, analyzer VideoAnalyzer, log *zap.Logger) *Video {
	if log == nil {
		log = zap.NewNop()
	}
	return &Video{acquirer: acquirer, uploader: uploader, audio: audio, analyzer: analyzer, log: log}
}

// Enrich runs one request end to end. Download and upload failures are returned;
// audio and analysis failures are not.
//
// Once the video is on disk, the video upload, the audio extraction+upload and the
// analysis run concurrently. They only read the downloaded file.
func (v *Video) Enrich(ctx context.Context, req VideoRequest) (*VideoResponse, error) {
	if req.Filename != "" {
		if err := storage.CheckName(req.Filename); err != nil {
			return nil, err
		}
	}
	workDir, err := os.MkdirTemp(v.TempDir, "video-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			v.log.Warn("failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	dl, err := v.acquirer.Acquire(ctx, req.URL, workDir)
	if err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = acquire.SmartFilename(dl.Title, dl.Uploader, dl.Ext)
	}

	resp := &VideoResponse{
		Success: true,
		Metadata: VideoMetadata{
			Title:     dl.Title,
			Duration:  dl.Duration,
			Uploader:  dl.Uploader,
			VideoID:   dl.VideoID,
			Source:    dl.Source,
			Thumbnail: nilIfEmpty(dl.Thumbnail),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := v.store(gctx, dl.FilePath, filename)
		if err != nil {
			return fmt.Errorf("upload video: %w", err)
		}
		resp.Video = f
		return nil
	})
	if req.ExtractAudio && v.audio != nil {
		g.Go(func() error {
			audioPath := v.audio.Extract(gctx, dl.FilePath, workDir)
			if audioPath == "" {
				return nil
			}
			f, err := v.store(gctx, audioPath, acquire.AudioName(filename))
			if err != nil {
				return fmt.Errorf("upload audio: %w", err)
			}
			resp.Audio = &f
			return nil
		})
	}
	if req.AnalyzeVideo && v.analyzer != nil {
		g.Go(func() error {
			res := v.analyzer.Analyze(gctx, dl.FilePath, req.GeminiAPIKey)
			resp.GeminiAnalysis = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	v.log.Info("video enriched",
		zap.String("url", req.URL),
		zap.String("file_name", filename),
		zap.String("method", dl.DownloadMethod),
		zap.Bool("audio", resp.Audio != nil),
	)
	return resp, nil
}

func (v *Video) store(ctx context.Context, path, name string) (StoredFile, error) {
	obj, err := v.uploader.Upload(ctx, path, name)
	if err != nil {
		return StoredFile{}, err
	}
	return StoredFile{
		FileName:  name,
		PublicURL: obj.PublicURL,
		SizeBytes: obj.SizeBytes,
		BlobName:  obj.BlobName,
	}, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
