package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// YtDlp downloads with the yt-dlp binary and reads metadata from its JSON dump.
type YtDlp struct {
	BinaryPath string
	Run        CommandRunner
}

func NewYtDlp(binaryPath string) *YtDlp {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlp{BinaryPath: binaryPath, Run: ExecRunner}
}

func (y *YtDlp) Name() string { return MethodYtDlp }

type ytdlpInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Duration    *float64 `json:"duration"`
	Ext         string   `json:"ext"`
	Uploader    string   `json:"uploader"`
	Creator     string   `json:"creator"`
	UploaderID  string   `json:"uploader_id"`
	Thumbnail   string   `json:"thumbnail"`
	Filename    string   `json:"_filename"`

	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

func (y *YtDlp) Acquire(ctx context.Context, url, workDir string) (*DownloadResult, error) {
	out, err := y.Run(ctx, y.BinaryPath,
		"-f", "best[ext=mp4]/best",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
		"--dump-single-json",
		"--no-simulate",
		"--no-warnings",
		"--no-progress",
		"--socket-timeout", "30",
		url,
	)
	if err != nil {
		return nil, err
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp: parse info json: %w", err)
	}
	if info.ID == "" {
		info.ID = "unknown"
	}
	if info.Ext == "" {
		info.Ext = "mp4"
	}

	path := info.downloadedPath(workDir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("yt-dlp: downloaded file missing: %w", err)
	}

	res := &DownloadResult{
		FilePath:       path,
		Ext:            info.Ext,
		VideoID:        info.ID,
		Source:         SourceOf(url),
		Thumbnail:      info.Thumbnail,
		DownloadMethod: MethodYtDlp,
	}
	if info.Duration != nil {
		res.Duration = *info.Duration
	}
	if res.Source == SourceTikTok {
		res.Title = NormalizeTitle(info.Title, info.ID, info.Description)
		res.Uploader = firstNonEmpty(info.Uploader, info.Creator, info.UploaderID, "Unknown")
	} else {
		res.Title = firstNonEmpty(info.Title, "Untitled")
		res.Uploader = firstNonEmpty(info.Uploader, "Unknown")
	}
	return res, nil
}

// downloadedPath prefers the path yt-dlp reports, falling back to the output template.
func (i ytdlpInfo) downloadedPath(workDir string) string {
	var candidates []string
	for _, d := range i.RequestedDownloads {
		candidates = append(candidates, d.Filepath)
	}
	candidates = append(candidates, i.Filename)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		} else if !errors.Is(err, os.ErrNotExist) {
			return c
		}
	}
	return filepath.Join(workDir, i.ID+"."+i.Ext)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
