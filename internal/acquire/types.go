// Package acquire downloads a video to local disk by trying an ordered list of
// strategies until one succeeds.
package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Source labels where a video came from.
type Source string

const (
	SourceTikTok  Source = "tiktok"
	SourceYouTube Source = "youtube"
	SourceOther   Source = "other"
)

const (
	MethodYtDlp    = "yt-dlp"
	MethodRapidAPI = "rapidapi"
)

// DownloadResult describes a video that is now on local disk.
type DownloadResult struct {
	FilePath       string
	Title          string
	Duration       float64
	Ext            string
	Uploader       string
	VideoID        string
	Source         Source
	Thumbnail      string
	DownloadMethod string
}

// Strategy is one way of getting a video onto disk under workDir.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, url, workDir string) (*DownloadResult, error)
}

// Attempt records one failed strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// AcquisitionError is returned when every strategy for a URL failed.
type AcquisitionError struct {
	URL      string
	Attempts []Attempt
}

func (e *AcquisitionError) Error() string {
	if len(e.Attempts) == 1 {
		return e.Attempts[0].Err.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Err.Error())
	}
	return "all download strategies failed: " + strings.Join(parts, "; ")
}

func (e *AcquisitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// SourceOf labels a URL by platform.
func SourceOf(url string) Source {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "tiktok"):
		return SourceTikTok
	case strings.Contains(u, "youtube"), strings.Contains(u, "youtu.be"):
		return SourceYouTube
	default:
		return SourceOther
	}
}

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the program with os/exec. A non-zero exit includes the tail of stderr
// in the error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", filepath.Base(name), err, tail(stderr.String(), 500))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
