package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Local stores files under BaseDir using the same key layout as GCS. It is meant for
// development and the batch CLI.
type Local struct {
	BaseDir string
	// BaseURL, when set, is prefixed to the blob name instead of a file:// URL.
	BaseURL string
}

func NewLocal(baseDir string) *Local {
	return &Local{BaseDir: baseDir}
}

func (s *Local) Upload(ctx context.Context, localPath, name string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := CheckName(name); err != nil {
		return Object{}, err
	}
	blob := BlobName(name)
	dst := filepath.Join(s.BaseDir, filepath.FromSlash(blob))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dst), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		out.Close()
		return Object{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to write file: %w", err)
	}

	return Object{BlobName: blob, PublicURL: s.publicURL(dst, blob), SizeBytes: n}, nil
}

func (s *Local) publicURL(dst, blob string) string {
	if s.BaseURL != "" {
		return s.BaseURL + "/" + blob
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
