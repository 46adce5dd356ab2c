package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ContentType("/tmp/a.mp3"))
	assert.Equal(t, "video/mp4", ContentType("/tmp/a.mp4"))
	assert.Equal(t, "video/mp4", ContentType("/tmp/a.webm"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"https://storage.googleapis.com/video-processor-temp-rhe/videos/Clip - Me.mp4",
		PublicURL(DefaultBucket, BlobName("Clip - Me.mp4")))
}

func TestLocalUpload(t *testing.T) {
	src := filepath.Join(t.TempDir(), "123.mp4")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o644))

	base := t.TempDir()
	obj, err := NewLocal(base).Upload(context.Background(), src, "Clip - Me.mp4")
	require.NoError(t, err)
	assert.Equal(t, "videos/Clip - Me.mp4", obj.BlobName)
	assert.Equal(t, int64(10), obj.SizeBytes)
	assert.True(t, strings.HasPrefix(obj.PublicURL, "file://"))

	got, err := os.ReadFile(filepath.Join(base, "videos", "Clip - Me.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestLocalUploadBaseURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	s := &Local{BaseDir: t.TempDir(), BaseURL: "http://localhost:8080/media"}
	obj, err := s.Upload(context.Background(), src, "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/videos/a.mp3", obj.PublicURL)
}

func TestLocalUploadMissingSource(t *testing.T) {
	_, err := NewLocal(t.TempDir()).Upload(context.Background(), "/does/not/exist.mp4", "x.mp4")
	require.Error(t, err)
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"clip.mp4", "My Clip - Uploader.mp4", "a..b.mp4"} {
		assert.NoError(t, CheckName(name), name)
	}
	for _, name := range []string{"", ".", "..", "../x.mp4", "a/b.mp4", `..\x.mp4`, "x\x00.mp4"} {
		assert.ErrorIs(t, CheckName(name), ErrInvalidName, name)
	}
}

func TestLocalUploadStaysInBaseDir(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o600))

	_, err := NewLocal(filepath.Join(root, "store")).Upload(context.Background(), src, "../../escaped.mp4")
	require.ErrorIs(t, err, ErrInvalidName)

	_, statErr := os.Stat(filepath.Join(root, "escaped.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}
