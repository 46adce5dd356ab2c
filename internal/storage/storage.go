// Package storage publishes downloaded media so callers can fetch it later.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const blobPrefix = "videos/"

// Object is a stored file.
type Object struct {
	BlobName  string
	PublicURL string
	SizeBytes int64
}

// Uploader copies a local file to durable storage under name.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) (Object, error)
}

// ErrInvalidName is returned for names that are not a single path element.
var ErrInvalidName = errors.New("invalid file name")

// CheckName rejects names that could leave the videos/ prefix or the local base dir.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, "/\\\x00"):
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidName, name)
}

// BlobName is the object key for a file name.
func BlobName(name string) string {
	return blobPrefix + name
}

// ContentType is audio/mpeg for mp3 files and video/mp4 for everything else.
func ContentType(path string) string {
	if strings.HasSuffix(path, ".mp3") {
		return "audio/mpeg"
	}
	return "video/mp4"
}
