package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const DefaultBucket = "video-processor-temp-rhe"

// GCS uploads to a Cloud Storage bucket whose objects are publicly readable through IAM.
type GCS struct {
	client *gcs.Client
	bucket string
}

// NewGCS authenticates with credentialsJSON (a service account key) when set, otherwise
// with application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsJSON string) (*GCS, error) {
	if strings.TrimSpace(bucket) == "" {
		bucket = DefaultBucket
	}
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Upload(ctx context.Context, localPath, name string) (Object, error) {
	if err := CheckName(name); err != nil {
		return Object{}, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer f.Close()

	blob := BlobName(name)
	w := g.client.Bucket(g.bucket).Object(blob).NewWriter(ctx)
	w.ContentType = ContentType(localPath)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("gcs: upload %s: %w", blob, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("gcs: finalize %s: %w", blob, err)
	}

	var size int64
	if attrs := w.Attrs(); attrs != nil {
		size = attrs.Size
	}
	return Object{
		BlobName:  blob,
		PublicURL: PublicURL(g.bucket, blob),
		SizeBytes: size,
	}, nil
}

func (g *GCS) Close() error { return g.client.Close() }

// PublicURL is the unauthenticated download URL for an object.
func PublicURL(bucket, blob string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + blob
}
