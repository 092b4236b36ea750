package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const cacheControl = "public, max-age=31536000, immutable"

// GCSUploader stores screenshots in a Google Cloud Storage bucket.
type GCSUploader struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSUploader creates an uploader. Credentials come from the environment
// unless opts override them.
func NewGCSUploader(ctx context.Context, bucket, publicBaseURL string, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// Put implements Uploader.
func (u *GCSUploader) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write gs://%s/%s: %w", u.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return u.PublicURL(key), nil
}

// PublicURL returns the URL an uploaded object is served from.
func (u *GCSUploader) PublicURL(key string) string {
	if u.publicBaseURL != "" {
		return strings.TrimRight(u.publicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, key)
}

// Close releases the underlying client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
