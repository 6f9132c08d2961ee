// Package gcsuploader stores exported ledgers and JSON backups in Google Cloud Storage.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSStorageService is the StorageService backed by a shared storage client.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSStorageService struct {
	client *storage.Client
}

// NewGCSStorageService creates a storage client.
func NewGCSStorageService(ctx context.Context) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorageService{client: client}, nil
}

// Close releases the storage client.
func (s *GCSStorageService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upload writes data to bucket/object.
func (s *GCSStorageService) Upload(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("upload %q: no bucket configured", object)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	defer func() {
		// Ensure the writer is closed even on early returns
		_ = w.Close()
	}()

	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("write to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return FormatURI(bucket, object), nil
}

// Fetch downloads the file bytes from the given GCS URI.
func (s *GCSStorageService) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}

	return data, nil
}

// ParseURI splits gs://bucket/path/to/file into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FormatURI is the inverse of ParseURI.
func FormatURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ObjectName places an artifact under a per-taxpayer, per-day prefix:
// "8000123456/2024-03-05/S1a-HKD-Nguyen.doc". Taxpayers without a tax id go under "unknown".
func ObjectName(taxID, fileName string, now time.Time) string {
	prefix := strings.TrimSpace(taxID)
	if prefix == "" || strings.ContainsAny(prefix, "/\\") {
		prefix = "unknown"
	}
	return path.Join(prefix, now.Format("2006-01-02"), path.Base(fileName))
}

// FileNameFromURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.json" → "file.json"
func FileNameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
