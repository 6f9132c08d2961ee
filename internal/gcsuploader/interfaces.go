package gcsuploader

import (
	"context"
)

// StorageService uploads ledger artifacts to a bucket and fetches backups back.
// Commands depend on this interface so they can be tested without GCS.
type StorageService interface {
	// Upload stores data under bucket/object and returns the gs:// URI.
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)

	// Fetch downloads the object behind a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	Close() error
}
