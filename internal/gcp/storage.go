package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/imagepipeline/internal/services"
	"google.golang.org/api/googleapi"
)

// BlobStore reads and writes objects in one Cloud Storage bucket.
type BlobStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewBlobStore returns a BlobStore bound to bucket.
func NewBlobStore(client *storage.Client, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: client.Bucket(bucket), name: bucket}
}

// Get downloads an object.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, services.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.name, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.name, key, err)
	}
	return data, nil
}

// Put uploads an object. With opts.IfAbsent the write only succeeds when no
// object exists under key.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte, opts services.PutOptions) error {
	obj := s.bucket.Object(key)
	if opts.IfAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = opts.ContentType
	if opts.PublicRead {
		writer.PredefinedACL = "publicRead"
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			slog.Info("Object already exists, conditional write skipped.", "gcsObject", key)
			return services.ErrObjectExists
		}
		return fmt.Errorf("failed to finalize GCS write for %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key names an object.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", s.name, key, err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
