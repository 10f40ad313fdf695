package services

import (
	"bytes"
	"context"
	"fmt"

	storage "github.com/supabase-community/storage-go"

	"lectern/internal/content"
)

// BlobStore uploads a buffer under a logical path and returns a publicly
// resolvable URL.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// SupabaseStorageConfig configures the blob storage client.
type SupabaseStorageConfig struct {
	URL    string // project storage endpoint, e.g. https://<ref>.supabase.co/storage/v1
	APIKey string // service role key
	Bucket string // target bucket (default "audiobooks")
}

// SupabaseStorage implements BlobStore on Supabase object storage.
type SupabaseStorage struct {
	client *storage.Client
	bucket string
}

// NewSupabaseStorage creates a storage client.
func NewSupabaseStorage(cfg SupabaseStorageConfig) *SupabaseStorage {
	if cfg.Bucket == "" {
		cfg.Bucket = "audiobooks"
	}
	return &SupabaseStorage{
		client: storage.NewClient(cfg.URL, cfg.APIKey, nil),
		bucket: cfg.Bucket,
	}
}

// Upload stores data under path in the configured bucket and returns the
// public URL.
func (s *SupabaseStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", &content.ExternalServiceError{
			Service: "storage",
			Err:     fmt.Errorf("empty upload buffer"),
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	upsert := true
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", &content.ExternalServiceError{
			Service: "storage",
			Err:     fmt.Errorf("upload %s: %w", path, err),
		}
	}

	resp := s.client.GetPublicUrl(s.bucket, path)
	if resp.SignedURL == "" {
		return "", &content.ExternalServiceError{
			Service: "storage",
			Err:     fmt.Errorf("no public url for %s", path),
		}
	}
	return resp.SignedURL, nil
}

var _ BlobStore = (*SupabaseStorage)(nil)
