package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storagego "github.com/supabase-community/storage-go"

	"bookviz-api/internal/config"
)

// SupabaseStore keeps images in a public Supabase Storage bucket.
type SupabaseStore struct {
	client  *storagego.Client
	bucket  string
	baseURL string
}

func NewSupabaseStore(cfg config.SupabaseStorageConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase storage requires url and service key")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase storage requires a bucket")
	}
	baseURL := strings.TrimRight(cfg.URL, "/")
	return &SupabaseStore{
		client:  storagego.NewClient(baseURL+"/storage/v1", cfg.ServiceKey, nil),
		bucket:  cfg.Bucket,
		baseURL: baseURL,
	}, nil
}

func (s *SupabaseStore) Put(_ context.Context, objectPath string, data []byte, contentType string) (*Object, error) {
	upsert := true
	_, err := s.client.UploadFile(s.bucket, objectPath, bytes.NewReader(data), storagego.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", objectPath, err)
	}
	return &Object{
		Path:        objectPath,
		URL:         s.PublicURL(objectPath),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *SupabaseStore) Delete(_ context.Context, objectPath string) error {
	if _, err := s.client.RemoveFile(s.bucket, []string{objectPath}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

func (s *SupabaseStore) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath)
}
