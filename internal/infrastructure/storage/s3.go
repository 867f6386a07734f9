package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bookviz-api/internal/config"
)

// S3Store writes to an S3 compatible bucket whose objects are publicly
// readable under PublicBaseURL.
type S3Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

func NewS3Store(cfg config.S3StorageConfig) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires endpoint and bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		base = client.EndpointURL().String() + "/" + cfg.Bucket
	}
	return &S3Store{client: client, bucket: cfg.Bucket, publicBaseURL: base}, nil
}

func (s *S3Store) Put(ctx context.Context, objectPath string, data []byte, contentType string) (*Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s: %w", objectPath, err)
	}
	return &Object{
		Path:        objectPath,
		URL:         publicURL(s.publicBaseURL, objectPath),
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", objectPath, err)
	}
	return nil
}
