// Package storage persists generated images and hands out their public URLs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path"
	"strings"

	"bookviz-api/internal/config"
)

const (
	BackendSupabase   = "supabase"
	BackendS3         = "s3"
	BackendFilesystem = "filesystem"
)

// ErrTooLarge is returned for payloads above the configured limit.
var ErrTooLarge = errors.New("image exceeds maximum size")

// Object is a stored image.
type Object struct {
	Path        string
	URL         string
	ContentType string
	Size        int64
	Width       int
	Height      int
}

// Store uploads and removes image objects.
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (*Object, error)
	Delete(ctx context.Context, objectPath string) error
}

// New builds the store selected by cfg.Backend.
func New(cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case BackendSupabase:
		store, err = NewSupabaseStore(cfg.Supabase)
	case BackendS3:
		store, err = NewS3Store(cfg.S3)
	case BackendFilesystem, "":
		store, err = NewFilesystemStore(cfg.Filesystem.Root, cfg.Filesystem.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ObjectPath lays images out per user and job.
func ObjectPath(prefix, userID, jobID, imageID, contentType string) string {
	name := imageID + "." + Extension(contentType)
	return path.Join(strings.Trim(prefix, "/"), userID, jobID, name)
}

// Extension maps an image content type to a file extension.
func Extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

// Describe sniffs the content type and decodes the dimensions of data. The
// declared type wins when the bytes are not recognised as an image.
func Describe(data []byte, declared string) (contentType string, width, height int) {
	contentType = http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = declared
	}
	if contentType == "" {
		contentType = "image/png"
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}
	return contentType, width, height
}

func publicURL(base, objectPath string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(objectPath, "/")
}
