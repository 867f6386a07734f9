package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FilesystemStore writes images below a root directory served as static
// files by the API.
type FilesystemStore struct {
	fs            afero.Fs
	root          string
	publicBaseURL string
}

func NewFilesystemStore(root, publicBaseURL string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem storage requires a root directory")
	}
	return NewFilesystemStoreFs(afero.NewOsFs(), root, publicBaseURL)
}

// NewFilesystemStoreFs is NewFilesystemStore over an arbitrary afero.Fs.
func NewFilesystemStoreFs(fs afero.Fs, root, publicBaseURL string) (*FilesystemStore, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FilesystemStore{fs: fs, root: root, publicBaseURL: publicBaseURL}, nil
}

// Root is the directory images are written under.
func (s *FilesystemStore) Root() string {
	return s.root
}

func (s *FilesystemStore) Put(_ context.Context, objectPath string, data []byte, contentType string) (*Object, error) {
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", objectPath, err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", objectPath, err)
	}
	return &Object{
		Path:        objectPath,
		URL:         publicURL(s.publicBaseURL, objectPath),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// Delete removes the object; a missing object is not an error.
func (s *FilesystemStore) Delete(_ context.Context, objectPath string) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", objectPath, err)
	}
	return nil
}

func (s *FilesystemStore) resolve(objectPath string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	if clean == string(filepath.Separator) || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	return filepath.Join(s.root, clean), nil
}
