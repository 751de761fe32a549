// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where image blobs are stored.
	BaseDir string
	// PublicBaseURL is prepended to locators when deriving public URLs,
	// for deployments that serve BaseDir through a static file server.
	// Empty falls back to file:// URIs.
	PublicBaseURL string
}

// BlobStore writes image bytes to the local filesystem.
type BlobStore struct {
	cfg Config
}

// New creates a filesystem-backed blob store, verifying the base directory
// exists and is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &BlobStore{cfg: cfg}, nil
}

// PutObject writes image bytes under the locator path and returns its public
// URL.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.cfg.BaseDir, path)

	// Reject locators that escape the base directory.
	cleanBase := filepath.Clean(s.cfg.BaseDir)
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return s.PublicURL(path), nil
}

// PublicURL derives the serving URL for a stored locator.
func (s *BlobStore) PublicURL(path string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return fmt.Sprintf("file://%s", filepath.Join(s.cfg.BaseDir, path))
}
