// Package storage reads case inputs from and writes exports to object storage.
package storage

import (
	"context"
	"path"
	"strings"

	"github.com/myrjola/amlnarrator/internal/errors"
)

var (
	ErrNotFound    = errors.NewSentinel("object not found")
	ErrInvalidPath = errors.NewSentinel("invalid object path")
)

// Store is a flat object namespace with slash separated paths.
type Store interface {
	// List returns the paths of all objects below folder, recursively and sorted.
	List(ctx context.Context, folder string) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	// Write creates or replaces the object at path.
	Write(ctx context.Context, path string, data []byte) error
}

// Join builds an object path from elements, ignoring empty ones.
func Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = strings.Trim(strings.TrimSpace(e), "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// cleanPath normalises p and rejects paths escaping the namespace.
func cleanPath(p string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(strings.ReplaceAll(p, "\\", "/")), "/")
	if trimmed == "" {
		return "", errors.Wrap(ErrInvalidPath, "empty path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Wrap(ErrInvalidPath, "path escapes store")
	}
	return cleaned, nil
}

// folderPrefix returns the listing prefix of folder. The root folder has an empty prefix.
func folderPrefix(folder string) (string, error) {
	if strings.Trim(strings.TrimSpace(folder), "/") == "" {
		return "", nil
	}
	cleaned, err := cleanPath(folder)
	if err != nil {
		return "", err
	}
	return cleaned + "/", nil
}
