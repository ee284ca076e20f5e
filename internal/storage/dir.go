package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/myrjola/amlnarrator/internal/errors"
)

// DirStore keeps objects as files below a root directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve storage dir", slog.String("root", root))
	}
	if err = os.MkdirAll(abs, 0o750); err != nil {
		return nil, errors.Wrap(err, "create storage dir", slog.String("root", abs))
	}
	return &DirStore{root: abs}, nil
}

// Root is the absolute path of the directory holding the objects.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) List(ctx context.Context, folder string) ([]string, error) {
	prefix, err := folderPrefix(folder)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, filepath.FromSlash(prefix))
	var paths []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list dir", slog.String("dir", dir))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DirStore) Read(_ context.Context, path string) ([]byte, error) {
	key, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrNotFound, "read file", slog.String("path", key))
	}
	if err != nil {
		return nil, errors.Wrap(err, "read file", slog.String("path", key))
	}
	return data, nil
}

func (s *DirStore) Write(_ context.Context, path string, data []byte) error {
	key, err := cleanPath(path)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if err = os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return errors.Wrap(err, "create parent dir", slog.String("path", key))
	}
	if err = os.WriteFile(target, data, 0o600); err != nil {
		return errors.Wrap(err, "write file", slog.String("path", key))
	}
	return nil
}
