package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileStore serves assets from a directory on disk.
type FileStore struct {
	basePath string
}

// NewFileStore serves files from basePath. A missing directory is treated as
// empty.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	return &FileStore{basePath: basePath}, nil
}

// Open returns the file and its metadata.
func (f *FileStore) Open(_ context.Context, name string) (io.ReadSeekCloser, ObjectInfo, error) {
	path, ok := f.path(name)
	if !ok {
		return nil, ObjectInfo{}, ErrNotFound
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}
	if stat.IsDir() {
		_ = file.Close()
		return nil, ObjectInfo{}, ErrNotFound
	}
	return file, ObjectInfo{
		Size:        stat.Size(),
		ModTime:     stat.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

// Exists reports whether a regular file with that name is present.
func (f *FileStore) Exists(_ context.Context, name string) (bool, error) {
	path, ok := f.path(name)
	if !ok {
		return false, nil
	}
	stat, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stat.Mode().IsRegular(), nil
}

func (f *FileStore) path(name string) (string, bool) {
	name, ok := baseName(name)
	if !ok {
		return "", false
	}
	return filepath.Join(f.basePath, name), true
}
