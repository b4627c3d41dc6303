// Package images persists captured frames and returns the path stored on
// the event record.
package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghalamif/RailFlow/internal/ports"
)

// FileStore writes frames under a local root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("image root %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

// Save writes data to <root>/<key> and returns the full path. Empty data
// writes nothing and returns "".
func (s *FileStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("save image %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("save image %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("save image %s: %w", key, err)
	}
	return path, nil
}

var _ ports.ImageStore = (*FileStore)(nil)
