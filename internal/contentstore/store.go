// Package contentstore abstracts the blob store strategy artifacts are
// fetched from.
package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// Store fetches raw strategy artifacts by name.
type Store interface {
	// Fetch returns the raw bytes for name. Returns an error with
	// ErrCodeStrategyNotFound if no artifact exists under that name.
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FileStore serves artifacts from a local directory.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Fetch implements Store.
func (s *FileStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Names are flat identifiers; reject anything that resolves outside
	// the store root.
	clean := filepath.Clean(name)
	if clean != name || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "invalid strategy name: %s", name)
	}

	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %s not found", name)
		}

		return nil, errors.Wrapf(errors.ErrCodeStrategyLoadFailed, err, "failed to read strategy %s", name)
	}

	return data, nil
}

var _ Store = (*FileStore)(nil)
