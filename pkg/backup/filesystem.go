package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// localFS implements fileSystem on the local disk.
type localFS struct{}

func (localFS) MkdirAll(p string) error { return os.MkdirAll(filepath.FromSlash(p), 0o750) }

func (localFS) Create(p string) (io.WriteCloser, error) {
	return os.OpenFile(filepath.FromSlash(p), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
}

func (localFS) Open(p string) (io.ReadCloser, error) { return os.Open(filepath.FromSlash(p)) }

func (localFS) Rename(oldPath, newPath string) error {
	return os.Rename(filepath.FromSlash(oldPath), filepath.FromSlash(newPath))
}

func (localFS) RemoveAll(p string) error { return os.RemoveAll(filepath.FromSlash(p)) }

func (localFS) Stat(p string) (os.FileInfo, error) { return os.Stat(filepath.FromSlash(p)) }

func (localFS) ReadDir(p string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(filepath.FromSlash(p))
	if err != nil {
		return nil, err
	}
	out := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// NewFilesystemStore creates a backup store rooted at a local directory.
func NewFilesystemStore(root string, logger zerolog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("backup path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup path: %w", err)
	}
	return newStore(localFS{}, filepath.ToSlash(abs), "file", "", nil, logger)
}
