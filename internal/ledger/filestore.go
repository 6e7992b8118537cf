package ledger

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/dshills/paperdex/pkg/types"
)

// FileStore keeps a single record in a JSON file. The record name is
// ignored; use one file per ledger.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore writing to path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) LoadRecord(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(types.ErrNotFound, "progress file not found",
			goerr.V("path", f.path), goerr.V("record", name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read progress file", goerr.V("path", f.path))
	}
	return data, nil
}

// SaveRecord replaces the file atomically: a temp file in the same directory
// is synced and renamed over the old one.
func (f *FileStore) SaveRecord(_ context.Context, _ string, value []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create progress directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write progress file", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync progress file", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close progress file", goerr.V("path", tmpName))
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return goerr.Wrap(err, "failed to replace progress file", goerr.V("path", f.path))
	}
	return nil
}
