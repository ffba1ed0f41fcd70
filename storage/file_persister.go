package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePersister persists files. It abstracts away where and how files are
// written.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister persists files to the local disk.
type LocalFilePersister struct{}

// Persist writes data to path on the local disk, creating the parent
// directories. The data is written to a temporary file first and renamed
// into place, so readers never see a partially written file.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(cp)+".*")
	if err != nil {
		return fmt.Errorf("creating a local file in %q: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = io.Copy(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing the local file %q: %w", cp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing the local file %q: %w", cp, err)
	}
	if err = ctx.Err(); err != nil {
		return fmt.Errorf("persisting %q: %w", cp, err)
	}
	if err = os.Rename(f.Name(), cp); err != nil {
		return fmt.Errorf("moving the local file into %q: %w", cp, err)
	}

	return nil
}
