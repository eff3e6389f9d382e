package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"audibridge/internal/services"
)

// Filesystem stores objects below Root as {Root}/{bucket}/{key}.
type Filesystem struct {
	Root string
}

// NewFilesystem returns a filesystem-backed store rooted at root.
func NewFilesystem(root string) *Filesystem {
	return &Filesystem{Root: root}
}

func (f *Filesystem) objectPath(bucket, key string) string {
	return filepath.Join(f.Root, filepath.FromSlash(bucket), filepath.FromSlash(key))
}

// Put writes into a sibling temp file and renames it over the destination.
func (f *Filesystem) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	if err := validateLocation(bucket, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := f.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "rewind source", err)
	}
	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body})
	if err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "copy", err)
	}
	if size >= 0 && written != size {
		return services.Wrap(services.ErrStorageFailed, "storage", "put",
			fmt.Sprintf("short write: %d of %d bytes", written, size), nil)
	}
	if err := tmp.Sync(); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "close", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "rename", err)
	}
	committed = true
	return nil
}

// Promote renames the staged file over the destination.
func (f *Filesystem) Promote(_ context.Context, bucket, from, to string) error {
	if err := validateLocation(bucket, from); err != nil {
		return err
	}
	if err := validateLocation(bucket, to); err != nil {
		return err
	}
	target := f.objectPath(bucket, to)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "promote", "create directory", err)
	}
	if err := os.Rename(f.objectPath(bucket, from), target); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "promote", from, err)
	}
	return nil
}

// Delete removes the object file if it exists.
func (f *Filesystem) Delete(_ context.Context, bucket, key string) error {
	if err := validateLocation(bucket, key); err != nil {
		return err
	}
	if err := os.Remove(f.objectPath(bucket, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrStorageFailed, "storage", "delete", key, err)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
