package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"audibridge/internal/config"
	"audibridge/internal/services"
)

// ObjectStore is the durable destination for acquisition output.
type ObjectStore interface {
	// Put stores size bytes from body at bucket/key. Readers never observe a
	// partially written object.
	Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error
	// Promote moves bucket/from to bucket/to, replacing any object already at
	// to. Readers see either the old object or the new one.
	Promote(ctx context.Context, bucket, from, to string) error
	// Delete removes bucket/key. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// New builds the backend selected by the [storage] config section.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage.S3, logger)
	case config.StorageFilesystem:
		return NewFilesystem(cfg.Storage.Filesystem.Root), nil
	default:
		return nil, services.Wrap(services.ErrValidation, "storage", "init",
			fmt.Sprintf("unknown backend %q", cfg.Storage.Backend), nil)
	}
}

// ObjectKey builds the deterministic key {prefix}/{asin}.{ext}. The prefix is
// cleaned; absolute prefixes are made relative and parent traversal is rejected.
func ObjectKey(prefix, asin, ext string) (string, error) {
	asin = strings.TrimSpace(asin)
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if asin == "" || ext == "" {
		return "", services.Wrap(services.ErrValidation, "storage", "object key", "asin and extension are required", nil)
	}
	prefix = strings.TrimSpace(strings.ReplaceAll(prefix, "\\", "/"))
	for _, segment := range strings.Split(prefix, "/") {
		if segment == ".." {
			return "", services.Wrap(services.ErrValidation, "storage", "object key",
				fmt.Sprintf("path %q must not contain '..'", prefix), nil)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	name := asin + "." + ext
	if cleaned == "" {
		return name, nil
	}
	return cleaned + "/" + name, nil
}

// StagingKey is the job-scoped key an upload is written to before it is
// promoted to key.
func StagingKey(key, jobID string) string {
	return key + "." + jobID + ".part"
}

func validateLocation(bucket, key string) error {
	if strings.TrimSpace(bucket) == "" {
		return services.Wrap(services.ErrValidation, "storage", "put", "bucket is required", nil)
	}
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return services.Wrap(services.ErrValidation, "storage", "put", fmt.Sprintf("invalid key %q", key), nil)
	}
	for _, segment := range strings.Split(bucket+"/"+key, "/") {
		if segment == ".." {
			return services.Wrap(services.ErrValidation, "storage", "put", "location must not contain '..'", nil)
		}
	}
	return nil
}
