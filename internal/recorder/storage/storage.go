// Package storage uploads archived recordings to object storage and keeps a
// queryable catalog of them.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ObjectStore is the subset of object storage used by the archiver.
type ObjectStore interface {
	PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// PutOption configures uploads.
type PutOption func(*putOptions)

type putOptions struct {
	ContentType string
	Metadata    map[string]string
}

// WithContentType overrides the content type detected from the file name.
func WithContentType(contentType string) PutOption {
	return func(o *putOptions) { o.ContentType = contentType }
}

// WithMetadata attaches user metadata to the object.
func WithMetadata(metadata map[string]string) PutOption {
	return func(o *putOptions) { o.Metadata = metadata }
}

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotExist returns true if the error indicates the object doesn't exist
func IsNotExist(err error) bool {
	var serr *StorageError
	return errors.As(err, &serr) && serr.StatusCode == 404
}

// IsAccessDenied returns true if the error indicates access was denied
func IsAccessDenied(err error) bool {
	var serr *StorageError
	return errors.As(err, &serr) && serr.StatusCode == 403
}

// ObjectKey maps an archive path below root to a slash-separated key.
func ObjectKey(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// detectContentType attempts to detect content type from file extension
func detectContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
