package storage

import (
	"errors"
	"fmt"
	"testing"

	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestStorageError(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("upload: %w", &StorageError{Op: "put", Key: "a/b.mp4", Err: base, StatusCode: 404})
	assert.ErrorIs(t, err, base)
	assert.True(t, IsNotExist(err))
	assert.False(t, IsAccessDenied(err))
	assert.Equal(t, "upload: put a/b.mp4: boom", err.Error())
	assert.Equal(t, "health_check: boom", (&StorageError{Op: "health_check", Err: base}).Error())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 404, statusCode(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.Equal(t, 403, statusCode(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.Equal(t, 503, statusCode(minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}))
	assert.Equal(t, 500, statusCode(errors.New("dial tcp: refused")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(500))
	assert.True(t, retryable(503))
	assert.True(t, retryable(429))
	assert.False(t, retryable(403))
	assert.False(t, retryable(404))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "2024-01-02/front/Camera-front_1_ALWAYS.mp4",
		ObjectKey("/archive", "/archive/2024-01-02/front/Camera-front_1_ALWAYS.mp4"))
	assert.Equal(t, "x.mp4", ObjectKey("/archive", "/elsewhere/x.mp4"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", detectContentType("a.MP4"))
	assert.Equal(t, "video/webm", detectContentType("a.webm"))
	assert.Equal(t, "application/octet-stream", detectContentType("a.bin"))
}
