package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/semaphore"

	"github.com/mikeyg42/camrecorder/internal/metrics"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

// MinIOConfig configures the archive bucket.
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`

	// MaxUploads bounds concurrent PutFile calls.
	MaxUploads     int           `yaml:"max_uploads"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// MinIOStore uploads archives to a MinIO (or any S3) bucket.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	config  MinIOConfig
	uploads *semaphore.Weighted
	logger  recorderlog.Logger
}

// NewMinIOStore connects to MinIO and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, config MinIOConfig, logger recorderlog.Logger) (*MinIOStore, error) {
	if config.MaxUploads <= 0 {
		config.MaxUploads = 4
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	config.MaxRetries = max(config.MaxRetries, 0)
	if logger == nil {
		logger = recorderlog.L()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	s := &MinIOStore{
		client:  client,
		bucket:  config.Bucket,
		config:  config,
		uploads: semaphore.NewWeighted(int64(config.MaxUploads)),
		logger:  logger.Named("minio-store").With(recorderlog.String("bucket", config.Bucket)),
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("Created archive bucket")
	}
	return s, nil
}

func (s *MinIOStore) retryPolicy(ctx context.Context) backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	if s.config.RetryBackoff > 0 {
		ebo.InitialInterval = s.config.RetryBackoff
	}
	ebo.Reset()
	var b backoff.BackOff = ebo
	if s.config.MaxRetries > 0 {
		b = backoff.WithMaxRetries(ebo, uint64(s.config.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// PutFile uploads filePath as key. Server errors are retried with
// exponential backoff; client errors fail at once.
func (s *MinIOStore) PutFile(ctx context.Context, key, filePath string, opts ...PutOption) error {
	f, err := os.Open(filePath)
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}

	options := &putOptions{ContentType: detectContentType(filePath)}
	for _, opt := range opts {
		opt(options)
	}
	putOpts := minio.PutObjectOptions{ContentType: options.ContentType, UserMetadata: options.Metadata}

	if err := s.uploads.Acquire(ctx, 1); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	defer s.uploads.Release(1)
	metrics.ActiveUploads.Inc()
	defer metrics.ActiveUploads.Dec()

	start := time.Now()
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(fmt.Errorf("seek reset failed: %w", err))
		}
		info, err := s.client.PutObject(ctx, s.bucket, key, f, stat.Size(), putOpts)
		if err != nil {
			s.logger.Warn("Upload attempt failed",
				recorderlog.String("key", key),
				recorderlog.Int("attempt", attempt),
				recorderlog.Error(err))
			if !retryable(statusCode(err)) {
				return backoff.Permanent(err)
			}
			return err
		}
		metrics.RecordUpload(info.Size, time.Since(start))
		s.logger.Debug("Archive uploaded",
			recorderlog.String("key", key),
			recorderlog.Int64("size", info.Size),
			recorderlog.Int("attempts", attempt))
		return nil
	}, s.retryPolicy(ctx))
	if err != nil {
		metrics.RecordUploadError()
		code := statusCode(err)
		return &StorageError{Op: "put", Key: key, Err: err, StatusCode: code, Retryable: retryable(code)}
	}
	return nil
}

// Exists reports whether key is present.
func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch code := statusCode(err); {
	case err == nil:
		return true, nil
	case code == http.StatusNotFound:
		return false, nil
	default:
		return false, &StorageError{Op: "stat", Key: key, Err: err, StatusCode: code}
	}
}

// Delete removes key.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err, StatusCode: statusCode(err)}
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "health_check", Err: err, StatusCode: statusCode(err)}
	}
	if !exists {
		return &StorageError{Op: "health_check", Err: fmt.Errorf("bucket %s does not exist", s.bucket), StatusCode: http.StatusNotFound}
	}
	return nil
}

// statusCode maps a MinIO error to an HTTP status. Errors without a
// response count as 500.
func statusCode(err error) int {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return http.StatusNotFound
	case "AccessDenied":
		return http.StatusForbidden
	case "InvalidArgument", "EntityTooLarge":
		return http.StatusBadRequest
	}
	if resp.StatusCode != 0 {
		return resp.StatusCode
	}
	return http.StatusInternalServerError
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
