package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint        string // e.g. "minio:9000" or "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string // optional; skips the bucket location lookup
	UseSSL          bool
}

// MinIO stores blobs in a single bucket, created on first write.
type MinIO struct {
	mc     *minio.Client
	bucket string
	region string

	// bucketReady is set once the bucket is known to exist. Failed checks
	// are retried on the next write.
	bucketMu    sync.Mutex
	bucketReady bool
}

// NewMinIO creates a MinIO backed store.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{mc: mc, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	m.bucketMu.Lock()
	defer m.bucketMu.Unlock()
	if m.bucketReady {
		return nil
	}

	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
		}
	}
	m.bucketReady = true
	return nil
}

// Put uploads data under key unless the key is already taken.
func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	if _, err := m.stat(ctx, key); err == nil {
		return fmt.Errorf("%s: %w", key, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := m.mc.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Get downloads the whole object.
func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.mc.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinIOErr(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinIOErr(key, err)
	}
	return data, nil
}

// GetRange downloads part of an object.
func (m *MinIO) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, int64, error) {
	size, err := m.stat(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	end, err := span(size, offset, length)
	if err != nil {
		return nil, size, err
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, end); err != nil {
		return nil, size, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	obj, err := m.mc.GetObject(ctx, m.bucket, key, opts)
	if err != nil {
		return nil, size, mapMinIOErr(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, size, mapMinIOErr(key, err)
	}
	return data, size, nil
}

func (m *MinIO) stat(ctx context.Context, key string) (int64, error) {
	info, err := m.mc.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrNotFound
		}
		return 0, mapMinIOErr(key, err)
	}
	return info.Size, nil
}

func mapMinIOErr(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	case "InvalidRange":
		return fmt.Errorf("%s: %w", key, ErrInvalidRange)
	}
	return fmt.Errorf("storage %s: %w", key, err)
}
