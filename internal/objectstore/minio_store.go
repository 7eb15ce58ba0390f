package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const errCodeNoSuchKey = "NoSuchKey"

// MinioOptions holds the connection settings for an S3-compatible bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioObjectStore implements core.ObjectStore against any S3-compatible endpoint.
type MinioObjectStore struct {
	client *minio.Client
	bucket string
}

// NewMinioObjectStore connects to the endpoint and makes sure the bucket exists.
func NewMinioObjectStore(ctx context.Context, opts MinioOptions) (*MinioObjectStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for %s: %w", opts.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket '%s': %w", opts.Bucket, err)
	}

	if !exists {
		makeErr := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{})
		if makeErr != nil {
			return nil, fmt.Errorf("failed to create bucket '%s': %w", opts.Bucket, makeErr)
		}
	}

	return &MinioObjectStore{
		client: client,
		bucket: opts.Bucket,
	}, nil
}

// Put uploads an object with its content type and user metadata.
func (m *MinioObjectStore) Put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
	metadata map[string]string,
) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, m.bucket, err)
	}

	return nil
}

// Download retrieves an object's bytes.
func (m *MinioObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrapLookupErr(key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, m.wrapLookupErr(key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Delete removes an object. S3 deletes are already idempotent, so a missing key is
// reported through Stat first to keep the behaviour aligned with the NATS backend.
func (m *MinioObjectStore) Delete(ctx context.Context, key string) error {
	_, statErr := m.Stat(ctx, key)
	if statErr != nil {
		return statErr
	}

	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return m.wrapLookupErr(key, err)
	}

	return nil
}

// Stat returns size, modification time, content type and metadata of an object.
func (m *MinioObjectStore) Stat(ctx context.Context, key string) (*core.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, m.wrapLookupErr(key, err)
	}

	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}, nil
}

func (m *MinioObjectStore) wrapLookupErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == errCodeNoSuchKey {
		return fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, m.bucket)
	}

	return fmt.Errorf("object '%s' in bucket '%s': %w", key, m.bucket, err)
}
