// Package objectstore provides the ObjectStore backends used by the storage manager.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const headerContentType = "Content-Type"

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNatsObjectStore creates the bucket, or binds to it when it already exists.
func NewNatsObjectStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Podcast audio for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Put saves an object together with its content type and metadata.
func (n *NatsObjectStore) Put(
	_ context.Context,
	key string,
	data []byte,
	contentType string,
	metadata map[string]string,
) error {
	headers := nats.Header{}
	headers.Set(headerContentType, contentType)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     headers,
		Metadata:    metadata,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, n.wrapLookupErr(key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Delete removes an object. Missing keys yield an error wrapping core.ErrObjectNotFound.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return n.wrapLookupErr(key, err)
	}

	return nil
}

// Stat returns the stored size, modification time, content type and metadata of an object.
func (n *NatsObjectStore) Stat(_ context.Context, key string) (*core.ObjectInfo, error) {
	info, err := n.store.GetInfo(key)
	if err != nil {
		return nil, n.wrapLookupErr(key, err)
	}

	contentType := ""
	if info.Headers != nil {
		contentType = info.Headers.Get(headerContentType)
	}

	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    int64(info.Size),
		LastModified: info.ModTime,
		ContentType:  contentType,
		Metadata:     info.Metadata,
	}, nil
}

func (n *NatsObjectStore) wrapLookupErr(key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, n.bucket)
	}

	return fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, err)
}
