package objectstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
)

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryObjectStore is a process-local core.ObjectStore for development and tests.
type MemoryObjectStore struct {
	mutex   sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryObjectStore creates an empty in-memory store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		mutex:   sync.RWMutex{},
		objects: make(map[string]memoryObject),
	}
}

// Put stores a copy of data.
func (s *MemoryObjectStore) Put(
	_ context.Context,
	key string,
	data []byte,
	contentType string,
	metadata map[string]string,
) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	meta := make(map[string]string, len(metadata))
	for name, value := range metadata {
		meta[name] = value
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.objects[key] = memoryObject{
		data:        copied,
		contentType: contentType,
		metadata:    meta,
		modified:    time.Now().UTC(),
	}

	return nil
}

// Download returns a copy of the stored bytes.
func (s *MemoryObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	obj, found := s.objects[key]
	if !found {
		return nil, fmt.Errorf("%w: '%s'", core.ErrObjectNotFound, key)
	}

	copied := make([]byte, len(obj.data))
	copy(copied, obj.data)

	return copied, nil
}

// Delete removes key.
func (s *MemoryObjectStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, found := s.objects[key]; !found {
		return fmt.Errorf("%w: '%s'", core.ErrObjectNotFound, key)
	}

	delete(s.objects, key)

	return nil
}

// Stat describes key.
func (s *MemoryObjectStore) Stat(_ context.Context, key string) (*core.ObjectInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	obj, found := s.objects[key]
	if !found {
		return nil, fmt.Errorf("%w: '%s'", core.ErrObjectNotFound, key)
	}

	meta := make(map[string]string, len(obj.metadata))
	for name, value := range obj.metadata {
		meta[name] = value
	}

	return &core.ObjectInfo{
		Key:          key,
		SizeBytes:    int64(len(obj.data)),
		LastModified: obj.modified,
		ContentType:  obj.contentType,
		Metadata:     meta,
	}, nil
}

// Keys lists the stored keys in lexical order.
func (s *MemoryObjectStore) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
