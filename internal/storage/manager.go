// Package storage manages podcast audio objects: deterministic key derivation,
// uploads carrying retention metadata, idempotent deletes and metadata lookups.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/google/uuid"
)

// Metadata keys written on every upload.
const (
	MetaGeneratedAt     = "generated-at"
	MetaAutoDeleteAfter = "auto-delete-after"
)

// Defaults.
const (
	DefaultKeyPrefix   = "podcasts"
	DefaultRetention   = 30 * 24 * time.Hour
	ContentTypeWAV     = "audio/wav"
	ExtensionWAV       = "wav"
	randomTokenLength  = 12
	keyFormat          = "%s/%s/%s/%d-%s.%s"
	errFmtEmptyKeyPart = "%s cannot be empty"
)

// Options configures a Manager.
type Options struct {
	KeyPrefix     string
	PublicBaseURL string
	Retention     time.Duration
	Clock         core.Clock
	// TokenFunc overrides the random token generator. Tests only.
	TokenFunc func() string
}

// Manager wraps an ObjectStore with the podcast storage conventions.
type Manager struct {
	store         core.ObjectStore
	keyPrefix     string
	publicBaseURL string
	retention     time.Duration
	clock         core.Clock
	tokenFunc     func() string
}

// PutResult describes a completed upload.
type PutResult struct {
	Key       string
	URL       string
	SizeBytes int64
}

// NewManager creates a storage manager over the given object store.
func NewManager(store core.ObjectStore, opts Options) *Manager {
	manager := &Manager{
		store:         store,
		keyPrefix:     strings.Trim(opts.KeyPrefix, "/"),
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		retention:     opts.Retention,
		clock:         opts.Clock,
		tokenFunc:     opts.TokenFunc,
	}

	if manager.keyPrefix == "" {
		manager.keyPrefix = DefaultKeyPrefix
	}

	if manager.retention <= 0 {
		manager.retention = DefaultRetention
	}

	if manager.clock == nil {
		manager.clock = core.SystemClock{}
	}

	if manager.tokenFunc == nil {
		manager.tokenFunc = randomToken
	}

	return manager
}

// Key derives a fresh storage key: {prefix}/{ownerID}/{artifactID}/{unixMillis}-{token}.{ext}.
func (m *Manager) Key(ownerID, artifactID, ext string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", fmt.Errorf("%w: "+errFmtEmptyKeyPart, core.ErrValidation, "owner id")
	}

	if strings.TrimSpace(artifactID) == "" {
		return "", fmt.Errorf("%w: "+errFmtEmptyKeyPart, core.ErrValidation, "artifact id")
	}

	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = ExtensionWAV
	}

	return fmt.Sprintf(
		keyFormat,
		m.keyPrefix,
		ownerID,
		artifactID,
		m.clock.Now().UnixMilli(),
		m.tokenFunc(),
		ext,
	), nil
}

// PublicURL derives the public read URL of a key.
func (m *Manager) PublicURL(key string) string {
	if m.publicBaseURL == "" {
		return "/" + key
	}

	return m.publicBaseURL + "/" + key
}

// Put uploads data under key. The generated-at and auto-delete-after metadata
// entries are always set; caller metadata is merged underneath them.
func (m *Manager) Put(
	ctx context.Context,
	data []byte,
	key string,
	contentType string,
	metadata map[string]string,
) (*PutResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: "+errFmtEmptyKeyPart, core.ErrValidation, "storage key")
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: refusing to upload empty audio for '%s'", core.ErrValidation, key)
	}

	if contentType == "" {
		contentType = ContentTypeWAV
	}

	generatedAt := m.clock.Now().UTC()

	merged := make(map[string]string, len(metadata)+2)
	for name, value := range metadata {
		merged[name] = value
	}

	merged[MetaGeneratedAt] = generatedAt.Format(time.RFC3339)
	merged[MetaAutoDeleteAfter] = generatedAt.Add(m.retention).Format(time.RFC3339)

	err := m.store.Put(ctx, key, data, contentType, merged)
	if err != nil {
		return nil, fmt.Errorf("%w: upload of '%s' failed: %w", core.ErrStorage, key, err)
	}

	return &PutResult{
		Key:       key,
		URL:       m.PublicURL(key),
		SizeBytes: int64(len(data)),
	}, nil
}

// Delete removes key. A missing object counts as success.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	err := m.store.Delete(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil
		}

		return fmt.Errorf("%w: delete of '%s' failed: %w", core.ErrStorage, key, err)
	}

	return nil
}

// HeadMetadata returns size, modification time and content type of key.
// A missing object yields an error wrapping core.ErrNotFound.
func (m *Manager) HeadMetadata(ctx context.Context, key string) (*core.ObjectInfo, error) {
	info, err := m.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: object '%s'", core.ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: stat of '%s' failed: %w", core.ErrStorage, key, err)
	}

	return info, nil
}

// Download reads the bytes stored under key.
func (m *Manager) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := m.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: object '%s'", core.ErrNotFound, key)
		}

		return nil, fmt.Errorf("%w: download of '%s' failed: %w", core.ErrStorage, key, err)
	}

	return data, nil
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:randomTokenLength]
}
