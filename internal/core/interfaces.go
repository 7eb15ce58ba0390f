// Package core defines the shared interfaces and contracts of the podcast audio pipeline.
package core

import (
	"context"
	"time"
)

// ObjectInfo describes a stored audio object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// ObjectStore defines the interface for interacting with a key-value blob store.
// Delete and Stat return an error wrapping ErrObjectNotFound when the key does not exist.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// Clock abstracts time so poll loops and expiry checks can run against a virtual clock.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep waits for d using a timer so cancellation is honoured.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GenerationMethod records which synthesis path produced an artifact.
type GenerationMethod string

const (
	MethodDialogue    GenerationMethod = "text-to-dialogue"
	MethodFallbackTTS GenerationMethod = "fallback-tts"
	MethodFailed      GenerationMethod = "failed"
)

// Speaker is a named voice taking part in a dialogue.
type Speaker struct {
	Name    string `json:"name"`
	VoiceID string `json:"voiceId"`
}

// VoiceSettings is the tuple of prosody controls sent to the dialogue service.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarityBoost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"useSpeakerBoost"`
}

// AudioResult is the contract returned to callers after a successful generation.
type AudioResult struct {
	AudioURL         string           `json:"audioUrl"`
	DurationSeconds  int              `json:"durationSeconds"`
	FileSizeBytes    int64            `json:"fileSizeBytes"`
	StorageKey       string           `json:"storageKey"`
	GenerationMethod GenerationMethod `json:"generationMethod"`
}
