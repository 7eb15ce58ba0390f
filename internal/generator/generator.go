// Package generator turns prepared document text into a stored podcast audio object.
//
// Generate runs the synthesis strategy chain (dialogue with single-voice fallback),
// replaces the previous audio object if one is named, uploads the new audio and computes
// its exact duration. StreamGenerate is the explicit streaming alternative; it reports
// progress while bytes arrive and has no fallback of its own.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/duration"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/synthesis"
)

// Metadata keys attached to uploaded audio in addition to the retention entries.
const (
	MetaArtifactID       = "artifact-id"
	MetaOwnerID          = "owner-id"
	MetaGenerationMethod = "generation-method"
)

const (
	// DefaultStreamExpectedBytes is the size the stream progress estimate is measured against.
	DefaultStreamExpectedBytes = 5 * 1024 * 1024
	streamChunkBytes           = 32 * 1024
	progressCeiling            = 0.99
	progressDone               = 1.0
)

// ErrPreviousAudioDeleted marks an upload failure that happened after the previous
// audio object had already been deleted. The caller must drop its references to it.
var ErrPreviousAudioDeleted = errors.New("previous audio deleted")

// Streamer opens a streaming dialogue request.
type Streamer interface {
	OpenDialogueStream(ctx context.Context, req synthesis.DialogueRequest) (io.ReadCloser, error)
}

// ProgressFunc receives a fractional progress estimate in [0, 1].
type ProgressFunc func(fraction float64)

// Options carries the caller's optional overrides for one generation.
type Options struct {
	Speakers      []core.Speaker
	VoiceSettings *core.VoiceSettings
	// ReplaceKey names the previous audio object of the section. It is deleted
	// best-effort before the new upload.
	ReplaceKey string
}

// Config wires a Generator.
type Config struct {
	Preparer            *content.Preparer
	Synthesizer         synthesis.Synthesizer
	Streamer            Streamer
	Storage             *storage.Manager
	Metrics             *metrics.Collectors
	Log                 *logger.Logger
	ModelID             string
	StreamExpectedBytes int64
}

// Generator is the audio generation orchestrator. It holds no per-artifact state.
type Generator struct {
	preparer            *content.Preparer
	synthesizer         synthesis.Synthesizer
	streamer            Streamer
	storage             *storage.Manager
	metrics             *metrics.Collectors
	log                 *logger.Logger
	modelID             string
	streamExpectedBytes int64
}

// New creates a Generator.
func New(cfg Config) *Generator {
	preparer := cfg.Preparer
	if preparer == nil {
		preparer = content.NewPreparer(content.DialogueMaxChars)
	}

	expected := cfg.StreamExpectedBytes
	if expected <= 0 {
		expected = DefaultStreamExpectedBytes
	}

	return &Generator{
		preparer:            preparer,
		synthesizer:         cfg.Synthesizer,
		streamer:            cfg.Streamer,
		storage:             cfg.Storage,
		metrics:             cfg.Metrics,
		log:                 cfg.Log,
		modelID:             cfg.ModelID,
		streamExpectedBytes: expected,
	}
}

// Generate synthesizes text for the artifact and stores the audio.
func (g *Generator) Generate(
	ctx context.Context,
	text, artifactID, ownerID string,
	opts Options,
) (*core.AudioResult, error) {
	prepared, err := g.prepare(text, artifactID, ownerID, opts)
	if err != nil {
		return nil, err
	}

	audio, err := g.synthesizer.Synthesize(ctx, prepared)
	if err != nil {
		g.metrics.GenerationFailed()
		g.log.Error("Synthesis for podcast %s failed: %v", artifactID, err)

		return nil, fmt.Errorf("podcast %s: %w", artifactID, err)
	}

	if audio.PrimaryError != "" {
		g.log.Info("Podcast %s produced by %s after primary failure: %s",
			artifactID, audio.Method, audio.PrimaryError)
	}

	result, err := g.store(ctx, audio.Data, audio.Method, artifactID, ownerID, opts.ReplaceKey)
	if err != nil {
		return nil, err
	}

	g.metrics.ObserveGeneration(audio.Method, audio.PollAttempts, result.FileSizeBytes)
	g.log.Info("Podcast %s generated via %s: %s (%d bytes, %ds)",
		artifactID, result.GenerationMethod, result.StorageKey, result.FileSizeBytes, result.DurationSeconds)

	return result, nil
}

// StreamGenerate issues one streaming dialogue request, reports progress while the
// audio arrives and stores the complete buffer. Progress stays below 1 until the
// upload has succeeded.
func (g *Generator) StreamGenerate(
	ctx context.Context,
	text, artifactID, ownerID string,
	opts Options,
	progress ProgressFunc,
) (*core.AudioResult, error) {
	if g.streamer == nil {
		return nil, fmt.Errorf("%w: streaming is not configured", core.ErrValidation)
	}

	prepared, err := g.prepare(text, artifactID, ownerID, opts)
	if err != nil {
		return nil, err
	}

	body, err := g.streamer.OpenDialogueStream(ctx, synthesis.NewDialogueRequest(prepared, g.modelID))
	if err != nil {
		g.metrics.GenerationFailed()

		return nil, fmt.Errorf("podcast %s: dialogue stream: %w", artifactID, err)
	}
	defer body.Close()

	data, err := g.accumulate(ctx, body, progress)
	if err != nil {
		g.metrics.GenerationFailed()

		return nil, fmt.Errorf("podcast %s: %w", artifactID, err)
	}

	result, err := g.store(ctx, data, core.MethodDialogue, artifactID, ownerID, opts.ReplaceKey)
	if err != nil {
		return nil, err
	}

	report(progress, progressDone)
	g.metrics.ObserveGeneration(core.MethodDialogue, 0, result.FileSizeBytes)

	return result, nil
}

func (g *Generator) prepare(text, artifactID, ownerID string, opts Options) (*content.Prepared, error) {
	if strings.TrimSpace(artifactID) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: artifact id and owner id are required", core.ErrValidation)
	}

	prepared, err := g.preparer.Prepare(text, content.Options{
		Speakers:      opts.Speakers,
		VoiceSettings: opts.VoiceSettings,
	})
	if err != nil {
		return nil, fmt.Errorf("podcast %s: %w", artifactID, err)
	}

	if prepared.Truncated {
		g.log.Warn("Podcast %s text truncated to %d characters", artifactID, len([]rune(prepared.Text)))
	}

	return prepared, nil
}

func (g *Generator) accumulate(ctx context.Context, body io.Reader, progress ProgressFunc) ([]byte, error) {
	var data []byte

	chunk := make([]byte, streamChunkBytes)

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			report(progress, min(float64(len(data))/float64(g.streamExpectedBytes), progressCeiling))
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dialogue stream interrupted: %w", ctx.Err())
			}

			return nil, fmt.Errorf("%w: dialogue stream read failed: %w", core.ErrUpstream, readErr)
		}
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: dialogue stream returned no audio", core.ErrUpstream)
	}

	return data, nil
}

// store replaces the previous object, uploads data and composes the result.
func (g *Generator) store(
	ctx context.Context,
	data []byte,
	method core.GenerationMethod,
	artifactID, ownerID, replaceKey string,
) (*core.AudioResult, error) {
	key, err := g.storage.Key(ownerID, artifactID, storage.ExtensionWAV)
	if err != nil {
		return nil, err
	}

	replaced := g.replace(ctx, artifactID, replaceKey)

	put, err := g.storage.Put(ctx, data, key, storage.ContentTypeWAV, map[string]string{
		MetaArtifactID:       artifactID,
		MetaOwnerID:          ownerID,
		MetaGenerationMethod: string(method),
	})
	if err != nil {
		g.metrics.GenerationFailed()
		g.log.Error("Upload for podcast %s failed: %v", artifactID, err)

		if replaced {
			return nil, fmt.Errorf("podcast %s: %w (%w: %s)", artifactID, err, ErrPreviousAudioDeleted, replaceKey)
		}

		return nil, fmt.Errorf("podcast %s: %w", artifactID, err)
	}

	return &core.AudioResult{
		AudioURL:         put.URL,
		DurationSeconds:  duration.Exact(data).Seconds,
		FileSizeBytes:    put.SizeBytes,
		StorageKey:       put.Key,
		GenerationMethod: method,
	}, nil
}

// replace deletes the previous audio object and reports whether it is gone. Failures
// are logged and counted, never returned.
func (g *Generator) replace(ctx context.Context, artifactID, replaceKey string) bool {
	if replaceKey == "" {
		return false
	}

	err := g.storage.Delete(ctx, replaceKey)
	if err != nil {
		g.metrics.ReplacedObjectDeleteFailed()
		g.log.Warn("Could not delete previous audio %s of podcast %s: %v", replaceKey, artifactID, err)

		return false
	}

	g.log.Info("Deleted previous audio %s of podcast %s", replaceKey, artifactID)

	return true
}

func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}
