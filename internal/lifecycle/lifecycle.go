// Package lifecycle drives a podcast artifact through its states:
// created, generating, then processed or failed, and back to generating on regeneration.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/duration"
	"github.com/book-expert/podcast-service/internal/generator"
	"github.com/book-expert/podcast-service/internal/repository"
	"gorm.io/datatypes"
)

// DefaultRetention is how long processed audio is kept.
const DefaultRetention = 30 * 24 * time.Hour

// Store persists podcasts.
type Store interface {
	Create(ctx context.Context, podcast *repository.Podcast) error
	Get(ctx context.Context, id string) (*repository.Podcast, error)
	Save(ctx context.Context, podcast *repository.Podcast) error
}

// AudioGenerator produces stored audio for a podcast.
type AudioGenerator interface {
	Generate(ctx context.Context, text, artifactID, ownerID string, opts generator.Options) (*core.AudioResult, error)
	StreamGenerate(
		ctx context.Context,
		text, artifactID, ownerID string,
		opts generator.Options,
		progress generator.ProgressFunc,
	) (*core.AudioResult, error)
}

// CreateRequest starts a new podcast for a document.
type CreateRequest struct {
	DocumentID    string              `json:"documentId"`
	OwnerID       string              `json:"ownerId"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Text          string              `json:"text"`
	Speakers      []core.Speaker      `json:"speakers,omitempty"`
	VoiceSettings *core.VoiceSettings `json:"voiceSettings,omitempty"`
}

// GenerateRequest asks for (re)generation of an existing podcast.
type GenerateRequest struct {
	PodcastID     string              `json:"podcastId"`
	OwnerID       string              `json:"ownerId"`
	Text          string              `json:"text"`
	Speakers      []core.Speaker      `json:"speakers,omitempty"`
	VoiceSettings *core.VoiceSettings `json:"voiceSettings,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
	// Progress receives stream progress. Ignored unless Stream is set.
	Progress generator.ProgressFunc `json:"-"`
}

// Service owns artifact state. Generation itself is delegated to an AudioGenerator.
type Service struct {
	store     Store
	generator AudioGenerator
	clock     core.Clock
	retention time.Duration
	log       *logger.Logger
}

// NewService creates a lifecycle service. Zero retention selects DefaultRetention.
func NewService(
	store Store,
	audioGenerator AudioGenerator,
	clock core.Clock,
	retention time.Duration,
	log *logger.Logger,
) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}

	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Service{
		store:     store,
		generator: audioGenerator,
		clock:     clock,
		retention: retention,
		log:       log,
	}
}

// Create records a new podcast with one empty section and a provisional duration
// estimated from the text.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*repository.Podcast, error) {
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: document id and owner id are required", core.ErrValidation)
	}

	speakers, settings := content.Options{Speakers: req.Speakers, VoiceSettings: req.VoiceSettings}.Resolve()
	provisional := duration.Approximate(content.WordCount(req.Text))

	podcast := &repository.Podcast{
		DocumentID:    req.DocumentID,
		OwnerID:       req.OwnerID,
		Title:         req.Title,
		Description:   req.Description,
		TotalDuration: provisional.Formatted,
		Status:        repository.StatusCreated,
		Speakers:      datatypes.NewJSONType(speakers),
		VoiceSettings: datatypes.NewJSONType(settings),
		CreatedAt:     s.clock.Now(),
		Sections: []repository.PodcastSection{
			{Order: 0, Duration: provisional.Formatted},
		},
	}

	err := s.store.Create(ctx, podcast)
	if err != nil {
		return nil, err
	}

	s.log.Info("Created podcast %s for document %s (provisional duration %s)",
		podcast.ID, podcast.DocumentID, podcast.TotalDuration)

	return podcast, nil
}

// Generate runs generation for an existing podcast and records the outcome. The
// previous audio object, if any, is replaced. On a generation failure the podcast is
// marked failed and the error is returned together with the updated record.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*repository.Podcast, *core.AudioResult, error) {
	podcast, err := s.store.Get(ctx, req.PodcastID)
	if err != nil {
		return nil, nil, err
	}

	if podcast.OwnerID != req.OwnerID {
		return nil, nil, fmt.Errorf("%w: podcast '%s'", core.ErrNotFound, req.PodcastID)
	}

	opts := s.generationOptions(podcast, req)

	MarkGenerating(podcast, opts)

	saveErr := s.store.Save(ctx, podcast)
	if saveErr != nil {
		return nil, nil, saveErr
	}

	var result *core.AudioResult

	if req.Stream {
		result, err = s.generator.StreamGenerate(ctx, req.Text, podcast.ID, podcast.OwnerID, opts, req.Progress)
	} else {
		result, err = s.generator.Generate(ctx, req.Text, podcast.ID, podcast.OwnerID, opts)
	}

	if err != nil {
		MarkFailed(podcast, err)
		s.log.Warn("Podcast %s failed: %v", podcast.ID, err)

		saveErr = s.store.Save(ctx, podcast)
		if saveErr != nil {
			return nil, nil, fmt.Errorf("%w (recording failure also failed: %w)", err, saveErr)
		}

		return podcast, nil, err
	}

	MarkProcessed(podcast, result, s.clock.Now(), s.retention)

	saveErr = s.store.Save(ctx, podcast)
	if saveErr != nil {
		s.log.Error("Podcast %s generated %s but could not be recorded: %v", podcast.ID, result.StorageKey, saveErr)

		return nil, nil, saveErr
	}

	return podcast, result, nil
}

// generationOptions picks the configuration of this attempt: explicit overrides win,
// otherwise the snapshot of the previous attempt is reused.
func (s *Service) generationOptions(podcast *repository.Podcast, req GenerateRequest) generator.Options {
	speakers := req.Speakers
	if len(speakers) == 0 {
		speakers = podcast.Speakers.Data()
	}

	settings := req.VoiceSettings
	if settings == nil && len(podcast.Speakers.Data()) > 0 {
		snapshot := podcast.VoiceSettings.Data()
		settings = &snapshot
	}

	return generator.Options{
		Speakers:      speakers,
		VoiceSettings: settings,
		ReplaceKey:    currentKey(podcast),
	}
}

// MarkGenerating moves a podcast into the generating state and snapshots the configuration.
func MarkGenerating(podcast *repository.Podcast, opts generator.Options) {
	speakers, settings := content.Options{Speakers: opts.Speakers, VoiceSettings: opts.VoiceSettings}.Resolve()

	podcast.Status = repository.StatusGenerating
	podcast.IsProcessed = false
	podcast.Speakers = datatypes.NewJSONType(speakers)
	podcast.VoiceSettings = datatypes.NewJSONType(settings)

	ensureSection(podcast)

	podcast.Sections[0].IsProcessed = false
}

// MarkProcessed records a successful generation.
func MarkProcessed(podcast *repository.Podcast, result *core.AudioResult, now time.Time, retention time.Duration) {
	formatted := duration.Format(result.DurationSeconds)
	autoDeleteAt := now.UTC().Add(retention)

	podcast.Status = repository.StatusProcessed
	podcast.IsProcessed = true
	podcast.ProcessingError = ""
	podcast.GenerationMethod = string(result.GenerationMethod)
	podcast.StorageKey = result.StorageKey
	podcast.FileSizeBytes = result.FileSizeBytes
	podcast.AudioFormat = repository.AudioFormatWAV
	podcast.TotalDuration = formatted
	podcast.AutoDeleteAt = &autoDeleteAt

	ensureSection(podcast)

	section := &podcast.Sections[0]
	section.AudioURL = result.AudioURL
	section.StorageKey = result.StorageKey
	section.FileSizeBytes = result.FileSizeBytes
	section.Duration = formatted
	section.IsProcessed = true
	section.ProcessingError = ""
}

// MarkFailed records a terminal generation error. When the previous audio object was
// deleted before the failure, the references to it are cleared as well.
func MarkFailed(podcast *repository.Podcast, cause error) {
	message := "generation failed"
	if cause != nil && cause.Error() != "" {
		message = cause.Error()
	}

	podcast.Status = repository.StatusFailed
	podcast.IsProcessed = false
	podcast.ProcessingError = message
	podcast.GenerationMethod = string(core.MethodFailed)

	ensureSection(podcast)

	section := &podcast.Sections[0]
	section.IsProcessed = false
	section.ProcessingError = message

	if errors.Is(cause, generator.ErrPreviousAudioDeleted) {
		podcast.StorageKey = ""
		podcast.FileSizeBytes = 0
		section.AudioURL = ""
		section.StorageKey = ""
		section.FileSizeBytes = 0
	}
}

func currentKey(podcast *repository.Podcast) string {
	if len(podcast.Sections) > 0 && podcast.Sections[0].StorageKey != "" {
		return podcast.Sections[0].StorageKey
	}

	return podcast.StorageKey
}

func ensureSection(podcast *repository.Podcast) {
	if len(podcast.Sections) == 0 {
		podcast.Sections = append(podcast.Sections, repository.PodcastSection{PodcastID: podcast.ID, Order: 0})
	}
}
