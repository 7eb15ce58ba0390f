package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/core/coretest"
	"github.com/book-expert/podcast-service/internal/generator"
	"github.com/book-expert/podcast-service/internal/lifecycle"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

type generateCall struct {
	artifactID string
	ownerID    string
	opts       generator.Options
	stream     bool
}

// stubGenerator returns queued results and records every call.
type stubGenerator struct {
	results []*core.AudioResult
	errs    []error
	calls   []generateCall
}

func (g *stubGenerator) next(call generateCall) (*core.AudioResult, error) {
	index := len(g.calls)
	g.calls = append(g.calls, call)

	var err error
	if index < len(g.errs) {
		err = g.errs[index]
	}

	if err != nil {
		return nil, err
	}

	return g.results[index], nil
}

func (g *stubGenerator) Generate(
	_ context.Context,
	_, artifactID, ownerID string,
	opts generator.Options,
) (*core.AudioResult, error) {
	return g.next(generateCall{artifactID: artifactID, ownerID: ownerID, opts: opts, stream: false})
}

func (g *stubGenerator) StreamGenerate(
	_ context.Context,
	_, artifactID, ownerID string,
	opts generator.Options,
	progress generator.ProgressFunc,
) (*core.AudioResult, error) {
	if progress != nil {
		progress(0.5)
		progress(1)
	}

	return g.next(generateCall{artifactID: artifactID, ownerID: ownerID, opts: opts, stream: true})
}

type fixture struct {
	repo    *repository.Repository
	gen     *stubGenerator
	clock   *coretest.VirtualClock
	service *lifecycle.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.Open(
		repository.DriverSQLite,
		fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		0,
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, dbErr := db.DB()
		if dbErr == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.New(db)
	require.NoError(t, repo.Migrate(context.Background()))

	log, err := logger.New(t.TempDir(), "lifecycle-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	gen := &stubGenerator{results: nil, errs: nil, calls: nil}
	clock := coretest.NewVirtualClock(testEpoch)

	return &fixture{
		repo:    repo,
		gen:     gen,
		clock:   clock,
		service: lifecycle.NewService(repo, gen, clock, 0, log),
	}
}

func (f *fixture) create(t *testing.T) *repository.Podcast {
	t.Helper()

	podcast, err := f.service.Create(context.Background(), lifecycle.CreateRequest{
		DocumentID: "doc-1",
		OwnerID:    "owner-1",
		Title:      "Chapter one",
		Text:       strings.Repeat("word ", 300),
	})
	require.NoError(t, err)

	return podcast
}

func audioResult(key string, seconds int) *core.AudioResult {
	return &core.AudioResult{
		AudioURL:         "https://cdn.example.test/" + key,
		DurationSeconds:  seconds,
		FileSizeBytes:    int64(1000 + seconds),
		StorageKey:       key,
		GenerationMethod: core.MethodDialogue,
	}
}

func TestCreate_ProvisionalDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)

	loaded, err := f.repo.Get(context.Background(), podcast.ID)
	require.NoError(t, err)

	assert.Equal(t, repository.StatusCreated, loaded.Status)
	assert.False(t, loaded.IsProcessed)
	assert.Equal(t, "02:00", loaded.TotalDuration)
	assert.Empty(t, loaded.StorageKey)
	require.Len(t, loaded.Sections, 1)
	assert.Equal(t, content.DefaultSpeakers(), loaded.Speakers.Data())
	assert.True(t, loaded.CreatedAt.Equal(testEpoch))
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.service.Create(context.Background(), lifecycle.CreateRequest{DocumentID: "doc", OwnerID: " "})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.results = []*core.AudioResult{audioResult("podcasts/owner-1/p/1-a.wav", 95)}
	f.clock.Advance(time.Hour)

	updated, result, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: podcast.ID,
		OwnerID:   "owner-1",
		Text:      "Some text.",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, repository.StatusProcessed, updated.Status)

	loaded, err := f.repo.Get(context.Background(), podcast.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsProcessed)
	assert.Empty(t, loaded.ProcessingError)
	assert.Equal(t, "01:35", loaded.TotalDuration)
	assert.Equal(t, string(core.MethodDialogue), loaded.GenerationMethod)
	assert.Equal(t, repository.AudioFormatWAV, loaded.AudioFormat)
	require.NotNil(t, loaded.AutoDeleteAt)
	assert.True(t, loaded.AutoDeleteAt.Equal(testEpoch.Add(time.Hour+30*24*time.Hour)))
	assert.Equal(t, "podcasts/owner-1/p/1-a.wav", loaded.Sections[0].StorageKey)
	assert.Equal(t, "01:35", loaded.Sections[0].Duration)

	require.Len(t, f.gen.calls, 1)
	assert.Empty(t, f.gen.calls[0].opts.ReplaceKey)
	assert.Equal(t, content.DefaultSpeakers(), f.gen.calls[0].opts.Speakers)
}

func TestGenerate_FailureMarksFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.errs = []error{errors.New("speech synthesis failed: both paths down")}

	updated, result, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: podcast.ID,
		OwnerID:   "owner-1",
		Text:      "Some text.",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	require.NotNil(t, updated)

	loaded, err := f.repo.Get(context.Background(), podcast.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, loaded.Status)
	assert.False(t, loaded.IsProcessed)
	assert.Equal(t, string(core.MethodFailed), loaded.GenerationMethod)
	assert.Contains(t, loaded.ProcessingError, "both paths down")
	assert.Equal(t, loaded.ProcessingError, loaded.Sections[0].ProcessingError)
}

func TestGenerate_RegenerationReplacesPreviousKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.results = []*core.AudioResult{
		audioResult("podcasts/owner-1/p/1-old.wav", 60),
		nil,
		audioResult("podcasts/owner-1/p/3-new.wav", 61),
	}
	f.gen.errs = []error{nil, fmt.Errorf("%w: dialogue and fallback down", core.ErrUpstream), nil}

	request := lifecycle.GenerateRequest{PodcastID: podcast.ID, OwnerID: "owner-1", Text: "Text."}

	_, _, err := f.service.Generate(context.Background(), request)
	require.NoError(t, err)

	_, _, err = f.service.Generate(context.Background(), request)
	require.Error(t, err)

	_, _, err = f.service.Generate(context.Background(), request)
	require.NoError(t, err)

	require.Len(t, f.gen.calls, 3)
	assert.Equal(t, "podcasts/owner-1/p/1-old.wav", f.gen.calls[1].opts.ReplaceKey)
	assert.Equal(t, "podcasts/owner-1/p/1-old.wav", f.gen.calls[2].opts.ReplaceKey)

	loaded, err := f.repo.Get(context.Background(), podcast.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusProcessed, loaded.Status)
	assert.Empty(t, loaded.ProcessingError)
	assert.Equal(t, string(core.MethodDialogue), loaded.GenerationMethod)
	require.Len(t, loaded.Sections, 1)
	assert.Equal(t, "podcasts/owner-1/p/3-new.wav", loaded.Sections[0].StorageKey)
	assert.Equal(t, "podcasts/owner-1/p/3-new.wav", loaded.StorageKey)
}

func TestGenerate_OtherOwnerIsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)

	_, _, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: podcast.ID,
		OwnerID:   "intruder",
		Text:      "Text.",
	})
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, f.gen.calls)
}

func TestGenerate_MissingPodcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, _, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: "missing",
		OwnerID:   "owner-1",
		Text:      "Text.",
	})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestGenerate_OverridesAndSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.results = []*core.AudioResult{audioResult("k1", 1), audioResult("k2", 1)}

	speakers := []core.Speaker{{Name: "Alex", VoiceID: "voice-a"}}
	settings := core.VoiceSettings{Stability: 0.1, SimilarityBoost: 0.2, Style: 0.3, UseSpeakerBoost: false}

	_, _, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID:     podcast.ID,
		OwnerID:       "owner-1",
		Text:          "Text.",
		Speakers:      speakers,
		VoiceSettings: &settings,
	})
	require.NoError(t, err)

	_, _, err = f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: podcast.ID,
		OwnerID:   "owner-1",
		Text:      "Text.",
	})
	require.NoError(t, err)

	require.Len(t, f.gen.calls, 2)
	assert.Equal(t, speakers, f.gen.calls[1].opts.Speakers)
	require.NotNil(t, f.gen.calls[1].opts.VoiceSettings)
	assert.Equal(t, settings, *f.gen.calls[1].opts.VoiceSettings)
}

func TestGenerate_Stream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.results = []*core.AudioResult{audioResult("k-stream", 3)}

	var progress []float64

	_, _, err := f.service.Generate(context.Background(), lifecycle.GenerateRequest{
		PodcastID: podcast.ID,
		OwnerID:   "owner-1",
		Text:      "Text.",
		Stream:    true,
		Progress:  func(fraction float64) { progress = append(progress, fraction) },
	})
	require.NoError(t, err)

	require.Len(t, f.gen.calls, 1)
	assert.True(t, f.gen.calls[0].stream)
	assert.Equal(t, []float64{0.5, 1}, progress)
}

func TestMarkFailed_EmptyMessage(t *testing.T) {
	t.Parallel()

	podcast := &repository.Podcast{}
	lifecycle.MarkFailed(podcast, nil)

	assert.Equal(t, "generation failed", podcast.ProcessingError)
	require.Len(t, podcast.Sections, 1)
	assert.Equal(t, repository.StatusFailed, podcast.Status)
}

func TestGenerate_UploadFailureAfterReplaceClearsReferences(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	podcast := f.create(t)
	f.gen.results = []*core.AudioResult{audioResult("podcasts/owner-1/p/1-old.wav", 60), nil}
	f.gen.errs = []error{
		nil,
		fmt.Errorf("%w: upload failed (%w: podcasts/owner-1/p/1-old.wav)", core.ErrStorage, generator.ErrPreviousAudioDeleted),
	}

	request := lifecycle.GenerateRequest{PodcastID: podcast.ID, OwnerID: "owner-1", Text: "Text."}

	_, _, err := f.service.Generate(context.Background(), request)
	require.NoError(t, err)

	_, _, err = f.service.Generate(context.Background(), request)
	require.ErrorIs(t, err, core.ErrStorage)

	loaded, err := f.repo.Get(context.Background(), podcast.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, loaded.Status)
	assert.Empty(t, loaded.StorageKey)
	assert.Zero(t, loaded.FileSizeBytes)
	require.Len(t, loaded.Sections, 1)
	assert.Empty(t, loaded.Sections[0].StorageKey)
	assert.Empty(t, loaded.Sections[0].AudioURL)
	assert.Empty(t, loaded.Objects())
}

func TestMarkFailed_KeepsReferencesWhenAudioSurvives(t *testing.T) {
	t.Parallel()

	podcast := &repository.Podcast{
		StorageKey: "podcasts/owner-1/p/1-old.wav",
		Sections: []repository.PodcastSection{
			{StorageKey: "podcasts/owner-1/p/1-old.wav", AudioURL: "https://cdn.example.test/old.wav"},
		},
	}
	lifecycle.MarkFailed(podcast, fmt.Errorf("%w: dialogue down", core.ErrUpstream))

	assert.Equal(t, "podcasts/owner-1/p/1-old.wav", podcast.StorageKey)
	assert.Equal(t, "podcasts/owner-1/p/1-old.wav", podcast.Sections[0].StorageKey)
	assert.Equal(t, "https://cdn.example.test/old.wav", podcast.Sections[0].AudioURL)
}
