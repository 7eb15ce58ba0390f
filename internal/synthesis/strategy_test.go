package synthesis_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/core/coretest"
	"github.com/book-expert/podcast-service/internal/synthesis"
	"github.com/book-expert/podcast-service/internal/synthesis/synthesistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func prepare(t *testing.T, text string) *content.Prepared {
	t.Helper()

	prepared, err := content.NewPreparer(content.DialogueMaxChars).Prepare(text, content.Options{})
	require.NoError(t, err)

	return prepared
}

type testPipeline struct {
	service  *synthesistest.Service
	clock    *coretest.VirtualClock
	pipeline *synthesis.FallbackSynthesizer
}

func newTestPipeline(t *testing.T, config synthesistest.Config) *testPipeline {
	t.Helper()

	service := synthesistest.NewService(t, config)
	client := newTestClient(service.URL())
	clock := coretest.NewVirtualClock(testEpoch)

	primary := synthesis.NewDialogueSynthesizer(client, synthesis.DefaultRetryPolicy(), clock, "eleven_v3")
	fallback := synthesis.NewSpeechSynthesizer(client, "", "eleven_multilingual_v2", content.FallbackMaxChars)

	return &testPipeline{
		service:  service,
		clock:    clock,
		pipeline: synthesis.NewFallbackSynthesizer(primary, fallback, newTestLogger(t)),
	}
}

func TestDialogueSynthesizer_CompletesAfterPolling(t *testing.T) {
	t.Parallel()

	statuses := []string{
		synthesis.StatusProcessing,
		synthesis.StatusProcessing,
		synthesis.StatusProcessing,
		synthesis.StatusProcessing,
		synthesis.StatusCompleted,
	}
	fixture := newTestPipeline(t, synthesistest.Config{Statuses: statuses, DialogueAudio: []byte("dialogue-wav")})

	audio, err := fixture.pipeline.Synthesize(context.Background(), prepare(t, "First point. Second point."))
	require.NoError(t, err)

	assert.Equal(t, core.MethodDialogue, audio.Method)
	assert.Equal(t, []byte("dialogue-wav"), audio.Data)
	assert.Equal(t, 5, audio.PollAttempts)
	assert.Empty(t, audio.PrimaryError)
	assert.Equal(t, 5, fixture.service.StatusCalls())
	assert.Empty(t, fixture.service.FallbackRequests())

	sleeps := fixture.clock.Sleeps()
	require.Len(t, sleeps, 5)

	for _, sleep := range sleeps {
		assert.Equal(t, synthesis.DefaultPollInterval, sleep)
	}

	submits := fixture.service.Submits()
	require.Len(t, submits, 1)
	require.Len(t, submits[0].Inputs, 2)
	assert.Equal(t, content.NarratorVoiceID, submits[0].Inputs[0].VoiceID)
	assert.Equal(t, content.HostVoiceID, submits[0].Inputs[1].VoiceID)
	assert.True(t, submits[0].Settings.UseSpeakerBoost)
}

func TestDialogueSynthesizer_FailedJobIsUpstream(t *testing.T) {
	t.Parallel()

	service := synthesistest.NewService(t, synthesistest.Config{
		Statuses: []string{synthesis.StatusProcessing, synthesis.StatusFailed},
		JobError: "voice unavailable",
	})
	clock := coretest.NewVirtualClock(testEpoch)
	primary := synthesis.NewDialogueSynthesizer(newTestClient(service.URL()), synthesis.DefaultRetryPolicy(), clock, "")

	_, err := primary.Synthesize(context.Background(), prepare(t, "Some text."))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUpstream))
	assert.Contains(t, err.Error(), "voice unavailable")
	assert.Equal(t, 2, service.StatusCalls())
	assert.Zero(t, service.Downloads())
}

func TestDialogueSynthesizer_TimesOutAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	service := synthesistest.NewService(t, synthesistest.Config{Statuses: []string{synthesis.StatusProcessing}})
	clock := coretest.NewVirtualClock(testEpoch)
	primary := synthesis.NewDialogueSynthesizer(newTestClient(service.URL()), synthesis.DefaultRetryPolicy(), clock, "")

	_, err := primary.Synthesize(context.Background(), prepare(t, "Some text."))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTimeout))
	assert.Equal(t, synthesis.DefaultPollMaxAttempts, service.StatusCalls())
	assert.Equal(t, testEpoch.Add(60*time.Second), clock.Now())
}

func TestDialogueSynthesizer_CustomPolicy(t *testing.T) {
	t.Parallel()

	service := synthesistest.NewService(t, synthesistest.Config{Statuses: []string{synthesis.StatusQueued}})
	clock := coretest.NewVirtualClock(testEpoch)
	policy := synthesis.RetryPolicy{Interval: 500 * time.Millisecond, MaxAttempts: 3}
	primary := synthesis.NewDialogueSynthesizer(newTestClient(service.URL()), policy, clock, "")

	_, err := primary.Synthesize(context.Background(), prepare(t, "Some text."))
	require.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, 3, service.StatusCalls())
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, clock.Sleeps())
}

func TestFallbackSynthesizer_SubmitFailureUsesFallback(t *testing.T) {
	t.Parallel()

	fixture := newTestPipeline(t, synthesistest.Config{
		SubmitStatus:  http.StatusInternalServerError,
		FallbackAudio: []byte("fallback-wav"),
	})

	longText := strings.Repeat("A sentence that keeps going. ", 300)

	audio, err := fixture.pipeline.Synthesize(context.Background(), prepare(t, longText))
	require.NoError(t, err)

	assert.Equal(t, core.MethodFallbackTTS, audio.Method)
	assert.Equal(t, []byte("fallback-wav"), audio.Data)
	assert.Contains(t, audio.PrimaryError, "submit rejected")
	assert.Zero(t, fixture.service.StatusCalls())

	requests := fixture.service.FallbackRequests()
	require.Len(t, requests, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(requests[0].Text), content.FallbackMaxChars)
	assert.Equal(t, "eleven_multilingual_v2", requests[0].ModelID)
	assert.InDelta(t, 0.5, requests[0].VoiceSettings.Stability, 1e-9)
	assert.InDelta(t, 0.75, requests[0].VoiceSettings.SimilarityBoost, 1e-9)
	assert.Equal(t, []string{content.NarratorVoiceID}, fixture.service.FallbackVoices())
}

func TestFallbackSynthesizer_TimeoutUsesFallback(t *testing.T) {
	t.Parallel()

	fixture := newTestPipeline(t, synthesistest.Config{
		Statuses:      []string{synthesis.StatusProcessing},
		FallbackAudio: []byte("fallback-wav"),
	})

	audio, err := fixture.pipeline.Synthesize(context.Background(), prepare(t, "Short text."))
	require.NoError(t, err)
	assert.Equal(t, core.MethodFallbackTTS, audio.Method)
	assert.Equal(t, synthesis.DefaultPollMaxAttempts, fixture.service.StatusCalls())
	assert.Len(t, fixture.service.FallbackRequests(), 1)
}

func TestFallbackSynthesizer_BothFail(t *testing.T) {
	t.Parallel()

	fixture := newTestPipeline(t, synthesistest.Config{
		SubmitStatus:   http.StatusServiceUnavailable,
		FallbackStatus: http.StatusInternalServerError,
	})

	_, err := fixture.pipeline.Synthesize(context.Background(), prepare(t, "Short text."))
	require.Error(t, err)
	assert.True(t, errors.Is(err, synthesis.ErrSynthesisFailed))
	assert.True(t, errors.Is(err, core.ErrUpstream))
	assert.Contains(t, err.Error(), "submit rejected")
	assert.Contains(t, err.Error(), "fallback rejected")
	assert.Len(t, fixture.service.FallbackRequests(), 1)
}

type stubSynthesizer struct {
	audio *synthesis.Audio
	err   error
	calls int
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ *content.Prepared) (*synthesis.Audio, error) {
	s.calls++

	return s.audio, s.err
}

func TestFallbackSynthesizer_NonRecoverableSkipsFallback(t *testing.T) {
	t.Parallel()

	primary := &stubSynthesizer{audio: nil, err: context.Canceled, calls: 0}
	fallback := &stubSynthesizer{audio: &synthesis.Audio{Method: core.MethodFallbackTTS}, err: nil, calls: 0}
	pipeline := synthesis.NewFallbackSynthesizer(primary, fallback, newTestLogger(t))

	_, err := pipeline.Synthesize(context.Background(), prepare(t, "Text."))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls)
}

func TestNewDialogueRequest_AlternatesSpeakers(t *testing.T) {
	t.Parallel()

	prepared := prepare(t, "One. Two. Three.")
	request := synthesis.NewDialogueRequest(prepared, "model")

	require.Len(t, request.Inputs, 3)
	assert.Equal(t, content.NarratorName, request.Inputs[0].Speaker)
	assert.Equal(t, content.HostName, request.Inputs[1].Speaker)
	assert.Equal(t, content.NarratorName, request.Inputs[2].Speaker)
	assert.Equal(t, "model", request.ModelID)
}
