package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
)

// Retry policy defaults.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 30
)

// ErrSynthesisFailed is returned when both the primary and the fallback strategy failed.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// RetryPolicy bounds the dialogue poll loop.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy polls every two seconds for up to thirty attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

// Audio is the output of a synthesis strategy.
type Audio struct {
	Data         []byte
	ContentType  string
	Method       core.GenerationMethod
	PollAttempts int
	// PrimaryError holds the recovered primary failure when the fallback produced the audio.
	PrimaryError string
}

// Synthesizer is a speech synthesis strategy.
type Synthesizer interface {
	Synthesize(ctx context.Context, prepared *content.Prepared) (*Audio, error)
}

// DialogueSynthesizer submits a multi-speaker dialogue job and polls it to completion.
type DialogueSynthesizer struct {
	client  *HTTPClient
	policy  RetryPolicy
	clock   core.Clock
	modelID string
}

// NewDialogueSynthesizer creates the primary strategy.
func NewDialogueSynthesizer(
	client *HTTPClient,
	policy RetryPolicy,
	clock core.Clock,
	modelID string,
) *DialogueSynthesizer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPollMaxAttempts
	}

	if clock == nil {
		clock = core.SystemClock{}
	}

	return &DialogueSynthesizer{
		client:  client,
		policy:  policy,
		clock:   clock,
		modelID: modelID,
	}
}

// Synthesize runs submit, poll and download.
func (d *DialogueSynthesizer) Synthesize(ctx context.Context, prepared *content.Prepared) (*Audio, error) {
	jobID, err := d.client.SubmitDialogue(ctx, NewDialogueRequest(prepared, d.modelID))
	if err != nil {
		return nil, fmt.Errorf("dialogue submit: %w", err)
	}

	location, attempts, err := d.poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	data, err := d.client.DownloadAudio(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("dialogue download: %w", err)
	}

	return &Audio{
		Data:         data,
		ContentType:  contentTypeWAV,
		Method:       core.MethodDialogue,
		PollAttempts: attempts,
		PrimaryError: "",
	}, nil
}

// poll waits one interval before every status request.
func (d *DialogueSynthesizer) poll(ctx context.Context, jobID string) (string, int, error) {
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		sleepErr := d.clock.Sleep(ctx, d.policy.Interval)
		if sleepErr != nil {
			return "", attempt, fmt.Errorf("dialogue job %s: %w", jobID, sleepErr)
		}

		status, err := d.client.DialogueStatus(ctx, jobID)
		if err != nil {
			return "", attempt, fmt.Errorf("dialogue status: %w", err)
		}

		switch status.Status {
		case StatusCompleted:
			if status.AudioURL == "" {
				return "", attempt, fmt.Errorf("%w: job %s completed without audio location", core.ErrUpstream, jobID)
			}

			return status.AudioURL, attempt, nil
		case StatusFailed:
			return "", attempt, fmt.Errorf("%w: job %s failed: %s", core.ErrUpstream, jobID, status.Error)
		}
	}

	return "", d.policy.MaxAttempts, fmt.Errorf(
		"%w: job %s not completed after %d attempts",
		core.ErrTimeout,
		jobID,
		d.policy.MaxAttempts,
	)
}

// SpeechSynthesizer is the single-voice fallback strategy. It has no job or poll cycle.
type SpeechSynthesizer struct {
	client   *HTTPClient
	voiceID  string
	modelID  string
	maxChars int
}

// NewSpeechSynthesizer creates the fallback strategy. An empty voiceID selects the
// first prepared speaker's voice.
func NewSpeechSynthesizer(client *HTTPClient, voiceID, modelID string, maxChars int) *SpeechSynthesizer {
	if maxChars <= 0 {
		maxChars = content.FallbackMaxChars
	}

	return &SpeechSynthesizer{
		client:   client,
		voiceID:  voiceID,
		modelID:  modelID,
		maxChars: maxChars,
	}
}

// Synthesize sends the capped text to the single-voice endpoint.
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, prepared *content.Prepared) (*Audio, error) {
	text, _ := content.Truncate(prepared.Text, s.maxChars)

	voiceID := s.voiceID
	if voiceID == "" && len(prepared.Speakers) > 0 {
		voiceID = prepared.Speakers[0].VoiceID
	}

	data, err := s.client.SynthesizeSpeech(ctx, voiceID, SpeechRequest{
		Text:    text,
		ModelID: s.modelID,
		VoiceSettings: SpeechVoiceSettings{
			Stability:       prepared.VoiceSettings.Stability,
			SimilarityBoost: prepared.VoiceSettings.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fallback speech: %w", err)
	}

	return &Audio{
		Data:         data,
		ContentType:  contentTypeWAV,
		Method:       core.MethodFallbackTTS,
		PollAttempts: 0,
		PrimaryError: "",
	}, nil
}

// FallbackSynthesizer runs the primary strategy and delegates to the fallback strategy
// when the primary fails with core.ErrUpstream or core.ErrTimeout.
type FallbackSynthesizer struct {
	primary  Synthesizer
	fallback Synthesizer
	log      *logger.Logger
}

// NewFallbackSynthesizer composes two strategies.
func NewFallbackSynthesizer(primary, fallback Synthesizer, log *logger.Logger) *FallbackSynthesizer {
	return &FallbackSynthesizer{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Synthesize returns the primary audio, the fallback audio, or one combined terminal error.
func (f *FallbackSynthesizer) Synthesize(ctx context.Context, prepared *content.Prepared) (*Audio, error) {
	audio, primaryErr := f.primary.Synthesize(ctx, prepared)
	if primaryErr == nil {
		return audio, nil
	}

	if !core.IsRecoverable(primaryErr) {
		return nil, primaryErr
	}

	f.log.Warn("Primary synthesis failed, switching to fallback: %v", primaryErr)

	audio, fallbackErr := f.fallback.Synthesize(ctx, prepared)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: primary: %w; fallback: %w", ErrSynthesisFailed, primaryErr, fallbackErr)
	}

	audio.PrimaryError = primaryErr.Error()

	return audio, nil
}

// NewDialogueRequest builds the wire payload for the prepared dialogue.
func NewDialogueRequest(prepared *content.Prepared, modelID string) DialogueRequest {
	inputs := make([]DialogueInput, 0, len(prepared.Lines))
	for _, line := range prepared.Lines {
		inputs = append(inputs, DialogueInput{
			Text:    line.Text,
			VoiceID: line.Speaker.VoiceID,
			Speaker: line.Speaker.Name,
		})
	}

	return DialogueRequest{
		ModelID: modelID,
		Inputs:  inputs,
		Settings: DialogueSettings{
			Stability:       prepared.VoiceSettings.Stability,
			SimilarityBoost: prepared.VoiceSettings.SimilarityBoost,
			Style:           prepared.VoiceSettings.Style,
			UseSpeakerBoost: prepared.VoiceSettings.UseSpeakerBoost,
		},
	}
}
