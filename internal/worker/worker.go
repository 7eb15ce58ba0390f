// Package worker provides a NATS worker that serves podcast generation requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/lifecycle"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultHandleTimeout bounds one generation request. It covers the full dialogue
// poll budget plus the fallback path.
const DefaultHandleTimeout = 5 * time.Minute

// QueueGroup lets several workers share the generation subject.
const QueueGroup = "podcast-workers"

// Reply statuses.
const (
	ReplyStatusProcessed = "processed"
	ReplyStatusFailed    = "failed"
	ReplyStatusRejected  = "rejected"
)

var (
	// ErrPodcastIDEmpty indicates that the request names no podcast.
	ErrPodcastIDEmpty = errors.New("podcast id cannot be empty")
	// ErrOwnerEmpty indicates that the request header carries no user id.
	ErrOwnerEmpty = errors.New("header user id cannot be empty")
	// ErrTextMissing indicates that the request carries neither text nor a text key.
	ErrTextMissing = errors.New("either text or text_key is required")
)

// GenerateRequestedEvent asks for (re)generation of a podcast. The owner is the
// header's UserID. Text is taken inline or downloaded from TextKey.
type GenerateRequestedEvent struct {
	Header        events.EventHeader  `json:"header"`
	PodcastID     string              `json:"podcast_id"`
	Text          string              `json:"text,omitempty"`
	TextKey       string              `json:"text_key,omitempty"`
	Speakers      []core.Speaker      `json:"speakers,omitempty"`
	VoiceSettings *core.VoiceSettings `json:"voice_settings,omitempty"`
	Stream        bool                `json:"stream,omitempty"`
}

// PodcastGeneratedEvent is the reply to a GenerateRequestedEvent.
type PodcastGeneratedEvent struct {
	Header    events.EventHeader `json:"header"`
	PodcastID string             `json:"podcast_id"`
	Status    string             `json:"status"`
	Result    *core.AudioResult  `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Generator runs generation for a stored podcast.
type Generator interface {
	Generate(
		ctx context.Context,
		req lifecycle.GenerateRequest,
	) (*repository.Podcast, *core.AudioResult, error)
}

// NatsWorker listens for generation requests on a NATS subject and replies with the result.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	texts          core.ObjectStore
	generator      Generator
	clock          core.Clock
	handleTimeout  time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. texts may be nil when
// requests always carry inline text.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	texts core.ObjectStore,
	generator Generator,
	clock core.Clock,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, errors.New("nats connection cannot be nil")
	}

	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("subject cannot be empty")
	}

	if clock == nil {
		clock = core.SystemClock{}
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		generator:      generator,
		clock:          clock,
		handleTimeout:  DefaultHandleTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for generation requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate generation request: %v", err)
		w.reply(msg, w.newReply(events.EventHeader{}, "", ReplyStatusRejected, nil, err))

		return
	}

	reply := w.processGeneration(ctx, event)
	w.reply(msg, reply)
}

// processGeneration resolves the text and runs generation for the requested podcast.
func (w *NatsWorker) processGeneration(ctx context.Context, event *GenerateRequestedEvent) *PodcastGeneratedEvent {
	text, err := w.resolveText(ctx, event)
	if err != nil {
		w.log.Error("Failed to resolve text for workflow %s: %v", event.Header.WorkflowID, err)

		return w.newReply(event.Header, event.PodcastID, ReplyStatusRejected, nil, err)
	}

	_, result, err := w.generator.Generate(ctx, lifecycle.GenerateRequest{
		PodcastID:     event.PodcastID,
		OwnerID:       event.Header.UserID,
		Text:          text,
		Speakers:      event.Speakers,
		VoiceSettings: event.VoiceSettings,
		Stream:        event.Stream,
		Progress:      nil,
	})
	if err != nil {
		w.log.Error("Generation for workflow %s failed: %v", event.Header.WorkflowID, err)

		status := ReplyStatusFailed
		if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrNotFound) {
			status = ReplyStatusRejected
		}

		return w.newReply(event.Header, event.PodcastID, status, nil, err)
	}

	return w.newReply(event.Header, event.PodcastID, ReplyStatusProcessed, result, nil)
}

func (w *NatsWorker) resolveText(ctx context.Context, event *GenerateRequestedEvent) (string, error) {
	if event.TextKey == "" {
		return event.Text, nil
	}

	if w.texts == nil {
		return "", fmt.Errorf("%w: text_key given but no text store configured", core.ErrValidation)
	}

	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return "", fmt.Errorf("%w: text '%s'", core.ErrNotFound, event.TextKey)
		}

		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	return string(textData), nil
}

func (w *NatsWorker) newReply(
	requestHeader events.EventHeader,
	podcastID, status string,
	result *core.AudioResult,
	cause error,
) *PodcastGeneratedEvent {
	reply := &PodcastGeneratedEvent{
		Header: events.EventHeader{
			Timestamp:  w.clock.Now(),
			WorkflowID: requestHeader.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     requestHeader.UserID,
			TenantID:   requestHeader.TenantID,
		},
		PodcastID: podcastID,
		Status:    status,
		Result:    result,
		Error:     "",
	}

	if cause != nil {
		reply.Error = cause.Error()
	}

	return reply
}

// reply marshals and responds with the PodcastGeneratedEvent.
func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *PodcastGeneratedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", replyEvent.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*GenerateRequestedEvent, error) {
	var event GenerateRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event: %w", core.ErrValidation, err)
	}

	switch {
	case strings.TrimSpace(event.PodcastID) == "":
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrPodcastIDEmpty)
	case strings.TrimSpace(event.Header.UserID) == "":
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrOwnerEmpty)
	case strings.TrimSpace(event.Text) == "" && event.TextKey == "":
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, ErrTextMissing)
	}

	return &event, nil
}
