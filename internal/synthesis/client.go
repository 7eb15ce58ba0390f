// Package synthesis talks to the external speech synthesis service and provides the
// primary (dialogue) and fallback (single voice) synthesis strategies.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/podcast-service/internal/core"
	"golang.org/x/time/rate"
)

// API endpoints and paths.
const (
	apiDialogueConvert = "/v1/text-to-dialogue/convert"
	apiDialogueStatus  = "/v1/text-to-dialogue/"
	apiDialogueStream  = "/v1/text-to-dialogue/stream"
	apiTextToSpeech    = "/v1/text-to-speech/"
	apiHealth          = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Dialogue job states reported by the status endpoint.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "synthesis service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "synthesis service returned non-OK status: %s, body: %s"
	errFmtSendFailed           = "failed to send request to synthesis service at %s: %v"
	errReceivedEmptyAudio      = "received empty audio data"
	errMissingJobID            = "dialogue submit response carried no job id"
	maxErrorBodyBytes          = 4096
)

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	// HTTPClient overrides the transport. When set, Timeout is ignored.
	HTTPClient *http.Client
}

// HTTPClient represents a client for the synthesis service. Every request is paced by
// an optional rate limiter; transport failures and non-success responses are reported
// as core.ErrUpstream.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// DialogueInput is one utterance in a dialogue request.
type DialogueInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Speaker string `json:"speaker,omitempty"`
}

// DialogueSettings mirrors core.VoiceSettings on the wire.
type DialogueSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DialogueRequest defines the JSON payload for dialogue submit and stream requests.
type DialogueRequest struct {
	ModelID  string           `json:"model_id,omitempty"`
	Inputs   []DialogueInput  `json:"inputs"`
	Settings DialogueSettings `json:"settings"`
}

// DialogueJob is the submit response.
type DialogueJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatus is the poll response.
type JobStatus struct {
	Status   string `json:"status"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SpeechVoiceSettings is the simplified pair used by single-voice synthesis.
type SpeechVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SpeechRequest defines the JSON payload for single-voice synthesis.
type SpeechRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id,omitempty"`
	VoiceSettings SpeechVoiceSettings `json:"voice_settings"`
}

// ErrorResponse represents a structured error response from the synthesis service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates and configures a client for the synthesis service.
func NewHTTPClient(opts ClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		limiter:    limiter,
	}
}

// SubmitDialogue starts a dialogue synthesis job and returns its identifier.
func (c *HTTPClient) SubmitDialogue(ctx context.Context, req DialogueRequest) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, c.baseURL+apiDialogueConvert, req, contentTypeJSON)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var job DialogueJob

	decodeErr := json.NewDecoder(resp.Body).Decode(&job)
	if decodeErr != nil {
		return "", fmt.Errorf("%w: failed to decode dialogue job: %w", core.ErrUpstream, decodeErr)
	}

	if job.ID == "" {
		return "", fmt.Errorf("%w: %s", core.ErrUpstream, errMissingJobID)
	}

	return job.ID, nil
}

// DialogueStatus fetches the state of a dialogue job.
func (c *HTTPClient) DialogueStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	statusURL := c.baseURL + apiDialogueStatus + url.PathEscape(jobID)

	resp, err := c.do(ctx, http.MethodGet, statusURL, nil, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status JobStatus

	decodeErr := json.NewDecoder(resp.Body).Decode(&status)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode job status: %w", core.ErrUpstream, decodeErr)
	}

	return &status, nil
}

// DownloadAudio fetches produced audio from an absolute URL or a path relative to the base URL.
func (c *HTTPClient) DownloadAudio(ctx context.Context, location string) ([]byte, error) {
	target := location
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(location, "/")
	}

	resp, err := c.do(ctx, http.MethodGet, target, nil, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readAudio(resp.Body)
}

// SynthesizeSpeech performs single-voice synthesis and returns the raw audio bytes.
func (c *HTTPClient) SynthesizeSpeech(ctx context.Context, voiceID string, req SpeechRequest) ([]byte, error) {
	speechURL := c.baseURL + apiTextToSpeech + url.PathEscape(voiceID)

	resp, err := c.doJSON(ctx, http.MethodPost, speechURL, req, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return readAudio(resp.Body)
}

// OpenDialogueStream issues a streaming dialogue request. The caller must close the body.
func (c *HTTPClient) OpenDialogueStream(ctx context.Context, req DialogueRequest) (io.ReadCloser, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, c.baseURL+apiDialogueStream, req, contentTypeWAV)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// HealthCheck verifies that the synthesis service is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+apiHealth, nil, contentTypeJSON)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return resp.Body.Close()
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, target string,
	payload any,
	accept string,
) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.do(ctx, method, target, requestBody, accept)
}

// do sends a request and returns the response only for 2xx statuses.
func (c *HTTPClient) do(
	ctx context.Context,
	method, target string,
	body []byte,
	accept string,
) (*http.Response, error) {
	if c.limiter != nil {
		waitErr := c.limiter.Wait(ctx)
		if waitErr != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", waitErr)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	httpReq.Header.Set(headerAccept, accept)

	if c.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request to %s cancelled: %w", c.baseURL, ctx.Err())
		}

		return nil, fmt.Errorf("%w: "+errFmtSendFailed, core.ErrUpstream, c.baseURL, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured JSON error from the service, falling back
// to the raw body so diagnostic information is preserved.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp ErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: "+errFmtServiceErrorWithCode,
			core.ErrUpstream, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOKStatus, core.ErrUpstream, resp.Status, string(body))
}

func readAudio(body io.Reader) ([]byte, error) {
	audioData, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", core.ErrUpstream, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrUpstream, errReceivedEmptyAudio)
	}

	return audioData, nil
}
