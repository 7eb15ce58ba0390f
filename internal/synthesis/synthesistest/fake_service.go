// Package synthesistest provides an in-process fake of the synthesis service.
package synthesistest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/podcast-service/internal/synthesis"
)

// JobID is the identifier returned by every dialogue submit.
const JobID = "job-1"

// Config describes how the fake service responds. Zero status codes mean 200.
type Config struct {
	SubmitStatus   int
	Statuses       []string
	JobError       string
	DialogueAudio  []byte
	FallbackStatus int
	FallbackAudio  []byte
	StreamStatus   int
	StreamAudio    []byte
	StreamChunk    int
}

// Service is a fake synthesis service backed by httptest.
type Service struct {
	Server *httptest.Server

	mutex            sync.Mutex
	config           Config
	submits          []synthesis.DialogueRequest
	statusCalls      int
	downloads        int
	fallbackRequests []synthesis.SpeechRequest
	fallbackVoices   []string
	streamRequests   []synthesis.DialogueRequest
	apiKeys          []string
}

// NewService starts a fake service that is shut down with the test.
func NewService(t *testing.T, config Config) *Service {
	t.Helper()

	service := &Service{config: config}
	service.Server = httptest.NewServer(http.HandlerFunc(service.handle))
	t.Cleanup(service.Server.Close)

	return service
}

// URL returns the base URL of the fake service.
func (s *Service) URL() string {
	return s.Server.URL
}

// Submits returns the recorded dialogue submit payloads.
func (s *Service) Submits() []synthesis.DialogueRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]synthesis.DialogueRequest(nil), s.submits...)
}

// StatusCalls returns how many times the job status was polled.
func (s *Service) StatusCalls() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.statusCalls
}

// Downloads returns how many times produced audio was downloaded.
func (s *Service) Downloads() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.downloads
}

// FallbackRequests returns the recorded single-voice payloads.
func (s *Service) FallbackRequests() []synthesis.SpeechRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]synthesis.SpeechRequest(nil), s.fallbackRequests...)
}

// FallbackVoices returns the voice ids used by single-voice requests.
func (s *Service) FallbackVoices() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]string(nil), s.fallbackVoices...)
}

// StreamRequests returns the recorded stream payloads.
func (s *Service) StreamRequests() []synthesis.DialogueRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]synthesis.DialogueRequest(nil), s.streamRequests...)
}

// APIKeys returns the xi-api-key header of every request.
func (s *Service) APIKeys() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]string(nil), s.apiKeys...)
}

func (s *Service) handle(responseWriter http.ResponseWriter, request *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.apiKeys = append(s.apiKeys, request.Header.Get("xi-api-key"))
	path := request.URL.Path

	switch {
	case path == "/health":
		responseWriter.WriteHeader(http.StatusOK)
	case request.Method == http.MethodPost && path == "/v1/text-to-dialogue/convert":
		s.handleSubmit(responseWriter, request)
	case request.Method == http.MethodPost && path == "/v1/text-to-dialogue/stream":
		s.handleStream(responseWriter, request)
	case request.Method == http.MethodGet && strings.HasPrefix(path, "/v1/text-to-dialogue/"):
		s.handleStatus(responseWriter)
	case request.Method == http.MethodGet && strings.HasPrefix(path, "/audio/"):
		s.downloads++
		writeAudio(responseWriter, http.StatusOK, s.config.DialogueAudio)
	case request.Method == http.MethodPost && strings.HasPrefix(path, "/v1/text-to-speech/"):
		s.handleSpeech(responseWriter, request, strings.TrimPrefix(path, "/v1/text-to-speech/"))
	default:
		http.NotFound(responseWriter, request)
	}
}

func (s *Service) handleSubmit(responseWriter http.ResponseWriter, request *http.Request) {
	var payload synthesis.DialogueRequest

	_ = json.NewDecoder(request.Body).Decode(&payload)
	s.submits = append(s.submits, payload)

	if isFailure(s.config.SubmitStatus) {
		writeError(responseWriter, s.config.SubmitStatus, "submit rejected")

		return
	}

	writeJSON(responseWriter, synthesis.DialogueJob{ID: JobID, Status: synthesis.StatusQueued})
}

func (s *Service) handleStatus(responseWriter http.ResponseWriter) {
	s.statusCalls++

	status := synthesis.StatusProcessing
	if len(s.config.Statuses) > 0 {
		index := min(s.statusCalls-1, len(s.config.Statuses)-1)
		status = s.config.Statuses[index]
	}

	reply := synthesis.JobStatus{Status: status, AudioURL: "", Error: ""}

	switch status {
	case synthesis.StatusCompleted:
		reply.AudioURL = "/audio/" + JobID + ".wav"
	case synthesis.StatusFailed:
		reply.Error = s.config.JobError
	}

	writeJSON(responseWriter, reply)
}

func (s *Service) handleSpeech(responseWriter http.ResponseWriter, request *http.Request, voiceID string) {
	var payload synthesis.SpeechRequest

	_ = json.NewDecoder(request.Body).Decode(&payload)
	s.fallbackRequests = append(s.fallbackRequests, payload)
	s.fallbackVoices = append(s.fallbackVoices, voiceID)

	if isFailure(s.config.FallbackStatus) {
		writeError(responseWriter, s.config.FallbackStatus, "fallback rejected")

		return
	}

	writeAudio(responseWriter, http.StatusOK, s.config.FallbackAudio)
}

func (s *Service) handleStream(responseWriter http.ResponseWriter, request *http.Request) {
	var payload synthesis.DialogueRequest

	_ = json.NewDecoder(request.Body).Decode(&payload)
	s.streamRequests = append(s.streamRequests, payload)

	if isFailure(s.config.StreamStatus) {
		writeError(responseWriter, s.config.StreamStatus, "stream rejected")

		return
	}

	chunk := s.config.StreamChunk
	if chunk <= 0 {
		chunk = len(s.config.StreamAudio)
	}

	responseWriter.Header().Set("Content-Type", "audio/wav")
	responseWriter.WriteHeader(http.StatusOK)

	flusher, _ := responseWriter.(http.Flusher)

	for start := 0; start < len(s.config.StreamAudio); start += chunk {
		end := min(start+chunk, len(s.config.StreamAudio))
		_, _ = responseWriter.Write(s.config.StreamAudio[start:end])

		if flusher != nil {
			flusher.Flush()
		}
	}
}

func isFailure(status int) bool {
	return status != 0 && status != http.StatusOK
}

func writeJSON(responseWriter http.ResponseWriter, payload any) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(responseWriter).Encode(payload)
}

func writeError(responseWriter http.ResponseWriter, status int, detail string) {
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(status)
	_ = json.NewEncoder(responseWriter).Encode(synthesis.ErrorResponse{Detail: detail, ErrorCode: "FAKE"})
}

func writeAudio(responseWriter http.ResponseWriter, status int, audio []byte) {
	responseWriter.Header().Set("Content-Type", "audio/wav")
	responseWriter.WriteHeader(status)
	_, _ = responseWriter.Write(audio)
}
