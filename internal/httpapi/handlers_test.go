package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/cleanup"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/httpapi"
	"github.com/book-expert/podcast-service/internal/lifecycle"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/book-expert/podcast-service/internal/synthesis"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPodcasts struct {
	createErr   error
	generateErr error
	failed      bool
	lastCreate  lifecycle.CreateRequest
	lastGen     lifecycle.GenerateRequest
}

func (s *stubPodcasts) Create(_ context.Context, req lifecycle.CreateRequest) (*repository.Podcast, error) {
	s.lastCreate = req
	if s.createErr != nil {
		return nil, s.createErr
	}

	return &repository.Podcast{ID: "podcast-1", DocumentID: req.DocumentID, OwnerID: req.OwnerID}, nil
}

func (s *stubPodcasts) Generate(
	_ context.Context,
	req lifecycle.GenerateRequest,
) (*repository.Podcast, *core.AudioResult, error) {
	s.lastGen = req
	if s.generateErr != nil {
		if s.failed {
			return &repository.Podcast{ID: req.PodcastID, Status: repository.StatusFailed}, nil, s.generateErr
		}

		return nil, nil, s.generateErr
	}

	return &repository.Podcast{ID: req.PodcastID, Status: repository.StatusProcessed}, &core.AudioResult{
		AudioURL:         "https://cdn.example.test/a.wav",
		DurationSeconds:  12,
		FileSizeBytes:    44 + 12*88200,
		StorageKey:       "podcasts/owner-1/" + req.PodcastID + "/1-t.wav",
		GenerationMethod: core.MethodDialogue,
	}, nil
}

type stubCleaner struct {
	err error
}

func (s *stubCleaner) SweepExpired(context.Context) (*cleanup.Result, error) {
	return &cleanup.Result{DeletedArtifacts: 2, DeletedObjects: 2, Errors: 0, TotalBytesFreed: 300}, s.err
}

func (s *stubCleaner) SweepStaleFailed(context.Context) (*cleanup.Result, error) {
	return &cleanup.Result{DeletedArtifacts: 1, DeletedObjects: 0, Errors: 0, TotalBytesFreed: 0}, s.err
}

func (s *stubCleaner) CleanupPodcast(_ context.Context, id string) (*cleanup.Result, error) {
	if id == "missing" {
		return nil, fmt.Errorf("%w: podcast '%s'", core.ErrNotFound, id)
	}

	return &cleanup.Result{DeletedArtifacts: 1, DeletedObjects: 1, Errors: 0, TotalBytesFreed: 10}, nil
}

func (s *stubCleaner) Stats(context.Context) (*repository.Stats, error) {
	if s.err != nil {
		return nil, s.err
	}

	return &repository.Stats{Total: 3, Processed: 2, Failed: 1, StoredBytes: 300}, nil
}

type stubHealth struct {
	err error
}

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

func newRouter(t *testing.T, podcasts *stubPodcasts, cleaner *stubCleaner, health error) *gin.Engine {
	t.Helper()

	log, err := logger.New(t.TempDir(), "httpapi-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return httpapi.NewRouter(httpapi.NewHandlers(podcasts, cleaner, stubHealth{err: health}, metrics.New(), log))
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	return body
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := serve(newRouter(t, &stubPodcasts{}, &stubCleaner{}, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, healthy.Code)
	assert.Equal(t, "healthy", decode(t, healthy)["status"])

	down := serve(newRouter(t, &stubPodcasts{}, &stubCleaner{}, errors.New("connection refused")),
		http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, down.Code)
	assert.Contains(t, decode(t, down)["error"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	recorder := serve(newRouter(t, &stubPodcasts{}, &stubCleaner{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestCreatePodcast(t *testing.T) {
	t.Parallel()

	podcasts := &stubPodcasts{}
	router := newRouter(t, podcasts, &stubCleaner{}, nil)

	recorder := serve(router, http.MethodPost, "/v1/podcasts",
		`{"documentId":"doc-1","ownerId":"owner-1","title":"T","text":"Hello."}`)
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "doc-1", podcasts.lastCreate.DocumentID)
	assert.Equal(t, "Hello.", podcasts.lastCreate.Text)

	malformed := serve(router, http.MethodPost, "/v1/podcasts", `{"documentId":`)
	assert.Equal(t, http.StatusBadRequest, malformed.Code)
}

func TestCreatePodcast_ValidationError(t *testing.T) {
	t.Parallel()

	podcasts := &stubPodcasts{createErr: fmt.Errorf("%w: document id cannot be empty", core.ErrValidation)}
	recorder := serve(newRouter(t, podcasts, &stubCleaner{}, nil), http.MethodPost, "/v1/podcasts", `{}`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, decode(t, recorder)["error"], "document id cannot be empty")
}

func TestGeneratePodcast(t *testing.T) {
	t.Parallel()

	podcasts := &stubPodcasts{}
	recorder := serve(newRouter(t, podcasts, &stubCleaner{}, nil), http.MethodPost, "/v1/podcasts/podcast-9/generate",
		`{"ownerId":"owner-1","text":"Some text.","stream":true}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "podcast-9", podcasts.lastGen.PodcastID)
	assert.Equal(t, "owner-1", podcasts.lastGen.OwnerID)
	assert.True(t, podcasts.lastGen.Stream)

	result, ok := decode(t, recorder)["result"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 12, result["durationSeconds"], 0)
	assert.Equal(t, string(core.MethodDialogue), result["generationMethod"])
}

func TestGeneratePodcast_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		podcasts *stubPodcasts
		body     string
		status   int
	}{
		{"missing owner", &stubPodcasts{}, `{"text":"x"}`, http.StatusBadRequest},
		{"unknown podcast", &stubPodcasts{generateErr: core.ErrNotFound}, `{"ownerId":"o","text":"x"}`, http.StatusNotFound},
		{
			"synthesis failed",
			&stubPodcasts{generateErr: fmt.Errorf("%w: %w", synthesis.ErrSynthesisFailed, core.ErrUpstream), failed: true},
			`{"ownerId":"o","text":"x"}`,
			http.StatusBadGateway,
		},
		{"storage down", &stubPodcasts{generateErr: core.ErrStorage, failed: true}, `{"ownerId":"o","text":"x"}`, http.StatusServiceUnavailable},
	}

	for _, testCase := range testCases {
		router := newRouter(t, testCase.podcasts, &stubCleaner{}, nil)
		recorder := serve(router, http.MethodPost, "/v1/podcasts/p/generate", testCase.body)

		assert.Equal(t, testCase.status, recorder.Code, testCase.name)

		if testCase.podcasts.failed {
			podcast, ok := decode(t, recorder)["podcast"].(map[string]any)
			require.True(t, ok, testCase.name)
			assert.Equal(t, repository.StatusFailed, podcast["status"], testCase.name)
		}
	}
}

func TestCleanupRoutes(t *testing.T) {
	t.Parallel()

	router := newRouter(t, &stubPodcasts{}, &stubCleaner{}, nil)

	expired := serve(router, http.MethodPost, "/v1/cleanup/expired", "")
	require.Equal(t, http.StatusOK, expired.Code)
	assert.InDelta(t, 2, decode(t, expired)["deletedArtifacts"], 0)
	assert.InDelta(t, 300, decode(t, expired)["totalBytesFreed"], 0)

	stale := serve(router, http.MethodPost, "/v1/cleanup/stale", "")
	require.Equal(t, http.StatusOK, stale.Code)
	assert.InDelta(t, 1, decode(t, stale)["deletedArtifacts"], 0)

	stats := serve(router, http.MethodGet, "/v1/cleanup/stats", "")
	require.Equal(t, http.StatusOK, stats.Code)
	assert.InDelta(t, 3, decode(t, stats)["total"], 0)

	deleted := serve(router, http.MethodDelete, "/v1/podcasts/podcast-1", "")
	assert.Equal(t, http.StatusOK, deleted.Code)

	missing := serve(router, http.MethodDelete, "/v1/podcasts/missing", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCleanupRoutes_InternalError(t *testing.T) {
	t.Parallel()

	router := newRouter(t, &stubPodcasts{}, &stubCleaner{err: errors.New("database is locked")}, nil)

	recorder := serve(router, http.MethodGet, "/v1/cleanup/stats", "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), "database is locked"))
}
