package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_ObserveGeneration(t *testing.T) {
	t.Parallel()

	collectors := metrics.New()
	collectors.ObserveGeneration(core.MethodDialogue, 5, 1024)
	collectors.ObserveGeneration(core.MethodFallbackTTS, 0, 2048)
	collectors.ObserveGeneration(core.MethodFallbackTTS, 0, 2048)
	collectors.GenerationFailed()

	expected := `
# HELP podcast_generations_total Completed audio generations by synthesis method
# TYPE podcast_generations_total counter
podcast_generations_total{method="fallback-tts"} 2
podcast_generations_total{method="text-to-dialogue"} 1
`
	err := testutil.GatherAndCompare(
		collectors.Registry(),
		strings.NewReader(expected),
		"podcast_generations_total",
	)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(collectors.Registry(), "podcast_generation_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectors_ObserveSweep(t *testing.T) {
	t.Parallel()

	collectors := metrics.New()
	collectors.ObserveSweep(metrics.SweepExpired, 2, 3, 1, 4096)
	collectors.ObserveSweep(metrics.SweepExpired, 1, 1, 0, 1024)

	expected := `
# HELP podcast_cleanup_bytes_freed_total Bytes reclaimed by cleanup, from recorded object sizes
# TYPE podcast_cleanup_bytes_freed_total counter
podcast_cleanup_bytes_freed_total{sweep="expired"} 5120
# HELP podcast_cleanup_errors_total Storage object deletions that failed during cleanup
# TYPE podcast_cleanup_errors_total counter
podcast_cleanup_errors_total{sweep="expired"} 1
`
	err := testutil.GatherAndCompare(
		collectors.Registry(),
		strings.NewReader(expected),
		"podcast_cleanup_bytes_freed_total",
		"podcast_cleanup_errors_total",
	)
	require.NoError(t, err)
}

func TestCollectors_NilIsNoop(t *testing.T) {
	t.Parallel()

	var collectors *metrics.Collectors

	assert.NotPanics(t, func() {
		collectors.ObserveGeneration(core.MethodDialogue, 1, 1)
		collectors.GenerationFailed()
		collectors.ReplacedObjectDeleteFailed()
		collectors.ObserveSweep(metrics.SweepManual, 1, 1, 1, 1)
	})
}

func TestCollectors_Handler(t *testing.T) {
	t.Parallel()

	collectors := metrics.New()
	collectors.ReplacedObjectDeleteFailed()

	recorder := httptest.NewRecorder()
	collectors.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "podcast_replaced_object_delete_failures_total 1")
}
