// Package httpapi exposes podcast generation and cleanup operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/cleanup"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/lifecycle"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/gin-gonic/gin"
)

// Podcasts creates and generates podcasts.
type Podcasts interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*repository.Podcast, error)
	Generate(ctx context.Context, req lifecycle.GenerateRequest) (*repository.Podcast, *core.AudioResult, error)
}

// Cleaner runs cleanup operations.
type Cleaner interface {
	SweepExpired(ctx context.Context) (*cleanup.Result, error)
	SweepStaleFailed(ctx context.Context) (*cleanup.Result, error)
	CleanupPodcast(ctx context.Context, id string) (*cleanup.Result, error)
	Stats(ctx context.Context) (*repository.Stats, error)
}

// HealthChecker probes an upstream dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handlers holds the dependencies of every route.
type Handlers struct {
	podcasts Podcasts
	cleaner  Cleaner
	health   HealthChecker
	metrics  *metrics.Collectors
	log      *logger.Logger
}

// NewHandlers creates the route handlers. health and collectors may be nil.
func NewHandlers(
	podcasts Podcasts,
	cleaner Cleaner,
	health HealthChecker,
	collectors *metrics.Collectors,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		podcasts: podcasts,
		cleaner:  cleaner,
		health:   health,
		metrics:  collectors,
		log:      log,
	}
}

// NewRouter registers every route on a new gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.HealthCheck)

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	v1 := router.Group("/v1")
	v1.POST("/podcasts", h.CreatePodcast)
	v1.POST("/podcasts/:id/generate", h.GeneratePodcast)
	v1.DELETE("/podcasts/:id", h.DeletePodcast)
	v1.GET("/cleanup/stats", h.CleanupStats)
	v1.POST("/cleanup/expired", h.SweepExpired)
	v1.POST("/cleanup/stale", h.SweepStaleFailed)

	return router
}

// generateBody is the JSON body of a generate request.
type generateBody struct {
	OwnerID       string              `json:"ownerId" binding:"required"`
	Text          string              `json:"text" binding:"required"`
	Speakers      []core.Speaker      `json:"speakers"`
	VoiceSettings *core.VoiceSettings `json:"voiceSettings"`
	Stream        bool                `json:"stream"`
}

// HealthCheck reports whether the synthesis service is reachable.
func (h *Handlers) HealthCheck(c *gin.Context) {
	if h.health != nil {
		err := h.health.HealthCheck(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})

			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// CreatePodcast records a new podcast for a document.
func (h *Handlers) CreatePodcast(c *gin.Context) {
	var req lifecycle.CreateRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	podcast, err := h.podcasts.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusCreated, podcast)
}

// GeneratePodcast runs (re)generation for a podcast and returns the result contract.
func (h *Handlers) GeneratePodcast(c *gin.Context) {
	var body generateBody

	err := c.ShouldBindJSON(&body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	podcast, result, err := h.podcasts.Generate(c.Request.Context(), lifecycle.GenerateRequest{
		PodcastID:     c.Param("id"),
		OwnerID:       body.OwnerID,
		Text:          body.Text,
		Speakers:      body.Speakers,
		VoiceSettings: body.VoiceSettings,
		Stream:        body.Stream,
		Progress:      nil,
	})
	if err != nil {
		if podcast != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "podcast": podcast})

			return
		}

		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "podcast": podcast})
}

// DeletePodcast removes one podcast and its audio immediately.
func (h *Handlers) DeletePodcast(c *gin.Context) {
	result, err := h.cleaner.CleanupPodcast(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

// CleanupStats reports podcast counts and storage usage.
func (h *Handlers) CleanupStats(c *gin.Context) {
	stats, err := h.cleaner.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, stats)
}

// SweepExpired runs the expired-processed sweep.
func (h *Handlers) SweepExpired(c *gin.Context) {
	h.runSweep(c, h.cleaner.SweepExpired)
}

// SweepStaleFailed runs the stale-failed sweep.
func (h *Handlers) SweepStaleFailed(c *gin.Context) {
	h.runSweep(c, h.cleaner.SweepStaleFailed)
}

func (h *Handlers) runSweep(c *gin.Context, sweep func(ctx context.Context) (*cleanup.Result, error)) {
	result, err := sweep(c.Request.Context())
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUpstream), errors.Is(err, core.ErrTimeout):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
