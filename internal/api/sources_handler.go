package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/newsbrief/internal/crawl"
	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// SourcesHandler handles crawl source administration and crawl triggers.
type SourcesHandler struct {
	sources database.SourceRepositoryInterface
	runner  *crawl.Runner
	engine  *taskengine.Engine
}

// NewSourcesHandler creates a sources handler.
func NewSourcesHandler(
	sources database.SourceRepositoryInterface,
	runner *crawl.Runner,
	engine *taskengine.Engine,
) *SourcesHandler {
	return &SourcesHandler{sources: sources, runner: runner, engine: engine}
}

// CreateSourceRequest is the POST /sources request body.
type CreateSourceRequest struct {
	Name            string         `json:"name"     binding:"required"`
	BaseURL         string         `json:"base_url" binding:"required"`
	SitemapURL      *string        `json:"sitemap_url"`
	ParserConfig    map[string]any `json:"parser_config"`
	CrawlInterval   int            `json:"crawl_interval"`
	DiscoveryMethod string         `json:"discovery_method"`
	Enabled         *bool          `json:"enabled"`
}

// Create handles POST /api/v1/sources
func (h *SourcesHandler) Create(c *gin.Context) {
	var req CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	discovery := domain.DiscoveryMethod(req.DiscoveryMethod)
	if discovery == "" {
		discovery = domain.DiscoverySitemap
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	source := &domain.CrawlSource{
		ID:              uuid.New().String(),
		Name:            req.Name,
		BaseURL:         req.BaseURL,
		SitemapURL:      req.SitemapURL,
		ParserConfig:    domain.JSONBMap(req.ParserConfig),
		CrawlInterval:   req.CrawlInterval,
		DiscoveryMethod: discovery,
		Enabled:         enabled,
		RobotsAllowed:   true,
	}

	if err := h.sources.Create(c.Request.Context(), source); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, source)
}

// List handles GET /api/v1/sources
func (h *SourcesHandler) List(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"

	sources, err := h.sources.List(c.Request.Context(), enabledOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// Get handles GET /api/v1/sources/:id
func (h *SourcesHandler) Get(c *gin.Context) {
	source, err := h.sources.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, source)
}

// CrawlNowRequest is the POST /sources/:id/crawl request body.
type CrawlNowRequest struct {
	Limit int `json:"limit"`
}

// CrawlNow handles POST /api/v1/sources/:id/crawl
//
// Synchronously drains one source's pending queue and returns the crawl
// result. For long-running or multi-source crawls use the task endpoint.
func (h *SourcesHandler) CrawlNow(c *gin.Context) {
	var req CrawlNowRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	result, err := h.runner.CrawlSource(c.Request.Context(), c.Param("id"), req.Limit, domain.PendingStatusPending)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// StartCrawlTaskRequest is the POST /crawl request body.
type StartCrawlTaskRequest struct {
	SourceID       string `json:"source_id"`
	LimitPerSource int    `json:"limit_per_source"`
}

// StartCrawlTask handles POST /api/v1/crawl
//
// Creates and starts a crawl_pending task; progress streams from the
// task's event log.
func (h *SourcesHandler) StartCrawlTask(c *gin.Context) {
	var req StartCrawlTaskRequest
	_ = c.ShouldBindJSON(&req)

	params := domain.JSONBMap{}
	if req.SourceID != "" {
		params["source_id"] = req.SourceID
	}
	if req.LimitPerSource > 0 {
		params["limit_per_source"] = req.LimitPerSource
	}

	h.startTask(c, domain.TaskTypeCrawlPending, "Crawl pending articles", params)
}

// StartRetryTaskRequest is the POST /crawl/retry request body.
type StartRetryTaskRequest struct {
	SourceID string `json:"source_id"`
	Limit    int    `json:"limit"`
}

// StartRetryTask handles POST /api/v1/crawl/retry
func (h *SourcesHandler) StartRetryTask(c *gin.Context) {
	var req StartRetryTaskRequest
	_ = c.ShouldBindJSON(&req)

	params := domain.JSONBMap{}
	if req.SourceID != "" {
		params["source_id"] = req.SourceID
	}
	if req.Limit > 0 {
		params["limit"] = req.Limit
	}

	h.startTask(c, domain.TaskTypeRetryFailed, "Retry failed articles", params)
}

func (h *SourcesHandler) startTask(c *gin.Context, taskType, title string, params domain.JSONBMap) {
	task, err := h.engine.Create(c.Request.Context(), taskType, title, params)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	if err := h.engine.Start(c.Request.Context(), task.ID); err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    task.ID,
		"task_type":  taskType,
		"stream_url": "/api/v1/tasks/" + task.ID + "/stream",
	})
}
