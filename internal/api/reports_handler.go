package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/report"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

// ReportsHandler handles report creation and generation requests.
type ReportsHandler struct {
	reports  database.ReportRepositoryInterface
	pipeline *report.Pipeline
	engine   *taskengine.Engine
}

// NewReportsHandler creates a reports handler.
func NewReportsHandler(
	reports database.ReportRepositoryInterface,
	pipeline *report.Pipeline,
	engine *taskengine.Engine,
) *ReportsHandler {
	return &ReportsHandler{reports: reports, pipeline: pipeline, engine: engine}
}

// CreateReportRequest is the POST /reports request body.
type CreateReportRequest struct {
	Title          string    `json:"title"            binding:"required"`
	TimeRangeStart time.Time `json:"time_range_start" binding:"required"`
	TimeRangeEnd   time.Time `json:"time_range_end"   binding:"required"`
	TemplateID     *string   `json:"template_id"`
	CustomPrompt   *string   `json:"custom_prompt"`
	Keywords       []string  `json:"keywords"`
	Language       string    `json:"language"`
	MaxEvents      int       `json:"max_events"`
	// Generate immediately starts a generation task for the new report.
	Generate bool `json:"generate"`
}

// Create handles POST /api/v1/reports
//
// Creates a draft report, and with generate=true also starts its
// generation task whose event stream carries stage and section_stream
// events.
func (h *ReportsHandler) Create(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !req.TimeRangeEnd.After(req.TimeRangeStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_range_end must be after time_range_start"})
		return
	}

	language := req.Language
	if language == "" {
		language = "English"
	}

	rep := &domain.Report{
		ID:             uuid.New().String(),
		Title:          req.Title,
		TimeRangeStart: req.TimeRangeStart,
		TimeRangeEnd:   req.TimeRangeEnd,
		TemplateID:     req.TemplateID,
		CustomPrompt:   req.CustomPrompt,
		Keywords:       req.Keywords,
		Language:       language,
		MaxEvents:      req.MaxEvents,
		Status:         domain.ReportStatusDraft,
		AgentStage:     domain.StageInitializing,
	}

	if err := h.reports.Create(c.Request.Context(), rep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(req.Keywords) > 0 {
		if err := h.reports.SetKeywords(c.Request.Context(), rep.ID, req.Keywords); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	response := gin.H{"report": rep}
	if req.Generate {
		taskID, err := h.startGeneration(c, rep.ID, rep.Title)
		if err != nil {
			writeTaskError(c, err)
			return
		}
		response["task_id"] = taskID
		response["stream_url"] = "/api/v1/tasks/" + taskID + "/stream"
	}

	c.JSON(http.StatusCreated, response)
}

// Generate handles POST /api/v1/reports/:id/generate
//
// Starts a generation task for an existing report. Generation resumes
// past already-persisted sections; a completed report is left untouched.
func (h *ReportsHandler) Generate(c *gin.Context) {
	reportID := c.Param("id")

	rep, err := h.reports.GetByID(c.Request.Context(), reportID)
	if err != nil {
		writeReportError(c, err)
		return
	}

	taskID, err := h.startGeneration(c, rep.ID, rep.Title)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"report_id":  rep.ID,
		"task_id":    taskID,
		"stream_url": "/api/v1/tasks/" + taskID + "/stream",
	})
}

// Complete handles POST /api/v1/reports/:id/complete
//
// Finalizes a report from its persisted sections without regenerating
// anything. Completing a completed report is a no-op.
func (h *ReportsHandler) Complete(c *gin.Context) {
	rep, err := h.pipeline.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Get handles GET /api/v1/reports/:id
func (h *ReportsHandler) Get(c *gin.Context) {
	rep, err := h.reports.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// List handles GET /api/v1/reports
func (h *ReportsHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListLimit)
	offset := queryInt(c, "offset", 0)

	reports, err := h.reports.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// Delete handles DELETE /api/v1/reports/:id
func (h *ReportsHandler) Delete(c *gin.Context) {
	if err := h.reports.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeReportError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ReportsHandler) startGeneration(c *gin.Context, reportID, title string) (string, error) {
	task, err := h.engine.Create(c.Request.Context(), domain.TaskTypeReportGenerate,
		"Generate report: "+title, domain.JSONBMap{"report_id": reportID})
	if err != nil {
		return "", err
	}

	if err := h.engine.Start(c.Request.Context(), task.ID); err != nil {
		return "", err
	}
	return task.ID, nil
}

func writeReportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, report.ErrPipelineActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
