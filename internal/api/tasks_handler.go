package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

const (
	defaultListLimit  = 50
	defaultEventLimit = 200
)

// TasksHandler handles task management requests.
type TasksHandler struct {
	engine *taskengine.Engine
}

// NewTasksHandler creates a tasks handler.
func NewTasksHandler(engine *taskengine.Engine) *TasksHandler {
	return &TasksHandler{engine: engine}
}

// CreateTaskRequest is the POST /tasks request body.
type CreateTaskRequest struct {
	TaskType string         `json:"task_type" binding:"required"`
	Title    string         `json:"title"`
	Params   map[string]any `json:"params"`
	// Start immediately runs the task after creation.
	Start bool `json:"start"`
}

// Create handles POST /api/v1/tasks
func (h *TasksHandler) Create(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	task, err := h.engine.Create(c.Request.Context(), req.TaskType, req.Title, domain.JSONBMap(req.Params))
	if err != nil {
		writeTaskError(c, err)
		return
	}

	if req.Start {
		if err := h.engine.Start(c.Request.Context(), task.ID); err != nil {
			writeTaskError(c, err)
			return
		}
		task, err = h.engine.Get(c.Request.Context(), task.ID)
		if err != nil {
			writeTaskError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, task)
}

// Start handles POST /api/v1/tasks/:id/start
func (h *TasksHandler) Start(c *gin.Context) {
	if err := h.engine.Start(c.Request.Context(), c.Param("id")); err != nil {
		writeTaskError(c, err)
		return
	}

	task, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Cancel handles POST /api/v1/tasks/:id/cancel
func (h *TasksHandler) Cancel(c *gin.Context) {
	if err := h.engine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeTaskError(c, err)
		return
	}

	task, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Get handles GET /api/v1/tasks/:id
func (h *TasksHandler) Get(c *gin.Context) {
	task, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// List handles GET /api/v1/tasks
func (h *TasksHandler) List(c *gin.Context) {
	status := c.Query("status")
	taskType := c.Query("task_type")
	limit := queryInt(c, "limit", defaultListLimit)
	offset := queryInt(c, "offset", 0)

	tasks, total, err := h.engine.List(c.Request.Context(), status, taskType, limit, offset)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": total,
	})
}

// Events handles GET /api/v1/tasks/:id/events
func (h *TasksHandler) Events(c *gin.Context) {
	afterID, _ := strconv.ParseInt(c.Query("after_id"), 10, 64)
	limit := queryInt(c, "limit", defaultEventLimit)

	events, err := h.engine.Events(c.Request.Context(), c.Param("id"), afterID, limit)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Stats handles GET /api/v1/tasks/stats
func (h *TasksHandler) Stats(c *gin.Context) {
	counts, err := h.engine.StatusCounts(c.Request.Context())
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// writeTaskError maps engine and repository errors to HTTP statuses.
func writeTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, taskengine.ErrUnknownTaskType),
		errors.Is(err, taskengine.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, taskengine.ErrInvalidTransition),
		errors.Is(err, taskengine.ErrTaskTerminal),
		errors.Is(err, taskengine.ErrNotClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// queryInt parses a positive integer query parameter with a fallback.
func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
