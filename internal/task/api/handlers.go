package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/errors"
	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/stream"
	"github.com/taskbench/taskbench/internal/task/models"
)

const defaultBranch = "main"

// Orchestrator is the task lifecycle surface the handlers call into.
type Orchestrator interface {
	CreateTask(ctx context.Context, repoURL, branch, prompt string) (*models.Task, error)
	OpenEvents(ctx context.Context, taskID, sessionID string) (*stream.Subscription, error)
	GetDiff(ctx context.Context, taskID string) (string, error)
	Abort(ctx context.Context, taskID, sessionID string) error
}

// Handler contains the HTTP handlers for the task API.
type Handler struct {
	orch   Orchestrator
	logger *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch Orchestrator, log *logger.Logger) *Handler {
	return &Handler{
		orch:   orch,
		logger: log,
	}
}

// CreateTask bootstraps a new task.
// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if req.Branch == "" {
		req.Branch = defaultBranch
	}

	task, err := h.orch.CreateTask(c.Request.Context(), req.RepoURL, req.Branch, req.Prompt)
	if err != nil {
		h.logger.Error("failed to create task", zap.Error(err))
		appErr := errors.InternalError(err.Error(), err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusCreated, DataResponse{Data: task})
}

// StreamEvents streams session-filtered task events over SSE.
// GET /api/v1/tasks/:taskId/events?sessionId=...
//
// The connection stays open until the client disconnects or the
// underlying stream ends; the server sends a final disconnect frame
// and never reconnects on the caller's behalf.
func (h *Handler) StreamEvents(c *gin.Context) {
	taskID := c.Param("taskId")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId query parameter is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	sub, err := h.orch.OpenEvents(c.Request.Context(), taskID, sessionID)
	if err != nil {
		h.logger.Error("failed to open event stream",
			zap.String("task_id", taskID),
			zap.Error(err))
		appErr := errors.InternalError("failed to open event stream", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	defer func() {
		_ = sub.Close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				h.writeSSE(c, DisconnectMessage{TaskID: taskID, Disconnected: true})
				return
			}
			h.writeSSE(c, EventMessage{TaskID: taskID, Event: event})
		case <-clientGone:
			return
		}
	}
}

func (h *Handler) writeSSE(c *gin.Context, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("failed to encode SSE frame", zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// GetDiff returns the task's working-tree diff.
// GET /api/v1/tasks/:taskId/diff
func (h *Handler) GetDiff(c *gin.Context) {
	taskID := c.Param("taskId")

	diff, err := h.orch.GetDiff(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Error("failed to get diff",
			zap.String("task_id", taskID),
			zap.Error(err))
		appErr := errors.InternalError("failed to get diff", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, DataResponse{Data: DiffData{TaskID: taskID, Diff: diff}})
}

// AbortTask forwards an abort signal to the task's agent session. The
// session identifier is mandatory because the server keeps no
// task-to-session mapping.
// POST /api/v1/tasks/:taskId/abort?sessionId=...
func (h *Handler) AbortTask(c *gin.Context) {
	taskID := c.Param("taskId")
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId query parameter is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.orch.Abort(c.Request.Context(), taskID, sessionID); err != nil {
		h.logger.Error("failed to abort task",
			zap.String("task_id", taskID),
			zap.Error(err))
		appErr := errors.InternalError("failed to abort task", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, DataResponse{Data: AbortData{TaskID: taskID, Success: true}})
}
