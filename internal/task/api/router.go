package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskbench/taskbench/internal/common/logger"
)

// SetupRoutes configures the task API routes.
func SetupRoutes(router *gin.RouterGroup, orch Orchestrator, log *logger.Logger) {
	handler := NewHandler(orch, log)

	tasks := router.Group("/tasks")
	{
		tasks.POST("", handler.CreateTask)
		tasks.GET("/:taskId/events", handler.StreamEvents)
		tasks.GET("/:taskId/diff", handler.GetDiff)
		tasks.POST("/:taskId/abort", handler.AbortTask)
	}
}
