// Package api provides the HTTP surface of the task orchestrator.
package api

import "github.com/taskbench/taskbench/internal/stream"

// CreateTaskRequest is the body of POST /tasks. Branch defaults to
// "main" when omitted.
type CreateTaskRequest struct {
	RepoURL string `json:"repoUrl" binding:"required,url"`
	Branch  string `json:"branch"`
	Prompt  string `json:"prompt" binding:"required"`
}

// DataResponse wraps every successful response body.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// DiffData is the payload of GET /tasks/:taskId/diff.
type DiffData struct {
	TaskID string `json:"task_id"`
	Diff   string `json:"diff"`
}

// AbortData is the payload of POST /tasks/:taskId/abort.
type AbortData struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
}

// EventMessage frames one normalized event on the SSE feed.
type EventMessage struct {
	TaskID string        `json:"task_id"`
	Event  *stream.Event `json:"event"`
}

// DisconnectMessage is the final SSE frame before the feed closes.
type DisconnectMessage struct {
	TaskID       string `json:"task_id"`
	Disconnected bool   `json:"disconnected"`
}
