// Package models defines the task record handed back to callers.
package models

import "time"

// TaskStatus is the informational status recorded on the Task at
// creation time. The live status is derived client-side from the event
// stream and is never written back to this record.
type TaskStatus string

const (
	StatusInitializing TaskStatus = "initializing"
	StatusCloning      TaskStatus = "cloning"
	StatusStarting     TaskStatus = "starting"
	StatusRunning      TaskStatus = "running"
	StatusCompleted    TaskStatus = "completed"
	StatusError        TaskStatus = "error"
	StatusAborted      TaskStatus = "aborted"
)

// Task is the record assembled by a successful bootstrap. It is handed
// to the caller exactly once; the server keeps no copy. The caller must
// round-trip ID and SessionID on every later operation.
type Task struct {
	ID        string     `json:"id"`
	RepoURL   string     `json:"repo_url"`
	Branch    string     `json:"branch"`
	Prompt    string     `json:"prompt"`
	Status    TaskStatus `json:"status"`
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt time.Time  `json:"started_at"`
}
