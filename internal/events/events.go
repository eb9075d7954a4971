// Package events defines the event-bus subjects used by taskbench.
package events

// Task lifecycle subjects.
const (
	TaskCreated = "task.created"
	TaskAborted = "task.aborted"
)

// TaskSubjects matches every task lifecycle subject.
const TaskSubjects = "task.>"
