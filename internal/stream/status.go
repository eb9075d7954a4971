package stream

import "github.com/taskbench/taskbench/internal/agent/opencode"

// Status is the consolidated state derived from an event sequence.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusBusy      Status = "busy"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusUnknown   Status = "unknown"
)

// Derive folds the ordered event sequence into a status and a
// completion flag. Later events override earlier status conclusions;
// completion, once reached, is never unset. The fold is pure: callers
// recompute it over the accumulated sequence whenever needed.
func Derive(events []*Event) (Status, bool) {
	status := StatusUnknown
	complete := false

	for _, e := range events {
		switch e.Type {
		case opencode.SDKEventSessionStatus:
			switch statusType(e) {
			case opencode.SessionStatusBusy:
				status = StatusBusy
			case opencode.SessionStatusIdle:
				status = StatusIdle
			}
		case opencode.SDKEventSessionIdle:
			status = StatusCompleted
			complete = true
		case EventTypeError:
			status = StatusError
			complete = true
		}
	}

	return status, complete
}

// statusType extracts properties.status.type from a session.status event.
func statusType(e *Event) string {
	nested, ok := e.Properties["status"].(map[string]any)
	if !ok {
		return ""
	}
	t, _ := nested["type"].(string)
	return t
}
