// Package stream turns the raw output of an agent event feed into
// normalized, session-filtered events and derives task status from
// them. Nothing here touches stored state; status is recomputed from
// the event sequence alone.
package stream

import (
	"encoding/json"

	"github.com/taskbench/taskbench/internal/agent/opencode"
)

// EventTypeError is the normalized tag for agent-reported errors. The
// agent emits these as "session.error"; normalization renames them so
// consumers match on one stable tag.
const EventTypeError = "error"

// Event is a normalized agent event. Properties always carry a resolved
// "sessionId" when the source event was scoped to a session; all other
// native fields are preserved verbatim.
type Event struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// ParseEvent decodes a raw agent event payload.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Normalize resolves inconsistently-placed identifiers into stable
// property keys and renames the agent's error event type. The upstream
// agent puts sessionID at the top level for some event types and nested
// under part or info for others.
func Normalize(e *Event) *Event {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}

	if e.Type == opencode.SDKEventSessionError {
		e.Type = EventTypeError
	}

	if sid := resolveField(e.Properties, "sessionID"); sid != "" {
		e.Properties["sessionId"] = sid
	}
	if mid := resolveField(e.Properties, "messageID"); mid != "" {
		e.Properties["messageId"] = mid
	}

	return e
}

// SessionID returns the event's resolved session identifier, or empty
// when the event is not scoped to a session.
func (e *Event) SessionID() string {
	if sid, ok := e.Properties["sessionId"].(string); ok {
		return sid
	}
	return ""
}

// ShouldDeliver reports whether an event passes the session filter: an
// event is delivered iff it is unscoped or scoped to sessionID.
func ShouldDeliver(e *Event, sessionID string) bool {
	sid := e.SessionID()
	return sid == "" || sid == sessionID
}

// resolveField looks up key at the top level, then inside the nested
// part and info objects.
func resolveField(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok && v != "" {
		return v
	}
	for _, parent := range []string{"part", "info"} {
		if nested, ok := props[parent].(map[string]any); ok {
			if v, ok := nested[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
