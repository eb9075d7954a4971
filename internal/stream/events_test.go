package stream

import "testing"

func TestNormalize_TopLevelSessionID(t *testing.T) {
	e := &Event{
		Type:       "session.idle",
		Properties: map[string]any{"sessionID": "ses_1"},
	}

	Normalize(e)

	if got := e.SessionID(); got != "ses_1" {
		t.Errorf("expected resolved sessionId ses_1, got %q", got)
	}
}

func TestNormalize_NestedPartSessionID(t *testing.T) {
	e := &Event{
		Type: "message.part.updated",
		Properties: map[string]any{
			"part": map[string]any{
				"sessionID": "ses_1",
				"messageID": "msg_9",
				"type":      "text",
				"text":      "hello",
			},
		},
	}

	Normalize(e)

	if got := e.SessionID(); got != "ses_1" {
		t.Errorf("expected resolved sessionId ses_1, got %q", got)
	}
	if got, _ := e.Properties["messageId"].(string); got != "msg_9" {
		t.Errorf("expected resolved messageId msg_9, got %q", got)
	}
	// Native fields stay intact
	part := e.Properties["part"].(map[string]any)
	if part["text"] != "hello" {
		t.Error("expected nested part fields to be preserved")
	}
}

func TestNormalize_NestedInfoSessionID(t *testing.T) {
	e := &Event{
		Type: "message.updated",
		Properties: map[string]any{
			"info": map[string]any{
				"sessionID": "ses_2",
				"role":      "assistant",
			},
		},
	}

	Normalize(e)

	if got := e.SessionID(); got != "ses_2" {
		t.Errorf("expected resolved sessionId ses_2, got %q", got)
	}
}

func TestNormalize_RenamesSessionError(t *testing.T) {
	e := &Event{
		Type: "session.error",
		Properties: map[string]any{
			"sessionID": "ses_1",
			"error":     map[string]any{"name": "AuthError"},
		},
	}

	Normalize(e)

	if e.Type != EventTypeError {
		t.Errorf("expected type %q, got %q", EventTypeError, e.Type)
	}
}

func TestNormalize_NilProperties(t *testing.T) {
	e := &Event{Type: "server.connected"}

	Normalize(e)

	if e.Properties == nil {
		t.Fatal("expected properties map to be initialized")
	}
	if got := e.SessionID(); got != "" {
		t.Errorf("expected no sessionId, got %q", got)
	}
}

func TestShouldDeliver(t *testing.T) {
	tests := []struct {
		name      string
		event     *Event
		sessionID string
		want      bool
	}{
		{
			name:      "matching session",
			event:     &Event{Properties: map[string]any{"sessionId": "ses_1"}},
			sessionID: "ses_1",
			want:      true,
		},
		{
			name:      "other session",
			event:     &Event{Properties: map[string]any{"sessionId": "ses_2"}},
			sessionID: "ses_1",
			want:      false,
		},
		{
			name:      "unscoped event",
			event:     &Event{Properties: map[string]any{}},
			sessionID: "ses_1",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldDeliver(tt.event, tt.sessionID); got != tt.want {
				t.Errorf("ShouldDeliver() = %v, want %v", got, tt.want)
			}
		})
	}
}
