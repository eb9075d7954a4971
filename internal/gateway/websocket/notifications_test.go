package websocket

import (
	"context"
	"testing"

	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/events/bus"
	ws "github.com/taskbench/taskbench/pkg/websocket"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestTaskEventBroadcaster_ForwardsTaskCreated(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := RegisterTaskNotifications(ctx, eventBus, hub, log)
	defer b.Close()

	event := bus.NewEvent(events.TaskCreated, "orchestrator", map[string]interface{}{
		"task_id": "task-1",
		"status":  "running",
	})
	if err := eventBus.Publish(context.Background(), events.TaskCreated, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// The memory bus dispatches synchronously, so the notification is
	// already queued on the hub.
	select {
	case msg := <-hub.broadcast:
		if msg.Type != ws.MessageTypeNotification {
			t.Errorf("expected notification type, got %s", msg.Type)
		}
		if msg.Action != ws.ActionTaskCreated {
			t.Errorf("expected action %s, got %s", ws.ActionTaskCreated, msg.Action)
		}
		var payload map[string]interface{}
		if err := msg.ParsePayload(&payload); err != nil {
			t.Fatalf("failed to parse payload: %v", err)
		}
		if payload["task_id"] != "task-1" {
			t.Errorf("expected task_id task-1, got %v", payload["task_id"])
		}
	default:
		t.Fatal("expected a broadcast message on the hub")
	}
}

func TestTaskEventBroadcaster_ForwardsTaskAborted(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := RegisterTaskNotifications(ctx, eventBus, hub, log)
	defer b.Close()

	event := bus.NewEvent(events.TaskAborted, "orchestrator", map[string]interface{}{
		"task_id": "task-2",
	})
	if err := eventBus.Publish(context.Background(), events.TaskAborted, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-hub.broadcast:
		if msg.Action != ws.ActionTaskAborted {
			t.Errorf("expected action %s, got %s", ws.ActionTaskAborted, msg.Action)
		}
	default:
		t.Fatal("expected a broadcast message on the hub")
	}
}

func TestTaskEventBroadcaster_CloseUnsubscribes(t *testing.T) {
	log := testLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := RegisterTaskNotifications(ctx, eventBus, hub, log)
	b.Close()

	event := bus.NewEvent(events.TaskCreated, "orchestrator", map[string]interface{}{
		"task_id": "task-3",
	})
	if err := eventBus.Publish(context.Background(), events.TaskCreated, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-hub.broadcast:
		t.Fatalf("expected no broadcast after close, got action %s", msg.Action)
	default:
	}
}

func TestTaskEventBroadcaster_NilBus(t *testing.T) {
	log := testLogger(t)
	hub := NewHub(log)

	b := RegisterTaskNotifications(context.Background(), nil, hub, log)
	if b == nil {
		t.Fatal("expected a broadcaster even without a bus")
	}
	b.Close()
}
