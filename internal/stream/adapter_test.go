package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/taskbench/taskbench/internal/agent/opencode"
	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/sandbox"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

// fakeStream feeds scripted chunks to a subscription.
type fakeStream struct {
	chunks chan sandbox.Chunk
	err    error
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan sandbox.Chunk, 64)}
}

func (f *fakeStream) Chunks() <-chan sandbox.Chunk { return f.chunks }
func (f *fakeStream) Err() error                   { return f.err }
func (f *fakeStream) Close() error {
	if !f.closed {
		f.closed = true
		close(f.chunks)
	}
	return nil
}

func (f *fakeStream) emit(source, line string) {
	f.chunks <- sandbox.Chunk{Source: source, Line: line}
}

func (f *fakeStream) emitEvent(payload string) {
	f.emit(sandbox.SourceStdout, opencode.StreamMarker+payload)
}

func collectEvents(t *testing.T, sub *Subscription) []*Event {
	t.Helper()

	var events []*Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("timeout waiting for subscription to close")
		}
	}
}

func TestSubscription_DeliversFilteredEvents(t *testing.T) {
	fs := newFakeStream()
	fs.emitEvent(`{"type":"session.status","properties":{"sessionID":"ses_1","status":{"type":"busy"}}}`)
	fs.emitEvent(`{"type":"message.part.updated","properties":{"part":{"sessionID":"ses_2","type":"text"}}}`)
	fs.emitEvent(`{"type":"session.idle","properties":{"sessionID":"ses_1"}}`)
	_ = fs.Close()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	events := collectEvents(t, sub)

	if len(events) != 2 {
		t.Fatalf("expected 2 events after filtering, got %d", len(events))
	}
	if events[0].Type != "session.status" || events[1].Type != "session.idle" {
		t.Errorf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
	if sub.Err() != nil {
		t.Errorf("expected clean end, got %v", sub.Err())
	}
}

func TestSubscription_UnscopedEventsPass(t *testing.T) {
	fs := newFakeStream()
	fs.emitEvent(`{"type":"server.connected","properties":{}}`)
	_ = fs.Close()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	events := collectEvents(t, sub)

	if len(events) != 1 {
		t.Fatalf("expected unscoped event to pass the filter, got %d events", len(events))
	}
}

func TestSubscription_DropsMalformedLines(t *testing.T) {
	fs := newFakeStream()
	// Valid framing, invalid inner JSON
	fs.emitEvent(`{"type":"session.idle","properti`)
	// Empty payload behind the marker
	fs.emitEvent(``)
	// Missing marker entirely
	fs.emit(sandbox.SourceStdout, `{"type":"session.idle","properties":{}}`)
	// stderr chunks never carry events
	fs.emit(sandbox.SourceStderr, opencode.StreamMarker+`{"type":"session.idle","properties":{}}`)
	// Blank line
	fs.emit(sandbox.SourceStdout, "")
	_ = fs.Close()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	events := collectEvents(t, sub)

	if len(events) != 0 {
		t.Errorf("expected 0 events from malformed input, got %d", len(events))
	}
	if sub.Err() != nil {
		t.Errorf("malformed lines must not end the subscription with an error, got %v", sub.Err())
	}
}

func TestSubscription_PreservesOrder(t *testing.T) {
	fs := newFakeStream()
	const n = 50
	for i := 0; i < n; i++ {
		fs.emitEvent(fmt.Sprintf(`{"type":"message.part.updated","properties":{"sessionID":"ses_1","seq":%d}}`, i))
	}
	_ = fs.Close()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	events := collectEvents(t, sub)

	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
	for i, e := range events {
		if seq := int(e.Properties["seq"].(float64)); seq != i {
			t.Fatalf("order violation at %d: got seq %d", i, seq)
		}
	}
}

func TestSubscription_SurfacesDisconnect(t *testing.T) {
	fs := newFakeStream()
	fs.err = fmt.Errorf("stream command exited with code 18")
	fs.emitEvent(`{"type":"session.status","properties":{"sessionID":"ses_1","status":{"type":"busy"}}}`)
	_ = fs.Close()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	collectEvents(t, sub)

	if sub.Err() == nil {
		t.Error("expected disconnect error to be surfaced")
	}
}

func TestSubscription_CloseReleasesStream(t *testing.T) {
	fs := newFakeStream()

	sub := NewSubscription("task-1", "ses_1", fs, newTestLogger())
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !fs.closed {
		t.Error("expected underlying stream to be closed")
	}

	collectEvents(t, sub)

	// Close after close is safe
	if err := sub.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
