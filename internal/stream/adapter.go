package stream

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/agent/opencode"
	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/sandbox"
)

const eventBuffer = 16

// Subscription is a live, session-filtered view over a sandbox output
// stream carrying marker-framed agent events. It is a single long-lived
// read: when the underlying stream ends the subscription closes and
// does not reconnect. Reconnection is the consumer's choice; there is
// no backlog to resume from.
type Subscription struct {
	taskID    string
	sessionID string
	stream    sandbox.Stream
	events    chan *Event
	logger    *logger.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription starts consuming the stream, delivering events that
// pass the session filter for sessionID.
func NewSubscription(taskID, sessionID string, s sandbox.Stream, log *logger.Logger) *Subscription {
	sub := &Subscription{
		taskID:    taskID,
		sessionID: sessionID,
		stream:    s,
		events:    make(chan *Event, eventBuffer),
		done:      make(chan struct{}),
		logger:    log.WithTaskID(taskID).WithSessionID(sessionID),
	}
	go sub.pump()
	return sub
}

// Events returns the channel of filtered events. It is closed when the
// underlying stream ends or the subscription is closed.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Err reports why the subscription ended abnormally. Valid after Events
// is closed; nil when the stream ended cleanly or Close was called.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the underlying stream read.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.stream.Close()
	})
	return err
}

func (s *Subscription) pump() {
	defer close(s.events)

	for chunk := range s.stream.Chunks() {
		event, ok := s.decode(chunk)
		if !ok {
			continue
		}
		if !ShouldDeliver(event, s.sessionID) {
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}

	select {
	case <-s.done:
		// Closed by the consumer; the stream error is expected noise.
	default:
		if err := s.stream.Err(); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.logger.Warn("event stream disconnected", zap.Error(err))
		}
	}
}

// decode unwraps one transport chunk into a normalized event. Malformed
// or partial lines are expected at stream boundaries; every failure
// here drops the line without ending the subscription.
func (s *Subscription) decode(chunk sandbox.Chunk) (*Event, bool) {
	if chunk.Source != sandbox.SourceStdout {
		return nil, false
	}

	line := strings.TrimSpace(chunk.Line)
	if line == "" || !strings.HasPrefix(line, opencode.StreamMarker) {
		return nil, false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, opencode.StreamMarker))
	if payload == "" {
		return nil, false
	}

	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Debug("dropping unparseable event line", zap.Error(err))
		return nil, false
	}
	if event.Type == "" {
		return nil, false
	}

	return Normalize(&event), true
}
