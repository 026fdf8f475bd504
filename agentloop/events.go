package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart       EventKind = "session_start"
	EventSessionEnd         EventKind = "session_end"
	EventUserInput          EventKind = "user_input"
	EventAssistantTextDelta EventKind = "assistant_text_delta"
	EventAssistantTextEnd   EventKind = "assistant_text_end"
	EventStepEnd            EventKind = "step_end"
	EventToolCallStart      EventKind = "tool_call_start"
	EventToolCallEnd        EventKind = "tool_call_end"
	EventTurnLimit          EventKind = "turn_limit"
	EventLoopDetection      EventKind = "loop_detection"
	EventWarning            EventKind = "warning"
	EventError              EventKind = "error"
	EventTurnEnd            EventKind = "turn_end"
)

// SessionEvent is a typed event emitted by the agent loop.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives session events. HandleEvent is called synchronously on
// the agent loop goroutine, so text deltas reach the sink in order and before
// the next delta is read from the stream.
type EventSink interface {
	HandleEvent(SessionEvent)
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(SessionEvent)

// HandleEvent calls f(ev).
func (f EventSinkFunc) HandleEvent(ev SessionEvent) { f(ev) }

// EventEmitter fans session events out to every registered sink.
type EventEmitter struct {
	sessionID string
	sinks     []EventSink
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an EventEmitter stamping events with sessionID.
func NewEventEmitter(sessionID string, sinks ...EventSink) *EventEmitter {
	return &EventEmitter{sessionID: sessionID, sinks: sinks}
}

// Subscribe adds a sink. Events already emitted are not replayed.
func (e *EventEmitter) Subscribe(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Emit delivers an event to every sink. After Close, events are dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	sinks := append([]EventSink(nil), e.sinks...)
	e.mu.Unlock()

	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	for _, sink := range sinks {
		sink.HandleEvent(event)
	}
}

// Close stops delivery. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}
