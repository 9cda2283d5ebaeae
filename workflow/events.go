package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/decisionflow/types"
)

// Event is one entry of an execution's timeline. The emitted sequence is a
// durable, queryable record and doubles as the replay/audit mechanism; Seq
// totally orders events within one execution even when concurrent nodes
// emit at the same timestamp.
type Event struct {
	ExecutionID string          `json:"executionId"`
	Seq         int64           `json:"seq"`
	Type        types.EventType `json:"type"`
	NodeID      string          `json:"nodeId,omitempty"`
	Message     string          `json:"message,omitempty"`
	Payload     map[string]any  `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EventSink receives timeline events. Each Emit is individually atomic;
// implementations must not reorder events of one execution.
type EventSink interface {
	Emit(ctx context.Context, event *Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event *Event) error

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// MemoryEventSink collects events in memory, used in tests and as a default
// when no durable sink is wired.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryEventSink creates an empty in-memory sink.
func NewMemoryEventSink() *MemoryEventSink {
	return &MemoryEventSink{}
}

// Emit implements EventSink.
func (s *MemoryEventSink) Emit(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *MemoryEventSink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// ForExecution returns the ordered events of one execution.
func (s *MemoryEventSink) ForExecution(executionID string) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out
}
