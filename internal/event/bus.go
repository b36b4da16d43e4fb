package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Type tags every realtime message. Consumers switch on the
// type instead of probing payload keys.
type Type string

const (
	TypeSubscribed    Type = "subscribed"
	TypeLogDelta      Type = "log_delta"
	TypeStatusChanged Type = "status_changed"
	TypeStreamError   Type = "stream_error"
	TypeTimeout       Type = "timeout"
	TypeUnsubscribed  Type = "unsubscribed"
)

// Event is one realtime message about a pipeline execution.
type Event struct {
	Type        Type            `json:"type"`
	PipelineID  int64           `json:"pipeline_id,omitempty"`
	ExecutionID int64           `json:"execution_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Filter defines criteria for receiving events. Zero fields
// match everything; a status-only subscriber filters on
// Types alone.
type Filter struct {
	PipelineID  int64
	ExecutionID int64
	Types       []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if b.matches(filter, e) {
			select {
			case ch <- e:
			default:
				// Drop event if channel is full to prevent blocking
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) matches(filter Filter, e Event) bool {
	if filter.PipelineID != 0 && filter.PipelineID != e.PipelineID {
		return false
	}
	if filter.ExecutionID != 0 && filter.ExecutionID != e.ExecutionID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
