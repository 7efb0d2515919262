package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle event emitted by a workflow.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         string         `json:"type"`
	Source       string         `json:"source"`
	InvocationID string         `json:"invocation_id,omitempty"`
	Message      string         `json:"message"`
	Level        string         `json:"level"`
	Data         map[string]any `json:"data,omitempty"`
}

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a published event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. It implements
// engine.EventRecorder.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
	now         func() time.Time
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher. With a positive BufferSize events
// are delivered on a background goroutine until Shutdown.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg, now: time.Now}
	if cfg.Enabled && cfg.BufferSize > 0 {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep
}

// Subscribe registers a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Publish delivers an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = ep.now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	if ep.closed {
		ep.mu.RUnlock()
		return fmt.Errorf("event publisher stopped")
	}
	if ep.buffer != nil {
		defer ep.mu.RUnlock()
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event %s dropped", event.Type)
		}
	}
	ep.mu.RUnlock()

	ep.deliverEvent(event)
	return nil
}

// Record publishes a workflow event. The invocation id is taken from ctx.
func (ep *EventPublisher) Record(ctx context.Context, eventType, message string, data map[string]any) {
	err := ep.Publish(Event{
		Type:         eventType,
		Source:       "engine",
		InvocationID: InvocationIDFromContext(ctx),
		Message:      message,
		Data:         data,
	})
	if err != nil {
		FromContext(ctx).WithError(err).Warn("failed to publish event")
	}
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter == nil || entry.filter(event) {
			entry.subscriber(event)
		}
	}
}

// Shutdown stops accepting events and drains the buffer.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.buffer != nil {
		close(ep.buffer)
	}
	ep.mu.Unlock()

	if ep.buffer == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType returns a filter that matches the given event types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}
