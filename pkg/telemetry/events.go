package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rosiehq/rosie/pkg/engine"
)

// Event is a notable lifecycle occurrence.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Kind and Resource identify the resource, if applicable.
	Kind     engine.Kind `json:"kind,omitempty"`
	Resource string      `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeDeletionComing  = "deletion_coming"
	EventTypeQuarantine      = "quarantine"
	EventTypeResourceRetired = "resource_retired"
	EventTypeRetireFailed    = "retire_failed"
	EventTypeRunCompleted    = "run_completed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers. A nil or disabled
// publisher drops every event.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopOnce    sync.Once
	stop        chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg, stop: make(chan struct{})}
	if !cfg.Enabled {
		return ep
	}

	if cfg.EnableAsync {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1000
		}
		ep.buffer = make(chan Event, size)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.stop:
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishDecision publishes the alerting statuses of an evaluation record.
// Other statuses are not events.
func (ep *EventPublisher) PublishDecision(rec engine.DecisionRecord) error {
	var eventType string
	switch rec.Status {
	case engine.StatusDeletionComing:
		eventType = EventTypeDeletionComing
	case engine.StatusQuarantine:
		eventType = EventTypeQuarantine
	default:
		return nil
	}
	return ep.Publish(Event{
		Type:     eventType,
		RunID:    rec.RunID,
		Kind:     rec.Kind,
		Resource: rec.ResourceName,
		Message:  rec.Reason,
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"class_label": rec.ClassLabel,
			"status_date": rec.StatusDate.Format(engine.DateLayout),
		},
	})
}

// PublishRetired publishes a successful retirement.
func (ep *EventPublisher) PublishRetired(runID string, kind engine.Kind, name, location string) error {
	return ep.Publish(Event{
		Type:     EventTypeResourceRetired,
		RunID:    runID,
		Kind:     kind,
		Resource: name,
		Message:  fmt.Sprintf("Resource %s retired, backup at %s", name, location),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"backup_location": location},
	})
}

// PublishRetireFailed publishes a failed retirement.
func (ep *EventPublisher) PublishRetireFailed(runID string, kind engine.Kind, name string, err error) error {
	return ep.Publish(Event{
		Type:     EventTypeRetireFailed,
		RunID:    runID,
		Kind:     kind,
		Resource: name,
		Message:  fmt.Sprintf("Resource %s could not be retired: %v", name, err),
		Level:    EventLevelError,
	})
}

// PublishRunCompleted publishes a run summary.
func (ep *EventPublisher) PublishRunCompleted(summary engine.RunSummary) error {
	level := EventLevelInfo
	if summary.Failed() {
		level = EventLevelError
	} else if summary.Errors() > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   summary.RunID,
		Message: fmt.Sprintf("Run %s (%s) completed with %d error(s)", summary.RunID, summary.Phase, summary.Errors()),
		Level:   level,
		Data: map[string]interface{}{
			"phase":       string(summary.Phase),
			"status_date": summary.StatusDate.Format(engine.DateLayout),
			"duration":    summary.FinishedAt.Sub(summary.StartedAt).Seconds(),
			"errors":      summary.Errors(),
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.stop:
			// Drain what is already buffered
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.stopOnce.Do(func() { close(ep.stop) })

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// LogSubscriber writes every event to logger.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(event Event) {
		level := zerolog.InfoLevel
		switch event.Level {
		case EventLevelWarning:
			level = zerolog.WarnLevel
		case EventLevelError:
			level = zerolog.ErrorLevel
		}
		e := logger.zlog.WithLevel(level).Str("event", event.Type).Str("event_id", event.ID)
		if event.RunID != "" {
			e = e.Str("run_id", event.RunID)
		}
		if event.Kind != "" {
			e = e.Str("kind", string(event.Kind)).Str("resource", event.Resource)
		}
		e.Msg(event.Message)
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}
