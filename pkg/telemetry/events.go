package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a lifecycle event in the provisor system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// EntityPath is the associated entity path, if applicable.
	EntityPath string `json:"entity_path,omitempty"`

	// EntityType is the associated entity type, if applicable.
	EntityType string `json:"entity_type,omitempty"`

	// Action is the lifecycle action being performed, if applicable.
	Action string `json:"action,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeInvocationStarted   = "invocation.started"
	EventTypeInvocationCompleted = "invocation.completed"
	EventTypeInvocationFailed    = "invocation.failed"
	EventTypeEntityAdopted       = "entity.adopted"
	EventTypeEntityReady         = "entity.ready"
	EventTypeReadinessTimeout    = "readiness.timeout"
	EventTypeStateChanged        = "entity.state_changed"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeError               = "error"
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

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishInvocationStarted publishes an invocation started event.
func (ep *EventPublisher) PublishInvocationStarted(path, entityType, action string) error {
	return ep.Publish(Event{
		Type:       EventTypeInvocationStarted,
		Source:     "entity",
		EntityPath: path,
		EntityType: entityType,
		Action:     action,
		Message:    fmt.Sprintf("Invocation of %s started on %s", action, path),
		Level:      EventLevelInfo,
	})
}

// PublishInvocationCompleted publishes an invocation completed event.
func (ep *EventPublisher) PublishInvocationCompleted(path, entityType, action string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeInvocationCompleted,
		Source:     "entity",
		EntityPath: path,
		EntityType: entityType,
		Action:     action,
		Message:    fmt.Sprintf("Invocation of %s completed on %s", action, path),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishInvocationFailed publishes an invocation failed event.
func (ep *EventPublisher) PublishInvocationFailed(path, entityType, action, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeInvocationFailed,
		Source:     "entity",
		EntityPath: path,
		EntityType: entityType,
		Action:     action,
		Message:    fmt.Sprintf("Invocation of %s failed on %s: %s", action, path, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishEntityAdopted publishes an adoption event for a create that found
// the resource already provisioned.
func (ep *EventPublisher) PublishEntityAdopted(path, entityType, resourceID string) error {
	return ep.Publish(Event{
		Type:       EventTypeEntityAdopted,
		Source:     "entity",
		EntityPath: path,
		EntityType: entityType,
		Message:    fmt.Sprintf("Entity %s adopted existing resource %s", path, resourceID),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"resource_id": resourceID,
		},
	})
}

// PublishEntityReady publishes a readiness event.
func (ep *EventPublisher) PublishEntityReady(path, entityType string, attempts int) error {
	return ep.Publish(Event{
		Type:       EventTypeEntityReady,
		Source:     "readiness",
		EntityPath: path,
		EntityType: entityType,
		Message:    fmt.Sprintf("Entity %s became ready after %d probes", path, attempts),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"attempts": attempts,
		},
	})
}

// PublishReadinessTimeout publishes a readiness timeout event.
func (ep *EventPublisher) PublishReadinessTimeout(path, entityType string, attempts int) error {
	return ep.Publish(Event{
		Type:       EventTypeReadinessTimeout,
		Source:     "readiness",
		EntityPath: path,
		EntityType: entityType,
		Message:    fmt.Sprintf("Entity %s not ready after %d probes", path, attempts),
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"attempts": attempts,
		},
	})
}

// PublishStateChanged publishes an entity state change event.
func (ep *EventPublisher) PublishStateChanged(path string, before, after int) error {
	return ep.Publish(Event{
		Type:       EventTypeStateChanged,
		Source:     "entity",
		EntityPath: path,
		Message:    fmt.Sprintf("Entity %s state changed (%d -> %d keys)", path, before, after),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"keys_before": before,
			"keys_after":  after,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(path, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy",
		EntityPath: path,
		Message:    fmt.Sprintf("Policy violation on %s: %s - %s", path, policyName, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
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

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

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

// Common event filters.

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

// FilterByEntityPath creates a filter that only allows events for a specific entity.
func FilterByEntityPath(path string) EventFilter {
	return func(event Event) bool {
		return event.EntityPath == path
	}
}

// FilterByEntityType creates a filter that only allows events for a specific entity type.
func FilterByEntityType(entityType string) EventFilter {
	return func(event Event) bool {
		return event.EntityType == entityType
	}
}
