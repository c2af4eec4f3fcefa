package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of execution event.
type EventType string

const (
	// EventExecutionStarted is emitted when an execution begins running.
	EventExecutionStarted EventType = "execution_started"

	// EventExecutionCompleted is emitted when an execution finishes successfully.
	EventExecutionCompleted EventType = "execution_completed"

	// EventExecutionFailed is emitted when an execution fails.
	EventExecutionFailed EventType = "execution_failed"

	// EventExecutionCancelled is emitted when an execution is cancelled.
	EventExecutionCancelled EventType = "execution_cancelled"

	// EventNodeStarted is emitted when a node begins executing.
	EventNodeStarted EventType = "node_started"

	// EventNodeCompleted is emitted when a node finishes successfully.
	EventNodeCompleted EventType = "node_completed"

	// EventNodeFailed is emitted when a node fails after retries.
	EventNodeFailed EventType = "node_failed"

	// EventNodeSkipped is emitted when a node is skipped (disabled or
	// false condition).
	EventNodeSkipped EventType = "node_skipped"
)

// Event represents an execution event. Events are observational:
// listeners cannot influence scheduling, and listener failures are logged
// by the engine, never propagated into the execution.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
}

// EventListener is a function that handles execution events.
type EventListener func(ctx context.Context, event *Event) error

// EventEmitter manages event listeners and dispatches events.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	async     bool // If true, listeners are called asynchronously
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(async bool) *EventEmitter {
	return &EventEmitter{
		listeners: make(map[EventType][]EventListener),
		async:     async,
	}
}

// On registers an event listener for the specified event type.
func (e *EventEmitter) On(eventType EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// Off removes an event listener.
// Note: This removes ALL listeners for the event type.
func (e *EventEmitter) Off(eventType EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.listeners, eventType)
}

// Emit dispatches an event to all registered listeners. The returned
// error is the last listener failure; every listener runs regardless.
func (e *EventEmitter) Emit(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	// Set timestamp if not already set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	listeners := make([]EventListener, len(e.listeners[event.Type]))
	copy(listeners, e.listeners[event.Type])
	e.mu.RUnlock()

	if e.async {
		return e.emitAsync(ctx, event, listeners)
	}
	return e.emitSync(ctx, event, listeners)
}

// emitSync calls listeners synchronously.
func (e *EventEmitter) emitSync(ctx context.Context, event *Event, listeners []EventListener) error {
	var lastError error

	for _, listener := range listeners {
		if err := listener(ctx, event); err != nil {
			// Continue calling other listeners even if one fails
			lastError = err
		}
	}

	return lastError
}

// emitAsync calls listeners asynchronously and waits for completion.
func (e *EventEmitter) emitAsync(ctx context.Context, event *Event, listeners []EventListener) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(listeners))

	for _, listener := range listeners {
		wg.Add(1)
		go func(l EventListener) {
			defer wg.Done()
			if err := l(ctx, event); err != nil {
				errChan <- err
			}
		}(listener)
	}

	wg.Wait()
	close(errChan)

	var lastError error
	for err := range errChan {
		lastError = err
	}

	return lastError
}

// EmitNodeStarted emits a node start event.
func (e *EventEmitter) EmitNodeStarted(ctx context.Context, executionID, nodeID, stepType string) error {
	return e.Emit(ctx, &Event{
		Type:        EventNodeStarted,
		ExecutionID: executionID,
		Data: map[string]any{
			"node_id":   nodeID,
			"step_type": stepType,
		},
	})
}

// EmitNodeCompleted emits a node completion event.
func (e *EventEmitter) EmitNodeCompleted(ctx context.Context, executionID string, snap *NodeSnapshot) error {
	return e.Emit(ctx, &Event{
		Type:        EventNodeCompleted,
		ExecutionID: executionID,
		Data: map[string]any{
			"node_id":     snap.NodeID,
			"step_type":   snap.StepType,
			"duration_ms": snap.DurationMs,
			"items":       snap.Metrics.ItemsProcessed,
		},
	})
}

// EmitNodeFailed emits a node failure event.
func (e *EventEmitter) EmitNodeFailed(ctx context.Context, executionID string, snap *NodeSnapshot) error {
	return e.Emit(ctx, &Event{
		Type:        EventNodeFailed,
		ExecutionID: executionID,
		Data: map[string]any{
			"node_id":   snap.NodeID,
			"step_type": snap.StepType,
			"attempts":  snap.Attempts,
			"error":     snap.Error,
		},
	})
}

// EmitNodeSkipped emits a node skip event.
func (e *EventEmitter) EmitNodeSkipped(ctx context.Context, executionID, nodeID, reason string) error {
	return e.Emit(ctx, &Event{
		Type:        EventNodeSkipped,
		ExecutionID: executionID,
		Data: map[string]any{
			"node_id": nodeID,
			"reason":  reason,
		},
	})
}

// EmitExecutionStatus emits the lifecycle event matching a terminal or
// running status flip.
func (e *EventEmitter) EmitExecutionStatus(ctx context.Context, rec *ExecutionRecord) error {
	var eventType EventType
	switch rec.Status {
	case StatusRunning:
		eventType = EventExecutionStarted
	case StatusCompleted:
		eventType = EventExecutionCompleted
	case StatusFailed:
		eventType = EventExecutionFailed
	case StatusCancelled:
		eventType = EventExecutionCancelled
	default:
		return nil
	}

	data := map[string]any{
		"workflow": rec.WorkflowName,
		"status":   string(rec.Status),
	}
	if rec.Error != "" {
		data["error"] = rec.Error
	}
	if rec.Cancellation != nil {
		data["reason"] = rec.Cancellation.Reason
		data["actor"] = rec.Cancellation.Actor
	}

	return e.Emit(ctx, &Event{
		Type:        eventType,
		ExecutionID: rec.ID,
		Data:        data,
	})
}

// ListenerCount returns the number of listeners for a given event type.
func (e *EventEmitter) ListenerCount(eventType EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.listeners[eventType])
}

// RemoveAllListeners removes all listeners for all event types.
func (e *EventEmitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = make(map[EventType][]EventListener)
}
