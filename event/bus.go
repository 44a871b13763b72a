// Package event provides the in-process event bus for export lifecycle
// and progress notifications.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

// Type defines event types emitted by the export engine.
type Type string

const (
	TypeServiceInitialized Type = "service.initialized"
	TypeServiceShutdown    Type = "service.shutdown"
	TypeExportStarted      Type = "export.started"
	TypeExportProgress     Type = "export.progress"
	TypeExportCompleted    Type = "export.completed"
	TypeExportFailed       Type = "export.failed"
	TypeExportCancelled    Type = "export.cancelled"
)

// terminal reports whether the event ends a job's stream.
func (t Type) terminal() bool {
	return t == TypeExportCompleted || t == TypeExportFailed || t == TypeExportCancelled
}

// Event represents one notification on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	JobID     string         `json:"job_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler defines the event handler function type.
type Handler func(ctx context.Context, event *Event)

// Bus fans events out to type-keyed handlers and per-job subscriber
// channels. A single dispatcher goroutine drains the buffer, so a job's
// events are observed in publish order and its terminal event is last.
type Bus struct {
	handlers map[Type][]Handler
	jobSubs  map[string][]chan *Event
	buffer   chan *Event
	mu       sync.RWMutex
	logger   *logger.Logger

	// pubMu serializes Publish against Stop so the buffer is never
	// closed while a send is in flight.
	pubMu    sync.RWMutex
	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(bufferSize int, log *logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		handlers: make(map[Type][]Handler),
		jobSubs:  make(map[string][]chan *Event),
		buffer:   make(chan *Event, bufferSize),
		logger:   log,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeJob returns a channel receiving every event for the given job
// in order. The channel is closed after the job's terminal event.
func (b *Bus) SubscribeJob(jobID string) <-chan *Event {
	ch := make(chan *Event, 64)

	b.mu.Lock()
	b.jobSubs[jobID] = append(b.jobSubs[jobID], ch)
	b.mu.Unlock()

	return ch
}

// Publish places an event on the bus buffer.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	event.Timestamp = time.Now()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	// The read lock is held across the send: Stop cannot close the
	// buffer until every in-flight Publish has finished. The dispatcher
	// drains the buffer without touching pubMu, so the send completes.
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()

	select {
	case <-b.stopped:
		return ErrBusClosed
	default:
	}

	select {
	case b.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the dispatcher. Dispatch is single-threaded on purpose:
// per-job ordering is part of the bus contract.
func (b *Bus) Start(ctx context.Context) {
	go b.dispatchLoop(ctx)
}

// Stop stops accepting events and drains what is already buffered.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.pubMu.Lock()
		close(b.stopped)
		b.pubMu.Unlock()
		close(b.buffer)
	})
	<-b.done
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.buffer:
			if !ok {
				return
			}
			b.dispatch(ctx, event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event *Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	var subs []chan *Event
	if event.JobID != "" {
		subs = b.jobSubs[event.JobID]
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than stall every other job.
			if b.logger != nil {
				b.logger.Warn(ctx, "Dropping event for slow subscriber",
					"job_id", event.JobID, "type", event.Type)
			}
		}
	}

	if event.JobID != "" && event.Type.terminal() {
		b.closeJobSubs(event.JobID)
	}
}

func (b *Bus) closeJobSubs(jobID string) {
	b.mu.Lock()
	subs := b.jobSubs[jobID]
	delete(b.jobSubs, jobID)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
