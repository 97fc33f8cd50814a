// Package handlers implements the update service's HTTP handlers that need
// direct access to http.Flusher (the SSE stream), distinct from the
// mux-routed handlers in internal/api.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/update-agent/internal/progress"
)

// errSubscriberClosed is returned by Send once Close has run.
var errSubscriberClosed = errors.New("sse subscriber closed")

// errSlowSubscriber is returned by Send when the buffered channel is full;
// the bus treats any Send error as grounds to drop the subscriber.
var errSlowSubscriber = errors.New("sse subscriber buffer full")

// SSESubscriber implements progress.Subscriber for one SSE connection.
type SSESubscriber struct {
	id        string
	ctx       context.Context
	eventChan chan progress.Event
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewSSESubscriber creates a subscriber bound to an HTTP request's context.
func NewSSESubscriber(ctx context.Context, logger *slog.Logger) *SSESubscriber {
	id := uuid.New().String()
	return &SSESubscriber{
		id:        id,
		ctx:       ctx,
		eventChan: make(chan progress.Event, 16),
		logger:    logger.With("component", "sse_subscriber", "subscriber_id", id),
	}
}

// ID returns the subscriber ID.
func (s *SSESubscriber) ID() string { return s.id }

// Context returns the subscriber's bound context (the request's).
func (s *SSESubscriber) Context() context.Context { return s.ctx }

// Send enqueues event for the handler's read loop. A full buffer (a slow
// client) is reported as an error so the bus unsubscribes and drops it.
func (s *SSESubscriber) Send(event progress.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSubscriberClosed
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("sse subscriber buffer full, dropping event", "event_type", event.Type)
		return errSlowSubscriber
	}
}

// EventChan returns the channel the handler's read loop drains.
func (s *SSESubscriber) EventChan() <-chan progress.Event { return s.eventChan }

// Close marks the subscriber closed and closes its channel.
func (s *SSESubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.eventChan)
	return nil
}
