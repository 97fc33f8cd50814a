// Package handlers implements the update service's HTTP handlers that need
// direct access to http.Flusher (the SSE stream), distinct from the
// mux-routed handlers in internal/api.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/update-agent/internal/progress"
)

// SSEHandler serves GET /api/update-stream/<job_id>: status, log, and
// complete events for one job_id, as published by the engine through the
// progress bus (spec.md §6, §4.7).
type SSEHandler struct {
	bus    *progress.Bus
	logger *slog.Logger
}

// NewSSEHandler creates an SSE handler bound to bus.
func NewSSEHandler(bus *progress.Bus, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{bus: bus, logger: logger.With("component", "sse_handler")}
}

// ServeHTTP streams events for the job_id path variable until the client
// disconnects or a complete event for that job is sent.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if jobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	sub := NewSSESubscriber(r.Context(), h.logger)
	h.bus.Subscribe(jobID, sub)
	defer h.bus.Unsubscribe(jobID, sub)

	h.logger.Info("sse client connected", "job_id", jobID, "subscriber_id", sub.ID())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("sse client disconnected", "job_id", jobID, "subscriber_id", sub.ID())
			return

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, ok := <-sub.EventChan():
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				h.logger.Warn("sse write failed", "job_id", jobID, "subscriber_id", sub.ID(), "error", err)
				return
			}
			flusher.Flush()
			if event.Type == progress.EventComplete {
				h.bus.PurgeJob(jobID)
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
