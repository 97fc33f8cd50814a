// Package progress is the engine's progress bus: a single-writer,
// multi-reader in-process broadcast of job status transitions and log
// lines, scoped per job_id, consumed by the HTTP/SSE boundary (spec.md
// §4.7).
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/update-agent/internal/job"
)

// EventType enumerates the three event shapes the bus emits.
type EventType string

const (
	EventStatus   EventType = "status"
	EventLog      EventType = "log"
	EventComplete EventType = "complete"
)

// Event is one item on the bus: either a job.View snapshot (status,
// complete) or a single log line (log).
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	Snapshot *job.View `json:"snapshot,omitempty"`
	Log      string    `json:"log,omitempty"`
}

func newEvent(eventType EventType, jobID string) Event {
	return Event{
		Type:      eventType,
		ID:        uuid.New().String(),
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}
