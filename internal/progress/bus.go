package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuemby/update-agent/internal/job"
)

// Bus is the in-process progress bus: the engine (the single writer) calls
// PublishStatus/PublishLog/PublishComplete; any number of subscribers
// (scoped to one job_id each) read from it concurrently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]bool // job_id -> subscriber set

	sequence int64
	logger   *slog.Logger
	metrics  *Metrics
}

// NewBus constructs an empty Bus. metrics may be nil.
func NewBus(logger *slog.Logger, metrics *Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[Subscriber]bool),
		logger:      logger.With("component", "progress_bus"),
		metrics:     metrics,
	}
}

// Subscribe registers sub to receive events for jobID.
func (b *Bus) Subscribe(jobID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[jobID]
	if !ok {
		set = make(map[Subscriber]bool)
		b.subscribers[jobID] = set
	}
	set[sub] = true

	if b.metrics != nil {
		b.metrics.SubscribersActive.Inc()
	}
	b.logger.Info("subscriber added", "job_id", jobID, "subscriber_id", sub.ID())
}

// Unsubscribe removes sub from jobID's subscriber set and closes it.
func (b *Bus) Unsubscribe(jobID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(jobID, sub)
}

func (b *Bus) unsubscribeLocked(jobID string, sub Subscriber) {
	set, ok := b.subscribers[jobID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subscribers, jobID)
	}
	sub.Close()
	if b.metrics != nil {
		b.metrics.SubscribersActive.Dec()
	}
}

// ActiveSubscribers reports how many subscribers are currently attached to
// jobID.
func (b *Bus) ActiveSubscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobID])
}

// PurgeJob drops bookkeeping for a job's subscriber set once nobody cares
// anymore (typically called once the final subscriber disconnects after a
// complete event). A stale subscriber left behind is harmless (spec.md
// §4.7) — this is just memory hygiene, not correctness.
func (b *Bus) PurgeJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers[jobID] {
		sub.Close()
	}
	delete(b.subscribers, jobID)
}

func (b *Bus) nextSequence() int64 {
	return atomic.AddInt64(&b.sequence, 1)
}

func (b *Bus) broadcast(event Event) {
	event.Sequence = b.nextSequence()

	b.mu.RLock()
	set := b.subscribers[event.JobID]
	subs := make([]Subscriber, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()
	}

	for _, sub := range subs {
		select {
		case <-sub.Context().Done():
			b.Unsubscribe(event.JobID, sub)
			continue
		default:
		}

		if err := sub.Send(event); err != nil {
			b.logger.Warn("dropping subscriber: send failed",
				"job_id", event.JobID, "subscriber_id", sub.ID(), "error", err)
			if b.metrics != nil {
				b.metrics.DroppedTotal.WithLabelValues(string(event.Type)).Inc()
			}
			b.Unsubscribe(event.JobID, sub)
		}
	}
}

// PublishStatus broadcasts an intermediate job snapshot.
func (b *Bus) PublishStatus(jobID string, snap job.View) {
	e := newEvent(EventStatus, jobID)
	e.Snapshot = &snap
	b.broadcast(e)
}

// PublishLog broadcasts a single log line.
func (b *Bus) PublishLog(jobID string, line string) {
	e := newEvent(EventLog, jobID)
	e.Log = line
	b.broadcast(e)
}

// PublishComplete broadcasts the job's terminal snapshot.
func (b *Bus) PublishComplete(jobID string, snap job.View) {
	e := newEvent(EventComplete, jobID)
	e.Snapshot = &snap
	b.broadcast(e)
}
