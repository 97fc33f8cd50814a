// Package job defines the engine's central entity: the Job record tracked
// through pre-check, action, post-check, rollback, and cleanup phases.
package job

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Status is the job's lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRollingBack  Status = "rolling_back"
	StatusRolledBack   Status = "rolled_back"
)

// IsTerminal reports whether a job in this status will never be mutated again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// Phase is the current point in the phase machine.
type Phase string

const (
	PhasePreCheck  Phase = "pre_check"
	PhaseAction    Phase = "action"
	PhasePostCheck Phase = "post_check"
	PhaseRollback  Phase = "rollback"
	PhaseDone      Phase = "done"
)

// ErrorKind is the stable failure taxonomy surfaced to operators (spec §7).
type ErrorKind string

const (
	ErrKindIntegrity       ErrorKind = "integrity"
	ErrKindEngineTooOld    ErrorKind = "engine_too_old"
	ErrKindManifestParse   ErrorKind = "manifest_parse"
	ErrKindPrecheckFailed  ErrorKind = "precheck_failed"
	ErrKindActionFailed    ErrorKind = "action_failed"
	ErrKindPostcheckFailed ErrorKind = "postcheck_failed"
	ErrKindRollbackFailed  ErrorKind = "rollback_failed"
	ErrKindInterrupted     ErrorKind = "interrupted"
	ErrKindBusy            ErrorKind = "busy"
)

// Error is the terminal failure detail attached to a job.
type Error struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	ActionIndex *int      `json:"action_index,omitempty"`
}

// Progress tracks completion within the action list.
type Progress struct {
	TotalActions        int    `json:"total_actions"`
	CompletedActions    int    `json:"completed_actions"`
	CurrentActionIndex  *int   `json:"current_action_index,omitempty"`
	CurrentActionName   string `json:"current_action_name,omitempty"`
}

// Percent reports completion 0-100. Per spec §4.1: zero total_actions
// reports 100% once post_check has passed, else 0%.
func (p Progress) Percent(postCheckPassed bool) int {
	if p.TotalActions == 0 {
		if postCheckPassed {
			return 100
		}
		return 0
	}
	return (p.CompletedActions * 100) / p.TotalActions
}

const defaultLogCapacity = 500

// View is an immutable, JSON-serializable snapshot of a Job: the shape
// persisted by the state store and broadcast on the progress bus.
type View struct {
	JobID       string     `json:"job_id"`
	Status      Status     `json:"status"`
	Description string     `json:"description"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	Progress     Progress `json:"progress"`
	CurrentPhase Phase    `json:"current_phase"`

	BackupsCreated []string `json:"backups_created"`
	Logs           []string `json:"logs"`

	Error *Error `json:"error,omitempty"`
}

// Job is the engine's central, mutable-until-terminal record of one update run.
type Job struct {
	mu sync.RWMutex

	jobID       string
	status      Status
	description string
	startedAt   time.Time
	endedAt     *time.Time

	progress     Progress
	currentPhase Phase

	backupsCreated []string

	// logRing backs the bounded log history with an LRU cache used
	// Add-only: since nothing ever calls Get, eviction always removes the
	// oldest-inserted entry first, giving FIFO ring-buffer behavior off the
	// shelf instead of hand-rolled slice trimming.
	logRing *lru.Cache[int64, string]
	logSeq  int64
	err     *Error
}

// New creates a pending job with a bounded log ring of the given capacity
// (0 means defaultLogCapacity).
func New(jobID, description string, totalActions int, logCapacity int) *Job {
	if logCapacity <= 0 {
		logCapacity = defaultLogCapacity
	}
	ring, _ := lru.New[int64, string](logCapacity)
	return &Job{
		jobID:          jobID,
		status:         StatusPending,
		description:    description,
		startedAt:      time.Now(),
		progress:       Progress{TotalActions: totalActions},
		currentPhase:   PhasePreCheck,
		backupsCreated: []string{},
		logRing:        ring,
	}
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.jobID }

// StatusNow returns the job's current status.
func (j *Job) StatusNow() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// AppendLog adds a line to the bounded ring buffer, dropping the oldest
// entry once capacity is reached.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logSeq++
	j.logRing.Add(j.logSeq, line)
}

// Logs returns a snapshot copy of the current log ring, oldest first.
func (j *Job) Logs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return orderedLogs(j.logRing)
}

// orderedLogs reads every entry currently held by ring and returns them
// ordered by insertion sequence (the ring's Keys() order is unspecified).
func orderedLogs(ring *lru.Cache[int64, string]) []string {
	keys := ring.Keys()
	sort.Slice(keys, func(i, k int) bool { return keys[i] < keys[k] })
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := ring.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// SetStatus transitions the job's status. Callers must not call this once
// Status.IsTerminal() is already true for the job (engine enforces this).
func (j *Job) SetStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	if s.IsTerminal() {
		now := time.Now()
		j.endedAt = &now
	}
}

// SetPhase updates the current phase.
func (j *Job) SetPhase(p Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentPhase = p
}

// SetError records the terminal error for the job.
func (j *Job) SetError(e *Error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = e
}

// MarkActionStarted records the index/name of the action about to run.
func (j *Job) MarkActionStarted(index int, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	idx := index
	j.progress.CurrentActionIndex = &idx
	j.progress.CurrentActionName = name
}

// MarkActionCompleted increments CompletedActions; never exceeds TotalActions.
func (j *Job) MarkActionCompleted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress.CompletedActions < j.progress.TotalActions {
		j.progress.CompletedActions++
	}
}

// AddBackup records a backup id created by this job, for later GC/rollback.
func (j *Job) AddBackup(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.backupsCreated = append(j.backupsCreated, id)
}

// Snapshot returns an immutable copy of the job state suitable for
// serialization (state store) or broadcast (progress bus).
func (j *Job) Snapshot() View {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return View{
		JobID:          j.jobID,
		Status:         j.status,
		Description:    j.description,
		StartedAt:      j.startedAt,
		EndedAt:        j.endedAt,
		Progress:       j.progress,
		CurrentPhase:   j.currentPhase,
		BackupsCreated: append([]string{}, j.backupsCreated...),
		Logs:           orderedLogs(j.logRing),
		Error:          j.err,
	}
}

// FromView rehydrates a mutable Job from a persisted/broadcast View
// (used by the state store on load and on startup recovery).
func FromView(v View, logCapacity int) *Job {
	if logCapacity <= 0 {
		logCapacity = defaultLogCapacity
	}
	ring, _ := lru.New[int64, string](logCapacity)
	j := &Job{
		jobID:          v.JobID,
		status:         v.Status,
		description:    v.Description,
		startedAt:      v.StartedAt,
		endedAt:        v.EndedAt,
		progress:       v.Progress,
		currentPhase:   v.CurrentPhase,
		backupsCreated: append([]string{}, v.BackupsCreated...),
		logRing:        ring,
		err:            v.Error,
	}
	for _, line := range v.Logs {
		j.logSeq++
		j.logRing.Add(j.logSeq, line)
	}
	return j
}
