// Package actions dispatches typed ActionSpec variants to pluggable
// handlers that mutate the host (spec.md §4.2).
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/manifest"
)

// Outcome is what a handler reports back to the orchestrator beyond a plain
// error: currently just the id of any backup it registered, so the engine
// can append it to the job's backups_created list.
type Outcome struct {
	BackupID string
}

// Context exposes everything a handler may need: the staged package root,
// the log sink ("progress emitter"), the backup manager, and the host
// adapters. Cancellation rides the ctx.Context passed to Handler, per
// spec.md §5 ("each blocking call accepts the job's cancellation signal").
type Context struct {
	StagedRoot string
	Backups    *backup.Manager
	Containers hostadapters.ContainerRuntime
	Services   hostadapters.ServiceSupervisor
	HTTP       hostadapters.HTTPProbe
	Logf       func(format string, args ...any)

	// JobID seeds the default backup name (backup_<job_id>_<seq>).
	JobID string
	// NextBackupSeq returns a monotonically increasing sequence number,
	// used only when a backup action omits `name`.
	NextBackupSeq func() int
}

func (c *Context) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// heartbeatInterval is how often a long-running handler logs a liveness
// line (spec.md §4.2: "longer than 2s without emitting should heartbeat").
const heartbeatInterval = 2 * time.Second

// withHeartbeat runs work to completion while logging a heartbeat line
// every heartbeatInterval until it returns.
func withHeartbeat(rc *Context, label string, work func() error) error {
	done := make(chan error, 1)
	go func() { done <- work() }()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			rc.logf("%s: still running...", label)
		}
	}
}

// Handler executes one ActionSpec variant.
type Handler func(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error)

// Registry maps an action's "type" discriminant to its Handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry pre-populated with the built-in handlers
// required by spec.md §4.2.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	r.Register("command", handleCommand)
	r.Register("backup", handleBackup)
	r.Register("restore_backup", handleRestoreBackup)
	r.Register("docker_compose_up", handleDockerComposeUp)
	r.Register("docker_compose_down", handleDockerComposeDown)
	r.Register("docker_load", handleDockerLoad)
	r.Register("docker_prune", handleDockerPrune)
	r.Register("file_copy", handleFileCopy)
	r.Register("file_sync", handleFileSync)
	r.Register("file_merge", handleFileMerge)
	return r
}

// Register adds or overrides the handler for an action type.
func (r *Registry) Register(actionType string, h Handler) {
	r.handlers[actionType] = h
}

// Run dispatches spec to its registered handler.
func (r *Registry) Run(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	h, ok := r.handlers[spec.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("actions: no handler registered for type %q", spec.Type)
	}
	return h(ctx, spec, rc)
}
