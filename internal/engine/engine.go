// Package engine implements the orchestrator: the deterministic phase
// machine that drives a job through pre_check, action, post_check, rollback
// and cleanup, checkpointing after every state-changing step and emitting
// progress on the bus (spec.md §4.1).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/update-agent/internal/actions"
	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/checks"
	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/job"
	"github.com/cuemby/update-agent/internal/manifest"
	"github.com/cuemby/update-agent/internal/progress"
	"github.com/cuemby/update-agent/internal/statestore"
)

// Config wires an Engine to its collaborators. All fields are required
// except Logger and Bus.
type Config struct {
	Checks     *checks.Registry
	Actions    *actions.Registry
	Backups    *backup.Manager
	Store      *statestore.Store
	Bus        *progress.Bus
	Containers hostadapters.ContainerRuntime
	Services   hostadapters.ServiceSupervisor
	HTTP       hostadapters.HTTPProbe
	Logger     *slog.Logger
}

// Engine runs manifests against a staged tree, one job at a time (the
// caller is responsible for the process-wide "one job" lock — spec.md §5).
type Engine struct {
	checks     *checks.Registry
	actions    *actions.Registry
	backups    *backup.Manager
	store      *statestore.Store
	bus        *progress.Bus
	containers hostadapters.ContainerRuntime
	services   hostadapters.ServiceSupervisor
	http       hostadapters.HTTPProbe
	logger     *slog.Logger
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		checks:     cfg.Checks,
		actions:    cfg.Actions,
		backups:    cfg.Backups,
		store:      cfg.Store,
		bus:        cfg.Bus,
		containers: cfg.Containers,
		services:   cfg.Services,
		http:       cfg.HTTP,
		logger:     logger.With("component", "engine"),
	}
}

// JobResult is everything the caller (bootstrap, HTTP handler) needs once
// Run returns: the job's terminal snapshot.
type JobResult struct {
	View job.View
}

// Run drives j through the full phase machine against manifest m, whose
// package-relative paths resolve against stagedRoot. Run always returns a
// JobResult with j's terminal snapshot; the returned error is non-nil only
// for programmer errors (a nil Store, for instance), never for an ordinary
// job failure — job failure is reported via JobResult.View.Status/Error.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, stagedRoot string, j *job.Job) (*JobResult, error) {
	if e.store == nil {
		return nil, fmt.Errorf("engine: no state store configured")
	}

	seq := 0
	nextSeq := func() int { seq++; return seq }

	actionRC := &actions.Context{
		StagedRoot:    stagedRoot,
		Backups:       e.backups,
		Containers:    e.containers,
		Services:      e.services,
		HTTP:          e.http,
		JobID:         j.ID(),
		NextBackupSeq: nextSeq,
		Logf:          e.logf(j),
	}
	checkRC := &checks.Context{
		StagedRoot: stagedRoot,
		Containers: e.containers,
		Services:   e.services,
		HTTP:       e.http,
		Logf:       e.logf(j),
	}

	j.SetStatus(job.StatusRunning)
	j.SetPhase(job.PhasePreCheck)
	e.checkpoint(j)

	if ok, diag := e.runChecks(ctx, "pre_check", m.PreChecks, checkRC, j); !ok {
		j.SetError(&job.Error{Kind: job.ErrKindPrecheckFailed, Message: diag})
		j.SetStatus(job.StatusFailed)
		e.finish(j)
		return &JobResult{View: j.Snapshot()}, nil
	}

	j.SetPhase(job.PhaseAction)
	if failedIndex, actionErr := e.runActions(ctx, m.Actions, actionRC, j); actionErr != nil {
		return e.handleFailure(ctx, m, actionRC, j, job.ErrKindActionFailed, actionErr.Error(), &failedIndex)
	}

	j.SetPhase(job.PhasePostCheck)
	if ok, diag := e.runChecks(ctx, "post_check", m.PostChecks, checkRC, j); !ok {
		return e.handleFailure(ctx, m, actionRC, j, job.ErrKindPostcheckFailed, diag, nil)
	}

	j.SetPhase(job.PhaseDone)
	j.SetStatus(job.StatusCompleted)
	e.checkpoint(j)

	e.runCleanup(m.Cleanup, stagedRoot, actionRC, j)
	e.finish(j)
	return &JobResult{View: j.Snapshot()}, nil
}

// handleFailure records the triggering error, decides whether to roll back
// per the manifest's rollback policy, and returns the terminal JobResult.
func (e *Engine) handleFailure(ctx context.Context, m *manifest.Manifest, rc *actions.Context, j *job.Job, kind job.ErrorKind, message string, actionIndex *int) (*JobResult, error) {
	j.SetError(&job.Error{Kind: kind, Message: message, ActionIndex: actionIndex})

	if m.Rollback.Enabled && m.Rollback.AutoOnFailure {
		j.SetStatus(job.StatusRollingBack)
		j.SetPhase(job.PhaseRollback)
		e.checkpoint(j)

		if err := e.runRollback(ctx, m, rc, j); err != nil {
			e.logf(j)("rollback failed: %v", err)
			j.SetError(&job.Error{Kind: job.ErrKindRollbackFailed, Message: err.Error()})
			j.SetStatus(job.StatusFailed)
		} else {
			j.SetStatus(job.StatusRolledBack)
		}
	} else {
		j.SetStatus(job.StatusFailed)
	}

	e.finish(j)
	return &JobResult{View: j.Snapshot()}, nil
}

// runChecks runs specs in order, stopping at (and reporting) the first
// failure — once one check fails the phase has already failed, so there is
// no value in running the rest (spec.md §4.1 "any failure ⇒ fails
// immediately").
func (e *Engine) runChecks(ctx context.Context, phase string, specs []manifest.CheckSpec, rc *checks.Context, j *job.Job) (bool, string) {
	for _, spec := range specs {
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		result, err := e.checks.Run(ctx, spec, rc)
		if err != nil {
			diag := fmt.Sprintf("%s %q errored: %v", phase, name, err)
			e.logf(j)("%s", diag)
			return false, diag
		}
		if !result.OK {
			diag := fmt.Sprintf("%s %q failed: %s", phase, name, result.Diagnostic)
			e.logf(j)("%s", diag)
			return false, diag
		}
		e.logf(j)("%s %q passed", phase, name)
	}
	return true, ""
}

// runActions executes specs in declared order. It returns the index of the
// first action whose failure was not masked by continue_on_error, or -1 if
// every action ran to either success or a masked failure.
func (e *Engine) runActions(ctx context.Context, specs []manifest.ActionSpec, rc *actions.Context, j *job.Job) (int, error) {
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		j.MarkActionStarted(i, name)
		e.publishStatus(j)
		e.logf(j)("action %d/%d %q started", i+1, len(specs), name)

		outcome, err := e.actions.Run(ctx, spec, rc)
		if err != nil {
			if spec.ContinueOnError {
				e.logf(j)("action %d/%d %q failed (continuing: continue_on_error): %v", i+1, len(specs), name, err)
				j.MarkActionCompleted()
				e.checkpoint(j)
				continue
			}
			e.logf(j)("action %d/%d %q failed: %v", i+1, len(specs), name, err)
			return i, err
		}

		if outcome.BackupID != "" {
			j.AddBackup(outcome.BackupID)
		}
		j.MarkActionCompleted()
		e.checkpoint(j)
		e.logf(j)("action %d/%d %q completed", i+1, len(specs), name)
	}
	return -1, nil
}

// runRollback executes the manifest's rollback policy: the declared steps
// if present, otherwise a restore of the most recent backup this job
// created. A failed step is fatal unless it sets continue_on_error, in
// which case it is logged and skipped; a failed default restore is always
// fatal (spec.md §4.1, §4.4).
func (e *Engine) runRollback(ctx context.Context, m *manifest.Manifest, rc *actions.Context, j *job.Job) error {
	if len(m.Rollback.Steps) > 0 {
		for i, step := range m.Rollback.Steps {
			name := step.Name
			if name == "" {
				name = step.Type
			}
			e.logf(j)("rollback step %d/%d %q started", i+1, len(m.Rollback.Steps), name)
			if _, err := e.actions.Run(ctx, step, rc); err != nil {
				if step.ContinueOnError {
					e.logf(j)("rollback step %d/%d %q failed (continuing): %v", i+1, len(m.Rollback.Steps), name, err)
					continue
				}
				return fmt.Errorf("rollback step %d (%s): %w", i, name, err)
			}
			e.logf(j)("rollback step %d/%d %q completed", i+1, len(m.Rollback.Steps), name)
		}
		return nil
	}

	created := j.Snapshot().BackupsCreated
	if len(created) == 0 {
		return fmt.Errorf("no rollback.steps declared and this job created no backups to restore")
	}
	last := created[len(created)-1]
	e.logf(j)("rollback: restoring backup %s (no rollback.steps declared)", last)
	if e.backups == nil {
		return fmt.Errorf("no backup manager configured")
	}
	if _, err := e.backups.RestoreByID(last); err != nil {
		return fmt.Errorf("restore backup %s: %w", last, err)
	}
	return nil
}

// runCleanup applies the manifest's cleanup policy. Cleanup is not
// transactional: every step is independent and best-effort, run
// concurrently via errgroup since none depend on each other's outcome, with
// failures logged rather than propagated — they never affect the job's
// already-decided terminal status (spec.md §4.1).
func (e *Engine) runCleanup(spec manifest.CleanupSpec, stagedRoot string, rc *actions.Context, j *job.Job) {
	var g errgroup.Group

	if spec.RemoveOldBackups && e.backups != nil {
		g.Go(func() error {
			if err := e.backups.GC(spec.KeepLastN); err != nil {
				e.logf(j)("cleanup: backup GC failed: %v", err)
			}
			return nil
		})
	}
	if spec.RemoveTempFiles {
		g.Go(func() error {
			if stagedRoot == "" {
				return nil
			}
			if err := os.RemoveAll(stagedRoot); err != nil {
				e.logf(j)("cleanup: removing staged root failed: %v", err)
			}
			return nil
		})
		if e.backups != nil {
			g.Go(func() error {
				if err := e.backups.GCOrphanedTemp(); err != nil {
					e.logf(j)("cleanup: orphaned backup staging GC failed: %v", err)
				}
				return nil
			})
		}
	}
	if spec.RemoveOldImages && e.containers != nil {
		g.Go(func() error {
			if err := e.containers.Prune(context.Background(), true, true); err != nil {
				e.logf(j)("cleanup: image prune failed: %v", err)
			}
			return nil
		})
	}

	g.Wait()
}

// checkpoint persists j's current snapshot and publishes it on the bus —
// the single operation that must happen after every state-changing step so
// the on-disk checkpoint is never torn (spec.md §4.5).
func (e *Engine) checkpoint(j *job.Job) {
	snap := j.Snapshot()
	if err := e.store.Save(snap); err != nil {
		e.logger.Error("checkpoint save failed", "job_id", j.ID(), "error", err)
	}
	e.publishStatus(j)
}

// finish is checkpoint plus the terminal "complete" broadcast.
func (e *Engine) finish(j *job.Job) {
	snap := j.Snapshot()
	if err := e.store.Save(snap); err != nil {
		e.logger.Error("final checkpoint save failed", "job_id", j.ID(), "error", err)
	}
	if e.bus != nil {
		e.bus.PublishComplete(j.ID(), snap)
	}
}

func (e *Engine) publishStatus(j *job.Job) {
	if e.bus != nil {
		e.bus.PublishStatus(j.ID(), j.Snapshot())
	}
}

// logf returns a Logf closure bound to j: it appends to j's bounded log
// ring and mirrors the line onto the progress bus.
func (e *Engine) logf(j *job.Job) func(format string, args ...any) {
	return func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		j.AppendLog(line)
		if e.bus != nil {
			e.bus.PublishLog(j.ID(), line)
		}
	}
}
