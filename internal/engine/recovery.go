package engine

import (
	"fmt"

	"github.com/cuemby/update-agent/internal/job"
)

// RecoverInterrupted is called once at process startup, before any new job
// is accepted. It removes orphaned ".tmp-*" backup staging directories left
// by a crash mid-backup, then reclassifies every non-terminal job found by the state
// store as failed/interrupted (spec.md §4.5), then attempts a best-effort
// restore of the most recently created backup for each recovered job that
// has one — the manifest that declared the job's rollback policy is gone by
// restart time, so this is the same default rollback path runRollback takes
// when a manifest declares no rollback.steps, applied unconditionally rather
// than gated on rollback.enabled/auto_on_failure.
func (e *Engine) RecoverInterrupted() ([]job.View, error) {
	if e.backups != nil {
		if err := e.backups.GCOrphanedTemp(); err != nil {
			e.logger.Warn("startup recovery: removing orphaned backup staging dirs failed", "error", err)
		}
	}

	recovered, err := e.store.RecoverNonTerminal()
	if err != nil {
		return nil, fmt.Errorf("engine: recovering interrupted jobs: %w", err)
	}

	for i, v := range recovered {
		if len(v.BackupsCreated) == 0 {
			continue
		}
		j := job.FromView(v, 0)
		last := v.BackupsCreated[len(v.BackupsCreated)-1]
		j.AppendLog(fmt.Sprintf("startup recovery: restoring backup %s for interrupted job", last))

		if e.backups == nil {
			j.AppendLog("startup recovery: no backup manager configured, cannot roll back")
			e.store.Save(j.Snapshot())
			recovered[i] = j.Snapshot()
			continue
		}

		if _, restoreErr := e.backups.RestoreByID(last); restoreErr != nil {
			j.AppendLog(fmt.Sprintf("startup recovery: rollback failed: %v", restoreErr))
			j.SetError(&job.Error{Kind: job.ErrKindRollbackFailed, Message: restoreErr.Error()})
			j.SetStatus(job.StatusFailed)
		} else {
			j.AppendLog("startup recovery: rollback succeeded")
			j.SetStatus(job.StatusRolledBack)
		}

		if err := e.store.Save(j.Snapshot()); err != nil {
			e.logger.Error("startup recovery: save failed", "job_id", j.ID(), "error", err)
		}
		recovered[i] = j.Snapshot()
	}

	return recovered, nil
}
