package actions

import (
	"context"
	"fmt"

	"github.com/cuemby/update-agent/internal/manifest"
)

func handleBackup(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	b := spec.Backup
	if b == nil {
		return Outcome{}, fmt.Errorf("actions: backup action missing its spec payload")
	}
	if rc.Backups == nil {
		return Outcome{}, fmt.Errorf("actions: no backup manager configured")
	}
	if len(b.Sources) == 0 {
		return Outcome{}, fmt.Errorf("actions: backup action declares no sources")
	}

	name := b.Name
	if name == "" {
		seq := 0
		if rc.NextBackupSeq != nil {
			seq = rc.NextBackupSeq()
		}
		name = fmt.Sprintf("backup_%s_%d", rc.JobID, seq)
	}

	var rec struct {
		ID string
	}
	err := withHeartbeat(rc, fmt.Sprintf("backup %q", name), func() error {
		r, err := rc.Backups.Create(name, b.Sources)
		if err != nil {
			return err
		}
		rec.ID = r.ID
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: backup %q: %w", name, err)
	}

	rc.logf("backup %q created (id=%s, %d source(s))", name, rec.ID, len(b.Sources))
	return Outcome{BackupID: rec.ID}, nil
}

func handleRestoreBackup(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	r := spec.RestoreBackup
	if r == nil {
		return Outcome{}, fmt.Errorf("actions: restore_backup action missing its spec payload")
	}
	if rc.Backups == nil {
		return Outcome{}, fmt.Errorf("actions: no backup manager configured")
	}

	name := r.BackupName
	if name == "" {
		name = manifest.LatestBackupName
	}

	var rec struct{ ID string }
	err := withHeartbeat(rc, fmt.Sprintf("restore_backup %q", name), func() error {
		restored, err := rc.Backups.Restore(name)
		if err != nil {
			return err
		}
		rec.ID = restored.ID
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: restore_backup %q: %w", name, err)
	}

	rc.logf("restored backup %q (id=%s)", name, rec.ID)
	return Outcome{}, nil
}
