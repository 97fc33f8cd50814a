package actions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/manifest"
)

func TestBackupActionRegistersBackup(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "app.conf"), []byte("v1\n"), 0o644))

	mgr, err := backup.NewManager(t.TempDir())
	require.NoError(t, err)

	r := NewRegistry()
	rc := &Context{Backups: mgr, JobID: "job-1", Logf: func(string, ...any) {}}

	outcome, err := r.Run(context.Background(), manifest.ActionSpec{
		Type: "backup",
		Backup: &manifest.BackupAction{
			Sources: []string{filepath.Join(srcDir, "app.conf")},
			Name:    "pre-update",
		},
	}, rc)
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.BackupID)

	records, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pre-update", records[0].Name)
}

func TestBackupActionDefaultsName(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "app.conf"), []byte("v1\n"), 0o644))

	mgr, err := backup.NewManager(t.TempDir())
	require.NoError(t, err)

	seq := 0
	r := NewRegistry()
	rc := &Context{
		Backups: mgr, JobID: "job-42",
		NextBackupSeq: func() int { seq++; return seq },
		Logf:          func(string, ...any) {},
	}

	_, err = r.Run(context.Background(), manifest.ActionSpec{
		Type: "backup",
		Backup: &manifest.BackupAction{
			Sources: []string{filepath.Join(srcDir, "app.conf")},
		},
	}, rc)
	require.NoError(t, err)

	records, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "backup_job-42_1", records[0].Name)
}

func TestRestoreBackupActionRestoresLatest(t *testing.T) {
	srcDir := t.TempDir()
	path := filepath.Join(srcDir, "app.conf")
	require.NoError(t, os.WriteFile(path, []byte("v1\n"), 0o644))

	mgr, err := backup.NewManager(t.TempDir())
	require.NoError(t, err)
	_, err = mgr.Create("pre-update", []string{path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2-corrupted\n"), 0o644))

	r := NewRegistry()
	rc := &Context{Backups: mgr, Logf: func(string, ...any) {}}

	_, err = r.Run(context.Background(), manifest.ActionSpec{
		Type:          "restore_backup",
		RestoreBackup: &manifest.RestoreBackupAction{BackupName: manifest.LatestBackupName},
	}, rc)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
}

func TestBackupActionRequiresSources(t *testing.T) {
	mgr, err := backup.NewManager(t.TempDir())
	require.NoError(t, err)

	r := NewRegistry()
	rc := &Context{Backups: mgr, Logf: func(string, ...any) {}}

	_, err = r.Run(context.Background(), manifest.ActionSpec{
		Type:   "backup",
		Backup: &manifest.BackupAction{},
	}, rc)
	require.Error(t, err)
}
