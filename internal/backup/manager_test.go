package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCreateAndRestoreSingleFile(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	configPath := filepath.Join(srcDir, "app.conf")
	writeFile(t, configPath, "debug=false\n")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	rec, err := m.Create("pre-update", []string{configPath})
	require.NoError(t, err)
	assert.Equal(t, "pre-update", rec.Name)
	assert.Len(t, rec.Files, 1)

	require.NoError(t, os.WriteFile(configPath, []byte("debug=true\n"), 0o644))

	_, err = m.Restore("pre-update")
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "debug=false\n", string(data))
}

func TestCreateAndRestoreDirectoryTree(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()

	writeFile(t, filepath.Join(srcDir, "config", "a.conf"), "a=1\n")
	writeFile(t, filepath.Join(srcDir, "config", "nested", "b.conf"), "b=2\n")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	configDir := filepath.Join(srcDir, "config")
	_, err = m.Create("full-tree", []string{configDir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(configDir, "a.conf"), []byte("a=CORRUPTED\n"), 0o644))
	require.NoError(t, os.RemoveAll(filepath.Join(configDir, "nested")))

	_, err = m.Restore("full-tree")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(configDir, "a.conf"))
	require.NoError(t, err)
	assert.Equal(t, "a=1\n", string(data))

	data, err = os.ReadFile(filepath.Join(configDir, "nested", "b.conf"))
	require.NoError(t, err)
	assert.Equal(t, "b=2\n", string(data))
}

func TestResolveLatestSpansAllJobs(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "f.txt"), "v1")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	_, err = m.Create("job-a-backup", []string{filepath.Join(srcDir, "f.txt")})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := m.Create("job-b-backup", []string{filepath.Join(srcDir, "f.txt")})
	require.NoError(t, err)

	latest, err := m.Resolve(manifest.LatestBackupName)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()
	path := filepath.Join(srcDir, "f.txt")
	writeFile(t, path, "original")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	rec, err := m.Create("snap", []string{path})
	require.NoError(t, err)

	backedPath := filepath.Join(baseDir, "backups", rec.ID, "data", "0")
	require.NoError(t, os.WriteFile(backedPath, []byte("tampered"), 0o644))

	_, err = m.Restore("snap")
	require.Error(t, err)
}

func TestGCKeepsOnlyMostRecentN(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()
	path := filepath.Join(srcDir, "f.txt")
	writeFile(t, path, "content")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := m.Create("snap", []string{path})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, m.GC(2))

	records, err := m.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestGCKeepLastNZeroKeepsAllBackups(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()
	path := filepath.Join(srcDir, "f.txt")
	writeFile(t, path, "content")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.Create("snap", []string{path})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, m.GC(0))

	records, err := m.List()
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestGCOrphanedTempRemovesStaleStagingDirs(t *testing.T) {
	baseDir := t.TempDir()
	m, err := NewManager(baseDir)
	require.NoError(t, err)

	orphan := filepath.Join(baseDir, "backups", ".tmp-orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	require.NoError(t, m.GCOrphanedTemp())

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestResolveNamedBackupNotLatest(t *testing.T) {
	srcDir := t.TempDir()
	baseDir := t.TempDir()
	path := filepath.Join(srcDir, "f.txt")
	writeFile(t, path, "content")

	m, err := NewManager(baseDir)
	require.NoError(t, err)

	first, err := m.Create("named-snapshot", []string{path})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = m.Create("other-snapshot", []string{path})
	require.NoError(t, err)

	resolved, err := m.Resolve("named-snapshot")
	require.NoError(t, err)
	assert.Equal(t, first.ID, resolved.ID)
}
