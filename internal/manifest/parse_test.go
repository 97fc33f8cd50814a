package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
description: bump app stack to 2.1.0
date: "2026-07-30"
required_engine_version: "1.4.0"
pre_checks:
  - type: service_running
    name: docker must be up
    service: docker
  - type: file_exists
    path: /opt/app/app.tar
post_checks:
  - type: http_check
    url: http://localhost:8080/healthz
    expect_status: 200
    retries: 5
    delay: 2
  - type: docker_health
    container: app-web
actions:
  - type: backup
    name: snapshot config
    sources: ["/opt/app/config"]
    backup_name: pre-2.1.0
  - type: docker_compose_down
    name: stop stack
    file: /opt/app/docker-compose.yml
    continue_on_error: true
  - type: file_sync
    source: staged/config
    destination: /opt/app/config
    mode: mirror
  - type: docker_compose_up
    file: /opt/app/docker-compose.yml
    detach: true
rollback:
  enabled: true
  auto_on_failure: true
  steps:
    - type: restore_backup
      backup_name: latest
cleanup:
  remove_old_backups: true
  keep_last_n: 3
  remove_temp_files: true
`

func TestParseSampleManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "bump app stack to 2.1.0", m.Description)
	require.Len(t, m.PreChecks, 2)
	assert.Equal(t, "service_running", m.PreChecks[0].Type)
	require.NotNil(t, m.PreChecks[0].ServiceRunning)
	assert.Equal(t, "docker", m.PreChecks[0].ServiceRunning.Service)
	require.NotNil(t, m.PreChecks[1].FileExists)
	assert.Equal(t, "/opt/app/app.tar", m.PreChecks[1].FileExists.Path)

	require.Len(t, m.PostChecks, 2)
	require.NotNil(t, m.PostChecks[0].HTTPCheck)
	assert.Equal(t, 200, m.PostChecks[0].HTTPCheck.ExpectStatus)
	assert.Equal(t, 5, m.PostChecks[0].HTTPCheck.Retries)
	require.NotNil(t, m.PostChecks[1].DockerHealth)
	assert.Equal(t, "app-web", m.PostChecks[1].DockerHealth.Container)

	require.Len(t, m.Actions, 4)
	require.NotNil(t, m.Actions[0].Backup)
	assert.Equal(t, "pre-2.1.0", m.Actions[0].Backup.Name)
	assert.Equal(t, []string{"/opt/app/config"}, m.Actions[0].Backup.Sources)

	require.NotNil(t, m.Actions[1].DockerComposeDown)
	assert.True(t, m.Actions[1].ContinueOnError)

	require.NotNil(t, m.Actions[2].FileSync)
	assert.Equal(t, SyncModeMirror, m.Actions[2].FileSync.Mode)

	require.NotNil(t, m.Actions[3].DockerComposeUp)
	assert.True(t, m.Actions[3].DockerComposeUp.Detach)

	require.True(t, m.Rollback.Enabled)
	require.True(t, m.Rollback.AutoOnFailure)
	require.Len(t, m.Rollback.Steps, 1)
	require.NotNil(t, m.Rollback.Steps[0].RestoreBackup)
	assert.Equal(t, LatestBackupName, m.Rollback.Steps[0].RestoreBackup.BackupName)

	assert.Equal(t, 3, m.Cleanup.KeepLastN)
	assert.Equal(t, 1, m.RequiredEngineVersion.Major)
	assert.Equal(t, 4, m.RequiredEngineVersion.Minor)
}

func TestParseUnknownActionTypeFails(t *testing.T) {
	data := `
actions:
  - type: teleport_files
    name: nonsense
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestParseUnknownCheckTypeFails(t *testing.T) {
	data := `
pre_checks:
  - type: vibe_check
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestParseMissingActionTypeFails(t *testing.T) {
	data := `
actions:
  - name: no type here
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field")
}

func TestParseEmptyActionsListIsValid(t *testing.T) {
	data := `
description: no-op update
pre_checks: []
post_checks: []
actions: []
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Empty(t, m.Actions)
}

func TestValidateRejectsNegativeKeepLastN(t *testing.T) {
	data := `
actions: []
cleanup:
  keep_last_n: -1
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
}

func TestValidateRejectsUnknownFileSyncMode(t *testing.T) {
	data := `
actions:
  - type: file_sync
    source: a
    destination: b
    mode: teleport
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
}

func TestValidateRejectsUnknownFileMergeStrategy(t *testing.T) {
	data := `
actions:
  - type: file_merge
    source: a
    destination: b
    strategy: nonsense
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
}

func TestCommandActionDefaultTimeout(t *testing.T) {
	data := `
actions:
  - type: command
    cmd: echo hi
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, m.Actions[0].Command)
	assert.Equal(t, 300, m.Actions[0].Command.TimeoutSeconds)
}

func TestHTTPCheckDefaultExpectStatus(t *testing.T) {
	data := `
post_checks:
  - type: http_check
    url: http://localhost/healthz
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, m.PostChecks[0].HTTPCheck)
	assert.Equal(t, 200, m.PostChecks[0].HTTPCheck.ExpectStatus)
}
