package checks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/manifest"
)

func TestCommandCheckPassAndFail(t *testing.T) {
	r := NewRegistry()
	rc := &Context{}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type:    "command",
		Command: &manifest.CommandCheck{Cmd: "exit 0"},
	}, rc)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = r.Run(context.Background(), manifest.CheckSpec{
		Type:    "command",
		Command: &manifest.CommandCheck{Cmd: "exit 1"},
	}, rc)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestHTTPCheckRetriesThenPasses(t *testing.T) {
	probe := hostadapters.NewFakeHTTPProbe()
	probe.FailFirstN["http://svc/healthz"] = 2
	probe.StatusByURL["http://svc/healthz"] = 200

	r := NewRegistry()
	rc := &Context{HTTP: probe, Logf: func(string, ...any) {}}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type: "http_check",
		HTTPCheck: &manifest.HTTPCheck{
			URL:          "http://svc/healthz",
			ExpectStatus: 200,
			Retries:      3,
		},
	}, rc)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestHTTPCheckExhaustsRetries(t *testing.T) {
	probe := hostadapters.NewFakeHTTPProbe()
	probe.StatusByURL["http://svc/healthz"] = 500

	r := NewRegistry()
	rc := &Context{HTTP: probe, Logf: func(string, ...any) {}}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type: "http_check",
		HTTPCheck: &manifest.HTTPCheck{
			URL:          "http://svc/healthz",
			ExpectStatus: 200,
			Retries:      1,
		},
	}, rc)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestServiceRunningCheck(t *testing.T) {
	svc := hostadapters.NewFakeServiceSupervisor()
	svc.Running["docker"] = true

	r := NewRegistry()
	rc := &Context{Services: svc}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type:           "service_running",
		ServiceRunning: &manifest.ServiceRunningCheck{Service: "docker"},
	}, rc)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = r.Run(context.Background(), manifest.CheckSpec{
		Type:           "service_running",
		ServiceRunning: &manifest.ServiceRunningCheck{Service: "nginx"},
	}, rc)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestDockerHealthCheck(t *testing.T) {
	runtime := hostadapters.NewFakeContainerRuntime()
	runtime.HealthByContainer["app-web"] = "healthy"

	r := NewRegistry()
	rc := &Context{Containers: runtime}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type:         "docker_health",
		DockerHealth: &manifest.DockerHealthCheck{Container: "app-web"},
	}, rc)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestFileExistsCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.conf")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	r := NewRegistry()
	rc := &Context{}

	res, err := r.Run(context.Background(), manifest.CheckSpec{
		Type:       "file_exists",
		FileExists: &manifest.FileExistsCheck{Path: path, Checksum: "5eb63bbbe01eeed093cb22bb8f5acdc3"},
	}, rc)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = r.Run(context.Background(), manifest.CheckSpec{
		Type:       "file_exists",
		FileExists: &manifest.FileExistsCheck{Path: filepath.Join(dir, "missing.conf")},
	}, rc)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestUnknownCheckTypeErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), manifest.CheckSpec{Type: "nonsense"}, &Context{})
	require.Error(t, err)
}
