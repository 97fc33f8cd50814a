package api

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/actions"
	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/checks"
	"github.com/cuemby/update-agent/internal/engine"
	"github.com/cuemby/update-agent/internal/job"
	"github.com/cuemby/update-agent/internal/progress"
	"github.com/cuemby/update-agent/internal/semver"
	"github.com/cuemby/update-agent/internal/statestore"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	base := t.TempDir()

	store, err := statestore.New(base)
	require.NoError(t, err)
	backups, err := backup.NewManager(base)
	require.NoError(t, err)
	bus := progress.NewBus(nil, nil)

	eng := engine.New(engine.Config{
		Checks:  checks.NewRegistry(),
		Actions: actions.NewRegistry(),
		Backups: backups,
		Store:   store,
		Bus:     bus,
	})

	return &Server{
		BaseDir:              base,
		Store:                store,
		Backups:              backups,
		Bus:                  bus,
		Engine:               eng,
		InstalledVersion:     semver.MustParse("1.0.0"),
		BootstrapLogCapacity: 50,
		Logger:               testLogger(),
	}, base
}

func TestHandleSystemInfo(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system-info", nil)
	rr := httptest.NewRecorder()
	s.handleSystemInfo(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "hostname")
}

func TestHandleListBackupsEmpty(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/backups", nil)
	rr := httptest.NewRecorder()
	s.handleListBackups(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHandleListBackupsReturnsCreated(t *testing.T) {
	s, base := newTestServer(t)

	src := filepath.Join(base, "config.txt")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))
	_, err := s.Backups.Create("pre-update", []string{src})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/backups", nil)
	rr := httptest.NewRecorder()
	s.handleListBackups(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pre-update")
}

func TestHandleUploadUpdate(t *testing.T) {
	s, base := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "update.tar.gz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("fake package contents"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-update", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()

	s.handleUploadUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "update.tar.gz")

	_, err = os.Stat(filepath.Join(base, "uploads", "update.tar.gz"))
	assert.NoError(t, err)
}

func TestHandleUploadUpdateSanitizesPathTraversal(t *testing.T) {
	s, base := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "../../etc/evil.tar.gz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-update", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()

	s.handleUploadUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	_, err = os.Stat(filepath.Join(base, "uploads", "evil.tar.gz"))
	assert.NoError(t, err)
}

func TestHandleApplyUpdateMissingFilename(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/apply-update", nil)
	rr := httptest.NewRecorder()
	s.handleApplyUpdate(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleApplyUpdateUnknownPackage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/apply-update?filename=missing.tar.gz", nil)
	rr := httptest.NewRecorder()
	s.handleApplyUpdate(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleRollbackRejectsNonFailedJob(t *testing.T) {
	s, _ := newTestServer(t)

	v := job.View{JobID: "job-1", Status: job.StatusCompleted}
	require.NoError(t, s.Store.Save(v))

	req := httptest.NewRequest(http.MethodPost, "/api/rollback/job-1", nil)
	req = mux.SetURLVars(req, map[string]string{"job_id": "job-1"})
	rr := httptest.NewRecorder()
	s.handleRollback(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleRollbackRestoresLastBackup(t *testing.T) {
	s, base := newTestServer(t)

	target := filepath.Join(base, "app.conf")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))
	rec, err := s.Backups.Create("pre-update", []string{target})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(target, []byte("broken"), 0o644))

	v := job.View{JobID: "job-2", Status: job.StatusFailed, BackupsCreated: []string{rec.ID}}
	require.NoError(t, s.Store.Save(v))

	req := httptest.NewRequest(http.MethodPost, "/api/rollback/job-2", nil)
	req = mux.SetURLVars(req, map[string]string{"job_id": "job-2"})
	rr := httptest.NewRecorder()
	s.handleRollback(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	reloaded, err := s.Store.Load("job-2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRolledBack, reloaded.Status)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealth(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
