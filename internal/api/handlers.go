package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/job"
	"github.com/cuemby/update-agent/internal/sysinfo"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /api/system-info
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info, err := sysinfo.Collect(s.BaseDir)
	if err != nil {
		s.Logger.Error("collecting system info failed", "error", err)
		writeError(w, http.StatusInternalServerError, "collecting system info failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// backupView is the public shape of a backup.Record (spec.md §6: `{name,
// created_at, sources}`, the per-file MD5 manifest is an internal detail).
type backupView struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []string  `json:"sources"`
}

func toBackupView(rec backup.Record) backupView {
	return backupView{Name: rec.Name, CreatedAt: rec.CreatedAt, Sources: rec.Sources}
}

// GET /api/backups
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.Backups.List()
	if err != nil {
		s.Logger.Error("listing backups failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing backups failed")
		return
	}

	views := make([]backupView, 0, len(records))
	for _, rec := range records {
		views = append(views, toBackupView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// maxUploadSize bounds an update package upload; packages are wheels/images
// bundled for embedded devices and legitimately run into the hundreds of MB.
const maxUploadSize = 2 << 30 // 2GiB

// POST /api/upload-update (multipart, field name "file")
func (s *Server) handleUploadUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	defer file.Close()

	uploadsDir := filepath.Join(s.BaseDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		s.Logger.Error("preparing uploads dir failed", "error", err)
		writeError(w, http.StatusInternalServerError, "preparing uploads dir failed")
		return
	}

	filename := sanitizeUploadName(header.Filename)
	destPath := filepath.Join(uploadsDir, filename)

	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.Logger.Error("creating uploaded file failed", "error", err)
		writeError(w, http.StatusInternalServerError, "creating uploaded file failed")
		return
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		s.Logger.Error("writing uploaded file failed", "error", err)
		writeError(w, http.StatusInternalServerError, "writing uploaded file failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"filename": filename})
}

// sanitizeUploadName strips any directory component so an upload can never
// escape the uploads directory via a crafted multipart filename.
func sanitizeUploadName(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "update.tar.gz"
	}
	return name
}

// POST /api/apply-update?filename=...
func (s *Server) handleApplyUpdate(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "missing \"filename\" query parameter")
		return
	}
	filename = sanitizeUploadName(filename)
	packagePath := filepath.Join(s.BaseDir, "uploads", filename)
	if _, err := os.Stat(packagePath); err != nil {
		writeError(w, http.StatusNotFound, "uploaded package not found: "+filename)
		return
	}

	jobID := uuid.New().String()
	b := s.NewBootstrapper()

	// Apply blocks until the job reaches a terminal state; run it detached
	// from the request so the client gets job_id back immediately and
	// watches progress over /api/update-stream/<job_id>.
	go func() {
		ctx := context.Background()
		if _, err := b.Apply(ctx, packagePath, false, jobID); err != nil {
			s.Logger.Error("applying update failed", "job_id", jobID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// POST /api/rollback/<job_id>
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	v, err := s.Store.Load(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	if v.Status != job.StatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s, not failed; rollback not applicable", jobID, v.Status))
		return
	}
	if len(v.BackupsCreated) == 0 {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s created no backups; nothing to roll back", jobID))
		return
	}

	last := v.BackupsCreated[len(v.BackupsCreated)-1]
	if _, err := s.Backups.RestoreByID(last); err != nil {
		v.Error = &job.Error{Kind: job.ErrKindRollbackFailed, Message: err.Error()}
		_ = s.Store.Save(v)
		writeError(w, http.StatusInternalServerError, "rollback failed: "+err.Error())
		return
	}

	v.Status = job.StatusRolledBack
	if err := s.Store.Save(v); err != nil {
		s.Logger.Error("persisting rolled-back job failed", "job_id", jobID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("job %s rolled back to backup %s", jobID, last)})
}
