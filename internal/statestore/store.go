// Package statestore persists Job views to disk so an in-flight update
// survives an engine restart, and recovers a sane status for any job that
// was interrupted mid-run (power loss, crash, kill -9; spec.md §4.4, §7).
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/update-agent/internal/job"
)

const jobFileSuffix = ".json"

// Store persists one job.View per file under <baseDir>/state/jobs/.
type Store struct {
	jobsDir string
}

// New ensures the jobs directory exists under baseDir/state/jobs.
func New(baseDir string) (*Store, error) {
	jobsDir := filepath.Join(baseDir, "state", "jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: mkdir %s: %w", jobsDir, err)
	}
	return &Store{jobsDir: jobsDir}, nil
}

func (s *Store) pathFor(jobID string) string {
	return filepath.Join(s.jobsDir, jobID+jobFileSuffix)
}

// Save writes a job's view atomically: encode to a sibling temp file, fsync
// it, then rename over the final path (rename is atomic on the same
// filesystem, so a reader never observes a half-written file even across a
// power loss).
func (s *Store) Save(v job.View) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal job %s: %w", v.JobID, err)
	}

	final := s.pathFor(v.JobID)
	tmp := filepath.Join(s.jobsDir, fmt.Sprintf(".tmp-%s%s", v.JobID, jobFileSuffix))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("statestore: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("statestore: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("statestore: close temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("statestore: rename into place: %w", err)
	}
	return nil
}

// Load reads a single job's view by id.
func (s *Store) Load(jobID string) (job.View, error) {
	data, err := os.ReadFile(s.pathFor(jobID))
	if err != nil {
		return job.View{}, fmt.Errorf("statestore: read job %s: %w", jobID, err)
	}
	var v job.View
	if err := json.Unmarshal(data, &v); err != nil {
		return job.View{}, fmt.Errorf("statestore: unmarshal job %s: %w", jobID, err)
	}
	return v, nil
}

// List returns every persisted job view, most recently started first.
func (s *Store) List() ([]job.View, error) {
	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		return nil, fmt.Errorf("statestore: read jobs dir: %w", err)
	}

	views := make([]job.View, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, jobFileSuffix) {
			continue
		}
		jobID := strings.TrimSuffix(name, jobFileSuffix)
		v, err := s.Load(jobID)
		if err != nil {
			continue
		}
		views = append(views, v)
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views, nil
}

// GCTempFiles removes any leftover .tmp-*.json files from a prior crash
// that interrupted Save between create and rename.
func (s *Store) GCTempFiles() error {
	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		return fmt.Errorf("statestore: read jobs dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			_ = os.Remove(filepath.Join(s.jobsDir, e.Name()))
		}
	}
	return nil
}

// RecoverNonTerminal reclassifies every persisted job that is not in a
// terminal status as failed/interrupted, and persists the correction. This
// runs once at engine startup: a non-terminal job on disk means the process
// that owned it died mid-phase (spec.md §4.4, §7 "interrupted").
func (s *Store) RecoverNonTerminal() ([]job.View, error) {
	views, err := s.List()
	if err != nil {
		return nil, err
	}

	var recovered []job.View
	for _, v := range views {
		if v.Status.IsTerminal() {
			continue
		}
		j := job.FromView(v, 0)
		j.SetError(&job.Error{
			Kind:    job.ErrKindInterrupted,
			Message: "engine restarted while this job was in progress",
		})
		j.SetStatus(job.StatusFailed)
		snap := j.Snapshot()
		if err := s.Save(snap); err != nil {
			return recovered, err
		}
		recovered = append(recovered, snap)
	}
	return recovered, nil
}
