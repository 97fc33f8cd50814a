package statestore

import (
	"fmt"
	"os"
	"syscall"
)

// ProcessLock is an advisory, single-holder lock backed by flock(2) on a
// dedicated file. It enforces spec.md §5's "one job in flight per process"
// rule across process restarts without needing a coordination service: the
// kernel releases the lock automatically if the holding process dies, so
// there's no stale-lock cleanup to reason about. No pack dependency covers
// single-host advisory file locking, so this uses the standard library
// directly (see DESIGN.md).
type ProcessLock struct {
	f *os.File
}

// AcquireProcessLock opens (creating if needed) the lock file at path and
// takes an exclusive, non-blocking flock. ErrBusy-shaped callers should
// treat a locked error as "another job is already running" (job.ErrKindBusy).
func AcquireProcessLock(path string) (*ProcessLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("statestore: open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("statestore: lock held by another process: %w", err)
	}

	return &ProcessLock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *ProcessLock) Release() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("statestore: unlock: %w", err)
	}
	return l.f.Close()
}
