package state

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// RunLock provides cross-process mutual exclusion for one epic using
// flock(2). Two processes driving the same epic would both write its state
// document, so the orchestrator holds this lock for the whole run.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock creates a RunLock for the epic inside dir. The lock file is
// "<epicID>.lock".
func NewRunLock(dir, epicID string) *RunLock {
	return &RunLock{path: filepath.Join(dir, epicID+".lock")}
}

// Acquire takes the lock without blocking. It fails with ErrRunInProgress
// when another process holds it.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("%s: %w", l.path, errors.ErrRunInProgress)
		}
		return fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return nil
}

// Release drops the lock. Calling it without holding the lock is a no-op.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}
