// Package runlock keeps two runs from working on the same target at once.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/willibrandon/eventimport/internal/logger"
)

// ErrRunInProgress is returned when another live process holds the lock.
var ErrRunInProgress = errors.New("another eventimport run is in progress")

// ErrNoLockFile is returned when no lock file exists.
var ErrNoLockFile = errors.New("no lock file found")

// Lock is a held run lock. Release removes it.
type Lock struct {
	path string
	pid  int
}

// Acquire creates the lock file at path holding the current process ID. The
// file is created exclusively, so of two processes starting together only one
// gets the lock. A lock left by a process that is no longer running is taken
// over.
func Acquire(path string) (*Lock, error) {
	return acquire(path, os.Getpid())
}

func acquire(path string, pid int) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", pid)
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, err := ReadPID(path)
		switch {
		case errors.Is(err, ErrNoLockFile):
			continue
		case err == nil && existing != pid && isProcessRunning(existing):
			return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrRunInProgress, existing, path)
		case err == nil:
			logger.Warn("Removing stale run lock", "path", path, "pid", existing)
		case isFresh(path):
			// Created but not yet written by a process starting right now.
			return nil, fmt.Errorf("%w (lock %s is being written)", ErrRunInProgress, path)
		default:
			logger.Warn("Replacing unreadable run lock", "path", path, "error", err)
		}

		if err := takeOver(path, pid, existing); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (lock %s keeps changing)", ErrRunInProgress, path)
}

// freshLockAge is how long an unreadable lock file is assumed to belong to a
// process still writing it.
const freshLockAge = 5 * time.Second

func isFresh(path string) bool {
	info, err := os.Stat(path)
	return err == nil && time.Since(info.ModTime()) < freshLockAge
}

// takeOver moves a stale lock aside so the next exclusive create can win.
// When the file moved turns out to be a fresh lock written by another process
// in the meantime, it is put back and that process keeps the lock.
func takeOver(path string, pid, stale int) error {
	aside := fmt.Sprintf("%s.stale.%d", path, pid)
	if err := os.Rename(path, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to move stale lock: %w", err)
	}

	moved, err := ReadPID(aside)
	if err == nil && moved != stale && moved != pid && isProcessRunning(moved) {
		// os.Link fails if path exists, so a newer lock is never overwritten.
		if lerr := os.Link(aside, path); lerr != nil && !os.IsExist(lerr) {
			logger.Warn("Failed to restore run lock", "path", path, "error", lerr)
		}
		os.Remove(aside)
		return fmt.Errorf("%w (pid %d, lock %s)", ErrRunInProgress, moved, path)
	}
	if err := os.Remove(aside); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}
	return nil
}

// Release removes the lock if this process still owns it.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	pid, err := ReadPID(l.path)
	if errors.Is(err, ErrNoLockFile) {
		return nil
	}
	if err == nil && pid != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ReadPID reads the process ID from a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoLockFile
		}
		return 0, fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file content: %w", err)
	}
	return pid, nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to signal
	return process.Signal(syscall.Signal(0)) == nil
}
