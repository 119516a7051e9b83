// Package lockfile guards a WhatsApp session directory against concurrent use.
//
// Two processes sharing one linked-device session make the server replace the
// older stream over and over (close reason 440), so the bot holds an flock on a
// file inside the session directory for its whole lifetime. The kernel drops
// the lock when the process exits, even on a crash.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the session directory.
const LockFileName = "outlinebot.lock"

// Lock is a held session directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
}

func (o Owner) String() string {
	if o.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if isProcessRunning(o.PID) {
		state = "running"
	}
	if o.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.Started.Format(time.RFC3339), state)
}

// AcquireLock takes an exclusive, non-blocking lock on sessionDir, creating the
// directory if needed. A *LockError is returned when another process holds it.
func AcquireLock(sessionDir string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, LockFileName)
	slog.Debug("AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", sessionDir, err)
	}

	// O_TRUNC would wipe the owner record before we know whether we won the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := readOwner(lockPath)
		slog.Error("AcquireLock: session directory already in use", "lock_path", lockPath, "owner", owner.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	if err := writeOwner(file, Owner{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to record lock owner in %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: session directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release clears the owner record and unlocks. The file stays in place: removing a
// flock file lets a waiter lock the unlinked inode while a newcomer locks a fresh
// one. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := l.file.Truncate(0); err != nil {
		slog.Warn("Lock.Release: clearing owner record failed", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("Lock.Release: close failed", "lock_path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("Lock.Release: session directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when another process already holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another OutlineBot instance is already using this session directory\n\n"+
		"Lock file: %s\nHeld by: %s\n\n"+
		"If no other instance is running the lock is stale and can be removed with:\n  rm %s",
		e.LockPath, e.Owner.String(), e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeOwner(file *os.File, o Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(file, "pid=%d\nstarted=%s\n", o.PID, o.Started.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("writeOwner: sync failed", "error", err)
	}
	return nil
}

func readOwner(lockPath string) Owner {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Owner{}
	}
	return parseOwner(string(data))
}

// parseOwner reads key=value lines; unknown keys and malformed values are ignored.
func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				o.Started = ts
			}
		}
	}
	return o
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
