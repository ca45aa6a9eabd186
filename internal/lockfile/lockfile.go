// Package lockfile guards a MoodPipe state directory with an advisory flock so two
// instances never write the same SQLite database. The kernel drops the lock when the
// holding process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "moodpipe.lock"

// Holder describes the process that wrote a lock file.
type Holder struct {
	PID       int
	StartedAt time.Time
}

// Running reports whether the holder process is still alive.
func (h Holder) Running() bool {
	return h.PID > 0 && isProcessRunning(h.PID)
}

func (h Holder) String() string {
	if h.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running() {
		state = "running"
	}
	if h.StartedAt.IsZero() {
		return fmt.Sprintf("PID %d (%s)", h.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", h.PID, h.StartedAt.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory when needed.
// When another process holds it the error is a *LockError.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Acquiring state directory lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's details before we know the lock is ours.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := parseHolder(file)
		file.Close()
		slog.Error("State directory is locked by another MoodPipe instance", "lock_path", lockPath, "holder", holder.String())
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if err := writeHolder(file, Holder{PID: os.Getpid(), StartedAt: time.Now().UTC()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var firstErr error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		firstErr = fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "lock_path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return firstErr
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is locked by another MoodPipe instance (%s); "+
		"if that process is gone, remove %s and retry", e.Holder, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", h.PID, h.StartedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	return f.Sync()
}

func parseHolder(f *os.File) Holder {
	if _, err := f.Seek(0, 0); err != nil {
		return Holder{}
	}
	return parseHolderLines(bufio.NewScanner(f))
}

// parseHolderLines reads key=value lines; unknown keys and bad values are ignored.
func parseHolderLines(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				h.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.StartedAt = t
			}
		}
	}
	return h
}

// isProcessRunning checks pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
