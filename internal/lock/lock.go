// Package lock provides single-host mutual exclusion for orchestration runs
// and the crash-survivable resume state for branch-group execution.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned when another live process already holds the run lock.
var ErrLocked = errors.New("another run is already active")

// RunLock is a PID marker file. It exists only while an orchestration loop is
// running and is removed on clean or signal-driven exit.
type RunLock struct {
	path string
	pid  int
}

// Acquire takes the run lock at path. If a marker exists, the recorded
// process is probed for liveness: a live owner means ErrLocked (wrapped with
// the owner PID); a dead owner's stale marker is deleted and replaced.
func Acquire(path string) (*RunLock, error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d); stop it or remove %s", ErrLocked, pid, path)
		}
		// Stale marker from a dead run.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &RunLock{path: path, pid: pid}, nil
}

// Release removes the marker, but only if it still names this process. A
// second instance may have replaced it after this one was presumed dead.
func (l *RunLock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Path returns the marker file path.
func (l *RunLock) Path() string {
	return l.path
}

// Holder reports the PID recorded in a lock marker and whether that process
// is still alive. A zero PID means no marker exists.
func Holder(path string) (pid int, alive bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
