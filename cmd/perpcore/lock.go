// Single-instance lock-file discipline: a lock file
// per run mode prevents two processes from writing the same ledger.
// Acquisition is attempted at startup; failure to acquire is a fatal,
// user-actionable error. A stale lock (owning process absent) is reported
// so an operator can manually reclaim it rather than being silently
// overridden.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

type instanceLock struct {
	path string
}

// acquireLock attempts to take the single-instance lock at path, refusing
// to run if a live process already holds it, and reporting a stale lock
// (its recorded process is gone) instead of overwriting it.
func acquireLock(path string) (*instanceLock, error) {
	if b, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(b)))
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("lock file %s held by live process %d; refuse to start a second instance against the same ledger", path, pid)
		}
		if perr == nil {
			return nil, fmt.Errorf("stale lock file %s left by process %d, which is no longer running; remove the file to reclaim the lock", path, pid)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return nil, fmt.Errorf("write lock %s: %w", path, err)
	}
	return &instanceLock{path: path}, nil
}

func (l *instanceLock) Release() {
	_ = os.Remove(l.path)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
