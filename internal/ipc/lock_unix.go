//go:build unix

package ipc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CrossProcessLock is an advisory file lock usable from unrelated OS
// processes. It is not reentrant: flock is not, and pool/sharedstate.go
// layers no in-process mutex on top of it, so callers must never lock
// twice from the same process without unlocking first.
type CrossProcessLock struct {
	f *os.File
}

// NewCrossProcessLock opens (creating if needed) the lock file at path.
// All processes sharing a pool must pass the same path.
func NewCrossProcessLock(path string) (*CrossProcessLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open lock file: %w", err)
	}
	return &CrossProcessLock{f: f}, nil
}

// Lock blocks until the advisory lock is acquired.
func (l *CrossProcessLock) Lock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
}

// Unlock releases the advisory lock.
func (l *CrossProcessLock) Unlock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// Close releases the underlying file handle.
func (l *CrossProcessLock) Close() error {
	return l.f.Close()
}
