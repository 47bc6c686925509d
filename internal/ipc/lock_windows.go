//go:build windows

package ipc

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// CrossProcessLock mirrors lock_unix.go's contract using LockFileEx, the
// per-OS split used for platform-specific primitives that have no
// portable stdlib equivalent.
type CrossProcessLock struct {
	f *os.File
}

// NewCrossProcessLock opens (creating if needed) the lock file at path.
func NewCrossProcessLock(path string) (*CrossProcessLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ipc: open lock file: %w", err)
	}
	return &CrossProcessLock{f: f}, nil
}

// Lock blocks until the whole-file exclusive lock is acquired.
func (l *CrossProcessLock) Lock() error {
	var overlapped windows.Overlapped
	return windows.LockFileEx(
		windows.Handle(l.f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK,
		0,
		^uint32(0),
		^uint32(0),
		&overlapped,
	)
}

// Unlock releases the lock.
func (l *CrossProcessLock) Unlock() error {
	var overlapped windows.Overlapped
	return windows.UnlockFileEx(
		windows.Handle(l.f.Fd()),
		0,
		^uint32(0),
		^uint32(0),
		&overlapped,
	)
}

// Close releases the underlying file handle.
func (l *CrossProcessLock) Close() error {
	return l.f.Close()
}
