// Package flock implements a per-ManagedRoot process-exclusive
// lockfile over .kmsync/lock, preventing two engine instances from
// mutating .kmsync/ simultaneously. It is built on
// golang.org/x/sys/unix.Flock.
package flock

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/kmsync/kmsync/pkg/kerrors"
)

// Lock is a held advisory lock on a single file. The zero value is
// not usable; obtain one via Acquire.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the file at path and takes a
// non-blocking exclusive advisory lock on it. It fails immediately
// with an Unavailable-coded error if another process already holds
// the lock, rather than blocking — callers are expected to fail fast
// rather than queue behind another engine instance.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, kerrors.IoError(path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, kerrors.Wrapf(kerrors.IoError(path, err), "managed root is locked by another process")
	}
	return &Lock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file. A second
// call is a no-op that returns nil.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
