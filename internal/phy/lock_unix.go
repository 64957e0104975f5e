//go:build !windows

package phy

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockPort takes a non-blocking advisory exclusive lock on the serial
// device file, independent of the go.bug.st/serial handle (which doesn't
// expose a file descriptor). spec.md §5 requires this: "concurrent
// access from another thread is undefined and must be prevented at the
// application boundary (e.g. advisory file lock on POSIX)". The returned
// func releases the lock and closes the lock file descriptor; it must be
// called exactly once: by Phy.Close, or by Open itself if setup fails
// after the lock was taken.
func lockPort(name string) (func(), error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("phy: open %s for locking: %w", name, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("phy: %s is already in use by another session: %w", name, err)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
