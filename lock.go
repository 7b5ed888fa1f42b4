// Advisory locking of the table file.
//
// Readers hold a shared lock for as long as the Table is open. Update mode
// takes an exclusive lock instead, since Sync rewrites the maximum row size
// hint in place and a concurrent reader could see it half written. The
// lock is advisory: it only coordinates processes that use this package.
//
// tableLock guards the file handle with a mutex held across the lock
// syscall, so Fd() cannot race with Close() on the same *os.File. release
// drops the lock and clears the handle; later calls are no-ops.
package filegdb

import (
	"os"
	"sync"
)

type lockMode int

const (
	lockShared lockMode = iota
	lockExclusive
)

type tableLock struct {
	mu sync.Mutex
	f  *os.File
}

// acquire blocks until the lock for the given open mode is held.
func (l *tableLock) acquire(update bool) error {
	mode := lockShared
	if update {
		mode = lockExclusive
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	return l.lock(mode)
}

// release unlocks the file and detaches the handle. It waits for an
// in-flight acquire to return first.
func (l *tableLock) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.unlock()
	l.f = nil
	return err
}
