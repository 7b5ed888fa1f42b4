//go:build unix

package filegdb

import "golang.org/x/sys/unix"

func (l *tableLock) lock(mode lockMode) error {
	op := unix.LOCK_SH
	if mode == lockExclusive {
		op = unix.LOCK_EX
	}
	return unix.Flock(int(l.f.Fd()), op)
}

func (l *tableLock) unlock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
