//go:build windows

package filegdb

import "golang.org/x/sys/windows"

func (l *tableLock) lock(mode lockMode) error {
	var flags uint32
	if mode == lockExclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	// Whole file.
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(l.f.Fd()), flags, 0, 0xFFFFFFFF, 0xFFFFFFFF, &ol)
}

func (l *tableLock) unlock() error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, 0xFFFFFFFF, 0xFFFFFFFF, &ol)
}
