//go:build unix

package vfs

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type unixLock struct {
	f *os.File
}

func (l *unixLock) Close() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (defaultFS) Lock(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errLockHeld
	}
	return &unixLock{f: f}, nil
}
