package vfs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

type defaultFS struct{}

// Default is the FS backed directly by the os package.
var Default FS = defaultFS{}

type osFile struct {
	*os.File
}

func (f osFile) Preallocate(offset, length int64) error {
	// Best-effort: plain files grow on Write; nothing to reserve ahead of
	// time without a platform-specific syscall, which non-unix builds of
	// this FS don't need for correctness.
	return nil
}

func (f osFile) SyncTo(length int64) (fullSync bool, err error) {
	return true, f.File.Sync()
}

func (f osFile) SyncData() error { return f.File.Sync() }

func (f osFile) Prefetch(offset, length int64) error { return nil }

func (defaultFS) Create(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) Link(oldname, newname string) error {
	return os.Link(oldname, newname)
}

func (defaultFS) Open(name string, opts ...OpenOption) (File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	file := osFile{f}
	for _, o := range opts {
		o.Apply(file)
	}
	return file, nil
}

func (defaultFS) OpenDir(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) Remove(name string) error {
	err := os.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (defaultFS) RemoveAll(name string) error {
	return os.RemoveAll(name)
}

func (defaultFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (fs defaultFS) ReuseForWrite(oldname, newname string) (File, error) {
	if err := fs.Rename(oldname, newname); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(newname, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (defaultFS) MkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (defaultFS) List(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return names, nil
}

func (defaultFS) PathJoin(elem ...string) string { return filepath.Join(elem...) }

func (defaultFS) PathBase(path string) string { return filepath.Base(path) }

// errLockHeld is returned (wrapped) by Lock when another process already
// holds the lock, classified so callers can translate it to base.ErrLocked.
var errLockHeld = errors.New("vfs: file already locked")

// IsLockHeld reports whether err indicates the lock was already held.
func IsLockHeld(err error) bool { return errors.Is(err, errLockHeld) }
