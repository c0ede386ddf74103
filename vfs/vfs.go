// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package vfs abstracts the filesystem so that the storage engine can run
// against the OS filesystem, an in-memory filesystem for tests, or a
// filesystem that mirrors durable files to a cloud object store.
package vfs

import (
	"io"
	"os"
)

// File is the subset of *os.File the engine needs, generalized so that a
// Sync/Close can be intercepted (to mirror a file to cloud storage, or to
// record a call for a test's logging wrapper).
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer

	// Preallocate attempts to reserve [offset, offset+length) on disk, a
	// hint ignored by filesystems (or test FS implementations) that don't
	// support it.
	Preallocate(offset, length int64) error
	Stat() (os.FileInfo, error)
	// Sync flushes the file's content and metadata to stable storage.
	Sync() error
	// SyncTo flushes up to length bytes; fullSync reports whether the
	// entire file is now durable (an implementation may always sync the
	// whole file and report true).
	SyncTo(length int64) (fullSync bool, err error)
	// SyncData flushes content without necessarily flushing metadata.
	SyncData() error
	// Prefetch hints that [offset, offset+length) will be read soon.
	Prefetch(offset, length int64) error
	Fd() uintptr
}

// OpenOption configures an Open call, e.g. to request sequential-read
// readahead.
type OpenOption interface {
	Apply(File)
}

// FS is the set of filesystem operations the engine performs. The engine
// passes every file name already joined onto the database directory with
// PathJoin.
type FS interface {
	Create(name string) (File, error)
	Link(oldname, newname string) error
	Open(name string, opts ...OpenOption) (File, error)
	OpenDir(name string) (File, error)
	Remove(name string) error
	RemoveAll(name string) error
	Rename(oldname, newname string) error
	// ReuseForWrite renames oldname to newname and opens it for writing
	// with its existing content kept; writes append at end-of-file.
	// record.OpenAppend calls it with oldname == newname.
	ReuseForWrite(oldname, newname string) (File, error)
	MkdirAll(dir string, perm os.FileMode) error
	// Lock acquires an exclusive advisory lock on name, held until the
	// returned closer is closed.
	Lock(name string) (io.Closer, error)
	List(dir string) ([]string, error)
	PathJoin(elem ...string) string
	PathBase(path string) string
}
