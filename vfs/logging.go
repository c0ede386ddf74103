package vfs

// LogFunc receives a printf-style message for every FS/File operation when
// an FS is wrapped with WithLogging.
type LogFunc func(format string, args ...interface{})

type loggingFS struct {
	FS
	log LogFunc
}

// WithLogging wraps fs so that Create, Open, Remove, Rename and
// ReuseForWrite, and Sync, SyncTo, SyncData and Close on the files they
// return, are reported to log (other operations pass through unlogged),
// tagged the way the teacher's demo tagged sync calls (e.g.
// "sync-data") so a caller can filter them out.
func WithLogging(fs FS, log LogFunc) FS {
	return &loggingFS{FS: fs, log: log}
}

func (fs *loggingFS) Create(name string) (File, error) {
	fs.log("create: %s", name)
	f, err := fs.FS.Create(name)
	if err != nil {
		return nil, err
	}
	return &loggingFile{File: f, name: name, log: fs.log}, nil
}

func (fs *loggingFS) Open(name string, opts ...OpenOption) (File, error) {
	fs.log("open: %s", name)
	f, err := fs.FS.Open(name, opts...)
	if err != nil {
		return nil, err
	}
	return &loggingFile{File: f, name: name, log: fs.log}, nil
}

func (fs *loggingFS) Remove(name string) error {
	fs.log("remove: %s", name)
	return fs.FS.Remove(name)
}

func (fs *loggingFS) Rename(oldname, newname string) error {
	fs.log("rename: %s -> %s", oldname, newname)
	return fs.FS.Rename(oldname, newname)
}

func (fs *loggingFS) ReuseForWrite(oldname, newname string) (File, error) {
	fs.log("reuse-for-write: %s -> %s", oldname, newname)
	f, err := fs.FS.ReuseForWrite(oldname, newname)
	if err != nil {
		return nil, err
	}
	return &loggingFile{File: f, name: newname, log: fs.log}, nil
}

type loggingFile struct {
	File
	name string
	log  LogFunc
}

func (f *loggingFile) Sync() error {
	f.log("sync: %s", f.name)
	return f.File.Sync()
}

func (f *loggingFile) SyncTo(length int64) (bool, error) {
	f.log("sync-to: %s", f.name)
	return f.File.SyncTo(length)
}

func (f *loggingFile) SyncData() error {
	f.log("sync-data: %s", f.name)
	return f.File.SyncData()
}

func (f *loggingFile) Close() error {
	f.log("close: %s", f.name)
	return f.File.Close()
}
