package base

import "fmt"

// FileNum is a globally unique, never-reused identifier for an on-disk
// file (an SSTable or a manifest). Invariant 3 of the data model requires
// that once allocated, a FileNum is never handed out again for the
// lifetime of a database.
type FileNum uint64

// String renders the number the way filenames embed it, e.g. "000123".
func (n FileNum) String() string { return fmt.Sprintf("%06d", uint64(n)) }

// Logger is the minimal logging surface the engine writes diagnostics to.
// It intentionally has no Debugf: the engine's own internal tracing goes
// through Infof so that a quiet default Logger can simply drop it.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}
