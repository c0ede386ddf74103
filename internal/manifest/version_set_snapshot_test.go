package manifest

import (
	"testing"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/record"
	"github.com/edb-project/embeddeddb/vfs"
)

// TestWriteToNewAndRecoverExistingRoundTrip exercises the manifest's
// compressed initial snapshot record end to end: WriteToNew compresses it,
// RecoverExisting must decompress exactly that first record (and leave any
// following delta records alone) to recover the same file set.
func TestWriteToNewAndRecoverExistingRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	vs := New(func(base.FileNum) {}, Options{NumLevels: 3})

	v, err := vs.ApplyNewEdit(&VersionEdit{NewFiles: []NewFileEntry{
		fileEntry(0, 1, "a", "c"),
		fileEntry(1, 2, "m", "z"),
	}}, nil)
	if err != nil {
		t.Fatalf("ApplyNewEdit: %v", err)
	}
	v.Unref()

	w, err := record.Open(fs, "MANIFEST-000001")
	if err != nil {
		t.Fatalf("record.Open: %v", err)
	}
	if err := vs.WriteToNew(w); err != nil {
		t.Fatalf("WriteToNew: %v", err)
	}

	// A delta record appended after the snapshot must not be run through
	// the snapshot (de)compressor.
	deleted := &VersionEdit{DeletedFiles: []DeletedFileEntry{{Level: 0, Number: 1}}}
	if err := w.Append(deleted.Encode()); err != nil {
		t.Fatalf("Append delta: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := record.OpenReader(fs, "MANIFEST-000001")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	recovered, err := RecoverExisting(r, func(base.FileNum) {}, Options{NumLevels: 3})
	if err != nil {
		t.Fatalf("RecoverExisting: %v", err)
	}

	cur := recovered.LatestVersion()
	defer cur.Unref()
	if len(cur.Levels[0]) != 0 {
		t.Fatalf("expected file 1 to have been deleted by the trailing delta, got %+v", cur.Levels[0])
	}
	if len(cur.Levels[1]) != 1 || cur.Levels[1][0].Number != 2 {
		t.Fatalf("expected file 2 to survive recovery on level 1, got %+v", cur.Levels[1])
	}
}
