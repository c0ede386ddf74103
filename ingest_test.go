package embeddeddb

import (
	"fmt"
	"testing"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/sstable"
	"github.com/edb-project/embeddeddb/vfs"
)

// buildIngestSource writes an SSTable of n entries at placeholder sequence
// 0, the shape IngestExternalFiles requires of its source files.
func buildIngestSource(t *testing.T, fs vfs.FS, name string, start, n int) string {
	t.Helper()
	b, err := sstable.NewBuilder(fs, name, sstable.Options{})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for i := start; i < start+n; i++ {
		ikey := base.MakeInternalKey([]byte(fmt.Sprintf("key-%04d", i)), 0, base.InternalKeyKindSet)
		if err := b.Add(ikey, []byte(fmt.Sprintf("value-%04d", i))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return name
}

func TestIngestExternalFilesHappyPath(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	src1 := buildIngestSource(t, fs, "src1.sst", 0, 50)
	src2 := buildIngestSource(t, fs, "src2.sst", 100, 50)

	if err := db.IngestExternalFiles([]string{src1, src2}); err != nil {
		t.Fatalf("IngestExternalFiles: %v", err)
	}

	for _, i := range []int{0, 49, 100, 149} {
		key := fmt.Sprintf("key-%04d", i)
		val, found, err := db.Get([]byte(key))
		if err != nil || !found {
			t.Fatalf("Get(%q) = (found=%v, err=%v), want found", key, found, err)
		}
		want := fmt.Sprintf("value-%04d", i)
		if string(val) != want {
			t.Fatalf("Get(%q) = %q, want %q", key, val, want)
		}
	}
}

func TestIngestExternalFilesRejectsOverlappingSources(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	src1 := buildIngestSource(t, fs, "src1.sst", 0, 50)
	src2 := buildIngestSource(t, fs, "src2.sst", 25, 50) // overlaps src1

	if err := db.IngestExternalFiles([]string{src1, src2}); err == nil {
		t.Fatalf("expected IngestExternalFiles to reject overlapping source files")
	}
}

func TestIngestExternalFilesRejectsNonSetEntries(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b, err := sstable.NewBuilder(fs, "bad.sst", sstable.Options{})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	ikey := base.MakeInternalKey([]byte("k"), 0, base.InternalKeyKindDelete)
	if err := b.Add(ikey, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if err := db.IngestExternalFiles([]string{"bad.sst"}); err == nil {
		t.Fatalf("expected IngestExternalFiles to reject a source table with a non-Set entry")
	}
}

func TestIngestExternalFilesRejectsNonZeroSequence(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b, err := sstable.NewBuilder(fs, "bad.sst", sstable.Options{})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	ikey := base.MakeInternalKey([]byte("k"), 1, base.InternalKeyKindSet)
	if err := b.Add(ikey, []byte("v")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if err := db.IngestExternalFiles([]string{"bad.sst"}); err == nil {
		t.Fatalf("expected IngestExternalFiles to reject a source table carrying a non-zero sequence")
	}
}

func TestIngestExternalFilesOnEmptyPathsIsNoop(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})
	if err := db.IngestExternalFiles(nil); err != nil {
		t.Fatalf("IngestExternalFiles(nil) = %v, want nil", err)
	}
}

func TestIngestExternalFilesRejectedOnReadOnlyDB(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})
	db.Close()

	ro, err := Open("db", Options{FS: fs, ReadOnly: true})
	if err != nil {
		t.Fatalf("Open(ReadOnly): %v", err)
	}
	defer ro.Close()

	if err := ro.IngestExternalFiles([]string{"anything.sst"}); err != base.ErrReadOnly {
		t.Fatalf("IngestExternalFiles on a read-only db = %v, want ErrReadOnly", err)
	}
}
