package embeddeddb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/vfs"
)

func openTestDB(t *testing.T, fs vfs.FS, dir string, opts Options) *EmbeddedDB {
	t.Helper()
	opts.FS = fs
	opts.CreateIfMissing = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open(%q): %v", dir, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteThenGet(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b := NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	b.Put([]byte("k2"), []byte("v2"))
	if err := db.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	val, found, err := db.Get([]byte("k1"))
	if err != nil || !found {
		t.Fatalf("Get(k1) = (%q, %v, %v), want (v1, true, nil)", val, found, err)
	}
	if string(val) != "v1" {
		t.Fatalf("Get(k1) = %q, want v1", val)
	}

	if _, found, err := db.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get(missing) = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestDeleteTombstoneShadowsEarlierSet(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b1 := NewBatch()
	b1.Put([]byte("k"), []byte("v1"))
	if err := db.Write(b1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	b2 := NewBatch()
	b2.Delete([]byte("k"))
	if err := db.Write(b2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	if _, found, err := db.Get([]byte("k")); err != nil || found {
		t.Fatalf("Get(k) after delete = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestWriteRejectsEmptyBatch(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	if err := db.Write(NewBatch()); err == nil {
		t.Fatalf("expected Write(empty batch) to fail")
	}
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})
	b := NewBatch()
	b.Put([]byte("k"), []byte("v"))
	if err := db.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	db.Close()

	ro, err := Open("db", Options{FS: fs, ReadOnly: true})
	if err != nil {
		t.Fatalf("Open(ReadOnly): %v", err)
	}
	defer ro.Close()

	if err := ro.Write(NewBatch()); err != base.ErrReadOnly {
		t.Fatalf("Write on a read-only db = %v, want ErrReadOnly", err)
	}
	val, found, err := ro.Get([]byte("k"))
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("Get(k) on read-only db = (%q, %v, %v), want (v, true, nil)", val, found, err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b1 := NewBatch()
	b1.Put([]byte("k"), []byte("before"))
	if err := db.Write(b1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	snap := db.Snapshot()
	defer snap.Close()

	b2 := NewBatch()
	b2.Put([]byte("k"), []byte("after"))
	if err := db.Write(b2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	val, found, err := snap.Get([]byte("k"))
	if err != nil || !found || string(val) != "before" {
		t.Fatalf("snapshot Get(k) = (%q, %v, %v), want (before, true, nil)", val, found, err)
	}

	val, found, err = db.Get([]byte("k"))
	if err != nil || !found || string(val) != "after" {
		t.Fatalf("live Get(k) = (%q, %v, %v), want (after, true, nil)", val, found, err)
	}
}

func TestFlushAndReopenRecovers(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{WriteBufferSize: 1 << 10})

	const n = 200
	for i := 0; i < n; i++ {
		b := NewBatch()
		b.Put([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d-padding", i)))
		if err := db.Write(b); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	db.WaitForCompaction()

	if v := testutil.ToFloat64(db.Metrics().flushesTotal); v == 0 {
		t.Fatalf("expected at least one flush to have run given the small WriteBufferSize")
	}

	id := db.Identity()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open("db", Options{FS: fs})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Identity() != id {
		t.Fatalf("Identity() after reopen = %q, want %q", reopened.Identity(), id)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		val, found, err := reopened.Get([]byte(key))
		if err != nil || !found {
			t.Fatalf("Get(%q) after reopen = (found=%v, err=%v)", key, found, err)
		}
		want := fmt.Sprintf("value-%04d-padding", i)
		if string(val) != want {
			t.Fatalf("Get(%q) after reopen = %q, want %q", key, val, want)
		}
	}
}

func TestDisableWALSkipsLogFileButKeepsCompactedDataDurable(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{WriteBufferSize: 1 << 10, DisableWAL: true})

	const n = 200
	for i := 0; i < n; i++ {
		b := NewBatch()
		b.Put([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d-padding", i)))
		if err := db.Write(b); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	db.WaitForCompaction()

	names, err := fs.List("db")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, name := range names {
		if strings.HasSuffix(name, ".log") {
			t.Fatalf("DisableWAL: found log file %q, want none", name)
		}
	}

	id := db.Identity()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Read after Close so no flush can land in between.
	flushed := db.LastFlushedSequence()
	if flushed == 0 {
		t.Fatalf("LastFlushedSequence() = 0, want at least one flush with a 1KiB WriteBufferSize")
	}

	reopened, err := Open("db", Options{FS: fs, DisableWAL: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Identity() != id {
		t.Fatalf("Identity() after reopen = %q, want %q", reopened.Identity(), id)
	}

	// Write i got sequence i+1. Every write at or below the last flushed
	// sequence is in an SSTable and survives the close/reopen even with no
	// WAL to replay; the rest were still in the memtable (WaitForCompaction
	// does not flush a memtable below WriteBufferSize) and are gone.
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		val, found, err := reopened.Get([]byte(key))
		if base.SeqNum(i+1) > flushed {
			if err != nil || found {
				t.Fatalf("Get(%q) of an unflushed write after reopen = (found=%v, err=%v), want not found", key, found, err)
			}
			continue
		}
		if err != nil || !found {
			t.Fatalf("Get(%q) after reopen = (found=%v, err=%v)", key, found, err)
		}
		want := fmt.Sprintf("value-%04d-padding", i)
		if string(val) != want {
			t.Fatalf("Get(%q) after reopen = %q, want %q", key, val, want)
		}
	}
}

func TestCloseIsIdempotentAndRejectsLateWrites(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})
	if err := db.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("second Close (idempotent) = %v, want nil", err)
	}
	b := NewBatch()
	b.Put([]byte("k"), []byte("v"))
	if err := db.Write(b); err != base.ErrClosed {
		t.Fatalf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})
	db.Close()

	if _, err := Open("db", Options{FS: fs, ErrorIfExists: true}); err != base.ErrAlreadyExists {
		t.Fatalf("Open(ErrorIfExists) on an existing db = %v, want ErrAlreadyExists", err)
	}
}

func TestOpenNotFoundWithoutCreateIfMissing(t *testing.T) {
	fs := vfs.NewMem()
	if _, err := Open("missing", Options{FS: fs}); err != base.ErrNotFound {
		t.Fatalf("Open(missing dir, CreateIfMissing=false) = %v, want ErrNotFound", err)
	}
}
