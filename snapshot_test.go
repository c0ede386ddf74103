package embeddeddb

import (
	"testing"

	"github.com/edb-project/embeddeddb/vfs"
)

// collect drains it via First/Next into a flat list of (key, value) pairs.
func collect(t *testing.T, it *Iterator) []string {
	t.Helper()
	var got []string
	for it.First(); it.Valid(); it.Next() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	return got
}

func TestSnapshotIteratorDedupesNewerVersions(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b1 := NewBatch()
	b1.Put([]byte("a"), []byte("a1"))
	b1.Put([]byte("b"), []byte("b1"))
	b1.Put([]byte("c"), []byte("c1"))
	if err := db.Write(b1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	snap := db.Snapshot()
	defer snap.Close()

	b2 := NewBatch()
	b2.Put([]byte("a"), []byte("a2"))
	b2.Put([]byte("d"), []byte("d1"))
	if err := db.Write(b2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	// The snapshot predates the second write: it must see the original
	// three entries and nothing of "d", regardless of how many newer
	// versions now sit on top of "a" in the live memtable.
	got := collect(t, snap.NewIter())
	want := []string{"a=a1", "b=b1", "c=c1"}
	if !equalStrings(got, want) {
		t.Fatalf("snapshot iteration = %v, want %v", got, want)
	}

	live := collect(t, db.Snapshot().NewIter())
	wantLive := []string{"a=a2", "b=b1", "c=c1", "d=d1"}
	if !equalStrings(live, wantLive) {
		t.Fatalf("live iteration = %v, want %v", live, wantLive)
	}
}

func TestSnapshotIteratorSuppressesTombstonedKeys(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b1 := NewBatch()
	b1.Put([]byte("a"), []byte("a1"))
	b1.Put([]byte("b"), []byte("b1"))
	b1.Put([]byte("c"), []byte("c1"))
	if err := db.Write(b1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	b2 := NewBatch()
	b2.Delete([]byte("b"))
	if err := db.Write(b2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	got := collect(t, db.Snapshot().NewIter())
	want := []string{"a=a1", "c=c1"}
	if !equalStrings(got, want) {
		t.Fatalf("iteration after delete = %v, want %v (tombstoned \"b\" must not appear)", got, want)
	}
}

func TestSnapshotIteratorSeekGESkipsShadowedAndTombstonedEntries(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	b1 := NewBatch()
	b1.Put([]byte("a"), []byte("a1"))
	b1.Put([]byte("m"), []byte("m1"))
	b1.Put([]byte("z"), []byte("z1"))
	if err := db.Write(b1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}

	b2 := NewBatch()
	b2.Delete([]byte("m"))
	if err := db.Write(b2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	it := db.Snapshot().NewIter()
	defer it.Close()
	it.SeekGE([]byte("b"))
	if !it.Valid() {
		t.Fatalf("SeekGE(b) should land on \"z\" since \"m\" is tombstoned")
	}
	if string(it.Key()) != "z" {
		t.Fatalf("SeekGE(b) landed on %q, want \"z\"", it.Key())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
