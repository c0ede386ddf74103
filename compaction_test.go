package embeddeddb

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/vfs"
)

func TestLevelWriterCutsMultipleFilesOnSize(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{})

	const targetSize = 512
	w, err := newLevelWriter(db, 1, targetSize)
	if err != nil {
		t.Fatalf("newLevelWriter: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		key := base.MakeInternalKey([]byte(fmt.Sprintf("key-%04d", i)), base.SeqNum(i+1), base.InternalKeyKindSet)
		if err := w.add(key, []byte(fmt.Sprintf("value-%04d-padding-to-grow-the-block", i))); err != nil {
			t.Fatalf("add(%d): %v", i, err)
		}
	}

	newFiles, readers, err := w.finish(db.engine.sem)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	if len(newFiles) <= 1 {
		t.Fatalf("expected more than one file cut at targetSize=%d for %d entries, got %d", targetSize, n, len(newFiles))
	}
	if len(readers) != len(newFiles) {
		t.Fatalf("finish returned %d readers for %d new files", len(readers), len(newFiles))
	}
	for i, nf := range newFiles {
		if nf.Level != 1 {
			t.Fatalf("file %d has level %d, want 1", i, nf.Level)
		}
		if readers[i] == nil {
			t.Fatalf("file %d has a nil reader", i)
		}
	}
}

func TestCompactionEngineKeepsDeletedKeysHiddenAndMetricsAdvance(t *testing.T) {
	fs := vfs.NewMem()
	db := openTestDB(t, fs, "db", Options{
		WriteBufferSize:     1 << 10,
		L0CompactionTrigger: 2,
	})

	const n = 300
	for i := 0; i < n; i++ {
		b := NewBatch()
		b.Put([]byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("value-%04d-padding", i)))
		if err := db.Write(b); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i += 2 {
		b := NewBatch()
		b.Delete([]byte(fmt.Sprintf("key-%04d", i)))
		if err := db.Write(b); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	db.WaitForCompaction()

	if v := testutil.ToFloat64(db.Metrics().flushesTotal); v == 0 {
		t.Fatalf("expected at least one flush")
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		_, found, err := db.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		wantFound := i%2 != 0
		if found != wantFound {
			t.Fatalf("Get(%q) found=%v, want %v", key, found, wantFound)
		}
	}
}
