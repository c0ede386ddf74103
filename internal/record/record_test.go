package record

import (
	"io"
	"testing"

	"github.com/edb-project/embeddeddb/vfs"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	w, err := Open(fs, "log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records := [][]byte{[]byte("first"), []byte("second"), []byte("")}
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			t.Fatalf("Append(%q): %v", rec, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(fs, "log")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	for i, want := range records {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() #%d: %v", i, err)
		}
		if string(got) != string(want) {
			t.Fatalf("Next() #%d = %q, want %q", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next() past last record = %v, want io.EOF", err)
	}
	if r.Torn() {
		t.Fatalf("a cleanly-closed log should not be reported as torn")
	}
}

func TestReaderTolerantOfTornTrailingRecord(t *testing.T) {
	fs := vfs.NewMem()
	w, err := Open(fs, "log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Append([]byte("complete")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append([]byte("this one gets torn")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-append by truncating the file to cut off the
	// second record's payload partway through.
	f, err := fs.Open("log")
	if err != nil {
		t.Fatalf("Open for truncation: %v", err)
	}
	stat, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	f.Close()
	truncateMemFile(t, fs, "log", stat.Size()-5)

	r, err := OpenReader(fs, "log")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() on first (complete) record: %v", err)
	}
	if string(got) != "complete" {
		t.Fatalf("Next() = %q, want \"complete\"", got)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next() on torn record = %v, want io.EOF", err)
	}
	if !r.Torn() {
		t.Fatalf("expected Torn() to report true after a truncated trailing record")
	}
}

// truncateMemFile shortens the in-memory file at name to n bytes by
// rewriting it through Create, the only mutation MemFS exposes for this.
func truncateMemFile(t *testing.T, fs vfs.FS, name string, n int64) {
	t.Helper()
	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	full := make([]byte, n)
	if _, err := f.ReadAt(full, 0); err != nil && err != io.ErrUnexpectedEOF {
		t.Fatalf("ReadAt: %v", err)
	}
	f.Close()

	out, err := fs.Create(name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := out.Write(full); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
