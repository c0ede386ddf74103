package manifest

import (
	"testing"

	"github.com/edb-project/embeddeddb/internal/base"
)

func fileEntry(level int, num base.FileNum, smallest, largest string) NewFileEntry {
	return NewFileEntry{
		Level:       level,
		Number:      num,
		FileSize:    1,
		SmallestKey: base.MakeInternalKey([]byte(smallest), 1, base.InternalKeyKindSet),
		LargestKey:  base.MakeInternalKey([]byte(largest), 1, base.InternalKeyKindSet),
	}
}

func TestApplyNewEditAddsAndRemovesFiles(t *testing.T) {
	var released []base.FileNum
	vs := New(func(n base.FileNum) { released = append(released, n) }, Options{NumLevels: 3})

	edit := &VersionEdit{NewFiles: []NewFileEntry{fileEntry(0, 1, "a", "c")}}
	v, err := vs.ApplyNewEdit(edit, nil)
	if err != nil {
		t.Fatalf("ApplyNewEdit: %v", err)
	}
	if len(v.Levels[0]) != 1 || v.Levels[0][0].Number != 1 {
		t.Fatalf("expected level 0 to contain file 1, got %+v", v.Levels[0])
	}
	v.Unref()

	edit2 := &VersionEdit{
		NewFiles:     []NewFileEntry{fileEntry(0, 2, "d", "f")},
		DeletedFiles: []DeletedFileEntry{{Level: 0, Number: 1}},
	}
	v2, err := vs.ApplyNewEdit(edit2, nil)
	if err != nil {
		t.Fatalf("ApplyNewEdit: %v", err)
	}
	defer v2.Unref()
	if len(v2.Levels[0]) != 1 || v2.Levels[0][0].Number != 2 {
		t.Fatalf("expected level 0 to contain only file 2 after delete, got %+v", v2.Levels[0])
	}
	if len(released) != 1 || released[0] != 1 {
		t.Fatalf("expected file 1 to be released exactly once, got %v", released)
	}
}

func TestPickMemtableLevelAvoidsOverlap(t *testing.T) {
	vs := New(func(base.FileNum) {}, Options{NumLevels: 4})
	// Level 1 occupies [a, c]; a flush covering [d, f] doesn't overlap it
	// (or any other level, all empty) and sinks to the deepest level.
	v, err := vs.ApplyNewEdit(&VersionEdit{NewFiles: []NewFileEntry{fileEntry(1, 1, "a", "c")}}, nil)
	if err != nil {
		t.Fatalf("ApplyNewEdit: %v", err)
	}
	v.Unref()

	level, foundOverlap := vs.PickMemtableLevel([]byte("d"), []byte("f"))
	if level != 3 {
		t.Fatalf("PickMemtableLevel([d,f]) = level %d, want 3 (deepest, no overlap anywhere)", level)
	}
	if foundOverlap {
		t.Fatalf("PickMemtableLevel([d,f]) should not find a deeper overlap here")
	}

	level, _ = vs.PickMemtableLevel([]byte("b"), []byte("bz"))
	if level != 0 {
		t.Fatalf("PickMemtableLevel([b,bz]) overlapping level 1 = level %d, want 0", level)
	}
}

func TestSelectTablesToCompactScoresL0ByFileCount(t *testing.T) {
	vs := New(func(base.FileNum) {}, Options{NumLevels: 3, L0CompactionTrigger: 2})

	if _, ok := vs.SelectTablesToCompact(); ok {
		t.Fatalf("expected no compaction needed for an empty version")
	}

	edit := &VersionEdit{NewFiles: []NewFileEntry{
		fileEntry(0, 1, "a", "b"),
		fileEntry(0, 2, "c", "d"),
	}}
	v, err := vs.ApplyNewEdit(edit, nil)
	if err != nil {
		t.Fatalf("ApplyNewEdit: %v", err)
	}
	defer v.Unref()

	c, ok := vs.SelectTablesToCompact()
	if !ok {
		t.Fatalf("expected L0 compaction to be selected once file count reaches the trigger")
	}
	if c.Level != 0 || c.NextLevel != 1 {
		t.Fatalf("Compaction = %+v, want Level=0 NextLevel=1", c)
	}
	if len(c.Tables) != 2 {
		t.Fatalf("expected both L0 files to be picked for compaction, got %d", len(c.Tables))
	}
}

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	nfn := uint64(7)
	ls := base.SeqNum(42)
	edit := &VersionEdit{
		NextFileNumber: &nfn,
		LastSequence:   &ls,
		NewFiles:       []NewFileEntry{fileEntry(2, 5, "m", "z")},
		DeletedFiles:   []DeletedFileEntry{{Level: 1, Number: 3}},
	}

	decoded, err := DecodeVersionEdit(edit.Encode())
	if err != nil {
		t.Fatalf("DecodeVersionEdit: %v", err)
	}
	if decoded.NextFileNumber == nil || *decoded.NextFileNumber != nfn {
		t.Fatalf("NextFileNumber round trip failed: %+v", decoded.NextFileNumber)
	}
	if decoded.LastSequence == nil || *decoded.LastSequence != ls {
		t.Fatalf("LastSequence round trip failed: %+v", decoded.LastSequence)
	}
	if len(decoded.NewFiles) != 1 || decoded.NewFiles[0].Number != 5 {
		t.Fatalf("NewFiles round trip failed: %+v", decoded.NewFiles)
	}
	if len(decoded.DeletedFiles) != 1 || decoded.DeletedFiles[0].Number != 3 {
		t.Fatalf("DeletedFiles round trip failed: %+v", decoded.DeletedFiles)
	}
}
