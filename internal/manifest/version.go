package manifest

import (
	"sync/atomic"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/sstable"
)

// ReleaseFunc is invoked once a FileMetadata is no longer referenced by any
// live Version, the signal that its backing file may be physically
// unlinked. It must not perform IO itself (spec.md §9): implementations
// should just queue the file number.
type ReleaseFunc func(base.FileNum)

// FileMetadata is the spec's per-table metadata entry, ref-counted across
// every Version that includes it (invariant 4: a file is only unlinked
// once every Version that ever referenced it has been dropped).
type FileMetadata struct {
	Number      base.FileNum
	Level       int
	FileSize    uint64
	SmallestKey base.InternalKey
	LargestKey  base.InternalKey

	// Table is the open handle used to serve reads; nil until Open has
	// been called on a recovered or newly-built file.
	Table *sstable.Reader

	refs    atomic.Int32
	release ReleaseFunc
}

func (f *FileMetadata) ref() { f.refs.Add(1) }

func (f *FileMetadata) unref() {
	if f.refs.Add(-1) == 0 {
		if f.Table != nil {
			_ = f.Table.Close()
		}
		if f.release != nil {
			f.release(f.Number)
		}
	}
}

// overlaps reports whether [smallest, largest] (user keys) could intersect
// this file's key range under cmp.
func (f *FileMetadata) overlaps(cmp base.Compare, smallest, largest []byte) bool {
	if cmp(smallest, f.LargestKey.UserKey) > 0 {
		return false
	}
	if cmp(largest, f.SmallestKey.UserKey) < 0 {
		return false
	}
	return true
}

// Version is an immutable, ref-counted snapshot of the file set across all
// levels, plus the bookkeeping fields persisted alongside it. Readers hold
// a reference (via Ref/Unref) that keeps every file it mentions from being
// unlinked out from under them, even after a later Version supersedes it.
type Version struct {
	Levels [][]*FileMetadata

	LastSequence   base.SeqNum
	LogNumber      uint64
	PrevLogNumber  uint64
	NextFileNumber uint64

	refs atomic.Int32
}

// Ref increments the reference count. Called once when a Version becomes
// the VersionSet's current version, and again for every handle given out
// by LatestVersion or ApplyNewEdit and every snapshot that captures it.
func (v *Version) Ref() { v.refs.Add(1) }

// Unref decrements the reference count. On the last reference, every file
// mentioned only by this Version is released.
func (v *Version) Unref() {
	if v.refs.Add(-1) == 0 {
		for _, level := range v.Levels {
			for _, f := range level {
				f.unref()
			}
		}
	}
}

// level returns the files at level L, or nil if the level is empty.
func (v *Version) level(l int) []*FileMetadata {
	if l < 0 || l >= len(v.Levels) {
		return nil
	}
	return v.Levels[l]
}

// NumLevels returns the number of (possibly empty) levels this version
// tracks.
func (v *Version) NumLevels() int { return len(v.Levels) }

// Get performs the spec.md §4.6 lookup: level 0 is scanned newest-first
// (files are appended to L0 in creation order, so we walk it in reverse),
// levels >= 1 are binary-searched for the one file whose range could
// contain the key. The first hit wins; a Deletion-kind entry is reported
// as "not found" but is still distinguishable from "no entry at all" via
// the found/isDelete pair.
func (v *Version) Get(cmp base.Compare, userKey []byte) (value []byte, found bool, isDelete bool, err error) {
	l0 := v.level(0)
	for i := len(l0) - 1; i >= 0; i-- {
		f := l0[i]
		if !f.overlaps(cmp, userKey, userKey) {
			continue
		}
		value, found, isDelete, err = probeTable(f, cmp, userKey)
		if err != nil {
			return nil, false, false, err
		}
		if found {
			return value, true, isDelete, nil
		}
	}

	for l := 1; l < len(v.Levels); l++ {
		files := v.Levels[l]
		idx := binarySearchLevel(cmp, files, userKey)
		if idx < 0 {
			continue
		}
		f := files[idx]
		if !f.overlaps(cmp, userKey, userKey) {
			continue
		}
		value, found, isDelete, err = probeTable(f, cmp, userKey)
		if err != nil {
			return nil, false, false, err
		}
		if found {
			return value, true, isDelete, nil
		}
	}
	return nil, false, false, nil
}

func probeTable(f *FileMetadata, cmp base.Compare, userKey []byte) (value []byte, found bool, isDelete bool, err error) {
	if f.Table == nil {
		return nil, false, false, nil
	}
	entry, ok, err := f.Table.Get(userKey)
	if err != nil || !ok {
		return nil, false, false, err
	}
	if entry.Key.Kind() == base.InternalKeyKindDelete {

		return nil, true, true, nil
	}
	return entry.Value, true, false, nil
}

// binarySearchLevel returns the index of the single file at a non-
// overlapping level whose range could contain userKey, or -1.
func binarySearchLevel(cmp base.Compare, files []*FileMetadata, userKey []byte) int {
	lo, hi := 0, len(files)-1
	result := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp(files[mid].SmallestKey.UserKey, userKey) <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// OverlapsRange reports whether any file in files overlaps [smallest,
// largest].
func OverlapsRange(cmp base.Compare, files []*FileMetadata, smallest, largest []byte) bool {
	for _, f := range files {
		if f.overlaps(cmp, smallest, largest) {
			return true
		}
	}
	return false
}
