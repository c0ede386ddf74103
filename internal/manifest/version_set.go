package manifest

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/record"
	"github.com/edb-project/embeddeddb/internal/sstable"
	"github.com/edb-project/embeddeddb/vfs"
)

// Options configures a VersionSet: the comparator that orders keys, and
// the per-level compaction tuning spec.md §6 enumerates.
type Options struct {
	Compare base.Compare

	L0CompactionTrigger int
	TargetFileSizeBase  uint64
	TargetFileSizeMulti float64
	LevelSizeBase       uint64
	LevelSizeMultiplier float64
	NumLevels           int
}

func (o Options) withDefaults() Options {
	if o.Compare == nil {
		o.Compare = base.DefaultCompare
	}
	if o.L0CompactionTrigger == 0 {
		o.L0CompactionTrigger = 4
	}
	if o.TargetFileSizeBase == 0 {
		o.TargetFileSizeBase = 2 << 20
	}
	if o.TargetFileSizeMulti == 0 {
		o.TargetFileSizeMulti = 2
	}
	if o.LevelSizeBase == 0 {
		o.LevelSizeBase = 10 << 20
	}
	if o.LevelSizeMultiplier == 0 {
		o.LevelSizeMultiplier = 10
	}
	if o.NumLevels == 0 {
		o.NumLevels = 7
	}
	return o
}

// Compaction describes a selected level-to-level merge, spec.md §4.5.
type Compaction struct {
	Level                int
	NextLevel            int
	Tables               []*FileMetadata
	NextLevelTables      []*FileMetadata
	FoundOverlapAtDeeper bool
}

// VersionSet owns the current Version plus the allocator/cursor state that
// is not itself part of any single Version snapshot.
type VersionSet struct {
	opts    Options
	release ReleaseFunc

	mu struct {
		sync.Mutex
		current *Version
	}

	nextFileNumber atomic.Uint64
	lastSequence   atomic.Uint64
	logNumber      atomic.Uint64
	prevLogNumber  atomic.Uint64

	// compactionCursor[level] round-robins which file in `level` is picked
	// next when its score crosses 1.0, so repeated compactions sweep the
	// whole level instead of always picking the same file.
	cursorMu         sync.Mutex
	compactionCursor map[int]int
}

// New creates an empty VersionSet (used by EmbeddedDB.openNew before the
// very first VersionEdit is applied).
func New(release ReleaseFunc, opts Options) *VersionSet {
	opts = opts.withDefaults()
	vs := &VersionSet{opts: opts, release: release, compactionCursor: make(map[int]int)}
	vs.nextFileNumber.Store(2)
	v := &Version{Levels: make([][]*FileMetadata, opts.NumLevels)}
	v.Ref()
	vs.mu.current = v
	return vs
}

// NextFileNumber allocates and returns the next globally unique file
// number. Numbers are never reused (invariant 3).
func (vs *VersionSet) NextFileNumber() uint64 {
	return vs.nextFileNumber.Add(1) - 1
}

// PeekNextFileNumber returns the allocator's current value without
// consuming it, used when persisting next_file_number into a VersionEdit
// (the edit must record the number that will be handed out next, not
// allocate one just to describe the counter).
func (vs *VersionSet) PeekNextFileNumber() uint64 { return vs.nextFileNumber.Load() }

// markFileNumUsed bumps the allocator past num if num has already been
// handed out some other way (e.g. observed in a recovered manifest).
func (vs *VersionSet) markFileNumUsed(num uint64) {
	for {
		cur := vs.nextFileNumber.Load()
		if num < cur {
			return
		}
		if vs.nextFileNumber.CompareAndSwap(cur, num+1) {
			return
		}
	}
}

// LastSequence returns the sequence number recorded by the most recent
// applied edit.
func (vs *VersionSet) LastSequence() base.SeqNum { return base.SeqNum(vs.lastSequence.Load()) }

// LogNumber returns the WAL file number backing the current mutable
// memtable, or 0 if WAL is disabled.
func (vs *VersionSet) LogNumber() uint64 { return vs.logNumber.Load() }

// PrevLogNumber returns the WAL file number still backing an immutable
// memtable awaiting flush, or 0.
func (vs *VersionSet) PrevLogNumber() uint64 { return vs.prevLogNumber.Load() }

// LatestVersion returns a referenced handle to the current Version. The
// caller must call Unref when done (a Snapshot does this on release).
func (vs *VersionSet) LatestVersion() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v := vs.mu.current
	v.Ref()
	return v
}

// TargetFileSize returns the target output-file size for level, growing
// geometrically as spec.md describes.
func (vs *VersionSet) TargetFileSize(level int) uint64 {
	size := float64(vs.opts.TargetFileSizeBase)
	for i := 0; i < level; i++ {
		size *= vs.opts.TargetFileSizeMulti
	}
	return uint64(size)
}

func (vs *VersionSet) levelSizeBudget(level int) uint64 {
	size := float64(vs.opts.LevelSizeBase)
	for i := 1; i < level; i++ {
		size *= vs.opts.LevelSizeMultiplier
	}
	return uint64(size)
}

// ApplyNewEdit composes edit onto the current Version, installs the result
// as current, and returns it with one reference owned by the caller (in
// addition to the VersionSet's own), which the caller must Unref, just as
// for LatestVersion. openedTables must already be Open'd and in the same
// order as edit.NewFiles.
func (vs *VersionSet) ApplyNewEdit(edit *VersionEdit, openedTables []*sstable.Reader) (*Version, error) {
	vs.mu.Lock()
	old := vs.mu.current
	next := applyEdit(vs.opts, old, edit, openedTables, vs.release)
	next.Ref()
	next.Ref()
	vs.mu.current = next
	vs.mu.Unlock()

	if edit.NextFileNumber != nil {
		vs.markFileNumUsed(*edit.NextFileNumber - 1)
	}
	if edit.LogNumber != nil {
		vs.logNumber.Store(*edit.LogNumber)
	}
	if edit.PrevLogNumber != nil {
		vs.prevLogNumber.Store(*edit.PrevLogNumber)
	}
	if edit.LastSequence != nil {
		vs.lastSequence.Store(uint64(*edit.LastSequence))
	}

	old.Unref()
	return next, nil
}

// applyEdit is the pure function composing an edit onto a Version's file
// lists, shared by ApplyNewEdit (live path) and RecoverExisting (replay
// path).
func applyEdit(opts Options, old *Version, edit *VersionEdit, openedTables []*sstable.Reader, release ReleaseFunc) *Version {
	levels := make([][]*FileMetadata, len(old.Levels))
	for i, files := range old.Levels {
		levels[i] = append([]*FileMetadata(nil), files...)
		for _, f := range files {
			f.ref()
		}
	}

	for _, d := range edit.DeletedFiles {
		levels[d.Level] = removeFile(levels[d.Level], d.Number)
	}

	for i, nf := range edit.NewFiles {
		fm := &FileMetadata{
			Number:      nf.Number,
			Level:       nf.Level,
			FileSize:    nf.FileSize,
			SmallestKey: nf.SmallestKey,
			LargestKey:  nf.LargestKey,
			release:     release,
		}
		if i < len(openedTables) {
			fm.Table = openedTables[i]
		}
		fm.ref()
		levels[nf.Level] = append(levels[nf.Level], fm)
	}

	// L0 keeps insertion (creation) order since its ranges may overlap and
	// Version.Get must scan it newest-first. Levels >= 1 must stay sorted
	// and non-overlapping (invariant 2).
	for l := 1; l < len(levels); l++ {
		sort.Slice(levels[l], func(i, j int) bool {
			return opts.Compare(levels[l][i].SmallestKey.UserKey, levels[l][j].SmallestKey.UserKey) < 0
		})
	}

	next := &Version{
		Levels:         levels,
		LastSequence:   old.LastSequence,
		LogNumber:      old.LogNumber,
		PrevLogNumber:  old.PrevLogNumber,
		NextFileNumber: old.NextFileNumber,
	}
	if edit.LastSequence != nil {
		next.LastSequence = *edit.LastSequence
	}
	if edit.LogNumber != nil {
		next.LogNumber = *edit.LogNumber
	}
	if edit.PrevLogNumber != nil {
		next.PrevLogNumber = *edit.PrevLogNumber
	}
	if edit.NextFileNumber != nil {
		next.NextFileNumber = *edit.NextFileNumber
	}
	return next
}

func removeFile(files []*FileMetadata, num base.FileNum) []*FileMetadata {
	out := files[:0:0]
	for _, f := range files {
		if f.Number == num {
			f.unref()
			continue
		}
		out = append(out, f)
	}
	return out
}

// WriteToNew emits the current Version as the first (snapshot) record of a
// brand new manifest file, the format RecoverExisting expects to read back.
func (vs *VersionSet) WriteToNew(w *record.Writer) error {
	vs.mu.Lock()
	v := vs.mu.current
	v.Ref()
	vs.mu.Unlock()
	defer v.Unref()

	edit := &VersionEdit{}
	nfn := vs.nextFileNumber.Load()
	edit.NextFileNumber = &nfn
	ls := base.SeqNum(vs.lastSequence.Load())
	edit.LastSequence = &ls
	if ln := vs.logNumber.Load(); ln != 0 {
		edit.LogNumber = &ln
	}
	if pln := vs.prevLogNumber.Load(); pln != 0 {
		edit.PrevLogNumber = &pln
	}
	for _, level := range v.Levels {
		for _, f := range level {
			edit.NewFiles = append(edit.NewFiles, NewFileEntry{
				Level:       f.Level,
				Number:      f.Number,
				FileSize:    f.FileSize,
				SmallestKey: f.SmallestKey,
				LargestKey:  f.LargestKey,
			})
		}
	}
	compressed, err := record.CompressSnapshot(edit.Encode())
	if err != nil {
		return err
	}
	return w.Append(compressed)
}

// RecoverExisting replays a manifest: the first record is the full
// snapshot (as written by WriteToNew), subsequent records are deltas
// applied in order. A parse failure mid-stream is fatal (spec.md §7); a
// torn trailing record is tolerated as "nothing more to replay".
func RecoverExisting(r *record.Reader, release ReleaseFunc, opts Options) (*VersionSet, error) {
	opts = opts.withDefaults()
	vs := &VersionSet{opts: opts, release: release, compactionCursor: make(map[int]int)}
	v := &Version{Levels: make([][]*FileMetadata, opts.NumLevels)}
	v.Ref()

	present := make(map[base.FileNum]bool)
	first := true
	for {
		payload, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			payload, err = record.DecompressSnapshot(payload)
			if err != nil {
				return nil, err
			}
		}
		edit, err := DecodeVersionEdit(payload)
		if err != nil {
			return nil, err
		}

		for _, d := range edit.DeletedFiles {
			if !present[d.Number] {
				return nil, base.CorruptionErrorf("manifest: edit deletes file %d which is not present", d.Number)
			}
			delete(present, d.Number)
		}
		for _, nf := range edit.NewFiles {
			if present[nf.Number] {
				return nil, base.CorruptionErrorf("manifest: edit adds file %d which is already present", nf.Number)
			}
			present[nf.Number] = true
		}

		next := applyEdit(opts, v, edit, nil, release)
		next.Ref()
		v.Unref()
		v = next

		if edit.NextFileNumber != nil {
			vs.markFileNumUsed(*edit.NextFileNumber - 1)
		}
		if edit.LogNumber != nil {
			vs.logNumber.Store(*edit.LogNumber)
		}
		if edit.PrevLogNumber != nil {
			vs.prevLogNumber.Store(*edit.PrevLogNumber)
		}
		if edit.LastSequence != nil {
			vs.lastSequence.Store(uint64(*edit.LastSequence))
		}
		first = false
	}
	if first {
		return nil, base.CorruptionErrorf("manifest: empty manifest file")
	}

	vs.mu.current = v
	return vs, nil
}

// OpenAllTables opens every SSTable the current Version references that is
// not already open, used right after RecoverExisting.
func (vs *VersionSet) OpenAllTables(fs vfs.FS, tablePath func(base.FileNum) string, tableOpts sstable.Options) error {
	vs.mu.Lock()
	v := vs.mu.current
	vs.mu.Unlock()

	for _, level := range v.Levels {
		for _, f := range level {
			if f.Table != nil {
				continue
			}
			r, err := sstable.Open(fs, tablePath(f.Number), tableOpts)
			if err != nil {
				return base.CorruptionErrorf("manifest: missing table %d referenced by manifest: %v", f.Number, err)
			}
			f.Table = r
		}
	}
	return nil
}

// PickMemtableLevel implements spec.md §4.5's pick_memtable_level: the
// deepest level L such that [smallest, largest] doesn't overlap any file
// at L or at L-1, falling back to level 0. foundOverlap is true iff any
// deeper level than the chosen one contains an overlapping file, which the
// compaction engine uses to decide whether tombstones are safe to drop.
func (vs *VersionSet) PickMemtableLevel(smallest, largest []byte) (level int, foundOverlap bool) {
	v := vs.LatestVersion()
	defer v.Unref()

	maxLevel := len(v.Levels) - 1
	level = 0
	for l := 1; l <= maxLevel; l++ {
		if OverlapsRange(vs.opts.Compare, v.level(l), smallest, largest) {
			break
		}
		if OverlapsRange(vs.opts.Compare, v.level(l-1), smallest, largest) {
			break
		}
		level = l
	}

	for l := level + 1; l <= maxLevel; l++ {
		if OverlapsRange(vs.opts.Compare, v.level(l), smallest, largest) {
			foundOverlap = true
			break
		}
	}
	return level, foundOverlap
}

// SelectTablesToCompact implements spec.md §4.5's scoring selection: L0
// scores file_count/L0CompactionTrigger, L>=1 scores
// total_bytes/levelSizeBudget(L); the highest-scoring level >= 1.0 is
// compacted. Returns ok=false if no level needs compaction.
func (vs *VersionSet) SelectTablesToCompact() (*Compaction, bool) {
	v := vs.LatestVersion()
	defer v.Unref()

	bestLevel := -1
	bestScore := 1.0
	for l := 0; l < len(v.Levels); l++ {
		var score float64
		if l == 0 {
			score = float64(len(v.level(0))) / float64(vs.opts.L0CompactionTrigger)
		} else {
			score = float64(levelBytes(v.level(l))) / float64(vs.levelSizeBudget(l))
		}
		if score >= bestScore {
			bestScore = score
			bestLevel = l
		}
	}
	if bestLevel < 0 {
		return nil, false
	}

	files := v.level(bestLevel)
	if len(files) == 0 {
		return nil, false
	}

	var picked []*FileMetadata
	if bestLevel == 0 {
		// Level-0 special case: merge every L0 file, since they may
		// pairwise overlap and all must be considered together.
		picked = append(picked, files...)
	} else {
		idx := vs.nextCompactionIndex(bestLevel, len(files))
		picked = append(picked, files[idx])
		picked = expandToContiguousRange(vs.opts.Compare, files, picked)
	}

	smallest, largest := rangeOf(vs.opts.Compare, picked)
	nextLevel := bestLevel + 1
	if nextLevel >= len(v.Levels) {
		nextLevel = len(v.Levels) - 1
	}
	var nextLevelTables []*FileMetadata
	for _, f := range v.level(nextLevel) {
		if f.overlaps(vs.opts.Compare, smallest, largest) {
			nextLevelTables = append(nextLevelTables, f)
		}
	}

	foundOverlapDeeper := false
	for l := nextLevel + 1; l < len(v.Levels); l++ {
		if OverlapsRange(vs.opts.Compare, v.level(l), smallest, largest) {
			foundOverlapDeeper = true
			break
		}
	}

	return &Compaction{
		Level:                bestLevel,
		NextLevel:            nextLevel,
		Tables:               picked,
		NextLevelTables:      nextLevelTables,
		FoundOverlapAtDeeper: foundOverlapDeeper,
	}, true
}

func levelBytes(files []*FileMetadata) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FileSize
	}
	return total
}

func (vs *VersionSet) nextCompactionIndex(level, n int) int {
	vs.cursorMu.Lock()
	defer vs.cursorMu.Unlock()
	idx := vs.compactionCursor[level] % n
	vs.compactionCursor[level] = idx + 1
	return idx
}

// expandToContiguousRange grows picked (a single file at a non-overlapping
// level) to include every file in files needed so the selection isn't a
// split of a contiguous key range, per spec.md §4.5.
func expandToContiguousRange(cmp base.Compare, files, picked []*FileMetadata) []*FileMetadata {
	smallest, largest := rangeOf(cmp, picked)
	changed := true
	selected := map[base.FileNum]bool{picked[0].Number: true}
	for changed {
		changed = false
		for _, f := range files {
			if selected[f.Number] {
				continue
			}
			if f.overlaps(cmp, smallest, largest) {
				selected[f.Number] = true
				picked = append(picked, f)
				if cmp(f.SmallestKey.UserKey, smallest) < 0 {
					smallest = f.SmallestKey.UserKey
				}
				if cmp(f.LargestKey.UserKey, largest) > 0 {
					largest = f.LargestKey.UserKey
				}
				changed = true
			}
		}
	}
	slices.SortFunc(picked, func(a, b *FileMetadata) bool {
		return cmp(a.SmallestKey.UserKey, b.SmallestKey.UserKey) < 0
	})
	return picked
}

func rangeOf(cmp base.Compare, files []*FileMetadata) (smallest, largest []byte) {
	smallest = files[0].SmallestKey.UserKey
	largest = files[0].LargestKey.UserKey
	for _, f := range files[1:] {
		if cmp(f.SmallestKey.UserKey, smallest) < 0 {
			smallest = f.SmallestKey.UserKey
		}
		if cmp(f.LargestKey.UserKey, largest) > 0 {
			largest = f.LargestKey.UserKey
		}
	}
	return smallest, largest
}
