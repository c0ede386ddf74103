package embeddeddb

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/manifest"
	"github.com/edb-project/embeddeddb/internal/memtable"
	"github.com/edb-project/embeddeddb/internal/record"
	"github.com/edb-project/embeddeddb/internal/sstable"
)

// maxConcurrentTableOpens bounds how many freshly written SSTables a single
// flush or compaction may open in parallel when registering them with the
// VersionSet, via golang.org/x/sync/{semaphore,errgroup}. This is pure
// domain-stack wiring: the compaction loop itself remains the single
// sequential worker spec.md §4.8 requires.
const maxConcurrentTableOpens = 4

// compactionEngine is the single background worker spec.md §4.8 describes:
// a wake-channel-driven state machine with a fixed priority order. It is
// embedded in EmbeddedDB rather than exported, since nothing outside this
// package drives it directly.
type compactionEngine struct {
	db *EmbeddedDB

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	flushMu sync.Mutex
	flushCh chan struct{}

	idleMu      sync.Mutex
	idleWaiters []chan struct{}

	sem *semaphore.Weighted
}

func newCompactionEngine(db *EmbeddedDB) *compactionEngine {
	return &compactionEngine{
		db:      db,
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		flushCh: make(chan struct{}),
		sem:     semaphore.NewWeighted(maxConcurrentTableOpens),
	}
}

func (e *compactionEngine) start() { go e.run() }

func (e *compactionEngine) stop() {
	close(e.stopCh)
	<-e.doneCh
}

// signal wakes the worker; the channel is buffered at 1 so a burst of
// signals while the worker is busy collapses to a single wakeup, matching
// spec.md §4.8's "at-most-one buffered signal".
func (e *compactionEngine) signal() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func (e *compactionEngine) waitForFlush() {
	e.flushMu.Lock()
	ch := e.flushCh
	e.flushMu.Unlock()
	<-ch
}

func (e *compactionEngine) notifyFlush() {
	e.flushMu.Lock()
	close(e.flushCh)
	e.flushCh = make(chan struct{})
	e.flushMu.Unlock()
}

func (e *compactionEngine) waitForIdle() {
	ch := make(chan struct{})
	e.idleMu.Lock()
	e.idleWaiters = append(e.idleWaiters, ch)
	e.idleMu.Unlock()
	e.signal()
	<-ch
}

func (e *compactionEngine) notifyIdle() {
	e.idleMu.Lock()
	waiters := e.idleWaiters
	e.idleWaiters = nil
	e.idleMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// run is the priority loop from spec.md §4.8, translated verbatim: delete
// pending files, then rotate the memtable, then flush the immutable
// memtable, then run one level compaction, then (if nothing to do)
// notify idle-waiters and block for the next wakeup.
func (e *compactionEngine) run() {
	defer close(e.doneCh)
	db := e.db

	madeProgress := false
	for {
		if !madeProgress {
			select {
			case <-e.wakeCh:
			case <-e.stopCh:
				return
			}
		}
		madeProgress = false

		db.mu.RLock()
		closing := db.closing
		db.mu.RUnlock()
		if closing {
			return
		}

		if e.deletePendingFiles() {
			madeProgress = true
			continue
		}

		if rotated, err := e.maybeRotate(); err != nil {
			db.opts.Logger.Errorf("edb: compaction worker exiting, rotate failed: %v", err)
			return
		} else if rotated {
			madeProgress = true
			continue
		}

		db.mu.RLock()
		hasImmutable := db.immutable != nil
		db.mu.RUnlock()
		if hasImmutable {
			if err := e.flushImmutable(); err != nil {
				db.opts.Logger.Errorf("edb: compaction worker exiting, flush failed: %v", err)
				return
			}
			madeProgress = true
			continue
		}

		if ran, err := e.runCompaction(); err != nil {
			db.opts.Logger.Errorf("edb: compaction worker exiting, compaction failed: %v", err)
			return
		} else if ran {
			madeProgress = true
			continue
		}

		e.notifyIdle()
	}
}

// deletePendingFiles unlinks every file number queued by a release
// callback since the last iteration. Physical I/O only ever happens here,
// on the compaction thread, matching spec.md §9's "avoid doing I/O in
// destructors".
func (e *compactionEngine) deletePendingFiles() bool {
	db := e.db
	db.releaseMu.Lock()
	if len(db.pendingDelete) == 0 {
		db.releaseMu.Unlock()
		return false
	}
	nums := make([]base.FileNum, 0, len(db.pendingDelete))
	for n := range db.pendingDelete {
		nums = append(nums, n)
	}
	db.pendingDelete = make(map[base.FileNum]bool)
	db.releaseMu.Unlock()

	for _, n := range nums {
		if err := db.fs.Remove(db.tablePath(n)); err != nil {
			db.opts.Logger.Errorf("edb: failed to unlink released table %s: %v", n, err)
		}
	}
	return true
}

// maybeRotate seals the mutable memtable as immutable and opens a fresh
// WAL + mutable memtable, once the mutable memtable crosses
// WriteBufferSize and no immutable memtable is already pending flush.
func (e *compactionEngine) maybeRotate() (bool, error) {
	db := e.db
	db.mu.Lock()
	if db.immutable != nil || db.mutable.Size() < db.opts.WriteBufferSize {
		db.mu.Unlock()
		return false, nil
	}

	oldLogNum := db.logFileNum
	var newLogNum base.FileNum
	var lw *record.Writer
	if !db.opts.DisableWAL {
		var err error
		newLogNum = base.FileNum(db.vs.NextFileNumber())
		lw, err = record.Open(db.fs, db.logPath(newLogNum))
		if err != nil {
			db.mu.Unlock()
			return false, err
		}
	}

	oldWriter := db.logWriter
	db.immutable = db.mutable
	db.immutableLastSeq = db.logLastSequence
	db.mutable = memtable.New(db.opts.Comparer.Compare)
	db.logWriter = lw
	db.prevLogFileNum = oldLogNum
	db.logFileNum = newLogNum
	db.mu.Unlock()

	if oldWriter != nil {
		oldWriter.Close()
	}

	nfn := db.vs.PeekNextFileNumber()
	edit := &manifest.VersionEdit{NextFileNumber: &nfn}
	if !db.opts.DisableWAL {
		prevLogU64 := uint64(oldLogNum)
		logU64 := uint64(newLogNum)
		edit.PrevLogNumber = &prevLogU64
		edit.LogNumber = &logU64
	}
	if _, err := db.applyManifestEdit(edit, nil); err != nil {
		return false, err
	}
	return true, nil
}

// levelWriter accumulates MergeIterator/memtable output into one or more
// SSTables at a fixed level, cutting a new table whenever the builder
// crosses targetSize. It is the shared tail of flushImmutable and
// runCompaction, both of which differ only in their source iterator and
// the tombstone-dropping predicate.
type levelWriter struct {
	db         *EmbeddedDB
	level      int
	targetSize uint64

	builder        *sstable.Builder
	curNum         base.FileNum
	addedToCurrent bool

	newFiles []manifest.NewFileEntry
	toOpen   []base.FileNum
}

func newLevelWriter(db *EmbeddedDB, level int, targetSize uint64) (*levelWriter, error) {
	w := &levelWriter{db: db, level: level, targetSize: targetSize}
	if err := w.openBuilder(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *levelWriter) openBuilder() error {
	w.curNum = base.FileNum(w.db.vs.NextFileNumber())
	b, err := sstable.NewBuilder(w.db.fs, w.db.tablePath(w.curNum), w.db.tableOptions())
	if err != nil {
		return err
	}
	w.builder = b
	w.addedToCurrent = false
	return nil
}

func (w *levelWriter) add(key base.InternalKey, value []byte) error {
	if err := w.builder.Add(key, value); err != nil {
		return err
	}
	w.addedToCurrent = true
	if w.builder.EstimatedSize() >= w.targetSize {
		return w.cut()
	}
	return nil
}

func (w *levelWriter) cut() error {
	meta, err := w.builder.Finish()
	if err != nil {
		return err
	}
	w.newFiles = append(w.newFiles, manifest.NewFileEntry{
		Level:       w.level,
		Number:      w.curNum,
		FileSize:    meta.FileSize,
		SmallestKey: meta.SmallestKey,
		LargestKey:  meta.LargestKey,
	})
	w.toOpen = append(w.toOpen, w.curNum)
	return w.openBuilder()
}

// finish flushes any pending partial table, then opens every written table
// concurrently (bounded by the engine's semaphore) so the caller can hand
// opened *sstable.Reader handles to VersionSet.ApplyNewEdit.
func (w *levelWriter) finish(sem *semaphore.Weighted) ([]manifest.NewFileEntry, []*sstable.Reader, error) {
	if w.addedToCurrent {
		if err := w.cut(); err != nil {
			return nil, nil, err
		}
	} else {
		w.builder.Finish() //nolint:errcheck // discarding an empty, about-to-be-removed table
		w.db.fs.Remove(w.db.tablePath(w.curNum))
	}

	readers := make([]*sstable.Reader, len(w.toOpen))
	g, ctx := errgroup.WithContext(context.Background())
	for i, num := range w.toOpen {
		i, num := i, num
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			r, err := sstable.Open(w.db.fs, w.db.tablePath(num), w.db.tableOptions())
			if err != nil {
				return err
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return w.newFiles, readers, nil
}

// flushImmutable implements spec.md §4.8's "immutable_memtable present"
// branch: emit its sorted contents as one or more SSTables at the level
// pick_memtable_level chooses, dropping tombstones and shadowed entries
// when nothing deeper could need them, then install the new Version and
// drop the immutable memtable.
func (e *compactionEngine) flushImmutable() error {
	db := e.db
	db.mu.RLock()
	imm := db.immutable
	immSeq := db.immutableLastSeq
	prevLog := db.prevLogFileNum
	db.mu.RUnlock()

	smallest, largest, ok := imm.KeyRange()
	if !ok {
		db.mu.Lock()
		db.immutable = nil
		db.prevLogFileNum = 0
		db.flushCond.Broadcast()
		db.mu.Unlock()
		return nil
	}
	level, foundOverlap := db.vs.PickMemtableLevel(smallest, largest)

	w, err := newLevelWriter(db, level, db.vs.TargetFileSize(level))
	if err != nil {
		return err
	}

	child := newMemtableChild(imm)
	child.First()
	var lastUserKey []byte
	var hasLast bool
	cmp := db.opts.Comparer.Compare
	for child.Valid() {
		k := child.Key()
		if hasLast && cmp(k.UserKey, lastUserKey) == 0 {
			child.Next()
			continue
		}
		lastUserKey = append(lastUserKey[:0], k.UserKey...)
		hasLast = true
		if k.Kind() == base.InternalKeyKindDelete && !foundOverlap {
			child.Next()
			continue
		}
		if err := w.add(k, child.Value()); err != nil {
			return err
		}
		child.Next()
	}

	newFiles, readers, err := w.finish(e.sem)
	if err != nil {
		return err
	}

	var prevLogZero uint64
	edit := &manifest.VersionEdit{
		NewFiles:      newFiles,
		LastSequence:  &immSeq,
		PrevLogNumber: &prevLogZero,
	}
	if _, err := db.applyManifestEdit(edit, readers); err != nil {
		return err
	}

	db.mu.Lock()
	db.immutable = nil
	db.prevLogFileNum = 0
	db.flushCond.Broadcast()
	db.mu.Unlock()

	if prevLog != 0 {
		if err := db.fs.Remove(db.logPath(prevLog)); err != nil {
			db.opts.Logger.Errorf("edb: failed to unlink flushed WAL %s: %v", prevLog, err)
		}
	}

	db.metrics.flushesTotal.Inc()
	e.notifyFlush()
	return nil
}

// runCompaction implements spec.md §4.8's "select_tables_to_compaction"
// branch: merge the selected tables (plus any overlapping next-level
// tables) and rewrite them as new tables at the next level, applying the
// same tombstone-dropping rule keyed on found_overlap_at_deeper.
func (e *compactionEngine) runCompaction() (bool, error) {
	db := e.db
	c, ok := db.vs.SelectTablesToCompact()
	if !ok {
		return false, nil
	}

	var children []internalIterator
	for _, f := range c.Tables {
		children = append(children, newSSTableChild(f.Table))
	}
	for _, f := range c.NextLevelTables {
		children = append(children, newSSTableChild(f.Table))
	}
	merged := NewMergeIterator(db.opts.Comparer.Compare, children...)
	merged.First()

	w, err := newLevelWriter(db, c.NextLevel, db.vs.TargetFileSize(c.NextLevel))
	if err != nil {
		return false, err
	}

	cmp := db.opts.Comparer.Compare
	var lastUserKey []byte
	var hasLast bool
	for merged.Valid() {
		k := merged.Key()
		if hasLast && cmp(k.UserKey, lastUserKey) == 0 {
			merged.Next()
			continue
		}
		lastUserKey = append(lastUserKey[:0], k.UserKey...)
		hasLast = true
		if k.Kind() == base.InternalKeyKindDelete && !c.FoundOverlapAtDeeper {
			merged.Next()
			continue
		}
		if err := w.add(k, merged.Value()); err != nil {
			return false, err
		}
		merged.Next()
	}

	newFiles, readers, err := w.finish(e.sem)
	if err != nil {
		return false, err
	}

	var deleted []manifest.DeletedFileEntry
	for _, f := range c.Tables {
		deleted = append(deleted, manifest.DeletedFileEntry{Level: c.Level, Number: f.Number})
	}
	for _, f := range c.NextLevelTables {
		deleted = append(deleted, manifest.DeletedFileEntry{Level: c.NextLevel, Number: f.Number})
	}

	edit := &manifest.VersionEdit{NewFiles: newFiles, DeletedFiles: deleted}
	if _, err := db.applyManifestEdit(edit, readers); err != nil {
		return false, err
	}

	db.metrics.compactionsTotal.Inc()
	return true, nil
}
