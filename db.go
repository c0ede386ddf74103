// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package embeddeddb implements an embedded log-structured merge-tree
// key-value storage engine: a write-ahead log plus memtable write path, a
// background compaction engine that merges flushed memtables into leveled
// SSTables, and manifest-based crash recovery. Grounded on db.rs's
// EmbeddedDB orchestrator, translated into the goroutine/channel idiom
// dialtr-pebble's db.go and return2faye-SiltKV's internal/lsm/db.go use for
// their own DB types.
package embeddeddb

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/manifest"
	"github.com/edb-project/embeddeddb/internal/memtable"
	"github.com/edb-project/embeddeddb/internal/record"
	"github.com/edb-project/embeddeddb/internal/sstable"
	"github.com/edb-project/embeddeddb/vfs"
)

const (
	currentFileName  = "CURRENT"
	identityFileName = "IDENTITY"
	lockFileName     = "LOCK"
	manifestPrefix   = "MANIFEST-"
)

// EmbeddedDB is an open key-value database: a single write-ahead log plus
// mutable memtable, an optional sealed-but-not-yet-flushed immutable
// memtable, and a manifest-tracked set of on-disk SSTables organized into
// levels. spec.md §4.9.
type EmbeddedDB struct {
	opts    Options
	fs      vfs.FS
	dirname string
	lock    io.Closer

	identity string

	// mu is the read/write lock spec.md §5 describes: writers (Write) hold
	// it exclusively; readers, including Snapshot acquisition, hold it
	// shared. It protects every field below up to (not including) vs,
	// which manages its own internal locking.
	mu sync.RWMutex

	mutable          *memtable.Memtable
	immutable        *memtable.Memtable
	immutableLastSeq base.SeqNum
	logWriter        *record.Writer
	logFileNum       base.FileNum
	prevLogFileNum   base.FileNum
	logLastSequence  base.SeqNum
	closing          bool

	// flushCond is signaled whenever the immutable memtable slot empties
	// out (a flush completed) or the database starts closing, so Write can
	// block a writer that would otherwise need a second immutable slot
	// rather than growing the mutable memtable without bound.
	flushCond *sync.Cond

	vs *manifest.VersionSet

	// manifestMu serializes appends to manifestWriter: the compaction
	// worker is its usual writer, but IngestExternalFiles appends from the
	// caller's goroutine too.
	manifestMu      sync.Mutex
	manifestWriter  *record.Writer
	manifestFileNum base.FileNum

	releaseMu     sync.Mutex
	pendingDelete map[base.FileNum]bool
	releasedOnce  map[base.FileNum]bool

	engine  *compactionEngine
	metrics *Metrics
}

// Open opens (or creates) a database at dirname, spec.md §4.9's open().
func Open(dirname string, opts Options) (*EmbeddedDB, error) {
	opts = opts.EnsureDefaults()
	fs := opts.FS

	if _, err := fs.List(dirname); err != nil {
		if !opts.CreateIfMissing {
			return nil, base.ErrNotFound
		}
		if err := fs.MkdirAll(dirname, 0755); err != nil {
			return nil, err
		}
	}

	lockCloser, err := fs.Lock(fs.PathJoin(dirname, lockFileName))
	if err != nil {
		if vfs.IsLockHeld(err) {
			return nil, base.ErrLocked
		}
		return nil, err
	}

	db := &EmbeddedDB{
		opts:          opts,
		fs:            fs,
		dirname:       dirname,
		lock:          lockCloser,
		pendingDelete: make(map[base.FileNum]bool),
		releasedOnce:  make(map[base.FileNum]bool),
	}
	db.metrics = newMetrics()
	db.flushCond = sync.NewCond(&db.mu)

	hasCurrent := db.fileExists(currentFileName)
	if opts.ErrorIfExists && hasCurrent {
		lockCloser.Close()
		return nil, base.ErrAlreadyExists
	}

	if hasCurrent {
		err = db.openExisting()
	} else {
		err = db.openNew()
	}
	if err != nil {
		lockCloser.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		db.engine = newCompactionEngine(db)
		db.engine.start()
	}
	return db, nil
}

func (db *EmbeddedDB) fileExists(name string) bool {
	f, err := db.fs.Open(db.fs.PathJoin(db.dirname, name))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (db *EmbeddedDB) tablePath(num base.FileNum) string {
	return db.fs.PathJoin(db.dirname, num.String()+".sst")
}

func (db *EmbeddedDB) logPath(num base.FileNum) string {
	return db.fs.PathJoin(db.dirname, num.String()+".log")
}

func (db *EmbeddedDB) manifestPath(num base.FileNum) string {
	return db.fs.PathJoin(db.dirname, manifestPrefix+num.String())
}

func (db *EmbeddedDB) tableOptions() sstable.Options {
	return sstable.Options{Compare: db.opts.Comparer.Compare}
}

// atomicWriteFile writes data to name via write-temp + rename + fsync-dir,
// spec.md §6's requirement for CURRENT updates (applied here to IDENTITY
// too, for the same torn-write protection).
func (db *EmbeddedDB) atomicWriteFile(name string, data []byte) error {
	tmp := db.fs.PathJoin(db.dirname, name+".dbtmp")
	path := db.fs.PathJoin(db.dirname, name)

	f, err := db.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := db.fs.Rename(tmp, path); err != nil {
		return err
	}
	dir, err := db.fs.OpenDir(db.dirname)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// openNew implements spec.md §4.9's open_new: allocate a manifest file
// number, install the initial VersionEdit and write the resulting state as
// the manifest's first (compressed snapshot) record, create an empty WAL,
// write the identity file, and atomically point CURRENT at the new manifest.
func (db *EmbeddedDB) openNew() error {
	cmp := db.opts.Comparer.Compare
	db.vs = manifest.New(db.releaseFile, db.opts.versionSetOptions())

	manifestNum := base.FileNum(db.vs.NextFileNumber())

	mw, err := record.Open(db.fs, db.manifestPath(manifestNum))
	if err != nil {
		return err
	}

	var zeroSeq base.SeqNum
	edit := &manifest.VersionEdit{LastSequence: &zeroSeq}

	var lw *record.Writer
	var logNum base.FileNum
	if !db.opts.DisableWAL {
		logNum = base.FileNum(db.vs.NextFileNumber())
		logNumU64 := uint64(logNum)
		edit.LogNumber = &logNumU64
	}
	nfn := db.vs.PeekNextFileNumber()
	edit.NextFileNumber = &nfn

	db.manifestWriter = mw
	v, err := db.vs.ApplyNewEdit(edit, nil)
	if err != nil {
		mw.Close()
		return err
	}
	v.Unref()
	if err := db.vs.WriteToNew(mw); err != nil {
		mw.Close()
		return err
	}
	if err := mw.Flush(); err != nil {
		mw.Close()
		return err
	}

	if !db.opts.DisableWAL {
		lw, err = record.Open(db.fs, db.logPath(logNum))
		if err != nil {
			mw.Close()
			return err
		}
	}

	identity := uuid.New().String()
	if err := db.atomicWriteFile(identityFileName, []byte(identity)); err != nil {
		return err
	}
	if err := db.atomicWriteFile(currentFileName, []byte(db.fs.PathBase(db.manifestPath(manifestNum)))); err != nil {
		return err
	}

	db.identity = identity
	db.mutable = memtable.New(cmp)
	db.manifestFileNum = manifestNum
	db.logWriter = lw
	db.logFileNum = logNum
	return nil
}

// openExisting implements spec.md §4.9's open_existing: read CURRENT,
// replay the manifest, open every referenced SSTable, replay
// prev_log_number then log_number into memtables, and re-derive
// log_last_sequence as the max of the manifest's recorded value and every
// sequence observed while replaying (the resolution to the open question
// in spec.md §9 / DESIGN.md).
func (db *EmbeddedDB) openExisting() error {
	cmp := db.opts.Comparer.Compare

	currentBytes, err := db.readFile(currentFileName)
	if err != nil {
		return err
	}
	manifestName := string(currentBytes)

	mr, err := record.OpenReader(db.fs, db.fs.PathJoin(db.dirname, manifestName))
	if err != nil {
		return err
	}
	vs, err := manifest.RecoverExisting(mr, db.releaseFile, db.opts.versionSetOptions())
	mr.Close()
	if err != nil {
		return err
	}
	db.vs = vs

	if err := vs.OpenAllTables(db.fs, db.tablePath, db.tableOptions()); err != nil {
		return err
	}

	identityBytes, err := db.readFile(identityFileName)
	if err != nil {
		return err
	}
	db.identity = string(identityBytes)

	mw, err := record.OpenAppend(db.fs, db.fs.PathJoin(db.dirname, manifestName))
	if err != nil {
		return err
	}
	db.manifestWriter = mw

	db.mutable = memtable.New(cmp)
	logLastSeq := vs.LastSequence()

	if pln := vs.PrevLogNumber(); pln != 0 {
		if db.opts.DisableWAL {
			return base.InvalidArgumentErrorf("edb: existing db has a prev log number in DisableWAL mode")
		}
		db.immutable = memtable.New(cmp)
		db.prevLogFileNum = base.FileNum(pln)
		seq, err := db.replayLog(db.logPath(base.FileNum(pln)), db.immutable)
		if err != nil {
			return err
		}
		if seq > logLastSeq {
			logLastSeq = seq
		}
		db.immutableLastSeq = seq
	}

	if db.opts.DisableWAL {
		if ln := vs.LogNumber(); ln != 0 {
			return base.InvalidArgumentErrorf("edb: existing db has a log number in DisableWAL mode")
		}
	} else if ln := vs.LogNumber(); ln != 0 {
		seq, err := db.replayLog(db.logPath(base.FileNum(ln)), db.mutable)
		if err != nil {
			return err
		}
		if seq > logLastSeq {
			logLastSeq = seq
		}
		lw, err := record.OpenAppend(db.fs, db.logPath(base.FileNum(ln)))
		if err != nil {
			return err
		}
		db.logWriter = lw
		db.logFileNum = base.FileNum(ln)
	} else {
		newLogNum := base.FileNum(db.vs.NextFileNumber())
		lw, err := record.Open(db.fs, db.logPath(newLogNum))
		if err != nil {
			return err
		}
		db.logWriter = lw
		db.logFileNum = newLogNum
	}

	db.logLastSequence = logLastSeq
	return nil
}

func (db *EmbeddedDB) readFile(name string) ([]byte, error) {
	f, err := db.fs.Open(db.fs.PathJoin(db.dirname, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, stat.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// replayLog applies every batch recorded in the WAL at path to mt, and
// returns the highest sequence number observed, tolerating a torn trailing
// record as a failed-not-corrupt write (spec.md §4.3, §7).
func (db *EmbeddedDB) replayLog(path string, mt *memtable.Memtable) (base.SeqNum, error) {
	r, err := record.OpenReader(db.fs, path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var maxSeq base.SeqNum
	for {
		payload, err := r.Next()
		if err != nil {
			break
		}
		b, err := DecodeBatch(payload)
		if err != nil {
			return maxSeq, err
		}
		b.applyTo(func(ikey base.InternalKey, value []byte) {
			mt.Insert(ikey, value)
		})
		if last := b.lastSequence(); last > maxSeq {
			maxSeq = last
		}
	}
	return maxSeq, nil
}

// Write applies batch atomically: either every Put/Delete in it becomes
// visible, or (on a WAL append/flush failure) none does. spec.md §4.9.
func (db *EmbeddedDB) Write(b *Batch) error {
	if db.opts.ReadOnly {
		return base.ErrReadOnly
	}
	if b.Empty() {
		return base.InvalidArgumentErrorf("edb: cannot write an empty batch")
	}

	db.mu.Lock()
	// Block while the mutable memtable is full and a previous flush hasn't
	// yet freed the immutable slot: spec.md §4.8 allows exactly one mutable
	// plus one immutable memtable, so a second full memtable must wait
	// rather than growing the mutable memtable without bound.
	for !db.closing && db.immutable != nil && db.mutable.Size() >= db.opts.WriteBufferSize {
		db.flushCond.Wait()
	}
	if db.closing {
		db.mu.Unlock()
		return base.ErrClosed
	}
	if !b.hasSeq {
		b.SetSequence(db.logLastSequence + 1)
	} else if b.Sequence() <= db.logLastSequence {
		db.mu.Unlock()
		return base.InvalidArgumentErrorf(
			"edb: preset sequence %d is not greater than last sequence %d", b.Sequence(), db.logLastSequence)
	}

	if !db.opts.DisableWAL {
		if err := db.logWriter.Append(b.AsBytes()); err != nil {
			db.mu.Unlock()
			return err
		}
		if err := db.logWriter.Flush(); err != nil {
			db.mu.Unlock()
			return err
		}
	}

	b.applyTo(func(ikey base.InternalKey, value []byte) {
		db.mutable.Insert(ikey, value)
	})
	db.logLastSequence = b.lastSequence()
	db.metrics.writesTotal.Inc()

	size := db.mutable.Size()
	db.mu.Unlock()

	if !db.opts.ManualCompactionsOnly && size >= db.opts.WriteBufferSize && db.engine != nil {
		db.engine.signal()
	}
	return nil
}

// Get returns the value visible for userKey as of the current state of the
// database, or found=false if there is no live entry.
func (db *EmbeddedDB) Get(userKey []byte) (value []byte, found bool, err error) {
	snap := db.Snapshot()
	defer snap.Close()
	return snap.Get(userKey)
}

// Snapshot captures (mutable, immutable, Version, log_last_sequence) as of
// now. spec.md §4.9.
func (db *EmbeddedDB) Snapshot() *Snapshot {
	db.mu.RLock()
	mutable := db.mutable
	immutable := db.immutable
	seq := db.logLastSequence
	db.mu.RUnlock()

	v := db.vs.LatestVersion()
	return &Snapshot{db: db, seq: seq, mutable: mutable, immutable: immutable, version: v}
}

// buildChildren assembles the ordered list of internalIterators a
// MergeIterator walks: the mutable memtable (newest), the immutable
// memtable if present, then every table in level 0 newest-first, then
// every table in levels >= 1.
func (db *EmbeddedDB) buildChildren(mutable, immutable *memtable.Memtable, v *manifest.Version) []internalIterator {
	var children []internalIterator
	children = append(children, newMemtableChild(mutable))
	if immutable != nil {
		children = append(children, newMemtableChild(immutable))
	}
	if len(v.Levels) > 0 {
		l0 := v.Levels[0]
		for i := len(l0) - 1; i >= 0; i-- {
			if l0[i].Table != nil {
				children = append(children, newSSTableChild(l0[i].Table))
			}
		}
		for l := 1; l < len(v.Levels); l++ {
			for _, f := range v.Levels[l] {
				if f.Table != nil {
					children = append(children, newSSTableChild(f.Table))
				}
			}
		}
	}
	return children
}

// releaseFile is the manifest.ReleaseFunc invoked when the last Version
// referencing a file is dropped: it only records the file number as
// eligible for unlink (spec.md §9 forbids I/O in the callback itself), and
// wakes the compaction thread to actually remove it.
func (db *EmbeddedDB) releaseFile(num base.FileNum) {
	db.releaseMu.Lock()
	if !db.releasedOnce[num] {
		db.releasedOnce[num] = true
		db.pendingDelete[num] = true
	}
	db.releaseMu.Unlock()
	if db.engine != nil {
		db.engine.signal()
	}
}

// WaitForFlush blocks until the compaction worker next completes a
// memtable flush.
func (db *EmbeddedDB) WaitForFlush() {
	if db.engine == nil {
		return
	}
	db.engine.waitForFlush()
}

// WaitForCompaction blocks until the compaction worker next observes no
// pending work (no rotate, no flush, no level compaction to perform).
func (db *EmbeddedDB) WaitForCompaction() {
	if db.engine == nil {
		return
	}
	db.engine.waitForIdle()
}

// Identity returns the UUIDv4 assigned to this database on its first Open.
func (db *EmbeddedDB) Identity() string { return db.identity }

// LastFlushedSequence returns the sequence durably reflected in the
// current Version, distinct from the sequence of the most recent Write
// (which may still be sitting only in the mutable memtable). Supplemented
// from db.rs's last_flushed_sequence (SPEC_FULL.md §11).
func (db *EmbeddedDB) LastFlushedSequence() base.SeqNum {
	v := db.vs.LatestVersion()
	defer v.Unref()
	return v.LastSequence
}

// applyManifestEdit appends edit to the manifest, flushes it, and installs
// the resulting Version as current. Once Open has returned it is the only
// path that appends to manifestWriter, shared by the compaction worker and
// IngestExternalFiles. The returned Version is kept alive only by the
// VersionSet; callers that need it past the next edit must Ref it.
func (db *EmbeddedDB) applyManifestEdit(edit *manifest.VersionEdit, openedTables []*sstable.Reader) (*manifest.Version, error) {
	db.manifestMu.Lock()
	defer db.manifestMu.Unlock()

	if err := db.manifestWriter.Append(edit.Encode()); err != nil {
		return nil, err
	}
	if err := db.manifestWriter.Flush(); err != nil {
		return nil, err
	}
	v, err := db.vs.ApplyNewEdit(edit, openedTables)
	if err != nil {
		return nil, err
	}
	v.Unref()
	return v, nil
}

// Metrics returns the database's prometheus collector.
func (db *EmbeddedDB) Metrics() *Metrics { return db.metrics }

// Close stops the compaction worker and releases the LOCK file. spec.md
// §4.9.
func (db *EmbeddedDB) Close() error {
	db.mu.Lock()
	if db.closing {
		db.mu.Unlock()
		return nil
	}
	db.closing = true
	db.flushCond.Broadcast()
	db.mu.Unlock()

	if db.engine != nil {
		db.engine.stop()
	}
	if db.logWriter != nil {
		db.logWriter.Close()
	}
	if db.manifestWriter != nil {
		db.manifestWriter.Close()
	}
	return db.lock.Close()
}
