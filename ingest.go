// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package embeddeddb

import (
	"sort"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/manifest"
	"github.com/edb-project/embeddeddb/internal/sstable"
)

// ingestValidateKey rejects an externally produced entry that isn't a plain
// Set: a bulk-loaded file has no business carrying its own tombstones or a
// pre-assigned sequence, since both properties only make sense relative to
// this database's own sequence history.
func ingestValidateKey(k base.InternalKey) error {
	if k.Kind() != base.InternalKeyKindSet {
		return base.InvalidArgumentErrorf("edb: ingest source table contains a non-Set entry")
	}
	if k.SeqNum() != 0 {
		return base.InvalidArgumentErrorf("edb: ingest source table must carry placeholder sequence 0")
	}
	return nil
}

// ingestedTable is one source file's opened reader plus the bounds learned
// while scanning it.
type ingestedTable struct {
	path              string
	reader            *sstable.Reader
	smallest, largest []byte
}

// ingestLoad opens every source path, validating that it contains only
// Set entries at placeholder sequence 0 and recording its user-key bounds.
func (db *EmbeddedDB) ingestLoad(paths []string) ([]*ingestedTable, error) {
	tables := make([]*ingestedTable, 0, len(paths))
	for _, path := range paths {
		r, err := sstable.Open(db.fs, path, db.tableOptions())
		if err != nil {
			return nil, err
		}
		it := r.NewIter()
		it.First()
		if !it.Valid() {
			r.Close()
			continue
		}
		if err := ingestValidateKey(it.Key()); err != nil {
			r.Close()
			return nil, err
		}
		smallest := append([]byte(nil), it.Key().UserKey...)
		largest := smallest
		for it.Valid() {
			if err := ingestValidateKey(it.Key()); err != nil {
				r.Close()
				return nil, err
			}
			largest = append([]byte(nil), it.Key().UserKey...)
			it.Next()
		}
		tables = append(tables, &ingestedTable{path: path, reader: r, smallest: smallest, largest: largest})
	}
	return tables, nil
}

// ingestSortAndVerify orders tables by smallest key and rejects a batch
// whose source files overlap each other: pick_memtable_level and the
// manifest's non-overlap invariant for levels >= 1 both assume the files
// being placed at one level are pairwise disjoint.
func ingestSortAndVerify(cmp base.Compare, tables []*ingestedTable) error {
	sort.Slice(tables, func(i, j int) bool {
		return cmp(tables[i].smallest, tables[j].smallest) < 0
	})
	for i := 1; i < len(tables); i++ {
		if cmp(tables[i].smallest, tables[i-1].largest) <= 0 {
			return base.InvalidArgumentErrorf(
				"edb: ingest source tables %s and %s overlap", tables[i-1].path, tables[i].path)
		}
	}
	return nil
}

// rewriteWithSequence copies src's entries into a freshly built table at
// db.tablePath(num), replacing each entry's placeholder sequence 0 with
// seq. Internal keys are immutable once written to a block (the trailer is
// part of the checksummed byte stream), so ingestion cannot simply patch
// the source file in place and instead emits a new table under a number
// the VersionSet itself allocates.
func (db *EmbeddedDB) rewriteWithSequence(src *ingestedTable, seq base.SeqNum) (manifest.NewFileEntry, *sstable.Reader, error) {
	num := base.FileNum(db.vs.NextFileNumber())
	b, err := sstable.NewBuilder(db.fs, db.tablePath(num), db.tableOptions())
	if err != nil {
		return manifest.NewFileEntry{}, nil, err
	}

	it := src.reader.NewIter()
	it.First()
	for it.Valid() {
		k := it.Key()
		ikey := base.MakeInternalKey(k.UserKey, seq, base.InternalKeyKindSet)
		if err := b.Add(ikey, it.Value()); err != nil {
			return manifest.NewFileEntry{}, nil, err
		}
		it.Next()
	}
	meta, err := b.Finish()
	if err != nil {
		return manifest.NewFileEntry{}, nil, err
	}

	r, err := sstable.Open(db.fs, db.tablePath(num), db.tableOptions())
	if err != nil {
		return manifest.NewFileEntry{}, nil, err
	}
	return manifest.NewFileEntry{
		Level:       0,
		Number:      num,
		FileSize:    meta.FileSize,
		SmallestKey: meta.SmallestKey,
		LargestKey:  meta.LargestKey,
	}, r, nil
}

// IngestExternalFiles bulk-loads the SSTables at paths into the database as
// new on-disk tables, without routing their contents through the memtable
// or the WAL. Every entry across every file is assigned the same sequence
// number, one higher than the last sequence committed by Write, so the
// whole ingest becomes visible atomically to any snapshot taken afterwards.
// Source files must contain only Set entries at placeholder sequence 0 and
// must not overlap each other. Adapted from db.rs's
// external-sstable-ingest path the way the teacher's
// ingest.go structures load/verify/apply as three phases.
func (db *EmbeddedDB) IngestExternalFiles(paths []string) error {
	if db.opts.ReadOnly {
		return base.ErrReadOnly
	}
	if len(paths) == 0 {
		return nil
	}

	tables, err := db.ingestLoad(paths)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}
	defer func() {
		for _, t := range tables {
			t.reader.Close()
		}
	}()

	cmp := db.opts.Comparer.Compare
	if err := ingestSortAndVerify(cmp, tables); err != nil {
		return err
	}

	db.mu.Lock()
	if db.closing {
		db.mu.Unlock()
		return base.ErrClosed
	}
	seq := db.logLastSequence + 1
	db.logLastSequence = seq
	db.mu.Unlock()

	var smallest, largest []byte
	for i, t := range tables {
		if i == 0 || cmp(t.smallest, smallest) < 0 {
			smallest = t.smallest
		}
		if i == 0 || cmp(t.largest, largest) > 0 {
			largest = t.largest
		}
	}
	level, _ := db.vs.PickMemtableLevel(smallest, largest)

	newFiles := make([]manifest.NewFileEntry, 0, len(tables))
	readers := make([]*sstable.Reader, 0, len(tables))
	for _, t := range tables {
		nf, r, err := db.rewriteWithSequence(t, seq)
		if err != nil {
			return err
		}
		nf.Level = level
		newFiles = append(newFiles, nf)
		readers = append(readers, r)
	}

	lastSeq := seq
	edit := &manifest.VersionEdit{NewFiles: newFiles, LastSequence: &lastSeq}
	if _, err := db.applyManifestEdit(edit, readers); err != nil {
		return err
	}
	return nil
}
