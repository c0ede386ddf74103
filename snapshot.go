package embeddeddb

import (
	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/manifest"
	"github.com/edb-project/embeddeddb/internal/memtable"
)

// Snapshot pins the state of the database as of a particular sequence
// number: the mutable memtable, the immutable memtable (if one existed at
// capture time), and the current Version. Reads through a Snapshot never
// observe a write with a higher sequence, and the files/memtables it
// references cannot be reclaimed until Close is called (spec.md §4.9).
type Snapshot struct {
	db        *EmbeddedDB
	seq       base.SeqNum
	mutable   *memtable.Memtable
	immutable *memtable.Memtable
	version   *manifest.Version
	closed    bool
}

// Sequence returns the sequence number this snapshot is pinned to.
func (s *Snapshot) Sequence() base.SeqNum { return s.seq }

// Get returns the value visible for userKey as of this snapshot, or
// found=false if no live entry exists at or below Sequence(). It probes the
// mutable then immutable memtable (the only sources that can carry an entry
// newer than the snapshot, since both are live structures a concurrent
// Write keeps inserting into), then falls through to the pinned Version's
// own point lookup, spec.md §4.6: every on-disk file the Version mentions
// was written by a flush/compaction that completed-before this snapshot was
// captured, so every entry in it already has sequence <= Sequence() and
// needs no further filtering.
func (s *Snapshot) Get(userKey []byte) (value []byte, found bool, err error) {
	cmp := s.db.opts.Comparer.Compare

	if v, hit, isDelete := probeMemtable(s.mutable, cmp, userKey, s.seq); hit {
		if isDelete {
			return nil, false, nil
		}
		return append([]byte(nil), v...), true, nil
	}
	if s.immutable != nil {
		if v, hit, isDelete := probeMemtable(s.immutable, cmp, userKey, s.seq); hit {
			if isDelete {
				return nil, false, nil
			}
			return append([]byte(nil), v...), true, nil
		}
	}

	val, hit, isDelete, err := s.version.Get(cmp, userKey)
	if err != nil || !hit || isDelete {
		return nil, false, err
	}
	return append([]byte(nil), val...), true, nil
}

// probeMemtable looks up the newest entry for userKey in m with sequence
// <= maxSeq, among however many versions of it the memtable holds (entries
// for one user key are ordered newest-first by MakeInternalKey's descending
// sequence tie-break, so the first one at or below maxSeq is the answer).
func probeMemtable(m *memtable.Memtable, cmp base.Compare, userKey []byte, maxSeq base.SeqNum) (value []byte, found, isDelete bool) {
	it := m.NewIter()
	it.SeekGE(m, userKey)
	for it.Valid() {
		k := it.Key()
		if cmp(k.UserKey, userKey) != 0 {
			return nil, false, false
		}
		if k.SeqNum() <= maxSeq {
			return it.Value(), true, k.Kind() == base.InternalKeyKindDelete
		}
		it.Next()
	}
	return nil, false, false
}

// NewIter returns an iterator over every live (key, value) pair visible to
// this snapshot, in ascending user-key order.
func (s *Snapshot) NewIter() *Iterator {
	children := s.db.buildChildren(s.mutable, s.immutable, s.version)
	return &Iterator{
		cmp:   s.db.opts.Comparer.Compare,
		seq:   s.seq,
		merge: NewMergeIterator(s.db.opts.Comparer.Compare, children...),
	}
}

// Close releases the snapshot's reference on the pinned Version. Memtables
// need no explicit release: Go's garbage collector reclaims them once
// nothing (including a live Snapshot) still points at them.
func (s *Snapshot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.version.Unref()
	return nil
}

// Iterator walks the live entries visible to a Snapshot, applying the
// sequence filter and user-key deduplication spec.md §4.7 describes: among
// entries sharing a user key, only the newest with sequence <= the
// snapshot's is visible, and a Deletion suppresses every older entry for
// that key rather than being returned itself.
type Iterator struct {
	cmp   base.Compare
	seq   base.SeqNum
	merge *MergeIterator

	valid       bool
	lastUserKey []byte
	hasLast     bool
	err         error
}

// SeekGE positions the iterator at the first live entry with user key >=
// userKey.
func (it *Iterator) SeekGE(userKey []byte) {
	it.merge.SeekGE(userKey)
	it.hasLast = false
	it.advance()
}

// First positions the iterator at the first live entry.
func (it *Iterator) First() {
	it.merge.First()
	it.hasLast = false
	it.advance()
}

// Next advances to the following live entry.
func (it *Iterator) Next() {
	it.merge.Next()
	it.advance()
}

// advance skips every entry that is invisible to this snapshot (sequence
// too new), shadowed by an already-emitted newer version of the same user
// key, or a tombstone, landing on the next live Set entry (or exhausting
// the iterator).
func (it *Iterator) advance() {
	for it.merge.Valid() {
		k := it.merge.Key()
		if k.SeqNum() > it.seq {
			it.merge.Next()
			continue
		}
		if it.hasLast && it.cmp(k.UserKey, it.lastUserKey) == 0 {
			it.merge.Next()
			continue
		}
		it.lastUserKey = append(it.lastUserKey[:0], k.UserKey...)
		it.hasLast = true
		if k.Kind() == base.InternalKeyKindDelete {
			it.merge.Next()
			continue
		}
		it.valid = true
		return
	}
	it.valid = false
}

// Valid reports whether the iterator is positioned on a live entry.
func (it *Iterator) Valid() bool { return it.valid }

// Err returns any error encountered while iterating (currently always nil;
// reserved for a future backing store that can fail mid-scan).
func (it *Iterator) Err() error { return it.err }

// Key returns the current entry's user key. The slice aliases internal
// storage and must not be retained past the next Next/SeekGE call.
func (it *Iterator) Key() []byte { return it.lastUserKey }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.merge.Value() }

// Close releases iterator resources (currently a no-op).
func (it *Iterator) Close() error { return it.err }
