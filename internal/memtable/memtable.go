// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package memtable implements the ordered in-memory table that buffers
// recent writes ahead of being flushed to an SSTable. It is grounded on the
// skiplist in return2faye-SiltKV's internal/memtable/skiplist.go,
// generalized to order by the internal-key comparator (user key ascending,
// sequence descending) instead of a plain byte-string key, and to track an
// approximate byte footprint for the write_buffer_size threshold.
package memtable

import (
	"sync/atomic"

	"github.com/edb-project/embeddeddb/internal/base"
)

// perEntryOverhead approximates a skiplist node's bookkeeping cost (next
// pointer slice header, struct padding) on top of the raw key+value bytes,
// so Size() tracks memory pressure rather than just encoded bytes.
const perEntryOverhead = 32

// Memtable is an ordered map from internal key to value, safe for one
// writer concurrent with many readers. Once built it is never mutated
// except by Insert; a "sealed" (immutable) memtable is simply one no
// writer inserts into anymore — no separate representation is needed.
type Memtable struct {
	cmp  base.Compare
	skl  *skipList
	size atomic.Uint64

	// smallest/largest cache the user-key bounds seen so far, read back by
	// KeyRange without needing to walk the skiplist.
	bounds atomic.Pointer[keyRange]
}

type keyRange struct {
	smallest, largest []byte
}

// New returns an empty memtable ordered by cmp.
func New(cmp base.Compare) *Memtable {
	m := &Memtable{cmp: cmp}
	m.skl = newSkipList(func(a, b []byte) int {
		ka, _ := base.DecodeInternalKey(a)
		kb, _ := base.DecodeInternalKey(b)
		return base.InternalCompare(cmp, ka, kb)
	})
	return m
}

// Insert adds a value (or a deletion tombstone, when kind is
// InternalKeyKindDelete and value is empty) at ikey. ikey.UserKey and value
// are copied; the caller's buffers may be reused afterwards.
func (m *Memtable) Insert(ikey base.InternalKey, value []byte) {
	userKey := append([]byte(nil), ikey.UserKey...)
	val := append([]byte(nil), value...)
	key := base.InternalKey{UserKey: userKey, Trailer: ikey.Trailer}.Encode(nil)

	m.skl.put(key, val)
	m.size.Add(uint64(len(key) + len(val) + perEntryOverhead))
	m.extendBounds(userKey)
}

func (m *Memtable) extendBounds(userKey []byte) {
	for {
		old := m.bounds.Load()
		next := &keyRange{smallest: userKey, largest: userKey}
		if old != nil {
			next.smallest = old.smallest
			next.largest = old.largest
			if m.cmp(userKey, old.smallest) < 0 {
				next.smallest = userKey
			}
			if m.cmp(userKey, old.largest) > 0 {
				next.largest = userKey
			}
		}
		if m.bounds.CompareAndSwap(old, next) {
			return
		}
	}
}

// Size returns the approximate byte footprint of the memtable, compared
// against Options.WriteBufferSize to decide when to seal it.
func (m *Memtable) Size() uint64 { return m.size.Load() }

// Empty reports whether the memtable has never been written to.
func (m *Memtable) Empty() bool { return m.bounds.Load() == nil }

// KeyRange returns the smallest and largest user keys inserted so far. ok
// is false for an empty memtable.
func (m *Memtable) KeyRange() (smallest, largest []byte, ok bool) {
	b := m.bounds.Load()
	if b == nil {
		return nil, nil, false
	}
	return b.smallest, b.largest, true
}

// Iterator walks a memtable's entries in internal-key order.
type Iterator struct {
	cmp base.Compare
	cur *node
}

// NewIter returns an iterator positioned before the first entry.
func (m *Memtable) NewIter() *Iterator {
	return &Iterator{cmp: m.cmp}
}

// SeekGE positions the iterator at the first entry with internal key >=
// the seek key for userKey (i.e. the newest version of userKey, or the
// next user key after it if userKey itself is absent).
func (it *Iterator) SeekGE(m *Memtable, userKey []byte) {
	target := base.SeekKey(userKey).Encode(nil)
	it.cur = m.skl.seek(target)
}

// First positions the iterator at the first (smallest internal key) entry.
func (it *Iterator) First(m *Memtable) {
	it.cur = m.skl.first()
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.cur != nil }

// Next advances to the following entry.
func (it *Iterator) Next() {
	it.cur = it.cur.next[0].Load()
}

// Key returns the current entry's internal key. The returned key aliases
// the iterator's internal storage and must not be retained past Next.
func (it *Iterator) Key() base.InternalKey {
	k, _ := base.DecodeInternalKey(it.cur.key)
	return k
}

// Value returns the current entry's value bytes.
func (it *Iterator) Value() []byte { return it.cur.value }
