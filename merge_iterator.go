package embeddeddb

import (
	"container/heap"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/internal/memtable"
	"github.com/edb-project/embeddeddb/internal/sstable"
)

// internalIterator is the common shape MergeIterator merges over: a
// memtable iterator, an SSTable iterator, or another MergeIterator.
type internalIterator interface {
	SeekGE(userKey []byte)
	First()
	Valid() bool
	Next()
	Key() base.InternalKey
	Value() []byte
}

// memtableChild adapts *memtable.Iterator, whose SeekGE/First need the
// owning Memtable passed on every call, to internalIterator's self-
// contained shape.
type memtableChild struct {
	m  *memtable.Memtable
	it *memtable.Iterator
}

func newMemtableChild(m *memtable.Memtable) *memtableChild {
	return &memtableChild{m: m, it: m.NewIter()}
}

func (c *memtableChild) SeekGE(userKey []byte) { c.it.SeekGE(c.m, userKey) }
func (c *memtableChild) First()                { c.it.First(c.m) }
func (c *memtableChild) Valid() bool           { return c.it.Valid() }
func (c *memtableChild) Next()                 { c.it.Next() }
func (c *memtableChild) Key() base.InternalKey { return c.it.Key() }
func (c *memtableChild) Value() []byte         { return c.it.Value() }

// sstableChild adapts *sstable.Iterator, which already matches
// internalIterator's shape, mainly so its type shows up distinctly from a
// bare *sstable.Iterator at call sites.
type sstableChild struct {
	*sstable.Iterator
}

func newSSTableChild(r *sstable.Reader) *sstableChild {
	return &sstableChild{Iterator: r.NewIter()}
}

// mergeHeapItem is one live child tracked by the merge heap, caching its
// current key so the heap's Less doesn't re-invoke the child on every
// comparison.
type mergeHeapItem struct {
	child internalIterator
	key   base.InternalKey
}

type mergeHeap struct {
	cmp   base.Compare
	items []*mergeHeapItem
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return base.InternalCompare(h.cmp, h.items[i].key, h.items[j].key) < 0
}
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}

// MergeIterator performs a k-way merge across child iterators (memtables
// and per-level SSTable iterators) ordered by the internal-key comparator,
// spec.md §4.7. It does not itself filter by snapshot sequence or
// deduplicate by user key; Snapshot.NewIter's Iterator wraps it for that.
type MergeIterator struct {
	cmp      base.Compare
	children []internalIterator
	h        mergeHeap
}

// NewMergeIterator builds a merge iterator over children. Children are
// typically ordered newest-first (mutable memtable, immutable memtable,
// L0 tables newest-first, then L1..Ln), though MergeIterator itself treats
// them as an unordered set disambiguated purely by internal key.
func NewMergeIterator(cmp base.Compare, children ...internalIterator) *MergeIterator {
	return &MergeIterator{cmp: cmp, children: children, h: mergeHeap{cmp: cmp}}
}

// First positions the iterator at the smallest internal key across every
// child.
func (m *MergeIterator) First() {
	m.h.items = m.h.items[:0]
	for _, c := range m.children {
		c.First()
		if c.Valid() {
			m.h.items = append(m.h.items, &mergeHeapItem{child: c, key: c.Key()})
		}
	}
	heap.Init(&m.h)
}

// SeekGE positions the iterator at the first internal key >= the seek key
// for userKey (user_key || MAX_SEQUENCE || Set) across every child, i.e.
// the newest possible entry visible for that user key.
func (m *MergeIterator) SeekGE(userKey []byte) {
	m.h.items = m.h.items[:0]
	for _, c := range m.children {
		c.SeekGE(userKey)
		if c.Valid() {
			m.h.items = append(m.h.items, &mergeHeapItem{child: c, key: c.Key()})
		}
	}
	heap.Init(&m.h)
}

// Valid reports whether the iterator is positioned on an entry.
func (m *MergeIterator) Valid() bool { return len(m.h.items) > 0 }

// Key returns the current entry's internal key.
func (m *MergeIterator) Key() base.InternalKey { return m.h.items[0].key }

// Value returns the current entry's value.
func (m *MergeIterator) Value() []byte { return m.h.items[0].child.Value() }

// Next advances past the current smallest entry, re-merging the child it
// came from.
func (m *MergeIterator) Next() {
	top := m.h.items[0]
	top.child.Next()
	if top.child.Valid() {
		top.key = top.child.Key()
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}
