package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/vfs"
)

// magic identifies a valid table file, written as the last 8 bytes.
const magic = 0x656462_5353544142 // "edbSSTAB" squeezed into 8 bytes' worth of bits

// footerLen is the fixed-size trailer: bloom{offset,len} + index{offset,len}
// + compression kind (padded to 8 bytes) + magic.
const footerLen = 8*4 + 8 + 8

// targetBlockSize is when the builder cuts the current data block.
const targetBlockSize = 4 << 10

// indexEntry records where a data block starts and its first key, enough
// to binary search for the block that could contain a probe key.
type indexEntry struct {
	firstKey []byte
	offset   uint64
	length   uint64
}

// Builder writes a sorted stream of internal keys into a new table file.
// Add must be called in strictly increasing internal-key order, the
// contract spec.md §4.4 places on this external collaborator.
type Builder struct {
	f           vfs.File
	compression Compression
	cmp         base.Compare

	cur      blockWriter
	curFirst []byte
	offset   uint64
	index    []indexEntry
	bloom    *bloomFilter
	numAdded int
	smallest base.InternalKey
	largest  base.InternalKey
	hasFirst bool
}

// Options configures a Builder/Reader pair. Both must agree on Compare and
// Compression for a table to round-trip correctly; Compression is also
// self-described in the footer so a Reader never needs to be told it.
type Options struct {
	Compare           base.Compare
	Compression       Compression
	ExpectedKeyCount  int
	FalsePositiveRate float64
}

func (o Options) withDefaults() Options {
	if o.Compare == nil {
		o.Compare = base.DefaultCompare
	}
	if o.ExpectedKeyCount == 0 {
		o.ExpectedKeyCount = 1024
	}
	if o.FalsePositiveRate == 0 {
		o.FalsePositiveRate = 0.01
	}
	return o
}

// NewBuilder opens name for writing a new table.
func NewBuilder(fs vfs.FS, name string, opts Options) (*Builder, error) {
	opts = opts.withDefaults()
	f, err := fs.Create(name)
	if err != nil {
		return nil, err
	}
	return &Builder{
		f:           f,
		compression: opts.Compression,
		cmp:         opts.Compare,
		bloom:       newBloomFilter(opts.ExpectedKeyCount, opts.FalsePositiveRate),
	}, nil
}

// Add appends an entry. Keys must be added in increasing internal-key
// order (callers are the memtable flush path, which walks the memtable in
// order, compaction, which iterates a MergeIterator, and ingestion, which
// copies an already sorted table).
func (b *Builder) Add(key base.InternalKey, value []byte) error {
	if !b.hasFirst {
		b.smallest = key.Clone()
		b.hasFirst = true
	}
	b.largest = key.Clone()

	if b.cur.size() == 0 {
		b.curFirst = append([]byte(nil), key.UserKey...)
	}
	b.cur.add(key, value)
	b.bloom.add(key.UserKey)
	b.numAdded++

	if b.cur.size() >= targetBlockSize {
		return b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() error {
	if b.cur.size() == 0 {
		return nil
	}
	raw := b.cur.finish()
	compressed, err := compressBlock(b.compression, raw)
	if err != nil {
		return err
	}
	if _, err := b.f.Write(compressed); err != nil {
		return err
	}
	b.index = append(b.index, indexEntry{
		firstKey: b.curFirst,
		offset:   b.offset,
		length:   uint64(len(compressed)),
	})
	b.offset += uint64(len(compressed))
	b.cur = blockWriter{}
	b.curFirst = nil
	return nil
}

// EstimatedSize returns the number of bytes written to the file so far plus
// the pending (unflushed) block, used by the compaction engine to decide
// when to cut a new output table.
func (b *Builder) EstimatedSize() uint64 {
	return b.offset + uint64(b.cur.size())
}

// Meta describes a table as registered in a VersionEdit.
type Meta struct {
	FileSize    uint64
	SmallestKey base.InternalKey
	LargestKey  base.InternalKey
	NumEntries  int
}

// Finish flushes the last block, the bloom filter, the index, and the
// footer, and fsyncs the file.
func (b *Builder) Finish() (Meta, error) {
	if err := b.flushBlock(); err != nil {
		return Meta{}, err
	}

	bloomOff := b.offset
	bloomBytes := b.bloom.encode()
	if _, err := b.f.Write(bloomBytes); err != nil {
		return Meta{}, err
	}
	b.offset += uint64(len(bloomBytes))

	indexOff := b.offset
	indexBytes := encodeIndex(b.index)
	if _, err := b.f.Write(indexBytes); err != nil {
		return Meta{}, err
	}
	b.offset += uint64(len(indexBytes))

	var footer [footerLen]byte
	binary.LittleEndian.PutUint64(footer[0:8], bloomOff)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(bloomBytes)))
	binary.LittleEndian.PutUint64(footer[16:24], indexOff)
	binary.LittleEndian.PutUint64(footer[24:32], uint64(len(indexBytes)))
	footer[32] = byte(b.compression)
	binary.LittleEndian.PutUint64(footer[40:48], magic)
	if _, err := b.f.Write(footer[:]); err != nil {
		return Meta{}, err
	}
	b.offset += footerLen

	if err := b.f.Sync(); err != nil {
		return Meta{}, err
	}
	if err := b.f.Close(); err != nil {
		return Meta{}, err
	}

	return Meta{
		FileSize:    b.offset,
		SmallestKey: b.smallest,
		LargestKey:  b.largest,
		NumEntries:  b.numAdded,
	}, nil
}

func encodeIndex(entries []indexEntry) []byte {
	var buf []byte
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(entries)))
	buf = append(buf, tmp[:n]...)
	for _, e := range entries {
		n := binary.PutUvarint(tmp[:], uint64(len(e.firstKey)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.firstKey...)
		var fixed [16]byte
		binary.LittleEndian.PutUint64(fixed[0:8], e.offset)
		binary.LittleEndian.PutUint64(fixed[8:16], e.length)
		buf = append(buf, fixed[:]...)
	}
	return buf
}

func decodeIndex(data []byte) ([]indexEntry, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, base.CorruptionErrorf("sstable: malformed index")
	}
	data = data[n:]
	entries := make([]indexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		klen, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data[n:])) < klen+16 {
			return nil, base.CorruptionErrorf("sstable: truncated index entry")
		}
		data = data[n:]
		key := append([]byte(nil), data[:klen]...)
		data = data[klen:]
		offset := binary.LittleEndian.Uint64(data[0:8])
		length := binary.LittleEndian.Uint64(data[8:16])
		data = data[16:]
		entries = append(entries, indexEntry{firstKey: key, offset: offset, length: length})
	}
	return entries, nil
}

// Reader serves point lookups and ordered iteration over a table built by
// Builder.
type Reader struct {
	f           vfs.File
	cmp         base.Compare
	compression Compression
	index       []indexEntry
	bloom       *bloomFilter
}

// Open reads the footer, index, and bloom filter of an existing table.
func Open(fs vfs.FS, name string, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := stat.Size()
	if size < footerLen {
		f.Close()
		return nil, base.CorruptionErrorf("sstable: %s too small to be a table", name)
	}

	var footer [footerLen]byte
	if _, err := f.ReadAt(footer[:], size-footerLen); err != nil {
		f.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint64(footer[40:48]) != magic {
		f.Close()
		return nil, base.CorruptionErrorf("sstable: %s has bad magic", name)
	}
	bloomOff := binary.LittleEndian.Uint64(footer[0:8])
	bloomLen := binary.LittleEndian.Uint64(footer[8:16])
	indexOff := binary.LittleEndian.Uint64(footer[16:24])
	indexLen := binary.LittleEndian.Uint64(footer[24:32])
	compression := Compression(footer[32])

	bloomBytes := make([]byte, bloomLen)
	if _, err := f.ReadAt(bloomBytes, int64(bloomOff)); err != nil {
		f.Close()
		return nil, err
	}
	indexBytes := make([]byte, indexLen)
	if _, err := f.ReadAt(indexBytes, int64(indexOff)); err != nil {
		f.Close()
		return nil, err
	}
	index, err := decodeIndex(indexBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reader{
		f:           f,
		cmp:         opts.Compare,
		compression: compression,
		index:       index,
		bloom:       decodeBloomFilter(bloomBytes),
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) readBlock(e indexEntry) ([]blockEntry, error) {
	compressed := make([]byte, e.length)
	if _, err := r.f.ReadAt(compressed, int64(e.offset)); err != nil {
		return nil, err
	}
	raw, err := decompressBlock(r.compression, compressed)
	if err != nil {
		return nil, err
	}
	return decodeBlock(raw)
}

// blockForKey returns the index of the data block that could contain
// userKey: the last block whose first key is <= userKey.
func (r *Reader) blockForKey(userKey []byte) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return r.cmp(r.index[i].firstKey, userKey) > 0
	})
	return i - 1
}

// Entry is a decoded (internal key, value) pair returned by Get.
type Entry struct {
	Key   base.InternalKey
	Value []byte
}

// Get returns the first entry for userKey in the block it would live in,
// which by internal-key order is its newest entry; there is no sequence
// bound. ok is false if no entry for userKey is present (including when it
// was bloom-filtered out without touching disk).
func (r *Reader) Get(userKey []byte) (entry Entry, ok bool, err error) {
	if r.bloom != nil && !r.bloom.mayContain(userKey) {
		return Entry{}, false, nil
	}
	bi := r.blockForKey(userKey)
	if bi < 0 {
		return Entry{}, false, nil
	}
	entries, err := r.readBlock(r.index[bi])
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if r.cmp(e.key.UserKey, userKey) == 0 {
			return Entry{Key: e.key, Value: e.value}, true, nil
		}
	}
	return Entry{}, false, nil
}

// Iterator walks every entry of a table in internal-key order.
type Iterator struct {
	r       *Reader
	blockIx int
	entries []blockEntry
	pos     int
	err     error
}

// NewIter returns an iterator positioned before the first entry.
func (r *Reader) NewIter() *Iterator {
	return &Iterator{r: r, blockIx: -1}
}

// SeekGE positions the iterator at the first entry with user key >= the
// given key (MergeIterator always drives this with the "seek key" for a
// user key, i.e. the newest possible version).
func (it *Iterator) SeekGE(userKey []byte) {
	bi := it.r.blockForKey(userKey)
	if bi < 0 {
		bi = 0
	}
	it.loadBlock(bi)
	for it.pos < len(it.entries) && it.r.cmp(it.entries[it.pos].key.UserKey, userKey) < 0 {
		it.pos++
	}
	it.advanceAcrossBlocks()
}

func (it *Iterator) loadBlock(bi int) {
	it.blockIx = bi
	it.pos = 0
	it.entries = nil
	if bi < 0 || bi >= len(it.r.index) {
		return
	}
	entries, err := it.r.readBlock(it.r.index[bi])
	if err != nil {
		it.err = err
		return
	}
	it.entries = entries
}

func (it *Iterator) advanceAcrossBlocks() {
	for it.pos >= len(it.entries) && it.err == nil && it.blockIx+1 < len(it.r.index) {
		it.loadBlock(it.blockIx + 1)
	}
}

// First positions the iterator at the table's first entry.
func (it *Iterator) First() {
	it.loadBlock(0)
	it.advanceAcrossBlocks()
}

// Valid reports whether the iterator is on an entry.
func (it *Iterator) Valid() bool { return it.err == nil && it.pos < len(it.entries) }

// Err returns any error encountered while reading blocks.
func (it *Iterator) Err() error { return it.err }

// Next advances to the following entry.
func (it *Iterator) Next() {
	it.pos++
	it.advanceAcrossBlocks()
}

// Key returns the current entry's internal key.
func (it *Iterator) Key() base.InternalKey { return it.entries[it.pos].key }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.entries[it.pos].value }

// Close releases resources held by the iterator (currently a no-op; blocks
// are read on demand and not cached beyond the current one).
func (it *Iterator) Close() error { return nil }
