package embeddeddb

import (
	"encoding/binary"

	"github.com/edb-project/embeddeddb/internal/base"
)

// batchHeaderLen is the fixed prefix of the wire format: an 8-byte sequence
// number followed by a 4-byte record count (spec.md §6).
const batchHeaderLen = 8 + 4

// batchEntry is one record inside a Batch: a Put carries a value, a Delete
// does not.
type batchEntry struct {
	kind  base.InternalKeyKind
	key   []byte
	value []byte
}

// Batch is an append-only buffer of Put/Delete operations applied to the
// database atomically. It is the unit of durability: either every
// operation in a successfully written batch is visible, or none is.
type Batch struct {
	seq     base.SeqNum
	hasSeq  bool
	entries []batchEntry
}

// NewBatch returns an empty batch ready for Put/Delete calls.
func NewBatch() *Batch {
	return &Batch{}
}

// Put appends a Set record for key/value. Both are copied.
func (b *Batch) Put(key, value []byte) {
	b.entries = append(b.entries, batchEntry{
		kind:  base.InternalKeyKindSet,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

// Delete appends a tombstone record for key.
func (b *Batch) Delete(key []byte) {
	b.entries = append(b.entries, batchEntry{
		kind: base.InternalKeyKindDelete,
		key:  append([]byte(nil), key...),
	})
}

// SetSequence presets the sequence number the batch's first operation will
// receive; write() otherwise assigns log_last_sequence+1. WAL replay does
// not go through it: DecodeBatch restores the logged sequence directly.
func (b *Batch) SetSequence(seq base.SeqNum) {
	b.seq = seq
	b.hasSeq = true
}

// Sequence returns the batch's base sequence number (valid only once set,
// either via SetSequence or by the writer at commit time).
func (b *Batch) Sequence() base.SeqNum { return b.seq }

// Count returns the number of operations in the batch.
func (b *Batch) Count() int { return len(b.entries) }

// Empty reports whether the batch has no operations; write() rejects an
// empty batch with InvalidArgument.
func (b *Batch) Empty() bool { return len(b.entries) == 0 }

// AsBytes encodes the batch in the wire format written to the WAL:
// {sequence:u64, count:u32, records[count]}, each record a tagged union of
// Put(key,value) or Delete(key), varint-length-prefixed.
func (b *Batch) AsBytes() []byte {
	var buf [batchHeaderLen]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(b.seq))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(b.entries)))
	out := append([]byte(nil), buf[:]...)

	var tmp [binary.MaxVarintLen64]byte
	for _, e := range b.entries {
		out = append(out, byte(e.kind))
		n := binary.PutUvarint(tmp[:], uint64(len(e.key)))
		out = append(out, tmp[:n]...)
		out = append(out, e.key...)
		if e.kind == base.InternalKeyKindSet {
			n := binary.PutUvarint(tmp[:], uint64(len(e.value)))
			out = append(out, tmp[:n]...)
			out = append(out, e.value...)
		}
	}
	return out
}

// DecodeBatch parses the wire format produced by AsBytes, as read back from
// a WAL record during replay.
func DecodeBatch(data []byte) (*Batch, error) {
	if len(data) < batchHeaderLen {
		return nil, base.CorruptionErrorf("batch: truncated header")
	}
	b := &Batch{
		seq:    base.SeqNum(binary.LittleEndian.Uint64(data[0:8])),
		hasSeq: true,
	}
	count := binary.LittleEndian.Uint32(data[8:12])
	data = data[batchHeaderLen:]

	for i := uint32(0); i < count; i++ {
		if len(data) < 1 {
			return nil, base.CorruptionErrorf("batch: truncated record %d", i)
		}
		kind := base.InternalKeyKind(data[0])
		data = data[1:]

		keyLen, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data[n:])) < keyLen {
			return nil, base.CorruptionErrorf("batch: truncated key in record %d", i)
		}
		data = data[n:]
		key := append([]byte(nil), data[:keyLen]...)
		data = data[keyLen:]

		e := batchEntry{kind: kind, key: key}
		switch kind {
		case base.InternalKeyKindSet:
			valLen, n := binary.Uvarint(data)
			if n <= 0 || uint64(len(data[n:])) < valLen {
				return nil, base.CorruptionErrorf("batch: truncated value in record %d", i)
			}
			data = data[n:]
			e.value = append([]byte(nil), data[:valLen]...)
			data = data[valLen:]
		case base.InternalKeyKindDelete:
		default:
			return nil, base.CorruptionErrorf("batch: unknown record kind %d", kind)
		}
		b.entries = append(b.entries, e)
	}
	return b, nil
}

// applyTo inserts every operation in the batch into memtable, assigning
// sequence = b.seq + index to the i-th operation, exactly as spec.md §4.2
// describes.
func (b *Batch) applyTo(insert func(ikey base.InternalKey, value []byte)) {
	for i, e := range b.entries {
		seq := b.seq + base.SeqNum(i)
		ikey := base.MakeInternalKey(e.key, seq, e.kind)
		insert(ikey, e.value)
	}
}

// lastSequence returns the sequence number of the batch's final operation,
// the value log_last_sequence advances to once the batch commits.
func (b *Batch) lastSequence() base.SeqNum {
	if len(b.entries) == 0 {
		return b.seq
	}
	return b.seq + base.SeqNum(len(b.entries)) - 1
}
