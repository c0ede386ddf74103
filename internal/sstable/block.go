package sstable

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/edb-project/embeddeddb/internal/base"
)

// A data block is a sequence of (internal key, value) entries, each
// varint-length-prefixed, followed by an 8-byte xxhash64 trailer over the
// uncompressed entry bytes. Restart-point prefix compression (as real
// LevelDB/pebble blocks use) is left out here deliberately: the exact file
// format is explicitly out of the core's scope (spec.md §1), and this
// module only needs to support sorted point lookup + ordered scan, which a
// flat entry list does just as correctly.
type blockWriter struct {
	buf []byte
}

func (w *blockWriter) add(key base.InternalKey, value []byte) {
	var tmp [binary.MaxVarintLen64]byte
	keyLen := key.Size()
	n := binary.PutUvarint(tmp[:], uint64(keyLen))
	w.buf = append(w.buf, tmp[:n]...)
	w.buf = key.Encode(w.buf)

	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	w.buf = append(w.buf, tmp[:n]...)
	w.buf = append(w.buf, value...)
}

func (w *blockWriter) size() int { return len(w.buf) }

// finish returns the raw, uncompressed block bytes (entries + checksum
// trailer). Compression is applied by the caller, which knows whether the
// table-wide compression kind is enabled.
func (w *blockWriter) finish() []byte {
	sum := xxhash.Sum64(w.buf)
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], sum)
	return append(w.buf, trailer[:]...)
}

// blockEntry is one decoded (internal key, value) pair from a data block.
type blockEntry struct {
	key   base.InternalKey
	value []byte
}

// decodeBlock verifies the checksum trailer and parses every entry.
func decodeBlock(raw []byte) ([]blockEntry, error) {
	if len(raw) < 8 {
		return nil, base.CorruptionErrorf("sstable: block too short")
	}
	body := raw[:len(raw)-8]
	wantSum := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	if xxhash.Sum64(body) != wantSum {
		return nil, base.CorruptionErrorf("sstable: block checksum mismatch")
	}

	var entries []blockEntry
	for len(body) > 0 {
		keyLen, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, base.CorruptionErrorf("sstable: malformed block entry")
		}
		body = body[n:]
		if uint64(len(body)) < keyLen {
			return nil, base.CorruptionErrorf("sstable: truncated block entry key")
		}
		ikey, ok := base.DecodeInternalKey(body[:keyLen])
		if !ok {
			return nil, base.CorruptionErrorf("sstable: malformed internal key")
		}
		body = body[keyLen:]

		valLen, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, base.CorruptionErrorf("sstable: malformed block entry")
		}
		body = body[n:]
		if uint64(len(body)) < valLen {
			return nil, base.CorruptionErrorf("sstable: truncated block entry value")
		}
		value := body[:valLen]
		body = body[valLen:]

		entries = append(entries, blockEntry{key: ikey, value: value})
	}
	return entries, nil
}
