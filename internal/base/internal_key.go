// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"encoding/binary"
)

// SeqNum is a monotonically increasing 56-bit sequence number stamped on
// every write operation. It determines visibility under a snapshot.
type SeqNum uint64

// SeqNumMax is the largest representable sequence number. Internal keys
// built with this sequence sort before every real entry sharing a user key,
// which MergeIterator.Seek relies on to land on the newest visible version.
const SeqNumMax SeqNum = 1<<56 - 1

// InternalKeyKind distinguishes a live value from a tombstone.
type InternalKeyKind uint8

const (
	// InternalKeyKindDelete marks a user key as removed as of this sequence.
	InternalKeyKindDelete InternalKeyKind = 0
	// InternalKeyKindSet records a live value as of this sequence.
	InternalKeyKindSet InternalKeyKind = 1
	// InternalKeyKindInvalid marks a corrupt trailer. (A zero-value trailer
	// decodes as InternalKeyKindDelete at sequence 0.)
	InternalKeyKindInvalid InternalKeyKind = 0xff
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindDelete:
		return "DEL"
	case InternalKeyKindSet:
		return "SET"
	default:
		return "INVALID"
	}
}

// trailerLen is the number of bytes appended to a user key to form an
// internal key: a 7-byte sequence number plus a 1-byte kind, packed into a
// single 8-byte trailer so that comparing the trailer as one integer
// compares (sequence desc, kind) in one step.
const trailerLen = 8

// InternalKeyTrailer packs a sequence number and kind the way they are
// stored on disk: the low byte is the kind, the remaining 7 bytes are the
// sequence number.
func InternalKeyTrailer(seq SeqNum, kind InternalKeyKind) uint64 {
	return uint64(seq)<<8 | uint64(kind)
}

// InternalKey is the comparator's unit of ordering: a user key plus the
// sequence/kind trailer that makes every write of every user key globally
// ordered and disambiguated.
type InternalKey struct {
	UserKey []byte
	Trailer uint64
}

// MakeInternalKey builds an InternalKey for a user key written at seq with
// the given kind.
func MakeInternalKey(userKey []byte, seq SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: InternalKeyTrailer(seq, kind)}
}

// SeqNum returns the sequence number encoded in the trailer.
func (k InternalKey) SeqNum() SeqNum { return SeqNum(k.Trailer >> 8) }

// Kind returns the kind encoded in the trailer.
func (k InternalKey) Kind() InternalKeyKind { return InternalKeyKind(k.Trailer & 0xff) }

// Clone returns a deep copy, safe to retain past the lifetime of the buffer
// UserKey currently points into.
func (k InternalKey) Clone() InternalKey {
	if k.UserKey == nil {
		return k
	}
	u := make([]byte, len(k.UserKey))
	copy(u, k.UserKey)
	return InternalKey{UserKey: u, Trailer: k.Trailer}
}

// Encode appends the wire form (user key, then the 8-byte trailer) used by
// sstable blocks and the record log.
func (k InternalKey) Encode(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	var buf [trailerLen]byte
	binary.LittleEndian.PutUint64(buf[:], k.Trailer)
	return append(dst, buf[:]...)
}

// Size returns the encoded length of k.
func (k InternalKey) Size() int { return len(k.UserKey) + trailerLen }

// DecodeInternalKey parses the wire form produced by Encode. The returned
// key's UserKey aliases buf.
func DecodeInternalKey(buf []byte) (InternalKey, bool) {
	if len(buf) < trailerLen {
		return InternalKey{}, false
	}
	n := len(buf) - trailerLen
	trailer := binary.LittleEndian.Uint64(buf[n:])
	return InternalKey{UserKey: buf[:n], Trailer: trailer}, true
}

// Compare is a total order over raw user-key bytes.
type Compare func(a, b []byte) int

// DefaultCompare orders user keys by unsigned byte value, the same ordering
// every example in the pack uses for its comparator.
func DefaultCompare(a, b []byte) int { return bytes.Compare(a, b) }

// Comparer bundles the user-key comparator with a stable name, recorded in
// the manifest so a database can refuse to open under an incompatible
// comparator.
type Comparer struct {
	Compare Compare
	Name    string
}

// DefaultComparer is the bytewise comparator used unless Options overrides
// it.
var DefaultComparer = &Comparer{Compare: DefaultCompare, Name: "edb.BytewiseComparator"}

// InternalCompare orders InternalKeys by user key ascending under cmp, then
// by trailer descending, so that among entries sharing a user key the
// newest sequence (and, at equal sequence, the higher kind) sorts first.
func InternalCompare(cmp Compare, a, b InternalKey) int {
	if c := cmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// SeekKey builds the internal key used to seek to the newest possible
// version of userKey: the same user key paired with the maximum sequence
// number, so InternalCompare places it before every real entry for that key.
func SeekKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindSet)
}
