// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest tracks the current set of on-disk tables per level
// (VersionSet/Version), the deltas recorded into the manifest
// (VersionEdit), and the scoring/selection logic that picks the next
// compaction. Grounded on dialtr-pebble/version_set.go's recovery control
// flow and on original_source/pkg/sstable/src/db/db.rs's VersionSet /
// VersionEdit / CompactionReceiver.
package manifest

import (
	"encoding/binary"

	"github.com/edb-project/embeddeddb/internal/base"
)

// NewFileEntry describes a table added by a VersionEdit.
type NewFileEntry struct {
	Level       int
	Number      base.FileNum
	FileSize    uint64
	SmallestKey base.InternalKey
	LargestKey  base.InternalKey
}

// DeletedFileEntry identifies a table removed by a VersionEdit.
type DeletedFileEntry struct {
	Level  int
	Number base.FileNum
}

// VersionEdit is the delta format spec.md §6 describes: every field is
// optional except the file lists, which are simply empty when unused.
type VersionEdit struct {
	NextFileNumber *uint64
	LogNumber      *uint64
	PrevLogNumber  *uint64
	LastSequence   *base.SeqNum
	NewFiles       []NewFileEntry
	DeletedFiles   []DeletedFileEntry
}

// Tags identifying each optional/repeated field in the encoded record.
// Encoding stability (spec.md §6) depends on these never being renumbered.
const (
	tagNextFileNumber = 1
	tagLogNumber      = 2
	tagPrevLogNumber  = 3
	tagLastSequence   = 4
	tagNewFile        = 5
	tagDeletedFile    = 6
)

func putUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func putBytes(dst []byte, b []byte) []byte {
	dst = putUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func putInternalKey(dst []byte, k base.InternalKey) []byte {
	return putBytes(dst, k.Encode(nil))
}

// Encode serializes the edit. Field order is fixed so that two logically
// identical edits always produce byte-identical output (spec.md's
// round-trip testable property).
func (v *VersionEdit) Encode() []byte {
	var buf []byte
	if v.NextFileNumber != nil {
		buf = append(buf, tagNextFileNumber)
		buf = putUvarint(buf, *v.NextFileNumber)
	}
	if v.LogNumber != nil {
		buf = append(buf, tagLogNumber)
		buf = putUvarint(buf, *v.LogNumber)
	}
	if v.PrevLogNumber != nil {
		buf = append(buf, tagPrevLogNumber)
		buf = putUvarint(buf, *v.PrevLogNumber)
	}
	if v.LastSequence != nil {
		buf = append(buf, tagLastSequence)
		buf = putUvarint(buf, uint64(*v.LastSequence))
	}
	for _, f := range v.NewFiles {
		buf = append(buf, tagNewFile)
		buf = putUvarint(buf, uint64(f.Level))
		buf = putUvarint(buf, uint64(f.Number))
		buf = putUvarint(buf, f.FileSize)
		buf = putInternalKey(buf, f.SmallestKey)
		buf = putInternalKey(buf, f.LargestKey)
	}
	for _, d := range v.DeletedFiles {
		buf = append(buf, tagDeletedFile)
		buf = putUvarint(buf, uint64(d.Level))
		buf = putUvarint(buf, uint64(d.Number))
	}
	return buf
}

type byteReader struct {
	buf []byte
}

func (r *byteReader) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return 0, false
	}
	r.buf = r.buf[n:]
	return v, true
}

func (r *byteReader) bytes() ([]byte, bool) {
	n, ok := r.uvarint()
	if !ok || uint64(len(r.buf)) < n {
		return nil, false
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, true
}

func (r *byteReader) internalKey() (base.InternalKey, bool) {
	raw, ok := r.bytes()
	if !ok {
		return base.InternalKey{}, false
	}
	return base.DecodeInternalKey(raw)
}

// DecodeVersionEdit parses the wire form produced by Encode.
func DecodeVersionEdit(data []byte) (*VersionEdit, error) {
	r := &byteReader{buf: data}
	ve := &VersionEdit{}
	for len(r.buf) > 0 {
		tag := r.buf[0]
		r.buf = r.buf[1:]
		switch tag {
		case tagNextFileNumber:
			v, ok := r.uvarint()
			if !ok {
				return nil, base.CorruptionErrorf("manifest: bad next_file_number")
			}
			ve.NextFileNumber = &v
		case tagLogNumber:
			v, ok := r.uvarint()
			if !ok {
				return nil, base.CorruptionErrorf("manifest: bad log_number")
			}
			ve.LogNumber = &v
		case tagPrevLogNumber:
			v, ok := r.uvarint()
			if !ok {
				return nil, base.CorruptionErrorf("manifest: bad prev_log_number")
			}
			ve.PrevLogNumber = &v
		case tagLastSequence:
			v, ok := r.uvarint()
			if !ok {
				return nil, base.CorruptionErrorf("manifest: bad last_sequence")
			}
			seq := base.SeqNum(v)
			ve.LastSequence = &seq
		case tagNewFile:
			level, ok1 := r.uvarint()
			num, ok2 := r.uvarint()
			size, ok3 := r.uvarint()
			smallest, ok4 := r.internalKey()
			largest, ok5 := r.internalKey()
			if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
				return nil, base.CorruptionErrorf("manifest: bad new_file entry")
			}
			ve.NewFiles = append(ve.NewFiles, NewFileEntry{
				Level:       int(level),
				Number:      base.FileNum(num),
				FileSize:    size,
				SmallestKey: smallest.Clone(),
				LargestKey:  largest.Clone(),
			})
		case tagDeletedFile:
			level, ok1 := r.uvarint()
			num, ok2 := r.uvarint()
			if !ok1 || !ok2 {
				return nil, base.CorruptionErrorf("manifest: bad deleted_file entry")
			}
			ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{
				Level:  int(level),
				Number: base.FileNum(num),
			})
		default:
			return nil, base.CorruptionErrorf("manifest: unknown edit tag %d", tag)
		}
	}
	return ve, nil
}
