// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record implements the append-only framed record log that backs
// both the write-ahead log and the manifest. It is the "external
// collaborator" spec.md §4.3 describes: callers only see Open/Append/Flush
// and Open/Next, never block-level framing details.
package record

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/edb-project/embeddeddb/internal/base"
	"github.com/edb-project/embeddeddb/vfs"
)

// Each record is framed as:
//
//	length  uint32 little-endian
//	cksum   uint64 little-endian (xxhash64 of the payload)
//	payload [length]byte
const headerLen = 4 + 8

// Writer appends framed records to a single underlying file.
type Writer struct {
	f   vfs.File
	buf []byte
}

// Open creates or truncates name and returns a Writer positioned at the
// start of the (empty) file.
func Open(fs vfs.FS, name string) (*Writer, error) {
	f, err := fs.Create(name)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f}, nil
}

// OpenAppend opens name for appending, positioned at end-of-file, used when
// reopening a file that already has records (openExisting reopens the
// current manifest and WAL this way).
func OpenAppend(fs vfs.FS, name string) (*Writer, error) {
	f, err := fs.ReuseForWrite(name, name)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f}, nil
}

// Append writes one record containing payload.
func (w *Writer) Append(payload []byte) error {
	w.buf = w.buf[:0]
	var hdr [headerLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[4:12], xxhash.Sum64(payload))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, payload...)
	_, err := w.f.Write(w.buf)
	return err
}

// Flush flushes and fsyncs the underlying file, the point at which an
// Append becomes durable.
func (w *Writer) Flush() error {
	return w.f.Sync()
}

// Close closes the underlying file without an additional flush.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Reader iterates the records of a single file written by Writer.
type Reader struct {
	f   vfs.File
	off int64
	// torn is set once Next has observed a truncated trailing record; the
	// spec requires this to be tolerated rather than treated as fatal
	// corruption, since it is expected after a crash mid-append.
	torn bool
}

// OpenReader opens name for sequential record iteration.
func OpenReader(fs vfs.FS, name string) (*Reader, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f}, nil
}

// Torn reports whether the reader stopped on a truncated trailing record
// rather than a clean EOF between records.
func (r *Reader) Torn() bool { return r.torn }

// Next returns the next record's payload, or (nil, io.EOF) once every
// complete record has been consumed. A torn trailing record — fewer bytes
// remaining than the frame declares — is reported as io.EOF with Torn()
// set to true rather than as an error, per spec.md's recovery rule that a
// partial tail write is a failed write, not a corrupt database.
func (r *Reader) Next() ([]byte, error) {
	var hdr [headerLen]byte
	n, err := r.f.ReadAt(hdr[:], r.off)
	if err == io.EOF || (err == nil && n == 0) {
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF || (n < headerLen && err == nil) {
		r.torn = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	wantCksum := binary.LittleEndian.Uint64(hdr[4:12])

	payload := make([]byte, length)
	pn, err := r.f.ReadAt(payload, r.off+headerLen)
	if err == io.ErrUnexpectedEOF || pn < int(length) {
		// Torn payload: treat exactly like a torn header.
		r.torn = true
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, err
	}

	if xxhash.Sum64(payload) != wantCksum {
		return nil, base.CorruptionErrorf("record: checksum mismatch at offset %d", r.off)
	}

	r.off += headerLen + int64(length)
	return payload, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
