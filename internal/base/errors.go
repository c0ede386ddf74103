// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds the types shared by every layer of the storage engine:
// the internal key encoding, the user-key comparator, and the error kinds
// that the rest of the engine classifies its failures into.
package base

import (
	"github.com/cockroachdb/errors"
)

// Error kind markers. Callers classify a returned error with errors.Is
// against these sentinels rather than inspecting a kind enum.
var (
	// ErrNotFound is returned by Open when create_if_missing is false and the
	// database does not exist. Get reports a key with no visible entry as
	// found=false with a nil error, not with this error.
	ErrNotFound = errors.New("edb: not found")
	// ErrAlreadyExists is returned by Open when error_if_exists is set and a
	// database is already present at the path.
	ErrAlreadyExists = errors.New("edb: database already exists")
	// ErrLocked is returned by Open when another process holds the LOCK file.
	ErrLocked = errors.New("edb: database locked by another process")
	// ErrClosed is returned by Write and IngestExternalFiles once Close has
	// been called.
	ErrClosed = errors.New("edb: database closed")
	// ErrReadOnly is returned by Write against a read-only database.
	ErrReadOnly = errors.New("edb: database opened read-only")
	// ErrInvalidArgument covers empty batches, non-monotonic preset
	// sequence numbers, and malformed keys.
	ErrInvalidArgument = errors.New("edb: invalid argument")
	// ErrCorruption covers unreadable manifests, checksum mismatches, and
	// mid-stream record parse failures.
	ErrCorruption = errors.New("edb: corruption")
)

// CorruptionErrorf formats a corruption error, marked so that
// errors.Is(err, ErrCorruption) succeeds.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// InvalidArgumentErrorf formats an invalid-argument error, marked so that
// errors.Is(err, ErrInvalidArgument) succeeds.
func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}
