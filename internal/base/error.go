// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a get or delete call did not find the requested key.
var ErrNotFound = errors.New("lsmcore: not found")

// ErrCorruption is a marker to indicate that data in a file (a sstable or the
// metadata log) is corrupted.
var ErrCorruption = errors.New("lsmcore: corruption")

// ErrInvalidArgument is a marker for a request that was rejected before any
// state was mutated.
var ErrInvalidArgument = errors.New("lsmcore: invalid argument")

// ErrIncomplete is a marker for an operation that could not complete without
// IO when IO was disallowed. The caller may retry with IO allowed.
var ErrIncomplete = errors.New("lsmcore: incomplete")

// ErrColumnFamilyDropped is returned for metadata changes queued against a
// column family that was dropped before they could be applied.
var ErrColumnFamilyDropped = errors.New("lsmcore: column family dropped")

// MarkCorruptionError marks given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError returns true if the given error indicates corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// InvalidArgumentErrorf formats according to a format specifier and returns
// the string as an error value that is marked as an invalid argument error.
func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

// IncompleteErrorf formats according to a format specifier and returns the
// string as an error value that is marked as an incomplete error.
func IncompleteErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrIncomplete)
}
