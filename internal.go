// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/sirupsen/logrus"
)

// SeqNum exports the base.SeqNum type.
type SeqNum = base.SeqNum

// The zero and maximum sequence numbers.
const (
	SeqNumZero = base.SeqNumZero
	SeqNumMax  = base.SeqNumMax
)

// InternalKeyKind exports the base.InternalKeyKind type.
type InternalKeyKind = base.InternalKeyKind

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete       = base.InternalKeyKindDelete
	InternalKeyKindSet          = base.InternalKeyKindSet
	InternalKeyKindMerge        = base.InternalKeyKindMerge
	InternalKeyKindLogData      = base.InternalKeyKindLogData
	InternalKeyKindSingleDelete = base.InternalKeyKindSingleDelete
	InternalKeyKindRangeDelete  = base.InternalKeyKindRangeDelete
	InternalKeyKindMax          = base.InternalKeyKindMax
	InternalKeyKindInvalid      = base.InternalKeyKindInvalid
)

// InternalKeyTrailer exports the base.InternalKeyTrailer type.
type InternalKeyTrailer = base.InternalKeyTrailer

// InternalKey exports the base.InternalKey type.
type InternalKey = base.InternalKey

// InternalKV exports the base.InternalKV type.
type InternalKV = base.InternalKV

// FileNum exports the base.FileNum type.
type FileNum = base.FileNum

// Comparer exports the base.Comparer type.
type Comparer = base.Comparer

// DefaultComparer exports the base.DefaultComparer variable.
var DefaultComparer = base.DefaultComparer

// Logger exports the base.Logger type.
type Logger = base.Logger

// LogrusLogger exports the base.LogrusLogger type.
type LogrusLogger = base.LogrusLogger

// NewLogrusLogger returns a Logger writing through logger, with fields
// attached to every message.
func NewLogrusLogger(logger *logrus.Logger, fields logrus.Fields) LogrusLogger {
	return base.NewLogrusLogger(logger, fields)
}

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return base.MakeInternalKey(userKey, seqNum, kind)
}

// InternalIterator exports the base.InternalIterator type.
type InternalIterator = base.InternalIterator

type internalIterator = base.InternalIterator

// FileMetadata exports the manifest.FileMetadata type.
type FileMetadata = manifest.FileMetadata

// TableProperties exports the manifest.TableProperties type.
type TableProperties = manifest.TableProperties

// VersionEdit exports the manifest.VersionEdit type.
type VersionEdit = manifest.VersionEdit

// IsCorruptionError returns true if the given error indicates database
// corruption.
func IsCorruptionError(err error) bool {
	return base.IsCorruptionError(err)
}

var (
	// ErrNotFound is returned when a get operation does not find the
	// requested key.
	ErrNotFound = base.ErrNotFound
	// ErrCorruption is a marker to indicate that data in a file (MANIFEST,
	// CURRENT, table) isn't in the expected format.
	ErrCorruption = base.ErrCorruption
	// ErrInvalidArgument marks errors caused by bad options or requests.
	ErrInvalidArgument = base.ErrInvalidArgument
	// ErrIncomplete is returned by lookups that would have required IO when
	// IO was not allowed.
	ErrIncomplete = base.ErrIncomplete
	// ErrColumnFamilyDropped is returned by operations on a column family
	// that was dropped.
	ErrColumnFamilyDropped = base.ErrColumnFamilyDropped
)

// ErrAborted is returned by a manual compaction that cannot run because of
// conflicting running compactions.
var ErrAborted = errors.New("lsmcore: aborted")
