// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/lsmcore/lsmcore/internal/base"
)

// TableStats holds the entry statistics of a table. They are loaded lazily
// from the table's properties, at most once per file.
type TableStats struct {
	NumEntries   uint64
	NumDeletions uint64
	RawKeySize   uint64
	RawValueSize uint64
}

// TableProperties are the properties of a table as reported by the table
// cache.
type TableProperties struct {
	TableStats
}

// PropertiesLoader loads the properties of a table.
type PropertiesLoader interface {
	Properties(f *FileMetadata) (*TableProperties, error)
}

// TableLoader opens the reader for a table, caching it for later lookups.
type TableLoader interface {
	FindTable(f *FileMetadata) error
}

// FileMetadata holds the metadata for an on-disk table.
type FileMetadata struct {
	// refs is the number of versions that contain this file. When it drops to
	// zero the file is obsolete and may be deleted.
	refs atomic.Int32

	FileNum base.FileNum
	// PathID is the index of the data path the file lives in.
	PathID uint32
	// Size is the size of the file, in bytes.
	Size uint64
	// Smallest and Largest are the inclusive bounds for the internal keys
	// stored in the table.
	Smallest base.InternalKey
	Largest  base.InternalKey
	// Smallest and largest sequence numbers in the table.
	SmallestSeqNum base.SeqNum
	LargestSeqNum  base.SeqNum
	// MarkedForCompaction is set when a table properties collector asked for
	// the file to be compacted. It is persisted in the manifest.
	MarkedForCompaction bool

	// BeingCompacted is set while the file is an input of a running
	// compaction. Protected by the DB mutex.
	BeingCompacted bool

	// CompensatedSize is Size boosted by the weight of the deletions the
	// file holds. Zero until computed by a version's Finalize.
	CompensatedSize uint64

	// Stats are valid once StatsInitialized is set.
	Stats            TableStats
	StatsInitialized bool
}

// Ref increments the file's reference count and returns the new count.
func (m *FileMetadata) Ref() int32 {
	return m.refs.Add(1)
}

// Unref decrements the file's reference count and returns the new count.
func (m *FileMetadata) Unref() int32 {
	v := m.refs.Add(-1)
	if v < 0 {
		panic(fmt.Sprintf("lsmcore: file %s has negative reference count", m.FileNum))
	}
	return v
}

// Refs returns the file's current reference count.
func (m *FileMetadata) Refs() int32 {
	return m.refs.Load()
}

// ContainsUserKey returns true if the file's key range includes userKey.
func (m *FileMetadata) ContainsUserKey(cmp base.Compare, userKey []byte) bool {
	return cmp(m.Smallest.UserKey, userKey) <= 0 && cmp(userKey, m.Largest.UserKey) <= 0
}

// Overlaps returns true if the file's user key range intersects [start, end].
// A nil bound is unbounded.
func (m *FileMetadata) Overlaps(cmp base.Compare, start, end []byte) bool {
	if start != nil && cmp(m.Largest.UserKey, start) < 0 {
		return false
	}
	if end != nil && cmp(m.Smallest.UserKey, end) > 0 {
		return false
	}
	return true
}

// String implements fmt.Stringer.
func (m *FileMetadata) String() string {
	return fmt.Sprintf("%s:[%s-%s]", m.FileNum, m.Smallest, m.Largest)
}

// SafeFormat implements redact.SafeFormatter.
func (m *FileMetadata) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s:[%s-%s] size:%s seqnums:[%s-%s]",
		m.FileNum, m.Smallest, m.Largest,
		crhumanize.Bytes(m.Size, crhumanize.Compact, crhumanize.OmitI),
		m.SmallestSeqNum, m.LargestSeqNum)
}

// DebugString returns a verbose representation of the file, used by tests.
func (m *FileMetadata) DebugString(format base.FormatKey) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s:[%s-%s]", m.FileNum, m.Smallest.Pretty(format), m.Largest.Pretty(format))
	fmt.Fprintf(&b, " seqnums:[%d-%d]", m.SmallestSeqNum, m.LargestSeqNum)
	if m.Size != 0 {
		fmt.Fprintf(&b, " size:%d", m.Size)
	}
	if m.PathID != 0 {
		fmt.Fprintf(&b, " path:%d", m.PathID)
	}
	if m.MarkedForCompaction {
		b.WriteString(" marked")
	}
	return b.String()
}

// LevelFile is a file at a given level.
type LevelFile struct {
	Level int
	Meta  *FileMetadata
}

// TotalFileSize returns the sum of the sizes of the files.
func TotalFileSize(files []*FileMetadata) uint64 {
	var sum uint64
	for _, f := range files {
		sum += f.Size
	}
	return sum
}

// TotalCompensatedSize returns the sum of the compensated sizes of the files.
func TotalCompensatedSize(files []*FileMetadata) uint64 {
	var sum uint64
	for _, f := range files {
		sum += f.CompensatedSize
	}
	return sum
}

// NewestFirst reports whether a sorts before b in level 0: the file with the
// larger largest sequence number comes first. Ties are broken by the larger
// file number.
func NewestFirst(a, b *FileMetadata) bool {
	if a.LargestSeqNum != b.LargestSeqNum {
		return a.LargestSeqNum > b.LargestSeqNum
	}
	return a.FileNum > b.FileNum
}

// BySmallestKey reports whether a sorts before b in a level > 0. Ties on the
// smallest key are broken by the larger file number.
func BySmallestKey(cmp base.Compare, a, b *FileMetadata) bool {
	if c := base.InternalCompare(cmp, a.Smallest, b.Smallest); c != 0 {
		return c < 0
	}
	return a.FileNum > b.FileNum
}
