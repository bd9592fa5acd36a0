// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"
	"math"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// compactionLevel is the set of input files of a compaction from one level.
type compactionLevel struct {
	level int
	files []*manifest.FileMetadata
}

func (cl *compactionLevel) empty() bool {
	return len(cl.files) == 0
}

// Compaction describes a compaction picked by a compaction picker: the
// input files per level, the output level and the limits the outputs are
// written under. The compaction executor consumes it and reports the
// outcome through ReleaseCompactionFiles.
type Compaction struct {
	cfd *ColumnFamilyData
	// inputVersion is referenced for the lifetime of the compaction.
	inputVersion *manifest.Version
	vstorage     *manifest.VersionStorageInfo
	opts         *mutableCFOptions
	picker       CompactionPicker

	startLevel  int
	outputLevel int
	// inputs[0] is startLevel. inputs are contiguous levels, possibly
	// empty.
	inputs []compactionLevel

	maxOutputFileSize          uint64
	maxGrandparentOverlapBytes uint64
	outputPathID               uint32
	outputCompression          Compression
	grandparents               []*manifest.FileMetadata

	score              float64
	manual             bool
	deletionCompaction bool
	trivialMove        bool
	bottommostLevel    bool
	fullCompaction     bool

	// State of ShouldStopBefore.
	grandparentIndex int
	seenKey          bool
	overlappedBytes  uint64

	released bool
}

func newCompaction(
	vstorage *manifest.VersionStorageInfo,
	opts *mutableCFOptions,
	inputs []compactionLevel,
	outputLevel int,
	maxOutputFileSize uint64,
	maxGrandparentOverlapBytes uint64,
	outputPathID uint32,
	compression Compression,
	grandparents []*manifest.FileMetadata,
	manual bool,
	score float64,
	deletionCompaction bool,
) *Compaction {
	c := &Compaction{
		vstorage:                   vstorage,
		opts:                       opts,
		startLevel:                 inputs[0].level,
		outputLevel:                outputLevel,
		inputs:                     inputs,
		maxOutputFileSize:          maxOutputFileSize,
		maxGrandparentOverlapBytes: maxGrandparentOverlapBytes,
		outputPathID:               outputPathID,
		outputCompression:          compression,
		grandparents:               grandparents,
		score:                      score,
		manual:                     manual,
		deletionCompaction:         deletionCompaction,
	}
	c.bottommostLevel = c.isBottommostLevel()
	c.fullCompaction = c.isFullCompaction()
	return c
}

// isBottommostLevel returns true if no older data for the keys of the
// compaction exists below the output level.
func (c *Compaction) isBottommostLevel() bool {
	if c.inputs[0].level == 0 && len(c.inputs[0].files) > 0 {
		l0 := c.vstorage.LevelFiles(0)
		if c.inputs[0].files[len(c.inputs[0].files)-1] != l0[len(l0)-1] {
			// An older level 0 file is not part of the compaction.
			return false
		}
	}
	for level := c.outputLevel + 1; level < c.vstorage.NumLevels(); level++ {
		if c.vstorage.NumLevelFiles(level) > 0 {
			return false
		}
	}
	return true
}

func (c *Compaction) isFullCompaction() bool {
	var total, inputs int
	for level := 0; level < c.vstorage.NumLevels(); level++ {
		total += c.vstorage.NumLevelFiles(level)
	}
	for i := range c.inputs {
		inputs += len(c.inputs[i].files)
	}
	return inputs == total
}

// StartLevel returns the level of the first input files.
func (c *Compaction) StartLevel() int { return c.startLevel }

// OutputLevel returns the level the outputs are written to.
func (c *Compaction) OutputLevel() int { return c.outputLevel }

// NumInputLevels returns the number of levels in Inputs, empty ones
// included.
func (c *Compaction) NumInputLevels() int { return len(c.inputs) }

// Inputs returns the level and the input files of the i-th input level.
func (c *Compaction) Inputs(i int) (level int, files []*manifest.FileMetadata) {
	return c.inputs[i].level, c.inputs[i].files
}

// NumInputFiles returns the number of input files of the i-th input level.
func (c *Compaction) NumInputFiles(i int) int { return len(c.inputs[i].files) }

// Grandparents returns the files of the level below the output level
// overlapping the compaction.
func (c *Compaction) Grandparents() []*manifest.FileMetadata { return c.grandparents }

// MaxOutputFileSize returns the size at which an output file is cut.
func (c *Compaction) MaxOutputFileSize() uint64 { return c.maxOutputFileSize }

// OutputPathID returns the index of the DB path the outputs are placed in.
func (c *Compaction) OutputPathID() uint32 { return c.outputPathID }

// OutputCompression returns the compression of the outputs.
func (c *Compaction) OutputCompression() Compression { return c.outputCompression }

// Score returns the score of the level the compaction was picked for.
func (c *Compaction) Score() float64 { return c.score }

// IsManual returns true for compactions submitted by the user, and for
// compactions of files marked for compaction.
func (c *Compaction) IsManual() bool { return c.manual }

// IsDeletionCompaction returns true if the inputs are deleted without
// writing any output.
func (c *Compaction) IsDeletionCompaction() bool { return c.deletionCompaction }

// BottommostLevel returns true if the output level holds the oldest data of
// the keys of the compaction.
func (c *Compaction) BottommostLevel() bool { return c.bottommostLevel }

// IsFullCompaction returns true if every file of the version is an input.
func (c *Compaction) IsFullCompaction() bool { return c.fullCompaction }

// InputVersion returns the version the compaction was picked from.
func (c *Compaction) InputVersion() *manifest.Version { return c.inputVersion }

// ColumnFamilyData returns the column family being compacted.
func (c *Compaction) ColumnFamilyData() *ColumnFamilyData { return c.cfd }

func (c *Compaction) setInputVersion(cfd *ColumnFamilyData, v *manifest.Version) {
	c.cfd = cfd
	c.inputVersion = v
	v.Ref()
}

// IsTrivialMove returns true if the inputs can be moved to the output level
// without being rewritten.
func (c *Compaction) IsTrivialMove() bool {
	// A compaction into its own level rewrites the files by definition.
	if c.startLevel == c.outputLevel {
		return false
	}
	if c.opts.CompactionStyle == CompactionStyleUniversal && c.opts.Universal.AllowTrivialMove {
		return c.trivialMove
	}
	return len(c.inputs) == 1 &&
		len(c.inputs[0].files) > 0 &&
		c.inputs[0].files[0].PathID == c.outputPathID &&
		c.inputCompressionMatchesOutput() &&
		manifest.TotalFileSize(c.grandparents) <= c.maxGrandparentOverlapBytes
}

func (c *Compaction) inputCompressionMatchesOutput() bool {
	return compressionForLevel(c.opts, c.startLevel, c.vstorage.BaseLevel(), true) == c.outputCompression
}

// AddInputDeletions records the deletion of every input file in the edit.
func (c *Compaction) AddInputDeletions(edit *manifest.VersionEdit) {
	for i := range c.inputs {
		for _, f := range c.inputs[i].files {
			edit.DeleteFile(c.inputs[i].level, f.FileNum)
		}
	}
}

// KeyNotExistsBeyondOutputLevel returns true if the user key is known not to
// exist in any level below the output level. levelPtrs holds one cursor per
// level, advanced across calls with increasing keys.
func (c *Compaction) KeyNotExistsBeyondOutputLevel(userKey []byte, levelPtrs []int) bool {
	switch c.opts.CompactionStyle {
	case CompactionStyleUniversal:
		return c.bottommostLevel
	case CompactionStyleFIFO:
		return false
	}
	cmp := c.vstorage.Comparer().Compare
	for level := c.outputLevel + 1; level < c.vstorage.NumLevels(); level++ {
		files := c.vstorage.LevelFiles(level)
		for ; levelPtrs[level] < len(files); levelPtrs[level]++ {
			f := files[levelPtrs[level]]
			if cmp(userKey, f.Largest.UserKey) <= 0 {
				if cmp(userKey, f.Smallest.UserKey) >= 0 {
					return false
				}
				break
			}
		}
	}
	return true
}

// ShouldStopBefore returns true if the current output file should be
// finished before key is added to it, because the output would overlap too
// many grandparent bytes. Keys must be passed in increasing order.
func (c *Compaction) ShouldStopBefore(key InternalKey) bool {
	cmp := c.vstorage.Comparer().Compare
	for c.grandparentIndex < len(c.grandparents) &&
		base.InternalCompare(cmp, key, c.grandparents[c.grandparentIndex].Largest) > 0 {
		if c.seenKey {
			c.overlappedBytes += c.grandparents[c.grandparentIndex].Size
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > c.maxGrandparentOverlapBytes {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// MarkFilesBeingCompacted sets or clears the BeingCompacted flag of every
// input file. Requires the DB mutex.
func (c *Compaction) MarkFilesBeingCompacted(mark bool) {
	for i := range c.inputs {
		for _, f := range c.inputs[i].files {
			if f.BeingCompacted == mark {
				panic(fmt.Sprintf("lsmcore: file %s being compacted is already %t", f.FileNum, mark))
			}
			f.BeingCompacted = mark
		}
	}
}

// ReleaseCompactionFiles is called when the compaction finishes, with the
// error it failed with, if any. It clears the being-compacted flags,
// releases the compaction from the picker and drops the reference on the
// input version. Requires the DB mutex.
func (c *Compaction) ReleaseCompactionFiles(err error) {
	if c.released {
		return
	}
	c.released = true
	c.MarkFilesBeingCompacted(false)
	if c.picker != nil {
		c.picker.ReleaseCompactionFiles(c, err)
	}
	if c.inputVersion != nil {
		c.inputVersion.UnrefLocked()
		c.inputVersion = nil
	}
}

// resetNextCompactionIndex makes the next size-based pick of the start level
// consider the largest files again.
func (c *Compaction) resetNextCompactionIndex() {
	c.vstorage.SetNextCompactionIndex(c.startLevel, 0)
}

// inputLevelSummary formats the input files as "files@level" groups.
func (c *Compaction) inputLevelSummary() string {
	var buf bytes.Buffer
	sep := ""
	for i := range c.inputs {
		if c.inputs[i].empty() {
			continue
		}
		fmt.Fprintf(&buf, "%s%d@%d", sep, len(c.inputs[i].files), c.inputs[i].level)
		sep = " + "
	}
	return buf.String()
}

// Summary returns the inputs of the compaction, listing the file numbers and
// sizes of each input level.
func (c *Compaction) Summary() string {
	var buf bytes.Buffer
	var number uint64
	if c.inputVersion != nil {
		number = c.inputVersion.Number
	}
	fmt.Fprintf(&buf, "Base version %d Base level %d, inputs:", number, c.startLevel)
	for i := range c.inputs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(" [")
		for j, f := range c.inputs[i].files {
			if j > 0 {
				buf.WriteString(" ")
			}
			fmt.Fprintf(&buf, "%s(%s)", f.FileNum, crhumanize.Bytes(f.Size, crhumanize.Compact, crhumanize.OmitI))
		}
		buf.WriteString("]")
	}
	return buf.String()
}

// String implements fmt.Stringer.
func (c *Compaction) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c *Compaction) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("L%d -> L%d [%s]", c.startLevel, c.outputLevel, redact.SafeString(c.inputLevelSummary()))
	if c.manual {
		w.SafeString(" manual")
	}
	if c.deletionCompaction {
		w.SafeString(" deletion")
	}
}

// compressionForLevel returns the compression of the outputs of the level.
// With per-level compressions, level 0 uses the first one and level L >= the
// base level uses index L-baseLevel+1, clamped to the last one.
func compressionForLevel(opts *mutableCFOptions, level, baseLevel int, enabled bool) Compression {
	if !enabled {
		return NoCompression
	}
	if n := len(opts.CompressionPerLevel); n > 0 {
		idx := 0
		if level > 0 {
			idx = level - baseLevel + 1
		}
		return opts.CompressionPerLevel[max(0, min(idx, n-1))]
	}
	return opts.Compression
}

// unlimitedOverlap is the grandparent overlap bound of compactions that are
// never cut at grandparent boundaries.
const unlimitedOverlap uint64 = math.MaxUint64
