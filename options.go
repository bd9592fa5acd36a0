// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/lsmcore/lsmcore/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

// CompactionStyle exports the manifest.CompactionStyle type.
type CompactionStyle = manifest.CompactionStyle

// The available compaction styles.
const (
	CompactionStyleLevel     = manifest.CompactionStyleLevel
	CompactionStyleUniversal = manifest.CompactionStyleUniversal
	CompactionStyleFIFO      = manifest.CompactionStyleFIFO
	CompactionStyleNone      = manifest.CompactionStyleNone
)

// Compression is the per-table compression algorithm to use. The codecs
// themselves live with the table writer; the core only records the choice
// for each compaction output.
type Compression int

// The available compression types.
const (
	NoCompression Compression = iota
	SnappyCompression
	ZlibCompression
	LZ4Compression
	ZstdCompression
	MinLZCompression
)

var compressionNames = [...]string{
	NoCompression:     "NoCompression",
	SnappyCompression: "Snappy",
	ZlibCompression:   "Zlib",
	LZ4Compression:    "LZ4",
	ZstdCompression:   "ZSTD",
	MinLZCompression:  "MinLZ",
}

func (c Compression) String() string {
	if c < 0 || int(c) >= len(compressionNames) {
		return "Unknown"
	}
	return compressionNames[c]
}

func parseCompression(s string) (Compression, error) {
	for i, name := range compressionNames {
		if strings.EqualFold(name, s) {
			return Compression(i), nil
		}
	}
	return 0, base.InvalidArgumentErrorf("lsmcore: unknown compression %q", errors.Safe(s))
}

// UniversalStopStyle is the algorithm used to stop picking files into a
// single universal compaction run.
type UniversalStopStyle int

const (
	// UniversalStopStyleSimilarSize picks files of similar size.
	UniversalStopStyleSimilarSize UniversalStopStyle = iota
	// UniversalStopStyleTotalSize picks files while the total size of the
	// picked files stays comparable to the next file.
	UniversalStopStyleTotalSize
)

func (s UniversalStopStyle) String() string {
	if s == UniversalStopStyleSimilarSize {
		return "similar_size"
	}
	return "total_size"
}

// UniversalCompactionOptions configure the universal compaction style.
type UniversalCompactionOptions struct {
	// SizeRatio is the percentage flexibility when comparing file sizes: a
	// run is picked if its size is within SizeRatio percent of the total of
	// the runs picked before it.
	SizeRatio uint
	// MinMergeWidth is the minimum number of runs in a single compaction.
	MinMergeWidth uint
	// MaxMergeWidth is the maximum number of runs in a single compaction.
	MaxMergeWidth uint
	// MaxSizeAmplificationPercent is the allowed size amplification: the
	// bytes of all runs but the oldest, relative to the oldest.
	MaxSizeAmplificationPercent uint
	// CompressionSizePercent, if non-negative, disables compression of the
	// output of a compaction whose older runs already hold at least that
	// percentage of the data. -1 always compresses.
	CompressionSizePercent int
	StopStyle              UniversalStopStyle
	// AllowTrivialMove allows a compaction of non-overlapping runs to move
	// the files instead of rewriting them.
	AllowTrivialMove bool
}

// FIFOCompactionOptions configure the FIFO compaction style.
type FIFOCompactionOptions struct {
	// MaxTableFilesSize is the total size of the tables above which the
	// oldest ones are deleted.
	MaxTableFilesSize uint64
}

// DBPath is a directory holding table files, with the amount of data it
// is expected to hold.
type DBPath struct {
	Path       string
	TargetSize uint64
}

// ColumnFamilyOptions holds the options of one column family: an
// independently versioned keyspace sharing the metadata log with the other
// column families.
type ColumnFamilyOptions struct {
	// Comparer defines the order of user keys. Its name is persisted in the
	// manifest and must match on recovery. The default is DefaultComparer.
	Comparer *Comparer

	// Merger performs end-of-history merges of merge operands. Lookups that
	// find merge operands return ErrInvalidArgument when it is nil.
	Merger *Merger

	// WriteBufferSize is the amount of data to build up in a memtable before
	// it is flushed. The default is 4 MiB.
	WriteBufferSize uint64

	// ArenaBlockSize is the allocation unit of the memtables. Zero derives it
	// from WriteBufferSize.
	ArenaBlockSize uint64

	// MaxWriteBufferNumber is the maximum number of memtables, active and
	// immutable. Writes stop when the immutable ones reach this number.
	MaxWriteBufferNumber int

	// MinWriteBufferNumberToMerge is the minimum number of immutable
	// memtables that are flushed together.
	MinWriteBufferNumberToMerge int

	// MaxWriteBufferNumberToMaintain is the number of memtables, flushed or
	// not, kept in memory for conflict checking. Negative keeps
	// MaxWriteBufferNumber of them.
	MaxWriteBufferNumberToMaintain int

	NumLevels       int
	CompactionStyle CompactionStyle

	Level0FileNumCompactionTrigger int
	Level0SlowdownWritesTrigger    int
	Level0StopWritesTrigger        int

	// TargetFileSizeBase is the target size of level 1 files. The target
	// size of level L > 1 is TargetFileSizeBase * TargetFileSizeMultiplier^(L-1).
	TargetFileSizeBase       uint64
	TargetFileSizeMultiplier int

	MaxBytesForLevelBase                 uint64
	MaxBytesForLevelMultiplier           int
	MaxBytesForLevelMultiplierAdditional []int
	LevelCompactionDynamicLevelBytes     bool

	// ExpandedCompactionFactor bounds, in target file sizes, the total size
	// of a compaction after growing its inputs.
	ExpandedCompactionFactor int
	// SourceCompactionFactor bounds, in target file sizes, the input level
	// bytes of a manual compaction.
	SourceCompactionFactor int
	// MaxGrandparentOverlapFactor bounds, in target file sizes, the
	// grandparent bytes a single output file may overlap.
	MaxGrandparentOverlapFactor int

	// SoftRateLimit, when positive, delays writes while the largest
	// compaction score exceeds it.
	SoftRateLimit float64

	Compression         Compression
	CompressionPerLevel []Compression

	DisableAutoCompactions bool

	Universal UniversalCompactionOptions
	FIFO      FIFOCompactionOptions
}

const (
	defaultWriteBufferSize     = 4 << 20
	minWriteBufferSize         = 64 << 10
	maxWriteBufferSize         = 64 << 30
	arenaBlockSizeAlignment    = 4 << 10
	defaultMaxManifestFileSize = 128 << 20
)

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified. Returns the new options.
func (o *ColumnFamilyOptions) EnsureDefaults() *ColumnFamilyOptions {
	if o == nil {
		o = &ColumnFamilyOptions{}
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = defaultWriteBufferSize
	}
	if o.MaxWriteBufferNumber == 0 {
		o.MaxWriteBufferNumber = 2
	}
	if o.MinWriteBufferNumberToMerge == 0 {
		o.MinWriteBufferNumberToMerge = 1
	}
	if o.NumLevels == 0 {
		o.NumLevels = 7
	}
	if o.Level0FileNumCompactionTrigger == 0 {
		o.Level0FileNumCompactionTrigger = 4
	}
	if o.Level0SlowdownWritesTrigger == 0 {
		o.Level0SlowdownWritesTrigger = 20
	}
	if o.Level0StopWritesTrigger == 0 {
		o.Level0StopWritesTrigger = 24
	}
	if o.TargetFileSizeBase == 0 {
		o.TargetFileSizeBase = 2 << 20
	}
	if o.TargetFileSizeMultiplier == 0 {
		o.TargetFileSizeMultiplier = 1
	}
	if o.MaxBytesForLevelBase == 0 {
		o.MaxBytesForLevelBase = 10 << 20
	}
	if o.MaxBytesForLevelMultiplier == 0 {
		o.MaxBytesForLevelMultiplier = 10
	}
	if o.ExpandedCompactionFactor == 0 {
		o.ExpandedCompactionFactor = 25
	}
	if o.SourceCompactionFactor == 0 {
		o.SourceCompactionFactor = 1
	}
	if o.MaxGrandparentOverlapFactor == 0 {
		o.MaxGrandparentOverlapFactor = 10
	}
	u := &o.Universal
	if u.SizeRatio == 0 {
		u.SizeRatio = 1
	}
	if u.MinMergeWidth == 0 {
		u.MinMergeWidth = 2
	}
	if u.MaxMergeWidth == 0 {
		u.MaxMergeWidth = math.MaxUint32
	}
	if u.MaxSizeAmplificationPercent == 0 {
		u.MaxSizeAmplificationPercent = 200
	}
	if u.CompressionSizePercent == 0 {
		u.CompressionSizePercent = -1
	}
	if o.FIFO.MaxTableFilesSize == 0 {
		o.FIFO.MaxTableFilesSize = 1 << 30
	}
	return o
}

// DefaultColumnFamilyOptions returns the default column family options.
func DefaultColumnFamilyOptions() *ColumnFamilyOptions {
	o := &ColumnFamilyOptions{Universal: UniversalCompactionOptions{StopStyle: UniversalStopStyleTotalSize}}
	return o.EnsureDefaults()
}

// Clone creates a shallow-copy of the supplied options.
func (o *ColumnFamilyOptions) Clone() *ColumnFamilyOptions {
	n := &ColumnFamilyOptions{}
	if o != nil {
		*n = *o
		n.MaxBytesForLevelMultiplierAdditional = slices.Clone(o.MaxBytesForLevelMultiplierAdditional)
		n.CompressionPerLevel = slices.Clone(o.CompressionPerLevel)
	}
	return n
}

// Sanitize clamps the options to workable values and returns the result,
// a modified copy of o. Adjustments that contradict an explicit setting are
// logged.
func (o *ColumnFamilyOptions) Sanitize(dbOpts *Options) *ColumnFamilyOptions {
	r := o.Clone().EnsureDefaults()
	logger := dbOpts.logger()

	r.WriteBufferSize = min(max(r.WriteBufferSize, minWriteBufferSize), maxWriteBufferSize)
	// A set arena block size is trusted. Otherwise it is an eighth of the
	// write buffer, aligned up to 4 KiB.
	if r.ArenaBlockSize == 0 {
		r.ArenaBlockSize = r.WriteBufferSize / 8
		r.ArenaBlockSize = (r.ArenaBlockSize + arenaBlockSizeAlignment - 1) /
			arenaBlockSizeAlignment * arenaBlockSizeAlignment
	}
	r.MinWriteBufferNumberToMerge = min(r.MinWriteBufferNumberToMerge, r.MaxWriteBufferNumber-1)
	if r.NumLevels < 1 {
		r.NumLevels = 1
	}
	if r.CompactionStyle == CompactionStyleLevel && r.NumLevels < 2 {
		r.NumLevels = 2
	}
	if r.MaxWriteBufferNumber < 2 {
		r.MaxWriteBufferNumber = 2
	}
	r.MinWriteBufferNumberToMerge = max(r.MinWriteBufferNumberToMerge, 1)
	if r.MaxWriteBufferNumberToMaintain < 0 {
		r.MaxWriteBufferNumberToMaintain = r.MaxWriteBufferNumber
	}
	if r.CompactionStyle == CompactionStyleFIFO {
		// Level 0 files of a FIFO column family are deleted rather than
		// compacted: the level 0 triggers have no meaning.
		r.NumLevels = 1
		r.Level0FileNumCompactionTrigger = math.MaxInt32
		r.Level0SlowdownWritesTrigger = math.MaxInt32
		r.Level0StopWritesTrigger = math.MaxInt32
	}
	if r.Level0StopWritesTrigger < r.Level0SlowdownWritesTrigger ||
		r.Level0SlowdownWritesTrigger < r.Level0FileNumCompactionTrigger {
		logger.Infof("This condition must be satisfied: "+
			"level0_stop_writes_trigger(%d) >= level0_slowdown_writes_trigger(%d) >= "+
			"level0_file_num_compaction_trigger(%d)",
			r.Level0StopWritesTrigger, r.Level0SlowdownWritesTrigger, r.Level0FileNumCompactionTrigger)
		r.Level0SlowdownWritesTrigger = max(r.Level0SlowdownWritesTrigger, r.Level0FileNumCompactionTrigger)
		r.Level0StopWritesTrigger = max(r.Level0StopWritesTrigger, r.Level0SlowdownWritesTrigger)
		logger.Infof("Adjust the value to level0_stop_writes_trigger(%d) "+
			"level0_slowdown_writes_trigger(%d) level0_file_num_compaction_trigger(%d)",
			r.Level0StopWritesTrigger, r.Level0SlowdownWritesTrigger, r.Level0FileNumCompactionTrigger)
	}
	if r.LevelCompactionDynamicLevelBytes &&
		(r.CompactionStyle != CompactionStyleLevel || len(dbOpts.DBPaths) > 1) {
		// Dynamic level targets are only computed for a single path level
		// layout.
		r.LevelCompactionDynamicLevelBytes = false
	}
	return r
}

// Validate returns an ErrInvalidArgument error if the options are
// inconsistent. Sanitized options are expected.
func (o *ColumnFamilyOptions) Validate(dbOpts *Options) error {
	var buf strings.Builder
	fail := func(format string, args ...interface{}) {
		fmt.Fprintf(&buf, "\n  "+format, args...)
	}
	if len(dbOpts.DBPaths) > 1 &&
		o.CompactionStyle != CompactionStyleLevel && o.CompactionStyle != CompactionStyleUniversal {
		fail("more than one db path is only supported by the level and universal compaction styles")
	}
	if o.TargetFileSizeBase == 0 {
		fail("target_file_size_base (%d) must be positive", o.TargetFileSizeBase)
	}
	if o.TargetFileSizeMultiplier <= 0 {
		fail("target_file_size_multiplier (%d) must be positive", o.TargetFileSizeMultiplier)
	}
	if o.MaxBytesForLevelMultiplier <= 0 {
		fail("max_bytes_for_level_multiplier (%d) must be positive", o.MaxBytesForLevelMultiplier)
	}
	if o.CompactionStyle == CompactionStyleUniversal {
		if o.Universal.MinMergeWidth < 2 {
			fail("universal min_merge_width (%d) must be at least 2", o.Universal.MinMergeWidth)
		}
		if o.Universal.MaxMergeWidth < o.Universal.MinMergeWidth {
			fail("universal max_merge_width (%d) must be >= min_merge_width (%d)",
				o.Universal.MaxMergeWidth, o.Universal.MinMergeWidth)
		}
	}
	if o.CompactionStyle == CompactionStyleFIFO && o.NumLevels != 1 {
		fail("fifo compaction requires a single level, not %d", o.NumLevels)
	}
	if buf.Len() == 0 {
		return nil
	}
	return base.InvalidArgumentErrorf("invalid column family options:%s", errors.Safe(buf.String()))
}

// Options holds the database-wide options. The options of each column
// family are held by its ColumnFamilyOptions.
type Options struct {
	// FS provides the interface for persistent file storage. The default is
	// vfs.Default.
	FS vfs.FS

	// Logger is used to write log messages. The default is
	// base.DefaultLogger.
	Logger Logger

	// DBPaths are the directories the tables are placed in. The first path
	// is the database directory when empty.
	DBPaths []DBPath

	// MaxManifestFileSize is the size above which a new manifest is started
	// with a snapshot of the live state. The default is 128 MiB.
	MaxManifestFileSize uint64

	// MaxFileOpeningThreads bounds the parallelism of table handle loading
	// when a version is built.
	MaxFileOpeningThreads int

	// MaxOpenFiles is the number of table readers the table cache holds. -1
	// keeps every reader open, in which case the readers of new files are
	// loaded before their version is published.
	MaxOpenFiles int

	// DelayedWriteRate is the rate, in bytes per second, writes are limited
	// to while they are delayed.
	DelayedWriteRate uint64

	// TargetByteDeletionRate is the rate, in bytes per second, at which
	// obsolete files are deleted. Zero deletes them as soon as they are
	// obsolete.
	TargetByteDeletionRate int

	// DBWriteBufferSize is the memtable budget shared by all the column
	// families. Zero disables the shared budget.
	DBWriteBufferSize uint64

	// ManifestSyncLatency, if set, records the latency of the syncs of the
	// manifest.
	ManifestSyncLatency prometheus.Histogram
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MaxManifestFileSize == 0 {
		o.MaxManifestFileSize = defaultMaxManifestFileSize
	}
	if o.MaxFileOpeningThreads <= 0 {
		o.MaxFileOpeningThreads = 16
	}
	if o.MaxOpenFiles == 0 {
		o.MaxOpenFiles = -1
	}
	if o.DelayedWriteRate == 0 {
		o.DelayedWriteRate = 2 << 20
	}
	return o
}

func (o *Options) logger() Logger {
	if o == nil || o.Logger == nil {
		return base.DefaultLogger{}
	}
	return o.Logger
}

// ReadOptions hold the optional per-query parameters for Get operations.
type ReadOptions struct {
	// Snapshot is the sequence number the lookup reads at. Zero reads the
	// latest state.
	Snapshot SeqNum
	// NoIO makes lookups fail with ErrIncomplete instead of reading tables
	// that are not in the table cache.
	NoIO bool
}

// option describes a single column family option: its name in the INI and
// YAML formats, whether it may be changed while the column family is open,
// and how to print and parse it.
type option struct {
	name    string
	mutable bool
	get     func(o *ColumnFamilyOptions) string
	set     func(o *ColumnFamilyOptions, v string) error
}

func uintOption(name string, mutable bool, field func(o *ColumnFamilyOptions) *uint64) option {
	return option{
		name: name, mutable: mutable,
		get: func(o *ColumnFamilyOptions) string { return strconv.FormatUint(*field(o), 10) },
		set: func(o *ColumnFamilyOptions, v string) (err error) {
			*field(o), err = strconv.ParseUint(v, 10, 64)
			return err
		},
	}
}

func intOption(name string, mutable bool, field func(o *ColumnFamilyOptions) *int) option {
	return option{
		name: name, mutable: mutable,
		get: func(o *ColumnFamilyOptions) string { return strconv.Itoa(*field(o)) },
		set: func(o *ColumnFamilyOptions, v string) (err error) {
			*field(o), err = strconv.Atoi(v)
			return err
		},
	}
}

func boolOption(name string, mutable bool, field func(o *ColumnFamilyOptions) *bool) option {
	return option{
		name: name, mutable: mutable,
		get: func(o *ColumnFamilyOptions) string { return strconv.FormatBool(*field(o)) },
		set: func(o *ColumnFamilyOptions, v string) (err error) {
			*field(o), err = strconv.ParseBool(v)
			return err
		},
	}
}

func uintWidthOption(name string, field func(o *ColumnFamilyOptions) *uint) option {
	return option{
		name: name,
		get:  func(o *ColumnFamilyOptions) string { return strconv.FormatUint(uint64(*field(o)), 10) },
		set: func(o *ColumnFamilyOptions, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			*field(o) = uint(n)
			return err
		},
	}
}

// columnFamilyOptions lists the column family options in the order they are
// printed.
var columnFamilyOptions = []option{
	{
		name: "comparer",
		get:  func(o *ColumnFamilyOptions) string { return o.Comparer.Name },
	},
	{
		name: "merger",
		get: func(o *ColumnFamilyOptions) string {
			if o.Merger == nil {
				return "none"
			}
			return o.Merger.Name
		},
	},
	uintOption("write_buffer_size", true, func(o *ColumnFamilyOptions) *uint64 { return &o.WriteBufferSize }),
	uintOption("arena_block_size", true, func(o *ColumnFamilyOptions) *uint64 { return &o.ArenaBlockSize }),
	intOption("max_write_buffer_number", true, func(o *ColumnFamilyOptions) *int { return &o.MaxWriteBufferNumber }),
	intOption("min_write_buffer_number_to_merge", false, func(o *ColumnFamilyOptions) *int { return &o.MinWriteBufferNumberToMerge }),
	intOption("max_write_buffer_number_to_maintain", false, func(o *ColumnFamilyOptions) *int { return &o.MaxWriteBufferNumberToMaintain }),
	intOption("num_levels", false, func(o *ColumnFamilyOptions) *int { return &o.NumLevels }),
	{
		name: "compaction_style",
		get:  func(o *ColumnFamilyOptions) string { return o.CompactionStyle.String() },
		set: func(o *ColumnFamilyOptions, v string) error {
			s, ok := manifest.ParseCompactionStyle(v)
			if !ok {
				return errors.Newf("unknown compaction style %q", v)
			}
			o.CompactionStyle = s
			return nil
		},
	},
	intOption("level0_file_num_compaction_trigger", true, func(o *ColumnFamilyOptions) *int { return &o.Level0FileNumCompactionTrigger }),
	intOption("level0_slowdown_writes_trigger", true, func(o *ColumnFamilyOptions) *int { return &o.Level0SlowdownWritesTrigger }),
	intOption("level0_stop_writes_trigger", true, func(o *ColumnFamilyOptions) *int { return &o.Level0StopWritesTrigger }),
	uintOption("target_file_size_base", true, func(o *ColumnFamilyOptions) *uint64 { return &o.TargetFileSizeBase }),
	intOption("target_file_size_multiplier", true, func(o *ColumnFamilyOptions) *int { return &o.TargetFileSizeMultiplier }),
	uintOption("max_bytes_for_level_base", true, func(o *ColumnFamilyOptions) *uint64 { return &o.MaxBytesForLevelBase }),
	intOption("max_bytes_for_level_multiplier", true, func(o *ColumnFamilyOptions) *int { return &o.MaxBytesForLevelMultiplier }),
	{
		name: "max_bytes_for_level_multiplier_additional", mutable: true,
		get: func(o *ColumnFamilyOptions) string {
			parts := make([]string, len(o.MaxBytesForLevelMultiplierAdditional))
			for i, m := range o.MaxBytesForLevelMultiplierAdditional {
				parts[i] = strconv.Itoa(m)
			}
			return strings.Join(parts, ":")
		},
		set: func(o *ColumnFamilyOptions, v string) error {
			o.MaxBytesForLevelMultiplierAdditional = nil
			for _, p := range splitList(v) {
				m, err := strconv.Atoi(p)
				if err != nil {
					return err
				}
				o.MaxBytesForLevelMultiplierAdditional = append(o.MaxBytesForLevelMultiplierAdditional, m)
			}
			return nil
		},
	},
	boolOption("level_compaction_dynamic_level_bytes", false, func(o *ColumnFamilyOptions) *bool { return &o.LevelCompactionDynamicLevelBytes }),
	intOption("expanded_compaction_factor", true, func(o *ColumnFamilyOptions) *int { return &o.ExpandedCompactionFactor }),
	intOption("source_compaction_factor", true, func(o *ColumnFamilyOptions) *int { return &o.SourceCompactionFactor }),
	intOption("max_grandparent_overlap_factor", true, func(o *ColumnFamilyOptions) *int { return &o.MaxGrandparentOverlapFactor }),
	{
		name: "soft_rate_limit", mutable: true,
		get: func(o *ColumnFamilyOptions) string { return strconv.FormatFloat(o.SoftRateLimit, 'g', -1, 64) },
		set: func(o *ColumnFamilyOptions, v string) (err error) {
			o.SoftRateLimit, err = strconv.ParseFloat(v, 64)
			return err
		},
	},
	{
		name: "compression",
		get:  func(o *ColumnFamilyOptions) string { return o.Compression.String() },
		set: func(o *ColumnFamilyOptions, v string) (err error) {
			o.Compression, err = parseCompression(v)
			return err
		},
	},
	{
		name: "compression_per_level",
		get: func(o *ColumnFamilyOptions) string {
			parts := make([]string, len(o.CompressionPerLevel))
			for i, c := range o.CompressionPerLevel {
				parts[i] = c.String()
			}
			return strings.Join(parts, ":")
		},
		set: func(o *ColumnFamilyOptions, v string) error {
			o.CompressionPerLevel = nil
			for _, p := range splitList(v) {
				c, err := parseCompression(p)
				if err != nil {
					return err
				}
				o.CompressionPerLevel = append(o.CompressionPerLevel, c)
			}
			return nil
		},
	},
	boolOption("disable_auto_compactions", true, func(o *ColumnFamilyOptions) *bool { return &o.DisableAutoCompactions }),
	uintWidthOption("universal_size_ratio", func(o *ColumnFamilyOptions) *uint { return &o.Universal.SizeRatio }),
	uintWidthOption("universal_min_merge_width", func(o *ColumnFamilyOptions) *uint { return &o.Universal.MinMergeWidth }),
	uintWidthOption("universal_max_merge_width", func(o *ColumnFamilyOptions) *uint { return &o.Universal.MaxMergeWidth }),
	uintWidthOption("universal_max_size_amplification_percent", func(o *ColumnFamilyOptions) *uint {
		return &o.Universal.MaxSizeAmplificationPercent
	}),
	intOption("universal_compression_size_percent", false, func(o *ColumnFamilyOptions) *int { return &o.Universal.CompressionSizePercent }),
	{
		name: "universal_stop_style",
		get:  func(o *ColumnFamilyOptions) string { return o.Universal.StopStyle.String() },
		set: func(o *ColumnFamilyOptions, v string) error {
			switch v {
			case "similar_size":
				o.Universal.StopStyle = UniversalStopStyleSimilarSize
			case "total_size":
				o.Universal.StopStyle = UniversalStopStyleTotalSize
			default:
				return errors.Newf("unknown stop style %q", v)
			}
			return nil
		},
	},
	boolOption("universal_allow_trivial_move", false, func(o *ColumnFamilyOptions) *bool { return &o.Universal.AllowTrivialMove }),
	uintOption("fifo_max_table_files_size", false, func(o *ColumnFamilyOptions) *uint64 { return &o.FIFO.MaxTableFilesSize }),
}

func findOption(name string) *option {
	for i := range columnFamilyOptions {
		if columnFamilyOptions[i].name == name {
			return &columnFamilyOptions[i]
		}
	}
	return nil
}

func splitList(v string) []string {
	v = strings.Trim(strings.TrimSpace(v), "[]")
	if v == "" {
		return nil
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == ':' || r == ',' || r == ' ' })
}

// String writes the options in the INI-like format read by Parse.
func (o *ColumnFamilyOptions) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[ColumnFamilyOptions]\n")
	o.writeOptions(&buf)
	return buf.String()
}

func (o *ColumnFamilyOptions) writeOptions(buf *bytes.Buffer) {
	for i := range columnFamilyOptions {
		opt := &columnFamilyOptions[i]
		fmt.Fprintf(buf, "  %s=%s\n", opt.name, opt.get(o))
	}
}

// ParseHooks contains callbacks to create options fields which can have
// user-defined implementations.
type ParseHooks struct {
	NewComparer func(name string) (*Comparer, error)
	NewMerger   func(name string) (*Merger, error)
	SkipUnknown func(name, value string) bool
}

// setOption sets the named option from its string form.
func (o *ColumnFamilyOptions) setOption(key, value string, hooks *ParseHooks) error {
	switch key {
	case "comparer":
		switch {
		case value == DefaultComparer.Name:
			o.Comparer = DefaultComparer
		case hooks != nil && hooks.NewComparer != nil:
			c, err := hooks.NewComparer(value)
			if err != nil {
				return err
			}
			o.Comparer = c
		}
		return nil
	case "merger":
		switch {
		case value == "none":
			o.Merger = nil
		case value == DefaultMerger.Name:
			o.Merger = DefaultMerger
		case hooks != nil && hooks.NewMerger != nil:
			m, err := hooks.NewMerger(value)
			if err != nil {
				return err
			}
			o.Merger = m
		}
		return nil
	}
	opt := findOption(key)
	if opt == nil {
		if hooks != nil && hooks.SkipUnknown != nil && hooks.SkipUnknown(key, value) {
			return nil
		}
		return base.InvalidArgumentErrorf("lsmcore: unknown option: %s", errors.Safe(key))
	}
	if err := opt.set(o, value); err != nil {
		return base.InvalidArgumentErrorf("lsmcore: invalid value %q for %s: %v",
			errors.Safe(value), errors.Safe(key), err)
	}
	return nil
}

// parseOptions splits options serialized by String() into sections and
// key-value pairs, calling visit for each pair.
func parseOptions(s string, visit func(section, key, value string) error) error {
	var section string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			// Skip blank lines and comments.
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			continue
		}
		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return base.CorruptionErrorf("invalid key=value syntax: %q", errors.Safe(line))
		}
		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])
		if err := visit(section, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Parse parses the options from the specified string. The comparer and
// merger are resolved by name through the hooks, the default
// implementations excepted.
func (o *ColumnFamilyOptions) Parse(s string, hooks *ParseHooks) error {
	return parseOptions(s, func(section, key, value string) error {
		if section != "ColumnFamilyOptions" {
			if hooks != nil && hooks.SkipUnknown != nil && hooks.SkipUnknown(section+"."+key, value) {
				return nil
			}
			return base.InvalidArgumentErrorf("lsmcore: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		return o.setOption(key, value, hooks)
	})
}

// ParseColumnFamilyOptionsYAML parses column family options from a YAML
// document with the option names of the INI format as keys. Nested maps
// are flattened, joining the keys with an underscore: "universal:
// {size_ratio: 2}" sets universal_size_ratio. Unset options keep their
// defaults.
func ParseColumnFamilyOptionsYAML(data []byte, hooks *ParseHooks) (*ColumnFamilyOptions, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(base.MarkCorruptionError(err), "lsmcore: parsing options")
	}
	flat := make(map[string]string)
	var flatten func(prefix string, m map[string]interface{})
	flatten = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			switch t := v.(type) {
			case map[string]interface{}:
				flatten(prefix+k+"_", t)
			case []interface{}:
				parts := make([]string, len(t))
				for i := range t {
					parts[i] = fmt.Sprint(t[i])
				}
				flat[prefix+k] = strings.Join(parts, ":")
			default:
				flat[prefix+k] = fmt.Sprint(v)
			}
		}
	}
	flatten("", doc)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	o := DefaultColumnFamilyOptions()
	for _, k := range keys {
		if err := o.setOption(k, flat[k], hooks); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// mutableCFOptions is a snapshot of the options of a column family that may
// change while it is open, along with the values derived from them. A
// snapshot is immutable: SetOptions installs a new one.
type mutableCFOptions struct {
	ColumnFamilyOptions
	// maxFileSize is the target output file size of every level.
	maxFileSize []uint64
}

func newMutableCFOptions(o *ColumnFamilyOptions) *mutableCFOptions {
	m := &mutableCFOptions{ColumnFamilyOptions: *o.Clone()}
	m.maxFileSize = make([]uint64, m.NumLevels)
	for i := range m.maxFileSize {
		switch {
		case i == 0 && m.CompactionStyle == CompactionStyleUniversal:
			m.maxFileSize[i] = math.MaxUint64
		case i > 1:
			m.maxFileSize[i] = multiplyCheckOverflow(m.maxFileSize[i-1], uint64(m.TargetFileSizeMultiplier))
		default:
			m.maxFileSize[i] = m.TargetFileSizeBase
		}
	}
	return m
}

// MaxFileSizeForLevel returns the target size of the output files of the
// level.
func (m *mutableCFOptions) MaxFileSizeForLevel(level int) uint64 {
	return m.maxFileSize[level]
}

// MaxGrandparentOverlapBytes returns the number of grandparent bytes a
// single output file of a compaction from the level may overlap.
func (m *mutableCFOptions) MaxGrandparentOverlapBytes(level int) uint64 {
	return multiplyCheckOverflow(m.MaxFileSizeForLevel(level), uint64(m.MaxGrandparentOverlapFactor))
}

// ExpandedCompactionByteSizeLimit returns the total size a compaction from
// the level may grow to when its inputs are expanded.
func (m *mutableCFOptions) ExpandedCompactionByteSizeLimit(level int) uint64 {
	return multiplyCheckOverflow(m.MaxFileSizeForLevel(level), uint64(m.ExpandedCompactionFactor))
}

func (m *mutableCFOptions) scoringOptions(logger Logger) *manifest.ScoringOptions {
	return &manifest.ScoringOptions{
		Level0FileNumCompactionTrigger:       m.Level0FileNumCompactionTrigger,
		MaxBytesForLevelBase:                 m.MaxBytesForLevelBase,
		MaxBytesForLevelMultiplier:           m.MaxBytesForLevelMultiplier,
		MaxBytesForLevelMultiplierAdditional: m.MaxBytesForLevelMultiplierAdditional,
		LevelCompactionDynamicLevelBytes:     m.LevelCompactionDynamicLevelBytes,
		FIFOMaxTableFilesSize:                m.FIFO.MaxTableFilesSize,
		Logger:                               logger,
	}
}

// applyMutableOptions returns a copy of o with the options of the map set.
// Options that cannot change while the column family is open are rejected.
func applyMutableOptions(o *ColumnFamilyOptions, changes map[string]string) (*ColumnFamilyOptions, error) {
	if len(changes) == 0 {
		return nil, base.InvalidArgumentErrorf("lsmcore: empty input")
	}
	n := o.Clone()
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if opt := findOption(k); opt == nil || !opt.mutable {
			return nil, base.InvalidArgumentErrorf("lsmcore: %s is not a mutable option", errors.Safe(k))
		}
		if err := n.setOption(k, changes[k], nil); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// multiplyCheckOverflow returns a*b, or a if the product overflows.
func multiplyCheckOverflow(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return a
	}
	if math.MaxUint64/a < b {
		return a
	}
	return a * b
}

// String writes the database options, in the INI-like format read by
// Parse.
func (o *Options) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Version]\n")
	fmt.Fprintf(&buf, "  lsmcore_version=0.1\n")
	fmt.Fprintf(&buf, "\n")
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  db_write_buffer_size=%d\n", o.DBWriteBufferSize)
	fmt.Fprintf(&buf, "  delayed_write_rate=%d\n", o.DelayedWriteRate)
	fmt.Fprintf(&buf, "  max_file_opening_threads=%d\n", o.MaxFileOpeningThreads)
	fmt.Fprintf(&buf, "  max_manifest_file_size=%d\n", o.MaxManifestFileSize)
	fmt.Fprintf(&buf, "  max_open_files=%d\n", o.MaxOpenFiles)
	fmt.Fprintf(&buf, "  target_byte_deletion_rate=%d\n", o.TargetByteDeletionRate)
	for _, p := range o.DBPaths {
		fmt.Fprintf(&buf, "  db_path=%s:%d\n", p.Path, p.TargetSize)
	}
	return buf.String()
}

// Parse parses the database options from the specified string.
func (o *Options) Parse(s string, hooks *ParseHooks) error {
	return parseOptions(s, func(section, key, value string) error {
		var err error
		switch {
		case section == "Version" && key == "lsmcore_version":
			return nil
		case section == "Options":
			switch key {
			case "db_write_buffer_size":
				o.DBWriteBufferSize, err = strconv.ParseUint(value, 10, 64)
			case "delayed_write_rate":
				o.DelayedWriteRate, err = strconv.ParseUint(value, 10, 64)
			case "max_file_opening_threads":
				o.MaxFileOpeningThreads, err = strconv.Atoi(value)
			case "max_manifest_file_size":
				o.MaxManifestFileSize, err = strconv.ParseUint(value, 10, 64)
			case "max_open_files":
				o.MaxOpenFiles, err = strconv.Atoi(value)
			case "target_byte_deletion_rate":
				o.TargetByteDeletionRate, err = strconv.Atoi(value)
			case "db_path":
				i := strings.LastIndexByte(value, ':')
				if i < 0 {
					return base.InvalidArgumentErrorf("lsmcore: invalid db_path %q", errors.Safe(value))
				}
				p := DBPath{Path: value[:i]}
				p.TargetSize, err = strconv.ParseUint(value[i+1:], 10, 64)
				o.DBPaths = append(o.DBPaths, p)
			default:
				if hooks != nil && hooks.SkipUnknown != nil && hooks.SkipUnknown(section+"."+key, value) {
					return nil
				}
				return base.InvalidArgumentErrorf("lsmcore: unknown option: %s.%s",
					errors.Safe(section), errors.Safe(key))
			}
			if err != nil {
				return base.InvalidArgumentErrorf("lsmcore: invalid value %q for %s: %v",
					errors.Safe(value), errors.Safe(key), err)
			}
			return nil
		default:
			if hooks != nil && hooks.SkipUnknown != nil && hooks.SkipUnknown(section+"."+key, value) {
				return nil
			}
			return base.InvalidArgumentErrorf("lsmcore: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
	})
}
