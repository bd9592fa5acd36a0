// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"math"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

func testDBOptions() *Options {
	return (&Options{Logger: base.NoopLogger{}}).EnsureDefaults()
}

func TestColumnFamilyOptionsDefaults(t *testing.T) {
	o := DefaultColumnFamilyOptions()
	require.Equal(t, DefaultComparer, o.Comparer)
	require.Equal(t, uint64(4<<20), o.WriteBufferSize)
	require.Equal(t, 2, o.MaxWriteBufferNumber)
	require.Equal(t, 7, o.NumLevels)
	require.Equal(t, 4, o.Level0FileNumCompactionTrigger)
	require.Equal(t, 20, o.Level0SlowdownWritesTrigger)
	require.Equal(t, 24, o.Level0StopWritesTrigger)
	require.Equal(t, uint64(2<<20), o.TargetFileSizeBase)
	require.Equal(t, uint64(10<<20), o.MaxBytesForLevelBase)
	require.Equal(t, 10, o.MaxBytesForLevelMultiplier)
	require.Equal(t, uint(200), o.Universal.MaxSizeAmplificationPercent)
	require.Equal(t, -1, o.Universal.CompressionSizePercent)
	require.Equal(t, UniversalStopStyleTotalSize, o.Universal.StopStyle)
}

func TestColumnFamilyOptionsSanitize(t *testing.T) {
	dbOpts := testDBOptions()

	t.Run("write-buffer", func(t *testing.T) {
		o := &ColumnFamilyOptions{WriteBufferSize: 1}
		r := o.Sanitize(dbOpts)
		require.Equal(t, uint64(64<<10), r.WriteBufferSize)
		require.Equal(t, uint64(8<<10), r.ArenaBlockSize)
		// The input is left untouched.
		require.Equal(t, uint64(1), o.WriteBufferSize)
	})

	t.Run("arena-block-alignment", func(t *testing.T) {
		r := (&ColumnFamilyOptions{WriteBufferSize: 100 << 10}).Sanitize(dbOpts)
		require.Equal(t, uint64(16<<10), r.ArenaBlockSize)
		r = (&ColumnFamilyOptions{WriteBufferSize: 100 << 10, ArenaBlockSize: 1000}).Sanitize(dbOpts)
		require.Equal(t, uint64(1000), r.ArenaBlockSize)
	})

	t.Run("write-buffer-number", func(t *testing.T) {
		r := (&ColumnFamilyOptions{
			MaxWriteBufferNumber:           1,
			MinWriteBufferNumberToMerge:    3,
			MaxWriteBufferNumberToMaintain: -1,
		}).Sanitize(dbOpts)
		require.Equal(t, 2, r.MaxWriteBufferNumber)
		require.Equal(t, 1, r.MinWriteBufferNumberToMerge)
		require.Equal(t, 2, r.MaxWriteBufferNumberToMaintain)
	})

	t.Run("level-triggers", func(t *testing.T) {
		r := (&ColumnFamilyOptions{
			Level0FileNumCompactionTrigger: 10,
			Level0SlowdownWritesTrigger:    5,
			Level0StopWritesTrigger:        2,
		}).Sanitize(dbOpts)
		require.Equal(t, 10, r.Level0FileNumCompactionTrigger)
		require.Equal(t, 10, r.Level0SlowdownWritesTrigger)
		require.Equal(t, 10, r.Level0StopWritesTrigger)
	})

	t.Run("fifo", func(t *testing.T) {
		r := (&ColumnFamilyOptions{CompactionStyle: CompactionStyleFIFO}).Sanitize(dbOpts)
		require.Equal(t, 1, r.NumLevels)
		require.Equal(t, math.MaxInt32, r.Level0FileNumCompactionTrigger)
		require.Equal(t, math.MaxInt32, r.Level0SlowdownWritesTrigger)
		require.Equal(t, math.MaxInt32, r.Level0StopWritesTrigger)
		require.NoError(t, r.Validate(dbOpts))
	})

	t.Run("level-needs-two-levels", func(t *testing.T) {
		r := (&ColumnFamilyOptions{NumLevels: 1}).Sanitize(dbOpts)
		require.Equal(t, 2, r.NumLevels)
		r = (&ColumnFamilyOptions{NumLevels: 1, CompactionStyle: CompactionStyleUniversal}).Sanitize(dbOpts)
		require.Equal(t, 1, r.NumLevels)
	})

	t.Run("dynamic-level-bytes", func(t *testing.T) {
		r := (&ColumnFamilyOptions{
			CompactionStyle:                  CompactionStyleUniversal,
			LevelCompactionDynamicLevelBytes: true,
		}).Sanitize(dbOpts)
		require.False(t, r.LevelCompactionDynamicLevelBytes)

		multiPath := testDBOptions()
		multiPath.DBPaths = []DBPath{{Path: "a", TargetSize: 10}, {Path: "b", TargetSize: 100}}
		r = (&ColumnFamilyOptions{LevelCompactionDynamicLevelBytes: true}).Sanitize(multiPath)
		require.False(t, r.LevelCompactionDynamicLevelBytes)

		r = (&ColumnFamilyOptions{LevelCompactionDynamicLevelBytes: true}).Sanitize(dbOpts)
		require.True(t, r.LevelCompactionDynamicLevelBytes)
	})
}

func TestColumnFamilyOptionsValidate(t *testing.T) {
	dbOpts := testDBOptions()
	require.NoError(t, DefaultColumnFamilyOptions().Validate(dbOpts))

	o := DefaultColumnFamilyOptions()
	o.CompactionStyle = CompactionStyleUniversal
	o.Universal.MinMergeWidth = 1
	err := o.Validate(dbOpts)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Contains(t, err.Error(), "min_merge_width")

	o = DefaultColumnFamilyOptions()
	o.CompactionStyle = CompactionStyleFIFO
	multiPath := testDBOptions()
	multiPath.DBPaths = []DBPath{{Path: "a"}, {Path: "b"}}
	err = o.Sanitize(multiPath).Validate(multiPath)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Contains(t, err.Error(), "more than one db path")
}

func TestColumnFamilyOptionsString(t *testing.T) {
	o := DefaultColumnFamilyOptions()
	o.Merger = DefaultMerger
	o.CompressionPerLevel = []Compression{NoCompression, SnappyCompression, ZstdCompression}
	o.MaxBytesForLevelMultiplierAdditional = []int{1, 2, 3}
	s := o.String()
	require.True(t, strings.HasPrefix(s, "[ColumnFamilyOptions]\n"))
	require.Contains(t, s, "  comparer=leveldb.BytewiseComparator\n")
	require.Contains(t, s, "  merger=lsmcore.concatenate\n")
	require.Contains(t, s, "  compression_per_level=NoCompression:Snappy:ZSTD\n")
	require.Contains(t, s, "  universal_stop_style=total_size\n")

	var parsed ColumnFamilyOptions
	require.NoError(t, parsed.Parse(s, nil))
	require.Equal(t, s, parsed.String())
	require.Equal(t, DefaultMerger, parsed.Merger)
	require.Equal(t, []int{1, 2, 3}, parsed.MaxBytesForLevelMultiplierAdditional)
}

func TestColumnFamilyOptionsParseErrors(t *testing.T) {
	testCases := []struct {
		input string
		err   string
	}{
		{"[ColumnFamilyOptions]\n  foo=bar\n", "unknown option: foo"},
		{"[ColumnFamilyOptions]\n  num_levels=x\n", "for num_levels"},
		{"[ColumnFamilyOptions]\n  compression=brotli\n", "for compression"},
		{"[Other]\n  num_levels=3\n", "unknown option: Other.num_levels"},
		{"[ColumnFamilyOptions]\n  num_levels\n", "invalid key=value syntax"},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			var o ColumnFamilyOptions
			err := o.Parse(c.input, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), c.err)
		})
	}

	var o ColumnFamilyOptions
	hooks := &ParseHooks{SkipUnknown: func(name, value string) bool { return true }}
	require.NoError(t, o.Parse("[ColumnFamilyOptions]\n  foo=bar\n# comment\n  num_levels=3\n", hooks))
	require.Equal(t, 3, o.NumLevels)
}

func TestColumnFamilyOptionsParseHooks(t *testing.T) {
	cmp := &Comparer{Name: "reverse", Compare: func(a, b []byte) int { return DefaultComparer.Compare(b, a) }}
	hooks := &ParseHooks{
		NewComparer: func(name string) (*Comparer, error) {
			if name != "reverse" {
				return nil, errors.Newf("unknown comparer %s", name)
			}
			return cmp, nil
		},
	}
	var o ColumnFamilyOptions
	require.NoError(t, o.Parse("[ColumnFamilyOptions]\n  comparer=reverse\n", hooks))
	require.Equal(t, cmp, o.Comparer)
	require.Error(t, o.Parse("[ColumnFamilyOptions]\n  comparer=other\n", hooks))
}

func TestParseColumnFamilyOptionsYAML(t *testing.T) {
	const doc = `
write_buffer_size: 1048576
compaction_style: universal
level0_file_num_compaction_trigger: 8
compression_per_level: [NoCompression, Snappy, ZSTD]
universal:
  size_ratio: 5
  stop_style: similar_size
  allow_trivial_move: true
`
	o, err := ParseColumnFamilyOptionsYAML([]byte(doc), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), o.WriteBufferSize)
	require.Equal(t, CompactionStyleUniversal, o.CompactionStyle)
	require.Equal(t, 8, o.Level0FileNumCompactionTrigger)
	require.Equal(t, []Compression{NoCompression, SnappyCompression, ZstdCompression}, o.CompressionPerLevel)
	require.Equal(t, uint(5), o.Universal.SizeRatio)
	require.Equal(t, UniversalStopStyleSimilarSize, o.Universal.StopStyle)
	require.True(t, o.Universal.AllowTrivialMove)
	// Unset options keep their defaults.
	require.Equal(t, 7, o.NumLevels)

	_, err = ParseColumnFamilyOptionsYAML([]byte("bogus_option: 1\n"), nil)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = ParseColumnFamilyOptionsYAML([]byte("write_buffer_size: [1\n"), nil)
	require.True(t, IsCorruptionError(err))
}

func TestApplyMutableOptions(t *testing.T) {
	o := DefaultColumnFamilyOptions()

	_, err := applyMutableOptions(o, nil)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Contains(t, err.Error(), "empty input")

	_, err = applyMutableOptions(o, map[string]string{"num_levels": "3"})
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Contains(t, err.Error(), "num_levels is not a mutable option")

	_, err = applyMutableOptions(o, map[string]string{"write_buffer_size": "big"})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	changes := map[string]string{
		"write_buffer_size":          "1048576",
		"disable_auto_compactions":   "true",
		"level0_stop_writes_trigger": "40",
		"max_bytes_for_level_base":   "1000",
	}
	changes["max_bytes_for_level_multiplier_additional"] = "1:2"
	n, err := applyMutableOptions(o, changes)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<20), n.WriteBufferSize)
	require.True(t, n.DisableAutoCompactions)
	require.Equal(t, 40, n.Level0StopWritesTrigger)
	require.Equal(t, uint64(1000), n.MaxBytesForLevelBase)
	require.Equal(t, []int{1, 2}, n.MaxBytesForLevelMultiplierAdditional)
	// The input is left untouched.
	require.Equal(t, uint64(4<<20), o.WriteBufferSize)
	require.False(t, o.DisableAutoCompactions)
}

func TestMutableCFOptionsFileSizes(t *testing.T) {
	o := DefaultColumnFamilyOptions()
	o.TargetFileSizeBase = 100
	o.TargetFileSizeMultiplier = 2
	o.NumLevels = 4
	m := newMutableCFOptions(o)
	require.Equal(t, uint64(100), m.MaxFileSizeForLevel(0))
	require.Equal(t, uint64(100), m.MaxFileSizeForLevel(1))
	require.Equal(t, uint64(200), m.MaxFileSizeForLevel(2))
	require.Equal(t, uint64(400), m.MaxFileSizeForLevel(3))
	require.Equal(t, uint64(4000), m.MaxGrandparentOverlapBytes(3))
	require.Equal(t, uint64(5000), m.ExpandedCompactionByteSizeLimit(2))

	o.CompactionStyle = CompactionStyleUniversal
	m = newMutableCFOptions(o)
	require.Equal(t, uint64(math.MaxUint64), m.MaxFileSizeForLevel(0))
	require.Equal(t, uint64(100), m.MaxFileSizeForLevel(1))

	require.Equal(t, uint64(math.MaxUint64/2+1), multiplyCheckOverflow(math.MaxUint64/2+1, 2))
	require.Equal(t, uint64(6), multiplyCheckOverflow(3, 2))
}

func TestOptionsString(t *testing.T) {
	o := testDBOptions()
	o.DBPaths = []DBPath{{Path: "/a", TargetSize: 100}, {Path: "/b:c", TargetSize: 200}}
	o.TargetByteDeletionRate = 1 << 20
	const expected = `[Version]
  lsmcore_version=0.1

[Options]
  db_write_buffer_size=0
  delayed_write_rate=2097152
  max_file_opening_threads=16
  max_manifest_file_size=134217728
  max_open_files=-1
  target_byte_deletion_rate=1048576
  db_path=/a:100
  db_path=/b:c:200
`
	require.Equal(t, expected, o.String())

	var parsed Options
	require.NoError(t, parsed.Parse(expected, nil))
	require.Equal(t, o.DBPaths, parsed.DBPaths)
	require.Equal(t, expected, parsed.String())

	err := parsed.Parse("[Options]\n  foo=1\n", nil)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.NoError(t, parsed.Parse("[Options]\n  foo=1\n", &ParseHooks{
		SkipUnknown: func(name, value string) bool { return name == "Options.foo" },
	}))
}
