// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"testing"

	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/stretchr/testify/require"
)

const compactionTestLayout = `
L1 000010:[a#5,SET-z#5,SET] size:100
L2 000020:[b#3,SET-c#3,SET] size:100
L2 000021:[f#3,SET-g#3,SET] size:100
L3 000030:[d#1,SET-e#1,SET] size:100
`

// newTestCompaction builds an L1 -> L2 compaction of the layout above, with
// the given grandparents and bound on their overlap with one output.
func newTestCompaction(
	t *testing.T, e *pickerEnv, grandparents []*manifest.FileMetadata, maxOverlap uint64,
) *Compaction {
	t.Helper()
	inputs := []compactionLevel{
		{level: 1, files: e.vstorage.LevelFiles(1)},
		{level: 2, files: e.vstorage.LevelFiles(2)},
	}
	compression := compressionForLevel(e.opts, 2, e.vstorage.BaseLevel(), true)
	return newCompaction(e.vstorage, e.opts, inputs, 2, 1<<20, maxOverlap, 0,
		compression, grandparents, false, 1, false)
}

func parseFiles(t *testing.T, metas ...string) []*manifest.FileMetadata {
	t.Helper()
	files := make([]*manifest.FileMetadata, len(metas))
	for i, s := range metas {
		f, err := manifest.ParseFileMetadataDebug(s)
		require.NoError(t, err)
		files[i] = f
	}
	return files
}

func TestCompactionShouldStopBefore(t *testing.T) {
	e := newPickerEnv(t, DefaultColumnFamilyOptions(), nil, compactionTestLayout)
	grandparents := parseFiles(t,
		"000040:[a#1,SET-b#1,SET] size:100",
		"000041:[c#1,SET-d#1,SET] size:100",
		"000042:[e#1,SET-f#1,SET] size:100",
		"000043:[g#1,SET-h#1,SET] size:100",
	)
	c := newTestCompaction(t, e, grandparents, 150)

	key := func(s string) InternalKey {
		return MakeInternalKey([]byte(s), 5, InternalKeyKindSet)
	}
	// The grandparents passed before the first key do not count.
	require.False(t, c.ShouldStopBefore(key("a")))
	require.False(t, c.ShouldStopBefore(key("c")))
	require.True(t, c.ShouldStopBefore(key("e")))
	// A newer entry of the largest key of a grandparent still overlaps it.
	require.False(t, c.ShouldStopBefore(key("f")))
	require.True(t, c.ShouldStopBefore(key("z")))
	require.False(t, c.ShouldStopBefore(MakeInternalKey([]byte("z"), 1, InternalKeyKindSet)))
}

func TestCompactionKeyNotExistsBeyondOutputLevel(t *testing.T) {
	e := newPickerEnv(t, DefaultColumnFamilyOptions(), nil, compactionTestLayout)
	inputs := []compactionLevel{{level: 0}, {level: 1, files: e.vstorage.LevelFiles(1)}}
	c := newCompaction(e.vstorage, e.opts, inputs, 1, 1<<20, unlimitedOverlap, 0,
		NoCompression, nil, false, 1, false)
	require.False(t, c.BottommostLevel())

	levelPtrs := make([]int, e.vstorage.NumLevels())
	for _, tc := range []struct {
		key  string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"d", false},
		{"e", false},
		{"h", true},
	} {
		require.Equal(t, tc.want, c.KeyNotExistsBeyondOutputLevel([]byte(tc.key), levelPtrs), tc.key)
	}

	// A universal compaction only knows whether it is the bottommost one.
	e = newPickerEnv(t, universalOptions(), nil, `
L0 000002:[a#2,SET-b#2,SET] size:100
L0 000001:[a#1,SET-b#1,SET] size:100
`)
	inputs = []compactionLevel{{level: 0, files: e.vstorage.LevelFiles(0)}}
	c = newCompaction(e.vstorage, e.opts, inputs, 0, 1<<20, unlimitedOverlap, 0,
		NoCompression, nil, false, 1, false)
	require.True(t, c.BottommostLevel())
	require.True(t, c.IsFullCompaction())
	require.True(t, c.KeyNotExistsBeyondOutputLevel([]byte("a"), make([]int, 1)))
}

func TestCompactionIsTrivialMove(t *testing.T) {
	e := newPickerEnv(t, DefaultColumnFamilyOptions(), nil, `
L1 000010:[a#5,SET-c#5,SET] size:100
L3 000030:[a#1,SET-b#1,SET] size:100
L3 000031:[c#1,SET-d#1,SET] size:100
`)
	build := func(maxOverlap uint64, outputPathID uint32) *Compaction {
		inputs := []compactionLevel{{level: 1, files: e.vstorage.LevelFiles(1)}}
		return newCompaction(e.vstorage, e.opts, inputs, 2, 1<<20, maxOverlap, outputPathID,
			compressionForLevel(e.opts, 2, e.vstorage.BaseLevel(), true),
			e.vstorage.LevelFiles(3), false, 1, false)
	}
	require.True(t, build(unlimitedOverlap, 0).IsTrivialMove())
	// Too many grandparent bytes under the moved file.
	require.False(t, build(150, 0).IsTrivialMove())
	// The file would have to change paths.
	require.False(t, build(unlimitedOverlap, 1).IsTrivialMove())

	inputs := []compactionLevel{{level: 1, files: e.vstorage.LevelFiles(1)}}
	c := newCompaction(e.vstorage, e.opts, inputs, 1, 1<<20, unlimitedOverlap, 0,
		NoCompression, nil, false, 1, false)
	require.False(t, c.IsTrivialMove())

	// The universal trivial move option does not apply to leveled compactions.
	e.opts.Universal.AllowTrivialMove = true
	require.True(t, build(unlimitedOverlap, 0).IsTrivialMove())
	require.False(t, build(150, 0).IsTrivialMove())
}

func TestCompactionInputDeletionsAndSummary(t *testing.T) {
	e := newPickerEnv(t, DefaultColumnFamilyOptions(), nil, compactionTestLayout)
	c := newTestCompaction(t, e, e.vstorage.LevelFiles(3), unlimitedOverlap)
	require.Equal(t, 2, c.NumInputLevels())
	require.Equal(t, 2, c.NumInputFiles(1))
	require.Equal(t, "L1 -> L2 [1@1 + 2@2]", c.String())
	require.Equal(t, uint64(1<<20), c.MaxOutputFileSize())

	var edit manifest.VersionEdit
	c.AddInputDeletions(&edit)
	require.Equal(t, map[manifest.DeletedFileEntry]struct{}{
		{Level: 1, FileNum: 10}: {},
		{Level: 2, FileNum: 20}: {},
		{Level: 2, FileNum: 21}: {},
	}, edit.DeletedFiles)

	s := c.Summary()
	require.Contains(t, s, "Base version 0 Base level 1, inputs:")
	require.Contains(t, s, " [000010(")
	require.Contains(t, s, "], [000020(")
	require.Contains(t, s, " 000021(")
}

func TestCompactionMarkAndRelease(t *testing.T) {
	e := newPickerEnv(t, DefaultColumnFamilyOptions(), nil, compactionTestLayout)
	c := newTestCompaction(t, e, nil, unlimitedOverlap)
	c.MarkFilesBeingCompacted(true)
	for _, f := range e.vstorage.LevelFiles(2) {
		require.True(t, f.BeingCompacted)
	}
	require.Panics(t, func() { c.MarkFilesBeingCompacted(true) })

	c.ReleaseCompactionFiles(nil)
	for _, f := range e.vstorage.LevelFiles(2) {
		require.False(t, f.BeingCompacted)
	}
	// Releasing twice is a no-op.
	c.ReleaseCompactionFiles(nil)
}

func TestCompressionForLevel(t *testing.T) {
	opts := testMutableCFOptions()
	opts.Compression = SnappyCompression
	require.Equal(t, SnappyCompression, compressionForLevel(opts, 3, 1, true))
	require.Equal(t, NoCompression, compressionForLevel(opts, 3, 1, false))

	opts.CompressionPerLevel = []Compression{NoCompression, SnappyCompression, ZstdCompression}
	for _, tc := range []struct {
		level, baseLevel int
		want             Compression
	}{
		{0, 1, NoCompression},
		{1, 1, SnappyCompression},
		{2, 1, ZstdCompression},
		{6, 1, ZstdCompression},
		// With a dynamic base level the levels above it use the first
		// compression.
		{3, 4, NoCompression},
		{4, 4, SnappyCompression},
		{5, 4, ZstdCompression},
	} {
		require.Equal(t, tc.want, compressionForLevel(opts, tc.level, tc.baseLevel, true),
			"L%d base L%d", tc.level, tc.baseLevel)
	}
}
