// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/kr/pretty"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

func checkRoundTrip(e0 VersionEdit) error {
	var e1 VersionEdit
	buf := new(bytes.Buffer)
	if err := e0.Encode(buf); err != nil {
		return errors.Wrap(err, "encode")
	}
	if err := e1.Decode(buf); err != nil {
		return errors.Wrap(err, "decode")
	}
	if diff := pretty.Diff(e0, e1); len(diff) > 0 {
		return errors.Errorf("%s", strings.Join(diff, "\n"))
	}
	return nil
}

func mustParseFile(t *testing.T, s string) *FileMetadata {
	m, err := ParseFileMetadataDebug(s)
	require.NoError(t, err)
	return m
}

func TestVersionEditRoundTrip(t *testing.T) {
	m1 := mustParseFile(t, "000805:[abc#5,SET-xyz#6,DEL] size:8090")
	m2 := mustParseFile(t, "000806:[A#2,MERGE-Z#3,SET] seqnums:[1-3] size:8091 path:2")
	m3 := mustParseFile(t, "000807:[aaa#7,SET-bbb#8,SET] size:2 marked")
	m4 := mustParseFile(t, "000808:[ccc#9,SET-ddd#10,SET] size:3 path:1 marked")

	for _, e := range []VersionEdit{
		{},
		{ComparerName: "11", HasComparerName: true},
		{LogNum: 22, HasLogNum: true},
		{PrevLogNum: 33, HasPrevLogNum: true},
		{NextFileNum: 44, HasNextFileNum: true},
		{LastSeqNum: 55, HasLastSeqNum: true},
		{MaxColumnFamily: 7, HasMaxColumnFamily: true},
		{ColumnFamily: 3, ColumnFamilyAdd: true, ColumnFamilyName: "users"},
		{ColumnFamily: 3, ColumnFamilyDrop: true},
		{
			DeletedFiles: map[DeletedFileEntry]struct{}{
				{Level: 3, FileNum: 703}: {},
				{Level: 4, FileNum: 704}: {},
			},
		},
		{
			ComparerName:    "11",
			HasComparerName: true,
			LogNum:          22,
			HasLogNum:       true,
			PrevLogNum:      33,
			HasPrevLogNum:   true,
			NextFileNum:     44,
			HasNextFileNum:  true,
			LastSeqNum:      55,
			HasLastSeqNum:   true,
			ColumnFamily:    2,
			DeletedFiles: map[DeletedFileEntry]struct{}{
				{Level: 3, FileNum: 703}: {},
			},
			NewFiles: []NewFileEntry{
				{Level: 5, Meta: m1},
				{Level: 6, Meta: m2},
				{Level: 0, Meta: m3},
				{Level: 1, Meta: m4},
			},
		},
	} {
		require.NoError(t, checkRoundTrip(e))
	}
}

func TestVersionEditZeroValuesArePresent(t *testing.T) {
	var ve VersionEdit
	ve.SetLogNum(0)
	ve.SetLastSeqNum(0)
	b, err := ve.EncodeToBytes()
	require.NoError(t, err)

	var got VersionEdit
	require.NoError(t, got.Decode(bytes.NewReader(b)))
	require.True(t, got.HasLogNum)
	require.True(t, got.HasLastSeqNum)
	require.False(t, got.HasNextFileNum)
	require.False(t, got.HasPrevLogNum)
	require.False(t, got.HasComparerName)
}

func TestVersionEditNewFileTags(t *testing.T) {
	encode := func(m *FileMetadata) []byte {
		ve := VersionEdit{NewFiles: []NewFileEntry{{Level: 1, Meta: m}}}
		b, err := ve.EncodeToBytes()
		require.NoError(t, err)
		return b
	}
	require.Equal(t, byte(tagNewFile2), encode(mustParseFile(t, "000001:[a#1,SET-b#2,SET]"))[0])
	require.Equal(t, byte(tagNewFile3), encode(mustParseFile(t, "000001:[a#1,SET-b#2,SET] path:3"))[0])
	require.Equal(t, byte(tagNewFile4), encode(mustParseFile(t, "000001:[a#1,SET-b#2,SET] marked"))[0])
}

// encodeNewFile4 encodes a single new-file4 entry followed by the given
// custom fields.
func encodeNewFile4(custom func(e versionEditEncoder)) []byte {
	e := versionEditEncoder{new(bytes.Buffer)}
	e.writeUvarint(tagNewFile4)
	e.writeUvarint(2)
	e.writeUvarint(9)
	e.writeUvarint(100)
	e.writeKey(base.ParseInternalKey("a#1,SET"))
	e.writeKey(base.ParseInternalKey("c#3,SET"))
	e.writeUvarint(1)
	e.writeUvarint(3)
	custom(e)
	e.writeUvarint(customTagTerminate)
	return e.Bytes()
}

func TestVersionEditCustomTags(t *testing.T) {
	t.Run("ignorable", func(t *testing.T) {
		b := encodeNewFile4(func(e versionEditEncoder) {
			e.writeUvarint(customTagPathID)
			e.writeBytes([]byte{4})
			// Custom tags without the non-safe-ignore bit are skipped.
			e.writeUvarint(3)
			e.writeBytes([]byte("future"))
			e.writeUvarint(customTagNeedsCompaction)
			e.writeBytes([]byte{1})
		})
		var ve VersionEdit
		require.NoError(t, ve.Decode(bytes.NewReader(b)))
		require.Len(t, ve.NewFiles, 1)
		nf := ve.NewFiles[0]
		require.Equal(t, 2, nf.Level)
		require.Equal(t, base.FileNum(9), nf.Meta.FileNum)
		require.Equal(t, uint32(4), nf.Meta.PathID)
		require.True(t, nf.Meta.MarkedForCompaction)
		require.Equal(t, base.SeqNum(1), nf.Meta.SmallestSeqNum)
		require.Equal(t, base.SeqNum(3), nf.Meta.LargestSeqNum)
	})

	t.Run("non-safe-ignore", func(t *testing.T) {
		b := encodeNewFile4(func(e versionEditEncoder) {
			e.writeUvarint(customTagNonSafeIgnoreMask | 5)
			e.writeBytes([]byte("x"))
		})
		var ve VersionEdit
		err := ve.Decode(bytes.NewReader(b))
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("need-compaction-size", func(t *testing.T) {
		b := encodeNewFile4(func(e versionEditEncoder) {
			e.writeUvarint(customTagNeedsCompaction)
			e.writeBytes([]byte{1, 1})
		})
		var ve VersionEdit
		err := ve.Decode(bytes.NewReader(b))
		require.True(t, base.IsCorruptionError(err))
	})
}

func TestVersionEditDecodeCorrupt(t *testing.T) {
	for _, b := range [][]byte{
		// Unknown tag.
		{0x7f},
		// Comparator name longer than the remaining bytes.
		{tagComparator, 0x05, 'a'},
		// Log number tag without a value.
		{tagLogNumber},
	} {
		var ve VersionEdit
		err := ve.Decode(bytes.NewReader(b))
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err), "%x: %v", b, err)
	}
}

func TestVersionEditCompactPointerIgnored(t *testing.T) {
	e := versionEditEncoder{new(bytes.Buffer)}
	e.writeUvarint(tagCompactPointer)
	e.writeUvarint(1)
	e.writeBytes(base.ParseInternalKey("k#1,SET").EncodeTo(nil))
	e.writeUvarint(tagLogNumber)
	e.writeUvarint(12)
	var ve VersionEdit
	require.NoError(t, ve.Decode(bytes.NewReader(e.Bytes())))
	require.Equal(t, base.FileNum(12), ve.LogNum)
	require.Zero(t, ve.NumEntries())
}

func TestVersionEditDebugRoundTrip(t *testing.T) {
	const s = `  column-family: 4
  comparer: leveldb.BytewiseComparator
  log-num: 12
  next-file-num: 30
  last-seq-num: 99
  del-table: L1 000005
  del-table: L2 000004
  add-table: L0 000020:[a#10,SET-c#12,SET] seqnums:[10-12] size:300
  add-table: L6 000021:[d#1,SET-e#2,DEL] seqnums:[1-2] size:40 path:1 marked
`
	ve, err := ParseVersionEditDebug(s)
	require.NoError(t, err)
	require.Equal(t, s, ve.DebugString(base.DefaultFormatter))
	require.Equal(t, 6, ve.MaxLevel())
	require.Equal(t, 4, ve.NumEntries())
	require.NoError(t, checkRoundTrip(*ve))
}

func TestMergeEdits(t *testing.T) {
	parse := func(s string) *VersionEdit {
		ve, err := ParseVersionEditDebug(s)
		require.NoError(t, err)
		return ve
	}
	edits := []*VersionEdit{
		parse(`
  log-num: 7
  next-file-num: 12
  last-seq-num: 40
  add-table: L0 000010:[a#30,SET-b#40,SET]
  add-table: L0 000011:[c#31,SET-d#41,SET]
`),
		parse(`
  log-num: 5
  prev-log-num: 2
  last-seq-num: 45
  del-table: L0 000010
  del-table: L3 000003
  add-table: L1 000010:[a#30,SET-b#40,SET]
`),
	}
	got := MergeEdits(edits)
	require.Equal(t, `  log-num: 7
  prev-log-num: 2
  next-file-num: 12
  last-seq-num: 45
  del-table: L3 000003
  add-table: L0 000011:[c#31,SET-d#41,SET] seqnums:[31-41]
  add-table: L1 000010:[a#30,SET-b#40,SET] seqnums:[30-40]
`, got.DebugString(base.DefaultFormatter))

	// A single edit is returned as is.
	require.True(t, edits[0] == MergeEdits(edits[:1]))
}
