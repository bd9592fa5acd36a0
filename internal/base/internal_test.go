// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestInternalKeyEncodeDecode(t *testing.T) {
	keys := []InternalKey{
		MakeInternalKey([]byte("foo"), 1, InternalKeyKindSet),
		MakeInternalKey([]byte(""), 100, InternalKeyKindDelete),
		MakeInternalKey([]byte("bar"), SeqNumMax, InternalKeyKindMerge),
	}
	for _, k := range keys {
		buf := make([]byte, k.Size())
		k.Encode(buf)
		require.Equal(t, buf, k.EncodeTo(nil))
		d := DecodeInternalKey(buf)
		require.Equal(t, k.UserKey, d.UserKey)
		require.Equal(t, k.Trailer, d.Trailer)
	}
	require.False(t, DecodeInternalKey([]byte("short")).Valid())
}

func TestInternalCompare(t *testing.T) {
	keys := []string{
		"a#inf,SET",
		"a#9,SET",
		"a#8,MERGE",
		"a#8,SET",
		"a#1,DEL",
		"b#3,SET",
		"bb#10,SET",
	}
	for i := range keys {
		for j := range keys {
			a, b := ParseInternalKey(keys[i]), ParseInternalKey(keys[j])
			got := InternalCompare(bytes.Compare, a, b)
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = +1
			}
			require.Equalf(t, want, got, "%s vs %s", keys[i], keys[j])
		}
	}
}

func TestLookupKeyOrdering(t *testing.T) {
	lookup := MakeLookupKey([]byte("k"), 5)
	require.Less(t, InternalCompare(bytes.Compare, lookup, ParseInternalKey("k#5,SET")), 1)
	require.Equal(t, -1, InternalCompare(bytes.Compare, lookup, ParseInternalKey("k#4,SET")))
	require.Equal(t, 1, InternalCompare(bytes.Compare, lookup, ParseInternalKey("k#6,SET")))
	require.Equal(t, -1, InternalCompare(bytes.Compare, MakeSearchKey([]byte("k")), ParseInternalKey("k#inf,SET")))
}

func TestErrorMarks(t *testing.T) {
	err := CorruptionErrorf("bad record %d", 3)
	require.True(t, IsCorruptionError(err))
	require.True(t, errors.Is(errors.Wrap(err, "reading"), ErrCorruption))
	require.False(t, errors.Is(err, ErrInvalidArgument))
	require.True(t, errors.Is(InvalidArgumentErrorf("x"), ErrInvalidArgument))
	require.True(t, errors.Is(IncompleteErrorf("x"), ErrIncomplete))
	require.True(t, IsCorruptionError(MarkCorruptionError(errors.New("x"))))
}
