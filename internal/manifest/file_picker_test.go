// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

// pick returns the files, and their levels, the picker yields for the key.
func pick(s *VersionStorageInfo, key string) string {
	p := MakeFilePicker(s, base.MakeLookupKey([]byte(key), base.SeqNumMax))
	var out []string
	for f := p.NextFile(); f != nil; f = p.NextFile() {
		out = append(out, fmt.Sprintf("L%d:%s", p.HitFileLevel(), f.Meta.FileNum))
	}
	return strings.Join(out, " ")
}

func TestFilePicker(t *testing.T) {
	opts := testScoringOptions()
	s := buildStorage(t, 3, CompactionStyleLevel, opts, nil, `
add-table: L0 000001:[a#10,SET-c#10,SET]
add-table: L1 000002:[a#5,SET-b#5,SET]
add-table: L1 000003:[c#5,SET-d#5,SET]
add-table: L2 000004:[a#1,SET-z#1,SET]
`)
	require.Equal(t, "L0:000001 L1:000003 L2:000004", pick(s, "c"))
	require.Equal(t, "L0:000001 L1:000002 L2:000004", pick(s, "a"))
	require.Equal(t, "L2:000004", pick(s, "e"))
	require.Equal(t, "", pick(s, "zz"))
}

func TestFilePickerLevel0(t *testing.T) {
	opts := testScoringOptions()
	// A single level of at most three files is not filtered.
	s := buildStorage(t, 1, CompactionStyleFIFO, opts, nil, `
add-table: L0 000001:[a#1,SET-b#1,SET]
add-table: L0 000002:[c#2,SET-d#2,SET]
`)
	require.Equal(t, "L0:000002 L0:000001", pick(s, "x"))

	s = buildStorage(t, 1, CompactionStyleFIFO, opts, nil, `
add-table: L0 000001:[a#1,SET-b#1,SET]
add-table: L0 000002:[c#2,SET-d#2,SET]
add-table: L0 000003:[a#3,SET-c#3,SET]
add-table: L0 000004:[b#4,SET-e#4,SET]
`)
	require.Equal(t, "L0:000004 L0:000003 L0:000002", pick(s, "c"))
	require.Equal(t, "", pick(s, "x"))
}

func TestFilePickerSkipsEmptyLevels(t *testing.T) {
	opts := testScoringOptions()
	s := buildStorage(t, 5, CompactionStyleLevel, opts, nil, `
add-table: L1 000001:[a#5,SET-b#5,SET]
add-table: L1 000002:[m#5,SET-n#5,SET]
add-table: L4 000003:[a#1,SET-c#1,SET]
add-table: L4 000004:[k#1,SET-z#1,SET]
`)
	require.Equal(t, "L1:000002 L4:000004", pick(s, "m"))
	require.Equal(t, "L4:000004", pick(s, "l"))
	require.Equal(t, "L1:000001 L4:000003", pick(s, "b"))
}
