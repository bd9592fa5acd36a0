// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestLevelIter(t *testing.T) {
	var tc *fakeTableCache
	var files []*manifest.FileMetadata
	datadriven.RunTest(t, "testdata/level_iter", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "define":
			// Each line of the input holds the entries of one file of the
			// level. A line "missing" adds a file that fails to open.
			tc = newFakeTableCache()
			files = files[:0]
			for i, line := range strings.Split(d.Input, "\n") {
				fileNum := FileNum(i + 1)
				if strings.TrimSpace(line) == "missing" {
					prev := string(files[len(files)-1].Largest.UserKey)
					files = append(files, &manifest.FileMetadata{
						FileNum:  fileNum,
						Smallest: MakeInternalKey([]byte(prev+"0"), 1, InternalKeyKindSet),
						Largest:  MakeInternalKey([]byte(prev+"1"), 1, InternalKeyKindSet),
					})
					continue
				}
				files = append(files, tc.addTable(t, fileNum, line))
			}
			var b strings.Builder
			for _, f := range files {
				b.WriteString(f.String() + "\n")
			}
			return b.String()

		case "iter":
			it := newLevelIter(DefaultComparer.Compare, tc, 1, files)
			out := runInternalIterCmd(t, d, it)
			_ = it.Close()
			return out

		default:
			return "unknown command: " + d.Cmd
		}
	})
}

func TestLevelIterEmpty(t *testing.T) {
	it := newLevelIter(DefaultComparer.Compare, newFakeTableCache(), 3, nil)
	require.Equal(t, "L3", it.String())
	require.Nil(t, it.First())
	require.Nil(t, it.Last())
	require.Nil(t, it.SeekGE([]byte("a")))
	require.Nil(t, it.SeekLT([]byte("a")))
	require.NoError(t, it.Error())
	require.NoError(t, it.Close())
}
