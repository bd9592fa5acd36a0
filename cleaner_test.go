// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"testing"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/vfs"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, fs vfs.FS, path string) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCleanupManager(t *testing.T) {
	opts := memTestOptions()
	opts.DBPaths = []DBPath{{Path: testDirname}, {Path: "cold"}}
	opts.TargetByteDeletionRate = 1 << 20
	fs := opts.FS
	require.NoError(t, fs.MkdirAll(testDirname, 0755))
	require.NoError(t, fs.MkdirAll("cold", 0755))

	touch(t, fs, base.MakeFilepath(fs, testDirname, base.FileTypeTable, 5))
	touch(t, fs, base.MakeFilepath(fs, "cold", base.FileTypeTable, 6))
	touch(t, fs, base.MakeFilepath(fs, testDirname, base.FileTypeManifest, 3))
	touch(t, fs, base.MakeFilepath(fs, testDirname, base.FileTypeTable, 8))

	tc := newFakeTableCache()
	cm := openCleanupManager(testDirname, opts, tc)
	defer cm.Close()

	// Empty jobs are dropped.
	cm.EnqueueJob(ObsoleteFiles{})
	cm.Wait()

	cm.EnqueueJob(ObsoleteFiles{
		Tables: []*FileMetadata{
			{FileNum: 5, Size: 100},
			{FileNum: 6, Size: 200, PathID: 1},
			// Already gone.
			{FileNum: 7, Size: 400},
		},
		Manifests: []FileNum{3},
	})
	cm.Wait()

	names, err := fs.List(testDirname)
	require.NoError(t, err)
	require.Equal(t, []string{"000008.sst"}, names)
	names, err = fs.List("cold")
	require.NoError(t, err)
	require.Empty(t, names)

	require.Equal(t, int64(2), cm.deletedTables.Load())
	require.Equal(t, uint64(300), cm.deletedTableBytes.Load())
	require.Equal(t, int64(1), cm.deletedManifests.Load())
	tc.mu.Lock()
	require.Equal(t, []FileNum{5, 6, 7}, tc.evicted)
	tc.mu.Unlock()
}

func TestCleanupManagerCloseDrains(t *testing.T) {
	opts := memTestOptions()
	fs := opts.FS
	require.NoError(t, fs.MkdirAll(testDirname, 0755))
	cm := openCleanupManager(testDirname, opts, nil)
	for fileNum := FileNum(1); fileNum <= 4; fileNum++ {
		touch(t, fs, base.MakeFilepath(fs, testDirname, base.FileTypeTable, fileNum))
		cm.EnqueueJob(ObsoleteFiles{Tables: []*FileMetadata{{FileNum: fileNum, Size: 1}}})
	}
	cm.Close()
	names, err := fs.List(testDirname)
	require.NoError(t, err)
	require.Empty(t, names)
	require.Equal(t, int64(4), cm.deletedTables.Load())
}
