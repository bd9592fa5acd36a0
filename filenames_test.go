// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"testing"

	"github.com/lsmcore/lsmcore/vfs"
	"github.com/stretchr/testify/require"
)

func TestCurrentFile(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll(testDirname, 0755))

	require.NoError(t, setCurrentFile(testDirname, fs, 7))
	fileNum, path, err := readCurrentFile(testDirname, fs)
	require.NoError(t, err)
	require.Equal(t, FileNum(7), fileNum)
	require.Equal(t, fs.PathJoin(testDirname, "MANIFEST-000007"), path)

	// The temporary file is renamed over CURRENT.
	require.NoError(t, setCurrentFile(testDirname, fs, 12))
	names, err := fs.List(testDirname)
	require.NoError(t, err)
	require.Equal(t, []string{"CURRENT"}, names)
	fileNum, _, err = readCurrentFile(testDirname, fs)
	require.NoError(t, err)
	require.Equal(t, FileNum(12), fileNum)

	f, err := fs.Create(fs.PathJoin(testDirname, "CURRENT"))
	require.NoError(t, err)
	_, err = f.Write([]byte("000012.sst\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, _, err = readCurrentFile(testDirname, fs)
	require.True(t, IsCorruptionError(err), "%v", err)
	require.Contains(t, err.Error(), "CURRENT file corrupted")
}

func TestTableDir(t *testing.T) {
	paths := []DBPath{{Path: "hot", TargetSize: 10}, {Path: "cold"}}
	require.Equal(t, "hot", tableDir("db", paths, 0))
	require.Equal(t, "cold", tableDir("db", paths, 1))
	// Unknown paths fall back to the database directory.
	require.Equal(t, "db", tableDir("db", paths, 2))
	require.Equal(t, "db", tableDir("db", nil, 0))
	require.Equal(t, "db", tableDir("db", []DBPath{{}}, 0))
}
