// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestMemFSBasics(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("db", 0755))

	f, err := fs.Create("db/a")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename("db/a", "db/b"))
	_, err = fs.Stat("db/a")
	require.True(t, IsNotExist(err))

	fi, err := fs.Stat("db/b")
	require.NoError(t, err)
	require.Equal(t, int64(11), fi.Size())

	f, err = fs.Open("db/b")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "hello world", string(data))

	f, err = fs.Create("db/c")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	names, err := fs.List("db")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, names)

	require.NoError(t, fs.Remove("db/b"))
	require.True(t, IsNotExist(fs.Remove("db/b")))
	require.Error(t, fs.Remove("db"))
}

func TestErrorFSInjection(t *testing.T) {
	mem := NewMem()
	efs := Wrap(mem, OnOp("MANIFEST-*", OnIndex(1), OpSync))

	f, err := efs.Create("MANIFEST-000001")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.True(t, errors.Is(f.Sync(), ErrInjected))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	g, err := efs.Create("000002.sst")
	require.NoError(t, err)
	require.NoError(t, g.Sync())
	require.NoError(t, g.Close())

	efs.SetInjector(nil)
	require.NoError(t, efs.Remove("000002.sst"))
	// Removing a missing file through the wrapper is not an error.
	require.NoError(t, efs.Remove("000002.sst"))
}

func TestMemFSPaths(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/a/b", 0755))
	require.NoError(t, fs.MkdirAll("a//b/", 0755))
	f, err := fs.Create("a/b/file")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	names, err := fs.List("/a/")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names)
	names, err = fs.List("/")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)

	fi, err := fs.Stat("a/b")
	require.NoError(t, err)
	require.True(t, fi.IsDir())
	require.Equal(t, "b", fi.Name())

	// A file is not a directory.
	require.Error(t, fs.MkdirAll("a/b/file/c", 0755))
	_, err = fs.List("a/b/file")
	require.Error(t, err)
	_, err = fs.Create("a/b/file/x")
	require.Error(t, err)

	_, err = fs.Create("/")
	require.Error(t, err)
	_, err = fs.List("missing")
	require.True(t, IsNotExist(err))
	require.True(t, IsNotExist(fs.Rename("a/missing", "a/b/x")))
	_, err = fs.Create("missing/x")
	require.True(t, IsNotExist(err))

	// Directories can be opened for syncing but not read.
	d, err := fs.OpenDir("a/b")
	require.NoError(t, err)
	require.NoError(t, d.Sync())
	_, err = d.Read(make([]byte, 1))
	require.Error(t, err)
	require.NoError(t, d.Close())
}
