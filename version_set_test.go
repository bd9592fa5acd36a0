// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/lsmcore/lsmcore/record"
	"github.com/lsmcore/lsmcore/vfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testDirname = "db"

// openTestVersionSet creates the database in opts.FS if it does not exist
// and recovers it, with the default column family only unless descriptors
// are given.
func openTestVersionSet(
	t *testing.T, opts *Options, tc TableCache, descriptors ...ColumnFamilyDescriptor,
) (*VersionSet, *sync.Mutex) {
	t.Helper()
	mu := &sync.Mutex{}
	vs := NewVersionSet(testDirname, opts, tc, nil, nil, mu)
	if _, err := opts.FS.Stat(opts.FS.PathJoin(testDirname, "CURRENT")); err != nil {
		require.NoError(t, vs.Create(nil))
	}
	if len(descriptors) == 0 {
		descriptors = []ColumnFamilyDescriptor{{Name: DefaultColumnFamilyName, Options: DefaultColumnFamilyOptions()}}
	}
	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, vs.Recover(descriptors, false))
	return vs, mu
}

func memTestOptions() *Options {
	opts := testDBOptions()
	opts.FS = vfs.NewMem()
	return opts
}

// fileEdit returns an edit adding the file described by meta, in the format
// of manifest.ParseFileMetadataDebug without the file number, to the level.
func fileEdit(t *testing.T, level int, fileNum FileNum, meta string) *VersionEdit {
	t.Helper()
	f, err := manifest.ParseFileMetadataDebug(fmt.Sprintf("%s:%s", fileNum, meta))
	require.NoError(t, err)
	ve := &VersionEdit{}
	ve.AddFile(level, f)
	return ve
}

func levelFileNums(cfd *ColumnFamilyData, level int) []FileNum {
	return sortedFileNums(cfd.Current().Storage.LevelFiles(level))
}

func listManifests(t *testing.T, fs vfs.FS) []string {
	t.Helper()
	names, err := fs.List(testDirname)
	require.NoError(t, err)
	var res []string
	for _, name := range names {
		if strings.HasPrefix(name, "MANIFEST-") {
			res = append(res, name)
		}
	}
	return res
}

func TestVersionSetCreateAndRecover(t *testing.T) {
	opts := memTestOptions()
	vs, mu := openTestVersionSet(t, opts, nil)
	require.Equal(t, FileNum(1), vs.ManifestFileNumber())
	require.Equal(t, SeqNum(0), vs.LastSequence())
	cfd := vs.ColumnFamilySet().Default()
	require.NotNil(t, cfd)
	require.Equal(t, uint32(0), cfd.ID())
	require.Equal(t, 1, vs.ColumnFamilySet().NumberOfColumnFamilies())

	fileNum := vs.NewFileNumber()
	logNum := vs.NewFileNumber()
	require.Equal(t, FileNum(3), fileNum)

	mu.Lock()
	vs.SetLastSequence(100)
	ve := fileEdit(t, 1, fileNum, "[a#1,SET-c#2,SET] size:1024")
	ve.SetLogNum(logNum)
	require.NoError(t, vs.LogAndApply(cfd, ve))
	require.Equal(t, []FileNum{fileNum}, levelFileNums(cfd, 1))
	require.Equal(t, logNum, cfd.LogNumber())
	require.Equal(t, logNum, vs.MinLogNumber())
	// The first edit after recovery starts a new manifest.
	require.Equal(t, FileNum(5), vs.ManifestFileNumber())
	mu.Unlock()
	require.Equal(t, []string{"MANIFEST-000005"}, listManifests(t, opts.FS))
	require.NoError(t, vs.Close())

	vs, _ = openTestVersionSet(t, opts, nil)
	defer vs.Close()
	cfd = vs.ColumnFamilySet().Default()
	require.Equal(t, []FileNum{fileNum}, levelFileNums(cfd, 1))
	require.Equal(t, SeqNum(100), vs.LastSequence())
	require.Equal(t, logNum, cfd.LogNumber())
	require.Equal(t, FileNum(5), vs.ManifestFileNumber())
	// File numbers up to the recorded next file number are never reused.
	require.Equal(t, FileNum(7), vs.NewFileNumber())

	f := cfd.Current().Storage.LevelFiles(1)[0]
	require.Equal(t, uint64(1024), f.Size)
	require.Equal(t, "a#1,SET", f.Smallest.String())
	require.Equal(t, "c#2,SET", f.Largest.String())
}

func TestVersionSetManifestRollover(t *testing.T) {
	for _, maxSize := range []uint64{1, 1 << 20} {
		t.Run(fmt.Sprint(maxSize), func(t *testing.T) {
			opts := memTestOptions()
			opts.MaxManifestFileSize = maxSize
			vs, mu := openTestVersionSet(t, opts, nil)
			cfd := vs.ColumnFamilySet().Default()

			mu.Lock()
			vs.SetLastSequence(3)
			var fileNums []FileNum
			for i := 1; i <= 3; i++ {
				n := vs.NewFileNumber()
				fileNums = append(fileNums, n)
				meta := fmt.Sprintf("[a#%d,SET-b#%d,SET] size:10", i, i)
				require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 0, n, meta)))
			}
			m := vs.Metrics()
			mu.Unlock()

			// Every rollover deletes the previous manifest.
			require.Len(t, listManifests(t, opts.FS), 1)
			if maxSize == 1 {
				require.Equal(t, int64(3), m.Manifest.Rollovers)
			} else {
				require.Equal(t, int64(1), m.Manifest.Rollovers)
			}
			require.Equal(t, int64(3), m.LogAndApply.Count)
			require.NoError(t, vs.Close())

			vs, _ = openTestVersionSet(t, opts, nil)
			defer vs.Close()
			require.Equal(t, fileNums, levelFileNums(vs.ColumnFamilySet().Default(), 0))
		})
	}
}

func TestVersionSetConcurrentLogAndApply(t *testing.T) {
	const n = 16
	opts := memTestOptions()
	vs, mu := openTestVersionSet(t, opts, nil)
	cfd := vs.ColumnFamilySet().Default()
	mu.Lock()
	vs.SetLastSequence(n)
	mu.Unlock()

	edits := make([]*VersionEdit, n)
	for i := range edits {
		meta := fmt.Sprintf("[k%02d#%d,SET-k%02d#%d,SET] size:1", i, i+1, i, i+1)
		edits[i] = fileEdit(t, 0, vs.NewFileNumber(), meta)
	}
	var g errgroup.Group
	for i := range edits {
		ve := edits[i]
		g.Go(func() error {
			mu.Lock()
			defer mu.Unlock()
			return vs.LogAndApply(cfd, ve)
		})
	}
	require.NoError(t, g.Wait())

	mu.Lock()
	require.Equal(t, n, cfd.Current().Storage.NumLevelFiles(0))
	m := vs.Metrics()
	mu.Unlock()
	require.Equal(t, int64(n)-m.LogAndApply.BatchedEdits, m.LogAndApply.Count)
	require.NoError(t, vs.Close())

	vs, _ = openTestVersionSet(t, opts, nil)
	defer vs.Close()
	require.Equal(t, n, vs.ColumnFamilySet().Default().Current().Storage.NumLevelFiles(0))
}

func TestVersionSetManifestErrors(t *testing.T) {
	mem := vfs.NewMem()
	efs := vfs.Wrap(mem, nil)
	opts := testDBOptions()
	opts.FS = efs
	vs, mu := openTestVersionSet(t, opts, nil)
	cfd := vs.ColumnFamilySet().Default()
	mu.Lock()
	defer mu.Unlock()
	vs.SetLastSequence(10)

	// The new manifest cannot be written: CURRENT keeps pointing at the
	// recovered one.
	efs.SetInjector(vfs.OnOp("MANIFEST-*", vfs.OnIndex(0), vfs.OpWrite))
	failed := vs.NewFileNumber()
	err := vs.LogAndApply(cfd, fileEdit(t, 0, failed, "[a#1,SET-b#1,SET] size:10"))
	require.True(t, errors.Is(err, vfs.ErrInjected), "%v", err)
	require.Empty(t, levelFileNums(cfd, 0))
	require.Equal(t, []string{"MANIFEST-000001"}, listManifests(t, mem))
	manifestNum, _, err := readCurrentFile(testDirname, mem)
	require.NoError(t, err)
	require.Equal(t, FileNum(1), manifestNum)

	efs.SetInjector(nil)
	first := vs.NewFileNumber()
	require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 0, first, "[a#2,SET-b#2,SET] size:10")))
	current := vs.ManifestFileNumber()

	// The sync fails but the record made it to the manifest: the edit is
	// applied.
	efs.SetInjector(vfs.OnOp("MANIFEST-*", vfs.OnIndex(0), vfs.OpSync))
	durable := vs.NewFileNumber()
	require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 0, durable, "[a#3,SET-b#3,SET] size:10")))
	require.Equal(t, []FileNum{first, durable}, levelFileNums(cfd, 0))
	require.Equal(t, current, vs.ManifestFileNumber())

	// The append fails: the edit is not applied and the next edit starts a
	// new manifest.
	efs.SetInjector(vfs.OnOp("MANIFEST-*", vfs.OnIndex(0), vfs.OpWrite))
	err = vs.LogAndApply(cfd, fileEdit(t, 0, vs.NewFileNumber(), "[a#4,SET-b#4,SET] size:10"))
	require.True(t, errors.Is(err, vfs.ErrInjected), "%v", err)
	require.Equal(t, []FileNum{first, durable}, levelFileNums(cfd, 0))

	efs.SetInjector(nil)
	last := vs.NewFileNumber()
	require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 0, last, "[a#5,SET-b#5,SET] size:10")))
	require.NotEqual(t, current, vs.ManifestFileNumber())
	require.Equal(t, []string{fmt.Sprintf("MANIFEST-%s", vs.ManifestFileNumber())}, listManifests(t, mem))

	mu.Unlock()
	require.NoError(t, vs.Close())
	vs, _ = openTestVersionSet(t, opts, nil)
	defer vs.Close()
	mu.Lock()
	require.Equal(t, []FileNum{first, durable, last}, levelFileNums(vs.ColumnFamilySet().Default(), 0))
}

func TestVersionSetColumnFamilies(t *testing.T) {
	opts := memTestOptions()
	vs, mu := openTestVersionSet(t, opts, nil)
	cfs := vs.ColumnFamilySet()

	mu.Lock()
	one, err := vs.CreateColumnFamily("one", DefaultColumnFamilyOptions())
	require.NoError(t, err)
	require.Equal(t, uint32(1), one.ID())
	require.NotNil(t, one.SuperVersion())
	_, err = vs.CreateColumnFamily("one", DefaultColumnFamilyOptions())
	require.True(t, errors.Is(err, ErrInvalidArgument))

	vs.SetLastSequence(1)
	require.NoError(t, vs.LogAndApply(one, fileEdit(t, 1, vs.NewFileNumber(), "[a#1,SET-b#1,SET] size:10")))
	two, err := vs.CreateColumnFamily("two", DefaultColumnFamilyOptions())
	require.NoError(t, err)
	require.Equal(t, uint32(2), two.ID())
	require.Same(t, two, cfs.Get("two"))
	require.Same(t, two, cfs.GetColumnFamily(2))

	require.True(t, errors.Is(vs.DropColumnFamily(cfs.Default()), ErrInvalidArgument))
	// A reference keeps the dropped column family around.
	one.Ref()
	require.NoError(t, vs.DropColumnFamily(one))
	require.True(t, one.IsDropped())
	require.Nil(t, cfs.Get("one"))
	require.Nil(t, cfs.GetColumnFamily(1))
	require.Equal(t, 2, cfs.NumberOfColumnFamilies())
	err = vs.LogAndApply(one, fileEdit(t, 1, vs.NewFileNumber(), "[c#1,SET-d#1,SET] size:10"))
	require.True(t, errors.Is(err, ErrColumnFamilyDropped))
	require.True(t, one.Unref())
	cfs.FreeDeadColumnFamilies()
	var ids []uint32
	cfs.Range(func(cfd *ColumnFamilyData) bool {
		ids = append(ids, cfd.ID())
		return true
	})
	require.Equal(t, []uint32{0, 2}, ids)
	mu.Unlock()
	require.NoError(t, vs.Close())

	names, err := ListColumnFamilies(opts.FS, testDirname)
	require.NoError(t, err)
	require.Equal(t, []string{DefaultColumnFamilyName, "two"}, names)

	descriptors := func(names ...string) []ColumnFamilyDescriptor {
		var res []ColumnFamilyDescriptor
		for _, name := range names {
			res = append(res, ColumnFamilyDescriptor{Name: name, Options: DefaultColumnFamilyOptions()})
		}
		return res
	}

	t.Run("missing-descriptor", func(t *testing.T) {
		mu := &sync.Mutex{}
		vs := NewVersionSet(testDirname, opts, nil, nil, nil, mu)
		defer vs.Close()
		mu.Lock()
		defer mu.Unlock()
		err := vs.Recover(descriptors(DefaultColumnFamilyName), false)
		require.True(t, errors.Is(err, ErrInvalidArgument))
		require.Contains(t, err.Error(), "Column families not opened: two")
	})

	t.Run("read-only", func(t *testing.T) {
		mu := &sync.Mutex{}
		vs := NewVersionSet(testDirname, opts, nil, nil, nil, mu)
		defer vs.Close()
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, vs.Recover(descriptors(DefaultColumnFamilyName), true))
		require.Nil(t, vs.ColumnFamilySet().Get("two"))
	})

	t.Run("no-default", func(t *testing.T) {
		mu := &sync.Mutex{}
		vs := NewVersionSet(testDirname, opts, nil, nil, nil, mu)
		defer vs.Close()
		mu.Lock()
		defer mu.Unlock()
		err := vs.Recover(descriptors("two"), false)
		require.True(t, errors.Is(err, ErrInvalidArgument))
		require.Contains(t, err.Error(), "Default column family not specified")
	})

	vs, mu = openTestVersionSet(t, opts, nil, descriptors(DefaultColumnFamilyName, "two")...)
	defer vs.Close()
	mu.Lock()
	defer mu.Unlock()
	cfs = vs.ColumnFamilySet()
	require.Equal(t, 2, cfs.NumberOfColumnFamilies())
	require.Equal(t, uint32(2), cfs.Get("two").ID())
	require.Equal(t, uint32(2), cfs.MaxColumnFamily())
	// The id of the dropped column family is not reused.
	three, err := vs.CreateColumnFamily("three", DefaultColumnFamilyOptions())
	require.NoError(t, err)
	require.Equal(t, uint32(3), three.ID())
}

// writeTestManifest writes a manifest holding the edits and points CURRENT
// at it.
func writeTestManifest(t *testing.T, fs vfs.FS, edits ...*VersionEdit) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(testDirname, 0755))
	f, err := fs.Create(fs.PathJoin(testDirname, "MANIFEST-000001"))
	require.NoError(t, err)
	w := record.NewWriter(f)
	for _, ve := range edits {
		rec, err := ve.EncodeToBytes()
		require.NoError(t, err)
		_, err = w.WriteRecord(rec)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	require.NoError(t, setCurrentFile(testDirname, fs, 1))
}

func TestVersionSetRecoverErrors(t *testing.T) {
	recoverWith := func(t *testing.T, opts *Options, cfOpts *ColumnFamilyOptions) error {
		mu := &sync.Mutex{}
		vs := NewVersionSet(testDirname, opts, nil, nil, nil, mu)
		defer vs.Close()
		mu.Lock()
		defer mu.Unlock()
		return vs.Recover([]ColumnFamilyDescriptor{{Name: DefaultColumnFamilyName, Options: cfOpts}}, false)
	}
	complete := func() *VersionEdit {
		ve := &VersionEdit{}
		ve.SetComparerName(DefaultComparer.Name)
		ve.SetLogNum(0)
		ve.SetNextFileNum(2)
		ve.SetLastSeqNum(0)
		return ve
	}

	t.Run("no-current", func(t *testing.T) {
		opts := memTestOptions()
		require.Error(t, recoverWith(t, opts, DefaultColumnFamilyOptions()))
	})

	t.Run("current-without-newline", func(t *testing.T) {
		opts := memTestOptions()
		require.NoError(t, opts.FS.MkdirAll(testDirname, 0755))
		f, err := opts.FS.Create(opts.FS.PathJoin(testDirname, "CURRENT"))
		require.NoError(t, err)
		_, err = f.Write([]byte("MANIFEST-000001"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		err = recoverWith(t, opts, DefaultColumnFamilyOptions())
		require.True(t, IsCorruptionError(err), "%v", err)
		require.Contains(t, err.Error(), "does not end with newline")
	})

	for _, tc := range []struct {
		name  string
		clear func(ve *VersionEdit)
		want  string
	}{
		{"next-file", func(ve *VersionEdit) { ve.HasNextFileNum = false }, "no meta-nextfile entry"},
		{"log-number", func(ve *VersionEdit) { ve.HasLogNum = false }, "no meta-lognumber entry"},
		{"last-sequence", func(ve *VersionEdit) { ve.HasLastSeqNum = false }, "no last-sequence-number entry"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := memTestOptions()
			ve := complete()
			tc.clear(ve)
			writeTestManifest(t, opts.FS, ve)
			err := recoverWith(t, opts, DefaultColumnFamilyOptions())
			require.True(t, IsCorruptionError(err), "%v", err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("unknown-column-family", func(t *testing.T) {
		opts := memTestOptions()
		unknown := &VersionEdit{ColumnFamily: 5}
		unknown.SetLogNum(1)
		writeTestManifest(t, opts.FS, complete(), unknown)
		err := recoverWith(t, opts, DefaultColumnFamilyOptions())
		require.True(t, IsCorruptionError(err), "%v", err)
		require.Contains(t, err.Error(), "unknown column family")
	})

	t.Run("comparer-mismatch", func(t *testing.T) {
		opts := memTestOptions()
		writeTestManifest(t, opts.FS, complete())
		other := *DefaultComparer
		other.Name = "test.other-comparer"
		cfOpts := DefaultColumnFamilyOptions()
		cfOpts.Comparer = &other
		err := recoverWith(t, opts, cfOpts)
		require.True(t, errors.Is(err, ErrInvalidArgument), "%v", err)
		require.Contains(t, err.Error(), "does not match existing comparator")
	})

	t.Run("too-many-levels", func(t *testing.T) {
		opts := memTestOptions()
		writeTestManifest(t, opts.FS, complete(), fileEdit(t, 6, 5, "[a#1,SET-b#1,SET] size:10"))
		cfOpts := DefaultColumnFamilyOptions()
		cfOpts.NumLevels = 3
		err := recoverWith(t, opts, cfOpts)
		require.True(t, errors.Is(err, ErrInvalidArgument), "%v", err)
		require.Contains(t, err.Error(), "more levels")
	})
}

func createTableFile(t *testing.T, fs vfs.FS, fileNum FileNum) {
	t.Helper()
	f, err := fs.Create(fs.PathJoin(testDirname, fmt.Sprintf("%s.sst", fileNum)))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestVersionSetObsoleteFiles(t *testing.T) {
	opts := memTestOptions()
	tc := newFakeTableCache()
	vs, mu := openTestVersionSet(t, opts, tc)
	defer vs.Close()
	cfd := vs.ColumnFamilySet().Default()
	install := func() {
		if old := cfd.InstallSuperVersion(); old != nil {
			old.deleteMemTables()
		}
	}

	mu.Lock()
	vs.SetLastSequence(5)
	f1 := vs.NewFileNumber()
	m1 := tc.addTable(t, f1, "a#1,SET:x b#2,SET:y")
	createTableFile(t, opts.FS, f1)
	ve := &VersionEdit{}
	ve.AddFile(0, m1)
	require.NoError(t, vs.LogAndApply(cfd, ve))
	install()

	f2 := vs.NewFileNumber()
	m2 := tc.addTable(t, f2, "a#3,SET:z")
	createTableFile(t, opts.FS, f2)
	ve = &VersionEdit{}
	ve.DeleteFile(0, f1)
	ve.AddFile(1, m2)
	require.NoError(t, vs.LogAndApply(cfd, ve))
	// The previous version is referenced by the installed SuperVersion until
	// a new one replaces it.
	require.Zero(t, vs.Metrics().Cleaner.QueuedTables)
	install()
	require.Equal(t, 1, vs.Metrics().Cleaner.QueuedTables)
	require.Equal(t, []FileNum{f2}, vs.AddLiveFiles(nil))

	// Tables at or above the smallest pending output stay queued.
	vs.PurgeObsoleteFiles(f1)
	require.Equal(t, 1, vs.Metrics().Cleaner.QueuedTables)
	vs.PurgeObsoleteFiles(f2 + 1)
	require.Zero(t, vs.Metrics().Cleaner.QueuedTables)
	mu.Unlock()
	vs.WaitForCleanup()

	_, err := opts.FS.Stat(opts.FS.PathJoin(testDirname, fmt.Sprintf("%s.sst", f1)))
	require.True(t, vfs.IsNotExist(err), "%v", err)
	_, err = opts.FS.Stat(opts.FS.PathJoin(testDirname, fmt.Sprintf("%s.sst", f2)))
	require.NoError(t, err)
	tc.mu.Lock()
	require.Equal(t, []FileNum{f1}, tc.evicted)
	tc.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	m := vs.Metrics()
	require.Equal(t, int64(1), m.Cleaner.DeletedTables)
	require.Equal(t, m1.Size, m.Cleaner.DeletedTableBytes)

	live := vs.GetLiveFilesMetadata()
	require.Len(t, live, 1)
	require.Equal(t, LiveFileMetadata{
		ColumnFamilyName: DefaultColumnFamilyName,
		Level:            1,
		FileNum:          f2,
		Dir:              testDirname,
		Size:             m2.Size,
		SmallestSeqNum:   3,
		LargestSeqNum:    3,
		SmallestKey:      []byte("a"),
		LargestKey:       []byte("a"),
	}, live[0])
}

func TestVersionSetMakeInputIterator(t *testing.T) {
	opts := memTestOptions()
	tc := newFakeTableCache()
	vs, mu := openTestVersionSet(t, opts, tc)
	defer vs.Close()
	cfd := vs.ColumnFamilySet().Default()
	mu.Lock()
	defer mu.Unlock()
	vs.SetLastSequence(6)

	ve := &VersionEdit{}
	newer := tc.addTable(t, vs.NewFileNumber(), "a#5,SET:a5 c#6,SET:c6")
	older := tc.addTable(t, vs.NewFileNumber(), "a#3,SET:a3 b#4,SET:b4")
	l1 := tc.addTable(t, vs.NewFileNumber(), "a#1,SET:a1 d#2,SET:d2")
	ve.AddFile(0, newer)
	ve.AddFile(0, older)
	ve.AddFile(1, l1)
	require.NoError(t, vs.LogAndApply(cfd, ve))
	if old := cfd.InstallSuperVersion(); old != nil {
		old.deleteMemTables()
	}

	c, err := cfd.CompactFiles(fileNumSet(newer.FileNum, older.FileNum), 1, 0)
	require.NoError(t, err)
	require.Equal(t, "L0 -> L1 [2@0 + 1@1] manual", c.String())
	require.True(t, vs.VerifyCompactionFileConsistency(c))

	iter := vs.MakeInputIterator(c)
	require.Equal(t,
		"a#5,SET:a5 a#3,SET:a3 a#1,SET:a1 b#4,SET:b4 c#6,SET:c6 d#2,SET:d2",
		formatForward(iter))
	require.NoError(t, iter.Close())

	// The inputs are gone from the current version once the compaction is
	// applied.
	out := tc.addTable(t, vs.NewFileNumber(), "a#5,SET:a5 d#2,SET:d2")
	ve = &VersionEdit{}
	c.AddInputDeletions(ve)
	ve.AddFile(1, out)
	require.NoError(t, vs.LogAndApply(cfd, ve))
	require.False(t, vs.VerifyCompactionFileConsistency(c))
	c.ReleaseCompactionFiles(nil)
	require.Equal(t, []FileNum{out.FileNum}, levelFileNums(cfd, 1))
	require.Empty(t, levelFileNums(cfd, 0))
}
