// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/stretchr/testify/require"
)

// recordingInstaller records the log numbers of the edits it is asked to
// install.
type recordingInstaller struct {
	logNums []FileNum
	err     error
}

func (r *recordingInstaller) LogAndApply(_ *ColumnFamilyData, edit *manifest.VersionEdit) error {
	if r.err != nil {
		return r.err
	}
	r.logNums = append(r.logNums, edit.LogNum)
	return nil
}

// addImmutable adds n new memtables to the list, oldest first, dropping the
// creator's reference the way a memtable switch does.
func addImmutable(t *testing.T, l *memTableList, n int) []*memTable {
	var mems []*memTable
	var toDelete []*memTable
	for i := 0; i < n; i++ {
		m := newTestMemTable(t, "")
		l.add(m, &toDelete)
		require.False(t, m.unref())
		mems = append(mems, m)
	}
	require.Empty(t, toDelete)
	return mems
}

// completeFlush marks the edit of the first memtable, as a flush job does.
func completeFlush(mems []*memTable, fileNum FileNum) {
	mems[0].edit = manifest.VersionEdit{}
	mems[0].edit.SetLogNum(fileNum)
}

func TestMemTableListInstallOrder(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 1, 0)
	require.False(t, l.isFlushPending())
	mems := addImmutable(t, l, 3)
	require.Equal(t, 3, l.numNotFlushed())
	require.True(t, l.isFlushPending())
	require.True(t, l.immFlushNeeded.Load())

	picked := l.pickMemtablesToFlush()
	require.Equal(t, mems, picked)
	require.False(t, l.isFlushPending())
	require.False(t, l.immFlushNeeded.Load())

	var inst recordingInstaller
	var toDelete []*memTable

	// A flush whose memtable is not the oldest waits.
	completeFlush(mems[1:2], 11)
	require.NoError(t, l.installMemtableFlushResults(nil, mems[1:2], &inst, 11, &toDelete))
	require.Empty(t, inst.logNums)
	require.Equal(t, 3, l.numNotFlushed())

	// Completing the oldest installs both in order.
	completeFlush(mems[0:1], 10)
	require.NoError(t, l.installMemtableFlushResults(nil, mems[0:1], &inst, 10, &toDelete))
	require.Equal(t, []FileNum{10, 11}, inst.logNums)
	require.Equal(t, 1, l.numNotFlushed())
	require.Equal(t, []*memTable{mems[0], mems[1]}, toDelete)

	completeFlush(mems[2:], 12)
	require.NoError(t, l.installMemtableFlushResults(nil, mems[2:], &inst, 12, &toDelete))
	require.Equal(t, []FileNum{10, 11, 12}, inst.logNums)
	require.Zero(t, l.numNotFlushed())
	require.Len(t, toDelete, 3)
}

func TestMemTableListMinToMerge(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 3, 0)
	var mems []*memTable
	for i := 1; i <= 3; i++ {
		mems = append(mems, addImmutable(t, l, 1)...)
		require.Equal(t, i == 3, l.isFlushPending(), "%d memtables", i)
	}
	require.Equal(t, mems, l.pickMemtablesToFlush())
	require.False(t, l.isFlushPending())
}

func TestMemTableListInstallWaitsForOldest(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 1, 0)
	mems := addImmutable(t, l, 3)
	require.Equal(t, mems, l.pickMemtablesToFlush())

	var inst recordingInstaller
	var toDelete []*memTable
	// The two newer flushes complete first and wait.
	for i, fileNum := range []FileNum{11, 12} {
		batch := mems[i+1 : i+2]
		completeFlush(batch, fileNum)
		require.NoError(t, l.installMemtableFlushResults(nil, batch, &inst, fileNum, &toDelete))
	}
	require.Empty(t, inst.logNums)
	require.Equal(t, 3, l.numNotFlushed())

	// The oldest one installs all three in one call.
	completeFlush(mems[0:1], 10)
	require.NoError(t, l.installMemtableFlushResults(nil, mems[0:1], &inst, 10, &toDelete))
	require.Equal(t, []FileNum{10, 11, 12}, inst.logNums)
	require.Zero(t, l.numNotFlushed())
	require.Equal(t, mems, toDelete)

	// Installing a flush again is a no-op.
	require.NoError(t, l.installMemtableFlushResults(nil, mems[1:2], &inst, 11, &toDelete))
	require.Equal(t, []FileNum{10, 11, 12}, inst.logNums)
	require.Equal(t, mems, toDelete)
}

func TestMemTableListBatchedInstall(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 2, 0)
	mems := addImmutable(t, l, 1)
	require.False(t, l.isFlushPending())
	l.requestFlush()
	require.True(t, l.isFlushPending())

	mems = append(mems, addImmutable(t, l, 1)...)
	picked := l.pickMemtablesToFlush()
	require.Len(t, picked, 2)

	// Both memtables were flushed to a single table: one edit, that of the
	// oldest memtable, installs them.
	var inst recordingInstaller
	var toDelete []*memTable
	completeFlush(picked, 20)
	require.NoError(t, l.installMemtableFlushResults(nil, picked, &inst, 20, &toDelete))
	require.Equal(t, []FileNum{20}, inst.logNums)
	require.Equal(t, mems, toDelete)
}

func TestMemTableListInstallFailure(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 1, 0)
	mems := addImmutable(t, l, 2)
	picked := l.pickMemtablesToFlush()
	require.False(t, l.isFlushPending())

	inst := recordingInstaller{err: errors.New("injected")}
	var toDelete []*memTable
	completeFlush(picked[:1], 30)
	err := l.installMemtableFlushResults(nil, picked[:1], &inst, 30, &toDelete)
	require.Error(t, err)
	require.Empty(t, toDelete)

	// The failed memtable can be picked again; the other one is still being
	// flushed.
	require.False(t, mems[0].flushInProgress)
	require.False(t, mems[0].flushCompleted)
	require.True(t, mems[1].flushInProgress)
	require.True(t, l.isFlushPending())
	require.Equal(t, []*memTable{mems[0]}, l.pickMemtablesToFlush())

	l.rollbackMemtableFlush(mems)
	require.Equal(t, 2, l.numNotStarted)
	require.Panics(t, func() { l.rollbackMemtableFlush(mems[:1]) })
}

func TestMemTableListHistory(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 1, 2)
	var toDelete []*memTable
	var mems []*memTable
	for _, entries := range []string{"a#5,SET:1", "a#6,SET:2"} {
		m := newTestMemTable(t, entries)
		l.add(m, &toDelete)
		m.unref()
		mems = append(mems, m)
	}
	picked := l.pickMemtablesToFlush()

	var inst recordingInstaller
	completeFlush(picked, 40)
	require.NoError(t, l.installMemtableFlushResults(nil, picked, &inst, 40, &toDelete))
	require.Zero(t, l.numNotFlushed())
	require.Equal(t, 2, l.numFlushed())
	require.Empty(t, toDelete)

	// Flushed memtables still answer reads for conflict checking.
	g := MakeGetContext(DefaultComparer, nil, []byte("a"))
	require.False(t, l.currentVersion().get([]byte("a"), 10, &g))
	require.True(t, l.currentVersion().getFromHistory([]byte("a"), 10, &g))
	v, err := g.finish()
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	// A new memtable pushes the oldest flushed one out.
	m := newTestMemTable(t, "")
	l.add(m, &toDelete)
	m.unref()
	require.Equal(t, 1, l.numFlushed())
	require.Equal(t, []*memTable{mems[0]}, toDelete)
	l.trimHistory(&toDelete)
	require.Equal(t, 1, l.numFlushed())
	require.Len(t, toDelete, 1)
}

func TestMemTableListVersionCopyOnWrite(t *testing.T) {
	l := newMemTableList("default", base.NoopLogger{}, 1, 0)
	mems := addImmutable(t, l, 1)

	// A reader keeps the version it referenced.
	v := l.currentVersion()
	v.ref()
	addImmutable(t, l, 1)
	require.NotSame(t, v, l.currentVersion())
	require.Len(t, v.memlist, 1)
	require.Len(t, l.currentVersion().memlist, 2)
	require.Equal(t, SeqNumMax, v.earliestSeqNum())

	picked := l.pickMemtablesToFlush()
	var inst recordingInstaller
	var toDelete []*memTable
	completeFlush(picked, 50)
	require.NoError(t, l.installMemtableFlushResults(nil, picked, &inst, 50, &toDelete))
	// The reader's version still references the first memtable.
	require.Equal(t, []*memTable{picked[1]}, toDelete)

	v.unref(&toDelete)
	require.Equal(t, []*memTable{picked[1], mems[0]}, toDelete)
	require.Panics(t, func() { v.unref(nil) })
}
