// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"slices"
	"sync/atomic"

	"github.com/lsmcore/lsmcore/internal/manifest"
)

// memTableListVersion is an immutable snapshot of the immutable memtables of
// a column family. It holds a reference on each of its memtables. Readers
// reference a version to read its memtables without the DB mutex; the
// memtable list copies the version when it changes while referenced.
type memTableListVersion struct {
	refs int32
	// memlist are the memtables waiting to be flushed, newest first.
	memlist []*memTable
	// history are flushed memtables kept for conflict checking, newest
	// first.
	history       []*memTable
	maxToMaintain int
}

func newMemTableListVersion(maxToMaintain int) *memTableListVersion {
	return &memTableListVersion{maxToMaintain: maxToMaintain}
}

// clone returns a copy of v referencing all of the memtables of v.
func (v *memTableListVersion) clone() *memTableListVersion {
	n := &memTableListVersion{
		memlist:       slices.Clone(v.memlist),
		history:       slices.Clone(v.history),
		maxToMaintain: v.maxToMaintain,
	}
	for _, m := range n.memlist {
		m.ref()
	}
	for _, m := range n.history {
		m.ref()
	}
	return n
}

// ref is called with the DB mutex held.
func (v *memTableListVersion) ref() {
	v.refs++
}

// unref drops a reference. The last one drops the references on the
// memtables, appending those that are no longer referenced to toDelete.
// Requires the DB mutex.
func (v *memTableListVersion) unref(toDelete *[]*memTable) {
	v.refs--
	switch {
	case v.refs < 0:
		panic("lsmcore: inconsistent memtable list version reference count")
	case v.refs > 0:
		return
	}
	for _, m := range v.memlist {
		unrefMemTable(m, toDelete)
	}
	for _, m := range v.history {
		unrefMemTable(m, toDelete)
	}
	v.memlist, v.history = nil, nil
}

func unrefMemTable(m *memTable, toDelete *[]*memTable) {
	if m.unref() && toDelete != nil {
		*toDelete = append(*toDelete, m)
	}
}

// get feeds the entries for key visible at seqNum from the unflushed
// memtables to g, newest first. It returns true if g needs no older entries.
func (v *memTableListVersion) get(key []byte, seqNum SeqNum, g *GetContext) bool {
	return getFromList(v.memlist, key, seqNum, g)
}

// getFromHistory is get over the flushed memtables.
func (v *memTableListVersion) getFromHistory(key []byte, seqNum SeqNum, g *GetContext) bool {
	return getFromList(v.history, key, seqNum, g)
}

func getFromList(list []*memTable, key []byte, seqNum SeqNum, g *GetContext) bool {
	for _, m := range list {
		if m.get(key, seqNum, g) {
			return true
		}
	}
	return false
}

// addIterators appends an iterator over each unflushed memtable.
func (v *memTableListVersion) addIterators(iters []internalIterator) []internalIterator {
	for _, m := range v.memlist {
		iters = append(iters, m.newIter())
	}
	return iters
}

func (v *memTableListVersion) totalNumEntries() uint64 {
	var n uint64
	for _, m := range v.memlist {
		n += m.numEntries.Load()
	}
	return n
}

func (v *memTableListVersion) totalNumDeletes() uint64 {
	var n uint64
	for _, m := range v.memlist {
		n += m.numDeletes.Load()
	}
	return n
}

// earliestSeqNum returns the earliest sequence number any unflushed
// memtable may hold, SeqNumMax if there are none.
func (v *memTableListVersion) earliestSeqNum() SeqNum {
	if len(v.memlist) == 0 {
		return SeqNumMax
	}
	return SeqNum(v.memlist[len(v.memlist)-1].earliestSeqNum.Load())
}

// add makes m the newest unflushed memtable. Requires the DB mutex.
func (v *memTableListVersion) add(m *memTable, toDelete *[]*memTable) {
	m.ref()
	v.memlist = slices.Insert(v.memlist, 0, m)
	v.trimHistory(toDelete)
}

// remove moves a flushed memtable to the history, or drops it if no history
// is kept. Requires the DB mutex.
func (v *memTableListVersion) remove(m *memTable, toDelete *[]*memTable) {
	i := slices.Index(v.memlist, m)
	if i < 0 {
		panic("lsmcore: removing a memtable that is not in the list")
	}
	v.memlist = slices.Delete(v.memlist, i, i+1)
	if v.maxToMaintain > 0 {
		v.history = slices.Insert(v.history, 0, m)
		v.trimHistory(toDelete)
	} else {
		unrefMemTable(m, toDelete)
	}
}

// trimHistory drops the oldest flushed memtables while the version holds
// more than maxToMaintain memtables.
func (v *memTableListVersion) trimHistory(toDelete *[]*memTable) {
	for len(v.history) > 0 && len(v.memlist)+len(v.history) > v.maxToMaintain {
		n := len(v.history) - 1
		m := v.history[n]
		v.history = v.history[:n]
		unrefMemTable(m, toDelete)
	}
}

// flushInstaller persists the version edit of a flush.
type flushInstaller interface {
	LogAndApply(cfd *ColumnFamilyData, edit *manifest.VersionEdit) error
}

// memTableList is the list of immutable memtables of a column family. Flushes
// may complete in any order but are installed in the order the memtables
// were created: a completed flush whose memtable is not the oldest waits for
// the flushes of the older ones.
//
// All of the methods require the DB mutex.
type memTableList struct {
	name   string
	logger Logger

	current    *memTableListVersion
	minToMerge int
	// numNotStarted is the number of memtables not picked for flush yet.
	numNotStarted    int
	commitInProgress bool
	flushRequested   bool
	// immFlushNeeded is set while a memtable waits to be picked for flush.
	// It is read without the mutex.
	immFlushNeeded atomic.Bool
}

func newMemTableList(name string, logger Logger, minToMerge, maxToMaintain int) *memTableList {
	l := &memTableList{
		name:       name,
		logger:     logger,
		current:    newMemTableListVersion(maxToMaintain),
		minToMerge: minToMerge,
	}
	l.current.ref()
	return l
}

// currentVersion returns the current snapshot.
func (l *memTableList) currentVersion() *memTableListVersion {
	return l.current
}

// numNotFlushed returns the number of immutable memtables waiting for flush.
func (l *memTableList) numNotFlushed() int {
	return len(l.current.memlist)
}

// numFlushed returns the number of flushed memtables kept in history.
func (l *memTableList) numFlushed() int {
	return len(l.current.history)
}

// isFlushPending returns true if memtables should be picked for flush.
func (l *memTableList) isFlushPending() bool {
	return (l.flushRequested && l.numNotStarted >= 1) || l.numNotStarted >= l.minToMerge
}

// requestFlush forces the next isFlushPending to return true as long as a
// memtable waits for flush.
func (l *memTableList) requestFlush() {
	l.flushRequested = true
}

// pickMemtablesToFlush claims the memtables that are not being flushed,
// oldest first.
func (l *memTableList) pickMemtablesToFlush() []*memTable {
	var mems []*memTable
	memlist := l.current.memlist
	for i := len(memlist) - 1; i >= 0; i-- {
		m := memlist[i]
		if m.flushInProgress {
			continue
		}
		l.numNotStarted--
		if l.numNotStarted == 0 {
			l.immFlushNeeded.Store(false)
		}
		m.flushInProgress = true
		mems = append(mems, m)
	}
	l.flushRequested = false
	return mems
}

// rollbackMemtableFlush returns memtables whose flush failed to the list,
// to be picked again.
func (l *memTableList) rollbackMemtableFlush(mems []*memTable) {
	for _, m := range mems {
		if !m.flushInProgress {
			panic("lsmcore: rolling back a memtable that is not being flushed")
		}
		l.resetFlush(m)
	}
}

func (l *memTableList) resetFlush(m *memTable) {
	m.flushInProgress = false
	m.flushCompleted = false
	m.edit = manifest.VersionEdit{}
	m.fileNum = 0
	l.numNotStarted++
	l.immFlushNeeded.Store(true)
}

// installMemtableFlushResults records that mems were flushed to the table
// fileNum, whose addition is described by the edit of the first of them, and
// installs every completed flush that no older pending flush precedes.
// Memtables flushed to the same table are installed with a single edit. A
// failed install returns the memtables of that table to the list. Memtables
// that were already installed are ignored. Flushed memtables that are no
// longer referenced are appended to toDelete.
func (l *memTableList) installMemtableFlushResults(
	cfd *ColumnFamilyData,
	mems []*memTable,
	installer flushInstaller,
	fileNum FileNum,
	toDelete *[]*memTable,
) error {
	for _, m := range mems {
		m.flushCompleted = true
		m.fileNum = fileNum
	}
	// Another call is installing: it will install these flushes too once it
	// reaches them.
	if l.commitInProgress {
		return nil
	}
	l.commitInProgress = true
	defer func() { l.commitInProgress = false }()

	for len(l.current.memlist) > 0 {
		memlist := l.current.memlist
		m := memlist[len(memlist)-1]
		if !m.flushCompleted {
			break
		}
		batchFileNum := m.fileNum
		batch := []*memTable{m}
		for i := len(memlist) - 2; i >= 0 && memlist[i].flushCompleted && memlist[i].fileNum == batchFileNum; i-- {
			batch = append(batch, memlist[i])
		}

		l.logger.Infof("[%s] Level-0 commit table #%s started", l.name, batchFileNum)
		err := installer.LogAndApply(cfd, &m.edit)

		l.installNewVersion(toDelete)
		for j, bm := range batch {
			if err == nil {
				l.logger.Infof("[%s] Level-0 commit table #%s: memtable #%d done", l.name, batchFileNum, j+1)
				l.current.remove(bm, toDelete)
			} else {
				l.logger.Errorf("[%s] Level-0 commit table #%s: memtable #%d failed", l.name, batchFileNum, j+1)
				l.resetFlush(bm)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// add makes m the newest immutable memtable.
func (l *memTableList) add(m *memTable, toDelete *[]*memTable) {
	l.installNewVersion(toDelete)
	l.current.add(m, toDelete)
	m.markImmutable()
	l.numNotStarted++
	if l.numNotStarted == 1 {
		l.immFlushNeeded.Store(true)
	}
}

// trimHistory drops flushed memtables beyond the history limit.
func (l *memTableList) trimHistory(toDelete *[]*memTable) {
	l.installNewVersion(toDelete)
	l.current.trimHistory(toDelete)
}

// approximateMemoryUsage returns the memory of the memtables waiting for
// flush.
func (l *memTableList) approximateMemoryUsage() uint64 {
	var n uint64
	for _, m := range l.current.memlist {
		n += m.approximateMemoryUsage()
	}
	return n
}

// installNewVersion makes the current version safe to modify: a version
// referenced by readers is replaced by a copy.
func (l *memTableList) installNewVersion(toDelete *[]*memTable) {
	if l.current.refs == 1 {
		return
	}
	v := l.current.clone()
	l.current.unref(toDelete)
	l.current = v
	l.current.ref()
}
