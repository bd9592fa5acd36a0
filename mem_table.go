// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/lsmcore/lsmcore/internal/arenaskl"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

func memTableEntrySize(keyBytes, valueBytes int) uint64 {
	return arenaskl.MaxNodeSize(uint32(keyBytes)+base.InternalTrailerLen, uint32(valueBytes))
}

// The flush states of a memtable. A memtable that has grown past its write
// buffer size requests a flush once; the request is claimed by the code that
// schedules the flush.
const (
	flushNotRequested int32 = iota
	flushRequested
	flushScheduled
)

// The share of an arena block a memtable may over-allocate its write buffer
// size by.
const allowOverAllocationRatio = 0.6

// A memTable implements an in-memory layer of the LSM. A memTable is mutable,
// but append-only. Records are added, but never removed. Deletion is supported
// via tombstones.
//
// A memTable is implemented on top of a lock-free arena-backed skiplist. The
// arena is sized for the write buffer plus some slack; the memtable asks to
// be flushed when the blocks it would have allocated from a block arena
// exceed the write buffer size.
//
// A memTable has a single writer: add must be externally synchronized. It is
// safe to call get and newIter concurrently with add.
type memTable struct {
	cmp    *Comparer
	merger *Merger
	skl    arenaskl.Skiplist
	ins    arenaskl.Inserter
	wbm    *WriteBufferManager
	logger Logger

	writeBufferSize uint64
	arenaBlockSize  uint64
	emptySize       uint32
	// charged is the memory reserved from wbm.
	charged uint64

	refs       atomic.Int32
	numEntries atomic.Uint64
	numDeletes atomic.Uint64
	dataSize   atomic.Uint64
	flushState atomic.Int32
	immutable  atomic.Bool

	// firstSeqNum is the sequence number of the first entry added,
	// zero while the memtable is empty. earliestSeqNum is a lower bound for
	// the sequence numbers of every entry, set on creation; entries with
	// sequence numbers in [earliestSeqNum, firstSeqNum) were written to an
	// older memtable.
	firstSeqNum    atomic.Uint64
	earliestSeqNum atomic.Uint64

	// The following fields are protected by the DB mutex and belong to the
	// immutable memtable list.
	flushInProgress bool
	flushCompleted  bool
	// fileNum is the number of the table the memtable was flushed to.
	fileNum base.FileNum
	// edit is the version edit installing the flushed table.
	edit manifest.VersionEdit
}

// newMemTable returns a new memtable with a single reference, sized for the
// options. earliestSeqNum is the smallest sequence number the memtable may
// hold; SeqNumMax takes the sequence number of the first entry.
func newMemTable(
	opts *mutableCFOptions, wbm *WriteBufferManager, logger Logger, earliestSeqNum SeqNum,
) *memTable {
	m := &memTable{
		cmp:             opts.Comparer,
		merger:          opts.Merger,
		wbm:             wbm,
		logger:          logger,
		writeBufferSize: opts.WriteBufferSize,
		arenaBlockSize:  max(opts.ArenaBlockSize, 1),
	}
	m.refs.Store(1)
	m.earliestSeqNum.Store(uint64(earliestSeqNum))
	capacity := min(m.writeBufferSize+2*m.arenaBlockSize, math.MaxUint32)
	arena := arenaskl.NewArena(make([]byte, capacity))
	m.skl.Reset(arena, m.cmp.Compare)
	m.emptySize = arena.Size()
	m.charge()
	return m
}

func (m *memTable) ref() {
	m.refs.Add(1)
}

// unref drops a reference and returns true if it was the last one, in which
// case the memory of the memtable has been returned to the write buffer
// manager.
func (m *memTable) unref() bool {
	switch v := m.refs.Add(-1); {
	case v < 0:
		panic("lsmcore: inconsistent memtable reference count")
	case v == 0:
		m.wbm.FreeMem(m.charged)
		m.charged = 0
		return true
	default:
		return false
	}
}

// charge reserves the arena growth since the last charge from the write
// buffer manager.
func (m *memTable) charge() {
	if size := uint64(m.skl.Size()); size > m.charged {
		m.wbm.ReserveMem(size - m.charged)
		m.charged = size
	}
}

// add inserts a single entry. It returns arenaskl.ErrArenaFull if the
// memtable has no room for it, and arenaskl.ErrRecordExists if the internal
// key is already present.
func (m *memTable) add(seqNum SeqNum, kind InternalKeyKind, key, value []byte) error {
	if invariants.Enabled && m.immutable.Load() {
		panic("lsmcore: add to an immutable memtable")
	}
	ikey := base.MakeInternalKey(key, seqNum, kind)
	if err := m.ins.Add(&m.skl, ikey, value); err != nil {
		return err
	}
	m.numEntries.Add(1)
	m.dataSize.Add(uint64(ikey.Size() + len(value)))
	if kind == base.InternalKeyKindDelete || kind == base.InternalKeyKindSingleDelete {
		m.numDeletes.Add(1)
	}

	if first := SeqNum(m.firstSeqNum.Load()); first == 0 {
		m.firstSeqNum.Store(uint64(seqNum))
		if SeqNum(m.earliestSeqNum.Load()) == base.SeqNumMax {
			m.earliestSeqNum.Store(uint64(seqNum))
		}
	} else if invariants.Enabled && seqNum < first {
		panic(fmt.Sprintf("lsmcore: memtable sequence number %s added after %s", seqNum, first))
	}
	m.charge()

	if m.flushState.Load() == flushNotRequested && m.shouldFlushNow() {
		m.flushState.CompareAndSwap(flushNotRequested, flushRequested)
	}
	return nil
}

// shouldFlushNow returns true once the memtable is considered full. Memory
// is accounted in whole arena blocks: the memtable is full when allocating
// one more block would over-allocate the write buffer size by more than
// allowOverAllocationRatio of a block, or when the last block is more than
// three quarters used.
func (m *memTable) shouldFlushNow() bool {
	block := m.arenaBlockSize
	size := uint64(m.skl.Size())
	allocated := (size + block - 1) / block * block
	slack := uint64(float64(block) * allowOverAllocationRatio)

	if allocated+block < m.writeBufferSize+slack {
		return false
	}
	if allocated > m.writeBufferSize+slack {
		return true
	}
	return allocated-size < block/4
}

// shouldScheduleFlush returns true if the memtable requested a flush that has
// not been scheduled yet.
func (m *memTable) shouldScheduleFlush() bool {
	return m.flushState.Load() == flushRequested
}

// markFlushScheduled claims the flush request. It returns false if the
// flush was not requested or was already claimed.
func (m *memTable) markFlushScheduled() bool {
	return m.flushState.CompareAndSwap(flushRequested, flushScheduled)
}

// markImmutable is called when the memtable stops accepting writes.
func (m *memTable) markImmutable() {
	m.immutable.Store(true)
}

// get feeds the entries for key visible at seqNum to g, newest first. It
// returns true if g needs no older entries.
func (m *memTable) get(key []byte, seqNum SeqNum, g *GetContext) bool {
	it := m.skl.NewIter()
	for kv := it.SeekGE(base.MakeLookupKey(key, seqNum)); kv != nil; kv = it.Next() {
		if !g.SaveValue(kv) {
			break
		}
	}
	return g.Done()
}

// newIter returns an unpositioned iterator over the memtable.
func (m *memTable) newIter() internalIterator {
	return &memTableIter{Iterator: m.skl.NewIter()}
}

// newFlushIter returns an iterator over every entry of the memtable, for
// writing it out to a table.
func (m *memTable) newFlushIter() internalIterator {
	return m.newIter()
}

// empty returns whether the memtable has no key/value pairs.
func (m *memTable) empty() bool {
	return m.skl.Size() == m.emptySize
}

// approximateMemoryUsage returns the bytes allocated from the arena.
func (m *memTable) approximateMemoryUsage() uint64 {
	return uint64(m.skl.Size())
}

func (m *memTable) String() string {
	return fmt.Sprintf("memtable(first=%s entries=%d deletes=%d size=%d)",
		SeqNum(m.firstSeqNum.Load()), m.numEntries.Load(), m.numDeletes.Load(),
		m.approximateMemoryUsage())
}

// memTableIter adapts the skiplist iterator, positioned by internal keys, to
// an internalIterator positioned by user keys.
type memTableIter struct {
	*arenaskl.Iterator
}

var _ internalIterator = (*memTableIter)(nil)

func (i *memTableIter) SeekGE(key []byte) *base.InternalKV {
	return i.Iterator.SeekGE(base.MakeSearchKey(key))
}

func (i *memTableIter) SeekLT(key []byte) *base.InternalKV {
	return i.Iterator.SeekLT(base.MakeSearchKey(key))
}
