// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"

	"github.com/lsmcore/lsmcore/internal/base"
)

type mergingIterLevel struct {
	index int
	iter  internalIterator
	// iterKV caches the current key-value pair of iter, nil if iter is
	// exhausted.
	iterKV *base.InternalKV
}

// mergingIter provides a merged view of multiple iterators: the memtables,
// the level 0 files and the other levels of a version, or the inputs of a
// compaction.
//
// Walking the merged iterator returns all key/value pairs of all input
// iterators in strictly increasing internal key order. Forward iteration
// uses a min heap. The heap is rebuilt as a max heap the first time the
// direction changes to backward, and back again.
type mergingIter struct {
	// dir is 1 when iterating forward, -1 when iterating backward.
	dir    int
	levels []mergingIterLevel
	heap   mergingIterHeap
	err    error
}

// mergingIter implements the internalIterator interface.
var _ internalIterator = (*mergingIter)(nil)

// newMergingIter returns an iterator that merges its input. Walking the
// resultant iterator will return all key/value pairs of all input iterators
// in strictly increasing key order, as defined by cmp.
//
// The input's key ranges may overlap, but there are assumed to be no
// duplicate internal keys: if iters[i] contains a key k then iters[j] will
// not contain that key k.
//
// None of the iters may be nil.
func newMergingIter(cmp base.Compare, iters ...internalIterator) *mergingIter {
	m := &mergingIter{}
	m.levels = make([]mergingIterLevel, len(iters))
	for i := range iters {
		m.levels[i] = mergingIterLevel{index: i, iter: iters[i]}
	}
	m.heap.cmp = cmp
	m.heap.items = make([]*mergingIterLevel, 0, len(iters))
	return m
}

func (m *mergingIter) initHeap() {
	m.heap.clear()
	for i := range m.levels {
		l := &m.levels[i]
		if l.iterKV != nil {
			m.heap.items = append(m.heap.items, l)
		} else if err := l.iter.Error(); err != nil && m.err == nil {
			m.err = err
		}
	}
	m.heap.init()
}

func (m *mergingIter) initMinHeap() {
	m.dir = 1
	m.heap.reverse = false
	m.initHeap()
}

func (m *mergingIter) initMaxHeap() {
	m.dir = -1
	m.heap.reverse = true
	m.initHeap()
}

// switchToMinHeap advances every iterator other than the current one past
// the current key, then rebuilds the heap for forward iteration. Consider
// the scenario where we have 2 iterators being merged (user-key#seq-num):
//
//	i1:     *a#2     b#2
//	i2: a#1      b#1
//
// The current key is a#2 and i2 is pointed at a#1. When we switch to
// forward iteration, we want to return a key that is greater than a#2.
func (m *mergingIter) switchToMinHeap() *base.InternalKV {
	if m.heap.len() == 0 {
		return m.First()
	}
	cur := m.heap.items[0]
	key := cur.iterKV.K
	for i := range m.levels {
		l := &m.levels[i]
		if l == cur {
			continue
		}
		// A level exhausted in the backward direction is positioned before
		// its first key: Next returns it.
		if l.iterKV == nil {
			l.iterKV = l.iter.Next()
		}
		for ; l.iterKV != nil; l.iterKV = l.iter.Next() {
			if base.InternalCompare(m.heap.cmp, key, l.iterKV.K) < 0 {
				// key < iter-key
				break
			}
		}
	}
	// The current level was pointing at key, the next entry is after it.
	cur.iterKV = cur.iter.Next()
	m.initMinHeap()
	return m.top()
}

// switchToMaxHeap is the mirror of switchToMinHeap: every iterator other
// than the current one is moved before the current key.
func (m *mergingIter) switchToMaxHeap() *base.InternalKV {
	if m.heap.len() == 0 {
		return m.Last()
	}
	cur := m.heap.items[0]
	key := cur.iterKV.K
	for i := range m.levels {
		l := &m.levels[i]
		if l == cur {
			continue
		}
		if l.iterKV == nil {
			l.iterKV = l.iter.Prev()
		}
		for ; l.iterKV != nil; l.iterKV = l.iter.Prev() {
			if base.InternalCompare(m.heap.cmp, key, l.iterKV.K) > 0 {
				// key > iter-key
				break
			}
		}
	}
	cur.iterKV = cur.iter.Prev()
	m.initMaxHeap()
	return m.top()
}

func (m *mergingIter) top() *base.InternalKV {
	if m.heap.len() == 0 || m.err != nil {
		return nil
	}
	return m.heap.items[0].iterKV
}

// SeekGE implements internalIterator.SeekGE.
func (m *mergingIter) SeekGE(key []byte) *base.InternalKV {
	m.err = nil
	for i := range m.levels {
		l := &m.levels[i]
		l.iterKV = l.iter.SeekGE(key)
	}
	m.initMinHeap()
	return m.top()
}

// SeekLT implements internalIterator.SeekLT.
func (m *mergingIter) SeekLT(key []byte) *base.InternalKV {
	m.err = nil
	for i := range m.levels {
		l := &m.levels[i]
		l.iterKV = l.iter.SeekLT(key)
	}
	m.initMaxHeap()
	return m.top()
}

// First implements internalIterator.First.
func (m *mergingIter) First() *base.InternalKV {
	m.err = nil
	for i := range m.levels {
		l := &m.levels[i]
		l.iterKV = l.iter.First()
	}
	m.initMinHeap()
	return m.top()
}

// Last implements internalIterator.Last.
func (m *mergingIter) Last() *base.InternalKV {
	m.err = nil
	for i := range m.levels {
		l := &m.levels[i]
		l.iterKV = l.iter.Last()
	}
	m.initMaxHeap()
	return m.top()
}

// Next implements internalIterator.Next.
func (m *mergingIter) Next() *base.InternalKV {
	if m.err != nil {
		return nil
	}
	if m.dir != 1 {
		return m.switchToMinHeap()
	}
	if m.heap.len() == 0 {
		return nil
	}
	m.step(m.heap.items[0].iter.Next)
	return m.top()
}

// Prev implements internalIterator.Prev.
func (m *mergingIter) Prev() *base.InternalKV {
	if m.err != nil {
		return nil
	}
	if m.dir != -1 {
		return m.switchToMaxHeap()
	}
	if m.heap.len() == 0 {
		return nil
	}
	m.step(m.heap.items[0].iter.Prev)
	return m.top()
}

// step moves the level at the top of the heap with move and restores the
// heap property.
func (m *mergingIter) step(move func() *base.InternalKV) {
	l := m.heap.items[0]
	if l.iterKV = move(); l.iterKV != nil {
		m.heap.fixTop()
		return
	}
	if m.err = l.iter.Error(); m.err != nil {
		return
	}
	m.heap.pop()
}

// Error implements internalIterator.Error.
func (m *mergingIter) Error() error {
	if m.heap.len() == 0 || m.err != nil {
		return m.err
	}
	return m.heap.items[0].iter.Error()
}

// Close implements internalIterator.Close.
func (m *mergingIter) Close() error {
	for i := range m.levels {
		if err := m.levels[i].iter.Close(); err != nil && m.err == nil {
			m.err = err
		}
	}
	m.levels = nil
	m.heap.items = nil
	return m.err
}

// String implements fmt.Stringer.
func (m *mergingIter) String() string {
	return "merging"
}

// DebugString returns the keys at the head of every level, in heap order.
func (m *mergingIter) DebugString() string {
	var buf bytes.Buffer
	sep := ""
	for m.heap.len() > 0 {
		l := m.heap.pop()
		fmt.Fprintf(&buf, "%s%s", sep, l.iterKV.K)
		sep = " "
	}
	m.initHeap()
	return buf.String()
}
