// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import "sync/atomic"

// WriteBufferManager tracks the memory held by the memtables of every column
// family against a database-wide budget. Once the budget is used up every
// non-empty memtable should be switched and flushed.
//
// A WriteBufferManager is safe for concurrent use.
type WriteBufferManager struct {
	bufferSize uint64
	memoryUsed atomic.Uint64
}

// NewWriteBufferManager returns a manager with the given budget. A zero
// budget tracks usage without ever requesting flushes.
func NewWriteBufferManager(bufferSize uint64) *WriteBufferManager {
	return &WriteBufferManager{bufferSize: bufferSize}
}

// Enabled returns true if the manager has a budget.
func (w *WriteBufferManager) Enabled() bool {
	return w != nil && w.bufferSize > 0
}

// BufferSize returns the budget.
func (w *WriteBufferManager) BufferSize() uint64 {
	if w == nil {
		return 0
	}
	return w.bufferSize
}

// MemoryUsage returns the memory held by the memtables.
func (w *WriteBufferManager) MemoryUsage() uint64 {
	if w == nil {
		return 0
	}
	return w.memoryUsed.Load()
}

// ShouldFlush returns true if the memtables hold at least the budget.
func (w *WriteBufferManager) ShouldFlush() bool {
	return w.Enabled() && w.MemoryUsage() >= w.bufferSize
}

// ReserveMem charges n bytes to the budget.
func (w *WriteBufferManager) ReserveMem(n uint64) {
	if w != nil {
		w.memoryUsed.Add(n)
	}
}

// FreeMem returns n previously reserved bytes to the budget.
func (w *WriteBufferManager) FreeMem(n uint64) {
	if w == nil {
		return
	}
	for {
		used := w.memoryUsed.Load()
		if n > used {
			panic("lsmcore: write buffer manager freed more memory than reserved")
		}
		if w.memoryUsed.CompareAndSwap(used, used-n) {
			return
		}
	}
}
