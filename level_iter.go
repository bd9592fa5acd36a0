// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"sort"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// levelIter provides a merged view of the sorted, non-overlapping files of a
// level. Only the file the iterator is positioned in has an open iterator.
type levelIter struct {
	cmp   base.Compare
	tc    TableCache
	files []*manifest.FileMetadata
	level int
	// index is the position of the current file in files. It is -1 once the
	// iterator is exhausted backward and len(files) once it is exhausted
	// forward.
	index int
	iter  internalIterator
	err   error
}

var _ internalIterator = (*levelIter)(nil)

func newLevelIter(
	cmp base.Compare, tc TableCache, level int, files []*manifest.FileMetadata,
) *levelIter {
	return &levelIter{cmp: cmp, tc: tc, files: files, level: level, index: -1}
}

func (l *levelIter) loadFile(index int) bool {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	l.index = index
	if l.err != nil || index < 0 || index >= len(l.files) {
		return false
	}
	iter, err := l.tc.NewIterator(l.files[index])
	if err != nil {
		l.err = err
		return false
	}
	l.iter = iter
	return true
}

// skipForward moves to the first entry of the next non-empty file when the
// current file is exhausted.
func (l *levelIter) skipForward(kv *base.InternalKV) *base.InternalKV {
	for kv == nil {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return nil
		}
		if !l.loadFile(l.index + 1) {
			return nil
		}
		kv = l.iter.First()
	}
	return kv
}

func (l *levelIter) skipBackward(kv *base.InternalKV) *base.InternalKV {
	for kv == nil {
		if err := l.iter.Error(); err != nil {
			l.err = err
			return nil
		}
		if !l.loadFile(l.index - 1) {
			return nil
		}
		kv = l.iter.Last()
	}
	return kv
}

func (l *levelIter) SeekGE(key []byte) *base.InternalKV {
	l.err = nil
	// The first file whose largest key is >= key.
	i := sort.Search(len(l.files), func(i int) bool {
		return l.cmp(l.files[i].Largest.UserKey, key) >= 0
	})
	if !l.loadFile(i) {
		return nil
	}
	return l.skipForward(l.iter.SeekGE(key))
}

func (l *levelIter) SeekLT(key []byte) *base.InternalKV {
	l.err = nil
	// The last file whose smallest key is < key.
	i := sort.Search(len(l.files), func(i int) bool {
		return l.cmp(l.files[i].Smallest.UserKey, key) >= 0
	})
	if !l.loadFile(i - 1) {
		return nil
	}
	return l.skipBackward(l.iter.SeekLT(key))
}

func (l *levelIter) First() *base.InternalKV {
	l.err = nil
	if !l.loadFile(0) {
		return nil
	}
	return l.skipForward(l.iter.First())
}

func (l *levelIter) Last() *base.InternalKV {
	l.err = nil
	if !l.loadFile(len(l.files) - 1) {
		return nil
	}
	return l.skipBackward(l.iter.Last())
}

func (l *levelIter) Next() *base.InternalKV {
	if l.err != nil {
		return nil
	}
	if l.iter == nil {
		if l.index < 0 {
			return l.First()
		}
		return nil
	}
	return l.skipForward(l.iter.Next())
}

func (l *levelIter) Prev() *base.InternalKV {
	if l.err != nil {
		return nil
	}
	if l.iter == nil {
		if l.index >= len(l.files) {
			return l.Last()
		}
		return nil
	}
	return l.skipBackward(l.iter.Prev())
}

func (l *levelIter) Error() error {
	if l.err != nil || l.iter == nil {
		return l.err
	}
	return l.iter.Error()
}

func (l *levelIter) Close() error {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	return l.err
}

func (l *levelIter) String() string {
	return fmt.Sprintf("L%d", l.level)
}
