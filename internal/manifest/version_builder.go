// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
	"golang.org/x/sync/errgroup"
)

// builderLevel holds the pending changes to one level.
type builderLevel struct {
	deleted swiss.Map[base.FileNum, struct{}]
	added   swiss.Map[base.FileNum, *FileMetadata]
}

// Builder accumulates a sequence of version edits on top of a base layout
// and saves the result into a new layout, without modifying the base.
//
// Files added by the edits are owned by the builder until SaveTo hands them
// to a layout; Release drops the builder's own references.
type Builder struct {
	cmp    *base.Comparer
	base   *VersionStorageInfo
	levels []builderLevel
}

// NewBuilder returns a builder applying edits to the layout from.
func NewBuilder(cmp *base.Comparer, from *VersionStorageInfo) *Builder {
	b := &Builder{
		cmp:    cmp,
		base:   from,
		levels: make([]builderLevel, from.NumLevels()),
	}
	for i := range b.levels {
		b.levels[i].deleted.Init(0)
		b.levels[i].added.Init(0)
	}
	return b
}

// Apply accumulates the file changes of the edit. A deletion cancels a
// pending addition of the same file; an addition cancels a pending deletion.
func (b *Builder) Apply(ve *VersionEdit) error {
	if invariants.Enabled {
		b.checkConsistency(b.base)
	}
	for _, df := range ve.sortedDeletedFiles() {
		if df.Level < 0 || df.Level >= len(b.levels) {
			return base.CorruptionErrorf("lsmcore: deleted file %s at invalid level %d", df.FileNum, df.Level)
		}
		if invariants.Enabled {
			b.checkConsistencyForDelete(df.Level, df.FileNum)
		}
		l := &b.levels[df.Level]
		l.deleted.Put(df.FileNum, struct{}{})
		if f, ok := l.added.Get(df.FileNum); ok {
			l.added.Delete(df.FileNum)
			f.Unref()
		}
	}
	for _, nf := range ve.NewFiles {
		if nf.Level < 0 || nf.Level >= len(b.levels) {
			return base.CorruptionErrorf("lsmcore: new file %s at invalid level %d", nf.Meta.FileNum, nf.Level)
		}
		l := &b.levels[nf.Level]
		if _, ok := l.added.Get(nf.Meta.FileNum); ok {
			return errors.AssertionFailedf("lsmcore: file %s added twice at L%d", nf.Meta.FileNum, nf.Level)
		}
		// The builder owns a copy of the metadata: the edit may be applied
		// again by another builder.
		f := &FileMetadata{
			FileNum:             nf.Meta.FileNum,
			PathID:              nf.Meta.PathID,
			Size:                nf.Meta.Size,
			Smallest:            nf.Meta.Smallest,
			Largest:             nf.Meta.Largest,
			SmallestSeqNum:      nf.Meta.SmallestSeqNum,
			LargestSeqNum:       nf.Meta.LargestSeqNum,
			MarkedForCompaction: nf.Meta.MarkedForCompaction,
			Stats:               nf.Meta.Stats,
			StatsInitialized:    nf.Meta.StatsInitialized,
		}
		f.Ref()
		l.deleted.Delete(f.FileNum)
		l.added.Put(f.FileNum, f)
	}
	return nil
}

// levelCmp returns the ordering of the level's files.
func (b *Builder) levelCmp(level int) func(a, c *FileMetadata) int {
	less := func(x, y *FileMetadata) bool { return NewestFirst(x, y) }
	if level > 0 {
		less = func(x, y *FileMetadata) bool { return BySmallestKey(b.cmp.Compare, x, y) }
	}
	return func(x, y *FileMetadata) int {
		switch {
		case less(x, y):
			return -1
		case less(y, x):
			return +1
		}
		return 0
	}
}

// SaveTo merges the base files and the added files of every level into s,
// skipping deleted files.
func (b *Builder) SaveTo(s *VersionStorageInfo) {
	if invariants.Enabled {
		b.checkConsistency(b.base)
	}
	for level := range b.levels {
		cmp := b.levelCmp(level)
		l := &b.levels[level]
		added := make([]*FileMetadata, 0, l.added.Len())
		l.added.All(func(_ base.FileNum, f *FileMetadata) bool {
			added = append(added, f)
			return true
		})
		slices.SortFunc(added, cmp)

		baseFiles := b.base.LevelFiles(level)
		i := 0
		for _, f := range added {
			// Base files that do not sort after f go first.
			for ; i < len(baseFiles) && cmp(f, baseFiles[i]) >= 0; i++ {
				b.maybeAddFile(s, level, baseFiles[i])
			}
			b.maybeAddFile(s, level, f)
		}
		for ; i < len(baseFiles); i++ {
			b.maybeAddFile(s, level, baseFiles[i])
		}
	}
	if invariants.Enabled {
		b.checkConsistency(s)
	}
}

func (b *Builder) maybeAddFile(s *VersionStorageInfo, level int, f *FileMetadata) {
	if _, ok := b.levels[level].deleted.Get(f.FileNum); ok {
		return
	}
	s.AddFile(level, f)
}

// LoadTableHandles opens every added file through the loader, using at most
// maxThreads concurrent workers. The first error is returned; files that
// could not be opened are opened again on first use.
func (b *Builder) LoadTableHandles(loader TableLoader, maxThreads int) error {
	var g errgroup.Group
	g.SetLimit(max(maxThreads, 1))
	for level := range b.levels {
		b.levels[level].added.All(func(_ base.FileNum, f *FileMetadata) bool {
			g.Go(func() error {
				return loader.FindTable(f)
			})
			return true
		})
	}
	return g.Wait()
}

// Release drops the builder's references on the added files. Files that were
// saved into a layout stay referenced by it.
func (b *Builder) Release() {
	for level := range b.levels {
		b.levels[level].added.All(func(_ base.FileNum, f *FileMetadata) bool {
			f.Unref()
			return true
		})
		b.levels[level].added.Init(0)
	}
}

func (b *Builder) checkConsistency(s *VersionStorageInfo) {
	for level := 0; level < s.NumLevels(); level++ {
		files := s.LevelFiles(level)
		for i := 1; i < len(files); i++ {
			prev, f := files[i-1], files[i]
			if level == 0 {
				if NewestFirst(f, prev) {
					panic(fmt.Sprintf("lsmcore: L0 files %s and %s are not sorted newest first", prev, f))
				}
				continue
			}
			if base.InternalCompare(b.cmp.Compare, prev.Largest, f.Smallest) >= 0 {
				panic(fmt.Sprintf("lsmcore: L%d files %s and %s are not sorted or overlap", level, prev, f))
			}
		}
	}
}

// checkConsistencyForDelete panics unless the file exists in the base or was
// added by an earlier edit, at any level.
func (b *Builder) checkConsistencyForDelete(level int, fileNum base.FileNum) {
	for l := 0; l < b.base.NumLevels(); l++ {
		for _, f := range b.base.LevelFiles(l) {
			if f.FileNum == fileNum {
				return
			}
		}
	}
	for l := range b.levels {
		if _, ok := b.levels[l].added.Get(fileNum); ok {
			return
		}
	}
	panic(fmt.Sprintf("lsmcore: deleted file %s at L%d not found", fileNum, level))
}
