// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"math"
	"strings"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
)

// LevelMaxIndex is the right bound meaning "search the whole level".
const LevelMaxIndex = math.MaxInt32

// FileIndexer implements fractional cascading over the sorted levels of a
// version. For every file at level L (1 <= L < numLevels-1) it records four
// bounds into level L+1, so that a point lookup that compared its key
// against the file's smallest and largest keys knows which window of files
// at the next level may hold the key.
//
// Level 0 files are not indexed: they overlap, and every one of them is
// examined.
//
// The index over level L, files f[0..n) with next-level files g[0..m):
//   - smallestLB: the leftmost g that can hold a key equal to f.smallest
//   - largestLB: the leftmost g that can hold a key equal to f.largest
//   - smallestRB: the rightmost g that can hold a key equal to f.smallest
//   - largestRB: the rightmost g that can hold a key equal to f.largest
//
// A file that sorts entirely before the next level gets left bounds of 0 and
// right bounds of -1.
type FileIndexer struct {
	ucmp      base.Compare
	numLevels int
	// nextLevelIndex[L][i] holds the bounds of file i at level L into L+1.
	nextLevelIndex [][]indexUnit
	// levelRB[L] is the index of the last file at level L, -1 if empty.
	levelRB []int32
}

type indexUnit struct {
	smallestLB int32
	largestLB  int32
	smallestRB int32
	largestRB  int32
}

// NewFileIndexer returns an empty indexer using the user key comparison.
func NewFileIndexer(ucmp base.Compare) *FileIndexer {
	return &FileIndexer{ucmp: ucmp}
}

// NumLevels returns the number of levels the index was built over.
func (x *FileIndexer) NumLevels() int {
	return x.numLevels
}

// LevelIndexSize returns the number of indexed files at the level.
func (x *FileIndexer) LevelIndexSize(level int) int {
	if level >= len(x.nextLevelIndex) {
		return 0
	}
	return len(x.nextLevelIndex[level])
}

// UpdateIndex rebuilds the index over the first numLevels levels. It must
// be called once, before the indexer is used.
func (x *FileIndexer) UpdateIndex(numLevels int, files [][]*FileMetadata) {
	x.numLevels = numLevels
	if numLevels == 0 {
		return
	}
	x.nextLevelIndex = make([][]indexUnit, numLevels)
	x.levelRB = make([]int32, numLevels)
	for i := range x.levelRB {
		x.levelRB[i] = -1
	}

	for level := 1; level < numLevels-1; level++ {
		upper := files[level]
		lower := files[level+1]
		x.levelRB[level] = int32(len(upper)) - 1
		if len(upper) == 0 {
			continue
		}
		index := make([]indexUnit, len(upper))
		for i := range index {
			index[i] = indexUnit{smallestRB: -1, largestRB: -1}
		}
		x.nextLevelIndex[level] = index

		x.calculateLB(upper, lower, index,
			func(a, b *FileMetadata) int { return x.ucmp(a.Smallest.UserKey, b.Largest.UserKey) },
			func(u *indexUnit, i int32) { u.smallestLB = i })
		x.calculateLB(upper, lower, index,
			func(a, b *FileMetadata) int { return x.ucmp(a.Largest.UserKey, b.Largest.UserKey) },
			func(u *indexUnit, i int32) { u.largestLB = i })
		x.calculateRB(upper, lower, index,
			func(a, b *FileMetadata) int { return x.ucmp(a.Smallest.UserKey, b.Smallest.UserKey) },
			func(u *indexUnit, i int32) { u.smallestRB = i })
		x.calculateRB(upper, lower, index,
			func(a, b *FileMetadata) int { return x.ucmp(a.Largest.UserKey, b.Smallest.UserKey) },
			func(u *indexUnit, i int32) { u.largestRB = i })
	}
	x.levelRB[numLevels-1] = int32(len(files[numLevels-1])) - 1
}

// calculateLB makes one forward pass over both levels, assigning to every
// upper file the first lower file that does not sort below it.
func (x *FileIndexer) calculateLB(
	upper, lower []*FileMetadata,
	index []indexUnit,
	cmp func(a, b *FileMetadata) int,
	set func(u *indexUnit, i int32),
) {
	upperIdx, lowerIdx := 0, 0
	for upperIdx < len(upper) && lowerIdx < len(lower) {
		c := cmp(upper[upperIdx], lower[lowerIdx])
		switch {
		case c == 0:
			set(&index[upperIdx], int32(lowerIdx))
			upperIdx++
			lowerIdx++
		case c > 0:
			// The lower file ends before the key; it cannot hold it.
			lowerIdx++
		default:
			set(&index[upperIdx], int32(lowerIdx))
			upperIdx++
		}
	}
	// The lower files are exhausted: the remaining upper files sort after all
	// of them.
	for ; upperIdx < len(upper); upperIdx++ {
		set(&index[upperIdx], int32(len(lower)))
	}
}

// calculateRB makes one backward pass over both levels, assigning to every
// upper file the last lower file that does not sort above it.
func (x *FileIndexer) calculateRB(
	upper, lower []*FileMetadata,
	index []indexUnit,
	cmp func(a, b *FileMetadata) int,
	set func(u *indexUnit, i int32),
) {
	upperIdx, lowerIdx := len(upper)-1, len(lower)-1
	for upperIdx >= 0 && lowerIdx >= 0 {
		c := cmp(upper[upperIdx], lower[lowerIdx])
		switch {
		case c == 0:
			set(&index[upperIdx], int32(lowerIdx))
			upperIdx--
			lowerIdx--
		case c < 0:
			// The lower file starts after the key; it cannot hold it.
			lowerIdx--
		default:
			set(&index[upperIdx], int32(lowerIdx))
			upperIdx--
		}
	}
	for ; upperIdx >= 0; upperIdx-- {
		set(&index[upperIdx], -1)
	}
}

// GetNextLevelIndex returns the window [left, right] of files at level+1
// that may hold a key, given the results of comparing the key against the
// smallest and largest user keys of the file at fileIndex of level.
// cmpLargest is only meaningful when cmpSmallest >= 0.
func (x *FileIndexer) GetNextLevelIndex(
	level, fileIndex int, cmpSmallest, cmpLargest int,
) (left, right int32) {
	if level == x.numLevels-1 {
		return 0, -1
	}
	if invariants.Enabled && (level <= 0 || int32(fileIndex) > x.levelRB[level]) {
		panic(fmt.Sprintf("lsmcore: invalid file indexer lookup L%d file %d", level, fileIndex))
	}
	units := x.nextLevelIndex[level]
	u := units[fileIndex]
	switch {
	case cmpSmallest < 0:
		if fileIndex > 0 {
			left = units[fileIndex-1].largestLB
		}
		right = u.smallestRB
	case cmpSmallest == 0:
		left, right = u.smallestLB, u.smallestRB
	case cmpLargest < 0:
		left, right = u.smallestLB, u.largestRB
	case cmpLargest == 0:
		left, right = u.largestLB, u.largestRB
	default:
		left, right = u.largestLB, x.levelRB[level+1]
	}
	if invariants.Enabled && (left < 0 || left > right+1 || right > x.levelRB[level+1]) {
		panic(fmt.Sprintf("lsmcore: invalid file indexer window [%d, %d] at L%d", left, right, level+1))
	}
	return left, right
}

// String dumps the index for tests.
func (x *FileIndexer) String() string {
	var b strings.Builder
	for level := 1; level < x.numLevels-1; level++ {
		for i, u := range x.nextLevelIndex[level] {
			fmt.Fprintf(&b, "L%d.%d: smallest=[%d,%d] largest=[%d,%d]\n",
				level, i, u.smallestLB, u.smallestRB, u.largestLB, u.largestRB)
		}
	}
	return b.String()
}
