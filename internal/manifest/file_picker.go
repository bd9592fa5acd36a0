// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"

	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
)

// FilePicker yields, level by level and newest first, the files of a version
// that may hold a user key. Entries never move up the tree, so a lookup may
// stop as soon as a file yields a final answer for the key.
//
// At levels > 0 the search window into the next level is narrowed by the
// file indexer using the comparisons already made at the current level.
type FilePicker struct {
	cmp       base.Compare
	numLevels int
	briefs    []LevelFilesBrief
	indexer   *FileIndexer
	userKey   []byte
	ikey      base.InternalKey

	currLevel    int
	hitFileLevel int
	searchLeft   int32
	searchRight  int32
	searchEnded  bool
	currBrief    *LevelFilesBrief
	currIndex    int
	startIndex   int
	prevFile     *FileBrief
}

// MakeFilePicker returns a picker over the finalized layout for the lookup
// key ikey.
func MakeFilePicker(s *VersionStorageInfo, ikey base.InternalKey) FilePicker {
	p := FilePicker{
		cmp:          s.cmp.Compare,
		numLevels:    s.numNonEmptyLevels,
		briefs:       s.briefs,
		indexer:      s.indexer,
		userKey:      ikey.UserKey,
		ikey:         ikey,
		currLevel:    -1,
		hitFileLevel: -1,
		searchRight:  LevelMaxIndex,
	}
	p.searchEnded = !p.prepareNextLevel()
	return p
}

// NextFile returns the next file that may hold the key, or nil once every
// candidate has been returned.
func (p *FilePicker) NextFile() *FileBrief {
	for !p.searchEnded {
		for p.currIndex < len(p.currBrief.Files) {
			f := &p.currBrief.Files[p.currIndex]
			p.hitFileLevel = p.currLevel
			cmpLargest := -1

			// With a single level of at most three files every file is
			// examined without filtering.
			if p.numLevels > 1 || len(p.currBrief.Files) > 3 {
				cmpSmallest := p.cmp(p.userKey, f.Smallest.UserKey)
				if cmpSmallest >= 0 {
					cmpLargest = p.cmp(p.userKey, f.Largest.UserKey)
				}
				if p.currLevel > 0 {
					p.searchLeft, p.searchRight = p.indexer.GetNextLevelIndex(
						p.currLevel, p.currIndex, cmpSmallest, cmpLargest)
				}
				if cmpSmallest < 0 || cmpLargest > 0 {
					if p.currLevel == 0 {
						p.currIndex++
						continue
					}
					break
				}
			}
			if invariants.Enabled {
				p.checkOrder(f)
			}
			if p.currLevel > 0 && cmpLargest < 0 {
				// The key sorts before the file's largest key: no later file
				// of the level can hold it.
				p.searchEnded = !p.prepareNextLevel()
			} else {
				p.currIndex++
			}
			return f
		}
		p.searchEnded = !p.prepareNextLevel()
	}
	return nil
}

// HitFileLevel returns the level of the file most recently examined.
func (p *FilePicker) HitFileLevel() int {
	return p.hitFileLevel
}

func (p *FilePicker) checkOrder(f *FileBrief) {
	if p.prevFile != nil {
		if p.currLevel != 0 {
			if base.InternalCompare(p.cmp, p.prevFile.Largest, f.Smallest) >= 0 {
				panic(fmt.Sprintf("lsmcore: L%d files %s and %s out of order",
					p.currLevel, p.prevFile.Meta, f.Meta))
			}
		} else if NewestFirst(f.Meta, p.prevFile.Meta) {
			panic(fmt.Sprintf("lsmcore: L0 file %s is newer than %s", f.Meta, p.prevFile.Meta))
		}
	}
	p.prevFile = f
}

// prepareNextLevel positions the picker on the first candidate of the next
// level that may hold the key. It returns false once the levels are
// exhausted.
func (p *FilePicker) prepareNextLevel() bool {
	p.currLevel++
	for p.currLevel < p.numLevels {
		p.currBrief = &p.briefs[p.currLevel]
		if len(p.currBrief.Files) == 0 {
			// Nothing was compared at this level: the next one is searched
			// in full.
			p.searchLeft, p.searchRight = 0, LevelMaxIndex
			p.currLevel++
			continue
		}
		var start int
		if p.currLevel > 0 {
			switch {
			case p.searchLeft == p.searchRight:
				start = int(p.searchLeft)
			case p.searchLeft < p.searchRight:
				if p.searchRight == LevelMaxIndex {
					p.searchRight = int32(len(p.currBrief.Files)) - 1
				}
				start = FindFileInRange(p.cmp, p.currBrief, p.ikey, int(p.searchLeft), int(p.searchRight))
			default:
				// The key cannot be at this level.
				p.searchLeft, p.searchRight = 0, LevelMaxIndex
				p.currLevel++
				continue
			}
		}
		p.startIndex = start
		p.currIndex = start
		p.prevFile = nil
		return true
	}
	return false
}
