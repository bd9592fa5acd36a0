// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import "github.com/lsmcore/lsmcore/internal/base"

// FileBrief is the compact form of a file used by binary searches: its
// bounds, copied into the level's contiguous key buffer.
type FileBrief struct {
	Smallest base.InternalKey
	Largest  base.InternalKey
	Meta     *FileMetadata
}

// LevelFilesBrief is the brief of every file of one level, in level order.
type LevelFilesBrief struct {
	Files []FileBrief
	// keys backs the user keys of Files.
	keys []byte
}

// makeLevelFilesBrief copies the bounds of the files into a single buffer.
func makeLevelFilesBrief(files []*FileMetadata) LevelFilesBrief {
	var n int
	for _, f := range files {
		n += len(f.Smallest.UserKey) + len(f.Largest.UserKey)
	}
	b := LevelFilesBrief{
		Files: make([]FileBrief, len(files)),
		keys:  make([]byte, 0, n),
	}
	for i, f := range files {
		b.Files[i] = FileBrief{
			Smallest: b.copyKey(f.Smallest),
			Largest:  b.copyKey(f.Largest),
			Meta:     f,
		}
	}
	return b
}

func (b *LevelFilesBrief) copyKey(k base.InternalKey) base.InternalKey {
	start := len(b.keys)
	b.keys = append(b.keys, k.UserKey...)
	return base.InternalKey{
		UserKey: b.keys[start:len(b.keys):len(b.keys)],
		Trailer: k.Trailer,
	}
}

// Len returns the number of files.
func (b *LevelFilesBrief) Len() int {
	return len(b.Files)
}

// FindFileInRange returns the smallest index i in [left, right) such that
// the largest key of file i is >= key, or right if there is none.
func FindFileInRange(cmp base.Compare, b *LevelFilesBrief, key base.InternalKey, left, right int) int {
	for left < right {
		mid := int(uint(left+right) >> 1)
		if base.InternalCompare(cmp, b.Files[mid].Largest, key) < 0 {
			// Every file at or before mid ends before key.
			left = mid + 1
		} else {
			right = mid
		}
	}
	return right
}

// FindFile returns the index of the first file of the level whose largest
// key is >= key, or the number of files if there is none.
func FindFile(cmp base.Compare, b *LevelFilesBrief, key base.InternalKey) int {
	return FindFileInRange(cmp, b, key, 0, len(b.Files))
}

// SomeFileOverlapsRange returns true if a file of the level overlaps the
// user key range [smallest, largest]. A nil bound is unbounded. disjoint
// indicates the files are sorted and non-overlapping, enabling a binary
// search.
func SomeFileOverlapsRange(cmp base.Compare, disjoint bool, b *LevelFilesBrief, smallest, largest []byte) bool {
	afterFile := func(k []byte, f *FileBrief) bool {
		return k != nil && cmp(k, f.Largest.UserKey) > 0
	}
	beforeFile := func(k []byte, f *FileBrief) bool {
		return k != nil && cmp(k, f.Smallest.UserKey) < 0
	}
	if !disjoint {
		for i := range b.Files {
			f := &b.Files[i]
			if !afterFile(smallest, f) && !beforeFile(largest, f) {
				return true
			}
		}
		return false
	}
	index := 0
	if smallest != nil {
		index = FindFile(cmp, b, base.MakeSearchKey(smallest))
	}
	if index >= len(b.Files) {
		return false
	}
	return !beforeFile(largest, &b.Files[index])
}
