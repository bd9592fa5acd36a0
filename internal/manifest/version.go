// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lsmcore/lsmcore/internal/base"
)

// Version is a collection of table metadata for on-disk tables at various
// levels. In-memory DBs are written to level-0 tables, and compactions
// migrate data from level N to level N+1. The tables map internal keys (which
// are a user key, a delete or set bit, and a sequence number) to user values.
//
// A Version is immutable once published. It stays alive, along with its
// files, for as long as readers or compactions hold a reference.
type Version struct {
	refs atomic.Int32

	// Storage is the file layout of the version and the state derived from
	// it.
	Storage *VersionStorageInfo

	// Number is the position of the version in its column family's history.
	Number uint64

	// Deleted is invoked, with the list mutex held, when the last reference
	// to the version is released. It is passed the files of the version that
	// no other version references.
	Deleted func(obsolete []*FileMetadata)

	// The list the version is linked into.
	list *VersionList

	// The next/prev link for the VersionList doubly-linked list of versions.
	prev, next *Version
}

// NewVersion returns an unreferenced version over the finalized layout.
func NewVersion(storage *VersionStorageInfo, number uint64) *Version {
	return &Version{Storage: storage, Number: number}
}

// String implements fmt.Stringer, printing the FileMetadata for each level in
// the Version.
func (v *Version) String() string {
	return v.Storage.String()
}

// DebugString returns the files of each level, formatting user keys with the
// given formatter.
func (v *Version) DebugString(format base.FormatKey) string {
	return v.Storage.DebugString(format)
}

// Refs returns the number of references to the version.
func (v *Version) Refs() int32 {
	return v.refs.Load()
}

// Ref increments the version refcount.
func (v *Version) Ref() {
	v.refs.Add(1)
}

// Unref decrements the version refcount. If the last reference to the version
// was removed, the version is removed from the list of versions and the
// Deleted callback is invoked. Requires that the VersionList mutex is NOT
// locked.
func (v *Version) Unref() {
	if v.refs.Add(-1) == 0 {
		l := v.list
		l.mu.Lock()
		l.Remove(v)
		v.release()
		l.mu.Unlock()
	}
}

// UnrefLocked decrements the version refcount. If the last reference to the
// version was removed, the version is removed from the list of versions and
// the Deleted callback is invoked. Requires that the VersionList mutex is
// already locked.
func (v *Version) UnrefLocked() {
	if v.refs.Add(-1) == 0 {
		v.list.Remove(v)
		v.release()
	}
}

func (v *Version) release() {
	var obsolete []*FileMetadata
	for level := 0; level < v.Storage.NumLevels(); level++ {
		for _, f := range v.Storage.LevelFiles(level) {
			if f.Unref() == 0 {
				obsolete = append(obsolete, f)
			}
		}
	}
	if v.Deleted != nil {
		v.Deleted(obsolete)
	}
}

// AddLiveFiles appends the numbers of every file of the version to live.
func (v *Version) AddLiveFiles(live []base.FileNum) []base.FileNum {
	for level := 0; level < v.Storage.NumLevels(); level++ {
		for _, f := range v.Storage.LevelFiles(level) {
			live = append(live, f.FileNum)
		}
	}
	return live
}

// Overlaps returns the files of the level overlapping the user key range
// [start, end], expanding the range at level 0 as overlapping files widen it.
func (v *Version) Overlaps(level int, start, end []byte) []*FileMetadata {
	var begin, limit *base.InternalKey
	if start != nil {
		k := base.MakeSearchKey(start)
		begin = &k
	}
	if end != nil {
		k := base.MakeInternalKey(end, 0, 0)
		limit = &k
	}
	files, _ := v.Storage.GetOverlappingInputs(level, begin, limit, -1)
	return files
}

// VersionList holds a list of versions. The versions are ordered from oldest
// to newest.
type VersionList struct {
	mu   *sync.Mutex
	root Version
}

// Init initializes the version list.
func (l *VersionList) Init(mu *sync.Mutex) {
	l.mu = mu
	l.root.next = &l.root
	l.root.prev = &l.root
}

// Empty returns true if the list is empty, and false otherwise.
func (l *VersionList) Empty() bool {
	return l.root.next == &l.root
}

// Front returns the oldest version in the list. Note that this version is only
// valid if Empty() returns false.
func (l *VersionList) Front() *Version {
	return l.root.next
}

// Back returns the newest version in the list. Note that this version is only
// valid if Empty() returns false.
func (l *VersionList) Back() *Version {
	return l.root.prev
}

// Len returns the number of versions in the list.
func (l *VersionList) Len() int {
	n := 0
	for v := l.root.next; v != &l.root; v = v.next {
		n++
	}
	return n
}

// PushBack adds a new version to the back of the list. This new version
// becomes the "newest" version in the list.
func (l *VersionList) PushBack(v *Version) {
	if v.list != nil || v.prev != nil || v.next != nil {
		panic("lsmcore: version list is inconsistent")
	}
	v.prev = l.root.prev
	v.prev.next = v
	v.next = &l.root
	v.next.prev = v
	v.list = l
}

// Remove removes the specified version from the list.
func (l *VersionList) Remove(v *Version) {
	if v == &l.root {
		panic("lsmcore: cannot remove version list root node")
	}
	if v.list != l {
		panic("lsmcore: version list is inconsistent")
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	v.next = nil // avoid memory leaks
	v.prev = nil // avoid memory leaks
	v.list = nil // avoid memory leaks
}

// AddLiveFiles appends the numbers of the files of every version in the list.
// A file shared by several versions is appended once per version.
func (l *VersionList) AddLiveFiles(live []base.FileNum) []base.FileNum {
	for v := l.root.next; v != &l.root; v = v.next {
		live = v.AddLiveFiles(live)
	}
	return live
}

// String dumps the numbers and reference counts of the versions, oldest
// first.
func (l *VersionList) String() string {
	var b strings.Builder
	for v := l.root.next; v != &l.root; v = v.next {
		if v != l.root.next {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d(refs=%d)", v.Number, v.Refs())
	}
	return b.String()
}
