// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"sync/atomic"

	"github.com/cockroachdb/crlib/crsync"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// SuperVersion is the read view of a column family: a mutable memtable, a
// snapshot of the immutable memtables and a version, all referenced, along
// with the options they were installed with. Readers take a SuperVersion
// and read without the database mutex.
type SuperVersion struct {
	cfd         *ColumnFamilyData
	Mem         *memTable
	Imm         *memTableListVersion
	Current     *manifest.Version
	MutableOpts *mutableCFOptions
	// VersionNumber is the number of the SuperVersion among those installed
	// in the column family.
	VersionNumber uint64

	refs atomic.Int32
	// toDelete collects the memtables released by Cleanup.
	toDelete []*memTable
}

// Ref takes a reference on the SuperVersion.
func (sv *SuperVersion) Ref() *SuperVersion {
	sv.refs.Add(1)
	return sv
}

// Unref releases a reference and returns true if it was the last one. The
// caller then runs Cleanup with the database mutex held.
func (sv *SuperVersion) Unref() bool {
	v := sv.refs.Add(-1)
	if v < 0 {
		panic("lsmcore: inconsistent SuperVersion reference count")
	}
	return v == 0
}

// Cleanup releases the memtables and the version of the SuperVersion. It
// requires the database mutex.
func (sv *SuperVersion) Cleanup() {
	sv.Imm.unref(&sv.toDelete)
	if sv.Mem.unref() {
		sv.toDelete = append(sv.toDelete, sv.Mem)
	}
	sv.Current.UnrefLocked()
}

// deleteMemTables drops the released memtables. It does not need the
// mutex.
func (sv *SuperVersion) deleteMemTables() {
	for i := range sv.toDelete {
		sv.toDelete[i] = nil
	}
	sv.toDelete = sv.toDelete[:0]
}

// Sentinels stored in the slots of a column family. A nil slot holds no
// SuperVersion: it is empty or was scraped by an install.
var svInUse = &SuperVersion{}

type svSlot struct {
	p atomic.Pointer[SuperVersion]
	_ [56]byte
}

// localSuperVersions caches referenced SuperVersions, one per slot. A reader
// claims the slot of its CPU with a swap, reads, and puts the SuperVersion
// back with a compare-and-swap: the mutex is taken only when the cached
// SuperVersion is stale.
type localSuperVersions struct {
	slots []svSlot
}

func newLocalSuperVersions() *localSuperVersions {
	return &localSuperVersions{slots: make([]svSlot, crsync.NumShards())}
}

func (l *localSuperVersions) pick() int {
	return crsync.CPUBiasedInt() % len(l.slots)
}

// GetThreadLocalSuperVersion returns a current SuperVersion and the slot it
// was taken from, which is passed back to ReturnThreadLocalSuperVersion. The
// caller must not hold the mutex.
func (cfd *ColumnFamilyData) GetThreadLocalSuperVersion() (*SuperVersion, int) {
	idx := cfd.localSV.pick()
	sv := cfd.localSV.slots[idx].p.Swap(svInUse)
	if sv == svInUse {
		// Another reader holds the slot.
		cfd.vs.mu.Lock()
		sv = cfd.superVersion.Ref()
		cfd.vs.mu.Unlock()
		return sv, -1
	}
	if sv == nil || sv.VersionNumber != cfd.superVersionNumber.Load() {
		cfd.vs.mu.Lock()
		if sv != nil && sv.Unref() {
			sv.Cleanup()
		}
		fresh := cfd.superVersion.Ref()
		cfd.vs.mu.Unlock()
		if sv != nil {
			sv.deleteMemTables()
		}
		sv = fresh
	}
	return sv, idx
}

// ReturnThreadLocalSuperVersion puts sv back in its slot. It returns false if
// a new SuperVersion was installed meanwhile, in which case the caller owns
// the reference on sv and releases it.
func (cfd *ColumnFamilyData) ReturnThreadLocalSuperVersion(sv *SuperVersion, slot int) bool {
	if slot < 0 {
		return false
	}
	return cfd.localSV.slots[slot].p.CompareAndSwap(svInUse, sv)
}

func (cfd *ColumnFamilyData) returnSuperVersion(sv *SuperVersion, slot int) {
	if cfd.ReturnThreadLocalSuperVersion(sv, slot) {
		return
	}
	cfd.releaseSuperVersion(sv)
}

// releaseSuperVersion drops a reference taken without the mutex.
func (cfd *ColumnFamilyData) releaseSuperVersion(sv *SuperVersion) {
	if sv.Unref() {
		cfd.vs.mu.Lock()
		sv.Cleanup()
		cfd.vs.mu.Unlock()
		sv.deleteMemTables()
	}
}

// GetReferencedSuperVersion returns the current SuperVersion with a
// reference the caller releases with ReleaseSuperVersion.
func (cfd *ColumnFamilyData) GetReferencedSuperVersion() *SuperVersion {
	sv, slot := cfd.GetThreadLocalSuperVersion()
	sv.Ref()
	if !cfd.ReturnThreadLocalSuperVersion(sv, slot) {
		// The slot's reference was handed to us.
		sv.Unref()
	}
	return sv
}

// ReleaseSuperVersion releases a SuperVersion returned by
// GetReferencedSuperVersion. It does not need the mutex.
func (cfd *ColumnFamilyData) ReleaseSuperVersion(sv *SuperVersion) {
	cfd.releaseSuperVersion(sv)
}

// SuperVersion returns the installed SuperVersion, without a reference.
func (cfd *ColumnFamilyData) SuperVersion() *SuperVersion { return cfd.superVersion }

// SuperVersionNumber returns the number of the installed SuperVersion.
func (cfd *ColumnFamilyData) SuperVersionNumber() uint64 {
	return cfd.superVersionNumber.Load()
}

// InstallSuperVersion publishes the current memtables, version and options
// of the column family as a new SuperVersion, invalidates the cached ones
// and recalculates the write stall condition. It requires the mutex. If the
// previous SuperVersion lost its last reference it is returned, cleaned up,
// so the caller can drop its memtables after unlocking.
func (cfd *ColumnFamilyData) InstallSuperVersion() *SuperVersion {
	sv := &SuperVersion{
		cfd:         cfd,
		Mem:         cfd.mem,
		Imm:         cfd.imm.currentVersion(),
		Current:     cfd.current,
		MutableOpts: cfd.mutable,
	}
	sv.Mem.ref()
	sv.Imm.ref()
	sv.Current.Ref()
	sv.refs.Store(1)

	old := cfd.superVersion
	cfd.superVersion = sv
	sv.VersionNumber = cfd.superVersionNumber.Add(1)
	cfd.resetLocalSuperVersions()
	cfd.RecalculateWriteStallConditions()

	if old != nil && old.Unref() {
		old.Cleanup()
		return old
	}
	return nil
}

// resetLocalSuperVersions empties the slots, releasing the SuperVersions
// they cache. A slot in use is emptied too: the reader holding it fails to
// put its SuperVersion back.
func (cfd *ColumnFamilyData) resetLocalSuperVersions() {
	for i := range cfd.localSV.slots {
		sv := cfd.localSV.slots[i].p.Swap(nil)
		if sv == nil || sv == svInUse {
			continue
		}
		if sv.Unref() {
			sv.Cleanup()
			sv.deleteMemTables()
		}
	}
}
