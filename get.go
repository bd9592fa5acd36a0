// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// GetState is the state of a point lookup.
type GetState int8

const (
	// GetNotFound means no entry for the key has been seen yet.
	GetNotFound GetState = iota
	// GetFound means the value of the key has been determined.
	GetFound
	// GetDeleted means the newest entry for the key is a deletion.
	GetDeleted
	// GetCorrupt means an entry of an unexpected kind was found.
	GetCorrupt
	// GetMerge means merge operands were found and an older entry is
	// needed to complete the merge.
	GetMerge
)

func (s GetState) String() string {
	switch s {
	case GetNotFound:
		return "not-found"
	case GetFound:
		return "found"
	case GetDeleted:
		return "deleted"
	case GetCorrupt:
		return "corrupt"
	case GetMerge:
		return "merge"
	}
	return "unknown"
}

// GetContext accumulates the state of a point lookup as the entries of the
// key are fed to it, newest first, from the memtables and then the tables of
// each level. The same context is shared by every layer of one lookup so that
// merge operands found in a newer layer are combined with the base value
// found in an older one.
type GetContext struct {
	equal   base.Equal
	merger  *Merger
	userKey []byte

	State GetState
	// Value is set once State is GetFound.
	Value []byte
	// Operands are the merge operands seen so far, newest first.
	Operands [][]byte
	// Err is the error of a failed merge.
	Err error
}

// MakeGetContext returns a context for the lookup of userKey.
func MakeGetContext(cmp *Comparer, merger *Merger, userKey []byte) GetContext {
	return GetContext{equal: cmp.Equal, merger: merger, userKey: userKey}
}

// SaveValue feeds an entry to the lookup. It returns true if the lookup
// needs older entries, false once the result is known. Entries for other keys
// end the search of the current layer and return false without changing the
// state.
func (g *GetContext) SaveValue(kv *base.InternalKV) bool {
	if !g.equal(kv.K.UserKey, g.userKey) {
		return false
	}
	switch kv.Kind() {
	case base.InternalKeyKindSet:
		if g.State == GetMerge {
			g.fullMerge(kv.V)
		} else {
			g.State = GetFound
			g.Value = slices.Clone(kv.V)
		}
		return false
	case base.InternalKeyKindDelete, base.InternalKeyKindSingleDelete:
		if g.State == GetMerge {
			g.fullMerge(nil)
		} else {
			g.State = GetDeleted
		}
		return false
	case base.InternalKeyKindMerge:
		g.State = GetMerge
		g.Operands = append(g.Operands, slices.Clone(kv.V))
		return true
	default:
		g.State = GetCorrupt
		return false
	}
}

// Done returns true once the lookup does not need older entries.
func (g *GetContext) Done() bool {
	return g.State != GetNotFound && g.State != GetMerge
}

// fullMerge combines the collected operands with existing, the value of the
// oldest entry of the key (nil if none).
func (g *GetContext) fullMerge(existing []byte) {
	if g.merger == nil {
		g.State = GetCorrupt
		g.Err = base.InvalidArgumentErrorf("merge_operator is not properly initialized")
		return
	}
	operands := slices.Clone(g.Operands)
	slices.Reverse(operands)
	v, err := g.merger.FullMerge(g.userKey, existing, operands)
	if err != nil {
		g.State = GetCorrupt
		g.Err = errors.Wrapf(base.MarkCorruptionError(err),
			"could not perform end-of-key merge for %s", g.userKey)
		return
	}
	g.State = GetFound
	g.Value = v
}

// finish completes a lookup that has seen every layer, merging any pending
// operands with an empty base value, and returns its result.
func (g *GetContext) finish() ([]byte, error) {
	if g.State == GetMerge {
		g.fullMerge(nil)
	}
	switch g.State {
	case GetFound:
		return g.Value, nil
	case GetNotFound, GetDeleted:
		return nil, ErrNotFound
	default:
		if g.Err != nil {
			return nil, g.Err
		}
		return nil, base.CorruptionErrorf("corrupted key for %s", g.userKey)
	}
}

// versionGet looks userKey up in the tables of the version. Files are visited
// level by level, newest first, until one of them completes the lookup.
func versionGet(
	ropts ReadOptions, v *manifest.Version, tc TableCache, key base.InternalKey, g *GetContext,
) error {
	if !v.Storage.IsFinalized() {
		return errors.AssertionFailedf("lsmcore: lookup in an unfinalized version")
	}
	fp := manifest.MakeFilePicker(v.Storage, key)
	for f := fp.NextFile(); f != nil; f = fp.NextFile() {
		if err := tc.Get(ropts, f.Meta, key, g); err != nil {
			return err
		}
		if g.Done() {
			return nil
		}
	}
	return nil
}
