// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// TableCache provides access to the readers of the tables. Readers are
// opened lazily and cached; implementations bound the number of open
// readers. The table format itself is opaque to this package.
//
// A TableCache must be safe for concurrent use.
type TableCache interface {
	// FindTable opens the reader of the table, caching it for later use.
	FindTable(f *FileMetadata) error
	// Get feeds the entries of the table for the lookup key to g, newest
	// first, until g.SaveValue returns false. When ropts.NoIO is set and the
	// reader is not cached, Get returns an error marked ErrIncomplete.
	Get(ropts ReadOptions, f *FileMetadata, key InternalKey, g *GetContext) error
	// NewIterator returns an unpositioned iterator over the table.
	NewIterator(f *FileMetadata) (InternalIterator, error)
	// Properties returns the properties of the table.
	Properties(f *FileMetadata) (*TableProperties, error)
	// Evict drops the cached reader of the table. It is called before a
	// table file is deleted.
	Evict(fileNum FileNum)
}

var _ manifest.TableLoader = TableCache(nil)
var _ manifest.PropertiesLoader = TableCache(nil)

// errorIter is an iterator positioned at nothing that reports err.
type errorIter struct {
	err error
}

var _ internalIterator = (*errorIter)(nil)

func newErrorIter(err error) *errorIter {
	return &errorIter{err: err}
}

func (c *errorIter) SeekGE(key []byte) *InternalKV { return nil }
func (c *errorIter) SeekLT(key []byte) *InternalKV { return nil }
func (c *errorIter) First() *InternalKV            { return nil }
func (c *errorIter) Last() *InternalKV             { return nil }
func (c *errorIter) Next() *InternalKV             { return nil }
func (c *errorIter) Prev() *InternalKV             { return nil }
func (c *errorIter) Error() error                  { return c.err }
func (c *errorIter) Close() error                  { return c.err }
func (c *errorIter) String() string                { return "error" }
