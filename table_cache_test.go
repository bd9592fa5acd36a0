// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

func testMutableCFOptions() *mutableCFOptions {
	o := DefaultColumnFamilyOptions()
	o.Merger = DefaultMerger
	return newMutableCFOptions(o.Sanitize(testDBOptions()))
}

// parseEntries parses space separated entries of the form
// `<user-key>#<seq-num>,<kind>:<value>`.
func parseEntries(t *testing.T, s string) []base.InternalKV {
	t.Helper()
	var kvs []base.InternalKV
	for _, f := range strings.Fields(s) {
		k, v, _ := strings.Cut(f, ":")
		kvs = append(kvs, base.InternalKV{K: base.ParseInternalKey(k), V: []byte(v)})
	}
	return kvs
}

// newTestMemTable returns a memtable holding the entries.
func newTestMemTable(t *testing.T, entries string) *memTable {
	t.Helper()
	m := newMemTable(testMutableCFOptions(), nil, base.NoopLogger{}, SeqNumMax)
	kvs := parseEntries(t, entries)
	// Entries are added in sequence number order.
	slices.SortStableFunc(kvs, func(a, b base.InternalKV) int {
		return int(a.K.SeqNum()) - int(b.K.SeqNum())
	})
	for _, kv := range kvs {
		require.NoError(t, m.add(kv.K.SeqNum(), kv.K.Kind(), kv.K.UserKey, kv.V))
	}
	return m
}

// fakeTableCache serves tables held in memtables.
type fakeTableCache struct {
	mu      sync.Mutex
	tables  map[FileNum]*memTable
	opened  map[FileNum]bool
	evicted []FileNum
	// propertiesCalls counts the Properties calls.
	propertiesCalls int
	findErr         error
}

var _ TableCache = (*fakeTableCache)(nil)

func newFakeTableCache() *fakeTableCache {
	return &fakeTableCache{
		tables: make(map[FileNum]*memTable),
		opened: make(map[FileNum]bool),
	}
}

// addTable adds a table holding the entries and returns its metadata.
func (c *fakeTableCache) addTable(t *testing.T, fileNum FileNum, entries string) *FileMetadata {
	t.Helper()
	kvs := parseEntries(t, entries)
	require.NotEmpty(t, kvs)
	m := newTestMemTable(t, entries)
	c.mu.Lock()
	c.tables[fileNum] = m
	c.mu.Unlock()

	f := &FileMetadata{FileNum: fileNum, SmallestSeqNum: SeqNumMax}
	for i, kv := range kvs {
		if i == 0 || base.InternalCompare(DefaultComparer.Compare, kv.K, f.Smallest) < 0 {
			f.Smallest = kv.K.Clone()
		}
		if i == 0 || base.InternalCompare(DefaultComparer.Compare, kv.K, f.Largest) > 0 {
			f.Largest = kv.K.Clone()
		}
		f.SmallestSeqNum = min(f.SmallestSeqNum, kv.K.SeqNum())
		f.LargestSeqNum = max(f.LargestSeqNum, kv.K.SeqNum())
		f.Size += uint64(kv.K.Size() + len(kv.V))
	}
	return f
}

func (c *fakeTableCache) table(fileNum FileNum) (*memTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.tables[fileNum]
	if !ok {
		return nil, errors.Newf("table %s not found", fileNum)
	}
	return m, nil
}

func (c *fakeTableCache) FindTable(f *FileMetadata) error {
	if _, err := c.table(f.FileNum); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return c.findErr
	}
	c.opened[f.FileNum] = true
	return nil
}

func (c *fakeTableCache) Get(ropts ReadOptions, f *FileMetadata, key InternalKey, g *GetContext) error {
	c.mu.Lock()
	opened := c.opened[f.FileNum]
	c.mu.Unlock()
	if ropts.NoIO && !opened {
		return base.IncompleteErrorf("table %s is not open", f.FileNum)
	}
	m, err := c.table(f.FileNum)
	if err != nil {
		return err
	}
	m.get(key.UserKey, key.SeqNum(), g)
	return nil
}

func (c *fakeTableCache) NewIterator(f *FileMetadata) (InternalIterator, error) {
	m, err := c.table(f.FileNum)
	if err != nil {
		return nil, err
	}
	return m.newIter(), nil
}

func (c *fakeTableCache) Properties(f *FileMetadata) (*TableProperties, error) {
	m, err := c.table(f.FileNum)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.propertiesCalls++
	c.mu.Unlock()
	p := &TableProperties{}
	p.NumEntries = m.numEntries.Load()
	p.NumDeletions = m.numDeletes.Load()
	return p, nil
}

func (c *fakeTableCache) Evict(fileNum FileNum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, fileNum)
	delete(c.opened, fileNum)
}

func TestFakeTableCache(t *testing.T) {
	c := newFakeTableCache()
	f := c.addTable(t, 7, "b#3,SET:x a#5,DEL: c#4,MERGE:y")
	require.Equal(t, "a#5,DEL", f.Smallest.String())
	require.Equal(t, "c#4,MERGE", f.Largest.String())
	require.Equal(t, SeqNum(3), f.SmallestSeqNum)
	require.Equal(t, SeqNum(5), f.LargestSeqNum)

	p, err := c.Properties(f)
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.NumEntries)
	require.Equal(t, uint64(1), p.NumDeletions)

	g := MakeGetContext(DefaultComparer, DefaultMerger, []byte("b"))
	err = c.Get(ReadOptions{NoIO: true}, f, base.MakeLookupKey([]byte("b"), 10), &g)
	require.True(t, errors.Is(err, ErrIncomplete))
	require.NoError(t, c.FindTable(f))
	require.NoError(t, c.Get(ReadOptions{NoIO: true}, f, base.MakeLookupKey([]byte("b"), 10), &g))
	v, err := g.finish()
	require.NoError(t, err)
	require.Equal(t, "x", string(v))

	_, err = c.NewIterator(&FileMetadata{FileNum: 8})
	require.Error(t, err)
}
