// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

// applyEdits applies the edits, separated by "--" lines, to from and returns
// the resulting layout.
func applyEdits(from *VersionStorageInfo, input string) (*VersionStorageInfo, error) {
	b := NewBuilder(from.Comparer(), from)
	defer b.Release()
	for _, s := range strings.Split(input, "\n--\n") {
		ve, err := ParseVersionEditDebug(s)
		if err != nil {
			return nil, err
		}
		if err := b.Apply(ve); err != nil {
			return nil, err
		}
	}
	to := NewVersionStorageInfo(from.Comparer(), from.NumLevels(), from.Style(), from)
	b.SaveTo(to)
	return to, nil
}

func TestBuilder(t *testing.T) {
	var current *VersionStorageInfo
	datadriven.RunTest(t, "testdata/version_builder", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "define", "apply":
			from := current
			if d.Cmd == "define" {
				from = NewVersionStorageInfo(base.DefaultComparer, 7, CompactionStyleLevel, nil)
			}
			s, err := applyEdits(from, d.Input)
			if err != nil {
				return err.Error()
			}
			current = s
			out := s.String()
			if d.HasArg("refs") {
				var refs []string
				for level := 0; level < s.NumLevels(); level++ {
					for _, f := range s.LevelFiles(level) {
						refs = append(refs, fmt.Sprintf("%s=%d", f.FileNum, f.Refs()))
					}
				}
				out += "refs: " + strings.Join(refs, " ") + "\n"
			}
			return out
		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}

func TestBuilderDoesNotModifyBase(t *testing.T) {
	from, err := applyEdits(NewVersionStorageInfo(base.DefaultComparer, 3, CompactionStyleLevel, nil),
		"add-table: L1 000001:[a#1,SET-b#1,SET]")
	require.NoError(t, err)
	before := from.String()

	to, err := applyEdits(from, "del-table: L1 000001\nadd-table: L2 000002:[c#2,SET-d#2,SET]")
	require.NoError(t, err)
	require.Equal(t, before, from.String())
	require.Equal(t, "L2:\n  000002:[c#2,SET-d#2,SET] seqnums:[2-2]\n", to.String())
	require.Equal(t, int32(1), from.LevelFiles(1)[0].Refs())
}

func TestLevelOrdering(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	a := mustParseFile(t, "000001:[a#1,SET-b#1,SET] seqnums:[1-5]")
	b := mustParseFile(t, "000002:[a#1,SET-b#1,SET] seqnums:[1-5]")
	c := mustParseFile(t, "000003:[a#1,SET-b#1,SET] seqnums:[2-5]")
	d := mustParseFile(t, "000004:[a#1,SET-b#1,SET] seqnums:[1-6]")

	// Level 0: newest largest seqnum, then the larger file number.
	require.True(t, NewestFirst(d, a))
	require.True(t, NewestFirst(c, a))
	require.True(t, NewestFirst(b, a))
	require.False(t, NewestFirst(a, b))

	// The smallest seqnum plays no part.
	older := mustParseFile(t, "000005:[a#10,SET-b#20,SET] seqnums:[10-20]")
	wider := mustParseFile(t, "000006:[a#5,SET-b#20,SET] seqnums:[5-20]")
	require.True(t, NewestFirst(wider, older))
	require.False(t, NewestFirst(older, wider))

	// Levels > 0: smallest key, then the larger file number.
	require.True(t, BySmallestKey(cmp, b, a))
	require.False(t, BySmallestKey(cmp, a, b))
	e := mustParseFile(t, "000001:[0#1,SET-1#1,SET]")
	require.True(t, BySmallestKey(cmp, e, b))
}

type countingLoader struct {
	mu     sync.Mutex
	opened []base.FileNum
	active atomic.Int32
	peak   atomic.Int32
	fail   base.FileNum
}

func (l *countingLoader) FindTable(f *FileMetadata) error {
	n := l.active.Add(1)
	defer l.active.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	l.mu.Lock()
	l.opened = append(l.opened, f.FileNum)
	l.mu.Unlock()
	if f.FileNum == l.fail {
		return errors.Newf("cannot open %s", f.FileNum)
	}
	return nil
}

func TestBuilderLoadTableHandles(t *testing.T) {
	from := NewVersionStorageInfo(base.DefaultComparer, 4, CompactionStyleLevel, nil)
	b := NewBuilder(base.DefaultComparer, from)
	defer b.Release()
	var ve VersionEdit
	for i := 1; i <= 20; i++ {
		k := fmt.Sprintf("k%02d", i)
		ve.AddFile(1+i%3, mustParseFile(t, fmt.Sprintf("%06d:[%s#1,SET-%s#1,SET]", i, k, k)))
	}
	require.NoError(t, b.Apply(&ve))

	l := &countingLoader{}
	require.NoError(t, b.LoadTableHandles(l, 3))
	require.Len(t, l.opened, 20)
	require.LessOrEqual(t, l.peak.Load(), int32(3))

	l = &countingLoader{fail: 7}
	require.ErrorContains(t, b.LoadTableHandles(l, 2), "cannot open 000007")
}
