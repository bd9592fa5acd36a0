// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cockroachdb/crlib/crhumanize"
)

// LevelMetrics holds the metrics of a level of the current version.
type LevelMetrics struct {
	// The number of files in the level.
	NumFiles int64
	// The total size in bytes of the files in the level.
	Size uint64
	// The compaction score of the level.
	Score float64
	// The number of files of the level that are inputs of running
	// compactions.
	NumFilesBeingCompacted int64
}

func (m *LevelMetrics) format(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "%6d %9s %7.2f %6d\n",
		m.NumFiles,
		crhumanize.Bytes(m.Size, crhumanize.Compact, crhumanize.OmitI),
		m.Score,
		m.NumFilesBeingCompacted,
	)
}

// ColumnFamilyMetrics holds the metrics of a column family.
type ColumnFamilyMetrics struct {
	Name   string
	ID     uint32
	Levels []LevelMetrics
	// The memory used by the mutable memtable and by the immutable ones.
	MemTableSize          uint64
	ImmutableMemTableSize uint64
	NumImmutableMemTables int
	WriteStall            WriteStallCondition
	SuperVersionNumber    uint64
	LogNumber             FileNum
}

// VersionSetMetrics holds the metrics of a version set.
type VersionSetMetrics struct {
	Manifest struct {
		FileNum  FileNum
		FileSize uint64
		// The number of manifests written since the version set was created.
		Rollovers int64
	}
	LogAndApply struct {
		// Count is the number of LogAndApply calls, and BatchedEdits the
		// number of edits written by a call on behalf of other queued calls.
		Count        int64
		BatchedEdits int64
		P50          time.Duration
		P99          time.Duration
		Max          time.Duration
	}
	Cleaner struct {
		// QueuedTables are obsolete tables not handed to the cleaner yet.
		QueuedTables      int
		DeletedTables     int64
		DeletedTableBytes uint64
		DeletedManifests  int64
	}
	WriteBuffer struct {
		Usage uint64
		Size  uint64
	}
	WritesStopped  bool
	WritesDelayed  bool
	NextFileNum    FileNum
	LastSequence   SeqNum
	ColumnFamilies []ColumnFamilyMetrics
}

// Metrics returns the metrics of the version set and of every live column
// family.
func (vs *VersionSet) Metrics() *VersionSetMetrics {
	m := &VersionSetMetrics{}
	m.Manifest.FileNum = vs.manifestFileNum
	m.Manifest.FileSize = vs.manifestFileSize
	m.Manifest.Rollovers = vs.metrics.rollovers
	m.LogAndApply.Count = vs.metrics.logAndApplies
	m.LogAndApply.BatchedEdits = vs.metrics.batchedEdits
	if h := vs.metrics.latency; h.TotalCount() > 0 {
		m.LogAndApply.P50 = time.Duration(h.ValueAtQuantile(50)) * time.Microsecond
		m.LogAndApply.P99 = time.Duration(h.ValueAtQuantile(99)) * time.Microsecond
		m.LogAndApply.Max = time.Duration(h.Max()) * time.Microsecond
	}
	m.Cleaner.QueuedTables = len(vs.obsoleteTables)
	m.Cleaner.DeletedTables = vs.cleaner.deletedTables.Load()
	m.Cleaner.DeletedTableBytes = vs.cleaner.deletedTableBytes.Load()
	m.Cleaner.DeletedManifests = vs.cleaner.deletedManifests.Load()
	m.WriteBuffer.Usage = vs.wbm.MemoryUsage()
	m.WriteBuffer.Size = vs.wbm.BufferSize()
	m.WritesStopped = vs.wc.IsStopped()
	m.WritesDelayed = vs.wc.NeedsDelay()
	m.NextFileNum = FileNum(vs.nextFileNum.Load())
	m.LastSequence = vs.LastSequence()

	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if cfd.IsDropped() || cfd.current == nil {
			return
		}
		cm := ColumnFamilyMetrics{
			Name:                  cfd.Name(),
			ID:                    cfd.ID(),
			Levels:                make([]LevelMetrics, cfd.NumLevels()),
			MemTableSize:          cfd.mem.approximateMemoryUsage(),
			ImmutableMemTableSize: cfd.imm.approximateMemoryUsage(),
			NumImmutableMemTables: cfd.imm.numNotFlushed(),
			WriteStall:            cfd.writeStall,
			SuperVersionNumber:    cfd.SuperVersionNumber(),
			LogNumber:             cfd.logNumber,
		}
		s := cfd.current.Storage
		for level := range cm.Levels {
			l := &cm.Levels[level]
			files := s.LevelFiles(level)
			l.NumFiles = int64(len(files))
			l.Size = s.NumLevelBytes(level)
			for _, f := range files {
				if f.BeingCompacted {
					l.NumFilesBeingCompacted++
				}
			}
		}
		// Scores are indexed by rank; report them by level.
		for i := 0; i < s.NumLevels(); i++ {
			cm.Levels[s.CompactionScoreLevel(i)].Score = s.CompactionScore(i)
		}
		m.ColumnFamilies = append(m.ColumnFamilies, cm)
	})
	return m
}

// String pretty-prints the metrics, with a table of levels per column
// family:
//
//	manifest 000005    1.2KB  rollovers 1
//	log-and-apply 12 (batched 3)  p50 120µs  p99 2.1ms  max 2.8ms
//	[default] id 0 memtable 64KB imm 0 stall normal
//	level__files______size___score__busy
//	    0      2     4.1KB    0.50      0
//	    1      0       0B     0.00      0
//	total      2     4.1KB       -      0
func (m *VersionSetMetrics) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "manifest %s %8s  rollovers %d\n",
		m.Manifest.FileNum,
		crhumanize.Bytes(m.Manifest.FileSize, crhumanize.Compact, crhumanize.OmitI),
		m.Manifest.Rollovers)
	fmt.Fprintf(&buf, "log-and-apply %d (batched %d)  p50 %s  p99 %s  max %s\n",
		m.LogAndApply.Count, m.LogAndApply.BatchedEdits,
		m.LogAndApply.P50, m.LogAndApply.P99, m.LogAndApply.Max)
	fmt.Fprintf(&buf, "cleaner queued %d  deleted %d tables (%s) %d manifests\n",
		m.Cleaner.QueuedTables, m.Cleaner.DeletedTables,
		crhumanize.Bytes(m.Cleaner.DeletedTableBytes, crhumanize.Compact, crhumanize.OmitI),
		m.Cleaner.DeletedManifests)
	for i := range m.ColumnFamilies {
		cf := &m.ColumnFamilies[i]
		fmt.Fprintf(&buf, "[%s] id %d memtable %s imm %d stall %s\n",
			cf.Name, cf.ID,
			crhumanize.Bytes(cf.MemTableSize, crhumanize.Compact, crhumanize.OmitI),
			cf.NumImmutableMemTables, cf.WriteStall)
		fmt.Fprintf(&buf, "level__files______size___score__busy\n")
		var total LevelMetrics
		for level := range cf.Levels {
			l := &cf.Levels[level]
			fmt.Fprintf(&buf, "%5d ", level)
			l.format(&buf)
			total.NumFiles += l.NumFiles
			total.Size += l.Size
			total.NumFilesBeingCompacted += l.NumFilesBeingCompacted
		}
		fmt.Fprintf(&buf, "total %6d %9s       - %6d\n",
			total.NumFiles,
			crhumanize.Bytes(total.Size, crhumanize.Compact, crhumanize.OmitI),
			total.NumFilesBeingCompacted)
	}
	return buf.String()
}
