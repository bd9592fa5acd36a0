// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// fifoCompactionPicker keeps the single level of a FIFO column family under
// FIFO.MaxTableFilesSize by deleting the oldest files.
type fifoCompactionPicker struct {
	compactionPickerBase
}

var _ CompactionPicker = (*fifoCompactionPicker)(nil)

func (p *fifoCompactionPicker) NeedsCompaction(vstorage *manifest.VersionStorageInfo) bool {
	return vstorage.CompactionScore(0) >= 1
}

func (p *fifoCompactionPicker) PickCompaction(
	opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo,
) *Compaction {
	files := vstorage.LevelFiles(0)
	totalSize := manifest.TotalFileSize(files)
	maxSize := opts.FIFO.MaxTableFilesSize
	if totalSize <= maxSize || len(files) == 0 {
		p.logger.Infof("[%s] FIFO compaction: nothing to do. Total size %d, max size %d",
			p.cfName, totalSize, maxSize)
		return nil
	}
	if len(p.level0InProgress) > 0 {
		p.logger.Infof("[%s] FIFO compaction: Already executing compaction. No need to run "+
			"parallel compactions since compactions are very fast", p.cfName)
		return nil
	}

	// Level 0 files are ordered newest first.
	inputs := []compactionLevel{{level: 0}}
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		totalSize -= min(totalSize, f.CompensatedSize)
		inputs[0].files = append(inputs[0].files, f)
		p.logger.Infof("[%s] FIFO compaction: picking file %s with size %s for deletion",
			p.cfName, f.FileNum, crhumanize.Bytes(f.Size, crhumanize.Compact, crhumanize.OmitI))
		if totalSize <= maxSize {
			break
		}
	}
	c := newCompaction(vstorage, opts, inputs, 0 /* output level */, 0, 0, 0, NoCompression,
		nil /* grandparents */, false /* manual */, vstorage.CompactionScore(0), true /* deletion */)
	p.register(p, c, true)
	return c
}

// CompactRange runs the automatic pick: a FIFO compaction only ever deletes
// the oldest files.
func (p *fifoCompactionPicker) CompactRange(
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	inputLevel, outputLevel int,
	outputPathID uint32,
	begin, end *InternalKey,
) (*Compaction, *InternalKey) {
	return p.PickCompaction(opts, vstorage), nil
}

func (p *fifoCompactionPicker) FormCompaction(
	opts *mutableCFOptions,
	inputs []compactionLevel,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) *Compaction {
	return p.formCompaction(p, opts, inputs, vstorage, outputLevel, outputPathID)
}
