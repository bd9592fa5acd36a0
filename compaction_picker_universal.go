// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"math"
	"slices"

	"github.com/lsmcore/lsmcore/internal/manifest"
)

// sortedRun is a set of files with disjoint key ranges: a single level 0
// file, or a whole level > 0. Universal compactions merge consecutive sorted
// runs, newest first.
type sortedRun struct {
	level int
	// file is set for level 0 runs.
	file            *manifest.FileMetadata
	size            uint64
	compensatedSize uint64
	beingCompacted  bool
}

func (r *sortedRun) String() string {
	if r.level == 0 {
		return fmt.Sprintf("file %s", r.file.FileNum)
	}
	return fmt.Sprintf("level %d", r.level)
}

func (r *sortedRun) sizeInfo(index int) string {
	return fmt.Sprintf("%s[%d]: %d bytes (compensated %d)", r, index, r.size, r.compensatedSize)
}

// calculateSortedRuns returns the sorted runs of the layout, newest first.
func calculateSortedRuns(vstorage *manifest.VersionStorageInfo) []sortedRun {
	var runs []sortedRun
	for _, f := range vstorage.LevelFiles(0) {
		runs = append(runs, sortedRun{
			level:           0,
			file:            f,
			size:            f.Size,
			compensatedSize: f.CompensatedSize,
			beingCompacted:  f.BeingCompacted,
		})
	}
	for level := 1; level < vstorage.NumLevels(); level++ {
		r := sortedRun{level: level}
		for _, f := range vstorage.LevelFiles(level) {
			r.size += f.Size
			r.compensatedSize += f.CompensatedSize
			r.beingCompacted = r.beingCompacted || f.BeingCompacted
		}
		if r.compensatedSize > 0 {
			runs = append(runs, r)
		}
	}
	return runs
}

// universalCompactionPicker picks the compactions of the universal style.
// Every sorted run is compacted as a whole, keeping the runs ordered by age:
// a compaction merges consecutive runs into one placed where the oldest of
// them was.
type universalCompactionPicker struct {
	compactionPickerBase
}

var _ CompactionPicker = (*universalCompactionPicker)(nil)

func (p *universalCompactionPicker) NeedsCompaction(vstorage *manifest.VersionStorageInfo) bool {
	return vstorage.CompactionScore(0) >= 1
}

// PickCompaction tries, in order, a compaction reducing size amplification,
// one of runs of similar sizes, and one reducing the number of runs below the
// level 0 trigger regardless of sizes.
func (p *universalCompactionPicker) PickCompaction(
	opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo,
) *Compaction {
	score := vstorage.CompactionScore(0)
	runs := calculateSortedRuns(vstorage)
	if len(runs) == 0 || len(runs) < opts.Level0FileNumCompactionTrigger {
		p.logger.Infof("[%s] Universal: nothing to do", p.cfName)
		return nil
	}
	p.logger.Infof("[%s] Universal: sorted runs files(%d): %s", p.cfName, len(runs), vstorage.LevelSummary())

	c := p.pickSizeAmp(opts, vstorage, score, runs)
	if c != nil {
		p.logger.Infof("[%s] Universal: compacting for size amp", p.cfName)
	} else if c = p.pickReadAmp(opts, vstorage, score, opts.Universal.SizeRatio, math.MaxUint, runs); c != nil {
		p.logger.Infof("[%s] Universal: compacting for size ratio", p.cfName)
	} else {
		numFiles := uint(len(runs) - opts.Level0FileNumCompactionTrigger)
		if c = p.pickReadAmp(opts, vstorage, score, math.MaxUint, numFiles, runs); c != nil {
			p.logger.Infof("[%s] Universal: compacting for file num -- %d", p.cfName, numFiles)
		}
	}
	if c == nil {
		return nil
	}
	if opts.Universal.AllowTrivialMove {
		c.trivialMove = p.inputsNonOverlapping(c)
	}
	p.register(p, c, true)
	return c
}

// pickReadAmp looks for the newest series of at least MinMergeWidth runs in
// which every run is no larger than the runs before it, grown by ratio
// percent. Under the total size stop style a run is compared to the sum of
// the runs before it, under the similar size style to the last one.
func (p *universalCompactionPicker) pickReadAmp(
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	score float64,
	ratio, maxNumberOfFiles uint,
	runs []sortedRun,
) *Compaction {
	uopts := &opts.Universal
	minMergeWidth := max(uopts.MinMergeWidth, 2)
	maxFilesToCompact := min(uopts.MaxMergeWidth, maxNumberOfFiles)
	grow := func(size uint64) float64 {
		return float64(size) * (100 + float64(ratio)) / 100
	}

	found := false
	startIndex := 0
	var candidateCount uint
	for loop := 0; loop < len(runs); loop++ {
		candidateCount = 0
		var sr *sortedRun
		for ; loop < len(runs); loop++ {
			if !runs[loop].beingCompacted {
				sr = &runs[loop]
				candidateCount = 1
				break
			}
			p.logger.Infof("[%s] Universal: %s[%d] being compacted, skipping", p.cfName, &runs[loop], loop)
		}
		if sr == nil {
			break
		}
		candidateSize := sr.compensatedSize
		p.logger.Infof("[%s] Universal: Possible candidate %s[%d].", p.cfName, sr, loop)

		for i := loop + 1; candidateCount < maxFilesToCompact && i < len(runs); i++ {
			succeeding := &runs[i]
			if succeeding.beingCompacted {
				break
			}
			if grow(candidateSize) < float64(succeeding.size) {
				break
			}
			if uopts.StopStyle == UniversalStopStyleSimilarSize {
				// A much smaller run starts a series of its own, picked by a
				// later iteration of the outer loop.
				if grow(succeeding.size) < float64(candidateSize) {
					break
				}
				candidateSize = succeeding.compensatedSize
			} else {
				candidateSize += succeeding.compensatedSize
			}
			candidateCount++
		}

		if candidateCount >= minMergeWidth {
			startIndex = loop
			found = true
			break
		}
		for i := loop; i < loop+int(candidateCount) && i < len(runs); i++ {
			p.logger.Infof("[%s] Universal: Skipping %s", p.cfName, runs[i].sizeInfo(i))
		}
	}
	if !found || candidateCount <= 1 {
		return nil
	}
	firstIndexAfter := startIndex + int(candidateCount)

	// Compression is skipped when the runs older than the outputs already
	// hold CompressionSizePercent of the data.
	enableCompression := true
	if uopts.CompressionSizePercent >= 0 {
		var totalSize uint64
		for i := range runs {
			totalSize += runs[i].compensatedSize
		}
		var olderSize uint64
		for i := len(runs) - 1; i >= firstIndexAfter; i-- {
			olderSize += runs[i].size
			if olderSize*100 >= totalSize*uint64(uopts.CompressionSizePercent) {
				enableCompression = false
				break
			}
		}
	}

	var estimatedTotalSize uint64
	for i := 0; i < firstIndexAfter; i++ {
		estimatedTotalSize += runs[i].size
	}
	pathID := p.pathID(opts, estimatedTotalSize)

	startLevel := runs[startIndex].level
	var outputLevel int
	switch {
	case firstIndexAfter == len(runs):
		outputLevel = vstorage.NumLevels() - 1
	case runs[firstIndexAfter].level == 0:
		outputLevel = 0
	default:
		outputLevel = runs[firstIndexAfter].level - 1
	}

	inputs := p.runInputs(vstorage, runs, startIndex, firstIndexAfter, "Picking")
	return newCompaction(vstorage, opts, inputs, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel), unlimitedOverlap, pathID,
		compressionForLevel(opts, startLevel, 1, enableCompression),
		nil /* grandparents */, false /* manual */, score, false /* deletion */)
}

// pickSizeAmp compacts every run into the last level when the runs newer
// than the oldest one hold more than MaxSizeAmplificationPercent of its
// bytes.
func (p *universalCompactionPicker) pickSizeAmp(
	opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo, score float64, runs []sortedRun,
) *Compaction {
	ratio := uint64(opts.Universal.MaxSizeAmplificationPercent)

	startIndex := -1
	for i := 0; i < len(runs)-1; i++ {
		if !runs[i].beingCompacted {
			startIndex = i
			break
		}
		p.logger.Infof("[%s] Universal: skipping %s compacted", p.cfName, runs[i].sizeInfo(i))
	}
	if startIndex < 0 {
		return nil
	}
	p.logger.Infof("[%s] Universal: First candidate %s", p.cfName, runs[startIndex].sizeInfo(startIndex))

	var candidateSize uint64
	for i := startIndex; i < len(runs)-1; i++ {
		if runs[i].beingCompacted {
			p.logger.Infof("[%s] Universal: Possible candidate %s is already being compacted. "+
				"No size amp reduction possible.", p.cfName, runs[i].sizeInfo(i))
			return nil
		}
		candidateSize += runs[i].compensatedSize
	}

	earliestFileSize := runs[len(runs)-1].size
	if candidateSize*100 < ratio*earliestFileSize {
		p.logger.Infof("[%s] Universal: size amp not needed. newer-files-total-size %d earliest-file-size %d",
			p.cfName, candidateSize, earliestFileSize)
		return nil
	}
	p.logger.Infof("[%s] Universal: size amp needed. newer-files-total-size %d earliest-file-size %d",
		p.cfName, candidateSize, earliestFileSize)

	var estimatedTotalSize uint64
	for i := startIndex; i < len(runs); i++ {
		estimatedTotalSize += runs[i].size
	}
	pathID := p.pathID(opts, estimatedTotalSize)
	outputLevel := vstorage.NumLevels() - 1

	inputs := p.runInputs(vstorage, runs, startIndex, len(runs), "size amp picking")
	// Every file is compacted: the output is always compressed.
	return newCompaction(vstorage, opts, inputs, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel), unlimitedOverlap, pathID,
		compressionForLevel(opts, outputLevel, 1, true),
		nil /* grandparents */, false /* manual */, score, false /* deletion */)
}

// runInputs returns the files of runs[start:end] grouped by level, from the
// level of the first run to the last level.
func (p *universalCompactionPicker) runInputs(
	vstorage *manifest.VersionStorageInfo, runs []sortedRun, start, end int, verb string,
) []compactionLevel {
	startLevel := runs[start].level
	inputs := make([]compactionLevel, vstorage.NumLevels()-startLevel)
	for i := range inputs {
		inputs[i].level = startLevel + i
	}
	for i := start; i < end; i++ {
		r := &runs[i]
		if r.level == 0 {
			inputs[0].files = append(inputs[0].files, r.file)
		} else {
			in := &inputs[r.level-startLevel]
			in.files = append(in.files, vstorage.LevelFiles(r.level)...)
		}
		p.logger.Infof("[%s] Universal: %s %s", p.cfName, verb, r.sizeInfo(i))
	}
	return inputs
}

// pathID returns the first DB path that can hold an output of fileSize bytes
// and, with the paths before it, the runs expected to be written before the
// output is compacted again.
func (p *universalCompactionPicker) pathID(opts *mutableCFOptions, fileSize uint64) uint32 {
	if len(p.dbPaths) == 0 {
		return 0
	}
	var futureSize uint64
	if r := uint64(opts.Universal.SizeRatio); r < 100 {
		futureSize = fileSize * (100 - r) / 100
	}
	var accumulated uint64
	var id uint32
	for ; int(id) < len(p.dbPaths)-1; id++ {
		target := p.dbPaths[id].TargetSize
		if target > fileSize && accumulated+(target-fileSize) > futureSize {
			return id
		}
		accumulated += target
	}
	return id
}

// inputsNonOverlapping returns true if no two input files of the compaction
// share a user key.
func (p *universalCompactionPicker) inputsNonOverlapping(c *Compaction) bool {
	var files []*manifest.FileMetadata
	for i := range c.inputs {
		files = append(files, c.inputs[i].files...)
	}
	ucmp := p.cmp.Compare
	slices.SortFunc(files, func(a, b *manifest.FileMetadata) int {
		return ucmp(a.Smallest.UserKey, b.Smallest.UserKey)
	})
	for i := 1; i < len(files); i++ {
		if ucmp(files[i-1].Largest.UserKey, files[i].Smallest.UserKey) >= 0 {
			return false
		}
	}
	return true
}

func (p *universalCompactionPicker) CompactRange(
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	inputLevel, outputLevel int,
	outputPathID uint32,
	begin, end *InternalKey,
) (*Compaction, *InternalKey) {
	return p.compactRange(p, opts, vstorage, inputLevel, outputLevel, outputPathID, begin, end)
}

func (p *universalCompactionPicker) FormCompaction(
	opts *mutableCFOptions,
	inputs []compactionLevel,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) *Compaction {
	return p.formCompaction(p, opts, inputs, vstorage, outputLevel, outputPathID)
}
