// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
)

// The special levels of a manual compaction.
const (
	// CompactAllLevels compacts every file of a universal column family into
	// the last level.
	CompactAllLevels = -1
	// CompactToBaseLevel sends the outputs of a compaction from level 0 to the
	// base level.
	CompactToBaseLevel = -2
)

// CompactionPicker chooses the compactions of a column family. A picker is
// created per column family and keeps track of the compactions it handed out
// until they are released. All of the methods require the DB mutex.
type CompactionPicker interface {
	// NeedsCompaction returns true if PickCompaction may return a compaction
	// for the layout.
	NeedsCompaction(vstorage *manifest.VersionStorageInfo) bool
	// PickCompaction returns the next automatic compaction, or nil if there
	// is none to run. The input files of the compaction are marked as being
	// compacted.
	PickCompaction(opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo) *Compaction
	// CompactRange returns a manual compaction of the files of inputLevel
	// overlapping [begin, end] into outputLevel. A nil bound is unbounded. If
	// the compaction covers only a prefix of the range, compactionEnd is the
	// key the next compaction of the range should start from.
	CompactRange(
		opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo,
		inputLevel, outputLevel int, outputPathID uint32, begin, end *InternalKey,
	) (c *Compaction, compactionEnd *InternalKey)
	// MaxOutputLevel returns the largest level the picker compacts into.
	MaxOutputLevel() int
	// SanitizeCompactionInputFiles adds to fileNums the files a compaction of
	// fileNums into outputLevel must include to keep the levels sorted.
	SanitizeCompactionInputFiles(
		fileNums map[FileNum]struct{}, vstorage *manifest.VersionStorageInfo, outputLevel int,
	) error
	// GetCompactionInputsFromFileNumbers returns the files of fileNums grouped
	// by level, from the first level holding one of them to the last.
	GetCompactionInputsFromFileNumbers(
		fileNums map[FileNum]struct{}, vstorage *manifest.VersionStorageInfo,
	) ([]compactionLevel, error)
	// FormCompaction returns a manual compaction of the inputs.
	FormCompaction(
		opts *mutableCFOptions, inputs []compactionLevel, vstorage *manifest.VersionStorageInfo,
		outputLevel int, outputPathID uint32,
	) *Compaction
	// ReleaseCompactionFiles forgets a compaction that finished, with the
	// error it failed with, if any.
	ReleaseCompactionFiles(c *Compaction, err error)
	// NumLevel0CompactionsInProgress returns the number of running
	// compactions reading level 0.
	NumLevel0CompactionsInProgress() int
}

// newCompactionPicker returns the picker of the compaction style.
func newCompactionPicker(
	style CompactionStyle, cfName string, cmp *Comparer, logger Logger, dbPaths []DBPath, numLevels int,
) CompactionPicker {
	b := compactionPickerBase{
		cfName:           cfName,
		cmp:              cmp,
		logger:           logger,
		dbPaths:          dbPaths,
		style:            style,
		numLevels:        numLevels,
		level0InProgress: make(map[*Compaction]struct{}),
	}
	switch style {
	case CompactionStyleUniversal:
		b.maxOutputLevel = numLevels - 1
		return &universalCompactionPicker{compactionPickerBase: b}
	case CompactionStyleFIFO:
		b.maxOutputLevel = 0
		return &fifoCompactionPicker{compactionPickerBase: b}
	case CompactionStyleNone:
		b.maxOutputLevel = numLevels - 1
		return &nullCompactionPicker{compactionPickerBase: b}
	default:
		b.maxOutputLevel = numLevels - 1
		return &levelCompactionPicker{compactionPickerBase: b}
	}
}

// compactionPickerBase holds the behavior shared by the compaction styles:
// the expansion rules that keep a compaction's inputs closed under user key
// overlap, manual compactions, and the bookkeeping of running level 0
// compactions.
type compactionPickerBase struct {
	cfName         string
	cmp            *Comparer
	logger         Logger
	dbPaths        []DBPath
	style          CompactionStyle
	numLevels      int
	maxOutputLevel int
	// level0InProgress holds the running compactions that read level 0.
	// Universal and FIFO compactions are always tracked here.
	level0InProgress map[*Compaction]struct{}
}

func (p *compactionPickerBase) MaxOutputLevel() int { return p.maxOutputLevel }

func (p *compactionPickerBase) NumLevel0CompactionsInProgress() int {
	return len(p.level0InProgress)
}

// register hands the compaction out: its files are marked as being compacted
// and it is tracked until released.
func (p *compactionPickerBase) register(picker CompactionPicker, c *Compaction, trackL0 bool) {
	c.picker = picker
	c.MarkFilesBeingCompacted(true)
	if trackL0 {
		p.level0InProgress[c] = struct{}{}
	}
}

func (p *compactionPickerBase) ReleaseCompactionFiles(c *Compaction, err error) {
	delete(p.level0InProgress, c)
	if err != nil {
		c.resetNextCompactionIndex()
	}
}

// getRange returns the smallest and largest keys of the inputs. The files of
// levels other than 0 are sorted and disjoint.
func (p *compactionPickerBase) getRange(inputs ...*compactionLevel) (smallest, largest InternalKey) {
	first := true
	update := func(s, l InternalKey) {
		if first || base.InternalCompare(p.cmp.Compare, s, smallest) < 0 {
			smallest = s
		}
		if first || base.InternalCompare(p.cmp.Compare, l, largest) > 0 {
			largest = l
		}
		first = false
	}
	for _, in := range inputs {
		if in.empty() {
			continue
		}
		if in.level == 0 {
			for _, f := range in.files {
				update(f.Smallest, f.Largest)
			}
		} else {
			update(in.files[0].Smallest, in.files[len(in.files)-1].Largest)
		}
	}
	return smallest, largest
}

// filesInCompaction returns true if any of the files is being compacted.
func filesInCompaction(files []*manifest.FileMetadata) bool {
	for _, f := range files {
		if f.BeingCompacted {
			return true
		}
	}
	return false
}

// rangeInCompaction returns true if a file of the level overlapping
// [smallest, largest] is being compacted. levelIndex is the hint index of the
// search, updated to that of an overlapping file.
func (p *compactionPickerBase) rangeInCompaction(
	vstorage *manifest.VersionStorageInfo, smallest, largest *InternalKey, level int, levelIndex *int,
) bool {
	var files []*manifest.FileMetadata
	files, *levelIndex = vstorage.GetOverlappingInputs(level, smallest, largest, *levelIndex)
	return filesInCompaction(files)
}

// expandWhileOverlapping grows the inputs of a level > 0 until no file
// outside of them shares a user key with them. Splitting the versions of a
// user key across a compaction boundary would let an older version of the
// key live at a newer level. It returns false if one of the files the
// inputs grew to is being compacted.
func (p *compactionPickerBase) expandWhileOverlapping(
	vstorage *manifest.VersionStorageInfo, inputs *compactionLevel,
) bool {
	if inputs.empty() || inputs.level == 0 {
		return true
	}
	hint := -1
	for {
		n := len(inputs.files)
		smallest, largest := p.getRange(inputs)
		inputs.files, hint = vstorage.GetOverlappingInputs(inputs.level, &smallest, &largest, hint)
		if len(inputs.files) <= n {
			break
		}
	}
	if filesInCompaction(inputs.files) {
		p.logger.Infof("[%s] ExpandWhileOverlapping() failure because some of the necessary "+
			"compaction input files are currently being compacted.", p.cfName)
		return false
	}
	return true
}

// setupOtherInputs fills outputLevelInputs with the files of the output
// level overlapping the inputs, then grows the inputs if that does not grow
// the output level files and the compaction stays within
// ExpandedCompactionByteSizeLimit. It returns false if an output level file
// is being compacted.
func (p *compactionPickerBase) setupOtherInputs(
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	inputs, outputLevelInputs *compactionLevel,
	parentIndex, baseIndex int,
) bool {
	inputLevel, outputLevel := inputs.level, outputLevelInputs.level
	if inputLevel == outputLevel {
		return true
	}
	smallest, largest := p.getRange(inputs)
	outputLevelInputs.files, parentIndex = vstorage.GetOverlappingInputs(outputLevel, &smallest, &largest, parentIndex)
	if filesInCompaction(outputLevelInputs.files) {
		return false
	}
	if outputLevelInputs.empty() {
		return true
	}

	allStart, allLimit := p.getRange(inputs, outputLevelInputs)
	expanded0, _ := vstorage.GetOverlappingInputs(inputLevel, &allStart, &allLimit, baseIndex)
	inputs0Size := manifest.TotalFileSize(inputs.files)
	inputs1Size := manifest.TotalFileSize(outputLevelInputs.files)
	expanded0Size := manifest.TotalFileSize(expanded0)
	limit := opts.ExpandedCompactionByteSizeLimit(inputLevel)
	if len(expanded0) <= len(inputs.files) ||
		inputs1Size+expanded0Size >= limit ||
		filesInCompaction(expanded0) ||
		vstorage.HasOverlappingUserKey(expanded0, inputLevel) {
		return true
	}
	newStart, newLimit := p.getRange(&compactionLevel{level: inputLevel, files: expanded0})
	expanded1, _ := vstorage.GetOverlappingInputs(outputLevel, &newStart, &newLimit, parentIndex)
	if len(expanded1) != len(outputLevelInputs.files) || filesInCompaction(expanded1) {
		return true
	}
	p.logger.Infof("[%s] Expanding@%d %d+%d(%d+%d bytes) to %d+%d (%d+%d bytes)",
		p.cfName, inputLevel, len(inputs.files), len(outputLevelInputs.files),
		inputs0Size, inputs1Size, len(expanded0), len(expanded1),
		expanded0Size, inputs1Size)
	inputs.files = expanded0
	outputLevelInputs.files = expanded1
	return true
}

// getGrandparents returns the files of the level below the output level
// overlapping the compaction.
func (p *compactionPickerBase) getGrandparents(
	vstorage *manifest.VersionStorageInfo, inputs, outputLevelInputs *compactionLevel,
) []*manifest.FileMetadata {
	if outputLevelInputs.level+1 >= p.numLevels {
		return nil
	}
	start, limit := p.getRange(inputs, outputLevelInputs)
	grandparents, _ := vstorage.GetOverlappingInputs(outputLevelInputs.level+1, &start, &limit, -1)
	return grandparents
}

// compactRange implements CompactRange for the level and universal styles.
func (p *compactionPickerBase) compactRange(
	picker CompactionPicker,
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	inputLevel, outputLevel int,
	outputPathID uint32,
	begin, end *InternalKey,
) (*Compaction, *InternalKey) {
	if inputLevel == CompactAllLevels {
		return p.compactAllLevels(picker, opts, vstorage, outputLevel, outputPathID)
	}
	if outputLevel == CompactToBaseLevel {
		outputLevel = vstorage.BaseLevel()
	}
	if p.style == CompactionStyleUniversal {
		// Universal compactions always cover the whole key space of the
		// inputs.
		begin, end = nil, nil
	}
	files, _ := vstorage.GetOverlappingInputs(inputLevel, begin, end, -1)
	if len(files) == 0 {
		return nil, nil
	}
	inputs := compactionLevel{level: inputLevel, files: files}

	// Bound the bytes of a single manual compaction. Level 0 files overlap
	// and must be compacted together.
	var compactionEnd *InternalKey
	if inputLevel > 0 {
		limit := multiplyCheckOverflow(opts.MaxFileSizeForLevel(inputLevel), uint64(opts.SourceCompactionFactor))
		var total uint64
		for i := 0; i+1 < len(files); i++ {
			total += files[i].CompensatedSize
			if total >= limit {
				next := files[i+1].Smallest
				compactionEnd = &next
				inputs.files = files[:i+1]
				break
			}
		}
	}
	if !p.expandWhileOverlapping(vstorage, &inputs) || filesInCompaction(inputs.files) {
		p.logger.Infof("[%s] Unable to perform CompactRange compact due to expansion failure. "+
			"Possible causes: some of the necessary compaction input files are currently being compacted.",
			p.cfName)
		return nil, nil
	}

	outputLevelInputs := compactionLevel{level: outputLevel}
	if inputLevel != outputLevel {
		if !p.setupOtherInputs(opts, vstorage, &inputs, &outputLevelInputs, -1, -1) {
			return nil, nil
		}
	}
	levels := []compactionLevel{inputs}
	if !outputLevelInputs.empty() {
		levels = append(levels, outputLevelInputs)
	}
	c := newCompaction(vstorage, opts, levels, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel),
		opts.MaxGrandparentOverlapBytes(inputLevel),
		outputPathID,
		compressionForLevel(opts, outputLevel, vstorage.BaseLevel(), true),
		p.getGrandparents(vstorage, &inputs, &outputLevelInputs),
		true /* manual */, 0 /* score */, false /* deletion */)
	p.register(picker, c, inputLevel == 0 || p.style == CompactionStyleUniversal)
	return c, compactionEnd
}

// compactAllLevels returns a universal compaction of every file into the
// output level.
func (p *compactionPickerBase) compactAllLevels(
	picker CompactionPicker,
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) (*Compaction, *InternalKey) {
	start := 0
	for start < vstorage.NumLevels() && vstorage.NumLevelFiles(start) == 0 {
		start++
	}
	if start == vstorage.NumLevels() {
		return nil, nil
	}
	inputs := make([]compactionLevel, 0, vstorage.NumLevels()-start)
	for level := start; level < vstorage.NumLevels(); level++ {
		files := slices.Clone(vstorage.LevelFiles(level))
		if filesInCompaction(files) {
			return nil, nil
		}
		inputs = append(inputs, compactionLevel{level: level, files: files})
	}
	c := newCompaction(vstorage, opts, inputs, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel), unlimitedOverlap, outputPathID,
		compressionForLevel(opts, outputLevel, 1, true),
		nil /* grandparents */, true /* manual */, 0 /* score */, false /* deletion */)
	p.register(picker, c, true)
	return c, nil
}

func (p *compactionPickerBase) GetCompactionInputsFromFileNumbers(
	fileNums map[FileNum]struct{}, vstorage *manifest.VersionStorageInfo,
) ([]compactionLevel, error) {
	if len(fileNums) == 0 {
		return nil, base.InvalidArgumentErrorf("Compaction must include at least one file.")
	}
	missing := make(map[FileNum]struct{}, len(fileNums))
	for n := range fileNums {
		missing[n] = struct{}{}
	}
	matched := make([]compactionLevel, vstorage.NumLevels())
	first, last := -1, -1
	for level := range matched {
		matched[level].level = level
		for _, f := range vstorage.LevelFiles(level) {
			if _, ok := missing[f.FileNum]; !ok {
				continue
			}
			delete(missing, f.FileNum)
			matched[level].files = append(matched[level].files, f)
			if first < 0 {
				first = level
			}
			last = level
		}
	}
	if len(missing) > 0 {
		nums := make([]FileNum, 0, len(missing))
		for n := range missing {
			nums = append(nums, n)
		}
		slices.Sort(nums)
		var buf bytes.Buffer
		for _, n := range nums {
			fmt.Fprintf(&buf, " %d", n)
		}
		return nil, base.InvalidArgumentErrorf(
			"Cannot find matched SST files for the following file numbers:%s", buf.String())
	}
	return matched[first : last+1], nil
}

func (p *compactionPickerBase) SanitizeCompactionInputFiles(
	fileNums map[FileNum]struct{}, vstorage *manifest.VersionStorageInfo, outputLevel int,
) error {
	numLevels := vstorage.NumLevels()
	switch {
	case outputLevel >= numLevels:
		return base.InvalidArgumentErrorf("Output level for column family %s must between [0, %d].",
			errors.Safe(p.cfName), numLevels-1)
	case outputLevel > p.MaxOutputLevel():
		return base.InvalidArgumentErrorf(
			"Exceed the maximum output level defined by the current compaction algorithm --- %d",
			p.MaxOutputLevel())
	case outputLevel < 0:
		return base.InvalidArgumentErrorf("Output level cannot be negative.")
	case len(fileNums) == 0:
		return base.InvalidArgumentErrorf("A compaction must contain at least one file.")
	}
	if err := p.sanitizeAllLevels(fileNums, vstorage, outputLevel); err != nil {
		return err
	}
	for n := range fileNums {
		f, ok := findFile(vstorage, n)
		if !ok {
			return base.InvalidArgumentErrorf(
				"Specified compaction input file %s does not exist in column family %s.",
				n, errors.Safe(p.cfName))
		}
		if f.BeingCompacted {
			return abortedErrorf("Specified compaction input file %s is already being compacted.", n)
		}
	}
	return nil
}

// sanitizeAllLevels grows fileNums level by level: the files of a level
// between two inputs are inputs, so are the files of a level > 0 sharing a
// boundary user key with an input, and so are the files of the following
// levels up to outputLevel overlapping the key range of the inputs.
func (p *compactionPickerBase) sanitizeAllLevels(
	fileNums map[FileNum]struct{}, vstorage *manifest.VersionStorageInfo, outputLevel int,
) error {
	ucmp := p.cmp.Compare
	var smallest, largest []byte
	haveRange := false
	for l := 0; l <= outputLevel; l++ {
		files := vstorage.LevelFiles(l)
		firstIncluded, lastIncluded := len(files), -1
		for i, f := range files {
			if _, ok := fileNums[f.FileNum]; !ok {
				continue
			}
			firstIncluded = min(firstIncluded, i)
			lastIncluded = max(lastIncluded, i)
			if !haveRange {
				smallest, largest = f.Smallest.UserKey, f.Largest.UserKey
				haveRange = true
			}
		}
		if lastIncluded < 0 {
			continue
		}
		if l != 0 {
			for firstIncluded > 0 &&
				ucmp(files[firstIncluded-1].Largest.UserKey, files[firstIncluded].Smallest.UserKey) >= 0 {
				firstIncluded--
			}
			for lastIncluded < len(files)-1 &&
				ucmp(files[lastIncluded+1].Smallest.UserKey, files[lastIncluded].Largest.UserKey) <= 0 {
				lastIncluded++
			}
		}
		for _, f := range files[firstIncluded : lastIncluded+1] {
			if f.BeingCompacted {
				return abortedErrorf("Necessary compaction input file %s is currently being compacted.", f.FileNum)
			}
			fileNums[f.FileNum] = struct{}{}
		}
		if l == 0 {
			for _, f := range files[firstIncluded : lastIncluded+1] {
				if ucmp(smallest, f.Smallest.UserKey) > 0 {
					smallest = f.Smallest.UserKey
				}
				if ucmp(largest, f.Largest.UserKey) < 0 {
					largest = f.Largest.UserKey
				}
			}
		} else {
			if ucmp(smallest, files[firstIncluded].Smallest.UserKey) > 0 {
				smallest = files[firstIncluded].Smallest.UserKey
			}
			if ucmp(largest, files[lastIncluded].Largest.UserKey) < 0 {
				largest = files[lastIncluded].Largest.UserKey
			}
		}
		for m := l + 1; m <= outputLevel; m++ {
			for _, f := range vstorage.LevelFiles(m) {
				if ucmp(f.Smallest.UserKey, largest) > 0 || ucmp(f.Largest.UserKey, smallest) < 0 {
					continue
				}
				if f.BeingCompacted {
					return abortedErrorf("File %s that has overlapping key range with one of the compaction "+
						" input file is currently being compacted.", f.FileNum)
				}
				fileNums[f.FileNum] = struct{}{}
			}
		}
	}
	return nil
}

func findFile(vstorage *manifest.VersionStorageInfo, fileNum FileNum) (*manifest.FileMetadata, bool) {
	for level := 0; level < vstorage.NumLevels(); level++ {
		for _, f := range vstorage.LevelFiles(level) {
			if f.FileNum == fileNum {
				return f, true
			}
		}
	}
	return nil, false
}

func abortedErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrAborted)
}

// formCompaction implements FormCompaction.
func (p *compactionPickerBase) formCompaction(
	picker CompactionPicker,
	opts *mutableCFOptions,
	inputs []compactionLevel,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) *Compaction {
	maxGrandparentOverlap := unlimitedOverlap
	if outputLevel+1 < vstorage.NumLevels() {
		maxGrandparentOverlap = opts.MaxGrandparentOverlapBytes(outputLevel + 1)
	}
	c := newCompaction(vstorage, opts, inputs, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel), maxGrandparentOverlap, outputPathID,
		compressionForLevel(opts, outputLevel, vstorage.BaseLevel(), true),
		nil /* grandparents */, true /* manual */, 0 /* score */, false /* deletion */)
	p.register(picker, c, c.startLevel == 0 || p.style != CompactionStyleLevel)
	return c
}

// levelCompactionPicker picks the compactions of the level style: the level
// with the highest score compacts its largest file not being compacted into
// the next level.
type levelCompactionPicker struct {
	compactionPickerBase
}

var _ CompactionPicker = (*levelCompactionPicker)(nil)

func (p *levelCompactionPicker) NeedsCompaction(vstorage *manifest.VersionStorageInfo) bool {
	if len(vstorage.FilesMarkedForCompaction()) > 0 {
		return true
	}
	for i := 0; i <= vstorage.MaxInputLevel(); i++ {
		if vstorage.CompactionScore(i) >= 1 {
			return true
		}
	}
	return false
}

func (p *levelCompactionPicker) PickCompaction(
	opts *mutableCFOptions, vstorage *manifest.VersionStorageInfo,
) *Compaction {
	var inputs compactionLevel
	var score float64
	level, outputLevel := -1, -1
	parentIndex, baseIndex := -1, -1

	for i := 0; i < vstorage.NumLevels()-1; i++ {
		score = vstorage.CompactionScore(i)
		level = vstorage.CompactionScoreLevel(i)
		if score < 1 {
			// Scores are sorted: no later level needs a compaction.
			break
		}
		outputLevel = level + 1
		if level == 0 {
			outputLevel = vstorage.BaseLevel()
		}
		if p.pickBySize(vstorage, level, outputLevel, &inputs, &parentIndex, &baseIndex) &&
			p.expandWhileOverlapping(vstorage, &inputs) {
			break
		}
		inputs = compactionLevel{}
	}

	manual := false
	if inputs.empty() {
		manual = true
		parentIndex, baseIndex = -1, -1
		level, outputLevel, inputs = p.pickFilesMarkedForCompaction(vstorage)
	}
	if inputs.empty() {
		return nil
	}

	if level == 0 {
		// Level 0 files overlap: every file overlapping the pick is part of
		// the compaction. Only one level 0 compaction runs at a time, so
		// none of them is being compacted.
		smallest, largest := p.getRange(&inputs)
		inputs.files, _ = vstorage.GetOverlappingInputs(0, &smallest, &largest, -1)
		smallest, largest = p.getRange(&inputs)
		if p.rangeInCompaction(vstorage, &smallest, &largest, outputLevel, &parentIndex) {
			return nil
		}
	}

	outputLevelInputs := compactionLevel{level: outputLevel}
	if !p.setupOtherInputs(opts, vstorage, &inputs, &outputLevelInputs, parentIndex, baseIndex) {
		return nil
	}
	levels := []compactionLevel{inputs}
	if !outputLevelInputs.empty() {
		levels = append(levels, outputLevelInputs)
	}
	c := newCompaction(vstorage, opts, levels, outputLevel,
		opts.MaxFileSizeForLevel(outputLevel),
		opts.MaxGrandparentOverlapBytes(level),
		p.pathID(opts, outputLevel),
		compressionForLevel(opts, outputLevel, vstorage.BaseLevel(), true),
		p.getGrandparents(vstorage, &inputs, &outputLevelInputs),
		manual, score, false /* deletion */)
	p.register(p, c, level == 0)

	// Files being compacted no longer count towards the scores.
	vstorage.ComputeCompactionScore(opts.scoringOptions(p.logger))
	return c
}

// pickBySize picks the largest file of the level that is not being compacted
// and whose output level range is not being compacted. The files are visited
// by decreasing size from the level's persisted next compaction index.
func (p *levelCompactionPicker) pickBySize(
	vstorage *manifest.VersionStorageInfo,
	level, outputLevel int,
	inputs *compactionLevel,
	parentIndex, baseIndex *int,
) bool {
	// Level 0 files overlap each other: two level 0 compactions cannot run
	// at the same time.
	if level == 0 && len(p.level0InProgress) > 0 {
		return false
	}
	*inputs = compactionLevel{level: level}
	bySize := vstorage.FilesBySize(level)
	files := vstorage.LevelFiles(level)
	nextIndex := -1
	start := vstorage.NextCompactionIndex(level)
	for i := start; i >= 0 && i < len(bySize); i++ {
		index := bySize[i]
		f := files[index]
		if f.BeingCompacted {
			continue
		}
		if nextIndex == -1 {
			nextIndex = i
		}
		*parentIndex = -1
		if p.rangeInCompaction(vstorage, &f.Smallest, &f.Largest, outputLevel, parentIndex) {
			continue
		}
		inputs.files = append(inputs.files, f)
		*baseIndex = index
		break
	}
	vstorage.SetNextCompactionIndex(level, nextIndex)
	return !inputs.empty()
}

// pickFilesMarkedForCompaction picks one of the files marked for compaction,
// trying a random one first.
func (p *levelCompactionPicker) pickFilesMarkedForCompaction(
	vstorage *manifest.VersionStorageInfo,
) (level, outputLevel int, inputs compactionLevel) {
	marked := vstorage.FilesMarkedForCompaction()
	if len(marked) == 0 {
		return -1, -1, compactionLevel{}
	}
	try := func(lf manifest.LevelFile) bool {
		level = lf.Level
		outputLevel = level + 1
		if level == 0 {
			outputLevel = vstorage.BaseLevel()
			if len(p.level0InProgress) > 0 {
				return false
			}
		}
		inputs = compactionLevel{level: level, files: []*manifest.FileMetadata{lf.Meta}}
		return p.expandWhileOverlapping(vstorage, &inputs)
	}
	if try(marked[rand.IntN(len(marked))]) {
		return level, outputLevel, inputs
	}
	for _, lf := range marked {
		if try(lf) {
			return level, outputLevel, inputs
		}
	}
	return -1, -1, compactionLevel{}
}

// pathID returns the DB path holding the outputs of the level: levels fill
// the paths in order, each path holding as many whole levels as its target
// size allows at the level targets derived from MaxBytesForLevelBase. The
// last path takes the remaining levels.
func (p *levelCompactionPicker) pathID(opts *mutableCFOptions, level int) uint32 {
	if len(p.dbPaths) == 0 {
		return 0
	}
	var id uint32
	curPathSize := p.dbPaths[0].TargetSize
	levelSize := opts.MaxBytesForLevelBase
	curLevel := 0
	for int(id) < len(p.dbPaths)-1 {
		if levelSize <= curPathSize {
			if curLevel == level {
				return id
			}
			curPathSize -= levelSize
			levelSize = multiplyCheckOverflow(levelSize, uint64(opts.MaxBytesForLevelMultiplier))
			curLevel++
			continue
		}
		id++
		curPathSize = p.dbPaths[id].TargetSize
	}
	return id
}

func (p *levelCompactionPicker) CompactRange(
	opts *mutableCFOptions,
	vstorage *manifest.VersionStorageInfo,
	inputLevel, outputLevel int,
	outputPathID uint32,
	begin, end *InternalKey,
) (*Compaction, *InternalKey) {
	return p.compactRange(p, opts, vstorage, inputLevel, outputLevel, outputPathID, begin, end)
}

func (p *levelCompactionPicker) FormCompaction(
	opts *mutableCFOptions,
	inputs []compactionLevel,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) *Compaction {
	return p.formCompaction(p, opts, inputs, vstorage, outputLevel, outputPathID)
}

// nullCompactionPicker never picks a compaction. Files are compacted only by
// FormCompaction.
type nullCompactionPicker struct {
	compactionPickerBase
}

var _ CompactionPicker = (*nullCompactionPicker)(nil)

func (p *nullCompactionPicker) NeedsCompaction(*manifest.VersionStorageInfo) bool { return false }

func (p *nullCompactionPicker) PickCompaction(
	*mutableCFOptions, *manifest.VersionStorageInfo,
) *Compaction {
	return nil
}

func (p *nullCompactionPicker) CompactRange(
	*mutableCFOptions, *manifest.VersionStorageInfo, int, int, uint32, *InternalKey, *InternalKey,
) (*Compaction, *InternalKey) {
	return nil, nil
}

func (p *nullCompactionPicker) FormCompaction(
	opts *mutableCFOptions,
	inputs []compactionLevel,
	vstorage *manifest.VersionStorageInfo,
	outputLevel int,
	outputPathID uint32,
) *Compaction {
	return p.formCompaction(p, opts, inputs, vstorage, outputLevel, outputPathID)
}
