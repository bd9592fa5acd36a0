// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/invariants"
)

// CompactionStyle selects the compaction policy of a column family.
type CompactionStyle int8

// The available compaction styles.
const (
	// CompactionStyleLevel gives every level > 0 a byte budget and compacts
	// the level most over budget.
	CompactionStyleLevel CompactionStyle = iota
	// CompactionStyleUniversal treats every level 0 file and every non-empty
	// level as a sorted run and merges runs by size.
	CompactionStyleUniversal
	// CompactionStyleFIFO keeps a single level and drops the oldest files
	// once a total size is exceeded.
	CompactionStyleFIFO
	// CompactionStyleNone never picks compactions on its own.
	CompactionStyleNone
)

var compactionStyleNames = [...]string{
	CompactionStyleLevel:     "level",
	CompactionStyleUniversal: "universal",
	CompactionStyleFIFO:      "fifo",
	CompactionStyleNone:      "none",
}

// String implements fmt.Stringer.
func (s CompactionStyle) String() string {
	if s < 0 || int(s) >= len(compactionStyleNames) {
		return fmt.Sprintf("unknown(%d)", s)
	}
	return compactionStyleNames[s]
}

// ParseCompactionStyle parses the String representation of a compaction
// style.
func ParseCompactionStyle(s string) (CompactionStyle, bool) {
	for i, n := range compactionStyleNames {
		if n == s {
			return CompactionStyle(i), true
		}
	}
	return 0, false
}

// NumberFilesToSort is the number of largest files per level kept ordered by
// compensated size.
const NumberFilesToSort = 50

// maxStatsInitCount is the maximum number of table property loads performed
// while finalizing one version.
const maxStatsInitCount = 20

// deletionWeight is the weight of a deletion entry, in average values, when
// computing compensated sizes.
const deletionWeight = 2

// ScoringOptions are the options of a column family that shape the derived
// state of its versions.
type ScoringOptions struct {
	Level0FileNumCompactionTrigger       int
	MaxBytesForLevelBase                 uint64
	MaxBytesForLevelMultiplier           int
	MaxBytesForLevelMultiplierAdditional []int
	LevelCompactionDynamicLevelBytes     bool
	// FIFOMaxTableFilesSize is the total size bound of a FIFO column family.
	FIFOMaxTableFilesSize uint64
	Logger                base.Logger
}

func (o *ScoringOptions) multiplierAdditional(level int) uint64 {
	if level < 0 || level >= len(o.MaxBytesForLevelMultiplierAdditional) {
		return 1
	}
	return uint64(max(o.MaxBytesForLevelMultiplierAdditional[level], 0))
}

func (o *ScoringOptions) logger() base.Logger {
	if o.Logger == nil {
		return base.DefaultLogger{}
	}
	return o.Logger
}

// multiplyCheckOverflow returns a*b, or a if the product overflows.
func multiplyCheckOverflow(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return a
	}
	if math.MaxUint64/a < b {
		return a
	}
	return a * b
}

// VersionStorageInfo is the per-level file layout of a version, along with
// the state derived from it: level byte targets, compaction scores, the
// largest files of every level, the file indexer and the level briefs.
//
// A VersionStorageInfo is filled by a Builder, finalized once, and is
// read-only thereafter, except for the fields documented as protected by the
// DB mutex.
type VersionStorageInfo struct {
	cmp       *base.Comparer
	numLevels int
	style     CompactionStyle

	files [][]*FileMetadata

	numNonEmptyLevels int
	indexer           *FileIndexer
	briefs            []LevelFilesBrief

	// baseLevel is the level level 0 compacts into, -1 if there is none.
	baseLevel     int
	levelMaxBytes []uint64

	// filesBySize[level] holds indexes into files[level], the first
	// NumberFilesToSort of them ordered by decreasing compensated size.
	filesBySize [][]int
	// nextFileToCompactBySize is the position in filesBySize at which the
	// next size-based pick resumes. Protected by the DB mutex.
	nextFileToCompactBySize []int

	level0NonOverlapping bool

	// compactionScore and compactionLevel are sorted by decreasing score.
	compactionScore         []float64
	compactionLevel         []int
	maxCompactionScore      float64
	maxCompactionScoreLevel int

	filesMarkedForCompaction []LevelFile

	l0DelayTriggerCount int

	accumulatedFileSize        uint64
	accumulatedRawKeySize      uint64
	accumulatedRawValueSize    uint64
	accumulatedNumNonDeletions uint64
	accumulatedNumDeletions    uint64
	numSamples                 uint64

	estimatedCompactionNeededBytes uint64

	finalized bool
}

// NewVersionStorageInfo returns an empty layout. The accumulated table
// statistics are carried over from ref, the layout of the previous version,
// when it is non-nil.
func NewVersionStorageInfo(
	cmp *base.Comparer, numLevels int, style CompactionStyle, ref *VersionStorageInfo,
) *VersionStorageInfo {
	s := &VersionStorageInfo{
		cmp:                     cmp,
		numLevels:               numLevels,
		style:                   style,
		files:                   make([][]*FileMetadata, numLevels),
		indexer:                 NewFileIndexer(cmp.Compare),
		baseLevel:               1,
		filesBySize:             make([][]int, numLevels),
		nextFileToCompactBySize: make([]int, numLevels),
		compactionScore:         make([]float64, numLevels),
		compactionLevel:         make([]int, numLevels),
	}
	if numLevels == 1 {
		s.baseLevel = -1
	}
	for i := range s.compactionLevel {
		s.compactionLevel[i] = i
	}
	if ref != nil {
		s.accumulatedFileSize = ref.accumulatedFileSize
		s.accumulatedRawKeySize = ref.accumulatedRawKeySize
		s.accumulatedRawValueSize = ref.accumulatedRawValueSize
		s.accumulatedNumNonDeletions = ref.accumulatedNumNonDeletions
		s.accumulatedNumDeletions = ref.accumulatedNumDeletions
		s.numSamples = ref.numSamples
	}
	return s
}

// AddFile appends the file to the level, taking a reference on it. Files
// must be added in level order.
func (s *VersionStorageInfo) AddFile(level int, f *FileMetadata) {
	if invariants.Enabled && level > 0 {
		if files := s.files[level]; len(files) > 0 {
			last := files[len(files)-1]
			if base.InternalCompare(s.cmp.Compare, last.Largest, f.Smallest) >= 0 {
				panic(fmt.Sprintf("lsmcore: L%d files %s and %s overlap", level, last, f))
			}
		}
	}
	f.Ref()
	s.files[level] = append(s.files[level], f)
}

// Comparer returns the comparer of the layout's keys.
func (s *VersionStorageInfo) Comparer() *base.Comparer { return s.cmp }

// NumLevels returns the number of levels.
func (s *VersionStorageInfo) NumLevels() int { return s.numLevels }

// Style returns the compaction style the layout is scored for.
func (s *VersionStorageInfo) Style() CompactionStyle { return s.style }

// NumNonEmptyLevels returns one more than the index of the last non-empty
// level.
func (s *VersionStorageInfo) NumNonEmptyLevels() int { return s.numNonEmptyLevels }

// LevelFiles returns the files of the level. The slice must not be modified.
func (s *VersionStorageInfo) LevelFiles(level int) []*FileMetadata { return s.files[level] }

// NumLevelFiles returns the number of files at the level.
func (s *VersionStorageInfo) NumLevelFiles(level int) int { return len(s.files[level]) }

// NumLevelBytes returns the sum of the sizes of the files at the level.
func (s *VersionStorageInfo) NumLevelBytes(level int) uint64 {
	return TotalFileSize(s.files[level])
}

// BaseLevel returns the level that level 0 compacts into.
func (s *VersionStorageInfo) BaseLevel() int { return s.baseLevel }

// MaxBytesForLevel returns the byte target of the level. The result for
// level 0 is unused: level 0 is scored by file count.
func (s *VersionStorageInfo) MaxBytesForLevel(level int) uint64 {
	return s.levelMaxBytes[level]
}

// LevelFilesBrief returns the brief of the level. Only the first
// NumNonEmptyLevels levels have a brief.
func (s *VersionStorageInfo) LevelFilesBrief(level int) *LevelFilesBrief {
	return &s.briefs[level]
}

// FileIndexer returns the fractional cascading index of the layout.
func (s *VersionStorageInfo) FileIndexer() *FileIndexer { return s.indexer }

// Level0NonOverlapping returns true if no two level 0 files overlap.
func (s *VersionStorageInfo) Level0NonOverlapping() bool { return s.level0NonOverlapping }

// FilesBySize returns the indexes of the level's files by decreasing
// compensated size.
func (s *VersionStorageInfo) FilesBySize(level int) []int { return s.filesBySize[level] }

// NextCompactionIndex returns the position in FilesBySize at which the next
// size-based pick for the level starts. Requires the DB mutex.
func (s *VersionStorageInfo) NextCompactionIndex(level int) int {
	return s.nextFileToCompactBySize[level]
}

// SetNextCompactionIndex records the position in FilesBySize at which the
// next size-based pick for the level starts. Requires the DB mutex.
func (s *VersionStorageInfo) SetNextCompactionIndex(level, index int) {
	s.nextFileToCompactBySize[level] = index
}

// CompactionScore returns the i-th largest compaction score.
func (s *VersionStorageInfo) CompactionScore(i int) float64 { return s.compactionScore[i] }

// CompactionScoreLevel returns the level with the i-th largest compaction
// score.
func (s *VersionStorageInfo) CompactionScoreLevel(i int) int { return s.compactionLevel[i] }

// MaxCompactionScore returns the largest score of levels >= 1.
func (s *VersionStorageInfo) MaxCompactionScore() float64 { return s.maxCompactionScore }

// MaxCompactionScoreLevel returns the level of MaxCompactionScore.
func (s *VersionStorageInfo) MaxCompactionScoreLevel() int { return s.maxCompactionScoreLevel }

// FilesMarkedForCompaction returns the files marked for compaction that may
// be picked.
func (s *VersionStorageInfo) FilesMarkedForCompaction() []LevelFile {
	return s.filesMarkedForCompaction
}

// L0DelayTriggerCount returns the number of sorted runs that count towards
// write slowdowns and stops.
func (s *VersionStorageInfo) L0DelayTriggerCount() int { return s.l0DelayTriggerCount }

// EstimatedCompactionNeededBytes returns the estimate of the bytes level
// compactions have to rewrite for every level to be within its target.
func (s *VersionStorageInfo) EstimatedCompactionNeededBytes() uint64 {
	return s.estimatedCompactionNeededBytes
}

// IsFinalized returns true once SetFinalized has been called.
func (s *VersionStorageInfo) IsFinalized() bool { return s.finalized }

// MaxInputLevel returns the largest level that may be the input of an
// automatic compaction.
func (s *VersionStorageInfo) MaxInputLevel() int {
	if s.style == CompactionStyleLevel {
		return s.numLevels - 2
	}
	return 0
}

// Finalize builds the derived state of the layout: table statistics, level
// targets, files by size, the file indexer, the level briefs and the level 0
// overlap flag. At most maxStatsInitCount table property loads are performed
// when updateStats is set.
func (s *VersionStorageInfo) Finalize(opts *ScoringOptions, loader PropertiesLoader, updateStats bool) {
	if updateStats && loader != nil {
		s.updateAccumulatedStats(opts, loader)
	}
	s.computeCompensatedSizes()
	s.updateNumNonEmptyLevels()
	s.CalculateBaseBytes(opts)
	s.updateFilesBySize()
	s.indexer.UpdateIndex(s.numNonEmptyLevels, s.files)
	s.briefs = make([]LevelFilesBrief, s.numNonEmptyLevels)
	for level := range s.briefs {
		s.briefs[level] = makeLevelFilesBrief(s.files[level])
	}
	s.generateLevel0NonOverlapping()
}

// SetFinalized marks the layout read-only. In invariants builds it checks
// the level targets of level style layouts.
func (s *VersionStorageInfo) SetFinalized() {
	s.finalized = true
	if !invariants.Enabled || s.style != CompactionStyleLevel || s.numLevels == 1 {
		return
	}
	if s.baseLevel < 1 || s.baseLevel >= s.numLevels {
		panic(fmt.Sprintf("lsmcore: invalid base level %d", s.baseLevel))
	}
	for level := 1; level < s.baseLevel; level++ {
		if s.NumLevelBytes(level) != 0 {
			panic(fmt.Sprintf("lsmcore: L%d above base level L%d is not empty", level, s.baseLevel))
		}
	}
	var prev uint64
	for level := s.baseLevel; level < s.numLevels-1; level++ {
		if len(s.files[level]) == 0 {
			continue
		}
		if s.MaxBytesForLevel(level) < prev {
			panic(fmt.Sprintf("lsmcore: L%d target below the previous level's", level))
		}
		prev = s.MaxBytesForLevel(level)
	}
}

func (s *VersionStorageInfo) maybeInitializeStats(opts *ScoringOptions, loader PropertiesLoader, f *FileMetadata) bool {
	if f.StatsInitialized || f.CompensatedSize > 0 {
		return false
	}
	props, err := loader.Properties(f)
	f.StatsInitialized = true
	if err != nil {
		opts.logger().Errorf("unable to load table properties for file %s --- %v", f.FileNum, err)
		return false
	}
	if props == nil {
		return false
	}
	f.Stats = props.TableStats
	return true
}

func (s *VersionStorageInfo) accumulateStats(f *FileMetadata) {
	s.accumulatedFileSize += f.Size
	s.accumulatedRawKeySize += f.Stats.RawKeySize
	s.accumulatedRawValueSize += f.Stats.RawValueSize
	s.accumulatedNumNonDeletions += f.Stats.NumEntries - min(f.Stats.NumDeletions, f.Stats.NumEntries)
	s.accumulatedNumDeletions += f.Stats.NumDeletions
	s.numSamples++
}

func (s *VersionStorageInfo) updateAccumulatedStats(opts *ScoringOptions, loader PropertiesLoader) {
	// Files are sampled from the top of the tree down so that initializing a
	// level's compensated sizes propagates downwards as those files get
	// compacted.
	initCount := 0
	for level := 0; level < s.numLevels && initCount < maxStatsInitCount; level++ {
		for _, f := range s.files[level] {
			if s.maybeInitializeStats(opts, loader, f) {
				s.accumulateStats(f)
				if initCount++; initCount >= maxStatsInitCount {
					break
				}
			}
		}
	}
	// If every sampled file holds only deletions, sample from the bottom.
	for level := s.numLevels - 1; s.accumulatedRawValueSize == 0 && level >= 0; level-- {
		for i := len(s.files[level]) - 1; s.accumulatedRawValueSize == 0 && i >= 0; i-- {
			if f := s.files[level][i]; s.maybeInitializeStats(opts, loader, f) {
				s.accumulateStats(f)
			}
		}
	}
}

// AverageValueSize returns the estimated average size of a value, scaled by
// the ratio of on-disk to raw bytes.
func (s *VersionStorageInfo) AverageValueSize() uint64 {
	if s.accumulatedNumNonDeletions == 0 {
		return 0
	}
	raw := s.accumulatedRawKeySize + s.accumulatedRawValueSize
	if raw == 0 {
		return 0
	}
	return s.accumulatedRawValueSize / s.accumulatedNumNonDeletions * s.accumulatedFileSize / raw
}

func (s *VersionStorageInfo) computeCompensatedSizes() {
	avg := s.AverageValueSize()
	for level := range s.files {
		for _, f := range s.files[level] {
			// Only files that have never been compensated are touched: they
			// were just created and are not visible to other goroutines.
			if f.CompensatedSize != 0 {
				continue
			}
			f.CompensatedSize = f.Size
			// Deletions are only boosted when they outnumber the other
			// entries, leaving steady-state workloads alone.
			if d := f.Stats.NumDeletions * 2; d >= f.Stats.NumEntries {
				f.CompensatedSize += (d - f.Stats.NumEntries) * avg * deletionWeight
			}
		}
	}
}

func (s *VersionStorageInfo) updateNumNonEmptyLevels() {
	s.numNonEmptyLevels = s.numLevels
	for i := s.numLevels - 1; i >= 0; i-- {
		if len(s.files[i]) != 0 {
			return
		}
		s.numNonEmptyLevels = i
	}
}

// CalculateBaseBytes computes the base level and the byte target of every
// level. With dynamic level bytes the targets are derived from the size of
// the largest level so that the multiplier holds between the bottom levels.
func (s *VersionStorageInfo) CalculateBaseBytes(opts *ScoringOptions) {
	l0Count := len(s.files[0])
	if s.style == CompactionStyleUniversal {
		for i := 1; i < s.numLevels; i++ {
			if len(s.files[i]) > 0 {
				l0Count++
			}
		}
	}
	s.l0DelayTriggerCount = l0Count

	multiplier := uint64(max(opts.MaxBytesForLevelMultiplier, 1))
	s.levelMaxBytes = make([]uint64, s.numLevels)
	if !opts.LevelCompactionDynamicLevelBytes {
		s.baseLevel = -1
		if s.style == CompactionStyleLevel {
			s.baseLevel = 1
		}
		for i := 0; i < s.numLevels; i++ {
			switch {
			case i == 0 && s.style == CompactionStyleUniversal:
				s.levelMaxBytes[i] = opts.MaxBytesForLevelBase
			case i > 1:
				s.levelMaxBytes[i] = multiplyCheckOverflow(
					multiplyCheckOverflow(s.levelMaxBytes[i-1], multiplier),
					opts.multiplierAdditional(i-1))
			default:
				s.levelMaxBytes[i] = opts.MaxBytesForLevelBase
			}
		}
		return
	}

	var maxLevelSize uint64
	firstNonEmptyLevel := -1
	// The size of the last level cannot be used: it can be empty, or smaller
	// than the level above after a compaction.
	for i := 1; i < s.numLevels; i++ {
		total := s.NumLevelBytes(i)
		if total > 0 && firstNonEmptyLevel == -1 {
			firstNonEmptyLevel = i
		}
		maxLevelSize = max(maxLevelSize, total)
	}

	// Disallow compactions out of every level by default.
	for i := range s.levelMaxBytes {
		s.levelMaxBytes[i] = math.MaxUint64
	}
	if maxLevelSize == 0 {
		// Level 0 compacts directly into the last level.
		s.baseLevel = s.numLevels - 1
		return
	}

	baseBytesMax := opts.MaxBytesForLevelBase
	baseBytesMin := baseBytesMax / multiplier

	curLevelSize := maxLevelSize
	for i := s.numLevels - 2; i >= firstNonEmptyLevel; i-- {
		curLevelSize /= multiplier
	}

	var baseLevelSize uint64
	if curLevelSize <= baseBytesMin {
		baseLevelSize = baseBytesMin + 1
		s.baseLevel = firstNonEmptyLevel
		opts.logger().Infof("more existing levels in DB than needed; max_bytes_for_level_multiplier may not be guaranteed")
	} else {
		s.baseLevel = firstNonEmptyLevel
		for s.baseLevel > 1 && curLevelSize > baseBytesMax {
			s.baseLevel--
			curLevelSize /= multiplier
		}
		if curLevelSize > baseBytesMax {
			baseLevelSize = baseBytesMax
		} else {
			baseLevelSize = curLevelSize
		}
	}

	levelSize := baseLevelSize
	for i := s.baseLevel; i < s.numLevels; i++ {
		if i > s.baseLevel {
			levelSize = multiplyCheckOverflow(levelSize, multiplier)
		}
		s.levelMaxBytes[i] = levelSize
	}
}

func (s *VersionStorageInfo) updateFilesBySize() {
	if s.style == CompactionStyleFIFO || s.style == CompactionStyleUniversal {
		return
	}
	// The bottom level is never compacted by size.
	for level := 0; level < s.numLevels-1; level++ {
		files := s.files[level]
		idx := make([]int, len(files))
		for i := range idx {
			idx[i] = i
		}
		slices.SortStableFunc(idx, func(a, b int) int {
			x, y := files[a].CompensatedSize, files[b].CompensatedSize
			switch {
			case x > y:
				return -1
			case x < y:
				return +1
			}
			return 0
		})
		if len(idx) > NumberFilesToSort {
			// Only the largest files are ranked.
			slices.Sort(idx[NumberFilesToSort:])
		}
		s.filesBySize[level] = idx
		s.nextFileToCompactBySize[level] = 0
	}
}

func (s *VersionStorageInfo) generateLevel0NonOverlapping() {
	s.level0NonOverlapping = true
	if len(s.briefs) == 0 {
		return
	}
	sorted := slices.Clone(s.briefs[0].Files)
	slices.SortFunc(sorted, func(a, b FileBrief) int {
		return base.InternalCompare(s.cmp.Compare, a.Smallest, b.Smallest)
	})
	for i := 1; i < len(sorted); i++ {
		if base.InternalCompare(s.cmp.Compare, sorted[i-1].Largest, sorted[i].Smallest) >= 0 {
			s.level0NonOverlapping = false
			return
		}
	}
}

// ComputeCompactionScore scores every level that may be compacted and sorts
// the levels by decreasing score. Level 0 is scored by the number of sorted
// runs not being compacted relative to the compaction trigger, or for FIFO
// by total size relative to the size bound. Other levels are scored by their
// compensated bytes not being compacted relative to their target.
func (s *VersionStorageInfo) ComputeCompactionScore(opts *ScoringOptions) {
	var maxScore float64
	maxScoreLevel := 0
	for level := 0; level <= s.MaxInputLevel(); level++ {
		var score float64
		if level == 0 {
			numSortedRuns := 0
			var totalSize uint64
			for _, f := range s.files[0] {
				if !f.BeingCompacted {
					totalSize += f.CompensatedSize
					numSortedRuns++
				}
			}
			if s.style == CompactionStyleUniversal {
				// Every non-empty level counts as one more sorted run.
				for i := 1; i < s.numLevels; i++ {
					if len(s.files[i]) > 0 && !s.files[i][0].BeingCompacted {
						numSortedRuns++
					}
				}
			}
			if s.style == CompactionStyleFIFO {
				score = float64(totalSize) / float64(max(opts.FIFOMaxTableFilesSize, 1))
			} else {
				score = float64(numSortedRuns) / float64(max(opts.Level0FileNumCompactionTrigger, 1))
			}
		} else {
			var bytes uint64
			for _, f := range s.files[level] {
				if !f.BeingCompacted {
					bytes += f.CompensatedSize
				}
			}
			score = float64(bytes) / float64(s.MaxBytesForLevel(level))
			if maxScore < score {
				maxScore = score
				maxScoreLevel = level
			}
		}
		s.compactionLevel[level] = level
		s.compactionScore[level] = score
	}
	s.maxCompactionScore = maxScore
	s.maxCompactionScoreLevel = maxScoreLevel

	// The number of levels is small; a selection sort keeps equal scores in
	// level order.
	for i := 0; i < s.numLevels-2; i++ {
		for j := i + 1; j < s.numLevels-1; j++ {
			if s.compactionScore[i] < s.compactionScore[j] {
				s.compactionScore[i], s.compactionScore[j] = s.compactionScore[j], s.compactionScore[i]
				s.compactionLevel[i], s.compactionLevel[j] = s.compactionLevel[j], s.compactionLevel[i]
			}
		}
	}
	s.ComputeFilesMarkedForCompaction()
	s.EstimateCompactionBytesNeeded(opts)
}

// ComputeFilesMarkedForCompaction collects the marked files that are not
// being compacted. Files of the last non-empty level are excluded: there is
// no level to move them to.
func (s *VersionStorageInfo) ComputeFilesMarkedForCompaction() {
	s.filesMarkedForCompaction = s.filesMarkedForCompaction[:0]
	lastQualifyLevel := 0
	for level := s.numLevels - 1; level >= 1; level-- {
		if len(s.files[level]) > 0 {
			lastQualifyLevel = level - 1
			break
		}
	}
	for level := 0; level <= lastQualifyLevel; level++ {
		for _, f := range s.files[level] {
			if !f.BeingCompacted && f.MarkedForCompaction {
				s.filesMarkedForCompaction = append(s.filesMarkedForCompaction, LevelFile{Level: level, Meta: f})
			}
		}
	}
}

// EstimateCompactionBytesNeeded estimates the bytes level compactions must
// rewrite before every level is within its target, assuming every
// compaction's fan-out equals the level multiplier. Only level style layouts
// are estimated.
func (s *VersionStorageInfo) EstimateCompactionBytesNeeded(opts *ScoringOptions) {
	if s.style != CompactionStyleLevel {
		return
	}
	var bytesToNextLevel uint64
	l0Triggered := false
	s.estimatedCompactionNeededBytes = 0
	if len(s.files[0]) > opts.Level0FileNumCompactionTrigger {
		l0Triggered = true
		bytesToNextLevel = s.NumLevelBytes(0)
		s.estimatedCompactionNeededBytes = bytesToNextLevel
	}
	for level := s.baseLevel; level >= 1 && level <= s.MaxInputLevel(); level++ {
		levelSize := s.NumLevelBytes(level)
		if level == s.baseLevel && l0Triggered {
			s.estimatedCompactionNeededBytes += levelSize
		}
		levelSize += bytesToNextLevel
		bytesToNextLevel = 0
		if target := s.MaxBytesForLevel(level); levelSize > target {
			bytesToNextLevel = levelSize - target
			s.estimatedCompactionNeededBytes += bytesToNextLevel * uint64(1+opts.MaxBytesForLevelMultiplier)
		}
	}
}

// GetOverlappingInputs returns the files of the level that overlap the user
// key range of [begin, end]. A nil bound is unbounded. For level 0 the range
// grows to include the full range of every overlapping file. hintIndex, if
// not -1, is the index of a file known to overlap. The returned index is
// that of some overlapping file at levels > 0, or -1.
func (s *VersionStorageInfo) GetOverlappingInputs(
	level int, begin, end *base.InternalKey, hintIndex int,
) (inputs []*FileMetadata, fileIndex int) {
	fileIndex = -1
	if level >= s.numNonEmptyLevels {
		return nil, fileIndex
	}
	var userBegin, userEnd []byte
	if begin != nil {
		userBegin = begin.UserKey
	}
	if end != nil {
		userEnd = end.UserKey
	}
	if begin != nil && end != nil && level > 0 {
		return s.getOverlappingInputsBinarySearch(level, userBegin, userEnd, hintIndex)
	}
	ucmp := s.cmp.Compare
	files := s.briefs[level].Files
	for i := 0; i < len(files); {
		f := &files[i]
		i++
		fileStart, fileLimit := f.Smallest.UserKey, f.Largest.UserKey
		if begin != nil && ucmp(fileLimit, userBegin) < 0 {
			continue
		}
		if end != nil && ucmp(fileStart, userEnd) > 0 {
			continue
		}
		inputs = append(inputs, s.files[level][i-1])
		if level == 0 {
			// Level 0 files may overlap each other: if the new file widens
			// the range, start over.
			if begin != nil && ucmp(fileStart, userBegin) < 0 {
				userBegin = fileStart
				inputs = inputs[:0]
				i = 0
			} else if end != nil && ucmp(fileLimit, userEnd) > 0 {
				userEnd = fileLimit
				inputs = inputs[:0]
				i = 0
			}
		} else {
			fileIndex = i - 1
		}
	}
	return inputs, fileIndex
}

func (s *VersionStorageInfo) getOverlappingInputsBinarySearch(
	level int, userBegin, userEnd []byte, hintIndex int,
) ([]*FileMetadata, int) {
	ucmp := s.cmp.Compare
	files := s.briefs[level].Files
	lo, hi := 0, len(files)-1
	mid := 0
	found := false
	if hintIndex != -1 {
		mid, found = hintIndex, true
	}
	for !found && lo <= hi {
		mid = (lo + hi) / 2
		f := &files[mid]
		switch {
		case ucmp(f.Largest.UserKey, userBegin) < 0:
			lo = mid + 1
		case ucmp(userEnd, f.Smallest.UserKey) < 0:
			hi = mid - 1
		default:
			found = true
		}
	}
	if !found {
		return nil, -1
	}
	return s.extendOverlappingInputs(level, userBegin, userEnd, mid), mid
}

// extendOverlappingInputs returns the files of the level overlapping
// [userBegin, userEnd], given that the file at mid overlaps.
func (s *VersionStorageInfo) extendOverlappingInputs(level int, userBegin, userEnd []byte, mid int) []*FileMetadata {
	ucmp := s.cmp.Compare
	files := s.briefs[level].Files
	start, end := mid+1, mid
	for i := mid; i >= 0; i-- {
		if ucmp(files[i].Largest.UserKey, userBegin) < 0 {
			break
		}
		start = i
	}
	for i := mid + 1; i < len(files); i++ {
		if ucmp(files[i].Smallest.UserKey, userEnd) > 0 {
			break
		}
		end = i
	}
	return slices.Clone(s.files[level][start : end+1])
}

// OverlapInLevel returns true if a file of the level overlaps the user key
// range [smallest, largest]. A nil bound is unbounded.
func (s *VersionStorageInfo) OverlapInLevel(level int, smallest, largest []byte) bool {
	if level >= s.numNonEmptyLevels {
		return false
	}
	return SomeFileOverlapsRange(s.cmp.Compare, level > 0, &s.briefs[level], smallest, largest)
}

// HasOverlappingUserKey returns true if the first or last of the inputs, a
// sorted run of files of the level, shares a user key with the file just
// outside of the run.
func (s *VersionStorageInfo) HasOverlappingUserKey(inputs []*FileMetadata, level int) bool {
	// All of level 0 is assumed to be included already.
	if len(inputs) == 0 || level == 0 {
		return false
	}
	b := &s.briefs[level]
	files := b.Files
	eq := s.cmp.Equal

	last := FindFile(s.cmp.Compare, b, inputs[len(inputs)-1].Largest)
	if last < len(files)-1 && eq(files[last].Largest.UserKey, files[last+1].Smallest.UserKey) {
		return true
	}
	first := FindFile(s.cmp.Compare, b, inputs[0].Smallest)
	if first > 0 && first < len(files) && eq(files[first].Smallest.UserKey, files[first-1].Largest.UserKey) {
		return true
	}
	return false
}

// MaxNextLevelOverlappingBytes returns the largest number of bytes at level
// L+1 overlapped by a single file of level L, over levels [1, numLevels-1).
func (s *VersionStorageInfo) MaxNextLevelOverlappingBytes() uint64 {
	var result uint64
	for level := 1; level < s.numLevels-1; level++ {
		for _, f := range s.files[level] {
			overlaps, _ := s.GetOverlappingInputs(level+1, &f.Smallest, &f.Largest, -1)
			result = max(result, TotalFileSize(overlaps))
		}
	}
	return result
}

// EstimateLiveDataSize estimates the live data size as the size of the
// bottom-most file covering every key range. The estimate depends on the
// order of the level 0 files, which may overlap.
func (s *VersionStorageInfo) EstimateLiveDataSize() uint64 {
	type liveRange struct {
		largest base.InternalKey
		f       *FileMetadata
	}
	cmp := s.cmp.Compare
	// Ordered by largest key; the ranges never overlap.
	var ranges []liveRange
	var size uint64
	for level := s.numLevels - 1; level >= 0; level-- {
		foundEnd := false
		for _, f := range s.files[level] {
			// Within a sorted level, once a file sorts after every range so
			// do the remaining ones.
			lb := len(ranges)
			if !foundEnd || level == 0 {
				lb = sort.Search(len(ranges), func(i int) bool {
					return base.InternalCompare(cmp, ranges[i].largest, f.Smallest) >= 0
				})
			}
			foundEnd = lb == len(ranges)
			if foundEnd || base.InternalCompare(cmp, f.Largest, ranges[lb].f.Smallest) < 0 {
				ranges = slices.Insert(ranges, lb, liveRange{largest: f.Largest, f: f})
				size += f.Size
			}
		}
	}
	return size
}

// GetEstimatedActiveKeys estimates the number of live keys from the sampled
// table statistics. The estimate is inaccurate with merges, overwrites and
// deletions of missing keys.
func (s *VersionStorageInfo) GetEstimatedActiveKeys() uint64 {
	if s.numSamples == 0 || s.accumulatedNumNonDeletions <= s.accumulatedNumDeletions {
		return 0
	}
	est := s.accumulatedNumNonDeletions - s.accumulatedNumDeletions
	var fileCount uint64
	for level := range s.files {
		fileCount += uint64(len(s.files[level]))
	}
	if s.numSamples < fileCount {
		return uint64(float64(est) * float64(fileCount) / float64(s.numSamples))
	}
	return est
}

// LevelSummary returns a one line summary of the number of files per level.
func (s *VersionStorageInfo) LevelSummary() string {
	var b strings.Builder
	if s.style == CompactionStyleLevel && s.numLevels > 1 && s.baseLevel >= 0 {
		fmt.Fprintf(&b, "base level %d max bytes base %s ", s.baseLevel,
			crhumanize.Bytes(s.levelMaxBytes[s.baseLevel], crhumanize.Compact, crhumanize.OmitI))
	}
	b.WriteString("files[")
	for i := range s.files {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", len(s.files[i]))
	}
	fmt.Fprintf(&b, "] max score %.2f", s.compactionScore[0])
	if n := len(s.filesMarkedForCompaction); n > 0 {
		fmt.Fprintf(&b, " (%d files need compaction)", n)
	}
	return b.String()
}

// LevelFileSummary returns a one line summary of the files of the level.
func (s *VersionStorageInfo) LevelFileSummary(level int) string {
	var b strings.Builder
	b.WriteString("files_size[")
	for i, f := range s.files[level] {
		if i > 0 {
			b.WriteByte(' ')
		}
		being := 0
		if f.BeingCompacted {
			being = 1
		}
		fmt.Fprintf(&b, "#%d(seq=%d,sz=%s,%d)", f.FileNum, f.SmallestSeqNum,
			crhumanize.Bytes(f.Size, crhumanize.Compact, crhumanize.OmitI), being)
	}
	b.WriteByte(']')
	return b.String()
}

// String dumps the files of every non-empty level, in the form used by
// tests.
func (s *VersionStorageInfo) String() string {
	return s.DebugString(base.DefaultFormatter)
}

// DebugString dumps the files of every non-empty level, formatting user keys
// with the given formatter.
func (s *VersionStorageInfo) DebugString(format base.FormatKey) string {
	var b strings.Builder
	for level, files := range s.files {
		if len(files) == 0 {
			continue
		}
		fmt.Fprintf(&b, "L%d:\n", level)
		for _, f := range files {
			fmt.Fprintf(&b, "  %s\n", f.DebugString(format))
		}
	}
	return b.String()
}
