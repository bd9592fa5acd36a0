// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/zhangyunhao116/skipmap"
)

// DefaultColumnFamilyName is the name of the column family every database
// has. Its id is 0.
const DefaultColumnFamilyName = "default"

// ColumnFamilyDescriptor names a column family to open along with its
// options.
type ColumnFamilyDescriptor struct {
	Name    string
	Options *ColumnFamilyOptions
}

// WriteStallCondition is the effect of a column family on the writes.
type WriteStallCondition int8

const (
	// WriteStallNormal lets writes proceed.
	WriteStallNormal WriteStallCondition = iota
	// WriteStallDelayed limits the rate of writes.
	WriteStallDelayed
	// WriteStallStopped stops writes.
	WriteStallStopped
)

func (c WriteStallCondition) String() string {
	switch c {
	case WriteStallNormal:
		return "normal"
	case WriteStallDelayed:
		return "delayed"
	case WriteStallStopped:
		return "stopped"
	}
	return "unknown"
}

// ColumnFamilyData is an independently versioned keyspace of the database:
// its options, its versions, its memtables, the policy picking its
// compactions, and the cached SuperVersion readers go through.
//
// Unless noted otherwise, the methods of a ColumnFamilyData require the
// database mutex to be held.
type ColumnFamilyData struct {
	id   uint32
	name string
	vs   *VersionSet

	// ioptions are the options the column family was opened with. mutable
	// is the latest snapshot of the options that can change while it is
	// open.
	ioptions *ColumnFamilyOptions
	mutable  *mutableCFOptions
	cmp      *Comparer
	// logger carries the column family name as the "cf" field.
	logger Logger

	versions manifest.VersionList
	current  *manifest.Version

	mem    *memTable
	imm    *memTableList
	picker CompactionPicker

	superVersion *SuperVersion
	// superVersionNumber may be read without the mutex.
	superVersionNumber atomic.Uint64
	localSV            *localSuperVersions

	// logNumber is the earliest log holding data of the column family that
	// has not been flushed.
	logNumber FileNum

	pendingFlush      bool
	pendingCompaction bool

	writeStall      WriteStallCondition
	writeStallToken *WriteControllerToken

	dropped bool
	refs    int32
}

func newColumnFamilyData(vs *VersionSet, id uint32, name string, opts *ColumnFamilyOptions) *ColumnFamilyData {
	cfd := &ColumnFamilyData{
		id:       id,
		name:     name,
		vs:       vs,
		ioptions: opts,
		mutable:  newMutableCFOptions(opts),
		cmp:      opts.Comparer,
		logger:   base.WithField(vs.logger, "cf", name),
		localSV:  newLocalSuperVersions(),
		refs:     1,
	}
	cfd.versions.Init(vs.mu)
	cfd.imm = newMemTableList(name, cfd.logger, opts.MinWriteBufferNumberToMerge, opts.MaxWriteBufferNumberToMaintain)
	cfd.picker = newCompactionPicker(opts.CompactionStyle, name, opts.Comparer, cfd.logger, vs.opts.DBPaths, opts.NumLevels)
	return cfd
}

// ID returns the id of the column family. It may be called without the
// mutex.
func (cfd *ColumnFamilyData) ID() uint32 { return cfd.id }

// Name returns the name of the column family. It may be called without the
// mutex.
func (cfd *ColumnFamilyData) Name() string { return cfd.name }

// NumLevels returns the number of levels of the column family.
func (cfd *ColumnFamilyData) NumLevels() int { return cfd.ioptions.NumLevels }

// Options returns a copy of the latest options of the column family.
func (cfd *ColumnFamilyData) Options() *ColumnFamilyOptions {
	return cfd.mutable.ColumnFamilyOptions.Clone()
}

// Current returns the current version.
func (cfd *ColumnFamilyData) Current() *manifest.Version { return cfd.current }

// LogNumber returns the earliest log holding unflushed data of the column
// family.
func (cfd *ColumnFamilyData) LogNumber() FileNum { return cfd.logNumber }

// CompactionPicker returns the policy picking the compactions of the column
// family.
func (cfd *ColumnFamilyData) CompactionPicker() CompactionPicker { return cfd.picker }

// WriteStallCondition returns the current effect of the column family on
// writes.
func (cfd *ColumnFamilyData) WriteStallCondition() WriteStallCondition { return cfd.writeStall }

// IsDropped returns true once the drop of the column family is persisted.
func (cfd *ColumnFamilyData) IsDropped() bool { return cfd.dropped }

// Ref takes a reference on the column family. A dropped column family is
// freed once its last reference is released.
func (cfd *ColumnFamilyData) Ref() { cfd.refs++ }

// Unref releases a reference and returns true if it was the last one. The
// column family is then freed by ColumnFamilySet.FreeDeadColumnFamilies.
func (cfd *ColumnFamilyData) Unref() bool {
	cfd.refs--
	if cfd.refs < 0 {
		panic("lsmcore: inconsistent column family reference count")
	}
	return cfd.refs == 0
}

// PendingFlush and PendingCompaction record that the column family is
// queued for a flush or a compaction.
func (cfd *ColumnFamilyData) PendingFlush() bool          { return cfd.pendingFlush }
func (cfd *ColumnFamilyData) SetPendingFlush(v bool)      { cfd.pendingFlush = v }
func (cfd *ColumnFamilyData) PendingCompaction() bool     { return cfd.pendingCompaction }
func (cfd *ColumnFamilyData) SetPendingCompaction(v bool) { cfd.pendingCompaction = v }

// createNewMemTable makes a fresh memtable the mutable one.
func (cfd *ColumnFamilyData) createNewMemTable(earliestSeqNum SeqNum) {
	if cfd.mem != nil {
		cfd.mem.unref()
	}
	cfd.mem = newMemTable(cfd.mutable, cfd.vs.wbm, cfd.logger, earliestSeqNum)
}

// Add inserts an entry into the mutable memtable. Writes are externally
// synchronized and do not need the database mutex.
func (cfd *ColumnFamilyData) Add(seqNum SeqNum, kind InternalKeyKind, key, value []byte) error {
	return cfd.mem.add(seqNum, kind, key, value)
}

// ShouldSwitchMemTable returns true if the mutable memtable is full, or the
// database-wide write buffer budget is used up.
func (cfd *ColumnFamilyData) ShouldSwitchMemTable() bool {
	if cfd.mem.empty() {
		return false
	}
	return cfd.mem.shouldScheduleFlush() || cfd.vs.wbm.ShouldFlush()
}

// SwitchMemTable moves the mutable memtable to the immutable list and
// starts a new one. The caller installs a new SuperVersion to publish the
// change.
func (cfd *ColumnFamilyData) SwitchMemTable() {
	var toDelete []*memTable
	cfd.imm.add(cfd.mem, &toDelete)
	cfd.mem.markFlushScheduled()
	cfd.mem.unref()
	cfd.mem = nil
	cfd.createNewMemTable(cfd.vs.LastSequence())
}

// IsFlushPending returns true if immutable memtables should be flushed.
func (cfd *ColumnFamilyData) IsFlushPending() bool { return cfd.imm.isFlushPending() }

// RequestFlush makes the next IsFlushPending return true while an immutable
// memtable waits for flush.
func (cfd *ColumnFamilyData) RequestFlush() { cfd.imm.requestFlush() }

// PickMemTablesToFlush claims the immutable memtables not being flushed,
// oldest first.
func (cfd *ColumnFamilyData) PickMemTablesToFlush() []*memTable {
	return cfd.imm.pickMemtablesToFlush()
}

// RollbackMemTableFlush returns memtables whose flush failed to the list.
func (cfd *ColumnFamilyData) RollbackMemTableFlush(mems []*memTable) {
	cfd.imm.rollbackMemtableFlush(mems)
}

// InstallMemTableFlushResults records that mems, as picked, were flushed to
// the table fileNum described by edit, and persists every completed flush
// that no older pending flush precedes. The caller installs a new
// SuperVersion afterwards.
func (cfd *ColumnFamilyData) InstallMemTableFlushResults(
	mems []*memTable, fileNum FileNum, edit *VersionEdit,
) error {
	if len(mems) == 0 {
		return nil
	}
	mems[0].edit = *edit
	var toDelete []*memTable
	return cfd.imm.installMemtableFlushResults(cfd, mems, cfd.vs, fileNum, &toDelete)
}

// SetOptions changes mutable options. The change is applied to a copy of the
// latest options, checked, and published with a new SuperVersion.
func (cfd *ColumnFamilyData) SetOptions(changes map[string]string) error {
	n, err := applyMutableOptions(&cfd.mutable.ColumnFamilyOptions, changes)
	if err != nil {
		return err
	}
	n = n.Sanitize(cfd.vs.opts)
	if err := n.Validate(cfd.vs.opts); err != nil {
		return err
	}
	cfd.mutable = newMutableCFOptions(n)
	cfd.logger.Infof("[%s] SetOptions() succeeded", cfd.name)
	if old := cfd.InstallSuperVersion(); old != nil {
		old.deleteMemTables()
	}
	return nil
}

// RecalculateWriteStallConditions derives the effect of the column family on
// writes from its memtables and its current version.
func (cfd *ColumnFamilyData) RecalculateWriteStallConditions() {
	if cfd.current == nil {
		return
	}
	s := cfd.current.Storage
	m := cfd.mutable
	wc := cfd.vs.wc
	var token *WriteControllerToken
	cond := WriteStallNormal
	switch {
	case cfd.imm.numNotFlushed() >= m.MaxWriteBufferNumber:
		token, cond = wc.GetStopToken(), WriteStallStopped
		cfd.logger.Infof("[%s] Stopping writes because we have %d immutable memtables "+
			"(waiting for flush), max_write_buffer_number is set to %d",
			cfd.name, cfd.imm.numNotFlushed(), m.MaxWriteBufferNumber)
	case s.L0DelayTriggerCount() >= m.Level0StopWritesTrigger:
		token, cond = wc.GetStopToken(), WriteStallStopped
		cfd.logger.Infof("[%s] Stopping writes because we have %d level-0 files",
			cfd.name, s.L0DelayTriggerCount())
	case m.Level0SlowdownWritesTrigger >= 0 && s.L0DelayTriggerCount() >= m.Level0SlowdownWritesTrigger:
		token, cond = wc.GetDelayToken(), WriteStallDelayed
		cfd.logger.Infof("[%s] Stalling writes because we have %d level-0 files",
			cfd.name, s.L0DelayTriggerCount())
	case m.SoftRateLimit > 0 && s.MaxCompactionScore() > m.SoftRateLimit:
		token, cond = wc.GetDelayToken(), WriteStallDelayed
		cfd.logger.Infof("[%s] Stalling writes because we hit soft limit on level %d",
			cfd.name, s.MaxCompactionScoreLevel())
	}
	cfd.writeStallToken.Release()
	cfd.writeStallToken, cfd.writeStall = token, cond
}

// Get looks the key up in the memtables and then the tables of the column
// family, at the snapshot of the read options. It returns ErrNotFound if the
// key has no value. It does not need the database mutex.
func (cfd *ColumnFamilyData) Get(ropts ReadOptions, key []byte) ([]byte, error) {
	sv, slot := cfd.GetThreadLocalSuperVersion()
	defer cfd.returnSuperVersion(sv, slot)

	seqNum := ropts.Snapshot
	if seqNum == 0 {
		seqNum = cfd.vs.LastSequence()
	}
	g := MakeGetContext(cfd.cmp, sv.MutableOpts.Merger, key)
	if sv.Mem.get(key, seqNum, &g) {
		return g.finish()
	}
	if sv.Imm.get(key, seqNum, &g) {
		return g.finish()
	}
	if cfd.vs.tc != nil {
		if err := versionGet(ropts, sv.Current, cfd.vs.tc, base.MakeLookupKey(key, seqNum), &g); err != nil {
			return nil, err
		}
	}
	return g.finish()
}

// NeedsCompaction returns true if the current version has a level that
// should be compacted.
func (cfd *ColumnFamilyData) NeedsCompaction() bool {
	return !cfd.mutable.DisableAutoCompactions && cfd.picker.NeedsCompaction(cfd.current.Storage)
}

// PickCompaction returns the next automatic compaction of the column
// family, or nil. The compaction holds a reference on the current version.
func (cfd *ColumnFamilyData) PickCompaction() *Compaction {
	c := cfd.picker.PickCompaction(cfd.mutable, cfd.current.Storage)
	if c != nil {
		c.setInputVersion(cfd, cfd.current)
	}
	return c
}

// CompactRange returns the manual compaction of the files of inputLevel
// overlapping [begin, end] into outputLevel. compactionEnd is the key the
// next step of the manual compaction starts at, nil if the range is
// covered. A nil compaction is returned if the files are being compacted.
func (cfd *ColumnFamilyData) CompactRange(
	inputLevel, outputLevel int, outputPathID uint32, begin, end *InternalKey,
) (c *Compaction, compactionEnd *InternalKey) {
	c, compactionEnd = cfd.picker.CompactRange(cfd.mutable, cfd.current.Storage,
		inputLevel, outputLevel, outputPathID, begin, end)
	if c != nil {
		c.setInputVersion(cfd, cfd.current)
	}
	return c, compactionEnd
}

// CompactFiles returns the compaction of the named files into outputLevel.
// It returns an ErrInvalidArgument error if the files cannot form a
// compaction, and ErrAborted if some are being compacted.
func (cfd *ColumnFamilyData) CompactFiles(
	fileNums map[FileNum]struct{}, outputLevel int, outputPathID uint32,
) (*Compaction, error) {
	s := cfd.current.Storage
	if err := cfd.picker.SanitizeCompactionInputFiles(fileNums, s, outputLevel); err != nil {
		return nil, err
	}
	inputs, err := cfd.picker.GetCompactionInputsFromFileNumbers(fileNums, s)
	if err != nil {
		return nil, err
	}
	c := cfd.picker.FormCompaction(cfd.mutable, inputs, s, outputLevel, outputPathID)
	if c == nil {
		return nil, errors.AssertionFailedf("lsmcore: unable to form compaction of %d files", len(fileNums))
	}
	c.setInputVersion(cfd, cfd.current)
	return c, nil
}

// free releases the resources of a column family no one references.
func (cfd *ColumnFamilyData) free() {
	cfd.resetLocalSuperVersions()
	if sv := cfd.superVersion; sv != nil {
		cfd.superVersion = nil
		if sv.Unref() {
			sv.Cleanup()
			sv.deleteMemTables()
		}
	}
	if cfd.current != nil {
		cfd.current.UnrefLocked()
		cfd.current = nil
	}
	if cfd.mem != nil {
		cfd.mem.unref()
		cfd.mem = nil
	}
	var toDelete []*memTable
	cfd.imm.current.unref(&toDelete)
	cfd.writeStallToken.Release()
	cfd.writeStallToken = nil
}

// ColumnFamilySet holds the column families of a database, ordered by id,
// with an index by name. Column families are added and removed with the
// database mutex held; ordered iteration is safe without it.
type ColumnFamilySet struct {
	vs     *VersionSet
	byID   *skipmap.FuncMap[uint32, *ColumnFamilyData]
	byName map[string]uint32
	// maxColumnFamily is the largest id ever handed out.
	maxColumnFamily uint32
	defaultCFD      *ColumnFamilyData
}

func newColumnFamilySet(vs *VersionSet) *ColumnFamilySet {
	return &ColumnFamilySet{
		vs:     vs,
		byID:   skipmap.NewFunc[uint32, *ColumnFamilyData](func(a, b uint32) bool { return a < b }),
		byName: make(map[string]uint32),
	}
}

// Default returns the default column family.
func (s *ColumnFamilySet) Default() *ColumnFamilyData { return s.defaultCFD }

// GetColumnFamily returns the live column family with the id, or nil.
func (s *ColumnFamilySet) GetColumnFamily(id uint32) *ColumnFamilyData {
	cfd, ok := s.byID.Load(id)
	if !ok || cfd.dropped {
		return nil
	}
	return cfd
}

// Get returns the live column family with the name, or nil.
func (s *ColumnFamilySet) Get(name string) *ColumnFamilyData {
	id, ok := s.byName[name]
	if !ok {
		return nil
	}
	return s.GetColumnFamily(id)
}

// GetNextColumnFamilyID hands out a column family id.
func (s *ColumnFamilySet) GetNextColumnFamilyID() uint32 {
	s.maxColumnFamily++
	return s.maxColumnFamily
}

// MaxColumnFamily returns the largest id ever handed out.
func (s *ColumnFamilySet) MaxColumnFamily() uint32 { return s.maxColumnFamily }

// UpdateMaxColumnFamily makes sure that ids up to v are never handed out.
func (s *ColumnFamilySet) UpdateMaxColumnFamily(v uint32) {
	s.maxColumnFamily = max(s.maxColumnFamily, v)
}

// NumberOfColumnFamilies returns the number of live column families.
func (s *ColumnFamilySet) NumberOfColumnFamilies() int { return len(s.byName) }

// CreateColumnFamily adds a column family with no version, memtable or
// SuperVersion yet.
func (s *ColumnFamilySet) CreateColumnFamily(name string, id uint32, opts *ColumnFamilyOptions) *ColumnFamilyData {
	if _, ok := s.byName[name]; ok {
		panic(errors.AssertionFailedf("lsmcore: column family %q already exists", errors.Safe(name)))
	}
	cfd := newColumnFamilyData(s.vs, id, name, opts)
	s.byName[name] = id
	s.byID.Store(id, cfd)
	s.UpdateMaxColumnFamily(id)
	if id == 0 {
		s.defaultCFD = cfd
	}
	return cfd
}

// RemoveColumnFamily removes the column family from the name index: the
// name may be reused while the dropped family is still referenced.
func (s *ColumnFamilySet) RemoveColumnFamily(cfd *ColumnFamilyData) {
	if id, ok := s.byName[cfd.name]; ok && id == cfd.id {
		delete(s.byName, cfd.name)
	}
}

// dropColumnFamily marks the column family dropped and releases the set's
// reference on it.
func (s *ColumnFamilySet) dropColumnFamily(cfd *ColumnFamilyData) {
	if cfd.id == 0 {
		panic("lsmcore: dropping the default column family")
	}
	cfd.dropped = true
	cfd.writeStallToken.Release()
	cfd.writeStallToken, cfd.writeStall = nil, WriteStallNormal
	s.RemoveColumnFamily(cfd)
	if cfd.Unref() {
		s.freeColumnFamily(cfd)
	}
}

func (s *ColumnFamilySet) freeColumnFamily(cfd *ColumnFamilyData) {
	s.byID.Delete(cfd.id)
	s.RemoveColumnFamily(cfd)
	cfd.free()
}

// FreeDeadColumnFamilies frees the column families whose last reference was
// released.
func (s *ColumnFamilySet) FreeDeadColumnFamilies() {
	var dead []*ColumnFamilyData
	s.forEach(func(cfd *ColumnFamilyData) {
		if cfd.refs == 0 {
			dead = append(dead, cfd)
		}
	})
	for _, cfd := range dead {
		s.freeColumnFamily(cfd)
	}
}

// Range calls fn for every column family in id order, including dropped
// ones that are still referenced, until fn returns false.
func (s *ColumnFamilySet) Range(fn func(cfd *ColumnFamilyData) bool) {
	s.byID.Range(func(_ uint32, cfd *ColumnFamilyData) bool {
		return fn(cfd)
	})
}

func (s *ColumnFamilySet) forEach(fn func(cfd *ColumnFamilyData)) {
	s.byID.Range(func(_ uint32, cfd *ColumnFamilyData) bool {
		fn(cfd)
		return true
	})
}
