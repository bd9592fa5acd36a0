// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/lsmcore/lsmcore/record"
	"github.com/lsmcore/lsmcore/vfs"
)

// The range of LogAndApply latencies, in microseconds, tracked by the
// latency histogram. Longer calls are recorded as the maximum.
const maxLogAndApplyLatencyMicros = int64(time.Minute / time.Microsecond)

// manifestWriter is a LogAndApply call waiting in the queue.
type manifestWriter struct {
	cfd  *ColumnFamilyData
	edit *VersionEdit
	done bool
	err  error
	cond sync.Cond
}

// ObsoleteFiles are the files no live version references any more.
type ObsoleteFiles struct {
	Tables    []*FileMetadata
	Manifests []FileNum
}

// LiveFileMetadata describes a table of the current version of a column
// family.
type LiveFileMetadata struct {
	ColumnFamilyName string
	Level            int
	FileNum          FileNum
	// Dir is the directory holding the table.
	Dir            string
	Size           uint64
	SmallestSeqNum SeqNum
	LargestSeqNum  SeqNum
	SmallestKey    []byte
	LargestKey     []byte
	BeingCompacted bool
}

// VersionSet manages the versions of every column family, and the metadata
// log (the MANIFEST) from which they are recovered. Each version is the
// result of applying a sequence of VersionEdits to the previous one; the
// manifest holds the edits, and CURRENT names the manifest in use.
//
// Unless noted otherwise, the methods of a VersionSet require the database
// mutex to be held.
type VersionSet struct {
	dirname string
	// mu is the database mutex. It also protects the version lists.
	mu     *sync.Mutex
	opts   *Options
	fs     vfs.FS
	logger Logger
	tc     TableCache
	wbm    *WriteBufferManager
	wc     *WriteController

	cfs *ColumnFamilySet

	// writers is the queue of LogAndApply calls. The head of the queue is the
	// call writing to the manifest.
	writers []*manifestWriter

	// nextFileNum and lastSeqNum may be read without the mutex.
	nextFileNum atomic.Uint64
	lastSeqNum  atomic.Uint64
	prevLogNum  FileNum
	versionNum  uint64

	manifestFileNum FileNum
	// pendingManifestFileNum is the manifest the head of the queue writes to.
	pendingManifestFileNum FileNum
	manifestFileSize       uint64
	manifestFile           vfs.File
	manifest               *record.Writer

	obsoleteTables    []*FileMetadata
	obsoleteManifests []FileNum
	cleaner           *cleanupManager

	metrics struct {
		logAndApplies int64
		batchedEdits  int64
		rollovers     int64
		latency       *hdrhistogram.Histogram
	}
}

// NewVersionSet returns a version set for the database in dirname. Create
// initializes a new database; Recover loads an existing one. A nil wbm or wc
// is replaced by one configured from opts.
func NewVersionSet(
	dirname string,
	opts *Options,
	tc TableCache,
	wbm *WriteBufferManager,
	wc *WriteController,
	mu *sync.Mutex,
) *VersionSet {
	opts = opts.EnsureDefaults()
	if wbm == nil {
		wbm = NewWriteBufferManager(opts.DBWriteBufferSize)
	}
	if wc == nil {
		wc = NewWriteController(opts.DelayedWriteRate)
	}
	vs := &VersionSet{
		dirname: dirname,
		mu:      mu,
		opts:    opts,
		fs:      opts.FS,
		logger:  opts.Logger,
		tc:      tc,
		wbm:     wbm,
		wc:      wc,
	}
	vs.cfs = newColumnFamilySet(vs)
	vs.cleaner = openCleanupManager(dirname, opts, tc)
	vs.nextFileNum.Store(2)
	vs.metrics.latency = hdrhistogram.New(1, maxLogAndApplyLatencyMicros, 2)
	return vs
}

// Create initializes a new database: it writes the first manifest, holding
// the initial state of the default column family, and points CURRENT at it.
// The database is then opened with Recover.
func (vs *VersionSet) Create(cmp *Comparer) error {
	if cmp == nil {
		cmp = DefaultComparer
	}
	if err := vs.fs.MkdirAll(vs.dirname, 0755); err != nil {
		return err
	}
	const manifestFileNum = 1
	var ve VersionEdit
	ve.SetComparerName(cmp.Name)
	ve.SetLogNum(0)
	ve.SetNextFileNum(manifestFileNum + 1)
	ve.SetLastSeqNum(0)

	path := base.MakeFilepath(vs.fs, vs.dirname, base.FileTypeManifest, manifestFileNum)
	err := func() error {
		f, err := vs.fs.Create(path)
		if err != nil {
			return err
		}
		w := record.NewWriter(f)
		rec, err := ve.EncodeToBytes()
		if err == nil {
			_, err = w.WriteRecord(rec)
		}
		if err == nil {
			err = w.Close()
		}
		if err == nil {
			err = f.Sync()
		}
		err = errors.CombineErrors(err, f.Close())
		if err != nil {
			return err
		}
		return setCurrentFile(vs.dirname, vs.fs, manifestFileNum)
	}()
	if err != nil {
		_ = vs.fs.Remove(path)
		return err
	}
	return nil
}

// LogAndApply applies the edit to the current version of the column family,
// writes it to the manifest and installs the resulting version. The edit of
// a column family creation cannot be applied directly; see
// CreateColumnFamily.
//
// The database mutex must be held. It is released while the manifest is
// written. Calls are committed in order: the call at the head of the queue
// writes the edits of the calls queued behind it for the same column family
// as a single record.
func (vs *VersionSet) LogAndApply(cfd *ColumnFamilyData, edit *VersionEdit) error {
	if cfd == nil || edit.ColumnFamilyAdd {
		return errors.AssertionFailedf("lsmcore: column families are created by CreateColumnFamily")
	}
	_, err := vs.logAndApply(cfd, edit, nil)
	return err
}

// CreateColumnFamily creates the named column family and persists its
// creation. The database mutex must be held.
func (vs *VersionSet) CreateColumnFamily(
	name string, opts *ColumnFamilyOptions,
) (*ColumnFamilyData, error) {
	if vs.cfs.Get(name) != nil {
		return nil, base.InvalidArgumentErrorf("lsmcore: column family %q already exists", errors.Safe(name))
	}
	opts = opts.Sanitize(vs.opts)
	if err := opts.Validate(vs.opts); err != nil {
		return nil, err
	}
	var ve VersionEdit
	ve.AddColumnFamily(name)
	ve.ColumnFamily = vs.cfs.GetNextColumnFamilyID()
	ve.SetComparerName(opts.Comparer.Name)
	// The family holds no data yet: logs older than the newest log of any
	// family are of no interest to it.
	var logNum FileNum
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if !cfd.IsDropped() {
			logNum = max(logNum, cfd.logNumber)
		}
	})
	ve.SetLogNum(logNum)
	return vs.logAndApply(nil, &ve, opts)
}

// DropColumnFamily persists the removal of the column family. The default
// column family cannot be dropped. The database mutex must be held.
func (vs *VersionSet) DropColumnFamily(cfd *ColumnFamilyData) error {
	if cfd.ID() == 0 {
		return base.InvalidArgumentErrorf("lsmcore: the default column family cannot be dropped")
	}
	var ve VersionEdit
	ve.ColumnFamily = cfd.ID()
	ve.DropColumnFamily()
	_, err := vs.logAndApply(cfd, &ve, nil)
	return err
}

func (vs *VersionSet) logAndApply(
	cfd *ColumnFamilyData, edit *VersionEdit, cfOpts *ColumnFamilyOptions,
) (*ColumnFamilyData, error) {
	start := crtime.NowMono()
	w := &manifestWriter{cfd: cfd, edit: edit}
	w.cond.L = vs.mu
	vs.writers = append(vs.writers, w)
	for !w.done && w != vs.writers[0] {
		w.cond.Wait()
	}
	if w.done {
		return nil, w.err
	}

	if cfd != nil && cfd.IsDropped() {
		// Nothing is written for a dropped column family.
		vs.writers = vs.writers[1:]
		if len(vs.writers) > 0 {
			vs.writers[0].cond.Signal()
		}
		return nil, errors.Wrapf(ErrColumnFamilyDropped, "lsmcore: column family %q", errors.Safe(cfd.Name()))
	}

	var err error
	var builder *manifest.Builder
	var mutable *mutableCFOptions
	batch := []*VersionEdit{edit}
	last := 0
	if edit.IsColumnFamilyManipulation() {
		vs.prepareColumnFamilyEdit(edit)
	} else {
		mutable = cfd.mutable
		builder = manifest.NewBuilder(cfd.cmp, cfd.current.Storage)
		batch = batch[:0]
		for i, qw := range vs.writers {
			if qw.edit.IsColumnFamilyManipulation() || qw.cfd != cfd {
				break
			}
			last = i
			batch = append(batch, qw.edit)
			if err = vs.prepareEdit(cfd, builder, qw.edit); err != nil {
				break
			}
		}
	}
	versionNum := vs.versionNum
	vs.versionNum++

	newManifest := vs.manifest == nil || vs.manifestFileSize > vs.opts.MaxManifestFileSize
	if newManifest {
		vs.pendingManifestFileNum = vs.getNextFileNum()
		batch[len(batch)-1].SetNextFileNum(FileNum(vs.nextFileNum.Load()))
		// A new manifest must carry the largest column family id so that the
		// ids of dropped families are not reused.
		if maxCF := vs.cfs.MaxColumnFamily(); maxCF > 0 {
			edit.SetMaxColumnFamily(maxCF)
		}
	} else {
		vs.pendingManifestFileNum = vs.manifestFileNum
	}
	merged := manifest.MergeEdits(batch)
	var rec []byte
	if err == nil {
		if rec, err = merged.EncodeToBytes(); err != nil {
			err = base.CorruptionErrorf("Unable to Encode VersionEdit: %s", merged)
		}
	}

	var v *manifest.Version
	var newFile vfs.File
	var newWriter *record.Writer
	var newManifestFileSize uint64
	appendFailed := false
	manifestFile, manifestWriter := vs.manifestFile, vs.manifest
	pending := vs.pendingManifestFileNum
	vs.mu.Unlock()
	// Everything up to the next lock is serialized by the writer queue.
	func() {
		if err != nil {
			return
		}
		if builder != nil && vs.opts.MaxOpenFiles == -1 && vs.tc != nil {
			if lerr := builder.LoadTableHandles(vs.tc, vs.opts.MaxFileOpeningThreads); lerr != nil {
				cfd.logger.Infof("[%s] unable to preload table handles: %v", cfd.Name(), lerr)
			}
		}
		mlog := base.WithField(vs.logger, "manifest", pending)
		if newManifest {
			mlog.Infof("Creating manifest %s", pending)
			if newFile, newWriter, err = vs.createManifest(pending); err != nil {
				return
			}
			manifestFile, manifestWriter = newFile, newWriter
		}
		if err = vs.writeRecord(manifestWriter, manifestFile, rec); err != nil {
			appendFailed = true
			mlog.Errorf("MANIFEST write: %v", err)
			if vs.manifestContains(pending, rec) {
				appendFailed = false
				mlog.Infof("MANIFEST contains log record despite error; advancing to new " +
					"version to prevent mismatch between in-memory and logged state")
				err = nil
			}
		}
		if err == nil && newManifest {
			err = setCurrentFile(vs.dirname, vs.fs, pending)
		}
		if err != nil {
			return
		}
		newManifestFileSize = uint64(manifestWriter.Size())
		if builder != nil {
			v = vs.buildVersion(cfd, builder, mutable, versionNum)
		}
	}()
	vs.mu.Lock()

	var newCFD *ColumnFamilyData
	if err == nil {
		if newManifest {
			vs.switchManifest(newFile, newWriter, pending)
		}
		switch {
		case edit.ColumnFamilyAdd:
			newCFD = vs.createColumnFamily(cfOpts, edit)
		case edit.ColumnFamilyDrop:
			vs.cfs.dropColumnFamily(cfd)
		default:
			var maxLogNum FileNum
			for _, e := range batch {
				if e.HasLogNum {
					maxLogNum = max(maxLogNum, e.LogNum)
				}
			}
			if maxLogNum != 0 {
				cfd.logNumber = maxLogNum
			}
			v.Storage.ComputeCompactionScore(mutable.scoringOptions(vs.logger))
			v.Storage.SetFinalized()
			vs.appendVersion(cfd, v)
		}
		vs.manifestFileNum = pending
		vs.manifestFileSize = newManifestFileSize
		if merged.HasPrevLogNum {
			vs.prevLogNum = merged.PrevLogNum
		}
	} else {
		name := "<null>"
		if cfd != nil {
			name = cfd.Name()
		}
		vs.logger.Errorf("Error in committing version %d to [%s]", versionNum, name)
		if newManifest {
			if newFile != nil {
				vs.logger.Infof("Deleting manifest %s current manifest %s", pending, vs.manifestFileNum)
				_ = newFile.Close()
				_ = vs.fs.Remove(base.MakeFilepath(vs.fs, vs.dirname, base.FileTypeManifest, pending))
			}
		} else if appendFailed && vs.manifest != nil {
			// The tail of the manifest is in an unknown state. The next edit
			// starts a new manifest.
			_ = vs.manifestFile.Close()
			vs.manifestFile, vs.manifest = nil, nil
		}
	}
	if builder != nil {
		builder.Release()
	}
	vs.pendingManifestFileNum = 0

	for i := 0; i <= last; i++ {
		if ready := vs.writers[i]; ready != w {
			ready.err = err
			ready.done = true
			ready.cond.Signal()
		}
	}
	vs.writers = vs.writers[last+1:]
	if len(vs.writers) > 0 {
		vs.writers[0].cond.Signal()
	}

	vs.metrics.logAndApplies++
	vs.metrics.batchedEdits += int64(len(batch) - 1)
	micros := min(max(int64(start.Elapsed()/time.Microsecond), 1), maxLogAndApplyLatencyMicros)
	_ = vs.metrics.latency.RecordValue(micros)
	return newCFD, err
}

// prepareEdit fills in the database-wide state of an edit of cfd and applies
// it to the builder.
func (vs *VersionSet) prepareEdit(cfd *ColumnFamilyData, b *manifest.Builder, ve *VersionEdit) error {
	if ve.HasLogNum && (ve.LogNum < cfd.logNumber || uint64(ve.LogNum) >= vs.nextFileNum.Load()) {
		return errors.AssertionFailedf("lsmcore: log number %s out of range [%s, %d)",
			ve.LogNum, cfd.logNumber, vs.nextFileNum.Load())
	}
	ve.ColumnFamily = cfd.ID()
	if !ve.HasPrevLogNum {
		ve.SetPrevLogNum(vs.prevLogNum)
	}
	ve.SetNextFileNum(FileNum(vs.nextFileNum.Load()))
	ve.SetLastSeqNum(vs.LastSequence())
	return b.Apply(ve)
}

func (vs *VersionSet) prepareColumnFamilyEdit(ve *VersionEdit) {
	ve.SetNextFileNum(FileNum(vs.nextFileNum.Load()))
	ve.SetLastSeqNum(vs.LastSequence())
	if ve.ColumnFamilyDrop {
		ve.SetMaxColumnFamily(vs.cfs.MaxColumnFamily())
	}
}

// buildVersion saves the builder's layout into a new version of cfd and
// finalizes it. Scores are computed once the database mutex is held again:
// they depend on which files are being compacted.
func (vs *VersionSet) buildVersion(
	cfd *ColumnFamilyData, b *manifest.Builder, mutable *mutableCFOptions, num uint64,
) *manifest.Version {
	s := manifest.NewVersionStorageInfo(cfd.cmp, cfd.NumLevels(), cfd.ioptions.CompactionStyle, cfd.current.Storage)
	b.SaveTo(s)
	s.Finalize(mutable.scoringOptions(vs.logger), vs.tc, true)
	return manifest.NewVersion(s, num)
}

// createManifest creates the manifest fileNum holding a snapshot of every
// live column family.
func (vs *VersionSet) createManifest(fileNum FileNum) (vfs.File, *record.Writer, error) {
	path := base.MakeFilepath(vs.fs, vs.dirname, base.FileTypeManifest, fileNum)
	f, err := vs.fs.Create(path)
	if err != nil {
		return nil, nil, err
	}
	w := record.NewWriter(f)
	if err := vs.writeSnapshot(w); err != nil {
		_ = f.Close()
		_ = vs.fs.Remove(path)
		return nil, nil, err
	}
	return f, w, nil
}

// writeSnapshot writes two records per live column family: one naming it
// and its comparer, and one holding its log number and every file of its
// current version.
func (vs *VersionSet) writeSnapshot(w *record.Writer) error {
	var err error
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if err != nil || cfd.IsDropped() {
			return
		}
		var info VersionEdit
		if cfd.ID() != 0 {
			// The default column family always exists.
			info.AddColumnFamily(cfd.Name())
			info.ColumnFamily = cfd.ID()
		}
		info.SetComparerName(cfd.cmp.Name)
		if err = writeEdit(w, &info); err != nil {
			return
		}
		var files VersionEdit
		files.ColumnFamily = cfd.ID()
		s := cfd.current.Storage
		for level := 0; level < s.NumLevels(); level++ {
			for _, f := range s.LevelFiles(level) {
				files.AddFile(level, f)
			}
		}
		files.SetLogNum(cfd.logNumber)
		err = writeEdit(w, &files)
	})
	return err
}

func writeEdit(w *record.Writer, ve *VersionEdit) error {
	rec, err := ve.EncodeToBytes()
	if err != nil {
		return base.CorruptionErrorf("Unable to Encode VersionEdit: %s", ve)
	}
	_, err = w.WriteRecord(rec)
	return err
}

// writeRecord appends rec to the manifest and syncs it.
func (vs *VersionSet) writeRecord(w *record.Writer, f vfs.File, rec []byte) error {
	if _, err := w.WriteRecord(rec); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	start := crtime.NowMono()
	err := f.Sync()
	if h := vs.opts.ManifestSyncLatency; h != nil {
		h.Observe(start.Elapsed().Seconds())
	}
	return err
}

// manifestContains returns true if the manifest fileNum holds the record.
// It is used to find out whether an edit whose write returned an error is
// durable anyway.
func (vs *VersionSet) manifestContains(fileNum FileNum, rec []byte) bool {
	path := base.MakeFilepath(vs.fs, vs.dirname, base.FileTypeManifest, fileNum)
	f, err := vs.fs.Open(path)
	if err != nil {
		vs.logger.Infof("ManifestContains: %v", err)
		return false
	}
	defer f.Close()
	want := xxhash.Sum64(rec)
	rr := record.NewReader(f)
	for {
		r, err := rr.Next()
		if err != nil {
			if err != io.EOF {
				vs.logger.Infof("ManifestContains: %v", err)
			}
			return false
		}
		b, err := io.ReadAll(r)
		if err != nil {
			vs.logger.Infof("ManifestContains: %v", err)
			return false
		}
		if xxhash.Sum64(b) == want && bytes.Equal(b, rec) {
			return true
		}
	}
}

// switchManifest makes the manifest fileNum the one edits are appended to,
// closing and deleting the previous one.
func (vs *VersionSet) switchManifest(f vfs.File, w *record.Writer, fileNum FileNum) {
	if vs.manifestFile != nil {
		_ = vs.manifestFile.Close()
	}
	if old := vs.manifestFileNum; old != 0 && old != fileNum {
		base.WithField(vs.logger, "manifest", fileNum).Infof("Deleting manifest %s current manifest %s", old, fileNum)
		if err := vs.fs.Remove(base.MakeFilepath(vs.fs, vs.dirname, base.FileTypeManifest, old)); err != nil &&
			!vfs.IsNotExist(err) {
			vs.obsoleteManifests = append(vs.obsoleteManifests, old)
		}
	}
	vs.manifestFile, vs.manifest = f, w
	vs.metrics.rollovers++
}

// appendVersion makes v the current version of cfd.
func (vs *VersionSet) appendVersion(cfd *ColumnFamilyData, v *manifest.Version) {
	if !v.Storage.IsFinalized() {
		panic("lsmcore: appending an unfinalized version")
	}
	v.Deleted = vs.obsoleteFn
	if cfd.current != nil {
		cfd.current.UnrefLocked()
	}
	cfd.current = v
	v.Ref()
	cfd.versions.PushBack(v)
}

// obsoleteFn is called with the database mutex held when the last
// reference of a version is released.
func (vs *VersionSet) obsoleteFn(obsolete []*FileMetadata) {
	vs.obsoleteTables = append(vs.obsoleteTables, obsolete...)
}

// createColumnFamily builds the column family described by a creation edit
// at an empty version, and installs its first SuperVersion.
func (vs *VersionSet) createColumnFamily(opts *ColumnFamilyOptions, ve *VersionEdit) *ColumnFamilyData {
	cfd := vs.cfs.CreateColumnFamily(ve.ColumnFamilyName, ve.ColumnFamily, opts)
	s := manifest.NewVersionStorageInfo(cfd.cmp, cfd.NumLevels(), opts.CompactionStyle, nil)
	scoring := cfd.mutable.scoringOptions(vs.logger)
	s.Finalize(scoring, nil, false)
	s.ComputeCompactionScore(scoring)
	s.SetFinalized()
	vs.appendVersion(cfd, manifest.NewVersion(s, vs.versionNum))
	vs.versionNum++
	cfd.createNewMemTable(vs.LastSequence())
	cfd.logNumber = ve.LogNum
	cfd.InstallSuperVersion()
	return cfd
}

func (vs *VersionSet) getNextFileNum() FileNum {
	return FileNum(vs.nextFileNum.Add(1) - 1)
}

// NewFileNumber allocates a file number. It may be called without the
// mutex.
func (vs *VersionSet) NewFileNumber() FileNum {
	return vs.getNextFileNum()
}

// MarkFileNumberUsedDuringRecovery makes sure that n is never allocated.
func (vs *VersionSet) MarkFileNumberUsedDuringRecovery(n FileNum) {
	if vs.nextFileNum.Load() <= uint64(n) {
		vs.nextFileNum.Store(uint64(n) + 1)
	}
}

// LastSequence returns the sequence number of the last write. It may be
// called without the mutex.
func (vs *VersionSet) LastSequence() SeqNum {
	return SeqNum(vs.lastSeqNum.Load())
}

// SetLastSequence records the sequence number of the last write. Sequence
// numbers never go backwards.
func (vs *VersionSet) SetLastSequence(s SeqNum) {
	if s < vs.LastSequence() {
		panic(errors.AssertionFailedf("lsmcore: last sequence %s moving back to %s", vs.LastSequence(), s))
	}
	vs.lastSeqNum.Store(uint64(s))
}

// ManifestFileNumber returns the number of the current manifest.
func (vs *VersionSet) ManifestFileNumber() FileNum {
	return vs.manifestFileNum
}

// PrevLogNumber returns the persisted previous log number.
func (vs *VersionSet) PrevLogNumber() FileNum {
	return vs.prevLogNum
}

// MinLogNumber returns the smallest log number any live column family still
// needs; the logs below it are obsolete.
func (vs *VersionSet) MinLogNumber() FileNum {
	minLogNum := FileNum(math.MaxUint64)
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if !cfd.IsDropped() {
			minLogNum = min(minLogNum, cfd.logNumber)
		}
	})
	return minLogNum
}

// ColumnFamilySet returns the column families of the database.
func (vs *VersionSet) ColumnFamilySet() *ColumnFamilySet {
	return vs.cfs
}

// AddLiveFiles appends the numbers of the files of every version that is
// still referenced, in any column family.
func (vs *VersionSet) AddLiveFiles(live []FileNum) []FileNum {
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		live = cfd.versions.AddLiveFiles(live)
	})
	return live
}

// GetLiveFilesMetadata describes the files of the current version of every
// live column family.
func (vs *VersionSet) GetLiveFilesMetadata() []LiveFileMetadata {
	var files []LiveFileMetadata
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if cfd.IsDropped() {
			return
		}
		s := cfd.current.Storage
		for level := 0; level < s.NumLevels(); level++ {
			for _, f := range s.LevelFiles(level) {
				files = append(files, LiveFileMetadata{
					ColumnFamilyName: cfd.Name(),
					Level:            level,
					FileNum:          f.FileNum,
					Dir:              tableDir(vs.dirname, vs.opts.DBPaths, f.PathID),
					Size:             f.Size,
					SmallestSeqNum:   f.SmallestSeqNum,
					LargestSeqNum:    f.LargestSeqNum,
					SmallestKey:      f.Smallest.UserKey,
					LargestKey:       f.Largest.UserKey,
					BeingCompacted:   f.BeingCompacted,
				})
			}
		}
	})
	return files
}

// GetObsoleteFiles hands over the obsolete manifests and the obsolete tables
// whose numbers are below minPendingOutput. Tables at or above it may be
// outputs of running jobs and stay queued.
func (vs *VersionSet) GetObsoleteFiles(minPendingOutput FileNum) ObsoleteFiles {
	var res ObsoleteFiles
	var pending []*FileMetadata
	for _, f := range vs.obsoleteTables {
		if f.FileNum < minPendingOutput {
			res.Tables = append(res.Tables, f)
		} else {
			pending = append(pending, f)
		}
	}
	vs.obsoleteTables = pending
	res.Manifests, vs.obsoleteManifests = vs.obsoleteManifests, nil
	return res
}

// PurgeObsoleteFiles hands the obsolete files below minPendingOutput to the
// cleaner, which deletes them without the mutex.
func (vs *VersionSet) PurgeObsoleteFiles(minPendingOutput FileNum) {
	vs.cleaner.EnqueueJob(vs.GetObsoleteFiles(minPendingOutput))
}

// WaitForCleanup waits for the deletions queued so far. The mutex must not
// be held.
func (vs *VersionSet) WaitForCleanup() {
	vs.cleaner.Wait()
}

// MakeInputIterator returns an iterator over the inputs of the compaction:
// one per level 0 file, and one concatenating iterator per other level.
func (vs *VersionSet) MakeInputIterator(c *Compaction) InternalIterator {
	cmp := c.cfd.cmp.Compare
	var iters []internalIterator
	for i := range c.inputs {
		in := &c.inputs[i]
		if in.empty() {
			continue
		}
		if in.level != 0 {
			iters = append(iters, newLevelIter(cmp, vs.tc, in.level, in.files))
			continue
		}
		for _, f := range in.files {
			iter, err := vs.tc.NewIterator(f)
			if err != nil {
				iter = newErrorIter(err)
			}
			iters = append(iters, iter)
		}
	}
	return newMergingIter(cmp, iters...)
}

// VerifyCompactionFileConsistency returns true if every input of the
// compaction is still part of the current version of its column family.
func (vs *VersionSet) VerifyCompactionFileConsistency(c *Compaction) bool {
	current := c.cfd.current
	if c.inputVersion != current {
		vs.logger.Infof("[%s] compaction output being applied to a different base version from input version",
			c.cfd.Name())
	}
	s := current.Storage
	for i := range c.inputs {
		in := &c.inputs[i]
		for _, f := range in.files {
			found := false
			for _, g := range s.LevelFiles(in.level) {
				if g.FileNum == f.FileNum {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// Close closes the manifest and stops the cleaner once its queued deletions
// are done. The version set must not be used afterwards.
func (vs *VersionSet) Close() error {
	vs.cleaner.Close()
	if vs.manifestFile == nil {
		return nil
	}
	err := vs.manifestFile.Close()
	vs.manifestFile, vs.manifest = nil, nil
	return err
}
