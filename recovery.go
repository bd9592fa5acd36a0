// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"io"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/internal/manifest"
	"github.com/lsmcore/lsmcore/record"
	"github.com/lsmcore/lsmcore/vfs"
)

// Recover loads the state of the database from the manifest named by
// CURRENT. Every column family of the manifest must be described unless
// readOnly is set; the descriptors must include the default column family.
// The recovered manifest is not reopened: the first LogAndApply writes a new
// one.
func (vs *VersionSet) Recover(descriptors []ColumnFamilyDescriptor, readOnly bool) error {
	cfOptions := make(map[string]*ColumnFamilyOptions, len(descriptors))
	for _, d := range descriptors {
		cfOptions[d.Name] = d.Options
	}
	// The column families of the manifest that have no descriptor and were
	// not dropped.
	notFound := make(map[uint32]string)

	manifestFileNum, manifestPath, err := readCurrentFile(vs.dirname, vs.fs)
	if err != nil {
		return err
	}
	vs.logger.Infof("Recovering from manifest file: %s", vs.fs.PathBase(manifestPath))
	f, err := vs.fs.Open(manifestPath)
	if err != nil {
		return errors.Wrapf(err, "lsmcore: could not open manifest file %q", errors.Safe(manifestPath))
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	defaultOpts, ok := cfOptions[DefaultColumnFamilyName]
	if !ok {
		return base.InvalidArgumentErrorf("Default column family not specified")
	}
	defaultOpts, err = vs.sanitizeColumnFamilyOptions(defaultOpts)
	if err != nil {
		return err
	}
	var defaultEdit VersionEdit
	defaultEdit.AddColumnFamily(DefaultColumnFamilyName)
	defaultEdit.ColumnFamily = 0
	defaultCFD := vs.createColumnFamily(defaultOpts, &defaultEdit)

	builders := map[uint32]*manifest.Builder{
		0: manifest.NewBuilder(defaultCFD.cmp, defaultCFD.current.Storage),
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	var (
		haveLogNum, havePrevLogNum, haveNextFile, haveLastSeq bool
		nextFile, logNum, prevLogNum                          FileNum
		lastSeq                                               SeqNum
		maxColumnFamily                                       uint32
	)

	rr := record.NewReader(f)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return base.MarkCorruptionError(errors.Wrapf(err, "lsmcore: error when loading manifest file %q",
				errors.Safe(manifestPath)))
		}
		var ve VersionEdit
		if err := ve.Decode(r); err != nil {
			return err
		}

		_, inNotFound := notFound[ve.ColumnFamily]
		_, inBuilders := builders[ve.ColumnFamily]
		var cfd *ColumnFamilyData

		switch {
		case ve.ColumnFamilyAdd:
			if inBuilders || inNotFound {
				return base.CorruptionErrorf("Manifest adding the same column family twice")
			}
			opts, ok := cfOptions[ve.ColumnFamilyName]
			if !ok {
				notFound[ve.ColumnFamily] = ve.ColumnFamilyName
				break
			}
			if opts, err = vs.sanitizeColumnFamilyOptions(opts); err != nil {
				return err
			}
			cfd = vs.createColumnFamily(opts, &ve)
			builders[ve.ColumnFamily] = manifest.NewBuilder(cfd.cmp, cfd.current.Storage)

		case ve.ColumnFamilyDrop:
			switch {
			case inBuilders:
				builders[ve.ColumnFamily].Release()
				delete(builders, ve.ColumnFamily)
				vs.cfs.dropColumnFamily(vs.cfs.GetColumnFamily(ve.ColumnFamily))
			case inNotFound:
				delete(notFound, ve.ColumnFamily)
			default:
				return base.CorruptionErrorf("Manifest - dropping non-existing column family")
			}

		case !inNotFound:
			if !inBuilders {
				return base.CorruptionErrorf("Manifest record referencing unknown column family")
			}
			cfd = vs.cfs.GetColumnFamily(ve.ColumnFamily)
			if ve.MaxLevel() >= cfd.NumLevels() {
				return base.InvalidArgumentErrorf("db has more levels than options.num_levels")
			}
			if err := builders[ve.ColumnFamily].Apply(&ve); err != nil {
				return base.MarkCorruptionError(err)
			}
		}

		if cfd != nil {
			if ve.HasLogNum {
				if cfd.logNumber > ve.LogNum {
					vs.logger.Infof("MANIFEST corruption detected, but ignored - Log numbers in " +
						"records NOT monotonically increasing")
				} else {
					cfd.logNumber = ve.LogNum
					logNum = max(logNum, ve.LogNum)
					haveLogNum = true
				}
			}
			if ve.HasComparerName && ve.ComparerName != cfd.cmp.Name {
				return base.InvalidArgumentErrorf("%s: does not match existing comparator %s",
					errors.Safe(cfd.cmp.Name), errors.Safe(ve.ComparerName))
			}
		}
		if ve.HasPrevLogNum {
			prevLogNum, havePrevLogNum = ve.PrevLogNum, true
		}
		if ve.HasNextFileNum {
			nextFile, haveNextFile = ve.NextFileNum, true
		}
		if ve.HasMaxColumnFamily {
			maxColumnFamily = ve.MaxColumnFamily
		}
		if ve.HasLastSeqNum {
			lastSeq, haveLastSeq = ve.LastSeqNum, true
		}
	}

	switch {
	case !haveNextFile:
		return base.CorruptionErrorf("no meta-nextfile entry in descriptor")
	case !haveLogNum:
		return base.CorruptionErrorf("no meta-lognumber entry in descriptor")
	case !haveLastSeq:
		return base.CorruptionErrorf("no last-sequence-number entry in descriptor")
	}
	if !havePrevLogNum {
		prevLogNum = 0
	}
	vs.cfs.UpdateMaxColumnFamily(maxColumnFamily)
	vs.MarkFileNumberUsedDuringRecovery(prevLogNum)
	vs.MarkFileNumberUsedDuringRecovery(logNum)

	if !readOnly && len(notFound) > 0 {
		ids := make([]uint32, 0, len(notFound))
		for id := range notFound {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = notFound[id]
		}
		return base.InvalidArgumentErrorf(
			"You have to open all column families. Column families not opened: %s",
			errors.Safe(strings.Join(names, ", ")))
	}

	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if cfd.IsDropped() {
			return
		}
		b := builders[cfd.ID()]
		if vs.opts.MaxOpenFiles == -1 && vs.tc != nil {
			if err := b.LoadTableHandles(vs.tc, vs.opts.MaxFileOpeningThreads); err != nil {
				vs.logger.Infof("[%s] unable to preload table handles: %v", cfd.Name(), err)
			}
		}
		s := manifest.NewVersionStorageInfo(cfd.cmp, cfd.NumLevels(), cfd.ioptions.CompactionStyle, cfd.current.Storage)
		b.SaveTo(s)
		scoring := cfd.mutable.scoringOptions(vs.logger)
		s.Finalize(scoring, vs.tc, true)
		s.ComputeCompactionScore(scoring)
		s.SetFinalized()
		vs.appendVersion(cfd, manifest.NewVersion(s, vs.versionNum))
		vs.versionNum++
		if old := cfd.InstallSuperVersion(); old != nil {
			old.deleteMemTables()
		}
	})

	vs.manifestFileNum = manifestFileNum
	vs.manifestFileSize = uint64(stat.Size())
	vs.nextFileNum.Store(uint64(nextFile) + 1)
	vs.lastSeqNum.Store(uint64(lastSeq))
	vs.prevLogNum = prevLogNum

	vs.logger.Infof("Recovered from manifest file:%s succeeded,"+
		"manifest_file_number is %s, next_file_number is %d, "+
		"last_sequence is %s, log_number is %s,"+
		"prev_log_number is %s,"+
		"max_column_family is %d",
		vs.fs.PathBase(manifestPath), vs.manifestFileNum, vs.nextFileNum.Load(),
		lastSeq, logNum, vs.prevLogNum, vs.cfs.MaxColumnFamily())
	vs.cfs.forEach(func(cfd *ColumnFamilyData) {
		if !cfd.IsDropped() {
			vs.logger.Infof("Column family [%s] (ID %d), log number is %s", cfd.Name(), cfd.ID(), cfd.logNumber)
		}
	})
	return nil
}

func (vs *VersionSet) sanitizeColumnFamilyOptions(opts *ColumnFamilyOptions) (*ColumnFamilyOptions, error) {
	opts = opts.EnsureDefaults().Sanitize(vs.opts)
	if err := opts.Validate(vs.opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// ListColumnFamilies returns the names of the column families of the
// database in dirname, in id order. The default column family is always
// present.
func ListColumnFamilies(fs vfs.FS, dirname string) ([]string, error) {
	_, manifestPath, err := readCurrentFile(dirname, fs)
	if err != nil {
		return nil, err
	}
	f, err := fs.Open(manifestPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names := map[uint32]string{0: DefaultColumnFamilyName}
	rr := record.NewReader(f)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		var ve VersionEdit
		if err := ve.Decode(r); err != nil {
			return nil, err
		}
		switch {
		case ve.ColumnFamilyAdd:
			if _, ok := names[ve.ColumnFamily]; ok {
				return nil, base.CorruptionErrorf("Manifest adding the same column family twice")
			}
			names[ve.ColumnFamily] = ve.ColumnFamilyName
		case ve.ColumnFamilyDrop:
			if _, ok := names[ve.ColumnFamily]; !ok {
				return nil, base.CorruptionErrorf("Manifest - dropping non-existing column family")
			}
			delete(names, ve.ColumnFamily)
		}
	}

	ids := make([]uint32, 0, len(names))
	for id := range names {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = names[id]
	}
	return res, nil
}
