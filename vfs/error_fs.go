// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrInjected is an error artificially injected for testing fs error paths.
var ErrInjected = errors.New("injected error")

// Op is an enum describing the type of operation.
type Op int

const (
	// OpCreate describes a create file operation.
	OpCreate Op = iota
	// OpRemove describes a remove file operation.
	OpRemove
	// OpRename describes a rename operation.
	OpRename
	// OpOpen describes a file open operation.
	OpOpen
	// OpRead describes a file read operation.
	OpRead
	// OpWrite describes a file write operation.
	OpWrite
	// OpSync describes a file sync operation.
	OpSync
	// OpList describes a list directory operation.
	OpList
	// OpStat describes a stat operation.
	OpStat
	// OpMkdirAll describes a make directory operation.
	OpMkdirAll
)

// Injector decides whether to inject an error for an operation on path.
type Injector interface {
	MaybeError(op Op, path string) error
}

// InjectorFunc implements the Injector interface for a function with
// MaybeError's signature.
type InjectorFunc func(Op, string) error

// MaybeError implements the Injector interface.
func (f InjectorFunc) MaybeError(op Op, path string) error { return f(op, path) }

// OnIndex returns an Injector that injects an error on the (index+1)-th
// operation passed to it. A negative index never injects.
func OnIndex(index int32) *InjectIndex {
	ii := &InjectIndex{}
	ii.index.Store(index)
	return ii
}

// InjectIndex implements Injector, injecting an error at a specific index.
type InjectIndex struct {
	index atomic.Int32
}

// SetIndex sets the index of the next injected error.
func (ii *InjectIndex) SetIndex(v int32) { ii.index.Store(v) }

// MaybeError implements the Injector interface.
func (ii *InjectIndex) MaybeError(Op, string) error {
	if ii.index.Add(-1) == -1 {
		return errors.WithStack(ErrInjected)
	}
	return nil
}

// OnOp returns an Injector that forwards to next only for the given ops on
// paths whose base name matches pattern (a filepath.Match pattern).
func OnOp(pattern string, next Injector, ops ...Op) Injector {
	return InjectorFunc(func(op Op, path string) error {
		found := false
		for _, o := range ops {
			if o == op {
				found = true
			}
		}
		if !found {
			return nil
		}
		if m, _ := filepath.Match(pattern, filepath.Base(path)); !m {
			return nil
		}
		return next.MaybeError(op, path)
	})
}

// Wrap wraps an FS with an error-injecting FS.
func Wrap(fs FS, inj Injector) *ErrorFS {
	efs := &ErrorFS{fs: fs}
	efs.inj.Store(&inj)
	return efs
}

// ErrorFS implements FS, injecting errors into requests.
type ErrorFS struct {
	fs  FS
	inj atomic.Pointer[Injector]
}

var _ FS = (*ErrorFS)(nil)

// SetInjector replaces the injector. A nil injector disables injection.
func (fs *ErrorFS) SetInjector(inj Injector) {
	fs.inj.Store(&inj)
}

func (fs *ErrorFS) maybeError(op Op, path string) error {
	inj := *fs.inj.Load()
	if inj == nil {
		return nil
	}
	return inj.MaybeError(op, path)
}

// Create implements FS.Create.
func (fs *ErrorFS) Create(name string) (File, error) {
	if err := fs.maybeError(OpCreate, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.Create(name)
	if err != nil {
		return nil, err
	}
	return &errorFile{name, f, fs}, nil
}

// Open implements FS.Open.
func (fs *ErrorFS) Open(name string) (File, error) {
	if err := fs.maybeError(OpOpen, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &errorFile{name, f, fs}, nil
}

// OpenDir implements FS.OpenDir.
func (fs *ErrorFS) OpenDir(name string) (File, error) {
	if err := fs.maybeError(OpOpen, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.OpenDir(name)
	if err != nil {
		return nil, err
	}
	return &errorFile{name, f, fs}, nil
}

// Remove implements FS.Remove.
func (fs *ErrorFS) Remove(name string) error {
	if _, err := fs.fs.Stat(name); IsNotExist(err) {
		return nil
	}
	if err := fs.maybeError(OpRemove, name); err != nil {
		return err
	}
	return fs.fs.Remove(name)
}

// Rename implements FS.Rename.
func (fs *ErrorFS) Rename(oldname, newname string) error {
	if err := fs.maybeError(OpRename, newname); err != nil {
		return err
	}
	return fs.fs.Rename(oldname, newname)
}

// MkdirAll implements FS.MkdirAll.
func (fs *ErrorFS) MkdirAll(dir string, perm os.FileMode) error {
	if err := fs.maybeError(OpMkdirAll, dir); err != nil {
		return err
	}
	return fs.fs.MkdirAll(dir, perm)
}

// List implements FS.List.
func (fs *ErrorFS) List(dir string) ([]string, error) {
	if err := fs.maybeError(OpList, dir); err != nil {
		return nil, err
	}
	return fs.fs.List(dir)
}

// Stat implements FS.Stat.
func (fs *ErrorFS) Stat(name string) (os.FileInfo, error) {
	if err := fs.maybeError(OpStat, name); err != nil {
		return nil, err
	}
	return fs.fs.Stat(name)
}

// PathBase implements FS.PathBase.
func (fs *ErrorFS) PathBase(p string) string {
	return fs.fs.PathBase(p)
}

// PathJoin implements FS.PathJoin.
func (fs *ErrorFS) PathJoin(elem ...string) string {
	return fs.fs.PathJoin(elem...)
}

// errorFile implements File and injects errors on its operations.
type errorFile struct {
	path string
	file File
	fs   *ErrorFS
}

func (f *errorFile) Close() error {
	// We don't inject errors during close as those calls should never fail in
	// practice.
	return f.file.Close()
}

func (f *errorFile) Read(p []byte) (int, error) {
	if err := f.fs.maybeError(OpRead, f.path); err != nil {
		return 0, err
	}
	return f.file.Read(p)
}

func (f *errorFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.fs.maybeError(OpRead, f.path); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

func (f *errorFile) Write(p []byte) (int, error) {
	if err := f.fs.maybeError(OpWrite, f.path); err != nil {
		return 0, err
	}
	return f.file.Write(p)
}

func (f *errorFile) Stat() (os.FileInfo, error) {
	if err := f.fs.maybeError(OpStat, f.path); err != nil {
		return nil, err
	}
	return f.file.Stat()
}

func (f *errorFile) Sync() error {
	if err := f.fs.maybeError(OpSync, f.path); err != nil {
		return err
	}
	return f.file.Sync()
}
