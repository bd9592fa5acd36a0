// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

const sep = "/"

var (
	errNotEmpty  = errors.New("lsmcore/vfs: directory not empty")
	errNotDir    = errors.New("lsmcore/vfs: not a directory")
	errEmptyName = errors.New("lsmcore/vfs: empty file name")
)

// MemFS is an FS held in memory. Paths are slash separated; relative paths
// are resolved from the root.
type MemFS struct {
	mu   sync.Mutex
	root *memNode
}

var _ FS = (*MemFS)(nil)

// NewMem returns a new memory-backed FS implementation.
func NewMem() *MemFS {
	return &MemFS{root: newDirNode()}
}

func notExist(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: oserror.ErrNotExist}
}

// splitPath returns the directories leading to the last element of name, and
// that element. The element is empty when name is the root.
func splitPath(name string) (dirs []string, base string) {
	var parts []string
	for _, s := range strings.Split(name, sep) {
		if s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// parent returns the directory holding the last element of name, and that
// element. y.mu must be held.
func (y *MemFS) parent(op, name string) (*memNode, string, error) {
	dirs, base := splitPath(name)
	dir := y.root
	for _, d := range dirs {
		child := dir.children[d]
		if child == nil {
			return nil, "", notExist(op, name)
		}
		if !child.isDir {
			return nil, "", &os.PathError{Op: op, Path: name, Err: errNotDir}
		}
		dir = child
	}
	return dir, base, nil
}

// lookup returns the node named by name. y.mu must be held.
func (y *MemFS) lookup(op, name string) (*memNode, string, error) {
	dir, base, err := y.parent(op, name)
	if err != nil {
		return nil, "", err
	}
	if base == "" {
		return dir, sep, nil
	}
	n := dir.children[base]
	if n == nil {
		return nil, "", notExist(op, name)
	}
	return n, base, nil
}

// Create implements FS.Create.
func (y *MemFS) Create(name string) (File, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	dir, base, err := y.parent("create", name)
	if err != nil {
		return nil, err
	}
	if base == "" {
		return nil, errEmptyName
	}
	n := &memNode{}
	dir.children[base] = n
	n.refs.Add(1)
	return &memFile{name: base, n: n, read: true, write: true}, nil
}

// Open implements FS.Open.
func (y *MemFS) Open(name string) (File, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	n, base, err := y.lookup("open", name)
	if err != nil {
		return nil, err
	}
	n.refs.Add(1)
	return &memFile{name: base, n: n, read: !n.isDir}, nil
}

// OpenDir implements FS.OpenDir.
func (y *MemFS) OpenDir(name string) (File, error) {
	return y.Open(name)
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(name string) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	dir, base, err := y.parent("remove", name)
	if err != nil {
		return err
	}
	if base == "" {
		return errEmptyName
	}
	child := dir.children[base]
	if child == nil {
		return notExist("remove", name)
	}
	if len(child.children) > 0 {
		return errNotEmpty
	}
	delete(dir.children, base)
	return nil
}

// Rename implements FS.Rename.
func (y *MemFS) Rename(oldname, newname string) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	oldDir, oldBase, err := y.parent("rename", oldname)
	if err != nil {
		return err
	}
	newDir, newBase, err := y.parent("rename", newname)
	if err != nil {
		return err
	}
	if oldBase == "" || newBase == "" {
		return errEmptyName
	}
	n := oldDir.children[oldBase]
	if n == nil {
		return notExist("rename", oldname)
	}
	delete(oldDir.children, oldBase)
	newDir.children[newBase] = n
	return nil
}

// MkdirAll implements FS.MkdirAll.
func (y *MemFS) MkdirAll(dirname string, perm os.FileMode) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	dirs, base := splitPath(dirname)
	if base != "" {
		dirs = append(dirs, base)
	}
	dir := y.root
	for _, d := range dirs {
		child := dir.children[d]
		if child == nil {
			child = newDirNode()
			dir.children[d] = child
		} else if !child.isDir {
			return &os.PathError{Op: "mkdir", Path: dirname, Err: errNotDir}
		}
		dir = child
	}
	return nil
}

// List implements FS.List.
func (y *MemFS) List(dirname string) ([]string, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	n, _, err := y.lookup("open", dirname)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, &os.PathError{Op: "open", Path: dirname, Err: errNotDir}
	}
	return slices.Sorted(maps.Keys(n.children)), nil
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(name string) (os.FileInfo, error) {
	y.mu.Lock()
	n, base, err := y.lookup("stat", name)
	y.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return n.stat(base), nil
}

// PathBase implements FS.PathBase.
func (*MemFS) PathBase(p string) string {
	return path.Base(p)
}

// PathJoin implements FS.PathJoin.
func (*MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

// memNode is a file or a directory.
type memNode struct {
	isDir    bool
	children map[string]*memNode
	// refs counts open handles.
	refs atomic.Int32

	mu struct {
		sync.Mutex
		data    []byte
		modTime time.Time
	}
}

func newDirNode() *memNode {
	return &memNode{isDir: true, children: make(map[string]*memNode)}
}

func (n *memNode) stat(name string) *memFileInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &memFileInfo{
		name:    name,
		size:    int64(len(n.mu.data)),
		modTime: n.mu.modTime,
		isDir:   n.isDir,
	}
}

// memFile is an open handle on a memNode.
type memFile struct {
	name        string
	n           *memNode
	pos         int
	read, write bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error {
	if n := f.n.refs.Add(-1); n < 0 {
		panic(fmt.Sprintf("lsmcore/vfs: close of unopened file %s: %d", f.name, n))
	}
	f.n = nil
	return nil
}

func (f *memFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, int64(f.pos))
	f.pos += n
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if !f.read {
		return 0, errors.Newf("lsmcore/vfs: %s is not open for reading", f.name)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.mu.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.mu.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.write {
		return 0, errors.Newf("lsmcore/vfs: %s is not open for writing", f.name)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.mu.modTime = time.Now()
	if end := f.pos + len(p); end <= len(f.n.mu.data) {
		copy(f.n.mu.data[f.pos:end], p)
	} else {
		f.n.mu.data = append(f.n.mu.data[:f.pos], p...)
	}
	f.pos += len(p)
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return f.n.stat(f.name), nil
}

func (f *memFile) Sync() error {
	return nil
}

// memFileInfo implements os.FileInfo for a memNode.
type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

var _ os.FileInfo = (*memFileInfo)(nil)

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return f.isDir }
func (f *memFileInfo) Sys() interface{}   { return nil }

func (f *memFileInfo) Mode() os.FileMode {
	if f.isDir {
		return os.ModeDir | 0755
	}
	return 0755
}
