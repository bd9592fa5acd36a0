// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/lsmcore/lsmcore/vfs"
)

// setCurrentFile points CURRENT at the manifest fileNum. The new contents are
// written to a temporary file that is renamed over CURRENT, and the directory
// is synced.
func setCurrentFile(dirname string, fs vfs.FS, fileNum FileNum) error {
	newFilename := base.MakeFilepath(fs, dirname, base.FileTypeCurrent, fileNum)
	oldFilename := base.MakeFilepath(fs, dirname, base.FileTypeTemp, fileNum)
	_ = fs.Remove(oldFilename)
	f, err := fs.Create(oldFilename)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%s\n", base.MakeFilename(base.FileTypeManifest, fileNum)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := fs.Rename(oldFilename, newFilename); err != nil {
		return err
	}
	return syncDir(fs, dirname)
}

func syncDir(fs vfs.FS, dirname string) error {
	dir, err := fs.OpenDir(dirname)
	if err != nil {
		return err
	}
	if err := dir.Sync(); err != nil {
		_ = dir.Close()
		return err
	}
	return dir.Close()
}

// readCurrentFile returns the number and path of the manifest CURRENT points
// at.
func readCurrentFile(dirname string, fs vfs.FS) (FileNum, string, error) {
	current, err := fs.Open(base.MakeFilepath(fs, dirname, base.FileTypeCurrent, 0))
	if err != nil {
		return 0, "", errors.Wrapf(err, "lsmcore: could not open CURRENT file for DB %q", dirname)
	}
	defer current.Close()
	b, err := io.ReadAll(current)
	if err != nil {
		return 0, "", err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return 0, "", base.CorruptionErrorf("CURRENT file does not end with newline")
	}
	name := string(b[:len(b)-1])
	ft, fileNum, ok := base.ParseFilename(fs, name)
	if !ok || ft != base.FileTypeManifest {
		return 0, "", base.CorruptionErrorf("CURRENT file corrupted")
	}
	return fileNum, fs.PathJoin(dirname, name), nil
}

// tableDir returns the directory of the tables placed in the data path
// pathID.
func tableDir(dirname string, paths []DBPath, pathID uint32) string {
	if int(pathID) < len(paths) && paths[pathID].Path != "" {
		return paths[pathID].Path
	}
	return dirname
}
