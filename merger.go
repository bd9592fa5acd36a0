// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import "github.com/lsmcore/lsmcore/internal/base"

// Merger exports the base.Merger type.
type Merger = base.Merger

// DefaultMerger exports the base.DefaultMerger variable.
var DefaultMerger = base.DefaultMerger
