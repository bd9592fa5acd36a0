// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// Merger defines an associative merge operation. A lookup that reaches the
// end of a key's history while holding merge operands calls FullMerge with
// the base value (nil if none exists) and the operands, oldest first.
type Merger struct {
	FullMerge func(key, existingValue []byte, operands [][]byte) ([]byte, error)

	// Name is the name of the merger.
	Name string
}

// DefaultMerger is the default implementation of the Merger interface. It
// concatenates the existing value and the operands.
var DefaultMerger = &Merger{
	FullMerge: func(key, existingValue []byte, operands [][]byte) ([]byte, error) {
		n := len(existingValue)
		for _, op := range operands {
			n += len(op)
		}
		v := make([]byte, 0, n)
		v = append(v, existingValue...)
		for _, op := range operands {
			v = append(v, op...)
		}
		return v, nil
	},

	Name: "lsmcore.concatenate",
}
