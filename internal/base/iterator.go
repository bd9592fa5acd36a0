// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "fmt"

// InternalIterator iterates over a DB's key/value pairs in key order. Unlike
// the user-facing iterators, the keys are internal keys: a user key, a
// sequence number and a kind. Multiple entries may share a user key, ordered
// by decreasing sequence number.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
//
// An iterator is not goroutine-safe, but it is safe to use multiple iterators
// concurrently, either in separate goroutines or switching between the
// iterators in a single goroutine.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key/value pair whose key is
	// greater than or equal to the search key for the given user key. Returns
	// the key and value if the iterator is pointing at a valid entry, and nil
	// otherwise.
	SeekGE(key []byte) *InternalKV

	// SeekLT moves the iterator to the last key/value pair whose user key is
	// less than the given key.
	SeekLT(key []byte) *InternalKV

	// First moves the iterator the first key/value pair.
	First() *InternalKV

	// Last moves the iterator the last key/value pair.
	Last() *InternalKV

	// Next moves the iterator to the next key/value pair. It returns nil if
	// the iterator is exhausted.
	Next() *InternalKV

	// Prev moves the iterator to the previous key/value pair. It returns nil
	// if the iterator is exhausted.
	Prev() *InternalKV

	// Error returns any accumulated error. Exhausting all the key/value pairs
	// is not considered to be an error.
	Error() error

	// Close closes the iterator and returns any accumulated error. It is
	// valid to call Close multiple times. Other methods should not be called
	// after the iterator has been closed.
	Close() error

	fmt.Stringer
}
