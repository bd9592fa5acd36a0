// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/lsmcore/lsmcore/internal/base"
	"github.com/stretchr/testify/require"
)

// runInternalIterCmd evaluates the iterator operations of a datadriven
// command, one per line of its input, and returns the results, one per
// line:
//
//	first | last | next | prev | seek-ge <key> | seek-lt <key>
func runInternalIterCmd(t *testing.T, d *datadriven.TestData, iter internalIterator) string {
	var buf bytes.Buffer
	for _, line := range strings.Split(d.Input, "\n") {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		var kv *base.InternalKV
		switch parts[0] {
		case "first":
			kv = iter.First()
		case "last":
			kv = iter.Last()
		case "next":
			kv = iter.Next()
		case "prev":
			kv = iter.Prev()
		case "seek-ge":
			require.Len(t, parts, 2, "seek-ge <key>")
			kv = iter.SeekGE([]byte(parts[1]))
		case "seek-lt":
			require.Len(t, parts, 2, "seek-lt <key>")
			kv = iter.SeekLT([]byte(parts[1]))
		default:
			return fmt.Sprintf("unknown op: %s", parts[0])
		}
		switch {
		case kv != nil:
			fmt.Fprintf(&buf, "%s\n", kv)
		case iter.Error() != nil:
			fmt.Fprintf(&buf, "err=%v\n", iter.Error())
		default:
			fmt.Fprintf(&buf, ".\n")
		}
	}
	return buf.String()
}
