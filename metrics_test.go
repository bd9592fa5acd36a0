// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, h.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func TestVersionSetMetrics(t *testing.T) {
	opts := memTestOptions()
	syncLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "manifest_sync_latency",
		Buckets: []float64{1e-6, 1e-4, 1e-2, 1},
	})
	opts.ManifestSyncLatency = syncLatency
	vs, mu := openTestVersionSet(t, opts, nil)
	defer vs.Close()
	cfd := vs.ColumnFamilySet().Default()

	mu.Lock()
	vs.SetLastSequence(4)
	require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 1, vs.NewFileNumber(), "[a#1,SET-b#2,SET] size:1024")))
	require.NoError(t, vs.LogAndApply(cfd, fileEdit(t, 0, vs.NewFileNumber(), "[a#3,SET-b#4,SET] size:512")))
	m := vs.Metrics()
	mu.Unlock()

	require.Equal(t, vs.ManifestFileNumber(), m.Manifest.FileNum)
	require.Greater(t, m.Manifest.FileSize, uint64(0))
	require.Equal(t, int64(1), m.Manifest.Rollovers)
	require.Equal(t, int64(2), m.LogAndApply.Count)
	require.Equal(t, int64(0), m.LogAndApply.BatchedEdits)
	require.LessOrEqual(t, m.LogAndApply.P50, m.LogAndApply.Max)
	require.Equal(t, SeqNum(4), m.LastSequence)
	require.False(t, m.WritesStopped)
	require.GreaterOrEqual(t, histogramCount(t, syncLatency), uint64(2))

	require.Len(t, m.ColumnFamilies, 1)
	cf := m.ColumnFamilies[0]
	require.Equal(t, DefaultColumnFamilyName, cf.Name)
	require.Len(t, cf.Levels, 7)
	require.Equal(t, int64(1), cf.Levels[0].NumFiles)
	require.Equal(t, uint64(512), cf.Levels[0].Size)
	require.Equal(t, int64(1), cf.Levels[1].NumFiles)
	require.Equal(t, uint64(1024), cf.Levels[1].Size)
	require.Equal(t, WriteStallNormal, cf.WriteStall)

	s := m.String()
	for _, want := range []string{
		fmt.Sprintf("manifest %s ", m.Manifest.FileNum),
		"rollovers 1\n",
		"log-and-apply 2 (batched 0)",
		"cleaner queued 0  deleted 0 tables",
		"[default] id 0 memtable ",
		"level__files______size___score__busy\n",
		"total      2 ",
	} {
		require.True(t, strings.Contains(s, want), "missing %q in\n%s", want, s)
	}
	// One line per level.
	require.Equal(t, 7, strings.Count(s, "\n    "))
}
