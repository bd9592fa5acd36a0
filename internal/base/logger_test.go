// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := NewLogrusLogger(logger, logrus.Fields{"db": "test"})

	l.Infof("opened %d", 1)
	WithField(l, "cf", "default").Errorf("failed: %s", "boom")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	require.Equal(t, logrus.InfoLevel, entries[0].Level)
	require.Equal(t, "opened 1", entries[0].Message)
	require.Equal(t, logrus.Fields{"db": "test"}, entries[0].Data)
	require.Equal(t, logrus.ErrorLevel, entries[1].Level)
	require.Equal(t, "failed: boom", entries[1].Message)
	require.Equal(t, logrus.Fields{"db": "test", "cf": "default"}, entries[1].Data)
}

func TestWithFieldPlainLogger(t *testing.T) {
	// Loggers without field support are returned unchanged.
	require.Equal(t, Logger(NoopLogger{}), WithField(NoopLogger{}, "cf", "default"))
	require.Equal(t, Logger(DefaultLogger{}), WithField(DefaultLogger{}, "job", 1))
	require.Panics(t, func() { WithField(NoopLogger{}, "cf", "a").Fatalf("fatal") })
}
