// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// FieldLogger is a Logger that can attach structured fields to its messages.
type FieldLogger interface {
	Logger
	WithField(key string, value interface{}) Logger
}

// WithField returns l with the field attached when l is a FieldLogger, and l
// itself otherwise.
func WithField(l Logger, key string, value interface{}) Logger {
	if fl, ok := l.(FieldLogger); ok {
		return fl.WithField(key, value)
	}
	return l
}

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger struct{}

var _ Logger = DefaultLogger{}

// Infof implements the Logger.Infof interface.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Errorf implements the Logger.Errorf interface.
func (DefaultLogger) Errorf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements the Logger.Fatalf interface.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// NoopLogger does no logging. Fatalf still panics so that fatal conditions
// are not silently ignored in tests.
type NoopLogger struct{}

// Infof implements the Logger.Infof interface.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Errorf implements the Logger.Errorf interface.
func (NoopLogger) Errorf(format string, args ...interface{}) {}

// Fatalf implements the Logger.Fatalf interface.
func (NoopLogger) Fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// LogrusLogger adapts a logrus entry to the Logger interface. Fields set on
// the entry (column family, job, manifest) are attached to every message.
type LogrusLogger struct {
	Entry *logrus.Entry
}

var _ FieldLogger = LogrusLogger{}

// NewLogrusLogger returns a Logger writing through logger with the given
// structured fields attached.
func NewLogrusLogger(logger *logrus.Logger, fields logrus.Fields) LogrusLogger {
	return LogrusLogger{Entry: logrus.NewEntry(logger).WithFields(fields)}
}

// WithField implements the FieldLogger.WithField interface.
func (l LogrusLogger) WithField(key string, value interface{}) Logger {
	return LogrusLogger{Entry: l.Entry.WithField(key, value)}
}

// Infof implements the Logger.Infof interface.
func (l LogrusLogger) Infof(format string, args ...interface{}) {
	l.Entry.Infof(format, args...)
}

// Errorf implements the Logger.Errorf interface.
func (l LogrusLogger) Errorf(format string, args ...interface{}) {
	l.Entry.Errorf(format, args...)
}

// Fatalf implements the Logger.Fatalf interface.
func (l LogrusLogger) Fatalf(format string, args ...interface{}) {
	l.Entry.Fatalf(format, args...)
}
