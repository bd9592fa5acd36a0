// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package lsmcore

import (
	"sync"
	"time"

	"github.com/lsmcore/lsmcore/internal/rate"
)

// A WriteController is shared by the column families of a database. A column
// family that falls behind on flushes or compactions holds a stop token,
// which stops writes, or a delay token, which limits writes to the delayed
// write rate.
type WriteController struct {
	mu struct {
		sync.Mutex
		totalStopped int
		totalDelayed int
	}
	limiter *rate.Limiter
}

// NewWriteController returns a controller limiting delayed writes to
// delayedWriteRate bytes per second.
func NewWriteController(delayedWriteRate uint64) *WriteController {
	return newWriteController(rate.NewLimiter(float64(delayedWriteRate), writeBurst(delayedWriteRate)))
}

func newWriteController(l *rate.Limiter) *WriteController {
	return &WriteController{limiter: l}
}

// writeBurst is the number of bytes that may be written at once while
// delayed: a millisecond of the rate.
func writeBurst(r uint64) float64 {
	return max(float64(r)/1000, 1)
}

type writeControllerTokenKind int8

const (
	stopToken writeControllerTokenKind = iota
	delayToken
)

// A WriteControllerToken holds a stop or a delay in effect until it is
// released. The methods of a nil token are no-ops.
type WriteControllerToken struct {
	wc       *WriteController
	kind     writeControllerTokenKind
	released bool
}

// GetStopToken stops writes until the token is released.
func (wc *WriteController) GetStopToken() *WriteControllerToken {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.mu.totalStopped++
	return &WriteControllerToken{wc: wc, kind: stopToken}
}

// GetDelayToken delays writes until the token is released.
func (wc *WriteController) GetDelayToken() *WriteControllerToken {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.mu.totalDelayed++
	return &WriteControllerToken{wc: wc, kind: delayToken}
}

// Release releases the stop or the delay. Releasing twice is a no-op.
func (t *WriteControllerToken) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	wc := t.wc
	wc.mu.Lock()
	defer wc.mu.Unlock()
	switch t.kind {
	case stopToken:
		wc.mu.totalStopped--
	case delayToken:
		wc.mu.totalDelayed--
	}
	if wc.mu.totalStopped < 0 || wc.mu.totalDelayed < 0 {
		panic("lsmcore: inconsistent write controller token count")
	}
}

// IsStopped returns true while a stop token is held.
func (wc *WriteController) IsStopped() bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.mu.totalStopped > 0
}

// NeedsDelay returns true while a delay token is held.
func (wc *WriteController) NeedsDelay() bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.mu.totalDelayed > 0
}

// GetDelay returns how long a write of n bytes should wait. It is zero when
// writes are not delayed, and when they are stopped: stopped writers wait
// for the stop to be released instead.
func (wc *WriteController) GetDelay(n uint64) time.Duration {
	wc.mu.Lock()
	stopped, delayed := wc.mu.totalStopped > 0, wc.mu.totalDelayed > 0
	wc.mu.Unlock()
	if stopped || !delayed {
		return 0
	}
	return wc.limiter.Delay(float64(n))
}

// DelayedWriteRate returns the rate of delayed writes in bytes per second.
func (wc *WriteController) DelayedWriteRate() uint64 {
	return uint64(wc.limiter.Rate())
}

// SetDelayedWriteRate changes the rate of delayed writes.
func (wc *WriteController) SetDelayedWriteRate(r uint64) {
	wc.limiter.SetRate(float64(max(r, 1)))
}
