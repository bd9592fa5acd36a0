// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rate provides a byte rate limiter.
package rate // import "github.com/lsmcore/lsmcore/internal/rate"

import (
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
)

// A Limiter paces operations to a rate of bytes per second, with bursts of up
// to a configured number of bytes. An operation larger than the available
// tokens puts the bucket into debt, delaying the following ones.
//
// Limiter is thread-safe.
type Limiter struct {
	mu struct {
		sync.Mutex
		tb    tokenbucket.TokenBucket
		rate  float64
		burst float64
	}
	sleepFn func(d time.Duration)
}

// NewLimiter returns a Limiter allowing r bytes per second in bursts of at
// most b bytes.
func NewLimiter(r float64, b float64) *Limiter {
	return NewLimiterWithCustomTime(r, b, nil, nil)
}

// NewLimiterWithCustomTime is NewLimiter with the functions used to read the
// time and to sleep. Nil functions use the time package.
func NewLimiterWithCustomTime(
	r float64, b float64, nowFn func() time.Time, sleepFn func(d time.Duration),
) *Limiter {
	l := &Limiter{sleepFn: sleepFn}
	if nowFn != nil {
		l.mu.tb.InitWithNowFn(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(b), nowFn)
	} else {
		l.mu.tb.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(b))
	}
	if l.sleepFn == nil {
		l.sleepFn = time.Sleep
	}
	l.mu.rate = r
	l.mu.burst = b
	return l
}

// Wait sleeps until n bytes are available and takes them.
func (l *Limiter) Wait(n float64) {
	for {
		d := l.tryToFulfill(n)
		if d == 0 {
			return
		}
		l.sleepFn(d)
	}
}

func (l *Limiter) tryToFulfill(n float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, d := l.mu.tb.TryToFulfill(tokenbucket.Tokens(n))
	if ok {
		return 0
	}
	return max(d, time.Nanosecond)
}

// Delay takes n bytes without waiting. If they were not available it returns
// the time the caller should wait before proceeding; the bucket is in debt
// until then.
func (l *Limiter) Delay(n float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, d := l.mu.tb.TryToFulfill(tokenbucket.Tokens(n))
	if ok {
		return 0
	}
	l.mu.tb.Adjust(-tokenbucket.Tokens(n))
	return d
}

// Remove takes n bytes for an operation that bypassed waiting.
func (l *Limiter) Remove(n float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.tb.Adjust(-tokenbucket.Tokens(n))
}

// Rate returns the rate in bytes per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.rate
}

// SetRate changes the rate, keeping the burst.
func (l *Limiter) SetRate(r float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.tb.UpdateConfig(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(l.mu.burst))
	l.mu.rate = r
}
