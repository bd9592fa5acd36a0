// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func TestLimiterDelay(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiterWithCustomTime(100, 100, c.Now, c.Sleep)

	require.Zero(t, l.Delay(50))
	require.Zero(t, l.Delay(50))

	// The bucket is empty: the next 50 bytes take half a second.
	d := l.Delay(50)
	require.InDelta(t, float64(500*time.Millisecond), float64(d), float64(time.Millisecond))

	// The bucket is in debt.
	require.Greater(t, l.Delay(10), d)

	c.now = c.now.Add(2 * time.Second)
	require.Zero(t, l.Delay(10))
}

func TestLimiterWait(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	l := NewLimiterWithCustomTime(100, 100, c.Now, c.Sleep)

	l.Wait(100)
	require.Empty(t, c.slept)

	l.Wait(50)
	require.NotEmpty(t, c.slept)
	var total time.Duration
	for _, d := range c.slept {
		total += d
	}
	require.InDelta(t, float64(500*time.Millisecond), float64(total), float64(10*time.Millisecond))
}

func TestLimiterSetRate(t *testing.T) {
	l := NewLimiter(100, 10)
	require.Equal(t, 100.0, l.Rate())
	l.SetRate(200)
	require.Equal(t, 200.0, l.Rate())
}
