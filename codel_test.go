// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCoDel creates a controller with the boundary-test parameters
// used throughout this file.
func newTestCoDel() *codel {
	return newCoDel(Qdisc{
		Kind:     QdiscCoDel,
		Target:   100 * time.Millisecond,
		Interval: 1000 * time.Millisecond,
	})
}

// driveCoDel invokes the controller once per opportunity tick and
// returns the times at which it decided to drop.
func driveCoDel(c *codel, start time.Time, ticks int, step time.Duration,
	sojourn func(now time.Time) (time.Duration, bool)) []time.Time {
	var drops []time.Time
	for idx := 0; idx < ticks; idx++ {
		now := start.Add(time.Duration(idx) * step)
		value, ok := sojourn(now)
		if c.shouldDrop(now, value, ok) {
			drops = append(drops, now)
		}
	}
	return drops
}

func constantSojourn(value time.Duration) func(time.Time) (time.Duration, bool) {
	return func(time.Time) (time.Duration, bool) {
		return value, true
	}
}

func TestCoDelNeverDropsBelowTarget(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// sojourn pinned at 99ms under a 100ms target: 5 seconds of load
	// must not trigger a single drop
	drops := driveCoDel(c, start, 500, 10*time.Millisecond,
		constantSojourn(99*time.Millisecond))

	assert.Empty(t, drops)
	assert.False(t, c.dropping)
	assert.True(t, c.firstAbove.IsZero())
}

func TestCoDelEntersDroppingAfterInterval(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// sojourn exactly at target counts as droppable, but only after it
	// persisted for a full interval
	drops := driveCoDel(c, start, 101, 10*time.Millisecond,
		constantSojourn(100*time.Millisecond))

	require.Len(t, drops, 1)
	assert.Equal(t, start.Add(1000*time.Millisecond), drops[0])
	assert.True(t, c.dropping)
	assert.Equal(t, uint32(1), c.count)
}

func TestCoDelControlLawSpacing(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 5 seconds of opportunities every millisecond under heavy
	// sustained overload
	drops := driveCoDel(c, start, 5000, time.Millisecond,
		constantSojourn(500*time.Millisecond))
	require.GreaterOrEqual(t, len(drops), 5)

	// first drop after one full interval
	assert.Equal(t, start.Add(1000*time.Millisecond), drops[0])

	// successive spacings follow interval/sqrt(count) and strictly
	// shrink while the overload persists
	expected := []time.Duration{
		1000 * time.Millisecond, // 1000/sqrt(1)
		707 * time.Millisecond,  // 1000/sqrt(2)
		577 * time.Millisecond,  // 1000/sqrt(3)
		500 * time.Millisecond,  // 1000/sqrt(4)
	}
	for idx, want := range expected {
		spacing := drops[idx+1].Sub(drops[idx])
		assert.InDelta(t, float64(want), float64(spacing),
			float64(2*time.Millisecond), "spacing %d", idx)
		if idx > 0 {
			assert.Less(t, spacing, drops[idx].Sub(drops[idx-1]))
		}
	}
}

func TestCoDelEmptyQueueResetsState(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// enter the dropping state
	driveCoDel(c, start, 150, 10*time.Millisecond,
		constantSojourn(200*time.Millisecond))
	require.True(t, c.dropping)

	// an empty queue cannot be bufferbloated
	drop := c.shouldDrop(start.Add(2*time.Second), 0, false)
	assert.False(t, drop)
	assert.False(t, c.dropping)
	assert.True(t, c.firstAbove.IsZero())
	assert.True(t, c.dropNext.IsZero())
}

func TestCoDelRampRestartsAfterQuietPeriod(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// build up a dropping episode with several drops
	driveCoDel(c, start, 4000, time.Millisecond,
		constantSojourn(500*time.Millisecond))
	require.True(t, c.dropping)
	require.Greater(t, c.count, uint32(2))

	// drain and stay idle for longer than the re-entry window
	quiet := c.lastDrop.Add(17 * c.interval)
	require.False(t, c.shouldDrop(quiet, 0, false))

	// the next episode ramps from scratch; drive exactly up to the
	// first drop of the new episode
	drops := driveCoDel(c, quiet, 101, 10*time.Millisecond,
		constantSojourn(200*time.Millisecond))
	require.Len(t, drops, 1)
	assert.Equal(t, uint32(1), c.count)
	assert.Equal(t, uint32(1), c.lastCount)
}

func TestCoDelReentryResumesFromDecayedCount(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// build up a dropping episode with several drops
	driveCoDel(c, start, 4000, time.Millisecond,
		constantSojourn(500*time.Millisecond))
	require.Greater(t, c.count, uint32(2))
	prevCount, prevLast := c.count, c.lastCount

	// a single good opportunity exits the dropping state
	exit := start.Add(4 * time.Second)
	require.False(t, c.shouldDrop(exit, 10*time.Millisecond, true))
	require.False(t, c.dropping)

	// overload returns within the re-entry window: the ramp resumes
	// from a decayed count instead of restarting from one; drive
	// exactly up to the first drop of the new episode
	drops := driveCoDel(c, exit, 101, 10*time.Millisecond,
		constantSojourn(200*time.Millisecond))
	require.Len(t, drops, 1)
	assert.Equal(t, max(prevCount-prevLast, 1), c.count)
	assert.Equal(t, c.count, c.lastCount)
}

func TestCoDelTransientSpikeDoesNotDrop(t *testing.T) {
	c := newTestCoDel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// sojourn crosses target for less than one interval, then recovers
	sojourn := func(now time.Time) (time.Duration, bool) {
		if now.Sub(start) < 900*time.Millisecond {
			return 150 * time.Millisecond, true
		}
		return 20 * time.Millisecond, true
	}
	drops := driveCoDel(c, start, 300, 10*time.Millisecond, sojourn)

	assert.Empty(t, drops)
	assert.False(t, c.dropping)
	assert.True(t, c.firstAbove.IsZero())
}

func TestCoDelDecisionsAreDeterministic(t *testing.T) {
	run := func() []time.Time {
		c := newTestCoDel()
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		sojourn := func(now time.Time) (time.Duration, bool) {
			// sawtooth overload oscillating around the target
			phase := now.Sub(start) % (3 * time.Second)
			if phase < 2*time.Second {
				return 300 * time.Millisecond, true
			}
			return 50 * time.Millisecond, true
		}
		return driveCoDel(c, start, 10000, time.Millisecond, sojourn)
	}

	first, second := run(), run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}
