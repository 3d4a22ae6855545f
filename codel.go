// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"math"
	"time"
)

// codel is the CoDel controller state for one queue.
//
// The controller is invoked once per transmission opportunity with the
// current head sojourn time and decides whether the head packet should
// be dropped instead of forwarded. There is exactly one codel per
// queue, owned by the same link direction, so no locking is needed.
//
// State machine per the CoDel algorithm (Nichols & Jacobson): sojourn
// must stay at or above target for a full interval before dropping
// starts; while dropping persists, drops are scheduled at
// interval/sqrt(count), so the drop rate increases for as long as the
// overload lasts.
type codel struct {
	// target is the sojourn threshold above which dropping may begin.
	target time.Duration

	// interval is the confirmation window and control law base.
	interval time.Duration

	// dropping reports whether we are in the DROPPING state.
	dropping bool

	// firstAbove is the earliest time a first drop is allowed, set
	// when sojourn first crosses target. Zero when sojourn is below
	// target or the queue is empty.
	firstAbove time.Time

	// dropNext is when the next drop is scheduled while dropping.
	dropNext time.Time

	// lastDrop is when the controller last dropped a packet. It
	// survives state resets to support re-entry decay.
	lastDrop time.Time

	// count is the number of drops in the current dropping episode.
	count uint32

	// lastCount is the count latched when the episode started.
	lastCount uint32
}

// newCoDel creates a controller from the given [Qdisc], whose Kind
// must be [QdiscCoDel].
func newCoDel(qdisc Qdisc) *codel {
	return &codel{
		target:   qdisc.Target,
		interval: qdisc.Interval,
	}
}

// reentryWindow is how long after the last drop a new dropping episode
// resumes from a decayed count instead of restarting from one.
const reentryWindow = 16

// shouldDrop decides the fate of the head packet for one transmission
// opportunity. The hasSojourn flag is false when the queue is empty, in
// which case the sojourn value is meaningless.
func (c *codel) shouldDrop(now time.Time, sojourn time.Duration, hasSojourn bool) bool {
	// An empty queue cannot be bufferbloated: idle the controller.
	if !hasSojourn {
		c.firstAbove = time.Time{}
		c.dropNext = time.Time{}
		c.dropping = false
		return false
	}

	// Track for how long the sojourn time has been at or above target.
	okToDrop := sojourn >= c.target
	switch {
	case !okToDrop:
		c.firstAbove = time.Time{}
	case c.firstAbove.IsZero():
		c.firstAbove = now.Add(c.interval)
	}

	if !c.dropping {
		// Enter DROPPING only once sojourn stayed at or above target
		// for a full interval.
		if okToDrop && !c.firstAbove.IsZero() && !now.Before(c.firstAbove) {
			c.enterDropping(now)
			return true
		}
		return false
	}

	// Sojourn fell back under target: the episode is over.
	if !okToDrop {
		c.dropping = false
		return false
	}

	// Still overloaded: drop at most one packet per opportunity, on
	// the interval/sqrt(count) schedule.
	if !now.Before(c.dropNext) {
		c.count++
		c.lastDrop = now
		c.dropNext = now.Add(c.controlLaw())
		return true
	}
	return false
}

// enterDropping transitions to the DROPPING state and accounts for the
// first drop of the episode.
func (c *codel) enterDropping(now time.Time) {
	// Oscillating overload re-escalates faster than the initial ramp:
	// within the re-entry window, resume from a decayed count.
	if c.count > 2 && !c.lastDrop.IsZero() &&
		now.Sub(c.lastDrop) < reentryWindow*c.interval {
		c.count = max(c.count-c.lastCount, 1)
	} else {
		c.count = 1
	}
	c.lastCount = c.count
	c.dropping = true
	c.lastDrop = now
	c.dropNext = now.Add(c.controlLaw())
}

// controlLaw returns the delay until the next scheduled drop. The
// division is done in floating point: integer truncation would defeat
// the control law.
func (c *codel) controlLaw() time.Duration {
	return time.Duration(float64(c.interval) / math.Sqrt(float64(c.count)))
}
