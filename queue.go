// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"errors"
	"time"
)

// ErrOverflow indicates that enqueueing would exceed the queue capacity.
var ErrOverflow = errors.New("linkem: queue overflow")

// packet is a frame owned by a [*Queue] between enqueue and dequeue.
type packet struct {
	// frame is the queued frame.
	frame Frame

	// size is the frame size in bytes.
	size int

	// enqueueTime is when the frame entered the queue.
	enqueueTime time.Time
}

// Queue is a bounded FIFO of frames with byte and packet accounting.
//
// Frames are never reordered and are only ever removed from the head.
// The head sojourn time is recomputed from the clock on every call to
// [*Queue.PeekSojourn], never cached.
//
// The zero value is invalid. Construct using [NewQueue]. A queue is
// owned by a single link direction and is not safe for concurrent use.
type Queue struct {
	// maxBytes bounds the queued bytes (zero means unbounded).
	maxBytes int

	// maxPackets bounds the queued packets (zero means unbounded).
	maxPackets int

	// packets holds the queued packets in FIFO order.
	packets []packet

	// totalBytes counts the currently queued bytes.
	totalBytes int
}

// NewQueue creates a new [*Queue] with the capacity bounds of the
// given [Qdisc].
func NewQueue(qdisc Qdisc) *Queue {
	return &Queue{
		maxBytes:   qdisc.MaxBytes,
		maxPackets: qdisc.MaxPackets,
		packets:    nil,
		totalBytes: 0,
	}
}

// Enqueue appends a frame to the tail of the queue.
//
// Returns [ErrOverflow], leaving the queue unchanged, if accepting the
// frame would exceed the packet or byte capacity.
func (q *Queue) Enqueue(frame Frame, now time.Time) error {
	size := len(frame.Payload)
	if q.maxPackets > 0 && len(q.packets)+1 > q.maxPackets {
		return ErrOverflow
	}
	if q.maxBytes > 0 && q.totalBytes+size > q.maxBytes {
		return ErrOverflow
	}
	q.packets = append(q.packets, packet{
		frame:       frame,
		size:        size,
		enqueueTime: now,
	})
	q.totalBytes += size
	return nil
}

// PeekSojourn returns how long the head frame has been queued, and
// false if the queue is empty.
func (q *Queue) PeekSojourn(now time.Time) (time.Duration, bool) {
	if len(q.packets) < 1 {
		return 0, false
	}
	return now.Sub(q.packets[0].enqueueTime), true
}

// Dequeue removes and returns the head frame, and false if the queue
// is empty.
func (q *Queue) Dequeue() (Frame, bool) {
	if len(q.packets) < 1 {
		return Frame{}, false
	}
	head := q.packets[0]
	q.packets[0] = packet{} // allow the payload to be collected
	q.packets = q.packets[1:]
	q.totalBytes -= head.size
	return head.frame, true
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.packets)
}

// Bytes returns the number of queued bytes.
func (q *Queue) Bytes() int {
	return q.totalBytes
}
