// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

// Frame models an opaque unit of transfer crossing the emulated link.
//
// The link treats the payload as an opaque sequence of bytes: it is
// never parsed, modified, or reordered while queued.
type Frame struct {
	// Payload contains the raw frame bytes.
	Payload []byte
}

// FrameHandler receives the frames exiting one side of a [*Link].
//
// The [*Port] and [*Relay] types implement this interface.
type FrameHandler interface {
	// HandleFrame consumes a frame exiting the link. Returning false
	// indicates the handler is closed and cannot accept more frames,
	// which terminates the direction delivering to it.
	HandleFrame(frame Frame) bool
}
