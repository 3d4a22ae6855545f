// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

// DirectionConfig configures one direction of a [*Link].
type DirectionConfig struct {
	// Schedule replays the direction's bandwidth trace.
	Schedule *Schedule

	// Qdisc is the direction's queue discipline.
	Qdisc Qdisc
}

// LinkOption is an option for [NewLink].
type LinkOption func(cfg *linkConfig)

// linkConfig is the internal type modified by [LinkOption].
type linkConfig struct {
	buffer int
	logger log.Interface
	pcap   *PCAPTrace
}

// DefaultIngressBuffer is the default capacity of the per-direction
// ingress channel.
const DefaultIngressBuffer = 1024

// LinkOptionIngressBuffer sets the capacity of the per-direction
// ingress channel. Frames posted while the channel is full are
// counted as ingress drops and discarded.
func LinkOptionIngressBuffer(buffer int) LinkOption {
	return func(cfg *linkConfig) {
		cfg.buffer = buffer
	}
}

// LinkOptionLogger sets the logger used by the link. The default
// logger discards all entries.
func LinkOptionLogger(logger log.Interface) LinkOption {
	return func(cfg *linkConfig) {
		cfg.logger = logger
	}
}

// LinkOptionPCAP captures every frame exiting the shaped link into the
// given trace. The caller retains ownership and must close the trace
// after the link stopped.
func LinkOptionPCAP(trace *PCAPTrace) LinkOption {
	return func(cfg *linkConfig) {
		cfg.pcap = trace
	}
}

// Link is a bidirectional emulated link.
//
// The two directions are fully independent: each owns its schedule,
// queue, and controller state. By convention the uplink carries frames
// from the left side to the right side, and the downlink the reverse.
//
// Construct using [NewLink], attach a [FrameHandler] to both sides,
// then call [*Link.Run].
type Link struct {
	// downlink carries right-to-left frames.
	downlink *pump

	// uplink carries left-to-right frames.
	uplink *pump
}

// NewLink creates a new [*Link] instance.
func NewLink(uplink, downlink DirectionConfig, options ...LinkOption) *Link {
	cfg := &linkConfig{
		buffer: DefaultIngressBuffer,
		logger: &log.Logger{Handler: discard.New(), Level: log.InfoLevel},
		pcap:   nil,
	}
	for _, opt := range options {
		opt(cfg)
	}

	return &Link{
		downlink: newPump("downlink", downlink, cfg),
		uplink:   newPump("uplink", uplink, cfg),
	}
}

// Side is one end of a [*Link]. Frames sent into a side traverse the
// link toward the opposite side; the attached [FrameHandler] receives
// the frames arriving from the opposite side.
type Side struct {
	// in is the pump carrying frames away from this side.
	in *pump

	// out is the pump delivering frames to this side.
	out *pump
}

// Send posts a frame into the link. It never blocks: frames posted
// while the ingress buffer is full are counted and discarded.
func (s *Side) Send(frame Frame) bool {
	return s.in.send(frame)
}

// Attach installs the handler receiving the frames that exit the link
// at this side. Must be called before [*Link.Run].
func (s *Side) Attach(handler FrameHandler) {
	s.out.attach(handler)
}

// Left returns the left [*Side] of the link.
func (lk *Link) Left() *Side {
	return &Side{in: lk.uplink, out: lk.downlink}
}

// Right returns the right [*Side] of the link.
func (lk *Link) Right() *Side {
	return &Side{in: lk.downlink, out: lk.uplink}
}

// UplinkStats returns the statistics of the left-to-right direction.
func (lk *Link) UplinkStats() *DirectionStats {
	return lk.uplink.stats
}

// DownlinkStats returns the statistics of the right-to-left direction.
func (lk *Link) DownlinkStats() *DirectionStats {
	return lk.downlink.stats
}

// Run shapes traffic until the context is done or one direction stops
// because its endpoint closed or its finite trace ran out. When either
// direction stops, the other stops promptly as well; queued frames are
// discarded, not flushed.
func (lk *Link) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := &sync.WaitGroup{}
	for _, p := range []*pump{lk.uplink, lk.downlink} {
		wg.Go(func() {
			defer cancel()
			p.run(ctx)
		})
	}
	wg.Wait()
}
