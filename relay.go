// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
)

// Relay carries UDP datagrams across a shaped [*Link], connecting two
// processes that speak UDP to each other through the emulated path.
//
// Datagrams read from the ingress socket enter the link at the left
// side and, after shaping, are forwarded to the configured address via
// the egress socket. Datagrams read from the egress socket traverse
// the downlink and are sent back to the last peer seen on the ingress
// socket. Each datagram is one frame: the relay never fragments,
// merges, or reorders them.
//
// Construct using [NewRelay]. The relay owns both sockets and closes
// them when [*Relay.Run] returns.
type Relay struct {
	// egress is the socket facing the destination process.
	egress net.PacketConn

	// forward is where shaped uplink datagrams are sent.
	forward net.Addr

	// ingress is the socket facing the source process.
	ingress net.PacketConn

	// link is the shaped link.
	link *Link

	// peer is the last source address seen on the ingress socket.
	peer atomic.Pointer[net.Addr]
}

// NewRelay creates a new [*Relay] instance.
func NewRelay(link *Link, ingress, egress net.PacketConn, forward net.Addr) *Relay {
	return &Relay{
		egress:  egress,
		forward: forward,
		ingress: ingress,
		link:    link,
		peer:    atomic.Pointer[net.Addr]{},
	}
}

// relayHandler forwards frames exiting a link side to a UDP address.
type relayHandler struct {
	// addr returns the destination address, nil when unknown yet.
	addr func() net.Addr

	// conn is the socket to write to.
	conn net.PacketConn
}

var _ FrameHandler = &relayHandler{}

// HandleFrame implements [FrameHandler]. A write failure means the
// socket is closed and terminates the delivering direction. Frames
// whose destination is not known yet are consumed and discarded.
func (h *relayHandler) HandleFrame(frame Frame) bool {
	addr := h.addr()
	if addr == nil {
		return true
	}
	_, err := h.conn.WriteTo(frame.Payload, addr)
	return err == nil
}

// Run relays datagrams until the context is done or either socket
// fails. Socket failures are a normal end of session: the link stops
// promptly and queued frames are discarded.
func (r *Relay) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// install the egress handlers for both directions
	r.link.Left().Attach(&relayHandler{
		addr: func() net.Addr {
			if peer := r.peer.Load(); peer != nil {
				return *peer
			}
			return nil
		},
		conn: r.ingress,
	})
	r.link.Right().Attach(&relayHandler{
		addr: func() net.Addr { return r.forward },
		conn: r.egress,
	})

	// closing the sockets unblocks the read loops
	wg := &sync.WaitGroup{}
	wg.Go(func() {
		<-ctx.Done()
		r.ingress.Close()
		r.egress.Close()
	})

	// read loops feed the two link directions
	wg.Go(func() {
		defer cancel()
		r.readLoop(r.ingress, r.link.Left(), true)
	})
	wg.Go(func() {
		defer cancel()
		r.readLoop(r.egress, r.link.Right(), false)
	})

	// the link shapes frames in the foreground
	wg.Go(func() {
		defer cancel()
		r.link.Run(ctx)
	})

	wg.Wait()
}

// readLoop reads datagrams and posts them into the given link side. It
// returns on the first read error, which means the socket is closed.
func (r *Relay) readLoop(conn net.PacketConn, side *Side, learnPeer bool) {
	buffer := make([]byte, MTUJumbo)
	for {
		count, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			return
		}
		if learnPeer {
			r.peer.Store(&addr)
		}
		payload := make([]byte, count)
		copy(payload, buffer[:count])
		side.Send(Frame{Payload: payload})
	}
}
