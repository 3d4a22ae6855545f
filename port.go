// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"sync"

	"github.com/bassosimone/runtimex"
	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
)

// Port connects a gVisor network stack to one side of a [*Link]. This
// type is compatible with [stack.Stack] because it implements the
// [stack.LinkEndpoint] interface.
//
// To send packets, [stack.Stack] invokes [*Port.WritePackets], which
// posts each raw IP packet into the attached [*Side], where it is
// queued and shaped before reaching the opposite side.
//
// To receive packets, the link invokes [*Port.HandleFrame] (the
// [FrameHandler] implementation), which dispatches the packet into
// netstack via the [stack.NetworkDispatcher] configured by Attach.
//
// Construct using [NewPort], then pass the port to [*Side.Attach] so
// that frames exiting the link reach the stack.
type Port struct {
	// closefunc is the function invoked on close.
	closefunc func()

	// disp is set by Attach and used to deliver inbound packets into netstack.
	disp stack.NetworkDispatcher

	// isclosed indicates this port should not accept more work.
	isclosed bool

	// laddr is the [tcpip.LinkAddress] to use.
	laddr tcpip.LinkAddress

	// mtu holds the link MTU.
	mtu uint32

	// mu provides mutual exclusion.
	mu sync.RWMutex

	// side is the link side we send frames into.
	side *Side
}

// NewPort creates a new [*Port] sending into the given link side.
//
// The mtu parameter sets the MTU in bytes. Common values:
//
// - [MTUEthernet]
// - [MTUMinimumIPv6]
// - [MTUJumbo]
func NewPort(mtu uint32, side *Side) *Port {
	return &Port{
		closefunc: nil,
		disp:      nil,
		isclosed:  false,
		laddr:     "",
		mtu:       mtu,
		mu:        sync.RWMutex{},
		side:      side,
	}
}

// Ensure that [*Port] implements [stack.LinkEndpoint] and [FrameHandler].
var (
	_ stack.LinkEndpoint = &Port{}
	_ FrameHandler       = &Port{}
)

// ARPHardwareType implements [stack.LinkEndpoint].
func (pt *Port) ARPHardwareType() header.ARPHardwareType {
	return header.ARPHardwareNone
}

// AddHeader implements [stack.LinkEndpoint].
func (pt *Port) AddHeader(pbuf *stack.PacketBuffer) {
	// nothing to do here because we send raw IP packets
}

// Attach implements [stack.LinkEndpoint].
func (pt *Port) Attach(disp stack.NetworkDispatcher) {
	pt.mu.Lock()
	if !pt.isclosed {
		pt.disp = disp // setting nil implies detaching the dispatcher
	}
	pt.mu.Unlock()
}

// Capabilities implements [stack.LinkEndpoint].
func (pt *Port) Capabilities() stack.LinkEndpointCapabilities {
	return 0 // no capabilities for now
}

// Close implements [stack.LinkEndpoint].
func (pt *Port) Close() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.isclosed {
		pt.isclosed = true
		pt.disp = nil
		if pt.closefunc != nil {
			pt.closefunc()
		}
	}
}

// IsAttached implements [stack.LinkEndpoint].
func (pt *Port) IsAttached() bool {
	pt.mu.RLock()
	attached := pt.disp != nil && !pt.isclosed
	pt.mu.RUnlock()
	return attached
}

// LinkAddress implements [stack.LinkEndpoint].
func (pt *Port) LinkAddress() tcpip.LinkAddress {
	pt.mu.RLock()
	value := pt.laddr
	pt.mu.RUnlock()
	return value
}

// MTU implements [stack.LinkEndpoint].
func (pt *Port) MTU() uint32 {
	pt.mu.RLock()
	value := pt.mtu
	pt.mu.RUnlock()
	return value
}

// MaxHeaderLength implements [stack.LinkEndpoint].
func (pt *Port) MaxHeaderLength() uint16 {
	return 0 // we send raw IP packets
}

// ParseHeader implements [stack.LinkEndpoint].
func (pt *Port) ParseHeader(pbuf *stack.PacketBuffer) bool {
	return true // no header to parse
}

// SetLinkAddress implements [stack.LinkEndpoint].
func (pt *Port) SetLinkAddress(addr tcpip.LinkAddress) {
	pt.mu.Lock()
	pt.laddr = addr
	pt.mu.Unlock()
}

// SetMTU implements [stack.LinkEndpoint].
func (pt *Port) SetMTU(mtu uint32) {
	pt.mu.Lock()
	pt.mtu = mtu
	pt.mu.Unlock()
}

// SetOnCloseAction implements [stack.LinkEndpoint].
func (pt *Port) SetOnCloseAction(action func()) {
	pt.mu.Lock()
	pt.closefunc = action
	pt.mu.Unlock()
}

// Wait implements [stack.LinkEndpoint].
func (pt *Port) Wait() {
	// nothing because we do not create background goroutines
}

// WritePackets implements [stack.LinkEndpoint].
//
// Each packet becomes one frame entering the link: it is subject to
// the direction's queue discipline and may be dropped by the backstop
// or the controller before reaching the other side.
func (pt *Port) WritePackets(pkts stack.PacketBufferList) (int, tcpip.Error) {
	// 1. access mutex protected fields
	pt.mu.RLock()
	side := pt.side
	isclosed := pt.isclosed
	mtu := pt.mtu
	pt.mu.RUnlock()

	// 2. bail if the port has been closed or is detached from the link
	if isclosed || side == nil {
		return 0, &tcpip.ErrNoNet{}
	}

	// 3. try sending the packets
	var numSent int
	for _, pb := range pkts.AsSlice() {
		// 3.1. serialize the packet buffer to bytes
		payload := portPacketBufferToBytes(pb)
		if len(payload) <= 0 {
			continue
		}

		// 3.2. drop the packet if larger than the MTU
		if uint32(len(payload)) > mtu {
			continue
		}

		// 3.3. post the frame into the link
		if !side.Send(Frame{Payload: payload}) {
			continue
		}
		numSent++
	}

	// 4. return number of packets sent
	return numSent, nil
}

// HandleFrame implements [FrameHandler]: it injects a raw IPv4/IPv6
// packet exiting the link into the attached stack.
//
// Returns false when the port is closed, which stops the delivering
// link direction. Packets that are empty, oversized, or not IP are
// consumed and discarded without stopping the link.
func (pt *Port) HandleFrame(frame Frame) bool {
	// 1. access mutex protected fields
	pt.mu.RLock()
	disp := pt.disp
	isclosed := pt.isclosed
	mtu := pt.mtu
	pt.mu.RUnlock()

	// 2. a closed port terminates the direction delivering to it
	if isclosed {
		return false
	}

	// 3. consume-but-discard the frames we cannot deliver
	pkt := frame.Payload
	if len(pkt) <= 0 || disp == nil || uint32(len(pkt)) > mtu {
		return true
	}
	proto, ok := portDetectNetworkProtocol(pkt)
	if !ok {
		return true
	}

	// 4. deliver A COPY OF the raw network packet
	copied := make([]byte, len(pkt))
	copy(copied, pkt)
	pkb := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(copied),
	})
	disp.DeliverNetworkPacket(proto, pkb)
	return true
}

// portDetectNetworkProtocol extracts the protocol number from the raw packet bytes.
//
// This function PANICs if the given pkt is zero length.
func portDetectNetworkProtocol(pkt []byte) (tcpip.NetworkProtocolNumber, bool) {
	runtimex.Assert(len(pkt) > 0)
	switch pkt[0] >> 4 {
	case 4:
		return ipv4.ProtocolNumber, true
	case 6:
		return ipv6.ProtocolNumber, true
	default:
		return 0, false
	}
}

// portPacketBufferToBytes returns a slice containing A COPY OF the packet bytes.
func portPacketBufferToBytes(pb *stack.PacketBuffer) []byte {
	v := pb.ToView()
	out := make([]byte, v.Size())
	_ = runtimex.PanicOnError1(v.Read(out))
	return out
}
