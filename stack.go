//
// SPDX-License-Identifier: MIT
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/gvisor.go
// Adapted from: https://github.com/WireGuard/wireguard-go
//

package linkem

import (
	"context"
	"errors"
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

// Stack is a userspace host stack attached to one end of an
// emulated path. Each [*Stack] owns a single NIC with a single
// address, which is all a point-to-point topology requires.
//
// Construct using [NewStack], typically passing a [*Port] as
// the link endpoint. The zero value is invalid.
type Stack struct {
	Stack *stack.Stack
}

// stackNICID identifies the only NIC a [*Stack] ever creates.
const stackNICID = 1

// NewStack creates a [*Stack] whose NIC uses the given link endpoint
// and is assigned the given address. The family of addr decides which
// default route we install.
func NewStack(port stack.LinkEndpoint, addr netip.Addr) (*Stack, error) {
	// 1. create the gVisor stack with both IP families registered,
	// so the same code path serves IPv4 and IPv6 hosts
	nsp := stack.New(stack.Options{
		NetworkProtocols: []stack.NetworkProtocolFactory{
			ipv4.NewProtocol,
			ipv6.NewProtocol,
		},
		TransportProtocols: []stack.TransportProtocolFactory{
			tcp.NewProtocol,
			udp.NewProtocol,
			icmp.NewProtocol4,
			icmp.NewProtocol6,
		},
		HandleLocal: true,
	})

	// 2. attach the link endpoint as the only NIC
	if err := nsp.CreateNIC(stackNICID, port); err != nil {
		return nil, errors.New(err.String())
	}

	// 3. assign the host address to the NIC
	protoAddr := tcpip.ProtocolAddress{
		Protocol:          stackProtocolNumber(addr),
		AddressWithPrefix: tcpip.AddrFromSlice(addr.AsSlice()).WithPrefix(),
	}
	if err := nsp.AddProtocolAddress(stackNICID, protoAddr, stack.AddressProperties{}); err != nil {
		return nil, errors.New(err.String())
	}

	// 4. route the whole address family through the NIC: the peer at
	// the far end of the link is the only possible next hop
	destination := header.IPv4EmptySubnet
	if addr.Is6() {
		destination = header.IPv6EmptySubnet
	}
	nsp.AddRoute(tcpip.Route{
		Destination: destination,
		NIC:         stackNICID,
	})

	return &Stack{nsp}, nil
}

// DialTCP establishes a new [*gonet.TCPConn].
func (sx *Stack) DialTCP(ctx context.Context, addr netip.AddrPort) (*gonet.TCPConn, error) {
	return gonet.DialContextTCP(ctx, sx.Stack, stackFullAddress(addr),
		stackProtocolNumber(addr.Addr()))
}

// ListenTCP creates a new [*gonet.TCPListener].
func (sx *Stack) ListenTCP(addr netip.AddrPort) (*gonet.TCPListener, error) {
	return gonet.ListenTCP(sx.Stack, stackFullAddress(addr),
		stackProtocolNumber(addr.Addr()))
}

// DialUDP creates a new connected [*gonet.UDPConn].
func (sx *Stack) DialUDP(addr netip.AddrPort) (*gonet.UDPConn, error) {
	raddr := stackFullAddress(addr)
	return gonet.DialUDP(sx.Stack, nil, &raddr, stackProtocolNumber(addr.Addr()))
}

// ListenUDP creates a new listening [*gonet.UDPConn].
func (sx *Stack) ListenUDP(addr netip.AddrPort) (*gonet.UDPConn, error) {
	laddr := stackFullAddress(addr)
	return gonet.DialUDP(sx.Stack, &laddr, nil, stackProtocolNumber(addr.Addr()))
}

// stackFullAddress maps an [netip.AddrPort] to the gVisor equivalent
// bound to the stack's NIC. Unspecified addresses (`0.0.0.0` or `::`)
// work as expected and accept traffic on the NIC's configured address.
func stackFullAddress(epnt netip.AddrPort) tcpip.FullAddress {
	return tcpip.FullAddress{
		NIC:  stackNICID,
		Addr: tcpip.AddrFromSlice(epnt.Addr().AsSlice()),
		Port: epnt.Port(),
	}
}

// stackProtocolNumber maps an address to the protocol number of its family.
func stackProtocolNumber(addr netip.Addr) tcpip.NetworkProtocolNumber {
	if addr.Is4() {
		return ipv4.ProtocolNumber
	}
	return ipv6.ProtocolNumber
}

// Close shuts down the stack and waits for the NIC teardown to finish.
func (sx *Stack) Close() {
	sx.Stack.Destroy()
}
