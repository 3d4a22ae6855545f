//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/unetstack.go
//

package linkem

import (
	"context"
	"net"
	"net/netip"
	"syscall"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
)

// Connector allows to dial [net.Conn] connections pretty much
// like [*net.Dialer] except that here we use a [*Stack]
// implementation as the networking backend.
//
// The zero value is invalid. Construct using [NewConnector].
//
// Only IP literal endpoints are supported. Dialing a hostname will fail.
type Connector struct {
	// stack is the linkem stack to use.
	stack *Stack
}

// NewConnector creates a new [*Connector] instance.
func NewConnector(stack *Stack) *Connector {
	return &Connector{stack: stack}
}

// DialContext creates a new [net.Conn] connection.
func (c *Connector) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	// 1. parse the address into a [netip.AddrPort]
	addrport, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}

	// 2. dial using either TCP or UDP
	var conn net.Conn
	switch network {
	case "tcp":
		conn, err = c.stack.DialTCP(ctx, addrport)

	case "udp":
		conn, err = c.stack.DialUDP(addrport)

	default:
		return nil, syscall.EPROTOTYPE
	}

	// 3. remap the error on failure
	if err != nil {
		return nil, errorsRemap(err)
	}

	// 4. wrap conn to correctly remap errors
	return &connWrapper{conn}, nil
}

// ListenConfig allows to listen pretty much like [*net.ListenConfig] except that
// here we use a [*Stack] implementation as the networking backend.
//
// The zero value is invalid. Construct using [NewListenConfig].
//
// Only IP literal endpoints are supported. Listening on a hostname will fail.
type ListenConfig struct {
	// stack is the linkem stack to use.
	stack *Stack
}

// NewListenConfig creates a new [*ListenConfig] instance.
func NewListenConfig(stack *Stack) *ListenConfig {
	return &ListenConfig{stack: stack}
}

// ListenPacket creates a listening packet conn.
func (lc *ListenConfig) ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error) {
	// 1. reject networks different from udp
	if network != "udp" {
		return nil, syscall.EPROTOTYPE
	}

	// 2. convert to [netip.AddrPort]
	addrport, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}

	// 3. create a UDP connection
	pconn, err := lc.stack.ListenUDP(addrport)
	if err != nil {
		return nil, errorsRemap(err)
	}

	// 4. wrap the connection to remap the errors
	return &packetConnWrapper{pconn}, nil
}

// Listen creates a listening TCP socket.
func (lc *ListenConfig) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	// 1. reject networks different from tcp
	if network != "tcp" {
		return nil, syscall.EPROTOTYPE
	}

	// 2. convert to [netip.AddrPort]
	addrport, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}

	// 3. create a TCP listener
	listener, err := lc.stack.ListenTCP(addrport)
	if err != nil {
		return nil, errorsRemap(err)
	}

	// 4. wrap the connection to remap the errors
	return &listenerWrapper{listener}, nil
}

// connWrapper wraps a [net.Conn] to remap gVisor errors
// so that we can emulate stdlib errors.
type connWrapper struct {
	conn net.Conn
}

var _ net.Conn = &connWrapper{}

// Close implements [net.Conn].
func (cw *connWrapper) Close() error {
	return cw.conn.Close()
}

// LocalAddr implements [net.Conn].
func (cw *connWrapper) LocalAddr() net.Addr {
	return cw.conn.LocalAddr()
}

// Read implements [net.Conn].
func (cw *connWrapper) Read(buff []byte) (int, error) {
	count, err := cw.conn.Read(buff)
	return count, errorsRemap(err)
}

// RemoteAddr implements [net.Conn].
func (cw *connWrapper) RemoteAddr() net.Addr {
	return cw.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (cw *connWrapper) SetDeadline(t time.Time) error {
	return cw.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (cw *connWrapper) SetReadDeadline(t time.Time) error {
	return cw.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (cw *connWrapper) SetWriteDeadline(t time.Time) error {
	return cw.conn.SetWriteDeadline(t)
}

// Write implements [net.Conn].
func (cw *connWrapper) Write(data []byte) (int, error) {
	count, err := cw.conn.Write(data)
	return count, errorsRemap(err)
}

// listenerWrapper wraps a [net.Listener] and maps gVisor
// errors to the corresponding stdlib errors.
type listenerWrapper struct {
	listener *gonet.TCPListener
}

var _ net.Listener = &listenerWrapper{}

// Accept implements [net.Listener].
func (lw *listenerWrapper) Accept() (net.Conn, error) {
	conn, err := lw.listener.Accept()
	if err != nil {
		return nil, errorsRemap(err)
	}
	return &connWrapper{conn}, nil
}

// Addr implements [net.Listener].
func (lw *listenerWrapper) Addr() net.Addr {
	return lw.listener.Addr()
}

// Close implements [net.Listener].
func (lw *listenerWrapper) Close() error {
	return lw.listener.Close()
}

// packetConnWrapper wraps a [net.PacketConn] and remaps gVisor errors
// to emulate stdlib errors.
type packetConnWrapper struct {
	pconn *gonet.UDPConn
}

var _ net.PacketConn = &packetConnWrapper{}

// Close implements [net.PacketConn].
func (pcw *packetConnWrapper) Close() error {
	return pcw.pconn.Close()
}

// LocalAddr implements [net.PacketConn].
func (pcw *packetConnWrapper) LocalAddr() net.Addr {
	return pcw.pconn.LocalAddr()
}

// ReadFrom implements [net.PacketConn].
func (pcw *packetConnWrapper) ReadFrom(buff []byte) (int, net.Addr, error) {
	count, addr, err := pcw.pconn.ReadFrom(buff)
	return count, addr, errorsRemap(err)
}

// SetDeadline implements [net.PacketConn].
func (pcw *packetConnWrapper) SetDeadline(t time.Time) error {
	return pcw.pconn.SetDeadline(t)
}

// SetReadDeadline implements [net.PacketConn].
func (pcw *packetConnWrapper) SetReadDeadline(t time.Time) error {
	return pcw.pconn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.PacketConn].
func (pcw *packetConnWrapper) SetWriteDeadline(t time.Time) error {
	return pcw.pconn.SetWriteDeadline(t)
}

// WriteTo implements [net.PacketConn].
func (pcw *packetConnWrapper) WriteTo(pkt []byte, addr net.Addr) (int, error) {
	count, err := pcw.pconn.WriteTo(pkt, addr)
	return count, errorsRemap(err)
}
