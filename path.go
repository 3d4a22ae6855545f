// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"context"
	"net/netip"
)

// PathConfig configures a [*Path].
type PathConfig struct {
	// Uplink configures the left-to-right direction. Required.
	Uplink DirectionConfig

	// Downlink configures the right-to-left direction. Required.
	Downlink DirectionConfig

	// LeftAddr is the address of the left stack. The zero value
	// means [DefaultLeftAddr].
	LeftAddr netip.Addr

	// RightAddr is the address of the right stack. The zero value
	// means [DefaultRightAddr].
	RightAddr netip.Addr

	// MTU is the ports MTU. Zero means [MTUEthernet].
	MTU uint32

	// Options contains the link options.
	Options []LinkOption
}

// Enumerate the default point-to-point addresses. The applications
// commonly tested across the link are configured for this pair.
var (
	// DefaultLeftAddr is the default left stack address.
	DefaultLeftAddr = netip.MustParseAddr("10.0.0.1")

	// DefaultRightAddr is the default right stack address.
	DefaultRightAddr = netip.MustParseAddr("10.0.0.2")
)

// Path is a point-to-point emulated network path: two gVisor stacks
// joined by a shaped [*Link]. Packets written by either stack traverse
// the corresponding link direction before reaching the other stack.
//
// Construct using [NewPath], run with [*Path.Run], and tear down with
// [*Path.Close].
type Path struct {
	// Link is the shaped link joining the two stacks.
	Link *Link

	// Left is the stack at the left side (the uplink sender).
	Left *Stack

	// Right is the stack at the right side.
	Right *Stack
}

// NewPath creates a new [*Path] instance.
//
// This function combines:
//
// 1. [NewLink] to create the shaped link
//
// 2. [NewPort] to create a port for each link side
//
// 3. [NewStack] to create a stack on each port
func NewPath(cfg PathConfig) (*Path, error) {
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = MTUEthernet
	}
	leftAddr := cfg.LeftAddr
	if !leftAddr.IsValid() {
		leftAddr = DefaultLeftAddr
	}
	rightAddr := cfg.RightAddr
	if !rightAddr.IsValid() {
		rightAddr = DefaultRightAddr
	}

	link := NewLink(cfg.Uplink, cfg.Downlink, cfg.Options...)

	leftPort := NewPort(mtu, link.Left())
	left, err := NewStack(leftPort, leftAddr)
	if err != nil {
		return nil, err
	}

	rightPort := NewPort(mtu, link.Right())
	right, err := NewStack(rightPort, rightAddr)
	if err != nil {
		left.Close()
		return nil, err
	}

	// frames exiting a side are injected into that side's stack
	link.Left().Attach(leftPort)
	link.Right().Attach(rightPort)

	return &Path{
		Link:  link,
		Left:  left,
		Right: right,
	}, nil
}

// Run runs the underlying link until the context is done, a trace
// configured with [ScheduleOptionOnce] runs out, or either stack
// closes.
func (p *Path) Run(ctx context.Context) {
	p.Link.Run(ctx)
}

// Close shuts down both stacks. The ports close with their stacks,
// which in turn stops the link run loop.
func (p *Path) Close() {
	p.Left.Close()
	p.Right.Close()
}
