// SPDX-License-Identifier: GPL-3.0-or-later

// Package linkem (Link Emulator) replays a bandwidth trace to emulate a
// directional, time-varying network link with bounded queueing delay.
//
// The package models a point-to-point path made of two independent
// directions (uplink and downlink). Each direction owns a [*Schedule]
// replaying a trace of transmission opportunities, a bounded FIFO queue,
// and an optional CoDel controller keeping the queueing delay near a
// configured target by dropping packets from the head of the queue.
//
// The typical usage is to create a [*Link] from two [DirectionConfig]
// values and run it with [*Link.Run]. Frames enter the link through one
// of its two sides ([*Link.Left] and [*Link.Right]) and exit, reshaped,
// at the opposite side. The link never inspects or modifies the frame
// payload: it only decides when, and whether, each frame is delivered.
//
// On the application side, a [*Port] adapts a link side into a gVisor
// [stack.LinkEndpoint], so that a [*Stack] can carry ordinary TCP and
// UDP traffic across the emulated link. The [NewPath] helper combines a
// link, two ports, and two stacks into a ready-made point-to-point
// topology. For applications running in separate processes, [*Relay]
// carries UDP datagrams across the link instead.
//
// The [*PCAPTrace] type captures the frames that exit the shaped link
// in PCAP format so that you can inspect the shaping and drop behavior
// using tools such as wireshark.
package linkem
