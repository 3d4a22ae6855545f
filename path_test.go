// SPDX-License-Identifier: GPL-3.0-or-later

package linkem_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/linkem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPath(t *testing.T, cfg linkem.PathConfig) *linkem.Path {
	t.Helper()
	if cfg.Uplink.Schedule == nil {
		cfg.Uplink = linkem.DirectionConfig{
			Schedule: gridSchedule(t, time.Millisecond, 10),
			Qdisc:    linkem.Qdisc{Kind: linkem.QdiscDropTail},
		}
	}
	if cfg.Downlink.Schedule == nil {
		cfg.Downlink = linkem.DirectionConfig{
			Schedule: gridSchedule(t, time.Millisecond, 10),
			Qdisc:    linkem.Qdisc{Kind: linkem.QdiscDropTail},
		}
	}
	path, err := linkem.NewPath(cfg)
	require.NoError(t, err)
	return path
}

func TestNewPathDefaults(t *testing.T) {
	path := newTestPath(t, linkem.PathConfig{})
	defer path.Close()

	// the default addresses are routable from each stack
	listenCfg := linkem.NewListenConfig(path.Left)
	listener, err := listenCfg.Listen(context.Background(), "tcp", "10.0.0.1:80")
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	listenCfg = linkem.NewListenConfig(path.Right)
	listener, err = listenCfg.Listen(context.Background(), "tcp", "10.0.0.2:80")
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestNewPathCustomAddrs(t *testing.T) {
	path := newTestPath(t, linkem.PathConfig{
		LeftAddr:  netip.MustParseAddr("192.168.7.1"),
		RightAddr: netip.MustParseAddr("192.168.7.2"),
	})
	defer path.Close()

	listenCfg := linkem.NewListenConfig(path.Left)
	listener, err := listenCfg.Listen(context.Background(), "tcp", "192.168.7.1:80")
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestPathCloseStopsRun(t *testing.T) {
	path := newTestPath(t, linkem.PathConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		path.Run(context.Background())
	}()

	// closing the stacks closes the ports; the next frame delivered to
	// a closed port stops its direction, and a direction pumping into a
	// closed port stops when the write fails
	path.Close()
	require.True(t, path.Link.Left().Send(linkem.Frame{Payload: []byte{0x45, 0x00}}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("path did not stop after close")
	}
	assert.NotNil(t, path.Link)
}
