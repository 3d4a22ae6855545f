// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPCAPTraceReadOrDrainAfterCancelWithSnapshot(t *testing.T) {
	// a snapshot buffered when the context is already canceled must
	// still be drained and written out rather than silently lost
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace := &PCAPTrace{
		snaps: make(chan pcapSnapshot, 1),
	}
	trace.testCancellationDrainHook = func() {
		trace.snaps <- pcapSnapshot{data: []byte{0x01}, length: 1}
	}

	snap, ok := trace.readOrDrain(ctx)
	require.True(t, ok)
	require.Equal(t, 1, snap.length)
	require.Equal(t, []byte{0x01}, snap.data)
}

func TestPCAPTraceReadOrDrainAfterCancelEmpty(t *testing.T) {
	// with nothing buffered, cancellation terminates the drain
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace := &PCAPTrace{
		snaps: make(chan pcapSnapshot),
	}

	_, ok := trace.readOrDrain(ctx)
	require.False(t, ok)
}
