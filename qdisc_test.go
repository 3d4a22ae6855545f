// SPDX-License-Identifier: GPL-3.0-or-later

package linkem_test

import (
	"testing"
	"time"

	"github.com/bassosimone/linkem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQdisc(t *testing.T) {
	t.Run("droptail", func(t *testing.T) {
		qdisc, err := linkem.NewQdisc(linkem.QdiscDropTail)
		require.NoError(t, err)
		assert.Equal(t, linkem.QdiscDropTail, qdisc.Kind)
		assert.Zero(t, qdisc.MaxPackets)
		assert.Zero(t, qdisc.MaxBytes)
	})

	t.Run("codel_defaults", func(t *testing.T) {
		qdisc, err := linkem.NewQdisc(linkem.QdiscCoDel)
		require.NoError(t, err)
		assert.Equal(t, linkem.DefaultTarget, qdisc.Target)
		assert.Equal(t, linkem.DefaultInterval, qdisc.Interval)
	})

	t.Run("unknown_kind", func(t *testing.T) {
		_, err := linkem.NewQdisc(linkem.QdiscKind("red"))
		require.Error(t, err)
	})
}

func TestParseQdisc(t *testing.T) {
	t.Run("codel_full_args", func(t *testing.T) {
		qdisc, err := linkem.ParseQdisc("codel", "target=20,interval=500,packets=2000")
		require.NoError(t, err)
		assert.Equal(t, 20*time.Millisecond, qdisc.Target)
		assert.Equal(t, 500*time.Millisecond, qdisc.Interval)
		assert.Equal(t, 2000, qdisc.MaxPackets)
	})

	t.Run("droptail_bytes", func(t *testing.T) {
		qdisc, err := linkem.ParseQdisc("droptail", "bytes=3000000")
		require.NoError(t, err)
		assert.Equal(t, 3000000, qdisc.MaxBytes)
	})

	t.Run("empty_args", func(t *testing.T) {
		qdisc, err := linkem.ParseQdisc("codel", "")
		require.NoError(t, err)
		assert.Equal(t, linkem.DefaultTarget, qdisc.Target)
	})

	t.Run("unrecognized_key", func(t *testing.T) {
		_, err := linkem.ParseQdisc("codel", "quantum=300")
		require.Error(t, err)
	})

	t.Run("droptail_rejects_target", func(t *testing.T) {
		_, err := linkem.ParseQdisc("droptail", "target=20")
		require.Error(t, err)
	})

	t.Run("malformed_pair", func(t *testing.T) {
		_, err := linkem.ParseQdisc("codel", "target")
		require.Error(t, err)
	})

	t.Run("non_numeric_value", func(t *testing.T) {
		_, err := linkem.ParseQdisc("codel", "target=fast")
		require.Error(t, err)
	})

	t.Run("non_positive_target", func(t *testing.T) {
		_, err := linkem.ParseQdisc("codel", "target=0")
		require.Error(t, err)
	})

	t.Run("non_positive_interval", func(t *testing.T) {
		_, err := linkem.ParseQdisc("codel", "interval=-100")
		require.Error(t, err)
	})

	t.Run("negative_capacity", func(t *testing.T) {
		_, err := linkem.ParseQdisc("droptail", "packets=-1")
		require.Error(t, err)
	})

	t.Run("unknown_kind", func(t *testing.T) {
		_, err := linkem.ParseQdisc("fifo", "")
		require.Error(t, err)
	})
}
