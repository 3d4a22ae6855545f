// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
)

// DirectionStats counts what happened to the frames of one direction.
//
// All counters are safe for concurrent reads while the link is running.
type DirectionStats struct {
	// aqmDrops counts frames dropped by the CoDel controller.
	aqmDrops atomic.Uint64

	// forwardedBytes counts the bytes delivered to the egress handler.
	forwardedBytes atomic.Uint64

	// forwardedPackets counts the frames delivered to the egress handler.
	forwardedPackets atomic.Uint64

	// ingressDrops counts frames dropped because the ingress channel
	// was full before the pump could enqueue them.
	ingressDrops atomic.Uint64

	// mu protects sojourns.
	mu sync.Mutex

	// sojourns samples the sojourn time of forwarded frames, in
	// milliseconds, up to maxSojournSamples entries.
	sojourns []float64

	// tailDrops counts frames rejected by the drop-tail backstop.
	tailDrops atomic.Uint64
}

// maxSojournSamples bounds the sojourn sample buffer.
const maxSojournSamples = 1 << 17

// recordForward accounts for one forwarded frame.
func (s *DirectionStats) recordForward(size int, sojourn time.Duration) {
	s.forwardedPackets.Add(1)
	s.forwardedBytes.Add(uint64(size))
	s.mu.Lock()
	if len(s.sojourns) < maxSojournSamples {
		s.sojourns = append(s.sojourns, float64(sojourn)/float64(time.Millisecond))
	}
	s.mu.Unlock()
}

// AQMDrops returns the number of frames dropped by the controller.
func (s *DirectionStats) AQMDrops() uint64 {
	return s.aqmDrops.Load()
}

// TailDrops returns the number of frames rejected by the backstop.
func (s *DirectionStats) TailDrops() uint64 {
	return s.tailDrops.Load()
}

// IngressDrops returns the number of frames lost before enqueue.
func (s *DirectionStats) IngressDrops() uint64 {
	return s.ingressDrops.Load()
}

// ForwardedPackets returns the number of delivered frames.
func (s *DirectionStats) ForwardedPackets() uint64 {
	return s.forwardedPackets.Load()
}

// ForwardedBytes returns the number of delivered bytes.
func (s *DirectionStats) ForwardedBytes() uint64 {
	return s.forwardedBytes.Load()
}

// DirectionSummary is the end-of-run summary of one direction.
type DirectionSummary struct {
	// ForwardedPackets is the number of delivered frames.
	ForwardedPackets uint64

	// ForwardedBytes is the number of delivered bytes.
	ForwardedBytes uint64

	// AQMDrops is the number of controller drops.
	AQMDrops uint64

	// TailDrops is the number of backstop drops.
	TailDrops uint64

	// IngressDrops is the number of frames lost before enqueue.
	IngressDrops uint64

	// SojournMean is the mean sojourn time of forwarded frames.
	SojournMean time.Duration

	// SojournMedian is the median sojourn time of forwarded frames.
	SojournMedian time.Duration

	// SojournP95 is the 95th percentile sojourn time.
	SojournP95 time.Duration
}

// Summary computes the [DirectionSummary] from the current counters.
//
// The sojourn fields are zero when no frame was forwarded.
func (s *DirectionStats) Summary() DirectionSummary {
	summary := DirectionSummary{
		ForwardedPackets: s.forwardedPackets.Load(),
		ForwardedBytes:   s.forwardedBytes.Load(),
		AQMDrops:         s.aqmDrops.Load(),
		TailDrops:        s.tailDrops.Load(),
		IngressDrops:     s.ingressDrops.Load(),
	}

	s.mu.Lock()
	samples := stats.Float64Data(append([]float64(nil), s.sojourns...))
	s.mu.Unlock()
	if samples.Len() < 1 {
		return summary
	}

	// stats only fails on empty input, which we excluded above.
	mean, _ := stats.Mean(samples)
	median, _ := stats.Median(samples)
	p95, _ := stats.Percentile(samples, 95)
	summary.SojournMean = time.Duration(mean * float64(time.Millisecond))
	summary.SojournMedian = time.Duration(median * float64(time.Millisecond))
	summary.SojournP95 = time.Duration(p95 * float64(time.Millisecond))
	return summary
}
