// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

// pump moves frames across one direction of the link.
//
// The pump is driven by two event sources: frames arriving on the
// ingress channel and transmission opportunities from the schedule.
// Both are handled on a single goroutine, so the queue and the codel
// state need no locking. The ordering guarantee follows: enqueues and
// opportunity ticks are strictly serialized.
type pump struct {
	// codel is the AQM controller, nil for drop-tail.
	codel *codel

	// handler receives the frames exiting this direction.
	handler FrameHandler

	// ingress receives the frames entering this direction.
	ingress chan Frame

	// logger is where the pump logs, never nil.
	logger log.Interface

	// mu protects handler.
	mu sync.RWMutex

	// name tags log entries ("uplink" or "downlink").
	name string

	// pcap optionally captures forwarded frames.
	pcap *PCAPTrace

	// queue is the direction's FIFO.
	queue *Queue

	// sched replays the direction's trace.
	sched *Schedule

	// stats counts what happened to the frames.
	stats *DirectionStats
}

// newPump creates the pump for one direction.
func newPump(name string, cfg DirectionConfig, lcfg *linkConfig) *pump {
	var controller *codel
	if cfg.Qdisc.Kind == QdiscCoDel {
		controller = newCoDel(cfg.Qdisc)
	}
	return &pump{
		codel:   controller,
		handler: nil,
		ingress: make(chan Frame, lcfg.buffer),
		logger:  lcfg.logger,
		mu:      sync.RWMutex{},
		name:    name,
		pcap:    lcfg.pcap,
		queue:   NewQueue(cfg.Qdisc),
		sched:   cfg.Schedule,
		stats:   &DirectionStats{},
	}
}

// send posts a frame to the ingress channel without blocking. Frames
// posted while the channel is full are counted and discarded.
func (p *pump) send(frame Frame) bool {
	select {
	case p.ingress <- frame:
		return true
	default:
		p.stats.ingressDrops.Add(1)
		return false
	}
}

// attach installs the egress handler.
func (p *pump) attach(handler FrameHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// run loops until the context is done, the trace is exhausted (finite
// schedules only), or the egress handler reports closure.
func (p *pump) run(ctx context.Context) {
	p.sched.Start(time.Now())
	next, ok := p.sched.NextOpportunity()
	if !ok {
		return
	}
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-p.ingress:
			if err := p.queue.Enqueue(frame, time.Now()); err != nil {
				p.stats.tailDrops.Add(1)
				p.logger.Debugf("%s: tail drop (%d packets queued)", p.name, p.queue.Len())
			}

		case <-timer.C:
			if !p.tick(time.Now()) {
				return
			}
			next, ok = p.sched.NextOpportunity()
			if !ok {
				p.logger.Infof("%s: trace exhausted", p.name)
				return
			}
			timer.Reset(time.Until(next))
		}
	}
}

// tick consumes one transmission opportunity. Returns false when the
// egress handler is closed and the pump must stop.
func (p *pump) tick(now time.Time) bool {
	sojourn, hasSojourn := p.queue.PeekSojourn(now)

	drop := false
	if p.codel != nil {
		wasDropping := p.codel.dropping
		drop = p.codel.shouldDrop(now, sojourn, hasSojourn)
		if p.codel.dropping != wasDropping {
			p.logger.Debugf("%s: codel dropping=%v count=%d", p.name, p.codel.dropping, p.codel.count)
		}
	}

	// An empty queue wastes the opportunity.
	if !hasSojourn {
		return true
	}

	frame, _ := p.queue.Dequeue()
	if drop {
		// the opportunity is spent without transmitting
		p.stats.aqmDrops.Add(1)
		return true
	}

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil || !handler.HandleFrame(frame) {
		p.logger.Infof("%s: endpoint closed", p.name)
		return false
	}
	if p.pcap != nil {
		p.pcap.Dump(frame.Payload)
	}
	p.stats.recordForward(len(frame.Payload), sojourn)
	return true
}
