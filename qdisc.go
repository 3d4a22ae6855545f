// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QdiscKind names a queue discipline.
type QdiscKind string

// Enumerate the supported queue disciplines.
const (
	// QdiscDropTail drops only when the hard capacity bound is exceeded.
	QdiscDropTail = QdiscKind("droptail")

	// QdiscCoDel additionally runs the CoDel controller, dropping from
	// the head of the queue when the sojourn time stays above target.
	QdiscCoDel = QdiscKind("codel")
)

// Enumerate the default CoDel parameters.
const (
	// DefaultTarget is the default CoDel target sojourn time.
	DefaultTarget = 5 * time.Millisecond

	// DefaultInterval is the default CoDel evaluation interval.
	DefaultInterval = 100 * time.Millisecond
)

// Qdisc configures the queue discipline of one link direction.
//
// The zero value is invalid. Construct using [NewQdisc] or [ParseQdisc].
// A Qdisc is immutable once the link starts.
type Qdisc struct {
	// Kind selects the discipline.
	Kind QdiscKind

	// Target is the sojourn threshold above which CoDel may start
	// dropping. Only meaningful for [QdiscCoDel].
	Target time.Duration

	// Interval is both the confirmation delay before dropping starts
	// and the base of the 1/sqrt(count) drop schedule. Only meaningful
	// for [QdiscCoDel].
	Interval time.Duration

	// MaxPackets bounds the queue in packets. Zero means unbounded.
	MaxPackets int

	// MaxBytes bounds the queue in bytes. Zero means unbounded.
	MaxBytes int
}

// NewQdisc creates a [Qdisc] of the given kind with default parameters.
func NewQdisc(kind QdiscKind) (Qdisc, error) {
	switch kind {
	case QdiscDropTail:
		return Qdisc{Kind: QdiscDropTail}, nil
	case QdiscCoDel:
		return Qdisc{
			Kind:     QdiscCoDel,
			Target:   DefaultTarget,
			Interval: DefaultInterval,
		}, nil
	default:
		return Qdisc{}, fmt.Errorf("linkem: unknown queue discipline: %s", kind)
	}
}

// ParseQdisc creates a [Qdisc] from a kind name and a comma-separated
// list of key=value arguments, e.g.:
//
//	ParseQdisc("codel", "target=20,interval=500,packets=2000")
//
// Recognized keys are target and interval (milliseconds, codel only)
// and packets and bytes (hard capacity backstop, any discipline). An
// unrecognized key or a non-positive target or interval is a
// configuration error. The args string may be empty.
func ParseQdisc(kind string, args string) (Qdisc, error) {
	qdisc, err := NewQdisc(QdiscKind(kind))
	if err != nil {
		return Qdisc{}, err
	}

	if args == "" {
		return qdisc, nil
	}

	for _, pair := range strings.Split(args, ",") {
		key, rawValue, found := strings.Cut(pair, "=")
		if !found {
			return Qdisc{}, fmt.Errorf("linkem: malformed queue argument: %s", pair)
		}
		value, err := strconv.Atoi(rawValue)
		if err != nil {
			return Qdisc{}, fmt.Errorf("linkem: queue argument %s: %w", key, err)
		}

		switch {
		case key == "packets":
			qdisc.MaxPackets = value

		case key == "bytes":
			qdisc.MaxBytes = value

		case key == "target" && qdisc.Kind == QdiscCoDel:
			qdisc.Target = time.Duration(value) * time.Millisecond

		case key == "interval" && qdisc.Kind == QdiscCoDel:
			qdisc.Interval = time.Duration(value) * time.Millisecond

		default:
			return Qdisc{}, fmt.Errorf("linkem: unrecognized %s queue argument: %s", kind, key)
		}
	}

	return qdisc, qdisc.validate()
}

// validate checks the parameter ranges.
func (q Qdisc) validate() error {
	if q.MaxPackets < 0 || q.MaxBytes < 0 {
		return fmt.Errorf("linkem: negative queue capacity")
	}
	if q.Kind == QdiscCoDel && (q.Target <= 0 || q.Interval <= 0) {
		return fmt.Errorf("linkem: codel requires positive target and interval")
	}
	return nil
}
