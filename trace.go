// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxTraceOffsetMillis is the largest trace offset, in milliseconds,
// representable as a [time.Duration].
const maxTraceOffsetMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

// ErrEmptyTrace indicates that a trace contains no opportunities.
var ErrEmptyTrace = errors.New("linkem: empty trace")

// Schedule replays a trace of transmission opportunities.
//
// A trace is an ordered list of millisecond offsets from the link start
// time. Each entry grants the link one [OpportunitySize] transmission
// opportunity at that offset. When the trace is exhausted the schedule
// restarts it, shifted by the trace duration, so that the emitted
// sequence of absolute times is infinite and non-decreasing. Use
// [ScheduleOptionOnce] for a finite, single-pass schedule.
//
// The zero value is invalid. Construct using [NewSchedule],
// [ParseSchedule] or [LoadSchedule]. A schedule is owned by a single
// link direction and is not safe for concurrent use.
type Schedule struct {
	// base is the absolute time the offsets are relative to.
	base time.Time

	// duration is the length of one full trace cycle.
	duration time.Duration

	// index is the position of the next entry to replay.
	index int

	// offsets contains the relative opportunity offsets.
	offsets []time.Duration

	// once disables wraparound when true.
	once bool

	// wraps counts how many times the trace restarted.
	wraps int
}

// ScheduleOption is an option for [NewSchedule].
type ScheduleOption func(cfg *scheduleConfig)

// scheduleConfig is the internal type modified by [ScheduleOption].
type scheduleConfig struct {
	once bool
}

// ScheduleOptionOnce makes the schedule finite: the trace is replayed
// a single time and [*Schedule.NextOpportunity] then reports exhaustion.
func ScheduleOptionOnce() ScheduleOption {
	return func(cfg *scheduleConfig) {
		cfg.once = true
	}
}

// NewSchedule creates a new [*Schedule] from relative offsets.
//
// The offsets must be non-empty and non-decreasing. Unless the schedule
// is finite, the last offset must be positive because it is the cycle
// duration used to shift replayed entries.
func NewSchedule(offsets []time.Duration, options ...ScheduleOption) (*Schedule, error) {
	cfg := &scheduleConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	if len(offsets) < 1 {
		return nil, ErrEmptyTrace
	}
	for idx := 0; idx < len(offsets); idx++ {
		if offsets[idx] < 0 {
			return nil, fmt.Errorf("linkem: negative trace offset at entry %d", idx)
		}
		if idx > 0 && offsets[idx] < offsets[idx-1] {
			return nil, fmt.Errorf("linkem: decreasing trace offset at entry %d", idx)
		}
	}

	duration := offsets[len(offsets)-1]
	if !cfg.once && duration <= 0 {
		return nil, errors.New("linkem: cyclic trace has zero duration")
	}

	return &Schedule{
		base:     time.Time{},
		duration: duration,
		index:    0,
		offsets:  offsets,
		once:     cfg.once,
		wraps:    0,
	}, nil
}

// ParseSchedule reads a trace in the standard text format: one
// non-negative integer per line, each the millisecond offset of one
// transmission opportunity. Blank lines are ignored.
func ParseSchedule(r io.Reader, options ...ScheduleOption) (*Schedule, error) {
	var offsets []time.Duration
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		value, err := strconv.ParseUint(line, 10, 63)
		if err != nil {
			return nil, fmt.Errorf("linkem: trace line %d: %w", lineno, err)
		}
		// converting to a duration must not overflow int64
		if value > maxTraceOffsetMillis {
			return nil, fmt.Errorf("linkem: trace line %d: offset %d ms is out of range", lineno, value)
		}
		offsets = append(offsets, time.Duration(value)*time.Millisecond)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewSchedule(offsets, options...)
}

// LoadSchedule reads a trace file using [ParseSchedule].
func LoadSchedule(path string, options ...ScheduleOption) (*Schedule, error) {
	filep, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer filep.Close()
	sched, err := ParseSchedule(filep, options...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sched, nil
}

// Start rewinds the schedule and anchors it at the given base time. All
// subsequent opportunities are absolute times at or after base.
func (s *Schedule) Start(base time.Time) {
	s.base = base
	s.index = 0
	s.wraps = 0
}

// NextOpportunity returns the absolute time of the next transmission
// opportunity and advances the schedule. The second return value is
// false when a finite schedule is exhausted.
func (s *Schedule) NextOpportunity() (time.Time, bool) {
	if s.index >= len(s.offsets) {
		if s.once {
			return time.Time{}, false
		}
		s.index = 0
		s.wraps++
	}
	offset := s.offsets[s.index] + time.Duration(s.wraps)*s.duration
	s.index++
	return s.base.Add(offset), true
}

// Len returns the number of entries in one trace cycle.
func (s *Schedule) Len() int {
	return len(s.offsets)
}

// Wraps returns how many times the trace restarted since [*Schedule.Start].
func (s *Schedule) Wraps() int {
	return s.wraps
}
