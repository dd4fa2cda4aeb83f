// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultMinSpeed is the lowest accepted playback speed.
	DefaultMinSpeed = 0.01

	// DefaultNotifyInterval throttles time broadcasts to ~60 per logical second.
	DefaultNotifyInterval = time.Second / 60

	// maxWait caps computed deadlines far in the future.
	maxWait = time.Duration(math.MaxInt64 / 2)
)

// ClampSpeed returns speed, or floor when speed is non-finite or below floor.
func ClampSpeed(speed, floor float64) float64 {
	if floor <= 0 || math.IsNaN(floor) {
		floor = DefaultMinSpeed
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < floor {
		return floor
	}
	return speed
}

// TimeTracker maps logical time onto the wall clock.
//
// While running, the logical position is
//
//	anchorLogical + (now - anchorWall) * speed
//
// and a record at logical time t is due at
//
//	anchorWall + (t - anchorLogical) / speed
//
// Every change of speed, pause or resume re-anchors at the current
// position, so elapsed wall time is never rescaled retroactively.
type TimeTracker struct {
	clock clock.Clock

	anchorWall    time.Time
	anchorLogical uint64
	speed         float64
	minSpeed      float64
	paused        bool

	notifyInterval uint64
	lastNotified   uint64
	notified       bool
}

// NewTimeTracker anchors logical time start at wall time now.
func NewTimeTracker(clk clock.Clock, now time.Time, start uint64, speed, minSpeed float64, notifyInterval time.Duration) *TimeTracker {
	if clk == nil {
		clk = clock.New()
	}
	if notifyInterval < 0 {
		notifyInterval = 0
	}
	return &TimeTracker{
		clock:          clk,
		anchorWall:     now,
		anchorLogical:  start,
		speed:          ClampSpeed(speed, minSpeed),
		minSpeed:       minSpeed,
		notifyInterval: uint64(notifyInterval),
	}
}

// Speed returns the current multiplier.
func (t *TimeTracker) Speed() float64 { return t.speed }

// Paused reports whether the tracker is frozen.
func (t *TimeTracker) Paused() bool { return t.paused }

// Position returns the logical time corresponding to now.
func (t *TimeTracker) Position() uint64 {
	return t.positionAt(t.clock.Now())
}

func (t *TimeTracker) positionAt(now time.Time) uint64 {
	if t.paused {
		return t.anchorLogical
	}
	elapsed := now.Sub(t.anchorWall)
	if elapsed <= 0 {
		return t.anchorLogical
	}
	adv := float64(elapsed) * t.speed
	if adv >= float64(math.MaxUint64-t.anchorLogical) {
		return math.MaxUint64
	}
	return t.anchorLogical + uint64(adv)
}

// WakeupFor returns the wall time at which logical time should be emitted.
// Times at or before the anchor are due at the anchor.
func (t *TimeTracker) WakeupFor(logical uint64) time.Time {
	if logical <= t.anchorLogical {
		return t.anchorWall
	}
	// Subtract in integers first so large absolute timestamps keep full precision.
	d := float64(logical-t.anchorLogical) / t.speed
	if d >= float64(maxWait) {
		return t.anchorWall.Add(maxWait)
	}
	return t.anchorWall.Add(time.Duration(d))
}

// SetSpeed changes the multiplier, re-anchoring at the current position.
func (t *TimeTracker) SetSpeed(speed float64) {
	speed = ClampSpeed(speed, t.minSpeed)
	if !t.paused {
		now := t.clock.Now()
		t.anchorLogical = t.positionAt(now)
		t.anchorWall = now
	}
	t.speed = speed
}

// Pause freezes the logical position.
func (t *TimeTracker) Pause() {
	if t.paused {
		return
	}
	t.anchorLogical = t.Position()
	t.paused = true
}

// Resume restarts the clock from the frozen position.
func (t *TimeTracker) Resume() {
	if !t.paused {
		return
	}
	t.anchorWall = t.clock.Now()
	t.paused = false
}

// MarkNotified records logical as already broadcast, so the next Notify
// at the same position stays quiet.
func (t *TimeTracker) MarkNotified(logical uint64) {
	t.lastNotified = logical
	t.notified = true
}

// Notify decides whether logical should be broadcast. The first call on a
// fresh tracker always broadcasts; later calls broadcast once the position
// has moved at least the notify interval, or has moved backwards.
func (t *TimeTracker) Notify(logical uint64) (uint64, bool) {
	if t.notified && logical >= t.lastNotified && logical-t.lastNotified < t.notifyInterval {
		return 0, false
	}
	t.lastNotified = logical
	t.notified = true
	return logical, true
}
