// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultMaxSleep caps a single pacing sleep.
	DefaultMaxSleep = 20 * time.Millisecond

	// DefaultIdlePoll is how often an idle loop re-checks its controller.
	DefaultIdlePoll = 50 * time.Millisecond
)

// Loop drives one Controller until its context ends.
type Loop struct {
	ctrl     *Controller
	clock    clock.Clock
	maxSleep time.Duration
	idlePoll time.Duration
}

// NewLoop creates a loop. Zero durations select the defaults.
func NewLoop(ctrl *Controller, clk clock.Clock, maxSleep, idlePoll time.Duration) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	if maxSleep <= 0 {
		maxSleep = DefaultMaxSleep
	}
	if idlePoll <= 0 {
		idlePoll = DefaultIdlePoll
	}
	return &Loop{ctrl: ctrl, clock: clk, maxSleep: maxSleep, idlePoll: idlePoll}
}

// Run ticks the controller, sleeping between records in slices of at most
// maxSleep. Control requests signal the controller's wake channel, which
// cuts a sleep short so Pause, Seek and speed changes apply immediately.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step := l.ctrl.Tick(ctx)
		var d time.Duration
		switch step.Kind {
		case StepContinue:
			continue
		case StepWait:
			d = min(step.Wait, l.maxSleep)
		default:
			d = l.idlePoll
		}

		timer := l.clock.Timer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.ctrl.Wake():
			timer.Stop()
		case <-timer.C:
		}
	}
}
