// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/chronoscope/internal/metrics"
)

// Controller owns one Source and serializes every access to it. Control
// requests and driving-loop ticks take the same mutex; frames are handed
// to the Emitter while it is held, which keeps per-session frame order
// identical to commit order.
type Controller struct {
	mu     sync.Mutex
	source Source
	out    Emitter
	clock  clock.Clock

	// wake preempts an in-progress pacing sleep after a state change.
	wake chan struct{}

	// metricsLabel is non-empty for the controller whose state is exported.
	metricsLabel string
	closed       bool
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock sets the clock used to timestamp ticks.
func WithClock(clk clock.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clk }
}

// WithMetrics exports this controller's status under label.
func WithMetrics(label string) ControllerOption {
	return func(c *Controller) { c.metricsLabel = label }
}

// NewController binds src to out.
func NewController(src Source, out Emitter, opts ...ControllerOption) *Controller {
	c := &Controller{
		source: src,
		out:    out,
		clock:  clock.New(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the source variant.
func (c *Controller) Kind() Kind { return c.source.Kind() }

// TimeRange returns the source bounds.
func (c *Controller) TimeRange() (start, end uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source.TimeRange()
}

// Wake returns the channel signalled after every state change.
func (c *Controller) Wake() <-chan struct{} { return c.wake }

// HandleControlRequest applies a seek (if any), then the speed, then the
// play/pause command. The resulting state is broadcast through the Emitter
// and returned with DidSeek and RequestID taken from this request.
func (c *Controller) HandleControlRequest(req ControlRequest) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	didSeek := req.SeekTime != nil
	if didSeek {
		c.source.Seek(*req.SeekTime)
	}
	c.source.SetSpeed(req.Speed)
	switch req.Command {
	case CommandPlay:
		c.source.Play()
	case CommandPause:
		c.source.Pause()
	}

	st := c.snapshotLocked()
	st.DidSeek = didSeek
	st.RequestID = req.RequestID

	if !c.closed {
		if didSeek {
			c.out.EmitTime(st.CurrentTime)
		}
		c.out.EmitPlaybackState(st)
	}
	c.exportLocked()
	c.signal()

	metrics.RecordControlRequest(req.Command.String(), didSeek)
	return st
}

// Snapshot returns the current state without a request id.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Tick performs one AdvanceOrWait. A cancelled ctx or closed controller
// yields StepIdle without touching the source, so nothing is emitted
// after the owning session has gone.
func (c *Controller) Tick(ctx context.Context) Step {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ctx.Err() != nil {
		return Step{Kind: StepIdle}
	}

	step := c.source.AdvanceOrWait(c.clock.Now(), c.out)
	switch step.Kind {
	case StepEnded:
		st := c.snapshotLocked()
		c.out.EmitTime(st.CurrentTime)
		c.out.EmitPlaybackState(st)
		c.exportLocked()
	case StepContinue:
		c.exportLocked()
	}
	return step
}

// Close stops emission and releases the source.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.signal()
	return c.source.Close()
}

func (c *Controller) snapshotLocked() State {
	return State{
		Status:      c.source.Status(),
		CurrentTime: c.source.CurrentTime(),
		Speed:       c.source.Speed(),
	}
}

func (c *Controller) exportLocked() {
	if c.metricsLabel == "" {
		return
	}
	metrics.UpdatePlaybackState(c.metricsLabel, int(statusGauge(c.source.Status())), c.source.CurrentTime())
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func statusGauge(s Status) uint8 {
	switch s {
	case StatusPlaying:
		return 1
	case StatusEnded:
		return 2
	default:
		return 0
	}
}
