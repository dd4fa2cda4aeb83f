// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// Kind names a Source variant.
type Kind string

const (
	KindGenerator    Kind = "generator"
	KindLogReader    Kind = "log"
	KindCustomLoader Kind = "custom"
)

// Source is a replayable backing store. The variant set is closed:
// *Generator, *LogReader and *CustomLoader.
type Source interface {
	Kind() Kind

	// TimeRange returns the inclusive bounds, fixed for the source's lifetime.
	TimeRange() (start, end uint64)

	SetSpeed(speed float64)
	Play()
	Pause()

	// Seek clamps t into the time range and repositions at the record at or
	// immediately preceding it. It returns false only for an empty source.
	// The caller broadcasts the seeked time; playback does not repeat it.
	Seek(t uint64) bool

	Status() Status
	CurrentTime() uint64
	Speed() float64

	// AdvanceOrWait performs at most one unit of playback work.
	AdvanceOrWait(now time.Time, out Emitter) Step

	Close() error

	sealed()
}

// ChannelMap resolves recorded topics to registered channels.
type ChannelMap map[string]registry.ChannelID

// Options tunes a Source.
type Options struct {
	Clock          clock.Clock
	MinSpeed       float64
	NotifyInterval time.Duration

	// MaxFaultsPerStep bounds how many unreadable records one
	// AdvanceOrWait call skips before yielding.
	MaxFaultsPerStep int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.MinSpeed <= 0 {
		o.MinSpeed = DefaultMinSpeed
	}
	if o.NotifyInterval <= 0 {
		o.NotifyInterval = DefaultNotifyInterval
	}
	if o.MaxFaultsPerStep <= 0 {
		o.MaxFaultsPerStep = 64
	}
	return o
}

// BindChannels registers every channel the log declares and returns the
// topic mapping. Call it once per log; sources created from the same log
// share the result.
func BindChannels(reg *registry.Registry, log backlog.Log) (ChannelMap, error) {
	infos, err := log.Channels()
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make(ChannelMap, len(infos))
	for _, info := range infos {
		if _, dup := out[info.Topic]; dup {
			continue
		}
		var schemaID registry.SchemaID
		if info.SchemaName != "" {
			schemaID, err = reg.RegisterSchema(registry.Schema{
				Name:     info.SchemaName,
				Encoding: info.SchemaEncoding,
				Data:     info.Schema,
			})
			if err != nil {
				return nil, fmt.Errorf("register schema for %s: %w", info.Topic, err)
			}
		}
		id, err := reg.RegisterChannel(registry.Channel{
			Topic:    info.Topic,
			Encoding: info.Encoding,
			SchemaID: schemaID,
		})
		if err != nil {
			return nil, fmt.Errorf("register channel %s: %w", info.Topic, err)
		}
		out[info.Topic] = id
	}
	return out, nil
}

// engine is the state machine shared by every Source variant.
type engine struct {
	kind     Kind
	log      backlog.Log
	channels ChannelMap
	opts     Options
	logger   zerolog.Logger

	start, end uint64
	empty      bool

	status  Status
	current uint64
	speed   float64
	tracker *TimeTracker

	cursor   backlog.Cursor
	resumeAt uint64
	pending  *backlog.Record

	// seekAnnounced is set when the seeked position has already been
	// broadcast by whoever requested the seek.
	seekAnnounced bool
}

func newEngine(kind Kind, log backlog.Log, channels ChannelMap, opts Options) (*engine, error) {
	opts = opts.withDefaults()
	e := &engine{
		kind:     kind,
		log:      log,
		channels: channels,
		opts:     opts,
		logger:   logging.WithComponent("playback").With().Str("source", string(kind)).Logger(),
		status:   StatusPaused,
		speed:    1.0,
	}

	start, end, err := log.Bounds()
	switch {
	case errors.Is(err, backlog.ErrEmpty):
		e.empty = true
	case err != nil:
		return nil, fmt.Errorf("read %s bounds: %w", kind, err)
	default:
		e.start, e.end = start, end
	}
	e.current = e.start
	e.resumeAt = e.start
	return e, nil
}

func (e *engine) sealed() {}

func (e *engine) Kind() Kind { return e.kind }

func (e *engine) TimeRange() (uint64, uint64) { return e.start, e.end }

func (e *engine) Status() Status { return e.status }

func (e *engine) CurrentTime() uint64 { return e.current }

func (e *engine) Speed() float64 { return e.speed }

func (e *engine) SetSpeed(speed float64) {
	e.speed = ClampSpeed(speed, e.opts.MinSpeed)
	if e.tracker != nil {
		e.tracker.SetSpeed(e.speed)
	}
}

// Play has no effect once playback has ended; a Seek must come first.
func (e *engine) Play() {
	if e.status != StatusPaused {
		return
	}
	e.status = StatusPlaying
	if e.tracker != nil {
		e.tracker.Resume()
	}
}

func (e *engine) Pause() {
	if e.status != StatusPlaying {
		return
	}
	e.status = StatusPaused
	if e.tracker != nil {
		e.tracker.Pause()
	}
}

func (e *engine) Seek(t uint64) bool {
	if e.status == StatusEnded {
		e.status = StatusPaused
	}
	e.closeCursor()
	e.pending = nil
	e.tracker = nil
	e.seekAnnounced = false

	if e.empty {
		e.current = e.start
		e.resumeAt = e.start
		return false
	}

	target := clamp(t, e.start, e.end)
	e.current = target
	e.resumeAt = e.start

	floor, ok, err := e.log.Floor(target)
	switch {
	case err != nil:
		// The cursor reopens lazily; falling back to the target itself
		// still lands on the first record at or after it.
		e.logger.Warn().Err(err).Uint64("target", target).Msg("floor lookup failed, resuming at target")
		metrics.RecordBackingStoreFault(string(e.kind))
		e.resumeAt = target
	case ok:
		e.resumeAt = floor
	}
	e.seekAnnounced = true
	return true
}

func (e *engine) AdvanceOrWait(now time.Time, out Emitter) Step {
	if e.status != StatusPlaying {
		return Step{Kind: StepIdle}
	}

	rec, state := e.peek()
	// Records appended after the bounds were read lie outside the range.
	if state == peekReady && rec.LogTime > e.end {
		state = peekEOF
	}
	switch state {
	case peekFaulted:
		return Step{Kind: StepContinue}
	case peekEOF:
		e.closeCursor()
		e.pending = nil
		e.status = StatusEnded
		e.current = e.end
		e.tracker = nil
		return Step{Kind: StepEnded}
	}

	if e.tracker == nil {
		e.tracker = NewTimeTracker(e.opts.Clock, now, e.current, e.speed, e.opts.MinSpeed, e.opts.NotifyInterval)
		if e.seekAnnounced {
			e.tracker.MarkNotified(e.current)
			e.seekAnnounced = false
		}
	}

	deadline := e.tracker.WakeupFor(rec.LogTime)
	if now.Before(deadline) {
		return Step{Kind: StepWait, Wait: deadline.Sub(now)}
	}

	// Commit. The time broadcast precedes the data so clients render the
	// record at the position it belongs to.
	if rec.LogTime > e.current {
		e.current = rec.LogTime
	}
	if t, ok := e.tracker.Notify(e.current); ok {
		out.EmitTime(t)
	}
	if ch, ok := e.channels[rec.Topic]; ok {
		out.EmitMessage(ch, rec.LogTime, rec.Payload)
	} else {
		e.logger.Debug().Str("topic", rec.Topic).Msg("record on unbound topic dropped")
	}
	e.pending = nil
	metrics.RecordRecordEmitted(string(e.kind), now.Sub(deadline))
	return Step{Kind: StepContinue}
}

type peekState uint8

const (
	peekReady peekState = iota
	peekEOF
	peekFaulted
)

// peek returns the next record without consuming it, skipping unreadable
// records up to the per-step fault budget.
func (e *engine) peek() (backlog.Record, peekState) {
	if e.pending != nil {
		return *e.pending, peekReady
	}
	if e.cursor == nil {
		c, err := e.log.Cursor(e.resumeAt)
		if err != nil {
			e.logger.Warn().Err(err).Uint64("from", e.resumeAt).Msg("cursor open failed")
			metrics.RecordBackingStoreFault(string(e.kind))
			return backlog.Record{}, peekFaulted
		}
		e.cursor = c
	}

	for faults := 0; faults < e.opts.MaxFaultsPerStep; faults++ {
		rec, err := e.cursor.Next()
		if err == nil {
			e.pending = &rec
			return rec, peekReady
		}
		if !backlog.IsFault(err) {
			return backlog.Record{}, peekEOF
		}
		e.logger.Warn().Err(err).Msg("skipping unreadable record")
		metrics.RecordBackingStoreFault(string(e.kind))
	}
	return backlog.Record{}, peekFaulted
}

func (e *engine) closeCursor() {
	if e.cursor == nil {
		return
	}
	if err := e.cursor.Close(); err != nil {
		e.logger.Debug().Err(err).Msg("cursor close failed")
	}
	e.cursor = nil
}

func (e *engine) Close() error {
	e.closeCursor()
	return nil
}

func clamp(t, lo, hi uint64) uint64 {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}
