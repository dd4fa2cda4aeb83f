// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/registry"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

const sec = uint64(time.Second)

type frameKind string

const (
	frameMessage frameKind = "message"
	frameTime    frameKind = "time"
	frameState   frameKind = "state"
)

type frame struct {
	kind    frameKind
	channel registry.ChannelID
	time    uint64
	payload string
	state   State
	at      time.Time
}

// recordingEmitter captures frames in emission order.
type recordingEmitter struct {
	mu     sync.Mutex
	clock  clock.Clock
	frames []frame
}

func newRecordingEmitter(clk clock.Clock) *recordingEmitter {
	if clk == nil {
		clk = clock.New()
	}
	return &recordingEmitter{clock: clk}
}

func (r *recordingEmitter) EmitMessage(ch registry.ChannelID, logTime uint64, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{kind: frameMessage, channel: ch, time: logTime, payload: string(payload), at: r.clock.Now()})
}

func (r *recordingEmitter) EmitTime(t uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{kind: frameTime, time: t, at: r.clock.Now()})
}

func (r *recordingEmitter) EmitPlaybackState(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{kind: frameState, state: st, at: r.clock.Now()})
}

func (r *recordingEmitter) of(kind frameKind) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// fourRecords holds records at 0, 1s, 2s and 3s on /data.
func fourRecords() *backlog.Memory {
	recs := make([]backlog.Record, 0, 4)
	for i := uint64(0); i < 4; i++ {
		recs = append(recs, backlog.Record{LogTime: i * sec, Topic: "/data", Payload: []byte{byte('a' + i)}})
	}
	return backlog.NewMemory([]backlog.ChannelInfo{{Topic: "/data", Encoding: "json"}}, recs)
}

func newTestSource(t *testing.T, idx *backlog.Memory, clk clock.Clock) *CustomLoader {
	t.Helper()
	src, err := NewCustomLoader(idx, ChannelMap{"/data": 1}, Options{Clock: clk})
	if err != nil {
		t.Fatalf("NewCustomLoader() error = %v", err)
	}
	return src
}

// drainNow calls AdvanceOrWait until it stops returning StepContinue.
func drainNow(src Source, clk clock.Clock, out Emitter) Step {
	for {
		step := src.AdvanceOrWait(clk.Now(), out)
		if step.Kind != StepContinue {
			return step
		}
	}
}
