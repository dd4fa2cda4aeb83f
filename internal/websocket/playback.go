// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// SourceFactory opens a fresh playback source for one session.
type SourceFactory func(ctx context.Context) (playback.Source, error)

// playbackBinding selects where control requests go: a shared controller
// owned by the server, or one controller per session built by factory.
type playbackBinding struct {
	mu       sync.RWMutex
	shared   *playback.Controller
	factory  SourceFactory
	clock    clock.Clock
	maxSleep time.Duration
	idlePoll time.Duration
}

// Emitter returns a playback.Emitter that broadcasts to every eligible
// session. It is what a shared controller should be built with.
func (h *Hub) Emitter() playback.Emitter { return broadcastEmitter{hub: h} }

// SetSharedPlayback routes every session's control requests to ctrl. The
// caller owns ctrl and drives its loop.
func (h *Hub) SetSharedPlayback(ctrl *playback.Controller) {
	h.playback.mu.Lock()
	defer h.playback.mu.Unlock()
	h.playback.shared = ctrl
}

// EnableSessionPlayback gives every session that connects afterwards its
// own controller and driving loop, built from factory and cancelled when
// the session ends.
func (h *Hub) EnableSessionPlayback(factory SourceFactory, clk clock.Clock, maxSleep, idlePoll time.Duration) {
	if clk == nil {
		clk = clock.New()
	}
	h.playback.mu.Lock()
	defer h.playback.mu.Unlock()
	h.playback.factory = factory
	h.playback.clock = clk
	h.playback.maxSleep = maxSleep
	h.playback.idlePoll = idlePoll
}

// SharedPlayback returns the shared controller, or nil.
func (h *Hub) SharedPlayback() *playback.Controller {
	h.playback.mu.RLock()
	defer h.playback.mu.RUnlock()
	return h.playback.shared
}

// controllerFor returns the controller that serves c, or nil.
func (h *Hub) controllerFor(c *Client) *playback.Controller {
	if ctrl := c.controller(); ctrl != nil {
		return ctrl
	}
	return h.SharedPlayback()
}

// PlaybackState returns the state of the controller serving sessionID.
func (h *Hub) PlaybackState(sessionID string) (playback.State, bool) {
	for _, c := range h.Sessions() {
		if c.sessionID != sessionID {
			continue
		}
		if ctrl := h.controllerFor(c); ctrl != nil {
			return ctrl.Snapshot(), true
		}
		return playback.State{}, false
	}
	return playback.State{}, false
}

func (h *Hub) playbackRange(c *Client) (start, end uint64, ok bool) {
	ctrl := h.controllerFor(c)
	if ctrl == nil {
		return 0, 0, false
	}
	start, end = ctrl.TimeRange()
	return start, end, true
}

// attachPlayback builds c's own controller in session mode.
func (h *Hub) attachPlayback(c *Client) error {
	h.playback.mu.RLock()
	factory := h.playback.factory
	clk := h.playback.clock
	h.playback.mu.RUnlock()
	if factory == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	src, err := factory(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open playback source: %w", err)
	}
	c.playback = &sessionPlayback{
		ctrl:   playback.NewController(src, sessionEmitter{hub: h, client: c}, playback.WithClock(clk)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return nil
}

// greetPlayback tells a new session where playback stands.
func (h *Hub) greetPlayback(c *Client) {
	ctrl := h.controllerFor(c)
	if ctrl == nil {
		return
	}
	st := ctrl.Snapshot()
	if c.caps.Has(protocol.CapTime) {
		h.sendTo(c, timeFrame(st.CurrentTime))
	}
	if c.caps.Has(protocol.CapRangedPlayback) {
		h.sendTo(c, stateFrame(st))
	}
}

// startSessionLoop drives c's own controller until the session ends.
func (h *Hub) startSessionLoop(c *Client) {
	sp := c.playback
	if sp == nil {
		return
	}
	h.playback.mu.RLock()
	loop := playback.NewLoop(sp.ctrl, h.playback.clock, h.playback.maxSleep, h.playback.idlePoll)
	h.playback.mu.RUnlock()

	go func() {
		defer close(sp.done)
		if err := loop.Run(sp.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("session playback loop stopped")
		}
		if err := sp.ctrl.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close playback source")
		}
	}()
}

func stateFrame(st playback.State) outbound {
	return outbound{messageType: websocket.BinaryMessage, data: protocol.EncodePlaybackState(st), kind: "playback_state"}
}

// broadcastEmitter sends a shared controller's frames to every session.
type broadcastEmitter struct {
	hub *Hub
}

func (e broadcastEmitter) EmitMessage(ch registry.ChannelID, logTime uint64, payload []byte) {
	e.hub.BroadcastMessage(ch, logTime, payload)
}

func (e broadcastEmitter) EmitTime(t uint64) {
	e.hub.BroadcastTime(t)
}

func (e broadcastEmitter) EmitPlaybackState(st playback.State) {
	e.hub.fanOut(stateFrame(st), hasCap(protocol.CapRangedPlayback))
}

// sessionEmitter sends a session controller's frames to its own session.
type sessionEmitter struct {
	hub    *Hub
	client *Client
}

func (e sessionEmitter) EmitMessage(ch registry.ChannelID, logTime uint64, payload []byte) {
	if e.client.isSubscribed(ch) {
		e.hub.sendTo(e.client, dataFrame(ch, logTime, payload))
	}
}

func (e sessionEmitter) EmitTime(t uint64) {
	if e.client.caps.Has(protocol.CapTime) {
		e.hub.sendTo(e.client, timeFrame(t))
	}
}

func (e sessionEmitter) EmitPlaybackState(st playback.State) {
	if e.client.caps.Has(protocol.CapRangedPlayback) {
		e.hub.sendTo(e.client, stateFrame(st))
	}
}
