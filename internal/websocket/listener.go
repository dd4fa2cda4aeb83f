// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// Listener observes session activity. Methods are called from session
// goroutines without any hub lock held and must not block for long.
type Listener interface {
	OnSubscribe(sessionID string, ch registry.ChannelID)
	OnUnsubscribe(sessionID string, ch registry.ChannelID)
	OnClientAdvertise(sessionID string, ch protocol.ClientChannel)
	OnClientUnadvertise(sessionID string, id protocol.ClientChannelID)
	OnMessageData(sessionID string, ch protocol.ClientChannel, payload []byte)
	OnParametersSet(sessionID string, updated []params.Parameter)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnSubscribe(string, registry.ChannelID) {}
func (NopListener) OnUnsubscribe(string, registry.ChannelID) {}
func (NopListener) OnClientAdvertise(string, protocol.ClientChannel) {}
func (NopListener) OnClientUnadvertise(string, protocol.ClientChannelID) {}
func (NopListener) OnMessageData(string, protocol.ClientChannel, []byte) {}
func (NopListener) OnParametersSet(string, []params.Parameter) {}

// Listeners fans events out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnSubscribe(sessionID string, ch registry.ChannelID) {
	for _, l := range ls {
		l.OnSubscribe(sessionID, ch)
	}
}

func (ls Listeners) OnUnsubscribe(sessionID string, ch registry.ChannelID) {
	for _, l := range ls {
		l.OnUnsubscribe(sessionID, ch)
	}
}

func (ls Listeners) OnClientAdvertise(sessionID string, ch protocol.ClientChannel) {
	for _, l := range ls {
		l.OnClientAdvertise(sessionID, ch)
	}
}

func (ls Listeners) OnClientUnadvertise(sessionID string, id protocol.ClientChannelID) {
	for _, l := range ls {
		l.OnClientUnadvertise(sessionID, id)
	}
}

func (ls Listeners) OnMessageData(sessionID string, ch protocol.ClientChannel, payload []byte) {
	for _, l := range ls {
		l.OnMessageData(sessionID, ch, payload)
	}
}

func (ls Listeners) OnParametersSet(sessionID string, updated []params.Parameter) {
	for _, l := range ls {
		l.OnParametersSet(sessionID, updated)
	}
}
