// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package recorder

import (
	"github.com/benbjohnson/clock"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/websocket"
)

// ClientPublishListener records messages clients publish, stamped with
// the wall-clock time they arrived.
type ClientPublishListener struct {
	websocket.NopListener
	recorder *Recorder
	clock    clock.Clock
}

// NewClientPublishListener returns a websocket.Listener feeding r.
func NewClientPublishListener(r *Recorder, clk clock.Clock) *ClientPublishListener {
	if clk == nil {
		clk = clock.New()
	}
	return &ClientPublishListener{recorder: r, clock: clk}
}

// OnMessageData implements websocket.Listener.
func (l *ClientPublishListener) OnMessageData(_ string, ch protocol.ClientChannel, payload []byte) {
	// The hub rejects advertisements whose schema does not decode.
	schema, _ := protocol.DecodeSchemaData(ch.SchemaEncoding, ch.Schema)
	info := backlog.ChannelInfo{
		Topic:          ch.Topic,
		Encoding:       ch.Encoding,
		SchemaName:     ch.SchemaName,
		SchemaEncoding: ch.SchemaEncoding,
		Schema:         schema,
	}
	// Failures are logged and counted by the recorder.
	_ = l.recorder.Record(info, backlog.Record{
		LogTime: uint64(l.clock.Now().UnixNano()),
		Topic:   ch.Topic,
		Payload: payload,
	})
}
