// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package websocket is the server core: it owns client sessions, gates every
request on the session's granted capabilities, and fans channel data, time
and playback state out to the sessions that asked for them.

Architecture:

	          registry ──ChannelAdded──┐
	                                   ▼
	playback.Controller ──Emitter──▶ Hub ──send queue──▶ Client.writePump ──▶ conn
	                                   ▲
	conn ──▶ Client.readPump ──dispatch┘──▶ Listener, params.Store, Controller

Each Client has two goroutines:
  - readPump: decodes frames and dispatches them to the hub
  - writePump: drains the bounded send queue and pings the peer

Fan-out never blocks: frames are enqueued without waiting, and a session
whose queue is full is disconnected. Data frames carry their channel id and
the write pump drops any frame whose channel the session has unsubscribed
from by the time it is written.

Lock order is controller, then hub, then client; the service table sits
before the hub. The hub never calls into a playback.Controller while holding
its own lock.

Service calls and asset fetches run in their own goroutine and answer only
the caller. Connection graph updates are computed by a single goroutine that
is woken after any change to subscriptions, advertisements or services, so
no lock is held while the graph is built.

Playback runs in one of two modes. In shared mode a single server-owned
Controller broadcasts to every session through Hub.Emitter. In session mode
every session gets its own Controller and driving Loop, created from a
SourceFactory on connect and cancelled on disconnect.
*/
package websocket
