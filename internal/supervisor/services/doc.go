// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package services adapts server components to suture.Service.

	HubService            websocket.Hub.RunWithContext
	PlaybackLoopService   playback.Loop.Run; early exit is a failure
	EmbeddedNATSService   health watch and shutdown of ingest.EmbeddedServer
	HTTPServerService     listen, Serve, graceful Shutdown

ingest.Bridge implements suture.Service itself and is added directly.

Each wrapper returns ctx.Err() on a normal stop and a wrapped error when the
component fails, so the supervisor can tell the two apart. Wrappers take
small interfaces rather than concrete types to keep this package free of
imports from the components it supervises.
*/
package services
