// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package api serves Chronoscope over HTTP using the Chi router.

Routes:

	GET /ws                  WebSocket upgrade (subprotocol chronoscope.v1)
	GET /healthz             liveness and session count
	GET /metrics             Prometheus metrics
	GET /api/v1/channels     advertised channels
	GET /api/v1/playback     shared playback state
	GET /api/v1/parameters   parameter snapshot (read-only)

The upgrade handler authenticates the request through an auth.Grantor
before upgrading; a rejected token gets 401 and never reaches the hub.
The REST group is CORS-enabled and rate limited with httprate.
*/
package api
