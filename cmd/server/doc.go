// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package main is the entry point for the Chronoscope server.

Chronoscope streams telemetry to WebSocket clients. Data comes from a
playback source (synthetic generator, a recorded badger log, or a DuckDB
query) replayed under a pausable, seekable clock, and optionally from live
NATS traffic. Clients negotiate capabilities, subscribe to channels, publish
their own channels, and read and write shared parameters.

# Supervision

	chronoscope
	├── source-layer
	│   ├── playback-loop     (PLAYBACK_MODE=shared)
	│   └── nats-server       (NATS_EMBEDDED=true)
	├── messaging-layer
	│   ├── session-hub
	│   └── ingest-bridge     (NATS_ENABLED=true)
	└── api-layer
	    └── http-server

# Configuration

Settings load from defaults, then config.yaml (or CONFIG_PATH), then the
environment:

	HTTP_PORT=8765
	PLAYBACK_MODE=shared          # shared, session or disabled
	PLAYBACK_SOURCE=generator     # generator, log or sql
	LOG_PATH=/data/recording      # badger directory for PLAYBACK_SOURCE=log
	SQL_DSN=/data/telemetry.duckdb
	SQL_QUERY="SELECT log_time, topic, payload FROM messages"
	NATS_ENABLED=true
	NATS_EMBEDDED=true
	RECORDER_ENABLED=true
	ASSETS_ROOT=/data/assets      # serves fetchAsset; unset withdraws assets
	ASSETS_MAX_SIZE=16777216
	AUTH_MODE=jwt                 # none or jwt
	JWT_SECRET=<32+ chars>
	LOG_LEVEL=info
	LOG_FORMAT=json

When playback is disabled the rangedPlayback capability is withdrawn, and
time is withdrawn too unless live ingest supplies it. Without ASSETS_ROOT the
assets capability is withdrawn.

# Endpoints

	GET /ws                  WebSocket, subprotocol chronoscope.v1
	GET /healthz
	GET /metrics
	GET /api/v1/channels
	GET /api/v1/playback
	GET /api/v1/parameters
	GET /swagger/*           OpenAPI document and UI

SIGINT and SIGTERM stop the supervisor tree, which closes every session and
drains the HTTP server within the shutdown timeout.
*/
package main
