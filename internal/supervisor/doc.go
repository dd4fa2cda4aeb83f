// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package supervisor runs the server's long-lived goroutines under suture v4.

Services are grouped into three layers so a failure in one restarts only
that layer:

	chronoscope
	├── source-layer
	│   ├── PlaybackLoopService (shared playback mode)
	│   └── EmbeddedNATSService (nats.embedded_server)
	├── messaging-layer
	│   ├── HubService
	│   └── ingest.Bridge (nats.enabled)
	└── api-layer
	    └── HTTPServerService

Supervision events are logged through sutureslog, backed by the zerolog
slog adapter in internal/logging:

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}

Package services holds the suture.Service adapters.
*/
package supervisor
