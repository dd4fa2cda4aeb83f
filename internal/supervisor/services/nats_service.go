// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package services

import (
	"context"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/chronoscope/internal/logging"
)

// EmbeddedServer is satisfied by *ingest.EmbeddedServer.
type EmbeddedServer interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// EmbeddedNATSService owns the shutdown of an already started embedded NATS
// server. The server is started before the tree so the ingest subscriber
// can connect during construction.
type EmbeddedNATSService struct {
	server          EmbeddedServer
	shutdownTimeout time.Duration
	pollInterval    time.Duration
	name            string
}

// NewEmbeddedNATSService wraps server. A non-positive timeout selects 10s.
func NewEmbeddedNATSService(server EmbeddedServer, shutdownTimeout time.Duration) *EmbeddedNATSService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedNATSService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		pollInterval:    time.Second,
		name:            "nats-server",
	}
}

// Serve implements suture.Service. It watches server health until ctx
// ends, then shuts the server down with a fresh context.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				logging.Warn().Err(err).Msg("embedded NATS shutdown incomplete")
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.server.IsRunning() {
				// The server was started outside the tree and cannot be
				// restarted here; the ingest bridge keeps reconnecting.
				logging.Error().Str("service", s.name).Msg("embedded NATS server stopped")
				return suture.ErrDoNotRestart
			}
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (s *EmbeddedNATSService) String() string { return s.name }
