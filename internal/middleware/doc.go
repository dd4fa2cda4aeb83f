// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package middleware holds HTTP middleware shared by the API routes.
//
// PrometheusMetrics labels requests with chi's matched route pattern, so
// /api/v1/channels and similar routes stay low-cardinality. It wraps the
// ResponseWriter without Hijacker support and must not be mounted on the
// WebSocket route.
package middleware
