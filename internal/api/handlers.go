// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

// HealthStatus is the /healthz payload.
type HealthStatus struct {
	Status       string                 `json:"status"`
	Sessions     int                    `json:"sessions"`
	Channels     int                    `json:"channels"`
	PlaybackMode string                 `json:"playback_mode"`
	Capabilities protocol.CapabilitySet `json:"capabilities"`
}

// PlaybackStatus is the /api/v1/playback payload.
type PlaybackStatus struct {
	Source    playback.Kind  `json:"source"`
	State     playback.State `json:"state"`
	StartTime uint64         `json:"start_time"`
	EndTime   uint64         `json:"end_time"`
}

// Health reports liveness.
// @Summary Health check
// @Description Reports session and channel counts, the playback mode and the advertised capabilities
// @Tags Core
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus}
// @Router /healthz [get]
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, HealthStatus{
		Status:       "healthy",
		Sessions:     router.deps.Hub.GetClientCount(),
		Channels:     len(router.deps.Registry.Channels()),
		PlaybackMode: router.deps.PlaybackMode,
		Capabilities: router.deps.Hub.Capabilities(),
	})
}

// Channels lists the advertised channels in the same shape clients receive.
// @Summary List channels
// @Description Returns every registered channel with its schema, as advertised to WebSocket clients
// @Tags Channels
// @Produce json
// @Success 200 {object} APIResponse{data=[]protocol.Channel}
// @Failure 429 {object} APIResponse
// @Router /api/v1/channels [get]
func (router *Router) Channels(w http.ResponseWriter, r *http.Request) {
	channels := router.deps.Registry.Channels()
	out := make([]protocol.Channel, 0, len(channels))
	for _, ch := range channels {
		schema, _ := router.deps.Registry.Schema(ch.SchemaID) // zero schema when unset
		out = append(out, protocol.ChannelFromRegistry(ch, schema))
	}
	respondData(w, r, out)
}

// Playback reports the shared playback state.
// @Summary Shared playback state
// @Description Returns the shared controller's source, state and time range
// @Tags Playback
// @Produce json
// @Success 200 {object} APIResponse{data=PlaybackStatus}
// @Failure 404 {object} APIResponse "No shared playback is running"
// @Router /api/v1/playback [get]
func (router *Router) Playback(w http.ResponseWriter, r *http.Request) {
	ctrl := router.deps.Hub.SharedPlayback()
	if ctrl == nil {
		respondError(w, http.StatusNotFound, "PLAYBACK_UNAVAILABLE", "No shared playback is running", nil)
		return
	}
	start, end := ctrl.TimeRange()
	respondData(w, r, PlaybackStatus{
		Source:    ctrl.Kind(),
		State:     ctrl.Snapshot(),
		StartTime: start,
		EndTime:   end,
	})
}

// Parameters returns every parameter.
// @Summary List parameters
// @Description Returns every parameter in the shared store
// @Tags Parameters
// @Produce json
// @Success 200 {object} APIResponse{data=[]params.Parameter}
// @Router /api/v1/parameters [get]
func (router *Router) Parameters(w http.ResponseWriter, r *http.Request) {
	var values []params.Parameter
	if router.deps.Params != nil {
		values = router.deps.Params.Get(nil)
	}
	respondData(w, r, values)
}

// WebSocket authenticates and upgrades a client connection.
func (router *Router) WebSocket(w http.ResponseWriter, r *http.Request) {
	identity, granted, err := router.deps.Grantor.Grant(r, router.deps.Hub.Capabilities())
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			logging.Warn().Str("remote", sanitizeLogValue(r.RemoteAddr)).Err(err).Msg("WebSocket connection rejected")
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "AUTH_ERROR", "Authorization failed", err)
		return
	}

	conn, err := router.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	if _, err := router.deps.Hub.Accept(r.Context(), conn, identity, granted); err != nil {
		logging.Warn().Err(err).Msg("hub did not accept the connection")
		_ = conn.Close()
	}
}

// checkWebSocketOrigin validates browser origins. Requests without an
// Origin header come from non-browser clients and are allowed; they still
// pass through the grantor.
func (router *Router) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range router.deps.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
