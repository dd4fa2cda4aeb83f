// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/tomtom215/chronoscope/internal/api/docs" // registers the OpenAPI document
	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/middleware"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/registry"
	ws "github.com/tomtom215/chronoscope/internal/websocket"
)

// Subprotocol is the WebSocket subprotocol the server speaks.
const Subprotocol = "chronoscope.v1"

// Deps are the components the router serves.
type Deps struct {
	Hub      *ws.Hub
	Registry *registry.Registry
	Params   *params.Store
	Grantor  auth.Grantor

	// AllowedOrigins lists browser origins accepted on /ws; "*" accepts any.
	AllowedOrigins []string
	PlaybackMode   string
	Security       config.SecurityConfig
}

// Router holds the HTTP handlers.
type Router struct {
	deps          Deps
	upgrader      websocket.Upgrader
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil Grantor accepts every request.
func NewRouter(deps Deps) *Router {
	if deps.Grantor == nil {
		deps.Grantor = auth.AllowAll{}
	}
	router := &Router{
		deps:          deps,
		chiMiddleware: NewChiMiddleware(NewChiMiddlewareConfig(deps.Security)),
	}
	router.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		Subprotocols:     []string{Subprotocol},
		CheckOrigin:      router.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return router
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.With(middleware.PrometheusMetrics).Get("/healthz", router.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	// Upgrades are rate limited so a reconnect storm cannot exhaust the hub.
	r.With(router.chiMiddleware.RateLimit()).Get("/ws", router.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.CORS())
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Get("/channels", router.Channels)
		r.Get("/playback", router.Playback)
		r.Get("/parameters", router.Parameters)
	})

	return r
}
