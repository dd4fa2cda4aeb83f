// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/benbjohnson/clock"

	"github.com/tomtom215/chronoscope/internal/api"
	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/ingest"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/recorder"
	"github.com/tomtom215/chronoscope/internal/registry"
	"github.com/tomtom215/chronoscope/internal/supervisor"
	"github.com/tomtom215/chronoscope/internal/supervisor/services"
	ws "github.com/tomtom215/chronoscope/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("playback_mode", cfg.Playback.Mode).
		Str("playback_source", cfg.Playback.Source).
		Bool("nats", cfg.NATS.Enabled).
		Bool("recorder", cfg.Recorder.Enabled).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("Starting Chronoscope")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential setup steps
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	store := params.NewStore(cfg.Params.ReadOnlyPrefix)
	if err := store.Seed(cfg.Params.Seed); err != nil {
		return fmt.Errorf("seed parameters: %w", err)
	}

	caps, err := advertisedCapabilities(cfg)
	if err != nil {
		return err
	}

	stores := newBadgerStores()
	defer stores.Close()

	var listeners ws.Listeners
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		log, err := stores.Open(cfg.Recorder.Path, cfg.Recorder.Compression)
		if err != nil {
			return fmt.Errorf("open recorder store: %w", err)
		}
		rec = recorder.New(log, recorder.Config{
			Name:             "recorder",
			FailureThreshold: cfg.Recorder.FailureThreshold,
			OpenTimeout:      cfg.Recorder.OpenTimeout,
		})
		listeners = append(listeners, recorder.NewClientPublishListener(rec, clock.New()))
		logging.Info().Str("path", cfg.Recorder.Path).Msg("Recorder enabled")
	}

	dir, err := openAssets(cfg.Assets)
	if err != nil {
		return fmt.Errorf("open assets: %w", err)
	}
	var fetcher ws.AssetFetcher
	if dir != nil {
		defer func() { _ = dir.Close() }()
		fetcher = dir
	}

	hub := ws.NewHub(ws.Options{
		Name:               cfg.Server.Name,
		Capabilities:       caps,
		SupportedEncodings: cfg.Server.SupportedEncodings,
		Metadata:           cfg.Server.Metadata,
		SendBuffer:         cfg.WebSocket.SendBuffer,
		WriteWait:          cfg.WebSocket.WriteWait,
		PongWait:           cfg.WebSocket.PongWait,
		MaxMessageSize:     cfg.WebSocket.MaxMessageSize,
		PublishRate:        cfg.Security.PublishRate,
		PublishBurst:       cfg.Security.PublishBurst,
		Assets:             fetcher,
	}, reg, store, listeners)
	if _, err := hub.AddServices(builtinServices(hub, reg)...); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	tree.AddMessagingService(services.NewHubService(hub))

	shared, err := wirePlayback(ctx, cfg, hub, reg, stores, tree)
	if err != nil {
		return err
	}
	if shared != nil {
		defer func() {
			if err := shared.Close(); err != nil {
				logging.Warn().Err(err).Msg("Error closing shared playback")
			}
		}()
	}

	if cfg.NATS.Enabled {
		if err := wireIngest(cfg, hub, reg, rec, tree); err != nil {
			return err
		}
	}

	grantor, err := auth.NewGrantor(cfg.Security)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Hub:            hub,
		Registry:       reg,
		Params:         store,
		Grantor:        grantor,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		PlaybackMode:   cfg.Playback.Mode,
		Security:       cfg.Security,
	})
	server := &http.Server{
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Addr(), cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", cfg.Server.Addr()).Str("capabilities", caps.String()).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	return nil
}

// wireIngest connects the NATS subscriber to the hub, starting an embedded
// server first when configured.
func wireIngest(cfg *config.Config, hub *ws.Hub, reg *registry.Registry, rec *recorder.Recorder, tree *supervisor.Tree) error {
	natsCfg := cfg.NATS
	if natsCfg.EmbeddedServer {
		srv, err := ingest.StartEmbeddedServer(natsCfg)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		natsCfg.URL = srv.ClientURL()
		tree.AddSourceService(services.NewEmbeddedNATSService(srv, cfg.Supervisor.ShutdownTimeout))
	}

	sub, err := ingest.NewNATSSubscriber(natsCfg, watermill.NewSlogLogger(logging.NewSlogLogger()))
	if err != nil {
		return err
	}

	var opts []ingest.Option
	if rec != nil {
		opts = append(opts, ingest.WithRecorder(rec))
	}
	// Without playback nothing else drives the clients' clock.
	if cfg.Playback.Mode == config.PlaybackModeDisabled {
		opts = append(opts, ingest.WithTimeBroadcast())
	}
	tree.AddMessagingService(ingest.NewBridge(sub, natsCfg.Subject, reg, hub, opts...))
	logging.Info().Str("url", natsCfg.URL).Str("subject", natsCfg.Subject).Msg("Live ingest enabled")
	return nil
}
