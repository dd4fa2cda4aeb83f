// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"

	"github.com/tomtom215/chronoscope/internal/assets"
	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/dataloader"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
	"github.com/tomtom215/chronoscope/internal/supervisor"
	"github.com/tomtom215/chronoscope/internal/supervisor/services"
	ws "github.com/tomtom215/chronoscope/internal/websocket"
)

// advertisedCapabilities parses the configured set and withdraws what the
// playback mode cannot serve.
func advertisedCapabilities(cfg *config.Config) (protocol.CapabilitySet, error) {
	caps, err := protocol.ParseCapabilitySet(cfg.Server.Capabilities)
	if err != nil {
		return 0, fmt.Errorf("server capabilities: %w", err)
	}
	if cfg.Playback.Mode == config.PlaybackModeDisabled {
		caps = caps.Without(protocol.CapRangedPlayback)
		if !cfg.NATS.Enabled {
			caps = caps.Without(protocol.CapTime)
		}
	}
	if cfg.Assets.Root == "" {
		caps = caps.Without(protocol.CapAssets)
	}
	return caps, nil
}

// Built-in service names.
const (
	serviceListChannels     = "/chronoscope/list_channels"
	serviceGetPlaybackState = "/chronoscope/get_playback_state"
)

var errNoPlayback = errors.New("no playback serves this session")

func jsonServiceSchema(name string) *protocol.ServiceMessageSchema {
	return &protocol.ServiceMessageSchema{
		Encoding:       "json",
		SchemaName:     name,
		SchemaEncoding: "jsonschema",
		Schema:         `{"type":"object"}`,
	}
}

// builtinServices returns the services the server itself provides.
func builtinServices(hub *ws.Hub, reg *registry.Registry) []ws.Service {
	return []ws.Service{
		{
			Name:     serviceListChannels,
			Type:     "chronoscope/ListChannels",
			Request:  jsonServiceSchema("chronoscope.ListChannelsRequest"),
			Response: jsonServiceSchema("chronoscope.ListChannelsResponse"),
			Handler: func(_ context.Context, _ ws.ServiceRequest) ([]byte, error) {
				return json.Marshal(struct {
					Channels []registry.Channel `json:"channels"`
				}{Channels: reg.Channels()})
			},
		},
		{
			Name:     serviceGetPlaybackState,
			Type:     "chronoscope/GetPlaybackState",
			Request:  jsonServiceSchema("chronoscope.GetPlaybackStateRequest"),
			Response: jsonServiceSchema("chronoscope.GetPlaybackStateResponse"),
			Handler: func(_ context.Context, req ws.ServiceRequest) ([]byte, error) {
				st, ok := hub.PlaybackState(req.SessionID)
				if !ok {
					return nil, errNoPlayback
				}
				return json.Marshal(struct {
					Status      string  `json:"status"`
					CurrentTime uint64  `json:"currentTime"`
					Speed       float64 `json:"playbackSpeed"`
				}{st.Status.String(), st.CurrentTime, st.Speed})
			},
		},
	}
}

// openAssets returns the configured asset fetcher, or nil when assets are
// disabled.
func openAssets(cfg config.AssetsConfig) (*assets.Dir, error) {
	if cfg.Root == "" {
		return nil, nil
	}
	dir, err := assets.OpenDir(cfg.Root, cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("root", cfg.Root).Int64("max_size", cfg.MaxSize).Msg("Asset fetching enabled")
	return dir, nil
}

// badgerStores opens each badger directory once; the recorder and the log
// source may point at the same path.
type badgerStores struct {
	mu   sync.Mutex
	logs map[string]*backlog.BadgerLog
}

func newBadgerStores() *badgerStores {
	return &badgerStores{logs: make(map[string]*backlog.BadgerLog)}
}

func (s *badgerStores) Open(path string, compression bool) (*backlog.BadgerLog, error) {
	key := filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[key]; ok {
		return log, nil
	}
	log, err := backlog.OpenBadger(backlog.BadgerOptions{Path: key, Compression: compression})
	if err != nil {
		return nil, err
	}
	s.logs[key] = log
	return log, nil
}

func (s *badgerStores) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, log := range s.logs {
		if err := log.Close(); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Error closing badger store")
		}
		delete(s.logs, path)
	}
}

func playbackOptions(cfg config.PlaybackConfig) playback.Options {
	opts := playback.Options{MinSpeed: cfg.MinSpeed}
	if cfg.NotifyHz > 0 {
		opts.NotifyInterval = time.Duration(float64(time.Second) / cfg.NotifyHz)
	}
	return opts
}

// newSourceFactory binds the configured source's channels once and returns
// a factory that builds an independent Source per call.
func newSourceFactory(ctx context.Context, cfg *config.Config, reg *registry.Registry, stores *badgerStores) (ws.SourceFactory, error) {
	opts := playbackOptions(cfg.Playback)

	switch cfg.Playback.Source {
	case config.SourceGenerator:
		log := playback.NewSyntheticLog(playback.GeneratorSpec{
			Topic:     cfg.Generator.Topic,
			Count:     cfg.Generator.Count,
			Interval:  cfg.Generator.Interval,
			StartTime: cfg.Generator.StartTime,
		})
		channels, err := playback.BindChannels(reg, log)
		if err != nil {
			return nil, err
		}
		return func(context.Context) (playback.Source, error) {
			return playback.NewGenerator(log, channels, opts)
		}, nil

	case config.SourceLog:
		log, err := stores.Open(cfg.Log.Path, cfg.Log.Compression)
		if err != nil {
			return nil, fmt.Errorf("open log %s: %w", cfg.Log.Path, err)
		}
		channels, err := playback.BindChannels(reg, log)
		if err != nil {
			return nil, err
		}
		return func(context.Context) (playback.Source, error) {
			return playback.NewLogReader(log, channels, opts)
		}, nil

	case config.SourceSQL:
		index, err := playback.LoadIndex(ctx, dataloader.NewSQLLoader(cfg.SQL))
		if err != nil {
			return nil, err
		}
		channels, err := playback.BindChannels(reg, index)
		if err != nil {
			return nil, err
		}
		return func(context.Context) (playback.Source, error) {
			return playback.NewCustomLoader(index, channels, opts)
		}, nil

	default:
		return nil, fmt.Errorf("unknown playback source %q", cfg.Playback.Source)
	}
}

// wirePlayback installs the configured playback mode on hub. In shared mode
// it returns the controller so the caller can close it after the tree stops.
func wirePlayback(ctx context.Context, cfg *config.Config, hub *ws.Hub, reg *registry.Registry, stores *badgerStores, tree *supervisor.Tree) (*playback.Controller, error) {
	if cfg.Playback.Mode == config.PlaybackModeDisabled {
		logging.Info().Msg("Playback disabled")
		return nil, nil
	}

	factory, err := newSourceFactory(ctx, cfg, reg, stores)
	if err != nil {
		return nil, fmt.Errorf("playback source: %w", err)
	}

	switch cfg.Playback.Mode {
	case config.PlaybackModeShared:
		src, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("playback source: %w", err)
		}
		ctrl := playback.NewController(src, hub.Emitter(), playback.WithMetrics("shared"))
		hub.SetSharedPlayback(ctrl)
		tree.AddSourceService(services.NewPlaybackLoopService(
			playback.NewLoop(ctrl, clock.New(), cfg.Playback.MaxSleep, cfg.Playback.IdlePoll),
		))
		start, end := ctrl.TimeRange()
		logging.Info().
			Str("source", string(ctrl.Kind())).
			Uint64("start", start).
			Uint64("end", end).
			Msg("Shared playback ready")
		return ctrl, nil

	case config.PlaybackModeSession:
		hub.EnableSessionPlayback(factory, clock.New(), cfg.Playback.MaxSleep, cfg.Playback.IdlePoll)
		logging.Info().Str("source", cfg.Playback.Source).Msg("Per-session playback enabled")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown playback mode %q", cfg.Playback.Mode)
	}
}
