// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/chronoscope/internal/logging"
)

// Runner is satisfied by *playback.Loop.
type Runner interface {
	Run(ctx context.Context) error
}

// PlaybackLoopService drives the shared playback controller. A loop that
// returns before ctx ends is reported as a failure so suture restarts it.
type PlaybackLoopService struct {
	loop Runner
	name string
}

// NewPlaybackLoopService wraps loop.
func NewPlaybackLoopService(loop Runner) *PlaybackLoopService {
	return &PlaybackLoopService{loop: loop, name: "playback-loop"}
}

// Serve implements suture.Service.
func (s *PlaybackLoopService) Serve(ctx context.Context) error {
	err := s.loop.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("loop exited")
	}
	logging.Warn().Err(err).Str("service", s.name).Msg("playback loop stopped unexpectedly")
	return fmt.Errorf("playback loop: %w", err)
}

// String implements fmt.Stringer for suture logging.
func (s *PlaybackLoopService) String() string { return s.name }
