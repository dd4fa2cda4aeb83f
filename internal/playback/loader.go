// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"context"
	"fmt"

	"github.com/tomtom215/chronoscope/internal/backlog"
)

// Loader produces a complete data set in one call. Records need not be sorted.
type Loader interface {
	Load(ctx context.Context) ([]backlog.ChannelInfo, []backlog.Record, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]backlog.ChannelInfo, []backlog.Record, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) ([]backlog.ChannelInfo, []backlog.Record, error) {
	return f(ctx)
}

// LoadIndex runs l and builds the sorted index a CustomLoader replays.
func LoadIndex(ctx context.Context, l Loader) (*backlog.Memory, error) {
	channels, records, err := l.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return backlog.NewMemory(channels, records), nil
}

// CustomLoader replays records produced by a Loader.
type CustomLoader struct {
	*engine
}

// NewCustomLoader creates a source over an index built by LoadIndex.
func NewCustomLoader(index *backlog.Memory, channels ChannelMap, opts Options) (*CustomLoader, error) {
	e, err := newEngine(KindCustomLoader, index, channels, opts)
	if err != nil {
		return nil, err
	}
	return &CustomLoader{engine: e}, nil
}
