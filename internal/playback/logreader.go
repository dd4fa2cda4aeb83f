// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import "github.com/tomtom215/chronoscope/internal/backlog"

// LogReader replays a durable backlog.Log. Several readers may share one
// log; each keeps its own cursor.
type LogReader struct {
	*engine
}

// NewLogReader creates a reader positioned at the start of log.
func NewLogReader(log backlog.Log, channels ChannelMap, opts Options) (*LogReader, error) {
	e, err := newEngine(KindLogReader, log, channels, opts)
	if err != nil {
		return nil, err
	}
	return &LogReader{engine: e}, nil
}
