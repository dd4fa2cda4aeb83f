// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronoscope/internal/backlog"
)

// GeneratorSpec describes a synthetic data set: Count samples on Topic,
// Interval apart, starting at StartTime.
type GeneratorSpec struct {
	Topic     string
	Count     int
	Interval  time.Duration
	StartTime uint64
}

// generatorSchema describes the JSON payload produced by the generator.
const generatorSchema = `{"type":"object","properties":{"index":{"type":"integer"},"value":{"type":"number"}}}`

type sample struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// syntheticLog is a backlog.Log whose records are computed on demand, so
// seeking is O(1) arithmetic instead of a search.
type syntheticLog struct {
	spec GeneratorSpec
}

// NewSyntheticLog returns the log a Generator replays. It is exposed so the
// channel can be bound before sources are created.
func NewSyntheticLog(spec GeneratorSpec) backlog.Log {
	if spec.Interval <= 0 {
		spec.Interval = 100 * time.Millisecond
	}
	if spec.Count < 0 {
		spec.Count = 0
	}
	return &syntheticLog{spec: spec}
}

func (l *syntheticLog) timeAt(i int) uint64 {
	return l.spec.StartTime + uint64(i)*uint64(l.spec.Interval)
}

// indexAtOrBefore returns the index of the last sample at or before t.
func (l *syntheticLog) indexAtOrBefore(t uint64) int {
	if t < l.spec.StartTime {
		return -1
	}
	i := (t - l.spec.StartTime) / uint64(l.spec.Interval)
	if i >= uint64(l.spec.Count) {
		return l.spec.Count - 1
	}
	return int(i)
}

func (l *syntheticLog) Bounds() (uint64, uint64, error) {
	if l.spec.Count == 0 {
		return 0, 0, backlog.ErrEmpty
	}
	return l.timeAt(0), l.timeAt(l.spec.Count - 1), nil
}

func (l *syntheticLog) Channels() ([]backlog.ChannelInfo, error) {
	return []backlog.ChannelInfo{{
		Topic:          l.spec.Topic,
		Encoding:       "json",
		SchemaName:     "chronoscope.Sample",
		SchemaEncoding: "jsonschema",
		Schema:         []byte(generatorSchema),
	}}, nil
}

func (l *syntheticLog) Floor(t uint64) (uint64, bool, error) {
	i := l.indexAtOrBefore(t)
	if i < 0 {
		return 0, false, nil
	}
	return l.timeAt(i), true, nil
}

func (l *syntheticLog) Cursor(from uint64) (backlog.Cursor, error) {
	i := 0
	if from > l.spec.StartTime {
		i = l.indexAtOrBefore(from - 1)
		i++
	}
	return &syntheticCursor{log: l, next: i}, nil
}

type syntheticCursor struct {
	log  *syntheticLog
	next int
}

func (c *syntheticCursor) Next() (backlog.Record, error) {
	if c.next >= c.log.spec.Count {
		return backlog.Record{}, io.EOF
	}
	i := c.next
	c.next++
	payload, err := json.Marshal(sample{Index: i, Value: math.Sin(float64(i) / 10)})
	if err != nil {
		return backlog.Record{}, err
	}
	return backlog.Record{LogTime: c.log.timeAt(i), Topic: c.log.spec.Topic, Payload: payload}, nil
}

func (c *syntheticCursor) Close() error { return nil }

// Generator replays synthetic samples.
type Generator struct {
	*engine
}

// NewGenerator creates a generator source over log, which must come from
// NewSyntheticLog.
func NewGenerator(log backlog.Log, channels ChannelMap, opts Options) (*Generator, error) {
	e, err := newEngine(KindGenerator, log, channels, opts)
	if err != nil {
		return nil, err
	}
	return &Generator{engine: e}, nil
}
