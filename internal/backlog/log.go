// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package backlog provides time-ordered record logs for playback.
//
// A Log exposes inclusive time bounds, an O(log n) floor lookup, and an
// ordered, restartable cursor over records at or after a start time.
// Two implementations exist: Memory, a sorted in-process index, and
// BadgerLog, a durable store whose keys sort by log time.
package backlog

import (
	"errors"
	"io"
)

// ErrEmpty is returned by Bounds when a log holds no records.
var ErrEmpty = errors.New("backlog: log is empty")

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("backlog: log is closed")

// Record is one timestamped payload on a topic.
type Record struct {
	LogTime uint64
	Topic   string
	Payload []byte
}

// ChannelInfo describes the channel a topic was recorded on.
type ChannelInfo struct {
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName,omitempty"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         []byte `json:"schema,omitempty"`
}

// Log is a time-ordered record source.
type Log interface {
	// Bounds returns the first and last record times, or ErrEmpty.
	Bounds() (start, end uint64, err error)

	// Channels lists the channels records were written on.
	Channels() ([]ChannelInfo, error)

	// Floor returns the greatest record time <= t. ok is false when every
	// record is later than t.
	Floor(t uint64) (floor uint64, ok bool, err error)

	// Cursor iterates records with LogTime >= from in time order.
	Cursor(from uint64) (Cursor, error)
}

// Cursor walks a Log. Next returns io.EOF after the last record. Any other
// error reports a single unreadable record; the cursor has already moved
// past it and Next may be called again.
type Cursor interface {
	Next() (Record, error)
	Close() error
}

// IsFault reports whether err from Cursor.Next is a per-record fault
// rather than end of data. A closed log counts as end of data.
func IsFault(err error) bool {
	return err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed)
}
