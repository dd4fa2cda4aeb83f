// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package backlog

import (
	"io"
	"sort"
)

// Memory is an immutable in-memory Log backed by a sorted slice.
type Memory struct {
	channels []ChannelInfo
	records  []Record
}

// NewMemory sorts records by time (stable, so equal times keep input order).
func NewMemory(channels []ChannelInfo, records []Record) *Memory {
	recs := append([]Record(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].LogTime < recs[j].LogTime })
	return &Memory{
		channels: append([]ChannelInfo(nil), channels...),
		records:  recs,
	}
}

// Len returns the number of records.
func (m *Memory) Len() int { return len(m.records) }

// Bounds implements Log.
func (m *Memory) Bounds() (uint64, uint64, error) {
	if len(m.records) == 0 {
		return 0, 0, ErrEmpty
	}
	return m.records[0].LogTime, m.records[len(m.records)-1].LogTime, nil
}

// Channels implements Log.
func (m *Memory) Channels() ([]ChannelInfo, error) {
	return append([]ChannelInfo(nil), m.channels...), nil
}

// Floor implements Log with a binary search.
func (m *Memory) Floor(t uint64) (uint64, bool, error) {
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].LogTime > t })
	if i == 0 {
		return 0, false, nil
	}
	return m.records[i-1].LogTime, true, nil
}

// Cursor implements Log.
func (m *Memory) Cursor(from uint64) (Cursor, error) {
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].LogTime >= from })
	return &memoryCursor{records: m.records, next: i}, nil
}

type memoryCursor struct {
	records []Record
	next    int
}

func (c *memoryCursor) Next() (Record, error) {
	if c.next >= len(c.records) {
		return Record{}, io.EOF
	}
	r := c.records[c.next]
	c.next++
	return r, nil
}

func (c *memoryCursor) Close() error { return nil }
