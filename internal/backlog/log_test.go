// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package backlog

import (
	"errors"
	"io"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/chronoscope/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

var fixture = []Record{
	{LogTime: 3_000_000_000, Topic: "/b", Payload: []byte("d")},
	{LogTime: 0, Topic: "/a", Payload: []byte("a")},
	{LogTime: 1_000_000_000, Topic: "/a", Payload: []byte("b")},
	{LogTime: 2_000_000_000, Topic: "/b", Payload: []byte("c")},
}

var fixtureChannels = []ChannelInfo{
	{Topic: "/a", Encoding: "json"},
	{Topic: "/b", Encoding: "json", SchemaName: "B", SchemaEncoding: "jsonschema", Schema: []byte(`{}`)},
}

func openLogs(t *testing.T) map[string]Log {
	t.Helper()

	bl, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = bl.Close() })
	for _, ch := range fixtureChannels {
		if err := bl.DefineChannel(ch); err != nil {
			t.Fatalf("DefineChannel() error = %v", err)
		}
	}
	if err := bl.AppendBatch(fixture); err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}

	return map[string]Log{
		"memory": NewMemory(fixtureChannels, fixture),
		"badger": bl,
	}
}

func drain(t *testing.T, c Cursor) []Record {
	t.Helper()
	var out []Record
	for {
		r, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, r)
	}
}

func TestLog_Bounds(t *testing.T) {
	for name, l := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			start, end, err := l.Bounds()
			if err != nil {
				t.Fatalf("Bounds() error = %v", err)
			}
			if start != 0 || end != 3_000_000_000 {
				t.Errorf("Bounds() = (%d, %d), want (0, 3e9)", start, end)
			}
		})
	}
}

func TestLog_Floor(t *testing.T) {
	tests := []struct {
		t      uint64
		want   uint64
		wantOK bool
	}{
		{0, 0, true},
		{999_999_999, 0, true},
		{1_000_000_000, 1_000_000_000, true},
		{2_500_000_000, 2_000_000_000, true},
		{10_000_000_000, 3_000_000_000, true},
	}

	for name, l := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			for _, tt := range tests {
				got, ok, err := l.Floor(tt.t)
				if err != nil {
					t.Fatalf("Floor(%d) error = %v", tt.t, err)
				}
				if got != tt.want || ok != tt.wantOK {
					t.Errorf("Floor(%d) = (%d, %v), want (%d, %v)", tt.t, got, ok, tt.want, tt.wantOK)
				}
			}
		})
	}
}

func TestLog_FloorBeforeFirst(t *testing.T) {
	m := NewMemory(nil, []Record{{LogTime: 50}})
	if _, ok, _ := m.Floor(10); ok {
		t.Error("Floor before first record should report !ok")
	}
}

func TestLog_CursorOrderAndRestart(t *testing.T) {
	for name, l := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			c, err := l.Cursor(0)
			if err != nil {
				t.Fatal(err)
			}
			all := drain(t, c)
			if len(all) != 4 {
				t.Fatalf("got %d records, want 4", len(all))
			}
			for i, want := range []string{"a", "b", "c", "d"} {
				if string(all[i].Payload) != want {
					t.Errorf("record %d payload = %q, want %q", i, all[i].Payload, want)
				}
			}

			c2, _ := l.Cursor(1_500_000_000)
			tail := drain(t, c2)
			if len(tail) != 2 || tail[0].LogTime != 2_000_000_000 {
				t.Errorf("Cursor(1.5e9) = %+v", tail)
			}
			_ = c2.Close()
		})
	}
}

func TestLog_Channels(t *testing.T) {
	for name, l := range openLogs(t) {
		t.Run(name, func(t *testing.T) {
			chs, err := l.Channels()
			if err != nil {
				t.Fatal(err)
			}
			if len(chs) != 2 {
				t.Fatalf("Channels() = %+v", chs)
			}
			if chs[1].SchemaName != "B" {
				t.Errorf("schema name = %q, want B", chs[1].SchemaName)
			}
		})
	}
}

func TestEmptyLogs(t *testing.T) {
	bl, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()

	for name, l := range map[string]Log{"memory": NewMemory(nil, nil), "badger": bl} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := l.Bounds(); !errors.Is(err, ErrEmpty) {
				t.Errorf("Bounds() error = %v, want ErrEmpty", err)
			}
			c, _ := l.Cursor(0)
			if _, err := c.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("Next() error = %v, want EOF", err)
			}
		})
	}
}

func TestBadgerCursor_SpansBatches(t *testing.T) {
	bl, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()

	n := cursorBatch*2 + 7
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{LogTime: uint64(i / 2), Topic: "/x", Payload: []byte{byte(i)}}
	}
	if err := bl.AppendBatch(recs); err != nil {
		t.Fatal(err)
	}

	c, _ := bl.Cursor(0)
	got := drain(t, c)
	if len(got) != n {
		t.Fatalf("got %d records, want %d", len(got), n)
	}
	for i := 1; i < len(got); i++ {
		if got[i].LogTime < got[i-1].LogTime {
			t.Fatalf("out of order at %d", i)
		}
	}
}

func TestBadgerCursor_SkipsCorruptRecord(t *testing.T) {
	bl, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer bl.Close()

	if err := bl.AppendBatch([]Record{{LogTime: 1, Topic: "/a"}, {LogTime: 3, Topic: "/a"}}); err != nil {
		t.Fatal(err)
	}
	if err := bl.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(2, 999), []byte{0xff})
	}); err != nil {
		t.Fatal(err)
	}

	c, _ := bl.Cursor(0)
	var faults, good int
	for {
		_, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if IsFault(err) {
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("fault = %v, want ErrCorruptRecord", err)
			}
			faults++
			continue
		}
		good++
	}
	if faults != 1 || good != 2 {
		t.Errorf("faults=%d good=%d, want 1 and 2", faults, good)
	}
}

func TestBadgerLog_Closed(t *testing.T) {
	bl, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	_ = bl.Close()

	if err := bl.Append(Record{LogTime: 1, Topic: "/a"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close error = %v, want ErrClosed", err)
	}
	if IsFault(ErrClosed) {
		t.Error("ErrClosed must not count as a per-record fault")
	}
	if err := bl.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
