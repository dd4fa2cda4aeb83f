// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	// Initialize logging for tests with discard output
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

var allCaps = protocol.NewCapabilitySet(protocol.AllCapabilities...)

// setupHub creates and starts a hub advertising every capability.
func setupHub(t *testing.T, opts Options, listener Listener) *Hub {
	t.Helper()
	if opts.Capabilities == 0 {
		opts.Capabilities = allCaps
	}
	hub := NewHub(opts, registry.New(), params.NewStore(""), listener)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// connect registers a connection-less client and consumes its serverInfo.
func connect(t *testing.T, hub *Hub, caps ...protocol.Capability) *Client {
	t.Helper()
	c, err := hub.Accept(context.Background(), nil, auth.Anonymous, protocol.NewCapabilitySet(caps...))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if op := textOp(t, nextFrame(t, c)); op != protocol.OpServerInfo {
		t.Fatalf("first frame op = %q, want %q", op, protocol.OpServerInfo)
	}
	return c
}

// nextFrame waits for the next queued frame.
func nextFrame(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case out, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return outbound{}
}

// expectNoFrame fails if anything is queued within a short window.
func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case out, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected %s frame: %q", out.kind, out.data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func textOp(t *testing.T, out outbound) string {
	t.Helper()
	if out.messageType != websocket.TextMessage {
		t.Fatalf("expected text frame, got %s binary frame", out.kind)
	}
	var env struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(out.data, &env); err != nil {
		t.Fatalf("invalid JSON frame %q: %v", out.data, err)
	}
	return env.Op
}

func decodeText[T any](t *testing.T, out outbound) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(out.data, &v); err != nil {
		t.Fatalf("decode %q: %v", out.data, err)
	}
	return v
}

func decodeBinary(t *testing.T, out outbound) any {
	t.Helper()
	if out.messageType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got %q", out.data)
	}
	msg, err := protocol.DecodeServerBinary(out.data)
	if err != nil {
		t.Fatalf("decode binary frame: %v", err)
	}
	return msg
}

// expectStatus reads the next frame and checks it is a status of level.
func expectStatus(t *testing.T, c *Client, level protocol.StatusLevel) protocol.Status {
	t.Helper()
	out := nextFrame(t, c)
	if op := textOp(t, out); op != protocol.OpStatus {
		t.Fatalf("op = %q, want status (%s)", op, out.data)
	}
	st := decodeText[protocol.Status](t, out)
	if st.Level != level {
		t.Fatalf("status level = %d, want %d (%s)", st.Level, level, st.Message)
	}
	return st
}

func sendText(hub *Hub, c *Client, msg string) {
	hub.handleText(c, []byte(msg))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// recordingListener records listener callbacks as strings.
type recordingListener struct {
	mu     sync.Mutex
	events []string
	data   [][]byte
}

func (l *recordingListener) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) OnSubscribe(_ string, ch registry.ChannelID) {
	l.add("subscribe:" + strconv.FormatUint(uint64(ch), 10))
}

func (l *recordingListener) OnUnsubscribe(_ string, ch registry.ChannelID) {
	l.add("unsubscribe:" + strconv.FormatUint(uint64(ch), 10))
}

func (l *recordingListener) OnClientAdvertise(_ string, ch protocol.ClientChannel) {
	l.add("advertise:" + ch.Topic)
}

func (l *recordingListener) OnClientUnadvertise(_ string, id protocol.ClientChannelID) {
	l.add("unadvertise:" + strconv.FormatUint(uint64(id), 10))
}

func (l *recordingListener) OnMessageData(_ string, ch protocol.ClientChannel, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "data:"+ch.Topic)
	l.data = append(l.data, payload)
}

func (l *recordingListener) OnParametersSet(_ string, updated []params.Parameter) {
	for _, p := range updated {
		l.add("param:" + p.Name)
	}
}

func anonymous() auth.Identity { return auth.Anonymous }

func playRequest(id string, seek *uint64) playback.ControlRequest {
	return playback.ControlRequest{Command: playback.CommandPlay, Speed: 1, SeekTime: seek, RequestID: id}
}
