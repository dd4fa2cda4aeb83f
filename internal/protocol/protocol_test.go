// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/registry"
)

func TestCapabilitySet(t *testing.T) {
	s := NewCapabilitySet(CapTime, CapParameters)

	if !s.Has(CapTime) || !s.Has(CapTime, CapParameters) {
		t.Errorf("Has() false for members of %v", s)
	}
	if s.Has(CapTime, CapRangedPlayback) {
		t.Error("Has() true with a missing member")
	}
	if s.Has(Capability("bogus")) {
		t.Error("Has() true for an unknown capability")
	}

	s = s.With(CapRangedPlayback).Without(CapParameters)
	if got := s.String(); got != "time,rangedPlayback" {
		t.Errorf("String() = %q", got)
	}

	all := NewCapabilitySet(AllCapabilities...)
	if got := all.Intersect(NewCapabilitySet(CapAssets)); got != NewCapabilitySet(CapAssets) {
		t.Errorf("Intersect() = %v", got)
	}
}

func TestParseCapabilitySet(t *testing.T) {
	s, err := ParseCapabilitySet([]string{"ClientPublish", " time "})
	if err != nil {
		t.Fatalf("ParseCapabilitySet() error = %v", err)
	}
	if s != NewCapabilitySet(CapClientPublish, CapTime) {
		t.Errorf("ParseCapabilitySet() = %v", s)
	}
	if _, err := ParseCapabilitySet([]string{"time", "teleport"}); err == nil {
		t.Error("expected error for unknown capability")
	}
}

func TestServerInfoJSON(t *testing.T) {
	start, end := uint64(10), uint64(20)
	info := ServerInfo{
		Op:            OpServerInfo,
		Name:          "test",
		Capabilities:  NewCapabilitySet(CapRangedPlayback, CapTime),
		SessionID:     "abc",
		DataStartTime: &start,
		DataEndTime:   &end,
	}
	data, err := Marshal(info)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	caps, ok := raw["capabilities"].([]any)
	if !ok || len(caps) != 2 || caps[0] != "time" || caps[1] != "rangedPlayback" {
		t.Errorf("capabilities = %v", raw["capabilities"])
	}
	if raw["dataStartTime"] != float64(10) {
		t.Errorf("dataStartTime = %v", raw["dataStartTime"])
	}
}

func TestDecodeClientText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOp  string
		wantErr error
		check   func(t *testing.T, msg any)
	}{
		{
			name:   "subscribe",
			input:  `{"op":"subscribe","channelIds":[1,2]}`,
			wantOp: OpSubscribe,
			check: func(t *testing.T, msg any) {
				m := msg.(Subscribe)
				if len(m.ChannelIDs) != 2 || m.ChannelIDs[1] != 2 {
					t.Errorf("ChannelIDs = %v", m.ChannelIDs)
				}
			},
		},
		{
			name:   "client advertise",
			input:  `{"op":"advertise","channels":[{"id":7,"topic":"/cmd","encoding":"json","schemaName":"Cmd"}]}`,
			wantOp: OpAdvertise,
			check: func(t *testing.T, msg any) {
				m := msg.(ClientAdvertise)
				if len(m.Channels) != 1 || m.Channels[0].ID != 7 || m.Channels[0].Topic != "/cmd" {
					t.Errorf("Channels = %+v", m.Channels)
				}
			},
		},
		{
			name:   "set parameters",
			input:  `{"op":"setParameters","id":"r1","parameters":[{"name":"gain","value":2.5}]}`,
			wantOp: OpSetParameters,
			check: func(t *testing.T, msg any) {
				m := msg.(SetParameters)
				if m.ID != "r1" || len(m.Parameters) != 1 {
					t.Fatalf("msg = %+v", m)
				}
				if v, ok := m.Parameters[0].Value.AsNumber(); !ok || v != 2.5 {
					t.Errorf("value = %v", m.Parameters[0].Value)
				}
			},
		},
		{
			name:   "get all parameters",
			input:  `{"op":"getParameters","parameterNames":[]}`,
			wantOp: OpGetParameters,
			check: func(t *testing.T, msg any) {
				if m := msg.(GetParameters); len(m.ParameterNames) != 0 {
					t.Errorf("names = %v", m.ParameterNames)
				}
			},
		},
		{
			name:   "fetch asset",
			input:  `{"op":"fetchAsset","uri":"package://robot/base.stl","requestId":9}`,
			wantOp: OpFetchAsset,
			check: func(t *testing.T, msg any) {
				if m := msg.(FetchAsset); m.URI != "package://robot/base.stl" || m.RequestID != 9 {
					t.Errorf("msg = %+v", m)
				}
			},
		},
		{
			name:   "subscribe connection graph",
			input:  `{"op":"subscribeConnectionGraph"}`,
			wantOp: OpSubscribeConnectionGraph,
			check: func(t *testing.T, msg any) {
				if _, ok := msg.(SubscribeConnectionGraph); !ok {
					t.Errorf("msg = %T", msg)
				}
			},
		},
		{
			name:   "unsubscribe connection graph",
			input:  `{"op":"unsubscribeConnectionGraph"}`,
			wantOp: OpUnsubscribeConnectionGraph,
			check: func(t *testing.T, msg any) {
				if _, ok := msg.(UnsubscribeConnectionGraph); !ok {
					t.Errorf("msg = %T", msg)
				}
			},
		},
		{name: "unknown op", input: `{"op":"callService"}`, wantOp: "callService", wantErr: ErrUnknownOp},
		{name: "missing op", input: `{"channelIds":[1]}`, wantErr: ErrMalformed},
		{name: "not json", input: `subscribe 1`, wantErr: ErrMalformed},
		{name: "wrong field type", input: `{"op":"subscribe","channelIds":"one"}`, wantOp: OpSubscribe, wantErr: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, msg, err := DecodeClientText([]byte(tt.input))
			if op != tt.wantOp {
				t.Errorf("op = %q, want %q", op, tt.wantOp)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestPlaybackControlRequestFrame(t *testing.T) {
	seek := uint64(1_700_000_000_123_456_789)
	tests := []struct {
		name string
		req  playback.ControlRequest
	}{
		{"play without seek", playback.ControlRequest{Command: playback.CommandPlay, Speed: 1, RequestID: "a"}},
		{"pause with seek", playback.ControlRequest{Command: playback.CommandPause, Speed: 0.5, SeekTime: &seek, RequestID: "req-42"}},
		{"empty request id", playback.ControlRequest{Command: playback.CommandPlay, Speed: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientBinary(EncodePlaybackControlRequest(tt.req))
			if err != nil {
				t.Fatalf("decode error = %v", err)
			}
			req := got.(playback.ControlRequest)
			if req.Command != tt.req.Command || req.Speed != tt.req.Speed || req.RequestID != tt.req.RequestID {
				t.Errorf("decoded %+v, want %+v", req, tt.req)
			}
			if (req.SeekTime == nil) != (tt.req.SeekTime == nil) {
				t.Fatalf("seek presence mismatch")
			}
			if req.SeekTime != nil && *req.SeekTime != *tt.req.SeekTime {
				t.Errorf("seek = %d", *req.SeekTime)
			}
		})
	}
}

func TestDecodeClientBinary_Errors(t *testing.T) {
	valid := EncodePlaybackControlRequest(playback.ControlRequest{Command: playback.CommandPlay, Speed: 1, RequestID: "abcdef"})
	badCmd := append([]byte(nil), valid...)
	badCmd[1] = 9

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrBufferTooShort},
		{"short message data", []byte{ClientOpMessageData, 1, 0}, ErrBufferTooShort},
		{"short control fixed part", valid[:10], ErrBufferTooShort},
		{"truncated request id", valid[:len(valid)-2], ErrBufferTooShort},
		{"unknown command", badCmd, ErrMalformed},
		{"unknown opcode", []byte{0x7f}, ErrUnknownOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeClientBinary(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientMessageData(t *testing.T) {
	got, err := DecodeClientBinary(EncodeClientMessageData(12, []byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	m := got.(ClientMessageData)
	if m.ChannelID != 12 || string(m.Payload) != "hello" {
		t.Errorf("decoded %+v", m)
	}
}

func TestServerFrames(t *testing.T) {
	frame, err := DecodeServerBinary(EncodeMessageData(3, 99, []byte{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	if m := frame.(MessageData); m.ChannelID != 3 || m.LogTime != 99 || len(m.Payload) != 3 {
		t.Errorf("MessageData = %+v", m)
	}

	frame, err = DecodeServerBinary(EncodeTime(1234))
	if err != nil || frame.(Time).LogTime != 1234 {
		t.Errorf("Time = %+v, %v", frame, err)
	}

	st := playback.State{Status: playback.StatusEnded, CurrentTime: 77, Speed: 1.5, DidSeek: true, RequestID: "x"}
	frame, err = DecodeServerBinary(EncodePlaybackState(st))
	if err != nil || frame.(playback.State) != st {
		t.Errorf("PlaybackState = %+v, %v", frame, err)
	}

	if _, err := DecodeServerBinary([]byte{ServerOpTime, 1}); !errors.Is(err, ErrBufferTooShort) {
		t.Errorf("short time frame err = %v", err)
	}
}

func TestEncodePlaybackState_Layout(t *testing.T) {
	buf := EncodePlaybackState(playback.State{Status: playback.StatusPaused, CurrentTime: 1, Speed: 1, RequestID: "ab"})
	if len(buf) != 21 {
		t.Fatalf("len = %d, want 21", len(buf))
	}
	if buf[0] != ServerOpPlaybackState || buf[1] != 1 {
		t.Errorf("header = % x", buf[:2])
	}
	if string(buf[19:]) != "ab" {
		t.Errorf("request id bytes = %q", buf[19:])
	}
}

func TestRequestIDTruncated(t *testing.T) {
	long := strings.Repeat("x", maxRequestIDLen+10)
	buf := EncodePlaybackState(playback.State{RequestID: long})
	frame, err := DecodeServerBinary(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := frame.(playback.State).RequestID; len(got) != maxRequestIDLen {
		t.Errorf("request id length = %d", len(got))
	}
}

func TestChannelFromRegistry(t *testing.T) {
	count := uint64(5)
	ch := ChannelFromRegistry(
		registry.Channel{ID: 4, Topic: "/imu", Encoding: "json", SchemaID: 2, MessageCount: &count},
		registry.Schema{ID: 2, Name: "Imu", Encoding: "jsonschema", Data: []byte("{}")},
	)
	if ch.ID != 4 || ch.SchemaName != "Imu" || ch.Schema != "{}" || *ch.MessageCount != 5 {
		t.Errorf("channel = %+v", ch)
	}
}

func TestChannelFromRegistry_BinarySchemaIsBase64(t *testing.T) {
	raw := []byte{0x0a, 0x04, 'P', 'o', 's', 'e', 0xff}
	ch := ChannelFromRegistry(
		registry.Channel{ID: 1, Topic: "/pose", Encoding: "protobuf", SchemaID: 1},
		registry.Schema{ID: 1, Name: "Pose", Encoding: "protobuf", Data: raw},
	)
	if ch.Schema != base64.StdEncoding.EncodeToString(raw) {
		t.Fatalf("schema = %q, want base64 of the descriptor", ch.Schema)
	}
	back, err := DecodeSchemaData(ch.SchemaEncoding, ch.Schema)
	if err != nil || !bytes.Equal(back, raw) {
		t.Errorf("DecodeSchemaData = % x, %v", back, err)
	}
}

func TestSchemaData(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		text     string
		want     []byte
		wantErr  error
	}{
		{"jsonschema passes through", "jsonschema", `{"type":"object"}`, []byte(`{"type":"object"}`), nil},
		{"ros2msg passes through", "ros2msg", "float64 x", []byte("float64 x"), nil},
		{"protobuf decodes", "protobuf", "AQID", []byte{1, 2, 3}, nil},
		{"empty flatbuffer", "flatbuffer", "", []byte{}, nil},
		{"protobuf rejects text", "protobuf", "message Pose {}", nil, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSchemaData(tt.encoding, tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeSchemaData = %q, want %q", got, tt.want)
			}
			if back := EncodeSchemaData(tt.encoding, got); back != tt.text {
				t.Errorf("EncodeSchemaData = %q, want %q", back, tt.text)
			}
		})
	}
}

func TestServiceCallFrames(t *testing.T) {
	req := ServiceCallRequest{ServiceID: 3, CallID: 41, Encoding: "json", Payload: []byte(`{"a":1}`)}
	msg, err := DecodeClientBinary(EncodeServiceCallRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	got := msg.(ServiceCallRequest)
	if got.ServiceID != 3 || got.CallID != 41 || got.Encoding != "json" || string(got.Payload) != `{"a":1}` {
		t.Errorf("request = %+v", got)
	}

	frame, err := DecodeServerBinary(EncodeServiceCallResponse(ServiceCallResponse{ServiceID: 3, CallID: 41, Encoding: "cbor", Payload: []byte{9}}))
	if err != nil {
		t.Fatal(err)
	}
	if r := frame.(ServiceCallResponse); r.ServiceID != 3 || r.CallID != 41 || r.Encoding != "cbor" || !bytes.Equal(r.Payload, []byte{9}) {
		t.Errorf("response = %+v", r)
	}

	t.Run("truncated header", func(t *testing.T) {
		if _, err := DecodeClientBinary([]byte{ClientOpServiceCallRequest, 1, 0, 0, 0}); !errors.Is(err, ErrBufferTooShort) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("encoding longer than frame", func(t *testing.T) {
		buf := EncodeServiceCallRequest(ServiceCallRequest{ServiceID: 1, Encoding: "json"})
		binary.LittleEndian.PutUint32(buf[9:], 200)
		if _, err := DecodeClientBinary(buf); !errors.Is(err, ErrBufferTooShort) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("oversized encoding", func(t *testing.T) {
		buf := EncodeServiceCallRequest(ServiceCallRequest{ServiceID: 1, Encoding: "json"})
		binary.LittleEndian.PutUint32(buf[9:], maxEncodingLen+1)
		if _, err := DecodeClientBinary(buf); !errors.Is(err, ErrMalformed) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestFetchAssetResponseFrame(t *testing.T) {
	tests := []struct {
		name string
		resp FetchAssetResponse
	}{
		{"success", FetchAssetResponse{RequestID: 5, Status: FetchAssetSuccess, Data: []byte("solid")}},
		{"error", FetchAssetResponse{RequestID: 6, Status: FetchAssetError, Error: "asset not found"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeServerBinary(EncodeFetchAssetResponse(tt.resp))
			if err != nil {
				t.Fatal(err)
			}
			got := frame.(FetchAssetResponse)
			if got.RequestID != tt.resp.RequestID || got.Status != tt.resp.Status ||
				got.Error != tt.resp.Error || !bytes.Equal(got.Data, tt.resp.Data) {
				t.Errorf("decoded %+v, want %+v", got, tt.resp)
			}
		})
	}
}

func TestConnectionGraphUpdate_Empty(t *testing.T) {
	if !(ConnectionGraphUpdate{Op: OpConnectionGraphUpdate, RemovedTopics: []string{}}).Empty() {
		t.Error("update without entries should be empty")
	}
	if (ConnectionGraphUpdate{RemovedServices: []string{"/s"}}).Empty() {
		t.Error("removed service is a change")
	}
}

func TestParameterValuesJSON(t *testing.T) {
	msg := ParameterValues{
		Op:         OpParameterValues,
		Parameters: []params.Parameter{params.New("gain", params.Number(1))},
		ID:         "r",
	}
	data, err := Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"op":"parameterValues"`) || !strings.Contains(string(data), `"name":"gain"`) {
		t.Errorf("json = %s", data)
	}
}
