// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// ErrBufferTooShort is returned when a binary frame ends before its fields.
var ErrBufferTooShort = errors.New("protocol: buffer too short")

// Server binary opcodes.
const (
	ServerOpMessageData         byte = 0x01
	ServerOpTime                byte = 0x02
	ServerOpServiceCallResponse byte = 0x03
	ServerOpFetchAssetResponse  byte = 0x04
	ServerOpPlaybackState       byte = 0x05
)

// Client binary opcodes.
const (
	ClientOpMessageData            byte = 0x01
	ClientOpServiceCallRequest     byte = 0x02
	ClientOpPlaybackControlRequest byte = 0x03
)

// maxRequestIDLen bounds request ids carried in binary frames.
const maxRequestIDLen = 1024

// ClientMessageData is a payload published by a client on one of its channels.
type ClientMessageData struct {
	ChannelID ClientChannelID
	Payload   []byte
}

// MessageData is a server data frame.
type MessageData struct {
	ChannelID registry.ChannelID
	LogTime   uint64
	Payload   []byte
}

// Time is a server time broadcast.
type Time struct {
	LogTime uint64
}

// EncodeMessageData builds a server data frame.
func EncodeMessageData(ch registry.ChannelID, logTime uint64, payload []byte) []byte {
	buf := make([]byte, 1+4+8+len(payload))
	buf[0] = ServerOpMessageData
	binary.LittleEndian.PutUint32(buf[1:], uint32(ch))
	binary.LittleEndian.PutUint64(buf[5:], logTime)
	copy(buf[13:], payload)
	return buf
}

// EncodeTime builds a server time frame.
func EncodeTime(logTime uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = ServerOpTime
	binary.LittleEndian.PutUint64(buf[1:], logTime)
	return buf
}

// EncodePlaybackState builds a server playback state frame.
func EncodePlaybackState(st playback.State) []byte {
	id := truncateID(st.RequestID)
	buf := make([]byte, 1+1+8+4+1+4+len(id))
	buf[0] = ServerOpPlaybackState
	buf[1] = byte(st.Status)
	binary.LittleEndian.PutUint64(buf[2:], st.CurrentTime)
	binary.LittleEndian.PutUint32(buf[10:], math.Float32bits(float32(st.Speed)))
	buf[14] = boolByte(st.DidSeek)
	binary.LittleEndian.PutUint32(buf[15:], uint32(len(id)))
	copy(buf[19:], id)
	return buf
}

// EncodeClientMessageData builds a client publish frame.
func EncodeClientMessageData(ch ClientChannelID, payload []byte) []byte {
	buf := make([]byte, 1+4+len(payload))
	buf[0] = ClientOpMessageData
	binary.LittleEndian.PutUint32(buf[1:], uint32(ch))
	copy(buf[5:], payload)
	return buf
}

// EncodePlaybackControlRequest builds a client control frame.
func EncodePlaybackControlRequest(req playback.ControlRequest) []byte {
	id := truncateID(req.RequestID)
	buf := make([]byte, 1+1+4+1+8+4+len(id))
	buf[0] = ClientOpPlaybackControlRequest
	buf[1] = byte(req.Command)
	binary.LittleEndian.PutUint32(buf[2:], math.Float32bits(float32(req.Speed)))
	if req.SeekTime != nil {
		buf[6] = 1
		binary.LittleEndian.PutUint64(buf[7:], *req.SeekTime)
	}
	binary.LittleEndian.PutUint32(buf[15:], uint32(len(id)))
	copy(buf[19:], id)
	return buf
}

// DecodeClientBinary decodes a client binary frame into a ClientMessageData,
// a ServiceCallRequest or a playback.ControlRequest.
func DecodeClientBinary(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrBufferTooShort
	}
	switch data[0] {
	case ClientOpMessageData:
		if len(data) < 5 {
			return nil, fmt.Errorf("message data: %w", ErrBufferTooShort)
		}
		return ClientMessageData{
			ChannelID: ClientChannelID(binary.LittleEndian.Uint32(data[1:])),
			Payload:   data[5:],
		}, nil
	case ClientOpServiceCallRequest:
		id, callID, enc, payload, err := decodeServiceCall(data, "service call request")
		if err != nil {
			return nil, err
		}
		return ServiceCallRequest{ServiceID: id, CallID: callID, Encoding: enc, Payload: payload}, nil
	case ClientOpPlaybackControlRequest:
		return decodeControlRequest(data)
	default:
		return nil, fmt.Errorf("%w: binary opcode 0x%02x", ErrUnknownOp, data[0])
	}
}

func decodeControlRequest(data []byte) (playback.ControlRequest, error) {
	const fixed = 1 + 1 + 4 + 1 + 8 + 4
	if len(data) < fixed {
		return playback.ControlRequest{}, fmt.Errorf("playback control request: %w", ErrBufferTooShort)
	}
	cmd := playback.Command(data[1])
	if cmd != playback.CommandPlay && cmd != playback.CommandPause {
		return playback.ControlRequest{}, fmt.Errorf("%w: playback command %d", ErrMalformed, data[1])
	}
	req := playback.ControlRequest{
		Command: cmd,
		Speed:   float64(math.Float32frombits(binary.LittleEndian.Uint32(data[2:]))),
	}
	if data[6] != 0 {
		t := binary.LittleEndian.Uint64(data[7:])
		req.SeekTime = &t
	}
	n := binary.LittleEndian.Uint32(data[15:])
	if n > maxRequestIDLen {
		return playback.ControlRequest{}, fmt.Errorf("%w: request id length %d", ErrMalformed, n)
	}
	if uint32(len(data)-fixed) < n {
		return playback.ControlRequest{}, fmt.Errorf("playback control request id: %w", ErrBufferTooShort)
	}
	req.RequestID = string(data[fixed : fixed+int(n)])
	return req, nil
}

// DecodeServerBinary decodes a server binary frame into a MessageData, Time,
// ServiceCallResponse, FetchAssetResponse or playback.State.
func DecodeServerBinary(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, ErrBufferTooShort
	}
	switch data[0] {
	case ServerOpMessageData:
		if len(data) < 13 {
			return nil, fmt.Errorf("message data: %w", ErrBufferTooShort)
		}
		return MessageData{
			ChannelID: registry.ChannelID(binary.LittleEndian.Uint32(data[1:])),
			LogTime:   binary.LittleEndian.Uint64(data[5:]),
			Payload:   data[13:],
		}, nil
	case ServerOpTime:
		if len(data) < 9 {
			return nil, fmt.Errorf("time: %w", ErrBufferTooShort)
		}
		return Time{LogTime: binary.LittleEndian.Uint64(data[1:])}, nil
	case ServerOpServiceCallResponse:
		id, callID, enc, payload, err := decodeServiceCall(data, "service call response")
		if err != nil {
			return nil, err
		}
		return ServiceCallResponse{ServiceID: id, CallID: callID, Encoding: enc, Payload: payload}, nil
	case ServerOpFetchAssetResponse:
		return decodeFetchAssetResponse(data)
	case ServerOpPlaybackState:
		const fixed = 19
		if len(data) < fixed {
			return nil, fmt.Errorf("playback state: %w", ErrBufferTooShort)
		}
		n := binary.LittleEndian.Uint32(data[15:])
		if uint32(len(data)-fixed) < n {
			return nil, fmt.Errorf("playback state request id: %w", ErrBufferTooShort)
		}
		return playback.State{
			Status:      playback.Status(data[1]),
			CurrentTime: binary.LittleEndian.Uint64(data[2:]),
			Speed:       float64(math.Float32frombits(binary.LittleEndian.Uint32(data[10:]))),
			DidSeek:     data[14] != 0,
			RequestID:   string(data[fixed : fixed+int(n)]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: binary opcode 0x%02x", ErrUnknownOp, data[0])
	}
}

func truncateID(id string) string {
	if len(id) > maxRequestIDLen {
		return id[:maxRequestIDLen]
	}
	return id
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
