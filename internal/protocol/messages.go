// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/registry"
)

var (
	// ErrUnknownOp is returned for a message whose op is not recognised.
	ErrUnknownOp = errors.New("protocol: unknown op")

	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("protocol: malformed message")
)

// Op names for text frames.
const (
	OpServerInfo                  = "serverInfo"
	OpStatus                      = "status"
	OpAdvertise                   = "advertise"
	OpUnadvertise                 = "unadvertise"
	OpParameterValues             = "parameterValues"
	OpSubscribe                   = "subscribe"
	OpUnsubscribe                 = "unsubscribe"
	OpGetParameters               = "getParameters"
	OpSetParameters               = "setParameters"
	OpSubscribeParameterUpdates   = "subscribeParameterUpdates"
	OpUnsubscribeParameterUpdates = "unsubscribeParameterUpdates"
)

// StatusLevel grades a status message.
type StatusLevel uint8

const (
	StatusInfo    StatusLevel = 0
	StatusWarning StatusLevel = 1
	StatusError   StatusLevel = 2
)

// ServerInfo is sent once, immediately after a client connects.
type ServerInfo struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       CapabilitySet     `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId"`
	DataStartTime      *uint64           `json:"dataStartTime,omitempty"`
	DataEndTime        *uint64           `json:"dataEndTime,omitempty"`
}

// Status reports a problem or notice to one client.
type Status struct {
	Op      string      `json:"op"`
	Level   StatusLevel `json:"level"`
	Message string      `json:"message"`
	ID      string      `json:"id,omitempty"`
}

// Channel is the advertised form of a registry channel.
type Channel struct {
	ID             registry.ChannelID `json:"id"`
	Topic          string             `json:"topic"`
	Encoding       string             `json:"encoding"`
	SchemaName     string             `json:"schemaName"`
	Schema         string             `json:"schema"`
	SchemaEncoding string             `json:"schemaEncoding,omitempty"`
	MessageCount   *uint64            `json:"messageCount,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

// Advertise announces channels.
type Advertise struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

// Unadvertise retracts channels.
type Unadvertise struct {
	Op         string               `json:"op"`
	ChannelIDs []registry.ChannelID `json:"channelIds"`
}

// ParameterValues carries parameters, either as a response (ID set) or as
// an update notification.
type ParameterValues struct {
	Op         string             `json:"op"`
	Parameters []params.Parameter `json:"parameters"`
	ID         string             `json:"id,omitempty"`
}

// Subscribe requests data for channels.
type Subscribe struct {
	ChannelIDs []registry.ChannelID `json:"channelIds"`
}

// Unsubscribe stops data for channels.
type Unsubscribe struct {
	ChannelIDs []registry.ChannelID `json:"channelIds"`
}

// ClientChannelID identifies a channel advertised by a client. It is scoped
// to the advertising session.
type ClientChannelID uint32

// ClientChannel describes a channel a client intends to publish on.
type ClientChannel struct {
	ID             ClientChannelID `json:"id" validate:"required"`
	Topic          string          `json:"topic" validate:"required,max=512"`
	Encoding       string          `json:"encoding" validate:"required,max=64"`
	SchemaName     string          `json:"schemaName" validate:"max=256"`
	SchemaEncoding string          `json:"schemaEncoding,omitempty" validate:"max=64"`
	Schema         string          `json:"schema,omitempty"`
}

// ClientAdvertise announces client channels.
type ClientAdvertise struct {
	Channels []ClientChannel `json:"channels" validate:"required,min=1,dive"`
}

// ClientUnadvertise retracts client channels.
type ClientUnadvertise struct {
	ChannelIDs []ClientChannelID `json:"channelIds"`
}

// GetParameters requests parameter values. No names means all.
type GetParameters struct {
	ParameterNames []string `json:"parameterNames"`
	ID             string   `json:"id,omitempty"`
}

// SetParameters updates parameters.
type SetParameters struct {
	Parameters []params.Parameter `json:"parameters" validate:"dive"`
	ID         string             `json:"id,omitempty"`
}

// SubscribeParameterUpdates requests change notifications for names.
type SubscribeParameterUpdates struct {
	ParameterNames []string `json:"parameterNames"`
}

// UnsubscribeParameterUpdates cancels change notifications for names.
type UnsubscribeParameterUpdates struct {
	ParameterNames []string `json:"parameterNames"`
}

type envelope struct {
	Op string `json:"op"`
}

// DecodeClientText decodes a client text frame into one of the client
// request types, returned by value.
func DecodeClientText(data []byte) (op string, msg any, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Op {
	case OpSubscribe:
		msg, err = decodeAs[Subscribe](data)
	case OpUnsubscribe:
		msg, err = decodeAs[Unsubscribe](data)
	case OpAdvertise:
		msg, err = decodeAs[ClientAdvertise](data)
	case OpUnadvertise:
		msg, err = decodeAs[ClientUnadvertise](data)
	case OpGetParameters:
		msg, err = decodeAs[GetParameters](data)
	case OpSetParameters:
		msg, err = decodeAs[SetParameters](data)
	case OpSubscribeParameterUpdates:
		msg, err = decodeAs[SubscribeParameterUpdates](data)
	case OpUnsubscribeParameterUpdates:
		msg, err = decodeAs[UnsubscribeParameterUpdates](data)
	case OpFetchAsset:
		msg, err = decodeAs[FetchAsset](data)
	case OpSubscribeConnectionGraph:
		msg = SubscribeConnectionGraph{}
	case OpUnsubscribeConnectionGraph:
		msg = UnsubscribeConnectionGraph{}
	case "":
		return "", nil, fmt.Errorf("%w: missing op", ErrMalformed)
	default:
		return env.Op, nil, fmt.Errorf("%w: %q", ErrUnknownOp, env.Op)
	}
	if err != nil {
		return env.Op, nil, err
	}
	return env.Op, msg, nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// NewStatus builds a status message.
func NewStatus(level StatusLevel, message, id string) Status {
	return Status{Op: OpStatus, Level: level, Message: message, ID: id}
}

// ChannelFromRegistry converts a registry channel and its schema.
func ChannelFromRegistry(ch registry.Channel, schema registry.Schema) Channel {
	return Channel{
		ID:             ch.ID,
		Topic:          ch.Topic,
		Encoding:       ch.Encoding,
		SchemaName:     schema.Name,
		Schema:         EncodeSchemaData(schema.Encoding, schema.Data),
		SchemaEncoding: schema.Encoding,
		MessageCount:   ch.MessageCount,
		Metadata:       ch.Metadata,
	}
}

// Marshal encodes a server message.
func Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
