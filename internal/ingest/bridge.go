// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package ingest bridges live telemetry from a message broker into the
// server: each message is mapped to a registry channel (registered on first
// sight), fanned out to subscribed sessions and optionally recorded.
//
// Messages carry their routing in watermill metadata:
//
//	topic     channel topic (required)
//	encoding  payload encoding (default "json")
//	log_time  nanoseconds since the epoch (default: arrival time)
//	schema_name, schema_encoding  optional schema description
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/benbjohnson/clock"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// Metadata keys.
const (
	MetadataTopic          = "topic"
	MetadataEncoding       = "encoding"
	MetadataLogTime        = "log_time"
	MetadataSchemaName     = "schema_name"
	MetadataSchemaEncoding = "schema_encoding"
)

// DefaultEncoding applies when a message has no encoding metadata.
const DefaultEncoding = "json"

// ErrMissingTopic marks a message without topic metadata.
var ErrMissingTopic = errors.New("ingest: message has no topic")

// Sink receives live frames. *websocket.Hub satisfies it.
type Sink interface {
	BroadcastMessage(ch registry.ChannelID, logTime uint64, payload []byte)
	BroadcastTime(logTime uint64)
}

// Recorder persists live frames. *recorder.Recorder satisfies it.
type Recorder interface {
	Record(info backlog.ChannelInfo, rec backlog.Record) error
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithRecorder records every ingested message.
func WithRecorder(r Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// WithTimeBroadcast makes ingest drive the session clock. Use it only when
// no playback controller is publishing time.
func WithTimeBroadcast() Option {
	return func(b *Bridge) { b.broadcastTime = true }
}

// WithClock sets the clock used to stamp messages without log_time.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) { b.clock = clk }
}

// Bridge consumes one subject and feeds the registry, sink and recorder.
type Bridge struct {
	subscriber    message.Subscriber
	subject       string
	registry      *registry.Registry
	sink          Sink
	recorder      Recorder
	broadcastTime bool
	clock         clock.Clock

	// mu serializes lookup-or-register so a topic is registered once.
	mu sync.Mutex
}

// NewBridge creates a bridge. It does not subscribe until Serve runs.
func NewBridge(sub message.Subscriber, subject string, reg *registry.Registry, sink Sink, opts ...Option) *Bridge {
	b := &Bridge{
		subscriber: sub,
		subject:    subject,
		registry:   reg,
		sink:       sink,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Serve implements suture.Service.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.subscriber.Subscribe(ctx, b.subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	logging.Info().Str("component", "ingest").Str("subject", b.subject).Msg("ingest bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := b.Handle(msg); err != nil {
				metrics.RecordIngest("invalid")
				logging.Warn().
					Err(err).
					Str("component", "ingest").
					Str("message_uuid", msg.UUID).
					Msg("dropping ingest message")
			}
			// Malformed messages are not redelivered.
			msg.Ack()
		}
	}
}

// String implements fmt.Stringer for suture logging.
func (b *Bridge) String() string { return "ingest-bridge" }

// Handle routes one message.
func (b *Bridge) Handle(msg *message.Message) error {
	info, err := channelInfo(msg)
	if err != nil {
		return err
	}
	logTime, err := b.logTime(msg)
	if err != nil {
		return err
	}

	ch, err := b.channelFor(info)
	if err != nil {
		return err
	}

	if b.broadcastTime {
		b.sink.BroadcastTime(logTime)
	}
	b.sink.BroadcastMessage(ch, logTime, msg.Payload)
	metrics.RecordIngest("ok")

	if b.recorder != nil {
		// Recording failures are logged and counted by the recorder.
		_ = b.recorder.Record(info, backlog.Record{LogTime: logTime, Topic: info.Topic, Payload: msg.Payload})
	}
	return nil
}

func channelInfo(msg *message.Message) (backlog.ChannelInfo, error) {
	topic := msg.Metadata.Get(MetadataTopic)
	if topic == "" {
		return backlog.ChannelInfo{}, ErrMissingTopic
	}
	encoding := msg.Metadata.Get(MetadataEncoding)
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return backlog.ChannelInfo{
		Topic:          topic,
		Encoding:       encoding,
		SchemaName:     msg.Metadata.Get(MetadataSchemaName),
		SchemaEncoding: msg.Metadata.Get(MetadataSchemaEncoding),
	}, nil
}

func (b *Bridge) logTime(msg *message.Message) (uint64, error) {
	raw := msg.Metadata.Get(MetadataLogTime)
	if raw == "" {
		return uint64(b.clock.Now().UnixNano()), nil
	}
	t, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ingest: invalid log_time %q: %w", raw, err)
	}
	return t, nil
}

// channelFor returns the channel for info, registering it if needed.
func (b *Bridge) channelFor(info backlog.ChannelInfo) (registry.ChannelID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.registry.Find(info.Topic, info.Encoding); ok {
		return ch.ID, nil
	}

	var schemaID registry.SchemaID
	if info.SchemaName != "" {
		encoding := info.SchemaEncoding
		if encoding == "" {
			encoding = info.Encoding
		}
		id, err := b.registry.RegisterSchema(registry.Schema{Name: info.SchemaName, Encoding: encoding})
		if err != nil {
			return 0, fmt.Errorf("register schema %s: %w", info.SchemaName, err)
		}
		schemaID = id
	}
	id, err := b.registry.RegisterChannel(registry.Channel{
		Topic:    info.Topic,
		Encoding: info.Encoding,
		SchemaID: schemaID,
		Metadata: map[string]string{"source": "live"},
	})
	if err != nil {
		return 0, fmt.Errorf("register channel %s: %w", info.Topic, err)
	}
	logging.Info().
		Str("component", "ingest").
		Str("topic", info.Topic).
		Uint32("channel_id", uint32(id)).
		Msg("registered live channel")
	return id, nil
}
