// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package registry is the catalog of message schemas and channels.
//
// Schemas and channels are immutable once registered. Identifiers are
// assigned from monotonically increasing counters starting at 1 and are
// never reused for the lifetime of the process; 0 means "no schema".
//
// Registrations made after clients connect are pushed to registered
// Listeners so the server can advertise them to existing sessions.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when an id does not resolve.
	ErrNotFound = errors.New("registry: not found")

	// ErrUnknownSchema is returned when a channel references an unregistered schema.
	ErrUnknownSchema = errors.New("registry: unknown schema")

	// ErrInvalid is returned for registrations missing required fields.
	ErrInvalid = errors.New("registry: invalid registration")
)

// SchemaID identifies a registered schema. Zero is reserved.
type SchemaID uint32

// ChannelID identifies a registered channel. Zero is reserved.
type ChannelID uint32

// Schema describes the structure of messages on one or more channels.
type Schema struct {
	ID       SchemaID `json:"id"`
	Name     string   `json:"name"`
	Encoding string   `json:"encoding"`
	Data     []byte   `json:"-"`
}

// Channel is a named, typed stream of messages.
type Channel struct {
	ID       ChannelID `json:"id"`
	Topic    string    `json:"topic"`
	Encoding string    `json:"encoding"`
	SchemaID SchemaID  `json:"schemaId,omitempty"`

	// MessageCount is an optional hint of the total number of messages.
	MessageCount *uint64 `json:"messageCount,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Listener observes catalog changes.
type Listener interface {
	ChannelAdded(ch Channel)
	ChannelRemoved(id ChannelID)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	nextSchema  SchemaID
	nextChannel ChannelID
	schemas     map[SchemaID]Schema
	channels    map[ChannelID]Channel

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		schemas:  make(map[SchemaID]Schema),
		channels: make(map[ChannelID]Channel),
	}
}

// AddListener registers l for channel notifications.
func (r *Registry) AddListener(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// RegisterSchema stores s under a fresh id. Any ID set on s is ignored.
func (r *Registry) RegisterSchema(s Schema) (SchemaID, error) {
	if s.Name == "" || s.Encoding == "" {
		return 0, fmt.Errorf("%w: schema requires name and encoding", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSchema++
	s.ID = r.nextSchema
	s.Data = append([]byte(nil), s.Data...)
	r.schemas[s.ID] = s
	return s.ID, nil
}

// RegisterChannel stores ch under a fresh id and notifies listeners.
// A non-zero SchemaID must already be registered.
func (r *Registry) RegisterChannel(ch Channel) (ChannelID, error) {
	if ch.Topic == "" || ch.Encoding == "" {
		return 0, fmt.Errorf("%w: channel requires topic and encoding", ErrInvalid)
	}

	r.mu.Lock()
	if ch.SchemaID != 0 {
		if _, ok := r.schemas[ch.SchemaID]; !ok {
			r.mu.Unlock()
			return 0, fmt.Errorf("%w: %d", ErrUnknownSchema, ch.SchemaID)
		}
	}
	r.nextChannel++
	ch.ID = r.nextChannel
	ch.Metadata = copyMetadata(ch.Metadata)
	r.channels[ch.ID] = ch
	r.mu.Unlock()

	for _, l := range r.snapshotListeners() {
		l.ChannelAdded(ch)
	}
	return ch.ID, nil
}

// Schema looks up a schema by id.
func (r *Registry) Schema(id SchemaID) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return Schema{}, fmt.Errorf("%w: schema %d", ErrNotFound, id)
	}
	return s, nil
}

// Channel looks up a channel by id.
func (r *Registry) Channel(id ChannelID) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return Channel{}, fmt.Errorf("%w: channel %d", ErrNotFound, id)
	}
	return ch, nil
}

// Find returns the lowest-id channel with the given topic and encoding.
func (r *Registry) Find(topic, encoding string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found Channel
		ok    bool
	)
	for _, ch := range r.channels {
		if ch.Topic != topic || ch.Encoding != encoding {
			continue
		}
		if !ok || ch.ID < found.ID {
			found, ok = ch, true
		}
	}
	return found, ok
}

// Channels returns every registered channel ordered by id.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove retracts a channel and notifies listeners. Callers that serve
// clients must unsubscribe every session from id first.
func (r *Registry) Remove(id ChannelID) error {
	r.mu.Lock()
	if _, ok := r.channels[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: channel %d", ErrNotFound, id)
	}
	delete(r.channels, id)
	r.mu.Unlock()

	for _, l := range r.snapshotListeners() {
		l.ChannelRemoved(id)
	}
	return nil
}

func (r *Registry) snapshotListeners() []Listener {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	return append([]Listener(nil), r.listeners...)
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
