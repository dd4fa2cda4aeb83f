// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package recorder appends live traffic to a durable backlog so it can be
// played back later. Writes go through a circuit breaker: while the store
// keeps failing, records are dropped instead of piling up behind it.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
)

// ErrDropped is returned when a record is discarded because the breaker is open.
var ErrDropped = errors.New("recorder: write dropped, circuit open")

// Store is the subset of backlog.BadgerLog the recorder writes to.
type Store interface {
	DefineChannel(info backlog.ChannelInfo) error
	Append(r backlog.Record) error
}

// Config tunes the breaker.
type Config struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Recorder writes records and their channel definitions to a Store.
type Recorder struct {
	store   Store
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu      sync.Mutex
	defined map[string]backlog.ChannelInfo
}

// New creates a recorder writing to store.
func New(store Store, cfg Config) *Recorder {
	if cfg.Name == "" {
		cfg.Name = "recorder"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateCircuitBreakerState(name, int(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("recorder circuit breaker state changed")
		},
	}

	return &Recorder{
		store:   store,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		defined: make(map[string]backlog.ChannelInfo),
	}
}

// Record appends rec, defining its channel first if info is new or changed.
func (r *Recorder) Record(info backlog.ChannelInfo, rec backlog.Record) error {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		if err := r.define(info); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.store.Append(rec)
	})

	switch {
	case err == nil:
		metrics.RecordRecorderWrite("ok")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordRecorderWrite("dropped")
		return ErrDropped
	default:
		metrics.RecordRecorderWrite("error")
		logging.Warn().Err(err).Str("topic", rec.Topic).Msg("failed to record message")
		return fmt.Errorf("record %s at %d: %w", rec.Topic, rec.LogTime, err)
	}
}

func (r *Recorder) define(info backlog.ChannelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.defined[info.Topic]; ok && sameChannel(prev, info) {
		return nil
	}
	if err := r.store.DefineChannel(info); err != nil {
		return fmt.Errorf("define channel %s: %w", info.Topic, err)
	}
	r.defined[info.Topic] = info
	return nil
}

// State returns the breaker state name.
func (r *Recorder) State() string { return r.breaker.State().String() }

func sameChannel(a, b backlog.ChannelInfo) bool {
	return a.Encoding == b.Encoding &&
		a.SchemaName == b.SchemaName &&
		a.SchemaEncoding == b.SchemaEncoding &&
		string(a.Schema) == string(b.Schema)
}
