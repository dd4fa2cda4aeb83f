// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package dataloader loads whole recordings through DuckDB so operators can
// replay CSV, Parquet or any other table function as a playback source.
package dataloader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/chronoscope/internal/backlog"
	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/logging"
)

// ErrNoQuery is returned when no record query is configured.
var ErrNoQuery = errors.New("dataloader: record query is empty")

// DefaultEncoding is used for topics the channel query does not describe.
const DefaultEncoding = "json"

// memoryDSN keeps DuckDB from downloading extensions at load time.
const memoryDSN = ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false"

// SQLLoader runs a query returning (log_time, topic, payload) rows. An
// optional channel query returns (topic, encoding, schema_name,
// schema_encoding, schema) rows describing the topics.
type SQLLoader struct {
	dsn          string
	query        string
	channelQuery string
}

// NewSQLLoader creates a loader from configuration. An empty DSN opens an
// in-memory database.
func NewSQLLoader(cfg config.SQLConfig) *SQLLoader {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = memoryDSN
	}
	return &SQLLoader{dsn: dsn, query: cfg.Query, channelQuery: cfg.ChannelQuery}
}

// Load implements playback.Loader.
func (l *SQLLoader) Load(ctx context.Context) ([]backlog.ChannelInfo, []backlog.Record, error) {
	if l.query == "" {
		return nil, nil, ErrNoQuery
	}

	conn, err := sql.Open("duckdb", l.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer closeQuietly(conn)

	start := time.Now()
	records, err := l.loadRecords(ctx, conn)
	if err != nil {
		return nil, nil, err
	}

	described := map[string]backlog.ChannelInfo{}
	if l.channelQuery != "" {
		if described, err = l.loadChannels(ctx, conn); err != nil {
			return nil, nil, err
		}
	}

	channels := make([]backlog.ChannelInfo, 0, len(described))
	seen := make(map[string]struct{})
	for _, rec := range records {
		if _, ok := seen[rec.Topic]; ok {
			continue
		}
		seen[rec.Topic] = struct{}{}
		info, ok := described[rec.Topic]
		if !ok {
			info = backlog.ChannelInfo{Topic: rec.Topic, Encoding: DefaultEncoding}
		}
		channels = append(channels, info)
	}

	logging.Info().
		Str("component", "dataloader").
		Int("records", len(records)).
		Int("channels", len(channels)).
		Dur("duration", time.Since(start)).
		Msg("Loaded recording through DuckDB")
	return channels, records, nil
}

func (l *SQLLoader) loadRecords(ctx context.Context, conn *sql.DB) ([]backlog.Record, error) {
	rows, err := conn.QueryContext(ctx, l.query)
	if err != nil {
		return nil, fmt.Errorf("failed to run record query: %w", err)
	}
	defer rows.Close()

	var records []backlog.Record
	for rows.Next() {
		var (
			rawTime any
			topic   string
			payload []byte
		)
		if err := rows.Scan(&rawTime, &topic, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record row %d: %w", len(records)+1, err)
		}
		logTime, err := toLogTime(rawTime)
		if err != nil {
			return nil, fmt.Errorf("record row %d: %w", len(records)+1, err)
		}
		records = append(records, backlog.Record{LogTime: logTime, Topic: topic, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return records, nil
}

func (l *SQLLoader) loadChannels(ctx context.Context, conn *sql.DB) (map[string]backlog.ChannelInfo, error) {
	rows, err := conn.QueryContext(ctx, l.channelQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to run channel query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]backlog.ChannelInfo)
	for rows.Next() {
		var (
			info                       backlog.ChannelInfo
			schemaName, schemaEncoding sql.NullString
			schema                     []byte
		)
		if err := rows.Scan(&info.Topic, &info.Encoding, &schemaName, &schemaEncoding, &schema); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		info.SchemaName = schemaName.String
		info.SchemaEncoding = schemaEncoding.String
		info.Schema = schema
		out[info.Topic] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channel rows: %w", err)
	}
	return out, nil
}

// toLogTime accepts integer nanoseconds or a timestamp.
func toLogTime(v any) (uint64, error) {
	switch t := v.(type) {
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("negative log_time %d", t)
		}
		return uint64(t), nil
	case int32:
		if t < 0 {
			return 0, fmt.Errorf("negative log_time %d", t)
		}
		return uint64(t), nil
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case time.Time:
		ns := t.UnixNano()
		if ns < 0 {
			return 0, fmt.Errorf("log_time %s is before the epoch", t)
		}
		return uint64(ns), nil
	case nil:
		return 0, errors.New("log_time is NULL")
	default:
		return 0, fmt.Errorf("unsupported log_time type %T", v)
	}
}

func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close duckdb connection")
	}
}
