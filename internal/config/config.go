// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package config loads Chronoscope configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables. See LoadWithKoanf.
package config

import (
	"net"
	"strconv"
	"time"
)

// Playback modes.
const (
	PlaybackModeShared   = "shared"
	PlaybackModeSession  = "session"
	PlaybackModeDisabled = "disabled"
)

// Playback source kinds.
const (
	SourceGenerator = "generator"
	SourceLog       = "log"
	SourceSQL       = "sql"
)

// Auth modes.
const (
	AuthModeNone = "none"
	AuthModeJWT  = "jwt"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Playback   PlaybackConfig   `koanf:"playback"`
	Generator  GeneratorConfig  `koanf:"generator"`
	Log        LogConfig        `koanf:"log"`
	SQL        SQLConfig        `koanf:"sql"`
	Params     ParamsConfig     `koanf:"params"`
	NATS       NATSConfig       `koanf:"nats"`
	Recorder   RecorderConfig   `koanf:"recorder"`
	Assets     AssetsConfig     `koanf:"assets"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener and server identity settings.
type ServerConfig struct {
	Host            string            `koanf:"host"`
	Port            int               `koanf:"port"`
	Name            string            `koanf:"name"`
	Environment     string            `koanf:"environment"`
	ShutdownTimeout time.Duration     `koanf:"shutdown_timeout"`
	Metadata        map[string]string `koanf:"metadata"`

	// Capabilities advertised to clients. Time and rangedPlayback are
	// withheld when playback is disabled, assets when no asset root is set.
	Capabilities       []string `koanf:"capabilities"`
	SupportedEncodings []string `koanf:"supported_encodings"`
}

// WebSocketConfig holds per-connection transport settings.
type WebSocketConfig struct {
	WriteWait      time.Duration `koanf:"write_wait"`
	PongWait       time.Duration `koanf:"pong_wait"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// PlaybackConfig selects and tunes the playback engine.
type PlaybackConfig struct {
	// Mode is shared (one clock for every client), session (one per client) or disabled.
	Mode     string        `koanf:"mode"`
	Source   string        `koanf:"source"`
	MinSpeed float64       `koanf:"min_speed"`
	NotifyHz float64       `koanf:"notify_hz"`
	IdlePoll time.Duration `koanf:"idle_poll"`
	MaxSleep time.Duration `koanf:"max_sleep"`
}

// GeneratorConfig describes the synthetic source.
type GeneratorConfig struct {
	Topic     string        `koanf:"topic"`
	Count     int           `koanf:"count"`
	Interval  time.Duration `koanf:"interval"`
	StartTime uint64        `koanf:"start_time"`
}

// LogConfig points at a badger recording used by the log source.
type LogConfig struct {
	Path        string `koanf:"path"`
	Compression bool   `koanf:"compression"`
}

// SQLConfig configures the DuckDB-backed custom loader.
type SQLConfig struct {
	DSN          string `koanf:"dsn"`
	Query        string `koanf:"query"`
	ChannelQuery string `koanf:"channel_query"`
}

// ParamsConfig configures the parameter store.
type ParamsConfig struct {
	ReadOnlyPrefix string         `koanf:"read_only_prefix"`
	Seed           map[string]any `koanf:"seed"`
}

// NATSConfig configures live ingest.
type NATSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	Host             string        `koanf:"host"`
	Port             int           `koanf:"port"`
	StoreDir         string        `koanf:"store_dir"`
	Subject          string        `koanf:"subject"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	MaxReconnects    int           `koanf:"max_reconnects"`
	ReconnectWait    time.Duration `koanf:"reconnect_wait"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// RecorderConfig configures durable recording of live traffic.
type RecorderConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Path             string        `koanf:"path"`
	Compression      bool          `koanf:"compression"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// AssetsConfig configures fetchAsset. An empty Root disables it.
type AssetsConfig struct {
	Root    string `koanf:"root"`
	MaxSize int64  `koanf:"max_size"`
}

// SecurityConfig holds authentication, authorization and rate limits.
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	CasbinPolicyPath  string        `koanf:"casbin_policy_path"`
	DefaultRole       string        `koanf:"default_role"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	PublishRate       float64       `koanf:"publish_rate"`
	PublishBurst      int           `koanf:"publish_burst"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
