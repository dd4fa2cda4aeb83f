// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chronoscope/config.yaml",
	"/etc/chronoscope/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults; file and env layers override them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			Name:            "chronoscope",
			Environment:     "production",
			ShutdownTimeout: 10 * time.Second,
			Capabilities: []string{
				"clientPublish", "parameters", "parametersSubscribe", "time", "rangedPlayback",
				"services", "connectionGraph", "assets",
			},
			SupportedEncodings: []string{"json"},
		},
		WebSocket: WebSocketConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 16 * 1024 * 1024,
			SendBuffer:     1024,
		},
		Playback: PlaybackConfig{
			Mode:     PlaybackModeShared,
			Source:   SourceGenerator,
			MinSpeed: 0.01,
			NotifyHz: 60,
			IdlePoll: 20 * time.Millisecond,
			MaxSleep: 20 * time.Millisecond,
		},
		Generator: GeneratorConfig{
			Topic:    "/data",
			Count:    100,
			Interval: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Path:        "/data/recording",
			Compression: true,
		},
		SQL: SQLConfig{
			DSN:   "",
			Query: "SELECT log_time, topic, payload FROM messages ORDER BY log_time",
		},
		Params: ParamsConfig{
			ReadOnlyPrefix: "read_only_",
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   false,
			Host:             "127.0.0.1",
			Port:             4222,
			Subject:          "telemetry.>",
			QueueGroup:       "chronoscope",
			SubscribersCount: 1,
			MaxReconnects:    -1,
			ReconnectWait:    2 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		Recorder: RecorderConfig{
			Enabled:          false,
			Path:             "/data/recording",
			Compression:      true,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Assets: AssetsConfig{
			MaxSize: 16 * 1024 * 1024,
		},
		Security: SecurityConfig{
			AuthMode:          AuthModeNone,
			DefaultRole:       "viewer",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			PublishRate:       1000,
			PublishBurst:      2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration with precedence ENV > file > defaults,
// then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PLAYBACK_MODE -> playback.mode, NATS_URL -> nats.url
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set via env.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"websocket.allowed_origins",
	"server.capabilities",
	"server.supported_encodings",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	"http_host":        "server.host",
	"http_port":        "server.port",
	"server_name":      "server.name",
	"environment":      "server.environment",
	"shutdown_timeout": "server.shutdown_timeout",
	"capabilities":     "server.capabilities",
	"encodings":        "server.supported_encodings",

	"ws_write_wait":       "websocket.write_wait",
	"ws_pong_wait":        "websocket.pong_wait",
	"ws_max_message_size": "websocket.max_message_size",
	"ws_send_buffer":      "websocket.send_buffer",
	"ws_allowed_origins":  "websocket.allowed_origins",

	"playback_mode":      "playback.mode",
	"playback_source":    "playback.source",
	"playback_min_speed": "playback.min_speed",
	"playback_notify_hz": "playback.notify_hz",
	"playback_idle_poll": "playback.idle_poll",
	"playback_max_sleep": "playback.max_sleep",

	"generator_topic":      "generator.topic",
	"generator_count":      "generator.count",
	"generator_interval":   "generator.interval",
	"generator_start_time": "generator.start_time",

	"log_path":        "log.path",
	"log_compression": "log.compression",

	"sql_dsn":           "sql.dsn",
	"sql_query":         "sql.query",
	"sql_channel_query": "sql.channel_query",

	"params_read_only_prefix": "params.read_only_prefix",

	"nats_enabled":           "nats.enabled",
	"nats_url":               "nats.url",
	"nats_embedded":          "nats.embedded_server",
	"nats_host":              "nats.host",
	"nats_port":              "nats.port",
	"nats_store_dir":         "nats.store_dir",
	"nats_subject":           "nats.subject",
	"nats_queue_group":       "nats.queue_group",
	"nats_subscribers_count": "nats.subscribers_count",
	"nats_max_reconnects":    "nats.max_reconnects",
	"nats_reconnect_wait":    "nats.reconnect_wait",

	"recorder_enabled":           "recorder.enabled",
	"recorder_path":              "recorder.path",
	"recorder_compression":       "recorder.compression",
	"recorder_failure_threshold": "recorder.failure_threshold",
	"recorder_open_timeout":      "recorder.open_timeout",

	"assets_root":     "assets.root",
	"assets_max_size": "assets.max_size",

	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"casbin_policy_path":  "security.casbin_policy_path",
	"default_role":        "security.default_role",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_requests",
	"rate_limit_window":   "security.rate_limit_window",
	"publish_rate":        "security.publish_rate",
	"publish_burst":       "security.publish_burst",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
