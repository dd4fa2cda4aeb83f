// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package config

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWebSocket(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateRecorder(); err != nil {
		return err
	}
	if err := c.validateAssets(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Name) == "" {
		return fmt.Errorf("SERVER_NAME must not be empty")
	}
	return nil
}

func (c *Config) validateWebSocket() error {
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("WS_PONG_WAIT and WS_WRITE_WAIT must be positive")
	}
	if c.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1, got %d", c.WebSocket.SendBuffer)
	}
	if c.WebSocket.MaxMessageSize < 1024 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be at least 1024, got %d", c.WebSocket.MaxMessageSize)
	}
	return nil
}

func (c *Config) validatePlayback() error {
	switch c.Playback.Mode {
	case PlaybackModeShared, PlaybackModeSession, PlaybackModeDisabled:
	default:
		return fmt.Errorf("PLAYBACK_MODE must be one of shared, session, disabled; got %q", c.Playback.Mode)
	}
	if c.Playback.Mode == PlaybackModeDisabled {
		return nil
	}
	if math.IsNaN(c.Playback.MinSpeed) || c.Playback.MinSpeed <= 0 {
		return fmt.Errorf("PLAYBACK_MIN_SPEED must be positive, got %v", c.Playback.MinSpeed)
	}
	if c.Playback.NotifyHz <= 0 {
		return fmt.Errorf("PLAYBACK_NOTIFY_HZ must be positive, got %v", c.Playback.NotifyHz)
	}
	if c.Playback.MaxSleep <= 0 || c.Playback.IdlePoll <= 0 {
		return fmt.Errorf("PLAYBACK_MAX_SLEEP and PLAYBACK_IDLE_POLL must be positive")
	}

	switch c.Playback.Source {
	case SourceGenerator:
		if c.Generator.Interval <= 0 {
			return fmt.Errorf("GENERATOR_INTERVAL must be positive")
		}
		if c.Generator.Count < 0 {
			return fmt.Errorf("GENERATOR_COUNT must not be negative")
		}
		if c.Generator.Topic == "" {
			return fmt.Errorf("GENERATOR_TOPIC is required")
		}
	case SourceLog:
		if c.Log.Path == "" {
			return fmt.Errorf("LOG_PATH is required when PLAYBACK_SOURCE=log")
		}
	case SourceSQL:
		if c.SQL.Query == "" {
			return fmt.Errorf("SQL_QUERY is required when PLAYBACK_SOURCE=sql")
		}
	default:
		return fmt.Errorf("PLAYBACK_SOURCE must be one of generator, log, sql; got %q", c.Playback.Source)
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_ENABLED=true")
	}
	if !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when the embedded server is disabled")
	}
	if c.NATS.SubscribersCount < 1 {
		return fmt.Errorf("NATS_SUBSCRIBERS_COUNT must be at least 1")
	}
	return nil
}

func (c *Config) validateRecorder() error {
	if !c.Recorder.Enabled {
		return nil
	}
	if c.Recorder.Path == "" {
		return fmt.Errorf("RECORDER_PATH is required when RECORDER_ENABLED=true")
	}
	if c.Playback.Source == SourceLog && c.Playback.Mode != PlaybackModeDisabled &&
		filepath.Clean(c.Recorder.Path) == filepath.Clean(c.Log.Path) {
		return fmt.Errorf("RECORDER_PATH must differ from LOG_PATH; badger holds an exclusive directory lock")
	}
	return nil
}

func (c *Config) validateAssets() error {
	if c.Assets.Root == "" {
		return nil
	}
	if c.Assets.MaxSize < 1 {
		return fmt.Errorf("ASSETS_MAX_SIZE must be positive, got %d", c.Assets.MaxSize)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	switch c.Security.AuthMode {
	case AuthModeNone:
	case AuthModeJWT:
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be none or jwt; got %q", c.Security.AuthMode)
	}
	if c.Security.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative")
	}
	if c.Security.PublishRate < 0 || c.Security.PublishBurst < 0 {
		return fmt.Errorf("PUBLISH_RATE and PUBLISH_BURST must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a recognised level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console; got %q", c.Logging.Format)
	}
}
