// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package auth

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

const testSecret = "this_is_a_very_long_secret_key_with_32_plus_characters"

var (
	_ Grantor = AllowAll{}
	_ Grantor = (*JWTGrantor)(nil)
)

func TestNewJWTManager(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid secret", testSecret, false},
		{"empty secret", "", true},
		{"short secret", "too-short", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJWTManager(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewJWTManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.GenerateToken("alice", []string{"operator"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "alice" || len(claims.Roles) != 1 || claims.Roles[0] != "operator" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	m, _ := NewJWTManager(testSecret)
	other, _ := NewJWTManager(testSecret + "-other")

	expired, _ := m.GenerateToken("bob", nil, -time.Minute)
	foreign, _ := other.GenerateToken("bob", nil, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ValidateToken(token); err == nil {
				t.Error("ValidateToken() accepted a bad token")
			}
		})
	}
}

func TestEnforcer_EmbeddedPolicy(t *testing.T) {
	e, err := NewEnforcer("", "viewer")
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	all := protocol.NewCapabilitySet(protocol.AllCapabilities...)

	tests := []struct {
		roles []string
		want  protocol.CapabilitySet
	}{
		{nil, protocol.NewCapabilitySet(protocol.CapTime, protocol.CapParametersSubscribe)},
		{[]string{"viewer"}, protocol.NewCapabilitySet(protocol.CapTime, protocol.CapParametersSubscribe)},
		{[]string{"operator"}, protocol.NewCapabilitySet(
			protocol.CapTime, protocol.CapParametersSubscribe,
			protocol.CapParameters, protocol.CapRangedPlayback, protocol.CapClientPublish,
		)},
		{[]string{"admin"}, all},
		{[]string{"stranger"}, 0},
	}
	for _, tt := range tests {
		got, err := e.Grants(tt.roles, all)
		if err != nil {
			t.Fatalf("Grants(%v) error = %v", tt.roles, err)
		}
		if got != tt.want {
			t.Errorf("Grants(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}

	// Never more than advertised.
	got, _ := e.Grants([]string{"admin"}, protocol.NewCapabilitySet(protocol.CapTime))
	if got != protocol.NewCapabilitySet(protocol.CapTime) {
		t.Errorf("Grants() exceeded advertised set: %v", got)
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(path, []byte("p, kiosk, time, use\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err := NewEnforcer(path, "")
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	if ok, _ := e.Allowed([]string{"kiosk"}, protocol.CapTime); !ok {
		t.Error("kiosk should be allowed time")
	}
	if ok, _ := e.Allowed([]string{"admin"}, protocol.CapTime); ok {
		t.Error("file policy should replace the embedded one")
	}
}

func TestJWTGrantor_Grant(t *testing.T) {
	m, _ := NewJWTManager(testSecret)
	e, _ := NewEnforcer("", "viewer")
	g := NewJWTGrantor(m, e)
	advertised := protocol.NewCapabilitySet(protocol.AllCapabilities...)
	token, _ := m.GenerateToken("op", []string{"operator"}, time.Hour)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		id, caps, err := g.Grant(r, advertised)
		if err != nil {
			t.Fatalf("Grant() error = %v", err)
		}
		if id.Subject != "op" || !caps.Has(protocol.CapRangedPlayback) || caps.Has(protocol.CapAssets) {
			t.Errorf("id=%+v caps=%v", id, caps)
		}
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws?token="+token, nil)
		if _, _, err := g.Grant(r, advertised); err != nil {
			t.Errorf("Grant() error = %v", err)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if _, _, err := g.Grant(r, advertised); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Grant() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Bearer nope")
		if _, _, err := g.Grant(r, advertised); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Grant() error = %v, want ErrUnauthorized", err)
		}
	})
}

func TestNewGrantor(t *testing.T) {
	g, err := NewGrantor(config.SecurityConfig{AuthMode: config.AuthModeNone})
	if err != nil {
		t.Fatal(err)
	}
	id, caps, _ := g.Grant(httptest.NewRequest("GET", "/ws", nil), protocol.NewCapabilitySet(protocol.CapTime))
	if id.Subject != Anonymous.Subject {
		t.Errorf("identity = %+v", id)
	}
	if caps != protocol.NewCapabilitySet(protocol.CapTime) {
		t.Errorf("caps = %v", caps)
	}

	if _, err := NewGrantor(config.SecurityConfig{AuthMode: config.AuthModeJWT, JWTSecret: testSecret, DefaultRole: "viewer"}); err != nil {
		t.Errorf("jwt grantor error = %v", err)
	}
	if _, err := NewGrantor(config.SecurityConfig{AuthMode: "ldap"}); err == nil {
		t.Error("unknown auth mode accepted")
	}
}
