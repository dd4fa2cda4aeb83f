// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/chronoscope/internal/config"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

// ErrUnauthorized is returned when a request carries no valid credentials.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is the authenticated principal behind a session.
type Identity struct {
	Subject string
	Roles   []string
}

// Anonymous is the identity used when auth is disabled.
var Anonymous = Identity{Subject: "anonymous"}

// Grantor authenticates an upgrade request and decides its capabilities.
type Grantor interface {
	Grant(r *http.Request, advertised protocol.CapabilitySet) (Identity, protocol.CapabilitySet, error)
}

// AllowAll grants everything advertised to everyone.
type AllowAll struct{}

// Grant implements Grantor.
func (AllowAll) Grant(_ *http.Request, advertised protocol.CapabilitySet) (Identity, protocol.CapabilitySet, error) {
	return Anonymous, advertised, nil
}

// JWTGrantor authenticates bearer tokens and maps their roles through an
// Enforcer.
type JWTGrantor struct {
	jwt      *JWTManager
	enforcer *Enforcer
}

// NewJWTGrantor creates a grantor.
func NewJWTGrantor(jwt *JWTManager, enforcer *Enforcer) *JWTGrantor {
	return &JWTGrantor{jwt: jwt, enforcer: enforcer}
}

// Grant implements Grantor.
func (g *JWTGrantor) Grant(r *http.Request, advertised protocol.CapabilitySet) (Identity, protocol.CapabilitySet, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Identity{}, 0, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	claims, err := g.jwt.ValidateToken(raw)
	if err != nil {
		return Identity{}, 0, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	id := Identity{Subject: claims.Subject, Roles: claims.Roles}
	granted, err := g.enforcer.Grants(id.Roles, advertised)
	if err != nil {
		return Identity{}, 0, err
	}
	return id, granted, nil
}

// tokenFromRequest reads "Authorization: Bearer <t>" or the token query
// parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return r.URL.Query().Get("token")
}

// NewGrantor builds the grantor selected by cfg.AuthMode.
func NewGrantor(cfg config.SecurityConfig) (Grantor, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone, "":
		return AllowAll{}, nil
	case config.AuthModeJWT:
		m, err := NewJWTManager(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		e, err := NewEnforcer(cfg.CasbinPolicyPath, cfg.DefaultRole)
		if err != nil {
			return nil, err
		}
		return NewJWTGrantor(m, e), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}
