// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package auth decides which protocol capabilities a connecting client is
// granted.
//
// With auth disabled, AllowAll grants every advertised capability. With JWT
// auth, the client presents an HS256 token (Authorization: Bearer, or the
// token query parameter since browsers cannot set headers on websocket
// upgrades). The token's roles are resolved through a Casbin RBAC policy
// mapping roles to capabilities:
//
//	viewer    time, parametersSubscribe
//	operator  viewer + parameters, rangedPlayback, clientPublish
//	admin     operator + services, connectionGraph, assets
//
// The granted set is always the intersection of what the server advertises
// and what the policy allows.
package auth
