// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package auth

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/chronoscope/internal/protocol"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// actionUse is the only action capabilities are checked for.
const actionUse = "use"

// Enforcer maps roles to capabilities with a Casbin RBAC policy.
type Enforcer struct {
	enforcer    *casbin.SyncedEnforcer
	defaultRole string
}

// NewEnforcer loads the policy from policyPath, or the embedded default
// policy when the path is empty or missing. Clients without roles are
// evaluated as defaultRole.
func NewEnforcer(policyPath, defaultRole string) (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if policyPath != "" && fileExists(policyPath) {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &Enforcer{enforcer: enforcer, defaultRole: defaultRole}, nil
}

// loadEmbeddedPolicy parses policy CSV lines into the enforcer.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		ptype, rule := parts[0], parts[1:]

		switch {
		case ptype == "p" && len(rule) >= 3:
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", rule, err)
			}
		case ptype == "g" && len(rule) >= 2:
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

// Allowed reports whether any of roles may use c.
func (e *Enforcer) Allowed(roles []string, c protocol.Capability) (bool, error) {
	if len(roles) == 0 && e.defaultRole != "" {
		roles = []string{e.defaultRole}
	}
	for _, role := range roles {
		ok, err := e.enforcer.Enforce(role, string(c), actionUse)
		if err != nil {
			return false, fmt.Errorf("enforcement failed: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Grants returns the subset of advertised capabilities roles may use.
func (e *Enforcer) Grants(roles []string, advertised protocol.CapabilitySet) (protocol.CapabilitySet, error) {
	var granted protocol.CapabilitySet
	for _, c := range advertised.List() {
		ok, err := e.Allowed(roles, c)
		if err != nil {
			return 0, err
		}
		if ok {
			granted = granted.With(c)
		}
	}
	return granted, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
