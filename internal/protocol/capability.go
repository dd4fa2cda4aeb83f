// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Capability is an opt-in protocol feature.
type Capability string

const (
	CapClientPublish       Capability = "clientPublish"
	CapParameters          Capability = "parameters"
	CapParametersSubscribe Capability = "parametersSubscribe"
	CapServices            Capability = "services"
	CapConnectionGraph     Capability = "connectionGraph"
	CapAssets              Capability = "assets"
	CapTime                Capability = "time"
	CapRangedPlayback      Capability = "rangedPlayback"
)

// AllCapabilities lists every capability in advertisement order.
var AllCapabilities = []Capability{
	CapClientPublish,
	CapParameters,
	CapParametersSubscribe,
	CapServices,
	CapConnectionGraph,
	CapAssets,
	CapTime,
	CapRangedPlayback,
}

func (c Capability) bit() CapabilitySet {
	for i, known := range AllCapabilities {
		if known == c {
			return 1 << i
		}
	}
	return 0
}

// ParseCapability accepts a capability name, case-insensitively.
func ParseCapability(s string) (Capability, error) {
	for _, c := range AllCapabilities {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet uint16

// NewCapabilitySet builds a set from caps. Unknown values are ignored.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= c.bit()
	}
	return s
}

// ParseCapabilitySet parses capability names, failing on the first unknown one.
func ParseCapabilitySet(names []string) (CapabilitySet, error) {
	var s CapabilitySet
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return 0, err
		}
		s |= c.bit()
	}
	return s, nil
}

// Has reports whether every cap is in the set.
func (s CapabilitySet) Has(caps ...Capability) bool {
	for _, c := range caps {
		b := c.bit()
		if b == 0 || s&b == 0 {
			return false
		}
	}
	return true
}

// With returns s plus caps.
func (s CapabilitySet) With(caps ...Capability) CapabilitySet {
	return s | NewCapabilitySet(caps...)
}

// Without returns s minus caps.
func (s CapabilitySet) Without(caps ...Capability) CapabilitySet {
	return s &^ NewCapabilitySet(caps...)
}

// Intersect returns the capabilities present in both sets.
func (s CapabilitySet) Intersect(o CapabilitySet) CapabilitySet { return s & o }

// List returns the members in advertisement order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if s&c.bit() != 0 {
			out = append(out, c)
		}
	}
	return out
}

func (s CapabilitySet) String() string {
	list := s.List()
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as an array of names.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes an array of names.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseCapabilitySet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
