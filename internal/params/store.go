// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

// Package params implements the shared parameter store.
//
// Every Get and Set runs as one critical section, so a concurrent reader
// sees either all or none of a Set. Names carrying the read-only prefix
// cannot be changed by clients; Set echoes their stored value instead.
package params

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// DefaultReadOnlyPrefix marks parameters clients may not modify.
const DefaultReadOnlyPrefix = "read_only_"

// Parameter is a named value. A nil Value means the parameter is unset.
type Parameter struct {
	Name  string `validate:"required,max=256"`
	Value *Value
}

// New returns a Parameter holding v.
func New(name string, v Value) Parameter {
	return Parameter{Name: name, Value: &v}
}

type wireParameter struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
	Type  string          `json:"type,omitempty"`
}

// MarshalJSON adds the byte_array type tag for byte values.
func (p Parameter) MarshalJSON() ([]byte, error) {
	w := wireParameter{Name: p.Name}
	if p.Value != nil {
		raw, err := p.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Value = raw
		if p.Value.Kind() == KindBytes {
			w.Type = typeByteArray
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes base64 strings tagged byte_array into byte values.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var w wireParameter
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Name = w.Name
	p.Value = nil
	if len(w.Value) == 0 || string(w.Value) == "null" {
		return nil
	}

	if w.Type == typeByteArray {
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("params: byte_array value must be a string: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("params: byte_array value is not base64: %w", err)
		}
		v := Bytes(b)
		p.Value = &v
		return nil
	}

	var v Value
	if err := v.UnmarshalJSON(w.Value); err != nil {
		return err
	}
	p.Value = &v
	return nil
}

// Store is a mutable name-to-value map guarded by a single lock.
type Store struct {
	mu             sync.Mutex
	readOnlyPrefix string
	values         map[string]Parameter
}

// NewStore creates an empty store. An empty prefix selects DefaultReadOnlyPrefix.
func NewStore(readOnlyPrefix string) *Store {
	if readOnlyPrefix == "" {
		readOnlyPrefix = DefaultReadOnlyPrefix
	}
	return &Store{
		readOnlyPrefix: readOnlyPrefix,
		values:         make(map[string]Parameter),
	}
}

// IsReadOnly reports whether clients are barred from changing name.
func (s *Store) IsReadOnly(name string) bool {
	return strings.HasPrefix(name, s.readOnlyPrefix)
}

// Get returns the named parameters in request order, skipping unknown and
// duplicate names. An empty request returns every parameter sorted by name.
func (s *Store) Get(names []string) []Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(names) == 0 {
		out := make([]Parameter, 0, len(s.values))
		for _, p := range s.values {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}

	out := make([]Parameter, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if p, ok := s.values[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Set applies client updates and echoes the resulting value of each entry.
// Read-only names are left untouched and echo the stored value, or an unset
// parameter when nothing is stored under that name.
func (s *Store) Set(values []Parameter) []Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Parameter, 0, len(values))
	for _, p := range values {
		if s.IsReadOnly(p.Name) {
			if stored, ok := s.values[p.Name]; ok {
				out = append(out, stored)
			} else {
				out = append(out, Parameter{Name: p.Name})
			}
			continue
		}
		s.values[p.Name] = p
		out = append(out, p)
	}
	return out
}

// Put stores values without the read-only check. It is meant for the
// application that owns the store, not for client requests.
func (s *Store) Put(values ...Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range values {
		s.values[p.Name] = p
	}
}

// Len returns the number of stored parameters.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Seed stores raw configuration values, converting each with FromAny.
func (s *Store) Seed(raw map[string]any) error {
	seeded := make([]Parameter, 0, len(raw))
	for name, x := range raw {
		v, err := FromAny(x)
		if err != nil {
			return fmt.Errorf("seed parameter %q: %w", name, err)
		}
		seeded = append(seeded, New(name, v))
	}
	s.Put(seeded...)
	return nil
}
