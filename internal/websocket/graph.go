// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"slices"
	"sort"

	"github.com/tomtom215/chronoscope/internal/protocol"
)

// connectionGraph maps topic and service names to the sorted ids of the
// sessions (or the server) on each side.
type connectionGraph struct {
	published  map[string][]string
	subscribed map[string][]string
	services   map[string][]string
}

// connectionGraphChanged wakes the graph publisher. It never blocks, so it
// may be called with any lock held.
func (h *Hub) connectionGraphChanged() {
	select {
	case h.graphDirty <- struct{}{}:
	default:
	}
}

func (h *Hub) subscribeConnectionGraph(c *Client) {
	c.setGraphSubscribed(true)
	h.connectionGraphChanged()
}

// publishConnectionGraph sends graph updates until ctx ends. It is the only
// reader and writer of h.graph.
func (h *Hub) publishConnectionGraph(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.graphDirty:
			h.refreshConnectionGraph()
		}
	}
}

func (h *Hub) refreshConnectionGraph() {
	type target struct {
		c    *Client
		full bool
	}
	var targets []target
	for _, c := range h.Sessions() {
		if !c.caps.Has(protocol.CapConnectionGraph) {
			continue
		}
		if on, full := c.graphState(); on {
			targets = append(targets, target{c, full})
		}
	}
	if len(targets) == 0 {
		// Nobody follows the graph; the next subscriber gets it in full.
		h.graph = nil
		return
	}

	next := h.buildConnectionGraph()
	diff := diffConnectionGraph(h.graph, next)
	var full *protocol.ConnectionGraphUpdate
	for _, t := range targets {
		if t.full {
			if full == nil {
				u := diffConnectionGraph(nil, next)
				full = &u
			}
			h.sendJSON(t.c, full, protocol.OpConnectionGraphUpdate)
			continue
		}
		if !diff.Empty() {
			h.sendJSON(t.c, diff, protocol.OpConnectionGraphUpdate)
		}
	}
	h.graph = next
}

func (h *Hub) buildConnectionGraph() *connectionGraph {
	g := &connectionGraph{
		published:  make(map[string][]string),
		subscribed: make(map[string][]string),
		services:   make(map[string][]string),
	}
	for _, ch := range h.registry.Channels() {
		g.published[ch.Topic] = append(g.published[ch.Topic], h.opts.Name)
	}
	for _, name := range h.services.names() {
		g.services[name] = []string{h.opts.Name}
	}
	for _, c := range h.Sessions() {
		c.mu.RLock()
		for _, ch := range c.clientChannels {
			g.published[ch.Topic] = append(g.published[ch.Topic], c.sessionID)
		}
		for id := range c.subscriptions {
			if ch, err := h.registry.Channel(id); err == nil {
				g.subscribed[ch.Topic] = append(g.subscribed[ch.Topic], c.sessionID)
			}
		}
		c.mu.RUnlock()
	}
	for _, m := range []map[string][]string{g.published, g.subscribed, g.services} {
		for k, ids := range m {
			sort.Strings(ids)
			m[k] = slices.Compact(ids)
		}
	}
	return g
}

// diffConnectionGraph returns the update that turns prev into next. A nil
// prev yields the whole of next. A topic still present on one side is sent
// with an empty list for the side it left; a topic gone from both is
// removed.
func diffConnectionGraph(prev, next *connectionGraph) protocol.ConnectionGraphUpdate {
	if prev == nil {
		prev = &connectionGraph{}
	}
	u := protocol.ConnectionGraphUpdate{
		Op:                 protocol.OpConnectionGraphUpdate,
		PublishedTopics:    []protocol.PublishedTopic{},
		SubscribedTopics:   []protocol.SubscribedTopic{},
		AdvertisedServices: []protocol.AdvertisedService{},
		RemovedTopics:      []string{},
		RemovedServices:    []string{},
	}

	for _, name := range changedKeys(prev.published, next.published) {
		u.PublishedTopics = append(u.PublishedTopics, protocol.PublishedTopic{Name: name, PublisherIDs: orEmpty(next.published[name])})
	}
	for _, name := range changedKeys(prev.subscribed, next.subscribed) {
		u.SubscribedTopics = append(u.SubscribedTopics, protocol.SubscribedTopic{Name: name, SubscriberIDs: orEmpty(next.subscribed[name])})
	}
	for _, name := range changedKeys(prev.services, next.services) {
		if ids, ok := next.services[name]; ok {
			u.AdvertisedServices = append(u.AdvertisedServices, protocol.AdvertisedService{Name: name, ProviderIDs: ids})
		} else {
			u.RemovedServices = append(u.RemovedServices, name)
		}
	}

	// Topics that left one side but not the other were reported above with
	// an empty list; drop those and keep only topics gone from both.
	var gone []string
	for _, topics := range []map[string][]string{prev.published, prev.subscribed} {
		for name := range topics {
			if _, ok := next.published[name]; ok {
				continue
			}
			if _, ok := next.subscribed[name]; ok {
				continue
			}
			gone = append(gone, name)
		}
	}
	sort.Strings(gone)
	u.RemovedTopics = append(u.RemovedTopics, slices.Compact(gone)...)
	u.PublishedTopics = slices.DeleteFunc(u.PublishedTopics, func(t protocol.PublishedTopic) bool {
		return slices.Contains(u.RemovedTopics, t.Name)
	})
	u.SubscribedTopics = slices.DeleteFunc(u.SubscribedTopics, func(t protocol.SubscribedTopic) bool {
		return slices.Contains(u.RemovedTopics, t.Name)
	})
	return u
}

// changedKeys returns, sorted, the keys whose id lists differ between prev
// and next, including keys present in only one of them.
func changedKeys(prev, next map[string][]string) []string {
	var out []string
	for k, ids := range next {
		if old, ok := prev[k]; !ok || !slices.Equal(old, ids) {
			out = append(out, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
