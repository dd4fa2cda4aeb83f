// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// ErrCapabilityDenied is reported when a session uses a capability it was
// not granted.
var ErrCapabilityDenied = errors.New("capability not granted")

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// removal reasons, also used as frame-drop metric labels.
const (
	reasonDisconnect = "disconnect"
	reasonSlowClient = "slow_client"
	reasonShutdown   = "shutdown"
)

// Options configures a Hub.
type Options struct {
	Name               string
	Capabilities       protocol.CapabilitySet
	SupportedEncodings []string
	Metadata           map[string]string

	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64

	// PublishRate limits client-published frames per second per session;
	// zero disables the limit.
	PublishRate  float64
	PublishBurst int

	// Assets serves fetchAsset requests; nil answers every fetch with an
	// error.
	Assets AssetFetcher
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Name:               "chronoscope",
		SupportedEncodings: []string{"json"},
		SendBuffer:         1024,
		WriteWait:          10 * time.Second,
		PongWait:           60 * time.Second,
		MaxMessageSize:     16 * 1024 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.PublishBurst <= 0 && o.PublishRate > 0 {
		o.PublishBurst = int(o.PublishRate)
		if o.PublishBurst < 1 {
			o.PublishBurst = 1
		}
	}
	return o
}

// Hub maintains the set of sessions and routes messages between them, the
// registry, the parameter store and playback.
type Hub struct {
	opts     Options
	registry *registry.Registry
	params   *params.Store
	listener Listener
	playback playbackBinding
	services serviceTable

	// graphDirty wakes the connection graph publisher; graph is the last
	// state it published and is owned by that goroutine.
	graphDirty chan struct{}
	graph      *connectionGraph

	// mu guards clients and ordered. Client send queues are only closed
	// under the write lock, so holding the read lock makes enqueue safe.
	mu      sync.RWMutex
	clients map[*Client]struct{}
	ordered []*Client

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub and subscribes it to registry changes. listener may
// be nil.
func NewHub(opts Options, reg *registry.Registry, store *params.Store, listener Listener) *Hub {
	if listener == nil {
		listener = NopListener{}
	}
	h := &Hub{
		opts:       opts.withDefaults(),
		registry:   reg,
		params:     store,
		listener:   listener,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		graphDirty: make(chan struct{}, 1),
	}
	h.services.entries = make(map[protocol.ServiceID]*registeredService)
	reg.AddListener(h)
	return h
}

func (h *Hub) pingPeriod() time.Duration { return (h.opts.PongWait * 9) / 10 }

// Capabilities returns the advertised capability set.
func (h *Hub) Capabilities() protocol.CapabilitySet { return h.opts.Capabilities }

// Accept wraps an upgraded connection in a session and hands it to the hub.
// The hub starts the session's pumps once it is registered.
func (h *Hub) Accept(ctx context.Context, conn *websocket.Conn, identity auth.Identity, granted protocol.CapabilitySet) (*Client, error) {
	c := newClient(ctx, h, conn, identity, granted.Intersect(h.opts.Capabilities))
	select {
	case h.register <- c:
		return c, nil
	case <-ctx.Done():
		c.cancel()
		return nil, ctx.Err()
	}
}

// unregisterClient asks the run loop to remove c, unless the hub already has.
func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-c.closed:
	}
}

// RunWithContext processes session lifecycle events until ctx ends, then
// closes every session. Registration is handled before unregistration so a
// burst of connects is never starved by disconnects.
func (h *Hub) RunWithContext(ctx context.Context) error {
	go h.publishConnectionGraph(ctx)
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.addClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c, reasonDisconnect)
		}
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	count := h.GetClientCount()
	h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// addClient registers c, sends it the server info and channel list, and
// starts its pumps and (in session mode) its playback loop.
func (h *Hub) addClient(c *Client) {
	if err := h.attachPlayback(c); err != nil {
		c.logger.Error().Err(err).Msg("failed to start session playback")
	}
	info := h.serverInfo(c)

	// Held across registration so no service change can slip between the
	// snapshot and the session joining the fan-out set.
	h.services.mu.RLock()
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.ordered = append(h.ordered, c)
	sort.Slice(h.ordered, func(i, j int) bool { return h.ordered[i].id < h.ordered[j].id })

	// Queued under the lock so no advertisement can overtake them.
	h.enqueueJSON(c, info, protocol.OpServerInfo)
	if channels := h.registry.Channels(); len(channels) > 0 {
		h.enqueueJSON(c, h.advertisement(channels), protocol.OpAdvertise)
	}
	if c.caps.Has(protocol.CapServices) {
		if adv, ok := h.services.advertisementLocked(); ok {
			h.enqueueJSON(c, adv, protocol.OpAdvertiseServices)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.services.mu.RUnlock()

	metrics.RecordSessionOpened()
	c.logger.Info().
		Str("capabilities", c.caps.String()).
		Int("total_clients", total).
		Msg("websocket client connected")

	h.greetPlayback(c)
	if c.conn != nil {
		c.start()
	}
	h.startSessionLoop(c)
}

// removeClient unregisters c and releases everything it held. It is safe to
// call more than once.
func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for i, o := range h.ordered {
		if o == c {
			h.ordered = append(h.ordered[:i], h.ordered[i+1:]...)
			break
		}
	}
	close(c.send)
	close(c.closed)
	total := len(h.clients)
	h.mu.Unlock()

	h.release(c)
	h.connectionGraphChanged()
	metrics.RecordSessionClosed()
	if reason == reasonSlowClient {
		metrics.RecordFrameDropped(reasonSlowClient)
		c.logger.Warn().Int("total_clients", total).Msg("send queue full, disconnecting slow client")
		return
	}
	c.logger.Info().Str("reason", reason).Int("total_clients", total).Msg("websocket client disconnected")
}

// release cancels the session's playback and tells the listener about every
// subscription and client channel the session held.
func (h *Hub) release(c *Client) {
	c.cancel()
	if c.playback != nil {
		c.playback.cancel()
	}
	subs, chans := c.drain()
	for _, id := range subs {
		h.listener.OnUnsubscribe(c.sessionID, id)
	}
	for _, id := range chans {
		h.listener.OnClientUnadvertise(c.sessionID, id)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.RLock()
	clients := append([]*Client(nil), h.ordered...)
	h.mu.RUnlock()
	for _, c := range clients {
		h.removeClient(c, reasonShutdown)
	}
}

// GetClientCount returns the number of connected sessions.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sessions returns the connected sessions in connection order.
func (h *Hub) Sessions() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Client(nil), h.ordered...)
}

func (h *Hub) serverInfo(c *Client) protocol.ServerInfo {
	info := protocol.ServerInfo{
		Op:                 protocol.OpServerInfo,
		Name:               h.opts.Name,
		Capabilities:       h.opts.Capabilities,
		SupportedEncodings: h.opts.SupportedEncodings,
		Metadata:           h.opts.Metadata,
		SessionID:          c.sessionID,
	}
	if h.opts.Capabilities.Has(protocol.CapRangedPlayback) {
		if start, end, ok := h.playbackRange(c); ok {
			info.DataStartTime = &start
			info.DataEndTime = &end
		}
	}
	return info
}

func (h *Hub) advertisement(channels []registry.Channel) protocol.Advertise {
	adv := protocol.Advertise{Op: protocol.OpAdvertise, Channels: make([]protocol.Channel, 0, len(channels))}
	for _, ch := range channels {
		var schema registry.Schema
		if ch.SchemaID != 0 {
			if s, err := h.registry.Schema(ch.SchemaID); err == nil {
				schema = s
			}
		}
		adv.Channels = append(adv.Channels, protocol.ChannelFromRegistry(ch, schema))
	}
	return adv
}

// enqueueJSON marshals msg and queues it for c. Callers hold h.mu.
func (h *Hub) enqueueJSON(c *Client, msg any, kind string) bool {
	data, err := protocol.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("op", kind).Msg("failed to marshal message")
		return true
	}
	return c.enqueue(outbound{messageType: websocket.TextMessage, data: data, kind: kind})
}

// sendTo queues one frame for c if it is still connected.
func (h *Hub) sendTo(c *Client, out outbound) {
	h.mu.RLock()
	_, ok := h.clients[c]
	queued := ok && c.enqueue(out)
	h.mu.RUnlock()
	if ok && !queued {
		h.removeClient(c, reasonSlowClient)
	}
}

func (h *Hub) sendJSON(c *Client, msg any, kind string) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("op", kind).Msg("failed to marshal message")
		return
	}
	h.sendTo(c, outbound{messageType: websocket.TextMessage, data: data, kind: kind})
}

// sendStatus reports a problem to one session.
func (h *Hub) sendStatus(c *Client, level protocol.StatusLevel, message, id string) {
	h.sendJSON(c, protocol.NewStatus(level, message, id), protocol.OpStatus)
}

// fanOut queues out for every session want accepts, disconnecting those
// whose queues are full.
func (h *Hub) fanOut(out outbound, want func(*Client) bool) {
	var slow []*Client
	h.mu.RLock()
	for _, c := range h.ordered {
		if want != nil && !want(c) {
			continue
		}
		if !c.enqueue(out) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.removeClient(c, reasonSlowClient)
	}
}

func (h *Hub) broadcastJSON(msg any, kind string, want func(*Client) bool) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("op", kind).Msg("failed to marshal broadcast")
		return
	}
	h.fanOut(outbound{messageType: websocket.TextMessage, data: data, kind: kind}, want)
}

// BroadcastMessage sends a data frame to every session subscribed to ch.
func (h *Hub) BroadcastMessage(ch registry.ChannelID, logTime uint64, payload []byte) {
	h.fanOut(dataFrame(ch, logTime, payload), func(c *Client) bool { return c.isSubscribed(ch) })
}

// BroadcastTime sends a time frame to every session granted Time.
func (h *Hub) BroadcastTime(logTime uint64) {
	h.fanOut(timeFrame(logTime), hasCap(protocol.CapTime))
}

func dataFrame(ch registry.ChannelID, logTime uint64, payload []byte) outbound {
	return outbound{
		messageType: websocket.BinaryMessage,
		data:        protocol.EncodeMessageData(ch, logTime, payload),
		kind:        "message_data",
		channel:     ch,
	}
}

func timeFrame(logTime uint64) outbound {
	return outbound{messageType: websocket.BinaryMessage, data: protocol.EncodeTime(logTime), kind: "time"}
}

func hasCap(caps ...protocol.Capability) func(*Client) bool {
	return func(c *Client) bool { return c.caps.Has(caps...) }
}

// ChannelAdded implements registry.Listener.
func (h *Hub) ChannelAdded(ch registry.Channel) {
	h.broadcastJSON(h.advertisement([]registry.Channel{ch}), protocol.OpAdvertise, nil)
	h.connectionGraphChanged()
}

// ChannelRemoved implements registry.Listener.
func (h *Hub) ChannelRemoved(id registry.ChannelID) {
	h.broadcastJSON(protocol.Unadvertise{Op: protocol.OpUnadvertise, ChannelIDs: []registry.ChannelID{id}}, protocol.OpUnadvertise, nil)
	h.connectionGraphChanged()
}

// RemoveChannel unsubscribes every session from id, then removes it from
// the registry, which broadcasts the unadvertisement.
func (h *Hub) RemoveChannel(id registry.ChannelID) error {
	for _, c := range h.Sessions() {
		for _, removed := range c.unsubscribe([]registry.ChannelID{id}) {
			h.listener.OnUnsubscribe(c.sessionID, removed)
		}
	}
	return h.registry.Remove(id)
}
