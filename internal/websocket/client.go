// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/chronoscope/internal/auth"
	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

// clientIDCounter orders clients for deterministic fan-out.
var clientIDCounter atomic.Uint64

// outbound is one queued frame.
type outbound struct {
	messageType int
	data        []byte
	kind        string

	// channel is set on data frames; the write pump drops the frame if the
	// session is no longer subscribed to it.
	channel registry.ChannelID
}

// sessionPlayback is the controller driving a session-mode session.
type sessionPlayback struct {
	ctrl   *playback.Controller
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Client is one connected session.
type Client struct {
	id        uint64
	sessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan outbound

	// closed is closed by the hub when the client is removed.
	closed chan struct{}

	// ctx carries the session id and logger, and is cancelled when the
	// session ends. Playback, service calls and asset fetches run under it.
	ctx    context.Context
	cancel context.CancelFunc

	identity auth.Identity
	caps     protocol.CapabilitySet
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu             sync.RWMutex
	subscriptions  map[registry.ChannelID]struct{}
	clientChannels map[protocol.ClientChannelID]protocol.ClientChannel
	paramSubs      map[string]struct{}

	// graphSubscribed is set while the session follows the connection
	// graph; graphFull asks for a complete graph on the next update.
	graphSubscribed bool
	graphFull       bool

	playback *sessionPlayback
}

func newClient(parent context.Context, hub *Hub, conn *websocket.Conn, identity auth.Identity, caps protocol.CapabilitySet) *Client {
	sessionID := uuid.NewString()

	// The session outlives the upgrade request; only its correlation id
	// carries over.
	ctx := logging.ContextWithSessionID(context.Background(), sessionID)
	if id := logging.CorrelationIDFromContext(parent); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	ctx = logging.ContextWithLogger(ctx, logging.With().Str("subject", identity.Subject).Logger())
	ctx, cancel := context.WithCancel(ctx)

	c := &Client{
		id:             clientIDCounter.Add(1),
		sessionID:      sessionID,
		hub:            hub,
		conn:           conn,
		send:           make(chan outbound, hub.opts.SendBuffer),
		closed:         make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		identity:       identity,
		caps:           caps,
		logger:         *logging.Ctx(ctx),
		subscriptions:  make(map[registry.ChannelID]struct{}),
		clientChannels: make(map[protocol.ClientChannelID]protocol.ClientChannel),
		paramSubs:      make(map[string]struct{}),
	}
	if hub.opts.PublishRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.opts.PublishRate), hub.opts.PublishBurst)
	}
	return c
}

// ID returns the fan-out ordering key.
func (c *Client) ID() uint64 { return c.id }

// SessionID returns the session's public identifier.
func (c *Client) SessionID() string { return c.sessionID }

// Capabilities returns the granted capability set.
func (c *Client) Capabilities() protocol.CapabilitySet { return c.caps }

// enqueue adds a frame without blocking. It must be called with the hub
// lock held and the client still registered.
func (c *Client) enqueue(out outbound) bool {
	select {
	case c.send <- out:
		return true
	default:
		return false
	}
}

func (c *Client) isSubscribed(ch registry.ChannelID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[ch]
	return ok
}

// subscribe adds ids and returns the ones that were not already present.
func (c *Client) subscribe(ids []registry.ChannelID) []registry.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []registry.ChannelID
	for _, id := range ids {
		if _, ok := c.subscriptions[id]; ok {
			continue
		}
		c.subscriptions[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// unsubscribe removes ids and returns the ones that were present.
func (c *Client) unsubscribe(ids []registry.ChannelID) []registry.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []registry.ChannelID
	for _, id := range ids {
		if _, ok := c.subscriptions[id]; !ok {
			continue
		}
		delete(c.subscriptions, id)
		removed = append(removed, id)
	}
	return removed
}

// Subscriptions returns the subscribed channel ids in ascending order.
func (c *Client) Subscriptions() []registry.ChannelID {
	c.mu.RLock()
	out := make([]registry.ChannelID, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Client) advertise(ch protocol.ClientChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientChannels[ch.ID] = ch
}

func (c *Client) unadvertise(id protocol.ClientChannelID) (protocol.ClientChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.clientChannels[id]
	delete(c.clientChannels, id)
	return ch, ok
}

func (c *Client) clientChannel(id protocol.ClientChannelID) (protocol.ClientChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.clientChannels[id]
	return ch, ok
}

func (c *Client) subscribeParams(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.paramSubs[n] = struct{}{}
	}
}

func (c *Client) unsubscribeParams(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		delete(c.paramSubs, n)
	}
}

func (c *Client) wantsParam(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.paramSubs[name]
	return ok
}

// setGraphSubscribed changes the connection graph subscription and reports
// whether it changed. Subscribing requests a full graph.
func (c *Client) setGraphSubscribed(on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graphSubscribed == on {
		return false
	}
	c.graphSubscribed = on
	c.graphFull = on
	return true
}

// graphState reports the connection graph subscription and clears the
// full-graph request.
func (c *Client) graphState() (subscribed, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subscribed, full = c.graphSubscribed, c.graphFull
	c.graphFull = false
	return subscribed, full
}

// drain empties the session's subscription and advertisement state.
func (c *Client) drain() ([]registry.ChannelID, []protocol.ClientChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]registry.ChannelID, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		subs = append(subs, id)
	}
	chans := make([]protocol.ClientChannelID, 0, len(c.clientChannels))
	for id := range c.clientChannels {
		chans = append(chans, id)
	}
	c.subscriptions = make(map[registry.ChannelID]struct{})
	c.clientChannels = make(map[protocol.ClientChannelID]protocol.ClientChannel)
	c.paramSubs = make(map[string]struct{})
	c.graphSubscribed = false
	c.graphFull = false
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	sort.Slice(chans, func(i, j int) bool { return chans[i] < chans[j] })
	return subs, chans
}

// controller returns the session's own controller, if any.
func (c *Client) controller() *playback.Controller {
	if c.playback == nil {
		return nil
	}
	return c.playback.ctrl
}

// readPump decodes frames from the connection until it fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
		c.logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.hub.handleText(c, data)
		case websocket.BinaryMessage:
			c.hub.handleBinary(c, data)
		}
	}
}

// writePump drains the send queue to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the queue.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if msg.channel != 0 && !c.isSubscribed(msg.channel) {
				metrics.RecordFrameDropped("unsubscribed")
				continue
			}

			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write websocket message")
				return
			}
			metrics.RecordMessageSent(msg.kind)

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// start begins reading and writing for the client.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
