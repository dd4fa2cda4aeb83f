// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"errors"
	"fmt"

	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/playback"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
	"github.com/tomtom215/chronoscope/internal/validation"
)

const (
	opControlRequest     = "playbackControlRequest"
	opServiceCallRequest = "serviceCallRequest"
)

// allow reports whether c holds every capability in caps, and reports a
// denial to c otherwise.
func (h *Hub) allow(c *Client, op, id string, caps ...protocol.Capability) bool {
	if c.caps.Has(caps...) {
		return true
	}
	var missing []protocol.Capability
	for _, cp := range caps {
		if !c.caps.Has(cp) {
			missing = append(missing, cp)
			metrics.RecordCapabilityDenied(string(cp))
		}
	}
	c.logger.Debug().Str("op", op).Interface("missing", missing).Msg("request denied")
	h.sendStatus(c, protocol.StatusError, fmt.Sprintf("%s: %v: %v", op, ErrCapabilityDenied, missing), id)
	return false
}

// handleText dispatches one client JSON request.
func (h *Hub) handleText(c *Client, data []byte) {
	op, msg, err := protocol.DecodeClientText(data)
	if err != nil {
		if op == "" {
			op = "invalid"
		}
		metrics.RecordMessageReceived(op)
		metrics.RecordProtocolError(op)
		h.sendStatus(c, protocol.StatusError, err.Error(), "")
		return
	}
	metrics.RecordMessageReceived(op)

	switch m := msg.(type) {
	case protocol.Subscribe:
		h.handleSubscribe(c, m)
	case protocol.Unsubscribe:
		h.handleUnsubscribe(c, m)
	case protocol.ClientAdvertise:
		if h.allow(c, op, "", protocol.CapClientPublish) {
			h.handleClientAdvertise(c, m)
		}
	case protocol.ClientUnadvertise:
		if h.allow(c, op, "", protocol.CapClientPublish) {
			h.handleClientUnadvertise(c, m)
		}
	case protocol.GetParameters:
		if h.allow(c, op, m.ID, protocol.CapParameters) {
			h.handleGetParameters(c, m)
		}
	case protocol.SetParameters:
		if h.allow(c, op, m.ID, protocol.CapParameters) {
			h.handleSetParameters(c, m)
		}
	case protocol.SubscribeParameterUpdates:
		if h.allow(c, op, "", protocol.CapParametersSubscribe) {
			c.subscribeParams(m.ParameterNames)
			metrics.RecordParameterOperation("subscribe")
		}
	case protocol.UnsubscribeParameterUpdates:
		if h.allow(c, op, "", protocol.CapParametersSubscribe) {
			c.unsubscribeParams(m.ParameterNames)
			metrics.RecordParameterOperation("unsubscribe")
		}
	case protocol.SubscribeConnectionGraph:
		if h.allow(c, op, "", protocol.CapConnectionGraph) {
			h.subscribeConnectionGraph(c)
		}
	case protocol.UnsubscribeConnectionGraph:
		if h.allow(c, op, "", protocol.CapConnectionGraph) {
			c.setGraphSubscribed(false)
			h.connectionGraphChanged()
		}
	case protocol.FetchAsset:
		if h.allow(c, op, "", protocol.CapAssets) {
			h.handleFetchAsset(c, m)
		}
	}
}

// handleBinary dispatches one client binary frame.
func (h *Hub) handleBinary(c *Client, data []byte) {
	msg, err := protocol.DecodeClientBinary(data)
	if err != nil {
		metrics.RecordMessageReceived("invalid_binary")
		metrics.RecordProtocolError("binary")
		h.sendStatus(c, protocol.StatusError, err.Error(), "")
		return
	}

	switch m := msg.(type) {
	case protocol.ClientMessageData:
		metrics.RecordMessageReceived("messageData")
		if h.allow(c, "messageData", "", protocol.CapClientPublish) {
			h.handleClientMessage(c, m)
		}
	case protocol.ServiceCallRequest:
		metrics.RecordMessageReceived(opServiceCallRequest)
		if h.allow(c, opServiceCallRequest, "", protocol.CapServices) {
			h.handleServiceCall(c, m)
		}
	case playback.ControlRequest:
		metrics.RecordMessageReceived(opControlRequest)
		if h.allow(c, opControlRequest, m.RequestID, protocol.CapRangedPlayback, protocol.CapTime) {
			h.handleControlRequest(c, m)
		}
	}
}

func (h *Hub) handleSubscribe(c *Client, m protocol.Subscribe) {
	known := make([]registry.ChannelID, 0, len(m.ChannelIDs))
	for _, id := range m.ChannelIDs {
		if _, err := h.registry.Channel(id); err != nil {
			h.sendStatus(c, protocol.StatusWarning, fmt.Sprintf("subscribe: channel %d: %v", id, err), "")
			continue
		}
		known = append(known, id)
	}
	added := c.subscribe(known)
	for _, id := range added {
		h.listener.OnSubscribe(c.sessionID, id)
	}
	if len(added) > 0 {
		h.connectionGraphChanged()
	}
}

func (h *Hub) handleUnsubscribe(c *Client, m protocol.Unsubscribe) {
	removed := c.unsubscribe(m.ChannelIDs)
	for _, id := range removed {
		h.listener.OnUnsubscribe(c.sessionID, id)
	}
	if len(removed) > 0 {
		h.connectionGraphChanged()
	}
}

func (h *Hub) handleClientAdvertise(c *Client, m protocol.ClientAdvertise) {
	if verr := validation.ValidateStruct(m); verr != nil {
		metrics.RecordProtocolError(protocol.OpAdvertise)
		h.sendStatus(c, protocol.StatusWarning, "advertise: "+verr.Error(), "")
		return
	}
	for _, ch := range m.Channels {
		if _, err := protocol.DecodeSchemaData(ch.SchemaEncoding, ch.Schema); err != nil {
			metrics.RecordProtocolError(protocol.OpAdvertise)
			h.sendStatus(c, protocol.StatusWarning, fmt.Sprintf("advertise: client channel %d: %v", ch.ID, err), "")
			continue
		}
		c.advertise(ch)
		h.listener.OnClientAdvertise(c.sessionID, ch)
	}
	h.connectionGraphChanged()
}

func (h *Hub) handleClientUnadvertise(c *Client, m protocol.ClientUnadvertise) {
	for _, id := range m.ChannelIDs {
		if _, ok := c.unadvertise(id); ok {
			h.listener.OnClientUnadvertise(c.sessionID, id)
		}
	}
	h.connectionGraphChanged()
}

func (h *Hub) handleClientMessage(c *Client, m protocol.ClientMessageData) {
	ch, ok := c.clientChannel(m.ChannelID)
	if !ok {
		h.sendStatus(c, protocol.StatusWarning, fmt.Sprintf("messageData: client channel %d is not advertised", m.ChannelID), "")
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		metrics.RecordFrameDropped("publish_rate")
		h.sendStatus(c, protocol.StatusWarning, fmt.Sprintf("messageData: client channel %d: publish rate exceeded", m.ChannelID), "")
		return
	}
	// Payload aliases the read buffer, which gorilla reuses.
	payload := append([]byte(nil), m.Payload...)
	h.listener.OnMessageData(c.sessionID, ch, payload)
}

func (h *Hub) handleGetParameters(c *Client, m protocol.GetParameters) {
	metrics.RecordParameterOperation("get")
	h.sendJSON(c, protocol.ParameterValues{
		Op:         protocol.OpParameterValues,
		Parameters: h.params.Get(m.ParameterNames),
		ID:         m.ID,
	}, protocol.OpParameterValues)
}

func (h *Hub) handleSetParameters(c *Client, m protocol.SetParameters) {
	if verr := validation.ValidateStruct(m); verr != nil {
		metrics.RecordProtocolError(protocol.OpSetParameters)
		h.sendStatus(c, protocol.StatusWarning, "setParameters: "+verr.Error(), m.ID)
		return
	}
	metrics.RecordParameterOperation("set")

	echoed := h.params.Set(m.Parameters)
	h.sendJSON(c, protocol.ParameterValues{
		Op:         protocol.OpParameterValues,
		Parameters: echoed,
		ID:         m.ID,
	}, protocol.OpParameterValues)

	changed := make([]params.Parameter, 0, len(echoed))
	for _, p := range echoed {
		if !h.params.IsReadOnly(p.Name) {
			changed = append(changed, p)
		}
	}
	if len(changed) == 0 {
		return
	}
	h.broadcastParameters(c, changed)
	h.listener.OnParametersSet(c.sessionID, changed)
}

// broadcastParameters sends each other subscribed session the subset of
// changed it asked to follow.
func (h *Hub) broadcastParameters(from *Client, changed []params.Parameter) {
	for _, c := range h.Sessions() {
		if c == from || !c.caps.Has(protocol.CapParametersSubscribe) {
			continue
		}
		var wanted []params.Parameter
		for _, p := range changed {
			if c.wantsParam(p.Name) {
				wanted = append(wanted, p)
			}
		}
		if len(wanted) == 0 {
			continue
		}
		h.sendJSON(c, protocol.ParameterValues{Op: protocol.OpParameterValues, Parameters: wanted}, protocol.OpParameterValues)
	}
}

// UpdateParameters stores values on behalf of the application and notifies
// subscribed sessions.
func (h *Hub) UpdateParameters(values ...params.Parameter) {
	h.params.Put(values...)
	h.broadcastParameters(nil, values)
}

var errPlaybackUnavailable = errors.New("playback unavailable")

func (h *Hub) handleControlRequest(c *Client, req playback.ControlRequest) {
	ctrl := h.controllerFor(c)
	if ctrl == nil {
		h.sendStatus(c, protocol.StatusError, fmt.Sprintf("%s: %v", opControlRequest, errPlaybackUnavailable), req.RequestID)
		return
	}
	st := ctrl.HandleControlRequest(req)
	c.logger.Debug().
		Str("command", req.Command.String()).
		Bool("seek", st.DidSeek).
		Float64("speed", st.Speed).
		Str("status", st.Status.String()).
		Msg("playback control request")
}
