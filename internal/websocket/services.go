// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

var (
	// ErrDuplicateService is returned when a service name is already
	// advertised.
	ErrDuplicateService = errors.New("service already advertised")

	errUnknownService = errors.New("unknown service")
)

// ServiceRequest is one call delivered to a ServiceHandler. Payload is owned
// by the handler.
type ServiceRequest struct {
	SessionID string
	ServiceID protocol.ServiceID
	CallID    uint32
	Encoding  string
	Payload   []byte
}

// ServiceHandler answers a service call. The context carries the caller's
// session id and a correlation id, and ends when the session does.
type ServiceHandler func(ctx context.Context, req ServiceRequest) ([]byte, error)

// Service describes a server-provided service.
type Service struct {
	Name     string
	Type     string
	Request  *protocol.ServiceMessageSchema
	Response *protocol.ServiceMessageSchema
	Handler  ServiceHandler
}

type registeredService struct {
	protocol.Service
	handler ServiceHandler
}

// serviceTable holds the advertised services. mu is taken before the hub
// lock.
type serviceTable struct {
	mu      sync.RWMutex
	entries map[protocol.ServiceID]*registeredService
	nextID  protocol.ServiceID
}

// advertisementLocked returns every service in id order. Callers hold mu.
func (t *serviceTable) advertisementLocked() (protocol.AdvertiseServices, bool) {
	if len(t.entries) == 0 {
		return protocol.AdvertiseServices{}, false
	}
	adv := protocol.AdvertiseServices{Op: protocol.OpAdvertiseServices, Services: make([]protocol.Service, 0, len(t.entries))}
	for _, s := range t.entries {
		adv.Services = append(adv.Services, s.Service)
	}
	sort.Slice(adv.Services, func(i, j int) bool { return adv.Services[i].ID < adv.Services[j].ID })
	return adv, true
}

func (t *serviceTable) lookup(id protocol.ServiceID) (*registeredService, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.entries[id]
	return s, ok
}

// names returns the advertised service names.
func (t *serviceTable) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for _, s := range t.entries {
		out = append(out, s.Name)
	}
	return out
}

// AddServices advertises services to every session granted Services and
// returns their ids in argument order. Nothing is added if any name is
// empty, lacks a handler, or is already advertised.
func (h *Hub) AddServices(services ...Service) ([]protocol.ServiceID, error) {
	h.services.mu.Lock()
	defer h.services.mu.Unlock()

	seen := make(map[string]struct{}, len(h.services.entries)+len(services))
	for _, s := range h.services.entries {
		seen[s.Name] = struct{}{}
	}
	for _, s := range services {
		if s.Name == "" || s.Handler == nil {
			return nil, fmt.Errorf("service %q: name and handler are required", s.Name)
		}
		if _, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateService, s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	ids := make([]protocol.ServiceID, 0, len(services))
	adv := protocol.AdvertiseServices{Op: protocol.OpAdvertiseServices, Services: make([]protocol.Service, 0, len(services))}
	for _, s := range services {
		h.services.nextID++
		entry := &registeredService{
			Service: protocol.Service{
				ID:       h.services.nextID,
				Name:     s.Name,
				Type:     s.Type,
				Request:  s.Request,
				Response: s.Response,
			},
			handler: s.Handler,
		}
		h.services.entries[entry.ID] = entry
		ids = append(ids, entry.ID)
		adv.Services = append(adv.Services, entry.Service)
	}

	// Broadcast under mu so a session registering concurrently sees the
	// services either in its greeting or here, never both.
	if len(adv.Services) > 0 {
		h.broadcastJSON(adv, protocol.OpAdvertiseServices, hasCap(protocol.CapServices))
		h.connectionGraphChanged()
	}
	return ids, nil
}

// RemoveServices withdraws the given services. Unknown ids are ignored.
func (h *Hub) RemoveServices(ids ...protocol.ServiceID) {
	h.services.mu.Lock()
	defer h.services.mu.Unlock()

	removed := make([]protocol.ServiceID, 0, len(ids))
	for _, id := range ids {
		if _, ok := h.services.entries[id]; ok {
			delete(h.services.entries, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return
	}
	h.broadcastJSON(protocol.UnadvertiseServices{Op: protocol.OpUnadvertiseServices, ServiceIDs: removed},
		protocol.OpUnadvertiseServices, hasCap(protocol.CapServices))
	h.connectionGraphChanged()
}

// handleServiceCall runs the handler off the read pump and replies to the
// caller only.
func (h *Hub) handleServiceCall(c *Client, m protocol.ServiceCallRequest) {
	svc, ok := h.services.lookup(m.ServiceID)
	if !ok {
		metrics.RecordServiceCall("unknown", "unknown_service")
		h.sendServiceFailure(c, m.ServiceID, m.CallID, errUnknownService.Error())
		return
	}
	if svc.Request != nil && svc.Request.Encoding != "" && m.Encoding != svc.Request.Encoding {
		metrics.RecordServiceCall(svc.Name, "bad_encoding")
		h.sendServiceFailure(c, m.ServiceID, m.CallID,
			fmt.Sprintf("request encoding %q does not match %q", m.Encoding, svc.Request.Encoding))
		return
	}

	req := ServiceRequest{
		SessionID: c.sessionID,
		ServiceID: m.ServiceID,
		CallID:    m.CallID,
		Encoding:  m.Encoding,
		// Payload aliases the read buffer, which gorilla reuses.
		Payload: append([]byte(nil), m.Payload...),
	}
	respEncoding := m.Encoding
	if svc.Response != nil && svc.Response.Encoding != "" {
		respEncoding = svc.Response.Encoding
	}

	ctx := logging.ContextWithNewCorrelationID(c.ctx)
	go func() {
		log := logging.Ctx(ctx).With().Str("service", svc.Name).Uint32("call_id", req.CallID).Logger()
		payload, err := svc.handler(ctx, req)
		if err != nil {
			metrics.RecordServiceCall(svc.Name, "error")
			log.Debug().Err(err).Msg("service call failed")
			h.sendServiceFailure(c, req.ServiceID, req.CallID, err.Error())
			return
		}
		metrics.RecordServiceCall(svc.Name, "ok")
		log.Debug().Int("bytes", len(payload)).Msg("service call answered")
		h.sendTo(c, outbound{
			messageType: websocket.BinaryMessage,
			data: protocol.EncodeServiceCallResponse(protocol.ServiceCallResponse{
				ServiceID: req.ServiceID,
				CallID:    req.CallID,
				Encoding:  respEncoding,
				Payload:   payload,
			}),
			kind: "service_call_response",
		})
	}()
}

func (h *Hub) sendServiceFailure(c *Client, id protocol.ServiceID, callID uint32, message string) {
	h.sendJSON(c, protocol.ServiceCallFailure{
		Op:        protocol.OpServiceCallFailure,
		ServiceID: id,
		CallID:    callID,
		Message:   message,
	}, protocol.OpServiceCallFailure)
}
