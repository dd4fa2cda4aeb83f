// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

func echoService(name string) Service {
	return Service{
		Name:     name,
		Type:     "test/Echo",
		Request:  &protocol.ServiceMessageSchema{Encoding: "json", SchemaName: "EchoRequest", SchemaEncoding: "jsonschema", Schema: "{}"},
		Response: &protocol.ServiceMessageSchema{Encoding: "json", SchemaName: "EchoResponse", SchemaEncoding: "jsonschema", Schema: "{}"},
		Handler: func(_ context.Context, req ServiceRequest) ([]byte, error) {
			return req.Payload, nil
		},
	}
}

func callService(hub *Hub, c *Client, id protocol.ServiceID, callID uint32, encoding, payload string) {
	hub.handleBinary(c, protocol.EncodeServiceCallRequest(protocol.ServiceCallRequest{
		ServiceID: id,
		CallID:    callID,
		Encoding:  encoding,
		Payload:   []byte(payload),
	}))
}

func expectServiceFailure(t *testing.T, c *Client) protocol.ServiceCallFailure {
	t.Helper()
	out := nextFrame(t, c)
	if op := textOp(t, out); op != protocol.OpServiceCallFailure {
		t.Fatalf("op = %q, want %s (%s)", op, protocol.OpServiceCallFailure, out.data)
	}
	return decodeText[protocol.ServiceCallFailure](t, out)
}

func TestHub_AddServicesAdvertises(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	withSvc := connect(t, hub, protocol.CapServices)
	without := connect(t, hub, protocol.CapTime)

	ids, err := hub.AddServices(echoService("/echo"), echoService("/echo2"))
	if err != nil {
		t.Fatalf("AddServices: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids = %v, want [1 2]", ids)
	}

	out := nextFrame(t, withSvc)
	if op := textOp(t, out); op != protocol.OpAdvertiseServices {
		t.Fatalf("op = %q", op)
	}
	adv := decodeText[protocol.AdvertiseServices](t, out)
	if len(adv.Services) != 2 || adv.Services[0].Name != "/echo" || adv.Services[1].ID != 2 {
		t.Errorf("services = %+v", adv.Services)
	}
	if adv.Services[0].Request == nil || adv.Services[0].Request.SchemaName != "EchoRequest" {
		t.Errorf("request schema = %+v", adv.Services[0].Request)
	}
	expectNoFrame(t, without)

	t.Run("late joiner is greeted with services", func(t *testing.T) {
		late := connect(t, hub, protocol.CapServices)
		adv := decodeText[protocol.AdvertiseServices](t, nextFrame(t, late))
		if len(adv.Services) != 2 {
			t.Errorf("greeting services = %+v", adv.Services)
		}
	})

	t.Run("duplicate name adds nothing", func(t *testing.T) {
		_, err := hub.AddServices(echoService("/other"), echoService("/echo"))
		if !errors.Is(err, ErrDuplicateService) {
			t.Fatalf("err = %v, want ErrDuplicateService", err)
		}
		if got := len(hub.services.names()); got != 2 {
			t.Errorf("services = %d, want 2", got)
		}
		expectNoFrame(t, withSvc)
	})

	t.Run("missing handler", func(t *testing.T) {
		if _, err := hub.AddServices(Service{Name: "/nohandler"}); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("remove unadvertises", func(t *testing.T) {
		hub.RemoveServices(ids[0], 99)
		out := nextFrame(t, withSvc)
		if op := textOp(t, out); op != protocol.OpUnadvertiseServices {
			t.Fatalf("op = %q", op)
		}
		un := decodeText[protocol.UnadvertiseServices](t, out)
		if len(un.ServiceIDs) != 1 || un.ServiceIDs[0] != ids[0] {
			t.Errorf("serviceIds = %v", un.ServiceIDs)
		}
		expectNoFrame(t, without)

		// Ids are never reused.
		next, err := hub.AddServices(echoService("/echo"))
		if err != nil || next[0] != 3 {
			t.Errorf("re-add = %v, %v; want id 3", next, err)
		}
	})
}

func TestHub_ServiceCall(t *testing.T) {
	hub := setupHub(t, Options{}, nil)

	type seen struct {
		session, correlation string
		req                  ServiceRequest
	}
	calls := make(chan seen, 1)
	failing := errors.New("motor offline")
	ids, err := hub.AddServices(
		echoService("/echo"),
		Service{
			Name: "/inspect",
			Handler: func(ctx context.Context, req ServiceRequest) ([]byte, error) {
				calls <- seen{logging.SessionIDFromContext(ctx), logging.CorrelationIDFromContext(ctx), req}
				return []byte("ok"), nil
			},
		},
		Service{
			Name:    "/fail",
			Handler: func(context.Context, ServiceRequest) ([]byte, error) { return nil, failing },
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	echo, inspect, fail := ids[0], ids[1], ids[2]

	c := connect(t, hub, protocol.CapServices)
	nextFrame(t, c) // advertiseServices

	t.Run("response goes to the caller", func(t *testing.T) {
		other := connect(t, hub, protocol.CapServices)
		nextFrame(t, other)

		callService(hub, c, echo, 7, "json", `{"x":1}`)
		resp, ok := decodeBinary(t, nextFrame(t, c)).(protocol.ServiceCallResponse)
		if !ok {
			t.Fatal("expected a service call response")
		}
		if resp.ServiceID != echo || resp.CallID != 7 || resp.Encoding != "json" || string(resp.Payload) != `{"x":1}` {
			t.Errorf("response = %+v", resp)
		}
		expectNoFrame(t, other)
	})

	t.Run("handler context carries the session", func(t *testing.T) {
		callService(hub, c, inspect, 8, "cbor", "abc")
		got := <-calls
		if got.session != c.SessionID() || got.req.SessionID != c.SessionID() {
			t.Errorf("session = %q / %q, want %q", got.session, got.req.SessionID, c.SessionID())
		}
		if got.correlation == "" {
			t.Error("no correlation id on the call context")
		}
		if string(got.req.Payload) != "abc" || got.req.CallID != 8 {
			t.Errorf("request = %+v", got.req)
		}
		// No response schema: the reply keeps the request encoding.
		resp := decodeBinary(t, nextFrame(t, c)).(protocol.ServiceCallResponse)
		if resp.Encoding != "cbor" || string(resp.Payload) != "ok" {
			t.Errorf("response = %+v", resp)
		}
	})

	tests := []struct {
		name     string
		id       protocol.ServiceID
		encoding string
		wantMsg  string
	}{
		{"unknown service", 42, "json", errUnknownService.Error()},
		{"encoding mismatch", echo, "cbor", `"cbor"`},
		{"handler error", fail, "json", failing.Error()},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callID := uint32(100 + i)
			callService(hub, c, tt.id, callID, tt.encoding, "{}")
			f := expectServiceFailure(t, c)
			if f.ServiceID != tt.id || f.CallID != callID || !strings.Contains(f.Message, tt.wantMsg) {
				t.Errorf("failure = %+v, want message containing %q", f, tt.wantMsg)
			}
		})
	}
}

func TestHub_ServicesHiddenWithoutCapability(t *testing.T) {
	hub := setupHub(t, Options{Capabilities: protocol.NewCapabilitySet(protocol.CapTime)}, nil)
	if _, err := hub.AddServices(echoService("/echo")); err != nil {
		t.Fatal(err)
	}
	// Requested but not advertised, so never granted.
	c := connect(t, hub, protocol.CapServices, protocol.CapTime)
	expectNoFrame(t, c)

	callService(hub, c, 1, 1, "json", "{}")
	st := expectStatus(t, c, protocol.StatusError)
	if !strings.Contains(st.Message, ErrCapabilityDenied.Error()) {
		t.Errorf("status = %q", st.Message)
	}
}
