// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/chronoscope/internal/params"
	"github.com/tomtom215/chronoscope/internal/protocol"
	"github.com/tomtom215/chronoscope/internal/registry"
)

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(Options{}, registry.New(), params.NewStore(""), nil)

	checks := []struct {
		name   string
		check  bool
		errMsg string
	}{
		{"name", hub.opts.Name == "chronoscope", "default name not applied"},
		{"send buffer", hub.opts.SendBuffer == 1024, "default send buffer not applied"},
		{"ping period", hub.pingPeriod() == 54*time.Second, "ping period should be 9/10 of pong wait"},
		{"listener", hub.listener != nil, "nil listener should become NopListener"},
		{"empty clients", hub.GetClientCount() == 0, "clients map should be empty"},
	}

	for _, c := range checks {
		if !c.check {
			t.Error(c.errMsg)
		}
	}
}

func TestHub_ConnectSendsServerInfoThenAdvertise(t *testing.T) {
	hub := setupHub(t, Options{Name: "test-server", SupportedEncodings: []string{"json", "protobuf"}}, nil)
	id, err := hub.registry.RegisterChannel(registry.Channel{Topic: "/pose", Encoding: "json"})
	if err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}

	c, err := hub.Accept(context.Background(), nil, anonymous(), protocol.NewCapabilitySet(protocol.CapTime, protocol.CapAssets))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	info := decodeText[protocol.ServerInfo](t, nextFrame(t, c))
	if info.Op != protocol.OpServerInfo {
		t.Fatalf("op = %q, want serverInfo", info.Op)
	}
	if info.Name != "test-server" {
		t.Errorf("name = %q", info.Name)
	}
	if info.Capabilities != allCaps {
		t.Errorf("advertised capabilities = %s, want all", info.Capabilities)
	}
	if info.SessionID != c.SessionID() || info.SessionID == "" {
		t.Errorf("session id = %q, want %q", info.SessionID, c.SessionID())
	}
	if info.DataStartTime != nil {
		t.Error("no playback configured, data range should be omitted")
	}
	if got := c.Capabilities(); got != protocol.NewCapabilitySet(protocol.CapTime, protocol.CapAssets) {
		t.Errorf("granted = %s", got)
	}

	adv := decodeText[protocol.Advertise](t, nextFrame(t, c))
	if adv.Op != protocol.OpAdvertise || len(adv.Channels) != 1 || adv.Channels[0].ID != id {
		t.Fatalf("advertise = %+v", adv)
	}
	waitFor(t, "client registration", func() bool { return hub.GetClientCount() == 1 })
}

func TestHub_GrantedIsIntersectedWithAdvertised(t *testing.T) {
	hub := setupHub(t, Options{Capabilities: protocol.NewCapabilitySet(protocol.CapTime)}, nil)
	c := connect(t, hub, protocol.CapTime, protocol.CapParameters)

	if c.Capabilities().Has(protocol.CapParameters) {
		t.Error("session must not hold a capability the server does not advertise")
	}
	sendText(hub, c, `{"op":"getParameters","parameterNames":[],"id":"g1"}`)
	st := expectStatus(t, c, protocol.StatusError)
	if st.ID != "g1" {
		t.Errorf("status id = %q, want g1", st.ID)
	}
}

func TestHub_CapabilityGates(t *testing.T) {
	tests := []struct {
		name    string
		message string
		binary  []byte
	}{
		{"advertise", `{"op":"advertise","channels":[{"id":1,"topic":"/cmd","encoding":"json"}]}`, nil},
		{"unadvertise", `{"op":"unadvertise","channelIds":[1]}`, nil},
		{"getParameters", `{"op":"getParameters","parameterNames":["a"]}`, nil},
		{"setParameters", `{"op":"setParameters","parameters":[{"name":"a","value":1}]}`, nil},
		{"subscribeParameterUpdates", `{"op":"subscribeParameterUpdates","parameterNames":["a"]}`, nil},
		{"unsubscribeParameterUpdates", `{"op":"unsubscribeParameterUpdates","parameterNames":["a"]}`, nil},
		{"messageData", "", protocol.EncodeClientMessageData(1, []byte("x"))},
		{"playbackControlRequest", "", protocol.EncodePlaybackControlRequest(playRequest("r1", nil))},
		{"subscribeConnectionGraph", `{"op":"subscribeConnectionGraph"}`, nil},
		{"unsubscribeConnectionGraph", `{"op":"unsubscribeConnectionGraph"}`, nil},
		{"fetchAsset", `{"op":"fetchAsset","uri":"package://a.stl","requestId":1}`, nil},
		{"serviceCallRequest", "", protocol.EncodeServiceCallRequest(protocol.ServiceCallRequest{ServiceID: 1, CallID: 1, Encoding: "json"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener := &recordingListener{}
			hub := setupHub(t, Options{}, listener)
			c := connect(t, hub)

			if tt.binary != nil {
				hub.handleBinary(c, tt.binary)
			} else {
				sendText(hub, c, tt.message)
			}

			st := expectStatus(t, c, protocol.StatusError)
			if !strings.Contains(st.Message, ErrCapabilityDenied.Error()) {
				t.Errorf("status message %q does not mention the denial", st.Message)
			}
			if got := hub.params.Len(); got != 0 {
				t.Errorf("parameter store mutated: %d entries", got)
			}
			if _, ok := c.clientChannel(1); ok {
				t.Error("client channel registered despite denial")
			}
			if events := listener.Events(); len(events) != 0 {
				t.Errorf("listener saw %v", events)
			}
		})
	}
}

func TestHub_ControlRequestNeedsTimeAndRangedPlayback(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	c := connect(t, hub, protocol.CapRangedPlayback)

	hub.handleBinary(c, protocol.EncodePlaybackControlRequest(playRequest("r1", nil)))
	st := expectStatus(t, c, protocol.StatusError)
	if !strings.Contains(st.Message, string(protocol.CapTime)) {
		t.Errorf("status %q should name the missing capability", st.Message)
	}
}

func TestHub_MalformedAndUnknownRequests(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	c := connect(t, hub, protocol.AllCapabilities...)

	tests := []struct {
		name   string
		text   string
		binary []byte
	}{
		{"invalid json", `{"op":`, nil},
		{"unknown op", `{"op":"fly"}`, nil},
		{"missing op", `{"channelIds":[1]}`, nil},
		{"empty binary", "", []byte{}},
		{"unknown opcode", "", []byte{0x7f, 0, 0}},
		{"short control request", "", []byte{protocol.ClientOpPlaybackControlRequest, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.binary != nil {
				hub.handleBinary(c, tt.binary)
			} else {
				sendText(hub, c, tt.text)
			}
			expectStatus(t, c, protocol.StatusError)
		})
	}

	if hub.GetClientCount() != 1 {
		t.Error("protocol errors must not end the session")
	}
}

func TestHub_Subscribe(t *testing.T) {
	listener := &recordingListener{}
	hub := setupHub(t, Options{}, listener)
	id, _ := hub.registry.RegisterChannel(registry.Channel{Topic: "/a", Encoding: "json"})
	c := connect(t, hub, protocol.CapTime)
	nextFrame(t, c) // advertise

	t.Run("duplicate subscribe is idempotent", func(t *testing.T) {
		sendText(hub, c, `{"op":"subscribe","channelIds":[1]}`)
		sendText(hub, c, `{"op":"subscribe","channelIds":[1,1]}`)
		if got := c.Subscriptions(); !reflect.DeepEqual(got, []registry.ChannelID{id}) {
			t.Errorf("subscriptions = %v", got)
		}
		if got := listener.Events(); !reflect.DeepEqual(got, []string{"subscribe:1"}) {
			t.Errorf("listener events = %v", got)
		}
		expectNoFrame(t, c)
	})

	t.Run("unknown channel yields a warning", func(t *testing.T) {
		sendText(hub, c, `{"op":"subscribe","channelIds":[99]}`)
		expectStatus(t, c, protocol.StatusWarning)
		if got := c.Subscriptions(); len(got) != 1 {
			t.Errorf("subscriptions = %v", got)
		}
	})

	t.Run("unsubscribe of a non-subscribed id is a no-op", func(t *testing.T) {
		sendText(hub, c, `{"op":"unsubscribe","channelIds":[42]}`)
		expectNoFrame(t, c)
		if got := c.Subscriptions(); len(got) != 1 {
			t.Errorf("subscriptions = %v", got)
		}
	})

	t.Run("unsubscribe", func(t *testing.T) {
		sendText(hub, c, `{"op":"unsubscribe","channelIds":[1]}`)
		if got := c.Subscriptions(); len(got) != 0 {
			t.Errorf("subscriptions = %v", got)
		}
		events := listener.Events()
		if events[len(events)-1] != "unsubscribe:1" {
			t.Errorf("listener events = %v", events)
		}
	})
}

func TestHub_BroadcastMessage_OnlySubscribers(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	a, _ := hub.registry.RegisterChannel(registry.Channel{Topic: "/a", Encoding: "json"})
	b, _ := hub.registry.RegisterChannel(registry.Channel{Topic: "/b", Encoding: "json"})

	subA := connect(t, hub)
	nextFrame(t, subA)
	subB := connect(t, hub)
	nextFrame(t, subB)
	sendText(hub, subA, `{"op":"subscribe","channelIds":[1]}`)
	sendText(hub, subB, `{"op":"subscribe","channelIds":[2]}`)

	hub.BroadcastMessage(a, 100, []byte(`{"x":1}`))
	hub.BroadcastMessage(b, 200, []byte(`{"y":2}`))

	got := decodeBinary(t, nextFrame(t, subA)).(protocol.MessageData)
	if got.ChannelID != a || got.LogTime != 100 || string(got.Payload) != `{"x":1}` {
		t.Errorf("subscriber A got %+v", got)
	}
	expectNoFrame(t, subA)

	got = decodeBinary(t, nextFrame(t, subB)).(protocol.MessageData)
	if got.ChannelID != b || got.LogTime != 200 {
		t.Errorf("subscriber B got %+v", got)
	}
	expectNoFrame(t, subB)
}

func TestHub_BroadcastTime_OnlyTimeSessions(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	withTime := connect(t, hub, protocol.CapTime)
	without := connect(t, hub, protocol.CapParameters)

	hub.BroadcastTime(1234)

	if tm := decodeBinary(t, nextFrame(t, withTime)).(protocol.Time); tm.LogTime != 1234 {
		t.Errorf("time = %d", tm.LogTime)
	}
	expectNoFrame(t, without)
}

func TestHub_ChannelLifecycle(t *testing.T) {
	listener := &recordingListener{}
	hub := setupHub(t, Options{}, listener)
	c := connect(t, hub)

	id, err := hub.registry.RegisterChannel(registry.Channel{Topic: "/late", Encoding: "json"})
	if err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}
	adv := decodeText[protocol.Advertise](t, nextFrame(t, c))
	if len(adv.Channels) != 1 || adv.Channels[0].Topic != "/late" {
		t.Fatalf("advertise = %+v", adv)
	}

	sendText(hub, c, `{"op":"subscribe","channelIds":[1]}`)
	if err := hub.RemoveChannel(id); err != nil {
		t.Fatalf("RemoveChannel: %v", err)
	}
	unadv := decodeText[protocol.Unadvertise](t, nextFrame(t, c))
	if !reflect.DeepEqual(unadv.ChannelIDs, []registry.ChannelID{id}) {
		t.Errorf("unadvertise = %+v", unadv)
	}
	if len(c.Subscriptions()) != 0 {
		t.Error("removed channel still subscribed")
	}
	if got := listener.Events(); !reflect.DeepEqual(got, []string{"subscribe:1", "unsubscribe:1"}) {
		t.Errorf("listener events = %v", got)
	}

	if err := hub.RemoveChannel(id); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("second RemoveChannel = %v, want ErrNotFound", err)
	}
}

func TestHub_ClientPublish(t *testing.T) {
	listener := &recordingListener{}
	hub := setupHub(t, Options{}, listener)
	c := connect(t, hub, protocol.CapClientPublish)

	sendText(hub, c, `{"op":"advertise","channels":[{"id":7,"topic":"/cmd_vel","encoding":"json","schemaName":"Twist"}]}`)
	if ch, ok := c.clientChannel(7); !ok || ch.Topic != "/cmd_vel" {
		t.Fatalf("client channel = %+v, %v", ch, ok)
	}

	hub.handleBinary(c, protocol.EncodeClientMessageData(7, []byte(`{"v":1}`)))

	t.Run("unadvertised id is rejected", func(t *testing.T) {
		hub.handleBinary(c, protocol.EncodeClientMessageData(8, []byte("x")))
		expectStatus(t, c, protocol.StatusWarning)
	})

	t.Run("invalid advertisement is rejected", func(t *testing.T) {
		sendText(hub, c, `{"op":"advertise","channels":[{"id":9,"topic":"","encoding":"json"}]}`)
		st := expectStatus(t, c, protocol.StatusWarning)
		if !strings.Contains(st.Message, "channels[0].topic") {
			t.Errorf("status %q should name the field", st.Message)
		}
		if _, ok := c.clientChannel(9); ok {
			t.Error("invalid channel registered")
		}
	})

	t.Run("binary schema must be base64", func(t *testing.T) {
		sendText(hub, c, `{"op":"advertise","channels":[{"id":10,"topic":"/pose","encoding":"protobuf","schemaName":"Pose","schemaEncoding":"protobuf","schema":"not base64!"}]}`)
		st := expectStatus(t, c, protocol.StatusWarning)
		if !strings.Contains(st.Message, "client channel 10") {
			t.Errorf("status %q should name the channel", st.Message)
		}
		if _, ok := c.clientChannel(10); ok {
			t.Error("channel with undecodable schema registered")
		}
	})

	t.Run("unadvertise invalidates the id", func(t *testing.T) {
		sendText(hub, c, `{"op":"unadvertise","channelIds":[7]}`)
		hub.handleBinary(c, protocol.EncodeClientMessageData(7, []byte("late")))
		expectStatus(t, c, protocol.StatusWarning)
	})

	want := []string{"advertise:/cmd_vel", "data:/cmd_vel", "unadvertise:7"}
	if got := listener.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("listener events = %v, want %v", got, want)
	}
	if string(listener.data[0]) != `{"v":1}` {
		t.Errorf("payload = %q", listener.data[0])
	}
}

func TestHub_ClientPublishRateLimit(t *testing.T) {
	hub := setupHub(t, Options{PublishRate: 1, PublishBurst: 1}, nil)
	c := connect(t, hub, protocol.CapClientPublish)
	sendText(hub, c, `{"op":"advertise","channels":[{"id":1,"topic":"/x","encoding":"json"}]}`)

	hub.handleBinary(c, protocol.EncodeClientMessageData(1, []byte("a")))
	expectNoFrame(t, c)
	hub.handleBinary(c, protocol.EncodeClientMessageData(1, []byte("b")))
	st := expectStatus(t, c, protocol.StatusWarning)
	if !strings.Contains(st.Message, "rate") {
		t.Errorf("status = %q", st.Message)
	}
}

func TestHub_Parameters(t *testing.T) {
	listener := &recordingListener{}
	hub := setupHub(t, Options{}, listener)
	hub.params.Put(params.New("read_only_serial", params.String("abc")))

	setter := connect(t, hub, protocol.CapParameters, protocol.CapParametersSubscribe)
	follower := connect(t, hub, protocol.CapParametersSubscribe)
	other := connect(t, hub, protocol.CapParametersSubscribe)

	sendText(hub, setter, `{"op":"subscribeParameterUpdates","parameterNames":["gain"]}`)
	sendText(hub, follower, `{"op":"subscribeParameterUpdates","parameterNames":["gain","read_only_serial"]}`)
	sendText(hub, other, `{"op":"subscribeParameterUpdates","parameterNames":["offset"]}`)

	sendText(hub, setter, `{"op":"setParameters","id":"set-1","parameters":[{"name":"gain","value":2.5},{"name":"read_only_serial","value":"hijack"}]}`)

	reply := decodeText[protocol.ParameterValues](t, nextFrame(t, setter))
	if reply.ID != "set-1" || len(reply.Parameters) != 2 {
		t.Fatalf("reply = %+v", reply)
	}
	if s, _ := reply.Parameters[1].Value.AsString(); s != "abc" {
		t.Errorf("read-only echo = %q, want stored value", s)
	}
	expectNoFrame(t, setter)

	update := decodeText[protocol.ParameterValues](t, nextFrame(t, follower))
	if update.ID != "" || len(update.Parameters) != 1 || update.Parameters[0].Name != "gain" {
		t.Fatalf("follower update = %+v", update)
	}
	if f, _ := update.Parameters[0].Value.AsNumber(); f != 2.5 {
		t.Errorf("gain = %v", f)
	}
	expectNoFrame(t, other)

	if got := listener.Events(); !reflect.DeepEqual(got, []string{"param:gain"}) {
		t.Errorf("listener events = %v", got)
	}

	t.Run("get", func(t *testing.T) {
		sendText(hub, setter, `{"op":"getParameters","id":"get-1","parameterNames":["gain","missing"]}`)
		got := decodeText[protocol.ParameterValues](t, nextFrame(t, setter))
		if got.ID != "get-1" || len(got.Parameters) != 1 || got.Parameters[0].Name != "gain" {
			t.Errorf("get = %+v", got)
		}
	})

	t.Run("application update reaches followers", func(t *testing.T) {
		hub.UpdateParameters(params.New("gain", params.Number(3)))
		got := decodeText[protocol.ParameterValues](t, nextFrame(t, follower))
		if f, _ := got.Parameters[0].Value.AsNumber(); f != 3 {
			t.Errorf("gain = %v", f)
		}
		got = decodeText[protocol.ParameterValues](t, nextFrame(t, setter))
		if len(got.Parameters) != 1 {
			t.Errorf("setter update = %+v", got)
		}
	})

	t.Run("unsubscribe stops updates", func(t *testing.T) {
		sendText(hub, follower, `{"op":"unsubscribeParameterUpdates","parameterNames":["gain"]}`)
		hub.UpdateParameters(params.New("gain", params.Number(4)))
		nextFrame(t, setter)
		expectNoFrame(t, follower)
	})
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	hub := setupHub(t, Options{SendBuffer: 2}, nil)
	slow := connect(t, hub, protocol.CapTime)
	waitFor(t, "registration", func() bool { return hub.GetClientCount() == 1 })

	// serverInfo was consumed; two frames fill the queue, the third overflows.
	hub.BroadcastTime(1)
	hub.BroadcastTime(2)
	hub.BroadcastTime(3)

	select {
	case <-slow.closed:
	case <-time.After(time.Second):
		t.Fatal("slow client was not removed")
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("client count = %d", hub.GetClientCount())
	}

	// Further broadcasts must not panic on the closed queue.
	hub.BroadcastTime(4)
}

func TestHub_DisconnectReleasesSessionState(t *testing.T) {
	listener := &recordingListener{}
	hub := setupHub(t, Options{}, listener)
	_, _ = hub.registry.RegisterChannel(registry.Channel{Topic: "/a", Encoding: "json"})
	c := connect(t, hub, protocol.CapClientPublish)
	nextFrame(t, c)

	sendText(hub, c, `{"op":"subscribe","channelIds":[1]}`)
	sendText(hub, c, `{"op":"advertise","channels":[{"id":3,"topic":"/up","encoding":"json"}]}`)

	hub.unregisterClient(c)
	waitFor(t, "removal", func() bool { return hub.GetClientCount() == 0 })

	want := []string{"subscribe:1", "advertise:/up", "unsubscribe:1", "unadvertise:3"}
	if got := listener.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("listener events = %v, want %v", got, want)
	}

	// A second unregister after removal must not block.
	done := make(chan struct{})
	go func() {
		hub.unregisterClient(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister of a removed client blocked")
	}
}

func TestHub_RunWithContext_ClosesClients(t *testing.T) {
	tests := []struct {
		name   string
		ctx    func() (context.Context, context.CancelFunc)
		want   error
		reason ShutdownReason
	}{
		{
			name: "canceled",
			ctx:  func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			want: context.Canceled, reason: ShutdownReasonContextCanceled,
		},
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 100*time.Millisecond)
			},
			want: context.DeadlineExceeded, reason: ShutdownReasonContextDeadline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(Options{Capabilities: allCaps}, registry.New(), params.NewStore(""), nil)
			ctx, cancel := tt.ctx()
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- hub.RunWithContext(ctx) }()

			c := connect(t, hub)
			if tt.name == "canceled" {
				cancel()
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, tt.want) {
					t.Errorf("RunWithContext = %v, want %v", err, tt.want)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("hub did not stop")
			}
			if got := getShutdownReason(ctx); got != tt.reason {
				t.Errorf("reason = %s, want %s", got, tt.reason)
			}
			select {
			case <-c.closed:
			default:
				t.Error("client not closed on shutdown")
			}
			if hub.GetClientCount() != 0 {
				t.Errorf("client count = %d", hub.GetClientCount())
			}
		})
	}
}

func TestHub_AcceptHonoursContext(t *testing.T) {
	hub := NewHub(Options{}, registry.New(), params.NewStore(""), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := hub.Accept(ctx, nil, anonymous(), allCaps); !errors.Is(err, context.Canceled) {
		t.Errorf("Accept on a stopped hub = %v, want context.Canceled", err)
	}
}

func TestHub_SessionsAreOrdered(t *testing.T) {
	hub := setupHub(t, Options{}, nil)
	first := connect(t, hub)
	second := connect(t, hub)
	third := connect(t, hub)

	got := hub.Sessions()
	if len(got) != 3 || got[0] != first || got[1] != second || got[2] != third {
		t.Errorf("sessions out of connection order")
	}
	if !(first.ID() < second.ID() && second.ID() < third.ID()) {
		t.Errorf("ids not increasing: %d %d %d", first.ID(), second.ID(), third.ID())
	}
}
