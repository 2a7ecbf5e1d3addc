package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/smartwater-core/internal/coordinator"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/config"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env)

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDevicesUpdated}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp := readMessage(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	env.srv.PublishUpdate(coordinator.Update{ProfileID: "p-1", Reason: coordinator.ReasonPush, Devices: 2})

	event := readMessage(t, conn)
	if event.Type != WSTypeEvent || event.EventType != ChannelDevicesUpdated {
		t.Fatalf("event = %+v", event)
	}
	raw, _ := json.Marshal(event.Payload)
	var update coordinator.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		t.Fatal(err)
	}
	if update.ProfileID != "p-1" || update.Reason != "push" || update.Devices != 2 {
		t.Errorf("update = %+v", update)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env)

	tests := []struct {
		name     string
		send     string
		wantType string
	}{
		{name: "ping", send: `{"type":"ping","id":"p"}`, wantType: WSTypePong},
		{name: "unknown type", send: `{"type":"bogus","id":"b"}`, wantType: WSTypeError},
		{name: "invalid json", send: `{`, wantType: WSTypeError},
		{name: "unsubscribe", send: `{"type":"unsubscribe","id":"u","payload":{"channels":["devices.updated"]}}`, wantType: WSTypeResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatal(err)
			}
			if got := readMessage(t, conn); got.Type != tt.wantType {
				t.Errorf("response type = %q, want %q", got.Type, tt.wantType)
			}
		})
	}
}

func TestHub_UnsubscribedClientsSkipped(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	subscribed := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelDevicesUpdated: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelDevicesUpdated, map[string]any{"x": 1})

	if len(subscribed.send) != 1 || len(other.send) != 0 {
		t.Errorf("queued = %d/%d, want 1/0", len(subscribed.send), len(other.send))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() after shutdown = %d", hub.ClientCount())
	}
	if hub.Register(&WSClient{hub: hub, send: make(chan []byte, 1)}) {
		t.Error("Register() after shutdown should fail")
	}
}

func TestWSTimings_Defaults(t *testing.T) {
	got := newWSTimings(config.WebSocketConfig{})
	if got.pingInterval != defaultWSPingInterval || got.pongWait != defaultWSPongTimeout || got.maxMessageSize != defaultWSMaxMessageSize {
		t.Errorf("timings = %+v", got)
	}
	got = newWSTimings(config.WebSocketConfig{MaxMessageSize: 100, PingInterval: 5, PongTimeout: 2})
	if got.pingInterval != 5*time.Second || got.pongWait != 2*time.Second || got.maxMessageSize != 100 {
		t.Errorf("timings = %+v", got)
	}
}
