package fanout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-automation-core/internal/domain"
)

// dialOverlay starts a hub-backed test server and connects one client.
func dialOverlay(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribeAndWait(t *testing.T, hub *Hub, conn *websocket.Conn, entityID string) {
	t.Helper()
	if err := conn.WriteJSON(clientAction{Action: "subscribe", EntityID: entityID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(entityID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialOverlay(t, hub)
	subscribeAndWait(t, hub, conn, "ent-1")

	hub.Broadcast("ent-1", []byte(`{"entity_id":"ent-1"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["entity_id"] != "ent-1" {
		t.Fatalf("payload: %s", msg)
	}
}

func TestHub_UnsubscribedEntityNotDelivered(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialOverlay(t, hub)
	subscribeAndWait(t, hub, conn, "ent-1")

	// Traffic for another entity must not reach this client.
	hub.Broadcast("ent-2", []byte(`{"entity_id":"ent-2"}`))
	hub.Broadcast("ent-1", []byte(`{"entity_id":"ent-1"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), "ent-1") {
		t.Fatalf("received foreign payload: %s", msg)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialOverlay(t, hub)
	subscribeAndWait(t, hub, conn, "ent-1")

	if err := conn.WriteJSON(clientAction{Action: "unsubscribe", EntityID: "ent-1"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("ent-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("unsubscribe never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialOverlay(t, hub)
	subscribeAndWait(t, hub, conn, "ent-1")

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("ent-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client still subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForwarder_BroadcastsAndPosts(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialOverlay(t, hub)
	subscribeAndWait(t, hub, conn, "ent-1")

	posted := make(chan displayEnvelope, 1)
	ingest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env displayEnvelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		posted <- env
	}))
	defer ingest.Close()

	f := NewForwarder(hub, ingest.URL)
	f.Forward("ent-1", []domain.ResponsePayload{
		{Action: domain.ActionTicker, Payload: json.RawMessage(`{"text":"hi"}`), Success: true},
	})

	// WebSocket path.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env displayEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.EntityID != "ent-1" || len(env.Responses) != 1 || env.Responses[0].Action != domain.ActionTicker {
		t.Fatalf("ws envelope: %+v", env)
	}

	// HTTP ingest path.
	select {
	case env := <-posted:
		if env.EntityID != "ent-1" || len(env.Responses) != 1 {
			t.Fatalf("ingest envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ingest never called")
	}
}

func TestForwarder_NoIngestURLSkipsHTTP(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Must not panic or post anywhere.
	f := NewForwarder(hub, "")
	f.Forward("ent-1", []domain.ResponsePayload{
		{Action: domain.ActionMedia, Payload: json.RawMessage(`{}`), Success: true},
	})
}
