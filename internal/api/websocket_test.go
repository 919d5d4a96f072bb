package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.broadcast == nil {
		t.Error("broadcast channel should be initialized")
	}
	if hub.register == nil {
		t.Error("register channel should be initialized")
	}
	if hub.unregister == nil {
		t.Error("unregister channel should be initialized")
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub()
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Run_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_BroadcastEvent(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastEvent("recorder.state", []byte(`{"device_id":"porch"}`))
	time.Sleep(10 * time.Millisecond)

	select {
	case data := <-client.send:
		var received Message
		if err := json.Unmarshal(data, &received); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if received.Subject != "recorder.state" {
			t.Errorf("Expected subject recorder.state, got %s", received.Subject)
		}
		if received.Timestamp.IsZero() {
			t.Error("Expected timestamp to be set")
		}
		var payload map[string]string
		if err := json.Unmarshal(received.Data, &payload); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
		if payload["device_id"] != "porch" {
			t.Errorf("Expected device_id porch, got %s", payload["device_id"])
		}
	default:
		t.Error("Expected message on client.send channel")
	}
}

func TestHub_Run_ShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	cancel()

	deadline := time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("Hub did not drop clients after shutdown")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("Expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("Expected send channel to be closed")
	}
}

func TestHub_HandleWebSocket(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	// Convert http URL to ws URL
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	// Give time for registration
	time.Sleep(50 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	hub.BroadcastEvent("recorder.finalized", []byte(`{"device_id":"garage"}`))

	ws.SetReadDeadline(time.Now().Add(time.Second))
	var received Message
	if err := ws.ReadJSON(&received); err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	if received.Subject != "recorder.finalized" {
		t.Errorf("Expected subject recorder.finalized, got %s", received.Subject)
	}
}
