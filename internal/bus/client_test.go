package bus

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{BrokerURL: "tcp://broker.local:1883"})

	if c.config.ClientID == "" {
		t.Error("Expected a generated client ID")
	}
	if !strings.HasPrefix(c.config.ClientID, "pruletynvr-") {
		t.Errorf("Client ID = %s, want pruletynvr- prefix", c.config.ClientID)
	}
	if c.config.KeepAlive != 60*time.Second {
		t.Errorf("KeepAlive = %v, want 60s", c.config.KeepAlive)
	}
	if c.config.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", c.config.ConnectTimeout)
	}
	if c.config.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v, want 5s", c.config.ReconnectInterval)
	}
}

func TestNewClientKeepsExplicitConfig(t *testing.T) {
	c := NewClient(Config{
		BrokerURL:         "tcp://broker.local:1883",
		ClientID:          "fixed-id",
		KeepAlive:         30 * time.Second,
		ConnectTimeout:    time.Second,
		ReconnectInterval: 2 * time.Second,
	})

	if c.config.ClientID != "fixed-id" {
		t.Errorf("Client ID = %s, want fixed-id", c.config.ClientID)
	}
	if c.config.KeepAlive != 30*time.Second {
		t.Errorf("KeepAlive = %v, want 30s", c.config.KeepAlive)
	}
}

func TestConnectUnreachableBrokerHonorsContext(t *testing.T) {
	c := NewClient(Config{
		BrokerURL:      "tcp://127.0.0.1:1",
		ConnectTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Connect(ctx)
	if err == nil {
		t.Fatal("Expected error for unreachable broker")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Connect blocked %v, want prompt return after context expiry", elapsed)
	}

	c.Disconnect()
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	c := NewClient(Config{BrokerURL: "tcp://127.0.0.1:1"})

	// Registering while disconnected must not block or panic; the
	// subscription is established by the connect handler later.
	done := make(chan struct{})
	go func() {
		c.Subscribe("frigate/porch/person", func(string, []byte) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked while disconnected")
	}

	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	if _, ok := c.handlers["frigate/porch/person"]; !ok {
		t.Error("Expected handler to be registered for later subscription")
	}
}
