// Package events provides the in-process pub/sub bus the recorders publish
// their lifecycle events on, backed by an embedded NATS server on loopback.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus is an embedded NATS server plus a client connection to it.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger
}

// NewBus starts an embedded NATS server on a random loopback port and
// connects to it.
func NewBus(logger *slog.Logger) (*Bus, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	bus := &Bus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "events"),
	}

	bus.logger.Info("Event bus started", "url", ns.ClientURL())

	return bus, nil
}

// ClientURL returns the NATS client URL of the embedded server.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish marshals data to JSON and publishes it on the subject.
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject. Wildcards are supported.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, handler)
}

// Close drains the connection and shuts the embedded server down.
func (b *Bus) Close() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}
