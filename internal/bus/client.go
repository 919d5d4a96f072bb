// Package bus wraps the MQTT client used to receive detection messages.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Handler is a callback for messages arriving on a subscribed topic.
type Handler func(topic string, payload []byte)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
}

// Client is an MQTT subscriber that re-establishes its subscriptions on
// every (re)connect.
type Client struct {
	config Config
	client mqtt.Client
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// NewClient builds the client. No connection is attempted until Connect.
func NewClient(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "pruletynvr-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}

	c := &Client{
		config:   cfg,
		logger:   slog.Default().With("component", "mqtt"),
		handlers: make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectInterval)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.logger.Info("Connected to broker", "url", cfg.BrokerURL)
		c.resubscribeAll()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("Broker connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts the connection attempt. The client keeps retrying in the
// background after ctx expires; subscriptions registered with Subscribe are
// established by the connect handler once the broker is reachable.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-ctx.Done():
		return fmt.Errorf("broker not reachable yet: %w", ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// Subscribe registers a handler for a topic. Messages are delivered at
// QoS 0. If the client is not connected yet the subscription is made on
// connect.
func (c *Client) Subscribe(topic string, handler Handler) {
	c.handlersMu.Lock()
	c.handlers[topic] = handler
	c.handlersMu.Unlock()

	if c.client.IsConnectionOpen() {
		c.subscribe(topic)
	}
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect closes the broker connection, allowing in-flight work a short
// grace period.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.logger.Info("Disconnected from broker")
}

func (c *Client) subscribe(topic string) {
	c.handlersMu.RLock()
	handler := c.handlers[topic]
	c.handlersMu.RUnlock()
	if handler == nil {
		return
	}

	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("Failed to subscribe", "topic", topic, "error", err)
		return
	}
	c.logger.Info("Subscribed", "topic", topic)
}

func (c *Client) resubscribeAll() {
	c.handlersMu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.handlersMu.RUnlock()

	for _, topic := range topics {
		c.subscribe(topic)
	}
}
