// Package dispatch routes detection messages from the broker to the
// recorders bound to each topic.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prulety/pruletynvr/internal/recording"
)

// Dispatcher holds the topic routing table built from configuration.
type Dispatcher struct {
	topics map[string][]*recording.Recorder
	logger *slog.Logger
}

// New creates a dispatcher over the given topic routing table.
func New(topics map[string][]*recording.Recorder) *Dispatcher {
	return &Dispatcher{
		topics: topics,
		logger: slog.Default().With("component", "dispatch"),
	}
}

// Topics returns the distinct detection topics, sorted.
func (d *Dispatcher) Topics() []string {
	topics := make([]string, 0, len(d.topics))
	for topic := range d.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// HandleMessage routes one detection message. The payload must be a JSON
// object, optionally wrapping the detection under a nested "payload" field.
// Content beyond the topic is informational only: the trigger fires even
// when the timestamp field is missing.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn("Dropping unparseable message", "topic", topic, "error", err)
		return
	}

	if inner, ok := msg["payload"].(map[string]interface{}); ok {
		msg = inner
	}

	recorders := d.topics[topic]
	if len(recorders) == 0 {
		d.logger.Debug("No recorder bound to topic", "topic", topic)
		return
	}

	timestamp := "?"
	if ts, ok := msg["timestamp"]; ok {
		timestamp = fmt.Sprint(ts)
	}
	d.logger.Info("Detection message", "topic", topic, "timestamp", timestamp)

	for _, rec := range recorders {
		rec.TriggerDetection()
	}
}
