package events

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewBus(slog.Default())
	if err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan StateChangeEvent, 1)
	_, err := bus.Subscribe(SubjectStateChanged, func(msg *nats.Msg) {
		var event StateChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("Failed to unmarshal event: %v", err)
			return
		}
		received <- event
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	bus.PublishStateChange("porch", "hq", "IDLE", "RECORDING")

	select {
	case event := <-received:
		if event.DeviceID != "porch" || event.StreamType != "hq" {
			t.Errorf("Unexpected identity: %s/%s", event.DeviceID, event.StreamType)
		}
		if event.From != "IDLE" || event.To != "RECORDING" {
			t.Errorf("Unexpected transition: %s -> %s", event.From, event.To)
		}
		if event.Timestamp.IsZero() {
			t.Error("Expected timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestWildcardSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan string, 2)
	_, err := bus.Subscribe("recorder.>", func(msg *nats.Msg) {
		received <- msg.Subject
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	bus.PublishDetection("porch", "hq", "frigate/porch/person")
	bus.PublishFinalized(FinalizedEvent{DeviceID: "porch", StreamType: "hq"})

	subjects := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case subject := <-received:
			subjects[subject] = true
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for events")
		}
	}
	if !subjects[SubjectDetection] || !subjects[SubjectFinalized] {
		t.Errorf("Expected both subjects, got %v", subjects)
	}
}

func TestPublishFinalizedAssignsID(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan FinalizedEvent, 1)
	_, err := bus.Subscribe(SubjectFinalized, func(msg *nats.Msg) {
		var event FinalizedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("Failed to unmarshal event: %v", err)
			return
		}
		received <- event
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	bus.PublishFinalized(FinalizedEvent{
		DeviceID:     "porch",
		StreamType:   "hq",
		DetectionTS:  "20260301_120000",
		SegmentCount: 6,
	})

	select {
	case event := <-received:
		if event.ID == "" {
			t.Error("Expected ID to be assigned")
		}
		if event.DetectionTS != "20260301_120000" {
			t.Errorf("Unexpected detection timestamp: %s", event.DetectionTS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestNilBusPublishers(t *testing.T) {
	var bus *Bus

	// Helper publishers tolerate a nil bus so recorders can run without one.
	bus.PublishStateChange("porch", "hq", "IDLE", "RECORDING")
	bus.PublishDetection("porch", "hq", "frigate/porch/person")
	bus.PublishFinalized(FinalizedEvent{})
	bus.PublishConfigChanged("conf.yaml")
}
