package events

import (
	"time"

	"github.com/google/uuid"
)

// Subjects published by the recorder service.
const (
	SubjectStateChanged  = "recorder.state"
	SubjectDetection     = "recorder.detection"
	SubjectFinalized     = "recorder.finalized"
	SubjectConfigChanged = "config.changed"
)

// StateChangeEvent is published on every recorder state transition.
type StateChangeEvent struct {
	DeviceID   string    `json:"device_id"`
	StreamType string    `json:"stream_type"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
}

// DetectionEvent is published when a detection trigger reaches a recorder.
type DetectionEvent struct {
	DeviceID   string    `json:"device_id"`
	StreamType string    `json:"stream_type"`
	Topic      string    `json:"topic"`
	Timestamp  time.Time `json:"timestamp"`
}

// FinalizedEvent is published after a clip has been written to the output
// directory.
type FinalizedEvent struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	StreamType   string    `json:"stream_type"`
	DetectionTS  string    `json:"detection_ts"`
	Playlist     string    `json:"playlist"`
	MP4          string    `json:"mp4"`
	Thumbnail    string    `json:"thumbnail"`
	SegmentCount int       `json:"segment_count"`
	Duration     float64   `json:"duration_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// ConfigChangedEvent is published when the configuration file is modified
// on disk. A restart is required for the changes to take effect.
type ConfigChangedEvent struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishStateChange publishes a state transition. Safe to call on a nil bus.
func (b *Bus) PublishStateChange(deviceID, streamType, from, to string) {
	if b == nil {
		return
	}
	err := b.Publish(SubjectStateChanged, StateChangeEvent{
		DeviceID:   deviceID,
		StreamType: streamType,
		From:       from,
		To:         to,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("Failed to publish state change", "error", err)
	}
}

// PublishDetection publishes a detection trigger. Safe to call on a nil bus.
func (b *Bus) PublishDetection(deviceID, streamType, topic string) {
	if b == nil {
		return
	}
	err := b.Publish(SubjectDetection, DetectionEvent{
		DeviceID:   deviceID,
		StreamType: streamType,
		Topic:      topic,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("Failed to publish detection", "error", err)
	}
}

// PublishFinalized publishes a finalized clip event, assigning it a unique
// ID. Safe to call on a nil bus.
func (b *Bus) PublishFinalized(event FinalizedEvent) {
	if b == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	if err := b.Publish(SubjectFinalized, event); err != nil {
		b.logger.Warn("Failed to publish finalized event", "error", err)
	}
}

// PublishConfigChanged publishes a config change notice. Safe to call on a
// nil bus.
func (b *Bus) PublishConfigChanged(path string) {
	if b == nil {
		return
	}
	err := b.Publish(SubjectConfigChanged, ConfigChangedEvent{
		Path:      path,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("Failed to publish config change", "error", err)
	}
}
