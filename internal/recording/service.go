package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/prulety/pruletynvr/internal/config"
	"github.com/prulety/pruletynvr/internal/events"
	"github.com/prulety/pruletynvr/internal/media"
)

// Service owns one recorder per configured camera stream and the detection
// topic routing table.
type Service struct {
	recorders []*Recorder
	topics    map[string][]*Recorder
	logger    *slog.Logger
}

// NewService builds the recorders and creates the output directory tree.
// A directory creation failure here is fatal to startup.
func NewService(cfg *config.Config, tool media.Tool, bus *events.Bus) (*Service, error) {
	s := &Service{
		topics: make(map[string][]*Recorder),
		logger: slog.Default().With("component", "recording"),
	}

	if err := os.MkdirAll(filepath.Join(cfg.Recording.OutputBase, "m3u8"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	deviceIDs := make([]string, 0, len(cfg.Cameras))
	for deviceID := range cfg.Cameras {
		deviceIDs = append(deviceIDs, deviceID)
	}
	slices.Sort(deviceIDs)
	for _, deviceID := range deviceIDs {
		cam := cfg.Cameras[deviceID]
		streamTypes := make([]string, 0, len(cam.Streams))
		for streamType := range cam.Streams {
			streamTypes = append(streamTypes, streamType)
		}
		slices.Sort(streamTypes)
		for _, streamType := range streamTypes {
			rec := NewRecorder(deviceID, streamType, cam.Topic,
				cam.Streams[streamType], cfg.Recording, tool, bus)
			s.recorders = append(s.recorders, rec)
			s.topics[cam.Topic] = append(s.topics[cam.Topic], rec)
		}
		s.logger.Info("Camera configured", "device", deviceID,
			"topic", cam.Topic, "streams", len(cam.Streams))
	}

	return s, nil
}

// Start starts every recorder. The context governs their lifetime.
func (s *Service) Start(ctx context.Context) error {
	for _, rec := range s.recorders {
		if err := rec.Start(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("Recorders started", "count", len(s.recorders))
	return nil
}

// Stop waits for every recorder's goroutines to exit. Cancel the context
// passed to Start first.
func (s *Service) Stop() {
	for _, rec := range s.recorders {
		rec.Stop()
	}
	s.logger.Info("All recorders stopped")
}

// TopicMap returns the detection topic routing table. A topic shared by
// several cameras maps to all of their recorders.
func (s *Service) TopicMap() map[string][]*Recorder {
	return s.topics
}

// Statuses returns a snapshot of every recorder, in construction order.
func (s *Service) Statuses() []Status {
	statuses := make([]Status, 0, len(s.recorders))
	for _, rec := range s.recorders {
		statuses = append(statuses, rec.Status())
	}
	return statuses
}
