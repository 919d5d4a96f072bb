package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/prulety/pruletynvr/internal/config"
	"github.com/prulety/pruletynvr/internal/events"
	"github.com/prulety/pruletynvr/internal/media"
)

// Recorder manages the capture pipeline for a single camera stream: the
// segmenter process, the RAM ring buffer and the clip finalizer.
type Recorder struct {
	deviceID   string
	streamType string
	topic      string

	url       string
	extraArgs []string

	segmentSeconds int
	preRollSeconds float64
	postRoll       time.Duration

	ramDir     string
	outputBase string
	ffmpegBin  string

	tool media.Tool
	bus  *events.Bus

	mu            sync.Mutex
	state         State
	lastDetection time.Time
	segmentCount  int

	finalizeCh chan struct{}
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewRecorder creates a recorder for one camera stream.
func NewRecorder(
	deviceID string,
	streamType string,
	topic string,
	stream config.StreamConfig,
	rec config.RecordingConfig,
	tool media.Tool,
	bus *events.Bus,
) *Recorder {
	return &Recorder{
		deviceID:       deviceID,
		streamType:     streamType,
		topic:          topic,
		url:            stream.URL,
		extraArgs:      stream.FFmpegExtraArgs,
		segmentSeconds: rec.SegmentDuration,
		preRollSeconds: float64(rec.PreBufferSeconds),
		postRoll:       time.Duration(rec.PostDetectionSeconds) * time.Second,
		ramDir:         filepath.Join(rec.RAMBase, deviceID, streamType),
		outputBase:     rec.OutputBase,
		ffmpegBin:      rec.FFmpegPath,
		tool:           tool,
		bus:            bus,
		state:          StateIdle,
		finalizeCh:     make(chan struct{}, 1),
		logger: slog.Default().With("component", "recorder",
			"device", deviceID, "stream", streamType),
	}
}

// Start creates the buffer directory and launches the recorder's three
// goroutines. Their lifetime is governed by ctx; call Stop after cancelling
// it to wait for them.
func (r *Recorder) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.ramDir, 0755); err != nil {
		return fmt.Errorf("failed to create buffer directory: %w", err)
	}

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.superviseSegmenter(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.watch(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.runFinalizer(ctx)
	}()

	r.logger.Info("Recorder started", "url", r.url, "buffer_dir", r.ramDir)
	return nil
}

// Stop blocks until the recorder's goroutines have exited. An in-flight
// finalization completes first.
func (r *Recorder) Stop() {
	r.wg.Wait()
}

// TriggerDetection records a detection and moves the recorder into
// RECORDING. A trigger during FINALIZING revives the recording so the new
// event merges into the pending clip.
func (r *Recorder) TriggerDetection() {
	r.mu.Lock()
	r.lastDetection = time.Now()
	prev := r.state
	switch r.state {
	case StateIdle:
		r.state = StateRecording
		r.logger.Info("Detection received, recording started")
	case StateRecording:
		r.logger.Info("Detection received, post window extended")
	case StateFinalizing:
		r.state = StateRecording
		r.logger.Info("Detection during finalization, merging")
	}
	state := r.state
	r.mu.Unlock()

	r.bus.PublishDetection(r.deviceID, r.streamType, r.topic)
	if prev != state {
		r.bus.PublishStateChange(r.deviceID, r.streamType, string(prev), string(state))
	}
}

// tryEndRecording moves RECORDING to FINALIZING once the post-detection
// window has expired. Returns true when the transition happened.
func (r *Recorder) tryEndRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.lastDetection.IsZero() {
		return false
	}
	if time.Since(r.lastDetection) < r.postRoll {
		return false
	}
	r.state = StateFinalizing
	r.logger.Info("Post window expired, finalizing")
	return true
}

// endFinalizing returns the recorder to IDLE after a finalization cycle,
// unless a detection has already moved it back to RECORDING. Returns true
// when the transition happened.
func (r *Recorder) endFinalizing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateFinalizing {
		return false
	}
	r.state = StateIdle
	r.logger.Info("Recorder idle")
	return true
}

// CurrentState returns the recorder's state.
func (r *Recorder) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// snapshot returns the state and last detection time atomically.
func (r *Recorder) snapshot() (State, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.lastDetection
}

// signalFinalize wakes the finalizer. The channel holds one slot; a second
// signal while one is pending is a no-op.
func (r *Recorder) signalFinalize() {
	select {
	case r.finalizeCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the recorder for the API.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		DeviceID:       r.deviceID,
		StreamType:     r.streamType,
		Topic:          r.topic,
		State:          r.state,
		BufferSegments: r.segmentCount,
	}
	if !r.lastDetection.IsZero() {
		t := r.lastDetection
		status.LastDetection = &t
	}
	return status
}

// watch scans the buffer directory at a fixed cadence, prunes it while
// IDLE and drives the post-window expiry check.
func (r *Recorder) watch(ctx context.Context) {
	known := make(map[string]bool)
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		segments, err := r.listSegments()
		if err != nil {
			r.logger.Warn("Failed to scan buffer directory", "error", err)
			continue
		}

		fresh := false
		for _, seg := range segments {
			if !known[filepath.Base(seg)] {
				fresh = true
				break
			}
		}

		if fresh {
			// Let the segmenter finish writing the newest file before
			// counting it.
			if !sleepCtx(ctx, settleDelay) {
				return
			}
			for _, seg := range segments {
				if name := filepath.Base(seg); !known[name] {
					r.logger.Debug("New segment", "name", name)
				}
			}
			known = make(map[string]bool, len(segments))
			for _, seg := range segments {
				known[filepath.Base(seg)] = true
			}

			r.mu.Lock()
			r.segmentCount = len(segments)
			idle := r.state == StateIdle
			r.mu.Unlock()

			if idle {
				r.prune(ctx, segments)
			}
		}

		if r.tryEndRecording() {
			r.bus.PublishStateChange(r.deviceID, r.streamType,
				string(StateRecording), string(StateFinalizing))
			r.signalFinalize()
		}
	}
}

// listSegments returns the buffered segment paths in chronological order.
func (r *Recorder) listSegments() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(r.ramDir, segmentPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// prune removes the oldest buffered segments while the total buffered
// duration exceeds the pre-roll window, always keeping at least one
// segment so a detection never finds an empty buffer.
func (r *Recorder) prune(ctx context.Context, segments []string) {
	durations := make([]float64, len(segments))
	total := 0.0
	for i, seg := range segments {
		durations[i] = r.segmentDuration(ctx, seg)
		total += durations[i]
	}

	for total > r.preRollSeconds && len(segments) > 1 {
		oldest := segments[0]
		segments = segments[1:]
		dur := durations[0]
		durations = durations[1:]
		total -= dur

		err := os.Remove(oldest)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to prune segment",
				"name", filepath.Base(oldest), "error", err)
			continue
		}
		r.logger.Debug("Pruned segment",
			"name", filepath.Base(oldest), "buffer_seconds", total)
	}

	r.mu.Lock()
	r.segmentCount = len(segments)
	r.mu.Unlock()
}

// segmentDuration probes a segment's duration, falling back to the nominal
// segment length when probing fails.
func (r *Recorder) segmentDuration(ctx context.Context, path string) float64 {
	dur, err := r.tool.ProbeDuration(ctx, path)
	if err != nil {
		r.logger.Warn("Probe failed, assuming nominal duration",
			"name", filepath.Base(path), "error", err)
		return float64(r.segmentSeconds)
	}
	return dur
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
