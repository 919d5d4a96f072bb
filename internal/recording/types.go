// Package recording implements the buffered per-stream recorders: an
// external ffmpeg segmenter feeding a RAM ring buffer, a watcher that
// prunes the buffer to the pre-roll window, and a finalizer that assembles
// detection clips into HLS playlists and MP4 files.
package recording

import "time"

// State is the lifecycle state of a recorder.
type State string

const (
	// StateIdle means no detection is active; the buffer is pruned to the
	// pre-roll window.
	StateIdle State = "IDLE"

	// StateRecording means a detection arrived and the buffer accumulates
	// until the post-detection window expires.
	StateRecording State = "RECORDING"

	// StateFinalizing means the post window expired and the finalizer is
	// assembling the clip.
	StateFinalizing State = "FINALIZING"
)

const (
	// watchInterval is how often the watcher scans the buffer directory.
	watchInterval = 500 * time.Millisecond

	// settleDelay gives the segmenter time to finish writing a segment
	// that has just appeared before it is counted.
	settleDelay = 300 * time.Millisecond

	// segmentPattern matches the strftime-templated names the segmenter
	// writes. Lexical order equals chronological order.
	segmentPattern = "buffer_*_*.ts"

	// tsLayout is the UTC timestamp layout embedded in segment and
	// artifact names.
	tsLayout = "20060102_150405"
)

// Status is a point-in-time snapshot of one recorder.
type Status struct {
	DeviceID       string     `json:"device_id"`
	StreamType     string     `json:"stream_type"`
	Topic          string     `json:"topic"`
	State          State      `json:"state"`
	LastDetection  *time.Time `json:"last_detection,omitempty"`
	BufferSegments int        `json:"buffer_segments"`
}
