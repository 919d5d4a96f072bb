package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/prulety/pruletynvr/internal/events"
)

// runFinalizer services finalization requests until the context is
// cancelled. A cycle that has already started runs to completion.
func (r *Recorder) runFinalizer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.finalizeCh:
			r.finalizeOnce()
		}
	}
}

// finalizeOnce runs one finalization cycle. The recorder's state is checked
// before and after the quiescence wait; a detection arriving in between has
// moved it back to RECORDING and the cycle aborts, leaving the buffered
// segments in place for the merged clip.
func (r *Recorder) finalizeOnce() {
	if r.CurrentState() != StateFinalizing {
		r.logger.Info("Finalization aborted, new detection arrived")
		return
	}

	// Wait for the segment in progress to close. Shutdown does not
	// interrupt this; an accepted clip is always written out.
	time.Sleep(time.Duration(r.segmentSeconds)*time.Second + 500*time.Millisecond)

	state, lastDetection := r.snapshot()
	if state != StateFinalizing {
		r.logger.Info("Finalization aborted, new detection arrived")
		return
	}

	detectionTS := lastDetection.UTC().Format(tsLayout)
	if err := r.finalize(detectionTS); err != nil {
		r.logger.Error("Finalization failed", "error", err)
	}

	if r.endFinalizing() {
		r.bus.PublishStateChange(r.deviceID, r.streamType,
			string(StateFinalizing), string(StateIdle))
	}
}

// finalize assembles the artifact set for one detection clip: segment
// copies, HLS playlist, sidecars, thumbnail and concatenated MP4. The
// playlist, sidecars, thumbnail and MP4 are each best-effort; buffered
// segments are deleted only at the end.
func (r *Recorder) finalize(detectionTS string) error {
	ctx := context.Background()

	segments, err := r.listSegments()
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	if len(segments) == 0 {
		r.logger.Warn("No segments to finalize")
		return nil
	}

	r.logger.Info("Finalizing clip", "segments", len(segments), "detection_ts", detectionTS)
	for _, seg := range segments {
		r.logger.Debug("Including segment", "name", filepath.Base(seg))
	}

	prefix := fmt.Sprintf("%s_%s_%s", r.deviceID, r.streamType, detectionTS)

	m3u8Dir := filepath.Join(r.outputBase, "m3u8")
	tsDir := filepath.Join(m3u8Dir, "ts", r.deviceID, r.streamType)
	if err := os.MkdirAll(tsDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.MkdirAll(r.outputBase, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Copy segments out of RAM. A segment that fails to copy is skipped.
	var copied []string
	for _, seg := range segments {
		dst := filepath.Join(tsDir, filepath.Base(seg))
		if err := copyFile(seg, dst); err != nil {
			r.logger.Error("Failed to copy segment",
				"name", filepath.Base(seg), "error", err)
			continue
		}
		copied = append(copied, dst)
	}
	if len(copied) == 0 {
		return fmt.Errorf("no segments could be copied out of the buffer")
	}

	durations := make([]float64, len(copied))
	total := 0.0
	for i, seg := range copied {
		durations[i] = r.segmentDuration(ctx, seg)
		total += durations[i]
	}

	playlistPath := filepath.Join(m3u8Dir, "detection_"+prefix+".m3u8")
	if err := writePlaylist(playlistPath, r.deviceID, r.streamType, copied, durations); err != nil {
		r.logger.Warn("Failed to write playlist", "error", err)
	} else {
		r.logger.Info("Playlist written", "path", playlistPath,
			"seconds", total, "segments", len(copied))
	}

	if err := writeMeta(playlistPath+".meta", r.deviceID, r.streamType, detectionTS); err != nil {
		r.logger.Warn("Failed to write playlist sidecar", "error", err)
	}

	thumbPath := playlistPath + ".jpg"
	seg, offset := midpoint(copied, durations)
	if err := r.tool.Thumbnail(ctx, seg, offset, thumbPath); err != nil {
		r.logger.Warn("Failed to write thumbnail", "error", err)
	} else {
		r.logger.Info("Thumbnail written", "path", thumbPath)
	}

	mp4Path := filepath.Join(r.outputBase, "detection_"+prefix+".mp4")
	if err := r.tool.Concat(ctx, copied, mp4Path); err != nil {
		r.logger.Warn("Failed to write MP4", "error", err)
	} else {
		r.logger.Info("MP4 written", "path", mp4Path)
	}

	if err := writeMeta(mp4Path+".meta", r.deviceID, r.streamType, detectionTS); err != nil {
		r.logger.Warn("Failed to write MP4 sidecar", "error", err)
	}

	// Drop the buffered segments so the next clip starts fresh.
	for _, seg := range segments {
		if err := os.Remove(seg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Failed to remove buffered segment",
				"name", filepath.Base(seg), "error", err)
		}
	}

	r.bus.PublishFinalized(events.FinalizedEvent{
		DeviceID:     r.deviceID,
		StreamType:   r.streamType,
		DetectionTS:  detectionTS,
		Playlist:     playlistPath,
		MP4:          mp4Path,
		Thumbnail:    thumbPath,
		SegmentCount: len(copied),
		Duration:     math.Round(total*1000) / 1000,
	})

	r.logger.Info("Clip finalized", "prefix", prefix,
		"segments", len(copied), "seconds", total)
	return nil
}

// midpoint picks the segment containing the temporal midpoint of the clip
// and the offset of that midpoint within it.
func midpoint(segments []string, durations []float64) (string, float64) {
	total := 0.0
	for _, d := range durations {
		total += d
	}
	target := total / 2

	acc := 0.0
	for i, seg := range segments {
		if acc+durations[i] >= target {
			return seg, target - acc
		}
		acc += durations[i]
	}
	return segments[0], 0
}

// copyFile copies src to dst, preserving the modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
