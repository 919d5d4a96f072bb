// Package media wraps the external ffmpeg and ffprobe binaries used for
// probing, concatenating and thumbnailing MPEG-TS segments.
package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	probeTimeout     = 10 * time.Second
	thumbnailTimeout = 30 * time.Second
	concatTimeout    = 120 * time.Second
)

// Tool abstracts the media operations the finalizer needs, so tests can
// substitute a fake.
type Tool interface {
	// ProbeDuration returns the container duration of a segment in seconds,
	// rounded to milliseconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// Concat losslessly concatenates the segments into a single MP4.
	Concat(ctx context.Context, segments []string, outPath string) error

	// Thumbnail extracts a single JPEG frame at the given offset into the
	// segment.
	Thumbnail(ctx context.Context, segment string, offset float64, outPath string) error
}

// FFmpeg runs the stock ffmpeg/ffprobe binaries.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
}

// NewFFmpeg returns a Tool backed by the given binary paths.
func NewFFmpeg(ffmpegBin, ffprobeBin string) *FFmpeg {
	return &FFmpeg{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin}
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.FFprobeBin,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output %q: %w", strings.TrimSpace(string(output)), err)
	}

	return math.Round(value*1000) / 1000, nil
}

func (f *FFmpeg) Concat(ctx context.Context, segments []string, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, concatTimeout)
	defer cancel()

	list, err := os.CreateTemp("", "concat_*.txt")
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			list.Close()
			return fmt.Errorf("failed to resolve segment path: %w", err)
		}
		if _, err := fmt.Fprintf(list, "file '%s'\n", abs); err != nil {
			list.Close()
			return fmt.Errorf("failed to write concat list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.FFmpegBin,
		"-y",
		"-loglevel", "warning",
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return nil
}

func (f *FFmpeg) Thumbnail(ctx context.Context, segment string, offset float64, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.FFmpegBin,
		"-y",
		"-loglevel", "warning",
		"-ss", fmt.Sprintf("%.3f", offset),
		"-i", segment,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return nil
}

// SegmenterArgs builds the ffmpeg argument list for the RTSP segmenter that
// writes timestamped MPEG-TS segments into the RAM buffer directory.
func SegmenterArgs(url string, extraArgs []string, segmentSeconds int, outputPattern string) []string {
	args := []string{
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
	}
	args = append(args, extraArgs...)
	args = append(args,
		"-i", url,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-strftime", "1",
		"-reset_timestamps", "1",
		"-segment_format", "mpegts",
		outputPattern,
	)
	return args
}
