package recording

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/prulety/pruletynvr/internal/media"
)

const (
	segmenterRetryInitial = 5 * time.Second
	segmenterRetryMax     = 60 * time.Second
)

// superviseSegmenter keeps the ffmpeg segmenter running. The restart delay
// doubles after every exit up to a cap and is never reset, so a camera
// that keeps flapping settles at the long delay.
func (r *Recorder) superviseSegmenter(ctx context.Context) {
	pattern := filepath.Join(r.ramDir, "buffer_%Y%m%d_%H%M%S.ts")
	args := media.SegmenterArgs(r.url, r.extraArgs, r.segmentSeconds, pattern)

	delay := segmenterRetryInitial
	for {
		if ctx.Err() != nil {
			return
		}

		err := r.runSegmenter(ctx, args)
		if ctx.Err() != nil {
			return
		}

		r.logger.Warn("Segmenter exited, restarting",
			"error", err, "delay", delay.String())
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(delay*2, segmenterRetryMax)
	}
}

// runSegmenter runs one segmenter process to completion, draining its
// stderr into the debug log. The drain keeps the child from blocking on a
// full pipe.
func (r *Recorder) runSegmenter(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegBin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start segmenter: %w", err)
	}

	r.logger.Info("Segmenter started", "pid", cmd.Process.Pid)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			r.logger.Debug("ffmpeg", "line", line)
		}
	}

	return cmd.Wait()
}
