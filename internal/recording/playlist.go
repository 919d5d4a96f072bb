package recording

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// writePlaylist writes a VOD HLS playlist for the copied segments. Segment
// URIs are relative to the playlist's directory. Each pair of consecutive
// entries is separated by a discontinuity marker because the segmenter
// resets timestamps on every segment.
func writePlaylist(path, deviceID, streamType string, segments []string, durations []float64) error {
	maxDur := 0.0
	for _, d := range durations {
		if d > maxDur {
			maxDur = d
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(maxDur))+1)
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	for i, seg := range segments {
		if i > 0 {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", durations[i])
		fmt.Fprintf(&b, "ts/%s/%s/%s\n", deviceID, streamType, filepath.Base(seg))
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	return os.WriteFile(path, []byte(b.String()), 0644)
}
