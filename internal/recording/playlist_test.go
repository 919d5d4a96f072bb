package recording

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWritePlaylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detection_porch_hq_20260301_120015.m3u8")
	segments := []string{
		"/out/m3u8/ts/porch/hq/buffer_20260301_120000.ts",
		"/out/m3u8/ts/porch/hq/buffer_20260301_120003.ts",
	}
	durations := []float64{3.0, 2.5}

	if err := writePlaylist(path, "porch", "hq", segments, durations); err != nil {
		t.Fatalf("writePlaylist failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read playlist: %v", err)
	}

	want := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:4",
		"#EXT-X-PLAYLIST-TYPE:VOD",
		"#EXTINF:3.000,",
		"ts/porch/hq/buffer_20260301_120000.ts",
		"#EXT-X-DISCONTINUITY",
		"#EXTINF:2.500,",
		"ts/porch/hq/buffer_20260301_120003.ts",
		"#EXT-X-ENDLIST",
		"",
	}, "\n")
	if string(data) != want {
		t.Errorf("Playlist mismatch.\nGot:\n%s\nWant:\n%s", data, want)
	}
}

func TestWritePlaylistTargetDuration(t *testing.T) {
	tests := []struct {
		name      string
		durations []float64
		want      string
	}{
		{"integral max", []float64{3.0, 2.0}, "#EXT-X-TARGETDURATION:4"},
		{"fractional max rounds up", []float64{3.2}, "#EXT-X-TARGETDURATION:5"},
		{"sub-second", []float64{0.5}, "#EXT-X-TARGETDURATION:2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.m3u8")
			segments := make([]string, len(tt.durations))
			for i := range segments {
				segments[i] = "buffer_x_y.ts"
			}

			if err := writePlaylist(path, "d", "s", segments, tt.durations); err != nil {
				t.Fatalf("writePlaylist failed: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("Failed to read playlist: %v", err)
			}
			if !strings.Contains(string(data), tt.want+"\n") {
				t.Errorf("Expected %q in playlist:\n%s", tt.want, data)
			}
		})
	}
}

func TestWriteMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.meta")

	if err := writeMeta(path, "porch", "hq", "20260301_120015"); err != nil {
		t.Fatalf("writeMeta failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read sidecar: %v", err)
	}

	var meta struct {
		DeviceID   string `json:"did"`
		StreamType string `json:"stream_type"`
		Datetime   string `json:"datetime"`
		Timestamp  int64  `json:"timestamp"`
		Date       string `json:"date"`
		Time       string `json:"time"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("Failed to parse sidecar: %v", err)
	}

	want := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	if meta.DeviceID != "porch" || meta.StreamType != "hq" {
		t.Errorf("Unexpected identity: %s/%s", meta.DeviceID, meta.StreamType)
	}
	if meta.Timestamp != want.Unix() {
		t.Errorf("timestamp = %d, want %d", meta.Timestamp, want.Unix())
	}
	if meta.Date != "2026-03-01" {
		t.Errorf("date = %s, want 2026-03-01", meta.Date)
	}
	if meta.Time != "12:00:15" {
		t.Errorf("time = %s, want 12:00:15", meta.Time)
	}

	parsed, err := time.Parse(time.RFC3339, meta.Datetime)
	if err != nil {
		t.Fatalf("datetime not RFC 3339: %v", err)
	}
	if !parsed.Equal(want) {
		t.Errorf("datetime = %v, want %v", parsed, want)
	}
}

func TestWriteMetaBadTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.meta")
	if err := writeMeta(path, "porch", "hq", "not-a-timestamp"); err == nil {
		t.Error("Expected error for malformed timestamp")
	}
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		name       string
		durations  []float64
		wantIndex  int
		wantOffset float64
	}{
		{"single segment", []float64{5.0}, 0, 2.5},
		{"even split lands on boundary", []float64{3.0, 3.0, 3.0, 3.0}, 1, 3.0},
		{"long middle segment", []float64{1.0, 10.0, 1.0}, 1, 5.0},
		{"front-loaded", []float64{10.0, 1.0, 1.0}, 0, 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := make([]string, len(tt.durations))
			for i := range segments {
				segments[i] = string(rune('a'+i)) + ".ts"
			}

			seg, offset := midpoint(segments, tt.durations)
			if seg != segments[tt.wantIndex] {
				t.Errorf("midpoint segment = %s, want %s", seg, segments[tt.wantIndex])
			}
			if offset != tt.wantOffset {
				t.Errorf("midpoint offset = %v, want %v", offset, tt.wantOffset)
			}
		})
	}
}
