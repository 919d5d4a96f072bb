package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// clipMeta is the JSON sidecar written next to each playlist and MP4.
type clipMeta struct {
	DeviceID   string `json:"did"`
	StreamType string `json:"stream_type"`
	Datetime   string `json:"datetime"`
	Timestamp  int64  `json:"timestamp"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// writeMeta writes the sidecar describing an artifact's detection moment.
// The timestamp string is the one embedded in the artifact name and is
// interpreted as UTC.
func writeMeta(path, deviceID, streamType, detectionTS string) error {
	dt, err := time.ParseInLocation(tsLayout, detectionTS, time.UTC)
	if err != nil {
		return fmt.Errorf("failed to parse detection timestamp: %w", err)
	}

	meta := clipMeta{
		DeviceID:   deviceID,
		StreamType: streamType,
		Datetime:   dt.Format(time.RFC3339),
		Timestamp:  dt.Unix(),
		Date:       dt.Format("2006-01-02"),
		Time:       dt.Format("15:04:05"),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
