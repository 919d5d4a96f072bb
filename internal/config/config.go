// Package config loads and validates the NVR configuration file.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the recorder service.
type Config struct {
	MQTT      MQTTConfig              `yaml:"mqtt"`
	Recording RecordingConfig         `yaml:"recording"`
	API       APIConfig               `yaml:"api"`
	Logging   LoggingConfig           `yaml:"logging"`
	Cameras   map[string]CameraConfig `yaml:"cameras"`
}

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	ClientID         string `yaml:"client_id"`
	KeepAliveSeconds int    `yaml:"keepalive_seconds"`
}

// BrokerURL returns the paho broker URL for the configured host and port.
func (m MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

// RecordingConfig holds the buffering and finalization settings shared by
// all recorders.
type RecordingConfig struct {
	SegmentDuration      int    `yaml:"segment_duration"`
	PreBufferSeconds     int    `yaml:"pre_buffer_seconds"`
	PostDetectionSeconds int    `yaml:"post_detection_seconds"`
	RAMBase              string `yaml:"ram_base"`
	OutputBase           string `yaml:"output_base"`
	FFmpegPath           string `yaml:"ffmpeg"`
	FFprobePath          string `yaml:"ffprobe"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// IsEnabled reports whether the API server should run. Absent means enabled.
func (a APIConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps the configured level string onto a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CameraConfig describes one camera: its detection topic and its streams.
type CameraConfig struct {
	Topic   string                  `yaml:"topic"`
	Streams map[string]StreamConfig `yaml:"streams"`
}

// StreamConfig describes one RTSP stream of a camera. In YAML a stream may
// be given as a bare URL string or as a mapping with extra segmenter args.
type StreamConfig struct {
	URL             string   `yaml:"url"`
	FFmpegExtraArgs []string `yaml:"ffmpeg_extra_args"`
}

// UnmarshalYAML accepts either a scalar URL or a full stream mapping.
func (s *StreamConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&s.URL)
	}
	type rawStream StreamConfig
	var raw rawStream
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = StreamConfig(raw)
	return nil
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults fills in defaults for omitted fields.
func (c *Config) setDefaults() {
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.KeepAliveSeconds == 0 {
		c.MQTT.KeepAliveSeconds = 60
	}
	if c.Recording.SegmentDuration == 0 {
		c.Recording.SegmentDuration = 3
	}
	if c.Recording.PreBufferSeconds == 0 {
		c.Recording.PreBufferSeconds = 15
	}
	if c.Recording.PostDetectionSeconds == 0 {
		c.Recording.PostDetectionSeconds = 15
	}
	if c.Recording.RAMBase == "" {
		c.Recording.RAMBase = "/dev/shm/nvr_buffer"
	}
	if c.Recording.OutputBase == "" {
		c.Recording.OutputBase = "./nvr"
	}
	if c.Recording.FFmpegPath == "" {
		c.Recording.FFmpegPath = "ffmpeg"
	}
	if c.Recording.FFprobePath == "" {
		c.Recording.FFprobePath = "ffprobe"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8890"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration for errors that make startup pointless.
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}
	for id, cam := range c.Cameras {
		if cam.Topic == "" {
			return fmt.Errorf("camera %q: topic is required", id)
		}
		if len(cam.Streams) == 0 {
			return fmt.Errorf("camera %q: no streams configured", id)
		}
		for name, stream := range cam.Streams {
			if stream.URL == "" {
				return fmt.Errorf("camera %q stream %q: url is required", id, name)
			}
		}
	}
	return nil
}

// FindConfigFile locates the configuration file, checking the CONFIG_PATH
// environment variable and then the default locations.
func FindConfigFile() (string, error) {
	candidates := []string{
		os.Getenv("CONFIG_PATH"),
		"conf.yaml",
		"/etc/pruletynvr/conf.yaml",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found (set CONFIG_PATH or create conf.yaml)")
}

// Watch watches the configuration file and invokes onChange after each
// modification. Editors replace files on save, so the parent directory is
// watched and events are filtered by name.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(abs) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				time.Sleep(100 * time.Millisecond) // Debounce
				slog.Info("Configuration file changed", "path", path, "op", event.Op.String())
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return nil
}
