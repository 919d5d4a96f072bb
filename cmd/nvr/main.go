// Package main provides the detection-triggered NVR entry point
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prulety/pruletynvr/internal/api"
	"github.com/prulety/pruletynvr/internal/bus"
	"github.com/prulety/pruletynvr/internal/config"
	"github.com/prulety/pruletynvr/internal/dispatch"
	"github.com/prulety/pruletynvr/internal/events"
	"github.com/prulety/pruletynvr/internal/media"
	"github.com/prulety/pruletynvr/internal/recording"
)

const version = "1.0.0"

func main() {
	// Bootstrap logging until the config is loaded
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath, err := config.FindConfigFile()
	if err != nil {
		slog.Error("No configuration file found", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))
	slog.Info("Starting NVR",
		"version", version,
		"config_path", configPath,
		"cameras", len(cfg.Cameras),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := events.NewBus(slog.Default())
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Recorder topology is fixed at startup; a config change needs a restart
	if err := config.Watch(ctx, configPath, func() {
		eventBus.PublishConfigChanged(configPath)
		slog.Info("Configuration changed, restart to apply")
	}); err != nil {
		slog.Warn("Config watcher unavailable", "error", err)
	}

	tool := media.NewFFmpeg(cfg.Recording.FFmpegPath, cfg.Recording.FFprobePath)

	service, err := recording.NewService(cfg, tool, eventBus)
	if err != nil {
		slog.Error("Failed to initialize recorders", "error", err)
		os.Exit(1)
	}
	if err := service.Start(ctx); err != nil {
		slog.Error("Failed to start recorders", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(service.TopicMap())

	mqttClient := bus.NewClient(bus.Config{
		BrokerURL: cfg.MQTT.BrokerURL(),
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		KeepAlive: time.Duration(cfg.MQTT.KeepAliveSeconds) * time.Second,
	})
	for _, topic := range dispatcher.Topics() {
		mqttClient.Subscribe(topic, dispatcher.HandleMessage)
	}

	// Recording works without the broker; paho keeps retrying in the background
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := mqttClient.Connect(connectCtx); err != nil {
		slog.Warn("Broker not reachable, retrying in background", "error", err)
	}
	connectCancel()

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiServer = api.NewServer(cfg.API, service, eventBus)
		if err := apiServer.Start(ctx); err != nil {
			slog.Error("Failed to start API server", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")

	mqttClient.Disconnect()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API shutdown error", "error", err)
		}
		shutdownCancel()
	}

	// Stop segmenters, then wait for in-flight finalizations to land
	cancel()
	service.Stop()

	slog.Info("Shutdown complete")
}

// newLogger builds the process logger from the logging config
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
