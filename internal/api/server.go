package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"

	"github.com/prulety/pruletynvr/internal/config"
	"github.com/prulety/pruletynvr/internal/events"
	"github.com/prulety/pruletynvr/internal/recording"
)

// StatusSource reports the current state of every recorder.
type StatusSource interface {
	Statuses() []recording.Status
}

// Server exposes recorder status over HTTP and live events over WebSocket.
type Server struct {
	cfg      config.APIConfig
	statuses StatusSource
	bus      *events.Bus
	hub      *Hub
	router   *chi.Mux
	server   *http.Server
	logger   *slog.Logger
	started  time.Time
}

// NewServer creates the API server. The bus may be nil, in which case the
// WebSocket feed carries no events.
func NewServer(cfg config.APIConfig, statuses StatusSource, bus *events.Bus) *Server {
	s := &Server{
		cfg:      cfg,
		statuses: statuses,
		bus:      bus,
		hub:      NewHub(),
		logger:   slog.Default().With("component", "api"),
		started:  time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter creates the HTTP router with all routes
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d,"recorders":%d}`,
			int(time.Since(s.started).Seconds()), len(s.statuses.Statuses()))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/recorders", s.handleRecorders)
		r.Get("/events", s.hub.HandleWebSocket)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "route not found")
	})

	return r
}

// requestLogger logs completed requests at debug
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

// handleRecorders returns the status of every configured recorder
func (s *Server) handleRecorders(w http.ResponseWriter, r *http.Request) {
	OK(w, s.statuses.Statuses())
}

// Handler returns the HTTP handler for the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving the API and forwarding bus events to WebSocket
// clients. It returns once the listener goroutine is launched.
func (s *Server) Start(ctx context.Context) error {
	if err := s.subscribeEvents(); err != nil {
		return err
	}

	go s.hub.Run(ctx)

	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.cfg.Listen)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// subscribeEvents forwards every recorder and config event to the hub.
func (s *Server) subscribeEvents() error {
	if s.bus == nil {
		return nil
	}

	forward := func(msg *nats.Msg) {
		s.hub.BroadcastEvent(msg.Subject, msg.Data)
	}

	if _, err := s.bus.Subscribe("recorder.>", forward); err != nil {
		return fmt.Errorf("failed to subscribe to recorder events: %w", err)
	}
	if _, err := s.bus.Subscribe(events.SubjectConfigChanged, forward); err != nil {
		return fmt.Errorf("failed to subscribe to config events: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
