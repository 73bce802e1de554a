// Package admin exposes the operational HTTP surface: health, buffer
// status, and Prometheus metrics. The media API proper lives elsewhere.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netscane/rhythm/pkg/membuf"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// StatsSource is anything that can report buffer statistics; every
// buffered repository qualifies.
type StatsSource interface {
	Stats() membuf.Stats
}

// Server serves the admin endpoints.
type Server struct {
	sources    []StatsSource
	registry   *prometheus.Registry
	httpServer *http.Server
	addr       string
}

func NewServer(port int, registry *prometheus.Registry, sources ...StatsSource) *Server {
	return &Server{
		sources:  sources,
		registry: registry,
		addr:     fmt.Sprintf(":%d", port),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server failed", "error", err)
		}
	}()
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown admin server: %w", err)
	}
	return nil
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := make([]membuf.Stats, 0, len(s.sources))
	for _, src := range s.sources {
		stats = append(stats, src.Stats())
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := json.NewEncoder(w).Encode(map[string]any{"buffers": stats}); err != nil {
		slog.Warn("failed to encode status", "error", err)
	}
}
