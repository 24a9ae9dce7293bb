// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package api exposes the operational HTTP surface: health, Prometheus
// metrics, aggregate statistics, and pipeline status. It is a
// read-only interface; ingestion jobs talk to the recorder directly,
// never over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ingestwatch/ingestwatch/internal/config"
	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metricstore"
	"github.com/ingestwatch/ingestwatch/internal/models"
	"github.com/ingestwatch/ingestwatch/internal/notify"
)

// Server is the operational HTTP server.
type Server struct {
	cfg    config.ServerConfig
	store  *metricstore.Store
	router *notify.Router
	logger zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the ops server over the store and notification
// router. The notify router may be nil when notifications are
// disabled.
func NewServer(cfg config.ServerConfig, store *metricstore.Store, router *notify.Router) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		router: router,
		logger: logging.With().Str("component", "api").Logger(),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
	return s
}

// routes builds the chi handler tree.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Health and metrics get permissive limits for scrapers.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/stats/hourly", s.handleHourlyStats)
		r.Get("/stats/daily", s.handleDailyStats)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// Start begins serving. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Ops server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsWindow parses the optional since parameter, defaulting to the
// given lookback.
func statsWindow(r *http.Request, lookback time.Duration) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().UTC().Add(-lookback), nil
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since parameter: %w", err)
	}
	return since.UTC(), nil
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	since, err := statsWindow(r, 24*time.Hour)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.store.HourlyStats(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeStats(w, stats, since)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	since, err := statsWindow(r, 30*24*time.Hour)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.store.DailyStats(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeStats(w, stats, since)
}

// statsResponse wraps aggregate rows with the failover backlog size,
// since durable aggregates undercount while entries sit in the log.
type statsResponse struct {
	Since           time.Time            `json:"since"`
	Buckets         []models.BucketStats `json:"buckets"`
	FailoverPending int                  `json:"failover_pending"`
}

func (s *Server) writeStats(w http.ResponseWriter, stats []models.BucketStats, since time.Time) {
	pending, err := s.store.Failover().Count()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count failover backlog")
	}
	if stats == nil {
		stats = []models.BucketStats{}
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Since:           since,
		Buckets:         stats,
		FailoverPending: pending,
	})
}

// statusResponse reports the subsystem's own health signals.
type statusResponse struct {
	BreakerState    string `json:"breaker_state"`
	FailoverPending int    `json:"failover_pending"`
	QueueDepth      int    `json:"notify_queue_depth"`
	DroppedPending  int    `json:"notify_dropped_pending"`
	NotifyBackoff   bool   `json:"notify_backoff_active"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pending, err := s.store.Failover().Count()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count failover backlog")
	}

	resp := statusResponse{
		BreakerState:    s.store.BreakerState(),
		FailoverPending: pending,
	}
	if s.router != nil {
		resp.QueueDepth = s.router.QueueDepth()
		resp.DroppedPending = s.router.DroppedSinceFlush()
		resp.NotifyBackoff = s.router.Limiter().InBackoff()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
