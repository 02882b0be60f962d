// Package api exposes the sentryd REST surface: pipeline status, recorded
// events, aggregate reports, record ingest, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sentryd-project/sentryd/internal/core"
)

// Server is the sentryd REST API server.
type Server struct {
	engine *core.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(engine *core.Engine) *Server {
	s := &Server{
		engine: engine,
		logger: engine.Logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/events/recent", s.handleRecentEvents)
	mux.HandleFunc("/api/v1/stats/top-sources", s.handleTopSources)
	mux.HandleFunc("/api/v1/stats/distribution", s.handleDistribution)
	mux.HandleFunc("/api/v1/records", s.handleIngestRecord)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(engine.Metrics.Registry, promhttp.HandlerOpts{}))

	handler := loggingMiddleware(
		authMiddleware(mux, engine.Config, s.logger),
		s.logger,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", engine.Config.Server.Host, engine.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.engine.Config.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.engine.Config.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled — set api_keys in config or SENTRYD_API_KEY env var")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"version":   "1.0.0",
		"status":    "running",
		"storage":   s.engine.Config.Storage.Driver,
		"alerting":  s.engine.Config.Alerts.Enabled,
		"timestamp": time.Now().UTC(),
	}
	for k, v := range s.engine.Stats() {
		status[k] = v
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 100)
	since := querySince(r, 24*time.Hour)

	events, err := s.engine.Store.RecentEvents(r.Context(), since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("recent events query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
		"since":  since.UTC(),
	})
}

func (s *Server) handleTopSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 20)
	since := querySince(r, 24*time.Hour)

	sources, err := s.engine.Store.TopSources(r.Context(), since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("top sources query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
		"since":   since.UTC(),
	})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := querySince(r, 24*time.Hour)

	dist, err := s.engine.Store.Distribution(r.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("distribution query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"distribution": dist,
		"since":        since.UTC(),
	})
}

// handleIngestRecord accepts one classified record and publishes it to the
// bus, where the detection workers pick it up.
func (s *Server) handleIngestRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec core.ClassifiedRecord
	limited := io.LimitReader(r.Body, 1<<20)
	if err := json.NewDecoder(limited).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid record JSON: " + err.Error()})
		return
	}

	if rec.SourceIP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_ip is required"})
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := s.engine.Bus.PublishRecord(&rec); err != nil {
		s.logger.Error().Err(err).Msg("failed to publish ingested record")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to publish record"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"label":  rec.Label.String(),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}

// querySince parses the "window" query parameter (a Go duration) into the
// cutoff time, defaulting to the given lookback.
func querySince(r *http.Request, def time.Duration) time.Time {
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return time.Now().Add(-d)
		}
	}
	return time.Now().Add(-def)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// authMiddleware enforces API key authentication on all endpoints except
// /health and /metrics. Keys come from config (server.api_keys) or the
// SENTRYD_API_KEY env var; with no keys configured all requests pass.
func authMiddleware(next http.Handler, cfg *core.Config, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if !cfg.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing authentication — provide Authorization: Bearer <key> or X-API-Key header",
			})
			return
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if !cfg.ValidateAPIKey(key) {
			logger.Warn().Str("path", r.URL.Path).Str("ip", r.RemoteAddr).Msg("invalid API key")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
