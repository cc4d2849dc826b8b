package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scoville/internal/config"
	"scoville/internal/ingest"
	"scoville/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	engine *Engine

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, e *Engine, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || e == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	srv := &apiServer{
		bind:   bind,
		logger: logging.WithComponent(logger, "api-server"),
		engine: e,
	}

	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/ready", srv.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/pull", srv.handlePull)
	mux.HandleFunc("/api/pull/", srv.handlePullSource)
	mux.HandleFunc("/api/ingest", srv.handleIngest)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// handleHealthz answers immediately, including while startup retries are
// still connecting to the store.
func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *apiServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "engine is still starting")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handlePull enqueues a fan-out pull for both source groups.
func (s *apiServer) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.engine.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "engine is still starting")
		return
	}
	for _, group := range []string{ingest.PullGroupRSS, ingest.PullGroupVideo} {
		if _, err := s.engine.queue.Send(r.Context(), config.QueuePullSources, ingest.PullPayload{Source: group}); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.engine.metrics.PullsTotal.Inc()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// handlePullSource enqueues a pull for one configured source.
func (s *apiServer) handlePullSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.engine.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "engine is still starting")
		return
	}
	sourceID := strings.TrimPrefix(r.URL.Path, "/api/pull/")
	if sourceID == "" || strings.Contains(sourceID, "/") {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	src, err := s.engine.store.GetSource(r.Context(), sourceID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if src == nil {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if _, err := s.engine.queue.Send(r.Context(), config.QueuePullSource,
		ingest.PullSourcePayload{SourceID: src.ID, Kind: src.Kind}); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.engine.metrics.PullsTotal.Inc()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "sourceId": src.ID})
}

// handleIngest enqueues one ad-hoc URL.
func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.engine.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "engine is still starting")
		return
	}
	var payload ingest.IngestURLPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	jobID, err := s.engine.queue.Send(r.Context(), config.QueueIngestURL, payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "jobId": jobID})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": message})
}
