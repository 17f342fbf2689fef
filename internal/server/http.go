// Package server exposes interview sessions over HTTP and MCP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/loopgraph/graph"
	"github.com/dshills/loopgraph/interview"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Server serves the interview API.
type Server struct {
	engine   *interview.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
}

// New returns a Server. A nil registry disables /metrics.
func New(engine *interview.Engine, logger *slog.Logger, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger, registry: registry}
}

// Handler returns the HTTP routes.
//
//	POST /sessions                     {"input": "Design a URL shortener"}
//	POST /checkpoints/{id}/resume      {"value": <answer JSON>}
//	GET  /checkpoints/{id}
//	GET  /sessions/{id}/checkpoints
//	GET  /healthz
//	GET  /metrics
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/sessions", s.startSession)
	r.Post("/checkpoints/{id}/resume", s.resume)
	r.Get("/checkpoints/{id}", s.getCheckpoint)
	r.Get("/sessions/{id}/checkpoints", s.listCheckpoints)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	}
}

type startRequest struct {
	Input string `json:"input"`
}

type resumeRequest struct {
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, errors.New("input is required"))
		return
	}

	out := s.engine.Start(r.Context(), req.Input)
	s.logOutcome("session started", out)
	status := http.StatusCreated
	if out.Status == graph.StatusFailed {
		status = http.StatusOK
	}
	writeJSON(w, status, View(out))
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("value is required"))
		return
	}

	cp, err := s.engine.LoadCheckpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	value, err := s.engine.DecodeResumeValue(cp, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out := s.engine.Resume(r.Context(), cp, value)
	s.logOutcome("session resumed", out)
	writeJSON(w, statusCode(out.Err), View(out))
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.engine.LoadCheckpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, Info(cp))
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.engine.Checkpoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	infos := make([]CheckpointInfo, 0, len(cps))
	for _, cp := range cps {
		infos = append(infos, Info(cp))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) logOutcome(msg string, out interview.Outcome) {
	v := View(out)
	if out.Err != nil {
		s.logger.Warn(msg, "session", v.SessionID, "status", v.Status, "error", out.Err)
		return
	}
	s.logger.Info(msg, "session", v.SessionID, "status", v.Status, "node", v.Node)
}

func errorStatus(err error) int {
	if code := statusCode(err); code != http.StatusOK {
		return code
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
