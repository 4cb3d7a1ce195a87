// Package api serves the sensor status over HTTP and gRPC health checks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"Go2NetSensor/internal/engine/manager"
	"Go2NetSensor/internal/engine/sketch"
	"Go2NetSensor/internal/engine/tracker"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultScannerLimit = 20

// Source is the pipeline state the API exposes.
type Source interface {
	Stats() manager.Stats
	Flows() []tracker.Flow
	TopScanners(limit int) []sketch.Scanner
	Running() bool
}

// Server provides the HTTP status API
type Server struct {
	router   *mux.Router
	source   Source
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	srv      *http.Server
}

// NewServer creates the HTTP API. Metrics are served from gatherer.
func NewServer(source Source, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		source:   source,
		gatherer: gatherer,
		logger:   logger.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/stats", s.handleStats).Methods("GET")
	v1.HandleFunc("/flows", s.handleFlows).Methods("GET")
	v1.HandleFunc("/scanners", s.handleScanners).Methods("GET")

	s.router.Use(s.recoveryMiddleware)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("API server starting", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.source.Running() {
		status, code = "stopped", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	flows := s.source.Flows()
	if flows == nil {
		flows = []tracker.Flow{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(flows), "flows": flows})
}

func (s *Server) handleScanners(w http.ResponseWriter, r *http.Request) {
	limit := defaultScannerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scanners": s.source.TopScanners(limit)})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic in API handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
