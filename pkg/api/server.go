// Package api serves the signalling and inspection HTTP surface: SDP
// offer/answer exchange, stream resync requests, and read-only stats and
// stream listing endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/controller"
	"github.com/ethan/rtp-egress-gateway/pkg/gwerrors"
	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/ethan/rtp-egress-gateway/pkg/stats"
	"github.com/ethan/rtp-egress-gateway/pkg/types"
	"github.com/pion/webrtc/v4"
)

// Server provides the gateway's signalling and inspection HTTP API.
type Server struct {
	controller *controller.Controller
	statsRdr   *stats.Reader
	log        *logger.Logger
	httpServer *http.Server
}

// signalRequest is the POST /api/signal body.
type signalRequest struct {
	ClientID  string                    `json:"client_id"`
	StreamIDs []string                  `json:"stream_ids"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

// resyncRequest is the POST /api/resync body.
type resyncRequest struct {
	ClientID  string   `json:"client_id"`
	StreamIDs []string `json:"stream_ids"`
}

// statsResponse is the GET /api/stats body.
type statsResponse struct {
	SystemStatus stats.Status         `json:"system_status"`
	Clients      int                  `json:"clients"`
	Reaped       controller.ReapStats `json:"reaped"`
}

// NewServer creates a Server backed by the given controller and stats
// reader.
func NewServer(ctrl *controller.Controller, statsRdr *stats.Reader, log *logger.Logger) *Server {
	return &Server{
		controller: ctrl,
		statsRdr:   statsRdr,
		log:        log,
	}
}

// Start starts the HTTP server listening on addr and returns once it has
// either started successfully or failed immediately.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/signal", s.handleSignal)
	mux.HandleFunc("/api/resync", s.handleResync)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/streams", s.handleStreams)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("starting HTTP server", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleSignal decodes an SDP offer plus the client's desired stream
// membership, reconciles the client's session against it, and replies
// with the SDP answer.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	answer, err := s.controller.Signal(req.ClientID, req.StreamIDs, req.Offer)
	if err != nil {
		s.log.Error("signal failed", "client_id", req.ClientID, "error", err)
		writeControllerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		s.log.Error("failed to encode signal response", "error", err)
	}
}

// handleResync reissues a resync for the given client's streams.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	if err := s.controller.Resync(req.ClientID, req.StreamIDs); err != nil {
		s.log.Error("resync failed", "client_id", req.ClientID, "error", err)
		writeControllerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStats reports current system resource usage and client count.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statsResponse{
		SystemStatus: s.statsRdr.Status(),
		Clients:      s.controller.ClientCount(),
		Reaped:       s.controller.ReapStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode stats response", "error", err)
	}
}

// handleStreams lists the currently configured streams.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defs := s.controller.Streams()
	if defs == nil {
		defs = make([]types.StreamDef, 0)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(defs); err != nil {
		s.log.Error("failed to encode streams response", "error", err)
	}
}

// writeControllerError maps a controller/session error to an HTTP status:
// ErrNotFound becomes 404, ErrClientCreateFailed becomes 401 (the client
// could not even be created, per the signal endpoint's error contract),
// everything else is a 500 with the error text as the body, matching the
// teacher's prior proxy-error convention.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gwerrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gwerrors.ErrClientCreateFailed):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// withCORS adds permissive CORS headers, matching the viewer's
// cross-origin signalling use case.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging logs each request's method, path, status, and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
