// Package httpcb implements the broker's HTTP callback ingress: GET
// /health, POST /callback, POST /channel-callback, with permissive CORS
// preflight for browser-based approval UIs. A background Serve
// goroutine is shut down gracefully on context cancellation; the
// ServeMux is exposed via ServeHTTP so the handler can be exercised
// with httptest without a live listener.
package httpcb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rudenavuud/agent-gate/common/trace"
	"github.com/rudenavuud/agent-gate/common/version"
)

// Resolver is the minimal surface the HTTP callback ingress needs from
// the broker: resolve a pending request by id, reporting whether a
// pending entry with that id actually existed, and report how many
// requests are currently pending for /health.
type Resolver interface {
	HandleCallback(id string, approved bool) bool
	Pending() int
}

// Server exposes the three HTTP endpoints over a TCP listener.
type Server struct {
	addr      string
	resolver  Resolver
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

type callbackRequest struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}

type callbackResponse struct {
	OK       bool `json:"ok"`
	Resolved bool `json:"resolved"`
}

type channelCallbackRequest struct {
	CallbackData string `json:"callback_data"`
}

// callbackDataPattern recognises "ag:<verb>:<16-hex-id>".
var callbackDataPattern = regexp.MustCompile(`^ag:(approve|deny):([0-9a-f]{16})$`)

// New constructs a Server bound to addr (not yet listening).
func New(addr string, resolver Resolver) *Server {
	s := &Server{
		addr:      addr,
		resolver:  resolver,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/callback", s.handleCallback)
	s.mux.HandleFunc("/channel-callback", s.handleChannelCallback)
	return s
}

// ServeHTTP implements http.Handler, letting the server be exercised with
// httptest.NewRecorder without a live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Server", "agent-gate/"+version.Version)
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	traceID := r.Header.Get(trace.HeaderName)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx := trace.WithTraceID(r.Context(), traceID)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Start begins listening in the background, blocking until the listener
// is established.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpcb: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("httpcb: listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("httpcb: server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server gracefully.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("httpcb: shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pending: s.resolver.Pending()})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "requestId is required"})
		return
	}

	resolved := s.resolver.HandleCallback(req.RequestID, req.Approved)
	writeJSON(w, http.StatusOK, callbackResponse{OK: true, Resolved: resolved})
}

func (s *Server) handleChannelCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req channelCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}

	matches := callbackDataPattern.FindStringSubmatch(strings.TrimSpace(req.CallbackData))
	if matches == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed callback_data"})
		return
	}

	approved := matches[1] == "approve"
	id := matches[2]
	resolved := s.resolver.HandleCallback(id, approved)
	writeJSON(w, http.StatusOK, callbackResponse{OK: true, Resolved: resolved})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpcb: failed to encode JSON response", "err", err)
	}
}
