// Package api provides the HTTP server: the watch event stream and the
// file byte-serving endpoint.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/session"
)

// Info hashes are 40 hex digits, case-insensitive.
var hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// Server is the HTTP server.
type Server struct {
	sessions  *session.Sessions
	filesRoot string // absolute content root, containment boundary

	activeSessions atomic.Int64
}

// NewServer creates a server running sessions and serving files from
// filesRoot.
func NewServer(sessions *session.Sessions, filesRoot string) (*Server, error) {
	root, err := filepath.Abs(filesRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve files root: %w", err)
	}
	return &Server{sessions: sessions, filesRoot: root}, nil
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/watch/{hash}", s.handleWatch)
	mux.HandleFunc("GET "+session.FilesPrefix, s.handleFiles)

	return corsMiddleware(logging.Middleware(metricsMiddleware(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(r.PathValue("hash"))
	if !hashPattern.MatchString(hash) {
		s.sendError(w, http.StatusBadRequest, "invalid hash")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SetSessionsActive(s.activeSessions.Add(1))
	defer func() {
		metrics.SetSessionsActive(s.activeSessions.Add(-1))
	}()

	sink := &sseSink{w: w, flusher: flusher}
	if err := s.sessions.Run(r.Context(), hash, sink); err != nil {
		logging.Warn("watch session ended with error",
			zap.String("hash", hash), zap.Error(err))
	}
}

// sseSink writes named events as server-sent event frames with
// incrementing ids.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	nextID  int
}

func (s *sseSink) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.nextID, event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.nextID++
	s.flusher.Flush()
	metrics.RecordSessionEvent(event)
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

// statusWriter captures the response status and size for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
