// Package api implements the inbound HTTP boundary: the chat endpoints,
// session housekeeping, the device websocket and the store routes.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/nugget/veronica/internal/agent"
	"github.com/nugget/veronica/internal/buildinfo"
	"github.com/nugget/veronica/internal/connwatch"
	"github.com/nugget/veronica/internal/history"
	"github.com/nugget/veronica/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	loop    *agent.Loop
	store   *store.Store
	devices http.Handler
	devPath string
	watch   *connwatch.Manager
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		logger:  logger.With("component", "api"),
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", address, port),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// SetStore mounts the store routes (todos, memories, tokens).
func (s *Server) SetStore(st *store.Store) {
	s.store = st
}

// SetDevices mounts the device observer websocket at path.
func (s *Server) SetDevices(path string, h http.Handler) {
	s.devPath = path
	s.devices = h
}

// SetConnWatch reports watched service health on /health.
func (s *Server) SetConnWatch(m *connwatch.Manager) {
	s.watch = m
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /{$}", s.handleChat)
	mux.HandleFunc("POST /v1/chat", s.handleSimpleChat)

	// Session housekeeping
	mux.HandleFunc("GET /clear", s.handleClear)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /v1/session/history", s.handleSessionHistory)

	// Health endpoints
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	if s.devices != nil {
		mux.Handle("GET "+s.devPath, s.devices)
	}
	if s.store != nil {
		s.store.RegisterRoutes(mux, s.logger)
	}

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until [Server.Shutdown]
// or a listener failure. ctx is the base context of every request.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.Handler()
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server. A server shut down before
// Start is called never starts serving.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the underlying writer for the websocket
// upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Veronica",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Pong!")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"status":   "healthy",
		"sessions": s.loop.Sessions().Count(),
	}
	if s.watch != nil {
		resp["services"] = s.watch.Status()
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// runError maps a loop failure to an HTTP status.
func (s *Server) runError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		code = http.StatusBadRequest
	case errors.Is(err, agent.ErrSuperseded):
		code = http.StatusConflict
	case errors.Is(err, agent.ErrProvider):
		code = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("conversation failed", "error", err)
	}
	s.errorResponse(w, code, err.Error())
}

// ChatRequest is the body accepted by the chat endpoints.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func isFormEncoded(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// decodeChatRequest reads the JSON or form-encoded body, falling back to the message
// and conversation_id query parameters for fields the body leaves empty.
func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	var req ChatRequest
	body, err := captureBody(r)
	if err != nil {
		return req, err
	}
	if isFormEncoded(r) {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Message = r.PostFormValue("message")
		req.ConversationID = r.PostFormValue("conversation_id")
	} else if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, err
		}
	}
	q := r.URL.Query()
	if req.Message == "" {
		req.Message = q.Get("message")
	}
	if req.ConversationID == "" {
		req.ConversationID = q.Get("conversation_id")
	}
	return req, nil
}

// handleChat answers with the bare reply object.
// POST / {"message": "add buy milk to my todos"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.loop.Run(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		s.runError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", res.RequestID)
	writeJSON(w, res.Reply, s.logger)
}

// SimpleChatResponse is the /v1/chat response body.
type SimpleChatResponse struct {
	Response       string   `json:"response"`
	Animation      string   `json:"animation,omitempty"`
	ConversationID string   `json:"conversation_id"`
	RequestID      string   `json:"request_id"`
	Actions        []string `json:"actions,omitempty"`
	Iterations     int      `json:"iterations"`
}

// handleSimpleChat wraps the reply with request metadata.
// POST /v1/chat {"message": "what's the weather", "conversation_id": "kitchen"}
func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = agent.DefaultSessionID
	}

	res, err := s.loop.Run(r.Context(), convID, req.Message)
	if err != nil {
		s.runError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SimpleChatResponse{
		Response:       res.Reply.Content,
		Animation:      res.Reply.Animation,
		ConversationID: convID,
		RequestID:      res.RequestID,
		Actions:        res.Actions,
		Iterations:     res.Iterations,
	}, s.logger)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation_id")
	if err := s.loop.Reset(r.Context(), convID); err != nil {
		s.runError(w, fmt.Errorf("reset: %w", err))
		return
	}
	s.logger.Info("session reset via API", "conversation", convID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Memory Cleared")
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.loop.History(r.Context(), r.URL.Query().Get("conversation_id"))
	if err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"turns": turns}, s.logger)
}
