// Package server exposes the lang2file pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/hupe1980/lang2file"
	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Service is the pipeline surface the HTTP API needs.
type Service interface {
	ChatSession(ctx context.Context, sessionID, input string) (*lang2file.Reply, error)
	ChatSessionStream(ctx context.Context, sessionID, input string) (*lang2file.Stream, error)
	History(ctx context.Context, sessionID string) ([]core.Message, error)
	Reset(ctx context.Context, sessionID string) error
}

var _ Service = (*lang2file.Lang2File)(nil)

// Options configures a Server.
type Options struct {
	// Address to listen on, e.g. ":8080".
	Address string
	// AllowedOrigins is the CORS origin allow-list. Empty allows any origin.
	AllowedOrigins []string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
	// Now is used for health timestamps.
	Now func() time.Time
}

// Server serves the /api/agent endpoints.
type Server struct {
	svc    Service
	opts   Options
	logger logging.Logger
}

// New creates a Server over svc.
func New(svc Service, optFns ...func(o *Options)) *Server {
	opts := Options{
		Address:         ":8080",
		ShutdownTimeout: 5 * time.Second,
		Logger:          logging.NoOpLogger{},
		Now:             time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Server{svc: svc, opts: opts, logger: opts.Logger}
}

// Handler returns the routed HTTP handler including CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agent/chat", s.handleChat)
	mux.HandleFunc("POST /api/agent/chatText", s.handleChatText)
	mux.HandleFunc("POST /api/agent/chatStream", s.handleChatStream)
	mux.HandleFunc("GET /api/agent/health", s.handleHealth)
	mux.HandleFunc("GET /api/agent/sessions/{id}", s.handleHistory)
	mux.HandleFunc("DELETE /api/agent/sessions/{id}", s.handleReset)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           3600,
	})

	return c.Handler(mux)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("server.started", "address", s.opts.Address)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server.shutdown.failed", "error", err)
		}

		s.logger.Info("server.stopped")

		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ChatRequest is the JSON body of the chat endpoints.
type ChatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
}

// HistoryResponse is returned by the session endpoint.
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []core.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply, err := s.svc.ChatSession(r.Context(), req.SessionID, req.Input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatText(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply, err := s.svc.ChatSession(r.Context(), req.SessionID, req.Input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if reply.SessionID != "" {
		w.Header().Set("X-Session-ID", reply.SessionID)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reply.Text)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	stream, err := s.svc.ChatSessionStream(r.Context(), req.SessionID, req.Input)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if stream.SessionID != "" {
		h.Set("X-Session-ID", stream.SessionID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for fragment := range stream.Fragments {
		writeEvent(w, "", fragment)
		flusher.Flush()
	}

	if err := <-stream.Err; err != nil {
		s.logger.Warn("server.stream.failed", "error", err)
		writeEvent(w, "error", err.Error())
	} else {
		writeEvent(w, "done", "")
	}

	flusher.Flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: s.opts.Now().UnixMilli(),
		Service:   "agent-service",
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	msgs, err := s.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Messages: msgs})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logger.Error("server.request.failed", "error", err)

	if core.IsCompletionError(err) {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeError(w, http.StatusInternalServerError, err)
}

// decodeChatRequest accepts a JSON ChatRequest or, for any other content
// type, the raw body as input.
func decodeChatRequest(r *http.Request) (ChatRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return ChatRequest{}, fmt.Errorf("read body: %w", err)
	}

	var req ChatRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(body, &req); err != nil {
			return ChatRequest{}, fmt.Errorf("decode body: %w", err)
		}
	} else {
		req.Input = string(body)
	}

	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}

	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeEvent writes one server-sent event. Multi-line data is split across
// data fields.
func writeEvent(w io.Writer, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
