// Package session implements the Session Orchestrator: the WebSocket
// endpoint that pairs one client connection with one STT provider
// connection and drives the Agent Loop each time the provider reports a
// finished turn.
package session

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/taskvoice/taskvoice/internal/agentloop"
)

// Server accepts client WebSocket connections on /agent and bridges each
// one to its own STT provider connection and Agent Loop invocations.
type Server struct {
	listenAddr     string
	deepgramAPIKey string
	loop           *agentloop.Loop
	logger         *slog.Logger
	server         *http.Server
	upgrader       websocket.Upgrader
}

// NewServer constructs a Server. loop is shared across every session;
// the Agent Loop carries no per-session state of its own, it's the
// history and usage stores underneath it that are shared and durable.
func NewServer(listenAddr, deepgramAPIKey string, loop *agentloop.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listenAddr:     listenAddr,
		deepgramAPIKey: deepgramAPIKey,
		loop:           loop,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The client is a local voice device, not a browser page
			// guarding against cross-origin reads, so Origin is not a
			// meaningful trust boundary here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving client connections and blocks until the server
// stops, mirroring the teacher HTTP server's ListenAndServe convention.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", s.handleAgent)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.withLogging(mux),
		ReadTimeout:  0, // long-lived WebSocket connections
		WriteTimeout: 0,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting session server", "address", s.listenAddr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
		s.logger.Debug("health write failed", "error", err)
	}
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID)

	clientConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("upgrade failed", "error", err)
		return
	}

	stt, err := dialSTT(r.Context(), s.deepgramAPIKey, r.URL.RawQuery, logger)
	if err != nil {
		logger.Error("stt connect failed", "error", err)
		if werr := clientConn.WriteJSON(newAgentErrorFrame("could not reach the speech service")); werr != nil {
			logger.Debug("client write failed", "error", werr)
		}
		clientConn.Close()
		return
	}

	sess := newSession(sessionID, clientConn, stt, s.loop, logger)
	logger.Info("session opened")
	sess.run(r.Context())
	logger.Info("session closed")
}
