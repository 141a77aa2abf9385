package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/unstuckgg/voicegate/internal/observability"
	"github.com/unstuckgg/voicegate/internal/tracing"
	"github.com/unstuckgg/voicegate/pkg/auth"
	"github.com/unstuckgg/voicegate/pkg/persona"
	"github.com/unstuckgg/voicegate/pkg/pipeline"
	"github.com/unstuckgg/voicegate/pkg/protocol"
	"github.com/unstuckgg/voicegate/pkg/session"
)

// DefaultMaxChunkBytes caps one decoded audio fragment.
const DefaultMaxChunkBytes = 1 << 20

// Config holds server configuration
type Config struct {
	Addr              string
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	MessagesPerMinute int
	MaxChunkBytes     int
	MaxBufferBytes    int
	AllowedOrigins    []string

	Sessions *session.Registry
	Runner   *pipeline.Runner
	Personas *persona.Provider

	// Verifier gates the upgrade. Nil admits anonymous connections.
	Verifier auth.Verifier

	Logger zerolog.Logger
}

// Server is the voice gateway. It upgrades WebSocket connections,
// drives the protocol state machine for each one, and exposes the
// health and metrics endpoints next to it.
type Server struct {
	addr              string
	pingInterval      time.Duration
	writeTimeout      time.Duration
	shutdownTimeout   time.Duration
	messagesPerMinute int
	maxChunkBytes     int
	maxBufferBytes    int
	allowedOrigins    []string
	server            *http.Server
	upgrader          websocket.Upgrader
	conns             *connTable
	sessions          *session.Registry
	runner            *pipeline.Runner
	personas          *persona.Provider
	verifier          auth.Verifier
	logger            zerolog.Logger
	isShuttingDown    bool
	shutdownMu        sync.RWMutex
	handlers          sync.WaitGroup
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("pipeline runner is required")
	}
	if cfg.Personas == nil {
		return nil, fmt.Errorf("persona provider is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MessagesPerMinute <= 0 {
		cfg.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}

	observability.EnsureRegistered()

	s := &Server{
		addr:              cfg.Addr,
		pingInterval:      cfg.PingInterval,
		writeTimeout:      cfg.WriteTimeout,
		shutdownTimeout:   cfg.ShutdownTimeout,
		messagesPerMinute: cfg.MessagesPerMinute,
		maxChunkBytes:     cfg.MaxChunkBytes,
		maxBufferBytes:    cfg.MaxBufferBytes,
		allowedOrigins:    cfg.AllowedOrigins,
		conns:             newConnTable(),
		sessions:          cfg.Sessions,
		runner:            cfg.Runner,
		personas:          cfg.Personas,
		verifier:          cfg.Verifier,
		logger:            cfg.Logger.With().Str("component", "gateway").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	return s, nil
}

// Start starts the gateway server
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")

	// Start server in goroutine so it doesn't block
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	// Give the server a moment to start
	time.Sleep(50 * time.Millisecond)

	return nil
}

// Stop gracefully stops the gateway server. Live connections get a
// close frame; their sessions are released through the disconnect
// path.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	for _, c := range s.conns.All() {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}

	// Wait for connection handlers with timeout
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All connections closed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// SweepIdle closes connections idle longer than maxIdle and returns
// how many were closed. Closure follows the disconnect path, so the
// sessions are released without confirmation messages.
func (s *Server) SweepIdle(maxIdle time.Duration) int {
	idle := s.conns.Idle(maxIdle)
	for _, c := range idle {
		c.logger.Info().Dur("max_idle", maxIdle).Msg("Closing idle connection")
		c.shutdown(websocket.CloseGoingAway, "idle timeout")
	}

	if len(idle) > 0 {
		observability.RecordIdleSweep(len(idle))
	}
	return len(idle)
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.conns.Count()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range s.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// handleWebSocket gates, upgrades, and hands the socket to its
// connection goroutines.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	// Verify identity before upgrading; failures answer in HTTP terms
	subject := ""
	if s.verifier != nil {
		claims, err := s.verifier.Verify(r.Context(), auth.BearerFromRequest(r))
		if err != nil {
			s.logger.Warn().Err(err).Str("ip", r.RemoteAddr).Msg("Rejected unauthorized connection")
			observability.RecordSecurityAudit(r.Context(), "auth_rejected", r.RemoteAddr, "failure", map[string]interface{}{
				"error": err.Error(),
			})
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		subject = claims.Subject
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	connID, _ := gonanoid.New()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	ctx = tracing.WithConnectionID(ctx, connID)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	if subject != "" {
		logger = logger.With().Str("subject", subject).Logger()
	}

	c := &conn{
		id:           connID,
		ws:           ws,
		server:       s,
		state:        session.NewState(),
		limiter:      NewMessageLimiter(s.messagesPerMinute),
		outbound:     make(chan protocol.ServerMessage, outboundBuffer),
		ctx:          ctx,
		cancel:       cancel,
		writerDone:   make(chan struct{}),
		lastActivity: time.Now(),
		logger:       logger,
	}

	s.conns.Add(c)
	observability.RecordConnectionAccepted()
	observability.SetActiveConnections(s.conns.Count())

	logger.Info().Str("ip", r.RemoteAddr).Msg("Connection accepted")

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		c.run()
	}()
}
