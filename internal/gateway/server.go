// Package gateway accepts WebSocket clients, validates their frames, tracks
// their authentication and session state, and reports everything to a bus.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/limits"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/registry"
	"github.com/adred-codev/ws_gateway/internal/routing"
	"github.com/adred-codev/ws_gateway/internal/types"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 256
	systemSampleEvery   = 15 * time.Second
)

// Options wires a Server.
type Options struct {
	Config types.ServerConfig
	Logger zerolog.Logger
	Router *routing.Router
	Events bus.Events
}

type Server struct {
	config types.ServerConfig
	logger zerolog.Logger
	router *routing.Router
	events bus.Events
	auth   *auth.Machine

	// Connection management
	clients        *registry.Registry[*Connection]
	connectionsSem chan struct{}

	connectionRateLimiter *limits.ConnectionRateLimiter
	system                *monitoring.SystemMonitor

	httpServer *http.Server
	listener   net.Listener

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	startOnce    sync.Once
	shuttingDown atomic.Bool

	stats *types.Stats
}

var _ bus.Commands = (*Server)(nil)

func NewServer(opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("gateway: router is required")
	}
	if opts.Events == nil {
		return nil, errors.New("gateway: events sink is required")
	}

	cfg := opts.Config
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 || cfg.PongTimeout >= cfg.ReaperInterval {
		cfg.PongTimeout = cfg.ReaperInterval / 3
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}

	logger := opts.Logger.With().
		Str("component", "gateway").
		Str("server_id", opts.Router.ServerID()).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		logger:  logger,
		router:  opts.Router,
		events:  opts.Events,
		auth:    auth.NewMachine(opts.Events.OnAuth, cfg.AuthTimeout, logger),
		clients: registry.New[*Connection](),
		ctx:     ctx,
		cancel:  cancel,
		stats:   types.NewStats(),
	}

	if cfg.MaxConnections > 0 {
		s.connectionsSem = make(chan struct{}, cfg.MaxConnections)
	}

	if cfg.ConnectionRateLimitEnabled {
		s.connectionRateLimiter = limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
	}

	if sys, err := monitoring.NewSystemMonitor(logger); err != nil {
		logger.Warn().Err(err).Msg("Process metrics unavailable")
	} else {
		s.system = sys
	}

	return s, nil
}

// Handler serves the WebSocket endpoint plus /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	return mux
}

// Start listens on the configured address and starts the background loops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.startBackground()

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Str("path", s.config.Path).
		Str("mode", string(s.router.Mode())).
		Bool("scoped", s.router.Scoped()).
		Msg("Gateway listening")
	return nil
}

func (s *Server) startBackground() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.runReaper()

		if s.connectionRateLimiter != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer monitoring.RecoverPanic(s.logger, "connectionRateLimiter", nil)
				s.connectionRateLimiter.Run(s.ctx)
			}()
		}

		if s.system != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.system.Run(s.ctx, systemSampleEvery)
			}()
		}
	})
}

// Addr is the bound listener address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats exposes the live counters.
func (s *Server) Stats() *types.Stats { return s.stats }

// Shutdown stops accepting, asks every client to go away and waits for the
// pumps until ctx expires, after which remaining sockets are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info().Int("active_connections", s.clients.Len()).Msg("Initiating graceful shutdown")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}

	for _, c := range s.clients.Snapshot() {
		c.markClosing(disconnectShutdown, initiatedByServer)
		c.closeWith(ws.StatusGoingAway, "server shutdown", s.config.WriteTimeout)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
drain:
	for s.clients.Len() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn().
				Int("remaining_connections", s.clients.Len()).
				Msg("Grace period expired, force closing remaining connections")
			for _, c := range s.clients.Snapshot() {
				c.terminate()
			}
			break drain
		case <-ticker.C:
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Gateway stopped")
		return nil
	case <-time.After(s.config.WriteTimeout):
		return errors.New("gateway: timed out waiting for goroutines")
	}
}
