package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/config"
)

// defaultShutdownTimeout bounds Close when the config leaves it unset.
const defaultShutdownTimeout = 10 * time.Second

// Deps holds what the server needs.
type Deps struct {
	Config         config.ServerConfig
	Engine         *authcore.Engine
	Logger         *slog.Logger
	TrustedProxies []netip.Prefix
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Version string
}

// Server is the HTTP front of an authcore engine.
type Server struct {
	cfg     config.ServerConfig
	engine  *authcore.Engine
	logger  *slog.Logger
	proxies []netip.Prefix
	metrics http.Handler
	version string

	handler  http.Handler
	server   *http.Server
	listener net.Listener
}

// New validates deps and builds the router. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     deps.Config,
		engine:  deps.Engine,
		logger:  logger,
		proxies: deps.TrustedProxies,
		metrics: deps.Metrics,
		version: deps.Version,
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr reports the bound listener address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background. The bind happens
// synchronously so a busy port is reported here.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close waits for in-flight requests up to the shutdown timeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
