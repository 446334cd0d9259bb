package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hatles/rx-home-sub002/internal/audit"
	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/logging"
	"github.com/Hatles/rx-home-sub002/internal/metrics"
)

const (
	gracefulShutdownTimeout = 10 * time.Second
	readHeaderTimeout       = 5 * time.Second
	healthCheckTimeout      = 3 * time.Second
)

// Authenticator resolves bearer access tokens. *auth.Manager satisfies it.
type Authenticator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.RefreshToken, error)
	User(ctx context.Context, id string) (*auth.User, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the server's collaborators. Auth, Audit and HTTPMetrics are
// optional; the audit route answers 500 without Audit.
type Deps struct {
	Config      config.MetricsConfig
	Logger      *logging.Logger
	Auth        Authenticator
	Audit       audit.Repository
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTP
	Version     string
}

// Server is the operational HTTP server.
type Server struct {
	cfg         config.MetricsConfig
	logger      *logging.Logger
	auth        Authenticator
	auditRepo   audit.Repository
	gatherer    prometheus.Gatherer
	httpMetrics *metrics.HTTP
	version     string

	mu     sync.RWMutex
	checks map[string]HealthChecker

	server   *http.Server
	listener net.Listener
}

// New validates deps and creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gatherer == nil {
		return nil, fmt.Errorf("metrics gatherer is required")
	}
	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		auth:        deps.Auth,
		auditRepo:   deps.Audit,
		gatherer:    deps.Gatherer,
		httpMetrics: deps.HTTPMetrics,
		version:     deps.Version,
		checks:      make(map[string]HealthChecker),
	}, nil
}

// AddHealthCheck reports c under name on /health.
func (s *Server) AddHealthCheck(name string, c HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Handler returns the routed handler without listening.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		s.logger.Info("HTTP server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then stops.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}
