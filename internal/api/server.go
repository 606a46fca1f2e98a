// Package api serves the toggle HTTP API: listing and driving toggles,
// the audit trail, a websocket event stream and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"grimm.is/toggled/internal/audit"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/health"
	"grimm.is/toggled/internal/i18n"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/metrics"
	"grimm.is/toggled/internal/ratelimit"
	"grimm.is/toggled/internal/scheduler"
	"grimm.is/toggled/internal/snapshot"
	"grimm.is/toggled/internal/toggle"
)

// ServerConfig holds HTTP server timeouts and limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns the default server limits. WriteTimeout is
// zero because websocket streams are long-lived.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 16,
	}
}

// Toggles is the registry surface the API drives.
type Toggles interface {
	List() []toggle.State
	Get(entity string) (*toggle.Controller, bool)
	Toggle(ctx context.Context, entity string, on bool, actor string) (toggle.Result, error)
}

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Status reports the coordinator's view of the router.
type Status interface {
	Current() *snapshot.Snapshot
	Age() time.Duration
	Scheduler() *scheduler.Scheduler
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Toggles    Toggles
	Status     Status
	Audit      AuditLog // optional
	Hub        *events.Hub
	Metrics    *metrics.Registry
	Health     *health.Checker
	Limiter    *ratelimit.Limiter
	Logger     *logging.Logger
	APIKey     string
	APIKeyHash string // bcrypt, checked when APIKey is empty
	Config     *ServerConfig

	// Peers allowed to name the client in X-Forwarded-For or X-Real-IP.
	TrustedProxies []netip.Prefix
}

// Server handles API requests.
type Server struct {
	toggles Toggles
	status  Status
	audit   AuditLog
	hub     *events.Hub
	metrics *metrics.Registry
	health  *health.Checker
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	apiKey  string
	keyHash []byte
	trusted []netip.Prefix
	cfg     *ServerConfig
	ws      *WSManager

	mux   *http.ServeMux
	srvMu sync.Mutex
	srv   *http.Server
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Toggles == nil {
		return nil, errors.New("api: toggles are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	s := &Server{
		toggles: opts.Toggles,
		status:  opts.Status,
		audit:   opts.Audit,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		health:  opts.Health,
		limiter: opts.Limiter,
		logger:  logging.OrDefault(opts.Logger, "api"),
		apiKey:  opts.APIKey,
		trusted: opts.TrustedProxies,
		cfg:     cfg,
	}
	if opts.APIKeyHash != "" {
		s.keyHash = []byte(opts.APIKeyHash)
	}
	if opts.Hub != nil {
		s.ws = NewWSManager(opts.Hub, s.logger)
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	if s.health != nil {
		mux.Handle("GET /healthz", s.health.Handler())
	} else {
		mux.HandleFunc("GET /healthz", s.handleHealth)
	}
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/toggles", s.handleListToggles)
	mux.HandleFunc("GET /api/toggles/{entity...}", s.handleGetToggle)
	mux.Handle("POST /api/toggles/{entity...}", s.requireKey(s.rateLimit(http.HandlerFunc(s.handleSetToggle))))
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/ws/events", s.handleEventsWS)
}

// Handler returns the API handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.accessLog(i18n.Middleware(s.mux))
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
	s.srvMu.Lock()
	s.srv = srv
	s.srvMu.Unlock()

	s.logger.Info("API server listening", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops the server and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ws != nil {
		s.ws.Close()
	}
	s.srvMu.Lock()
	srv := s.srv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
