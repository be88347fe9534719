package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oakline-systems/hardpoint-core/internal/audit"
	"github.com/oakline-systems/hardpoint-core/internal/command"
	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/config"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/logging"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/pairing"
	"github.com/oakline-systems/hardpoint-core/internal/selftest"
	"github.com/oakline-systems/hardpoint-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PairingService drives the pairing handshake.
type PairingService interface {
	InitiatePairing(ctx context.Context, deviceID, operatorID string) (*pairing.ChallengeInfo, error)
	SubmitResponse(ctx context.Context, challengeID, response string, results []selftest.Result) (*pairing.PairResult, error)
}

// SessionService manages session and action tokens.
type SessionService interface {
	Rotate(ctx context.Context, deviceID string) (*session.IssuedToken, error)
	Revoke(ctx context.Context, deviceID, reason string) error
	IssueActionToken(ctx context.Context, deviceID, actionType string) (*session.IssuedToken, error)
	Validate(ctx context.Context, tokenString string) (*session.Claims, error)
}

// CommandExecutor runs device commands through the admission gate.
type CommandExecutor interface {
	Execute(ctx context.Context, req command.Request) (*command.Result, error)
}

// DeviceDirectory is the device registry access the API needs.
type DeviceDirectory interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	List(ctx context.Context) ([]device.Record, error)
}

// SandboxInspector answers sandbox state questions for device status.
type SandboxInspector interface {
	IsQuarantined(deviceID string) bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Registry    DeviceDirectory
	Pairing     PairingService
	Sessions    SessionService
	Commands    CommandExecutor
	Sandboxes   SandboxInspector
	AuditRepo   audit.Repository
	Metrics     *metrics.Metrics
	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for Hardpoint Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	registry    DeviceDirectory
	pairing     PairingService
	sessions    SessionService
	commands    CommandExecutor
	sandboxes   SandboxInspector
	auditRepo   audit.Repository
	metrics     *metrics.Metrics
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	limiter     *rateLimiter
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing service is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		pairing:   deps.Pairing,
		sessions:  deps.Sessions,
		commands:  deps.Commands,
		sandboxes: deps.Sandboxes,
		auditRepo: deps.AuditRepo,
		metrics:   deps.Metrics,
		version:   deps.Version,
	}

	if deps.Security.RateLimit.Enabled && deps.Security.RateLimit.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}

	// Use an externally-provided hub if available (needed when the
	// notifier is created before the server).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it on first use.
// The notifier broadcasts operator events through it.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server is stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
