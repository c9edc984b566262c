package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/seedgate-core/internal/audit"
	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/config"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/seedgate-core/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SettingsStore persists per-user settings.
type SettingsStore interface {
	Get(ctx context.Context, userID, settingID string) (map[string]any, error)
	Set(ctx context.Context, userID string, entries ...settings.Entry) error
}

// ActivityRecorder receives gateway activity metrics.
// *influxdb.Client satisfies it.
type ActivityRecorder interface {
	RecordAuthAttempt(route, outcome string)
	RecordSettingsWrite(userID string, entries int, succeeded bool)
}

// HealthChecker is a dependency whose liveness is reported by /api/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.ServerConfig
	Logger    *logging.Logger
	Mode      AuthMode
	Directory *auth.Directory
	Tokens    *auth.TokenIssuer
	Settings  SettingsStore
	AuditRepo audit.Repository // optional
	Metrics   ActivityRecorder // optional
	Database  HealthChecker    // optional
	Version   string
}

// Server is the HTTP gateway.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.ServerConfig
	logger    *logging.Logger
	mode      AuthMode
	directory *auth.Directory
	tokens    *auth.TokenIssuer
	settings  SettingsStore
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	metrics   ActivityRecorder
	database  HealthChecker
	version   string
	router    http.Handler
	server    *http.Server
	cancel    context.CancelFunc // stops the audit writer on Close()
	auditDone chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("user directory is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		mode:      deps.Mode,
		directory: deps.Directory,
		tokens:    deps.Tokens,
		settings:  deps.Settings,
		auditRepo: deps.AuditRepo,
		metrics:   deps.Metrics,
		database:  deps.Database,
		version:   deps.Version,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the audit writer and the HTTP listener in the background.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.startAuditWriter(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
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
			s.logger.Info("API server starting", "address", s.server.Addr, "mode", s.mode.String())
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startAuditWriter runs the audit drain until ctx is cancelled or Close is
// called. It is a no-op without an audit repository.
func (s *Server) startAuditWriter(ctx context.Context) {
	if s.auditCh == nil || s.cancel != nil {
		return
	}
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.auditDone = make(chan struct{})
	go func() {
		defer close(s.auditDone)
		s.drainAuditLog(srvCtx)
	}()
}

// Close gracefully shuts down the API server and flushes queued audit
// entries.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutting down API server: %w", err)
		}
	}

	if s.cancel != nil {
		s.cancel()
		<-s.auditDone
	}
	return shutdownErr
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
