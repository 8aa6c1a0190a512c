package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/pillfleet-core/internal/clinic"
	"github.com/nerrad567/pillfleet-core/internal/dispenser"
	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pillfleet-core/internal/listener"
	"github.com/nerrad567/pillfleet-core/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerStatus reports the transport connection. Satisfied by *mqtt.Client.
type BrokerStatus interface {
	IsConnected() bool
}

// ListenerStatus reports the device listener state. Satisfied by *listener.Listener.
type ListenerStatus interface {
	State() listener.State
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	DB        *database.DB
	Clinic    *clinic.Service
	Devices   *dispenser.Service
	Schedules *schedule.Service
	Logs      eventlog.Repository
	Broker    BrokerStatus   // optional
	Listener  ListenerStatus // optional
	Hub       *Hub           // If set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server for Pill Fleet Core.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	metrics   *metrics.Metrics
	db        *database.DB
	clinic    *clinic.Service
	devices   *dispenser.Service
	schedules *schedule.Service
	logs      eventlog.Repository
	broker    BrokerStatus
	listener  ListenerStatus
	limiter   *rate.Limiter
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Clinic == nil || deps.Devices == nil || deps.Schedules == nil {
		return nil, fmt.Errorf("clinic, device and schedule services are required")
	}
	if deps.Logs == nil {
		return nil, fmt.Errorf("event log repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		db:        deps.DB,
		clinic:    deps.Clinic,
		devices:   deps.Devices,
		schedules: deps.Schedules,
		logs:      deps.Logs,
		broker:    deps.Broker,
		listener:  deps.Listener,
		limiter:   newRateLimiter(deps.Config.RateLimit),
		version:   deps.Version,
		startTime: time.Now(),
		hub:       deps.Hub,
	}, nil
}

// Start sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
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
			s.logger.Info("API server starting", "address", s.server.Addr)
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

// HealthCheck verifies the API server is running.
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
