package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/deadletter"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/ingest"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each component check in /health.
const healthCheckTimeout = 2 * time.Second

// SinkStats is satisfied by *sink.Sink.
type SinkStats interface {
	Stats() sink.Stats
}

// IngestRunner is satisfied by *ingest.Runner. Submit is used to replay
// dead letters.
type IngestRunner interface {
	Stats() ingest.Stats
	Submit(ctx context.Context, topic string, payload []byte) (string, error)
}

// HealthChecker is satisfied by the MQTT, backend and database clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Sink     SinkStats
	Ingest   IngestRunner

	// DeadLetters is optional; without it the dead-letter routes return 404.
	DeadLetters deadletter.Repository

	// Checks are reported by /health, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the admin HTTP API.
//
// It serves health, sink statistics, dead-letter management, Prometheus
// metrics and a WebSocket stream of sink events. The server is created with
// New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	sink        SinkStats
	ingest      IngestRunner
	deadLetters deadletter.Repository
	checks      map[string]HealthChecker
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	tickets     *ticketStore
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub exists from New onwards, so Observe can be registered
// with the sink before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger.With("component", "api"),
		sink:        deps.Sink,
		ingest:      deps.Ingest,
		deadLetters: deps.DeadLetters,
		checks:      deps.Checks,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.Logger.With("component", "ws")),
		tickets:     newTicketStore(),
	}, nil
}

// Observe broadcasts a sink event to WebSocket clients subscribed to its
// type. It never blocks and is meant for sink.SetObserver.
func (s *Server) Observe(ev sink.Event) {
	s.hub.Publish(ev)
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
