// tsdbsink - MQTT to time-series database sink
//
// This is the main entry point for the tsdbsink service. It consumes JSON
// records from MQTT topics, maps them to data points and writes them to
// VictoriaMetrics or InfluxDB, acknowledging each record once its writes
// have settled.
//
// Usage:
//
//	tsdbsink                      run the sink
//	tsdbsink token [flags]        print an admin API token
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/api"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/deadletter"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/tsdb"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/ingest"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
	"github.com/nerrad567/gray-logic-tsdbsink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// drainTimeout bounds the wait for in-flight records on shutdown.
const drainTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// It returns nil on a clean shutdown and the stopping error when the sink
// escalates a record failure (failfast strategy).
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting tsdbsink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	checks := make(map[string]api.HealthChecker)

	// Storage backend
	writer, err := connectBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Backend.Type, err)
	}
	defer func() {
		log.Info("closing backend", "type", cfg.Backend.Type)
		if closeErr := writer.Close(); closeErr != nil {
			log.Error("error closing backend", "error", closeErr)
		}
	}()
	writer.SetOnError(func(err error) {
		log.Debug("backend write error", "type", cfg.Backend.Type, "error", err)
	})
	checks["backend"] = writer
	log.Info("backend connected", "type", cfg.Backend.Type)

	// Dead-letter journal (optional)
	var journal *deadletter.SQLiteRepository
	if cfg.DeadLetter.Enabled {
		db, openErr := database.Open(cfg.DeadLetter)
		if openErr != nil {
			return fmt.Errorf("opening dead-letter database: %w", openErr)
		}
		defer func() {
			log.Info("closing dead-letter database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		journal = deadletter.NewSQLiteRepository(db.DB)
		checks["database"] = db
		log.Info("dead-letter journal ready", "path", cfg.DeadLetter.Path)
	} else {
		log.Info("dead-letter journal disabled")
	}

	// Record source
	mqttClient, err := mqtt.Connect(cfg.Source)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Source.Broker.Host, cfg.Source.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	runner, err := ingest.New(ingest.Options{
		Source:          cfg.Source,
		MaxRedeliveries: cfg.Sink.MaxRedeliveries,
		Subscriber:      mqttClient,
		Publisher:       mqttClient,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating ingest runner: %w", err)
	}

	s, err := newSink(cfg, writer, runner, journal, log)
	if err != nil {
		return err
	}

	// Admin API (optional)
	if cfg.API.Enabled {
		var letters deadletter.Repository
		if journal != nil {
			letters = journal
		}
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Sink:        s,
			Ingest:      runner,
			DeadLetters: letters,
			Checks:      checks,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		s.SetObserver(server.Observe)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, consuming records",
		"topics", cfg.Source.Topics,
		"mode", s.Stats().Mode,
		"fail_strategy", s.Stats().FailStrategy,
	)

	runErr := runner.Run(ctx, s)
	if runErr != nil {
		log.Error("sink stopped", "error", runErr)
	} else {
		log.Info("shutdown signal received, draining in-flight records")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.Wait(drainCtx); err != nil {
		log.Warn("in-flight records abandoned", "error", err, "in_flight", s.Stats().InFlight)
	}
	runner.Close()

	// Deferred Close() calls run in reverse order:
	// 1. API server (if enabled)
	// 2. MQTT
	// 3. Dead-letter database (if enabled)
	// 4. Backend

	log.Info("tsdbsink stopped", "records", s.Stats().Records)
	return runErr
}

// backendClient is the subset shared by the VictoriaMetrics and InfluxDB clients.
type backendClient interface {
	backend.Writer
	HealthCheck(ctx context.Context) error
	SetOnError(callback func(err error))
	Close() error
}

// connectBackend connects to the storage backend selected by backend.type.
func connectBackend(ctx context.Context, cfg *config.Config) (backendClient, error) {
	switch cfg.Backend.Type {
	case config.BackendInfluxDB:
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendVictoriaMetrics:
		client, err := tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

// newSink builds and prepares the sink. journal may be nil.
func newSink(cfg *config.Config, writer backend.Writer, collector sink.Collector, journal *deadletter.SQLiteRepository, log *logging.Logger) (*sink.Sink, error) {
	sinkCfg, err := sink.ConfigFrom(cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("sink config: %w", err)
	}

	deps := sink.Deps{
		Writer:    writer,
		Mapper:    mapper.FromConfig(cfg.Sink),
		Collector: collector,
		Logger:    log,
	}
	if journal != nil {
		deps.Journal = journal
	}

	s, err := sink.New(sinkCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("creating sink: %w", err)
	}
	if err := s.Prepare(mapper.OptionsFromConfig(cfg.Sink)); err != nil {
		return nil, fmt.Errorf("preparing mappers: %w", err)
	}

	return s, nil
}

// getConfigPath returns the configuration file path.
// Uses TSDBSINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TSDBSINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
