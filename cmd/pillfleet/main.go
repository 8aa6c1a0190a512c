// Pill Fleet Core - medication dispenser fleet backend
//
// This is the main entry point for the Pill Fleet Core service. It owns:
//   - The clinic records (doctors, patients) and dispenser registry
//   - Dosing schedules and their synchronisation to devices
//   - The device command publisher and the device event listener
//   - The REST API and live WebSocket event stream
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/pillfleet-core/migrations"

	"github.com/nerrad567/pillfleet-core/internal/api"
	"github.com/nerrad567/pillfleet-core/internal/clinic"
	"github.com/nerrad567/pillfleet-core/internal/dispatch"
	"github.com/nerrad567/pillfleet-core/internal/dispenser"
	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/database"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/logging"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/metrics"
	"github.com/nerrad567/pillfleet-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pillfleet-core/internal/listener"
	"github.com/nerrad567/pillfleet-core/internal/notify"
	"github.com/nerrad567/pillfleet-core/internal/schedule"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Pill Fleet Core",
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

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Device command publisher. Closed before MQTT so queued commands drain.
	publisher := dispatch.New(mqttClient, dispatch.Options{
		QoS:       mqttClient.QoS(),
		Grace:     cfg.MQTT.Devices.PublishGrace(),
		QueueSize: cfg.MQTT.Devices.QueueSize,
		Async:     cfg.MQTT.Devices.Async,
	}, log, m)
	if influxClient != nil {
		publisher.SetRecorder(influxClient)
	}
	defer func() {
		log.Info("draining device command queues")
		publisher.Close()
	}()

	notifier := notify.FromConfig(cfg.Notify, log, m)
	log.Info("alert notifier ready", "channels", notifier.Channels())

	// Domain services
	schedules := schedule.NewService(db, publisher, log)
	devices := dispenser.NewService(db, publisher, schedules, notifier, log)
	clinics := clinic.NewService(db, schedules, log)
	logs := eventlog.NewSQLiteRepository(db)
	if influxClient != nil {
		devices.SetTelemetry(influxClient)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Device event listener
	lst := listener.New(mqttClient, logs, notifier, log, listener.Options{
		TopicBase: cfg.MQTT.Devices.TopicBase,
	})
	lst.SetMetrics(m)
	lst.SetBroadcaster(hub)
	if influxClient != nil {
		lst.SetTelemetry(influxClient)
	}
	defer lst.Stop()

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Metrics:   m,
		DB:        db,
		Clinic:    clinics,
		Devices:   devices,
		Schedules: schedules,
		Logs:      logs,
		Broker:    mqttClient,
		Listener:  lst,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := lst.Start(ctx); err != nil {
			return fmt.Errorf("starting device listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return healthCheck(gctx, db, mqttClient, influxClient)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"topics", lst.Topics(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, listener, publisher, InfluxDB, MQTT, database.

	log.Info("Pill Fleet Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PILLFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PILLFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB returns nil without error when telemetry is disabled.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("health check: influxdb: %w", err)
		}
	}
	return nil
}
