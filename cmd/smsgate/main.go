// SMS Gate - realtime SMS command relay
//
// This is the main entry point for the SMS Gate broker. It turns a fleet of
// Android handsets into programmable SMS senders: handsets hold a WebSocket
// open to this process, and callers relay messages through them with a
// single synchronous HTTP call.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaywire/smsgate/internal/api"
	"github.com/relaywire/smsgate/internal/broker"
	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/events"
	"github.com/relaywire/smsgate/internal/gateway"
	"github.com/relaywire/smsgate/internal/history"
	"github.com/relaywire/smsgate/internal/infrastructure/config"
	"github.com/relaywire/smsgate/internal/infrastructure/database"
	"github.com/relaywire/smsgate/internal/infrastructure/influxdb"
	"github.com/relaywire/smsgate/internal/infrastructure/logging"
	"github.com/relaywire/smsgate/internal/infrastructure/mqtt"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SMS Gate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load the device store from its JSON document
	repo := device.NewFileRepository(cfg.Store.Path)
	devices, err := repo.Load()
	if err != nil {
		return fmt.Errorf("loading device store: %w", err)
	}

	store := device.NewStore()
	store.SetLogger(log)
	store.Load(devices)
	log.Info("device store loaded", "path", cfg.Store.Path, "devices", store.Count())

	// Open the delivery history database (optional)
	var historyRepo history.Repository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		historyRepo, err = history.NewSQLiteRepository(db.DB)
		if err != nil {
			return fmt.Errorf("initialising delivery history: %w", err)
		}
		log.Info("delivery history enabled", "path", cfg.Database.Path)

		if cfg.Database.RetentionDays > 0 {
			pruner := history.NewPruner(historyRepo, cfg.Database.RetentionDuration(), 0)
			pruner.SetLogger(log)
			go pruner.Run(ctx)
			log.Info("delivery history retention enabled", "days", cfg.Database.RetentionDays)
		}
	} else {
		log.Info("delivery history disabled")
	}

	// Connect to MQTT for the event mirror (optional)
	var mirror *events.Mirror
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
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

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mirror = events.NewMirror(mqttClient)
		mirror.SetLogger(log)
	} else {
		log.Info("MQTT event mirror disabled")
	}

	// Connect to InfluxDB for delivery metrics (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Wire the gateway and broker. The broker is the gateway's reply sink,
	// so the sink is attached after both exist.
	gw := gateway.New(cfg.Gateway, store)
	gw.SetLogger(log)
	if mirror != nil {
		gw.SetEventSink(mirror)
	}

	br := broker.New(store, gw, cfg.Broker.ReplyTimeoutDuration())
	br.SetLogger(log)
	gw.SetReplySink(br)

	// Sample the fleet gauges for dashboards
	if influxClient != nil {
		go influxClient.RunGauges(ctx, cfg.InfluxDB.GaugeIntervalDuration(), func() (int, int) {
			return gw.Count(), store.Count()
		})
	}

	// Start the persistence flusher
	flusher := device.NewFlusher(store, repo, cfg.Store.FlushIntervalDuration())
	flusher.SetLogger(log)
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		flusher.Run(ctx)
	}()

	// Start the HTTP control surface
	deps := api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Store:   store,
		Gateway: gw,
		Broker:  br,
		History: historyRepo,
		Version: version,
	}
	if mirror != nil {
		deps.Events = mirror
	}
	if influxClient != nil {
		deps.Metrics = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Stop accepting requests, drop device connections, then let the
	// flusher write the final store snapshot before the process exits.
	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	gw.CloseAll()
	<-flusherDone

	log.Info("SMS Gate stopped")
	return nil
}

// loadConfig resolves the configuration file path and loads it.
// Uses SMSGATE_CONFIG if set; falls back to built-in defaults when the
// default path does not exist.
func loadConfig() (*config.Config, error) {
	path := os.Getenv("SMSGATE_CONFIG")
	if path != "" {
		return config.Load(path)
	}

	if _, err := os.Stat(defaultConfigPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(defaultConfigPath)
}
