// godaikin-mqtt bridges GO DAIKIN cloud air conditioners to Home Assistant
// over MQTT.
//
// Every refresh interval it lists the account's units, reads their state and
// publishes MQTT discovery configs and retained state topics. Commands
// published on <prefix>/<id>/<attribute>/set are validated and sent to the
// vendor cloud.
//
// Configuration comes from the YAML file named by GODAIKIN_CONFIG (optional)
// and environment variables such as GODAIKIN_USERNAME and MQTT_HOST.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/godaikin-mqtt/internal/api"
	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/bridges/daikin"
	"github.com/nerrad567/godaikin-mqtt/internal/cloud"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/godaikin-mqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and tears down in
// reverse order. It returns an error for anything that must stop startup:
// invalid configuration, an unreachable broker or rejected credentials.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting godaikin-mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := os.Getenv("GODAIKIN_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"refresh_interval", cfg.RefreshInterval(),
		"log_level", cfg.Logging.Level,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	telemetry, closeInflux, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeInflux()

	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix, cfg.Bridge.DiscoveryPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	vendor := cloud.New(cfg.Vendor,
		cloud.WithLogger(log.Component("cloud")),
		cloud.WithRetryMaxElapsed(cfg.RefreshInterval()),
	)
	if authErr := vendor.Authenticate(ctx); authErr != nil {
		if errors.Is(authErr, cloud.ErrAuth) {
			return fmt.Errorf("signing in to GO DAIKIN: %w", authErr)
		}
		log.Warn("initial sign-in failed, retrying on the next cycle", "error", authErr)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := api.NewHub(cfg.API.WebSocket, log.Component("websocket"))
	auditRepo := audit.NewSQLiteRepository(db.DB)
	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	opts := daikin.BridgeOptions{
		Config:           cfg.Bridge,
		QoS:              byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		HistoryRetention: cfg.HistoryRetention(),
		Vendor:           vendor,
		MQTT:             mqttClient,
		Registry:         registry,
		History:          historyRepo,
		Energy:           daikin.NewSQLiteEnergyStore(db.DB),
		Audit:            auditRepo,
		Events:           hub,
		Metrics:          daikin.NewMetrics(promReg),
		Logger:           log.Component("bridge"),
	}
	if telemetry != nil {
		opts.Telemetry = telemetry
	}

	bridge, err := daikin.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing discovery and state")
		bridge.HandleReconnect()
	})

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if telemetry != nil {
			checks["influxdb"] = telemetry
		}
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Bridge:   bridge,
			History:  historyRepo,
			Audit:    auditRepo,
			Gatherer: promReg,
			Hub:      hub,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, MQTT (publishes offline),
	// InfluxDB, database.
	return nil
}

// connectInflux returns the InfluxDB client, or nil when the integration is
// disabled. The returned close function is always safe to call.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, func(), error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	return client, func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}, nil
}
