package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mqtt-call-service/internal/api"
	"github.com/nerrad567/mqtt-call-service/internal/callservice"
	"github.com/nerrad567/mqtt-call-service/internal/history"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-call-service/internal/integration"
	"github.com/nerrad567/mqtt-call-service/internal/service"
	"github.com/nerrad567/mqtt-call-service/migrations"
)

// retentionInterval is how often old call history is purged.
const retentionInterval = 24 * time.Hour

// errBridgeSetup marks a permanent failure of the call service entry.
var errBridgeSetup = errors.New("mqtt call service setup failed")

// run is the daemon, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MQTT call service",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

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

	if migrateErr := db.Migrations(migrations.FS, ".").Up(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Service registry and its observers
	registry := service.NewRegistry()
	registry.SetLogger(log.Component("service"))

	store := history.NewStore(db.DB)
	recorder := history.NewRecorder(store, history.DefaultQueueSize)
	recorder.SetLogger(log.Component("history"))
	registry.AddObserver(recorder)

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		registry.AddObserver(influxClient)
	}

	// Registered last so Wait runs before the observers shut down.
	defer func() {
		registry.Wait()
		recorder.Close()
		if influxClient != nil {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}
	}()

	if regErr := registerServices(registry, store, log); regErr != nil {
		return regErr
	}

	// Integrations
	manager := integration.NewManager(retryPolicy(cfg.MQTT.Reconnect))
	manager.SetLogger(log.Component("integration"))

	mqttEntry := integration.Entry{
		Domain: callservice.DependencyDomain,
		Title:  net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
	}
	if !cfg.MQTT.Enabled {
		mqttEntry.DisabledBy = "config"
	}
	if mqttEntry, err = manager.Add(mqttEntry); err != nil {
		return fmt.Errorf("adding mqtt integration: %w", err)
	}
	bridgeEntry, err := manager.Add(integration.Entry{Domain: callservice.Domain, Title: "MQTT call service"})
	if err != nil {
		return fmt.Errorf("adding call service integration: %w", err)
	}

	bus := &busHandle{}
	bridge := callservice.New(manager, bus, registry, callservice.Options{})
	bridge.SetLogger(log.Component("callservice"))

	// API
	var apiServer *api.Server
	if cfg.API.Enabled {
		hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
		registry.AddObserver(hub)

		health := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     bus,
		}
		if influxClient != nil {
			health["influxdb"] = influxClient
		}
		apiServer, err = api.New(api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Security:     cfg.Security,
			Logger:       log.Component("api"),
			Services:     registry,
			Calls:        store,
			Integrations: manager,
			Health:       health,
			Hub:          hub,
			Version:      version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// The mqtt entry and the bridge set up concurrently; the bridge blocks
	// on the mqtt readiness signal until the first connection attempt
	// settles or its availability timeout runs out.
	var g errgroup.Group
	g.Go(func() error {
		setupMQTT(ctx, manager, mqttEntry, registry, bus, cfg.MQTT, log)
		return nil
	})
	g.Go(func() error {
		setupErr := manager.Setup(ctx, bridgeEntry.ID, func(ctx context.Context, _ integration.Entry) error {
			if !bridge.Setup(ctx, cfg.CallService) {
				return errBridgeSetup
			}
			return nil
		})
		if setupErr != nil {
			log.Error("MQTT call service is not running", "error", setupErr)
		}
		return nil
	})
	if cfg.Database.RetentionDays > 0 {
		g.Go(func() error {
			purgeLoop(ctx, store, cfg.GetRetention(), log)
			return nil
		})
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	// Reverse order: stop taking messages, then drop the broker.
	if closeErr := bridge.Close(); closeErr != nil {
		log.Error("error closing call service", "error", closeErr)
	}
	_ = g.Wait() //nolint:errcheck // goroutines log their own failures
	if client := bus.take(); client != nil {
		unloadMQTT(manager, mqttEntry.ID, registry, client, log)
	}

	log.Info("MQTT call service stopped")
	return nil
}

// registerServices installs the services that exist regardless of MQTT.
func registerServices(registry *service.Registry, store *history.Store, log *logging.Logger) error {
	if err := service.RegisterBuiltins(registry, log.Component("system_log")); err != nil {
		return fmt.Errorf("registering builtin services: %w", err)
	}
	if err := history.RegisterServices(registry, store, log.Component("history")); err != nil {
		return fmt.Errorf("registering history services: %w", err)
	}
	return nil
}

// connectInflux returns nil when InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
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

// setupMQTT drives the mqtt entry until it loads, fails permanently or
// ctx is cancelled. Connection failures are retried by the manager.
func setupMQTT(
	ctx context.Context,
	manager *integration.Manager,
	entry integration.Entry,
	registry *service.Registry,
	bus *busHandle,
	cfg config.MQTTConfig,
	log *logging.Logger,
) {
	if entry.Disabled() {
		log.Info("MQTT integration disabled", "disabled_by", entry.DisabledBy)
		return
	}

	err := manager.Setup(ctx, entry.ID, func(_ context.Context, _ integration.Entry) error {
		client, err := mqtt.Connect(cfg)
		if err != nil {
			return fmt.Errorf("%w: %w", integration.ErrNotReady, err)
		}
		client.SetLogger(log.Component("mqtt"))
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		if regErr := client.RegisterServices(registry); regErr != nil {
			client.Close() //nolint:errcheck // already failing
			return fmt.Errorf("registering mqtt services: %w", regErr)
		}
		bus.set(client)

		log.Info("MQTT connected",
			"broker", entry.Title,
			"client_id", cfg.Broker.ClientID,
		)
		return nil
	})
	if err != nil {
		log.Error("MQTT integration failed", "error", err)
	}
}

// unloadMQTT removes mqtt.publish and disconnects the client.
func unloadMQTT(manager *integration.Manager, id string, registry *service.Registry, client *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	closed := false
	err := manager.Unload(context.Background(), id, func(_ context.Context, _ integration.Entry) error {
		registry.Remove(mqtt.ServiceDomain, mqtt.ServicePublish)
		closed = true
		return client.Close()
	})
	if err != nil {
		log.Error("error unloading MQTT integration", "error", err)
	}
	// Shutdown can race the final setup transition to loaded.
	if !closed {
		registry.Remove(mqtt.ServiceDomain, mqtt.ServicePublish)
		client.Close() //nolint:errcheck // best effort on shutdown
	}
}

// purgeLoop deletes history older than keep, once at start and then
// every retentionInterval, until ctx is cancelled.
func purgeLoop(ctx context.Context, store *history.Store, keep time.Duration, log *logging.Logger) {
	purge := func() {
		n, err := store.Purge(ctx, time.Now().Add(-keep))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("purging call history", "error", err)
		case n > 0:
			log.Info("purged call history", "deleted", n, "keep", keep)
		}
	}

	purge()
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// retryPolicy converts the reconnect settings (seconds) to a RetryPolicy.
func retryPolicy(cfg config.MQTTReconnectConfig) integration.RetryPolicy {
	policy := integration.DefaultRetryPolicy()
	if cfg.InitialDelay > 0 {
		policy.InitialDelay = time.Duration(cfg.InitialDelay) * time.Second
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = time.Duration(cfg.MaxDelay) * time.Second
	}
	policy.MaxAttempts = cfg.MaxAttempts
	return policy
}
