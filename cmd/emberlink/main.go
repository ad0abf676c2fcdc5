// Emberlink - Critical Event Dispatch Engine
//
// This is the main entry point for the Emberlink service. Emberlink
// watches a home-automation hub's entity state stream, classifies
// life-safety events per household monitoring preferences, and delivers
// deduplicated, rate-limited push notifications to registered mobile
// devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/emberlink/emberlink/migrations"

	"github.com/emberlink/emberlink/internal/api"
	"github.com/emberlink/emberlink/internal/classify"
	"github.com/emberlink/emberlink/internal/dedup"
	"github.com/emberlink/emberlink/internal/dispatch"
	"github.com/emberlink/emberlink/internal/hub"
	"github.com/emberlink/emberlink/internal/infrastructure/config"
	"github.com/emberlink/emberlink/internal/infrastructure/database"
	"github.com/emberlink/emberlink/internal/infrastructure/influxdb"
	"github.com/emberlink/emberlink/internal/infrastructure/logging"
	"github.com/emberlink/emberlink/internal/infrastructure/mqtt"
	"github.com/emberlink/emberlink/internal/monitoring"
	"github.com/emberlink/emberlink/internal/push"
	"github.com/emberlink/emberlink/internal/registry"
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
	// issue-token prints a household API token for provisioning a mobile
	// device, then exits. Everything else runs the service.
	if len(os.Args) > 1 && os.Args[1] == "issue-token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Emberlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings, stamped with the
	// household this instance dispatches for
	log = logging.New(cfg.Logging, version).ForHousehold(cfg.Household.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device registry: which mobile devices receive critical alerts
	deviceRegistry := registry.New(registry.NewSQLiteRepository(db.DB), registry.Options{
		StaleAfter: cfg.StaleAfter(),
		PurgeAfter: cfg.PurgeAfter(),
		GCInterval: time.Duration(cfg.Registry.GCIntervalHours) * time.Hour,
	})
	deviceRegistry.SetLogger(log)
	if loadErr := deviceRegistry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	go deviceRegistry.RunGC(ctx)

	// Monitoring configuration: which entities the household watches
	monitorStore := monitoring.NewStore(monitoring.NewSQLiteRepository(db.DB))
	monitorStore.SetLogger(log)
	if loadErr := monitorStore.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading monitoring config: %w", loadErr)
	}

	// Notification dedup: cooldown windows and per-device rate caps
	limiter := dedup.NewLimiter(cfg.Cooldown(), cfg.Dispatch.RateCapPerHour)

	// Push delivery with retry
	sender := push.NewSender(push.NewGatewayClient(cfg.Push), cfg.Push)
	sender.SetLogger(log)

	// Dispatch engine
	engine := dispatch.New(dispatch.Options{
		HouseholdID:    cfg.Household.ID,
		HouseholdName:  cfg.Household.Name,
		QueueSize:      cfg.Dispatch.QueueSize,
		Workers:        cfg.Dispatch.Workers,
		EventDedupSize: cfg.Dispatch.EventDedupSize,
		ShutdownGrace:  cfg.ShutdownGrace(),
	}, monitorStore, deviceRegistry, limiter, sender, dispatch.NewSQLiteOutcomeRepository(db.DB))
	engine.SetLogger(log)

	// Connect to InfluxDB (optional outcome metrics)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engine.SetMetrics(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Alarm sensor state cache, backing the sensor snapshot API
	sensorCache := hub.NewStateCache(classify.IsAlarmClass)

	// Connect to the hub's MQTT event feed
	mqttClient, err := mqtt.Connect(cfg.Hub)
	if err != nil {
		return fmt.Errorf("connecting to hub broker: %w", err)
	}
	defer func() {
		log.Info("disconnecting from hub broker")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("hub broker reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("hub broker disconnected", "error", err)
	})
	log.Info("hub broker connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Hub.Broker.Host, cfg.Hub.Broker.Port),
		"client_id", cfg.Hub.Broker.ClientID,
	)

	// HTTP API and app event feed
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Household: cfg.Household,
		Logger:    log,
		Registry:  deviceRegistry,
		Monitor:   monitorStore,
		Sensors:   sensorCache,
		Outcomes:  dispatch.NewSQLiteOutcomeRepository(db.DB),
		Engine:    engine,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Start the engine and wire its event feed broadcasts, then attach
	// the hub subscription so events start flowing last.
	engine.SetBroadcaster(server.Hub())
	engine.Start(ctx)
	defer func() {
		log.Info("draining dispatch engine")
		engine.Stop()
	}()

	feed := hub.NewFeed(engine, sensorCache, cfg.Hub.TopicPrefix, byte(cfg.Hub.QoS))
	feed.SetLogger(log)
	if startErr := feed.Start(ctx, mqttClient); startErr != nil {
		return fmt.Errorf("subscribing to hub event feed: %w", startErr)
	}
	log.Info("hub event feed subscribed", "topic_prefix", cfg.Hub.TopicPrefix, "qos", cfg.Hub.QoS)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Disconnect the hub feed first so no new events arrive while the
	// engine drains. Close is idempotent; the deferred call becomes a
	// no-op.
	if closeErr := mqttClient.Close(); closeErr != nil {
		log.Error("error closing MQTT", "error", closeErr)
	}

	// Deferred calls run in reverse order:
	// 1. Dispatch engine drain (the hub feed above is already gone)
	// 2. API server
	// 3. MQTT (no-op, closed above)
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("Emberlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EMBERLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBERLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// issueToken prints a household API token for out-of-band device
// provisioning. An optional first argument binds the token to a device
// id, restricting which device it may register.
//
// Usage: emberlink issue-token [device-id]
func issueToken(args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	deviceID := ""
	if len(args) > 0 {
		deviceID = args[0]
	}

	token, err := api.GenerateToken(cfg.Household.ID, deviceID, cfg.Security.JWT.Secret, cfg.Security.JWT.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
