// Hardpoint Core - Venue Hardware Control Plane
//
// This is the main entry point for the Hardpoint Core daemon. It
// supervises the venue's hardware fleet (printers, displays, scanners,
// payment terminals): discovery, pairing, session security, health
// monitoring, fault recovery, and sandbox enforcement.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/oakline-systems/hardpoint-core/migrations"

	"github.com/oakline-systems/hardpoint-core/internal/api"
	"github.com/oakline-systems/hardpoint-core/internal/audit"
	"github.com/oakline-systems/hardpoint-core/internal/command"
	"github.com/oakline-systems/hardpoint-core/internal/device"
	"github.com/oakline-systems/hardpoint-core/internal/discovery"
	"github.com/oakline-systems/hardpoint-core/internal/health"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/config"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/database"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/influxdb"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/logging"
	"github.com/oakline-systems/hardpoint-core/internal/infrastructure/mqtt"
	"github.com/oakline-systems/hardpoint-core/internal/metrics"
	"github.com/oakline-systems/hardpoint-core/internal/pairing"
	"github.com/oakline-systems/hardpoint-core/internal/recovery"
	"github.com/oakline-systems/hardpoint-core/internal/sandbox"
	"github.com/oakline-systems/hardpoint-core/internal/schedule"
	"github.com/oakline-systems/hardpoint-core/internal/session"
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

// probeTimeout bounds one health probe round trip over the broker.
const probeTimeout = 10 * time.Second

// keyRetention is how long a retired signing key stays available for
// verification. Must cover the longest session lifetime that key could
// have signed (basic security level, seven days).
const keyRetention = 7 * 24 * time.Hour

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting Hardpoint Core",
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
	log.Info("configuration loaded", "path", configPath, "tenant", cfg.Tenant.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	devices, err := registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	log.Info("device registry initialised", "devices", len(devices))

	// Connect to MQTT broker
	bus, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	bus.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	bus.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional telemetry)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	mx := metrics.New()

	// Supervisory scheduler shared by health, recovery, sandbox, and
	// session grace-window tasks
	sched := schedule.NewScheduler(cfg.Scheduler.Workers, cfg.Scheduler.QueueSize)
	sched.SetLogger(log)
	sched.Start(ctx)
	defer sched.Stop()
	log.Info("scheduler started", "workers", cfg.Scheduler.Workers)

	// WebSocket hub and event notifier, created before the services
	// that publish through them
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	notifier := api.NewNotifier(hub, bus, log)

	// Device-reported resource usage feeds sandbox enforcement
	monitorInterval := time.Duration(cfg.Sandbox.MonitorInterval) * time.Second
	usage := sandbox.NewMQTTUsageSource(bus, 3*monitorInterval, log)
	if err := usage.Start(ctx); err != nil {
		return fmt.Errorf("starting usage source: %w", err)
	}

	sandboxOpts := []sandbox.Option{
		sandbox.WithLogger(log),
		sandbox.WithNotifier(notifier),
		sandbox.WithMetrics(mx),
	}
	if influxClient != nil {
		sandboxOpts = append(sandboxOpts, sandbox.WithTelemetry(influxClient))
	}
	sandboxes := sandbox.NewManager(usage, sched, sandbox.Config{
		MonitorInterval:   monitorInterval,
		SevereThreshold:   cfg.Sandbox.SevereThreshold,
		ModerateThreshold: cfg.Sandbox.ModerateThreshold,
	}, sandboxOpts...)

	// Session manager with in-memory signing keys. The unwatch relay
	// breaks the construction cycle with the health monitor, which
	// retries overdue rotations through the session manager.
	keystore, err := session.NewKeystore(
		time.Duration(cfg.Security.JWT.KeyTTL)*time.Minute, keyRetention)
	if err != nil {
		return fmt.Errorf("creating keystore: %w", err)
	}
	unwatch := &unwatchRelay{}
	sessions := session.NewManager(
		session.NewSQLiteRepository(db.DB), keystore, registry, sched,
		cfg.Security.JWT.Issuer, cfg.Security.JWT.Audience, cfg.GetRotationGrace(),
		session.WithLogger(log),
		session.WithNotifier(notifier),
		session.WithMetrics(mx),
		session.WithHealthWatcher(unwatch),
		session.WithSandboxes(sandboxes),
	)

	// Health monitoring. The offline relay breaks the construction
	// cycle between the monitor and the recovery coordinator.
	prober := health.NewMQTTProber(bus, probeTimeout)
	offline := &offlineRelay{}
	healthOpts := []health.Option{
		health.WithLogger(log),
		health.WithOfflineHandler(offline),
		health.WithNotifier(notifier),
		health.WithRotator(sessions),
		health.WithMetrics(mx),
	}
	if influxClient != nil {
		healthOpts = append(healthOpts, health.WithTelemetry(influxClient))
	}
	monitor := health.NewMonitor(registry, prober, sched, health.Config{
		CheckInterval: cfg.GetHealthCheckInterval(),
		BackoffBase:   time.Duration(cfg.Health.BackoffBase) * time.Second,
		BackoffCap:    time.Duration(cfg.Health.BackoffCap) * time.Second,
		MaxAttempts:   cfg.Health.MaxReconnectAttempts,
	}, healthOpts...)
	unwatch.monitor = monitor

	// Command dispatch and fault recovery
	dispatcher := command.NewMQTTDispatcher(bus, byte(cfg.MQTT.QoS))
	coordinator := recovery.NewCoordinator(registry,
		recovery.NewSQLiteJobRepository(db.DB), prober, prober, sessions, sched,
		recovery.Config{
			PaperPollInterval: time.Duration(cfg.Recovery.PaperPollInterval) * time.Second,
			PaperPollTimeout:  time.Duration(cfg.Recovery.PaperPollTimeout) * time.Second,
			ReconnectInterval: time.Duration(cfg.Recovery.ReconnectInterval) * time.Second,
		},
		recovery.WithLogger(log),
		recovery.WithDispatcher(dispatcher),
		recovery.WithHealthWatcher(monitor),
		recovery.WithQuarantiner(sandboxes),
		recovery.WithNotifier(notifier),
		recovery.WithMetrics(mx),
	)
	offline.coord = coordinator

	statusListener := recovery.NewStatusListener(coordinator, registry, bus, log)
	if err := statusListener.Start(ctx); err != nil {
		return fmt.Errorf("starting status listener: %w", err)
	}

	// Pairing orchestration
	orchestrator := pairing.NewOrchestrator(registry, sessions,
		cfg.GetChallengeTTL(), cfg.Pairing.MaxAttempts,
		pairing.WithLogger(log),
		pairing.WithMetrics(mx),
		pairing.WithSandboxes(sandboxes),
		pairing.WithHealthWatcher(monitor),
		pairing.WithScheduler(sched),
	)

	// Command admission gate
	gateway := command.NewGateway(sessions, sandboxes, registry, dispatcher,
		command.WithLogger(log),
		command.WithMetrics(mx),
		command.WithDeferrer(coordinator),
	)

	// Discovery listener
	listener := discovery.NewListener(registry, bus, cfg.Tenant.ID, log)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("starting discovery listener: %w", err)
	}

	// Resume supervision of devices that were paired before restart.
	// Sandboxes are in-memory, so each paired device gets a fresh one.
	resumed := 0
	for i := range devices {
		rec := &devices[i]
		if rec.PairingStatus != device.PairingPaired {
			continue
		}
		if provErr := sandboxes.Provision(ctx, rec); provErr != nil {
			log.Warn("failed to provision sandbox on resume",
				"device_id", rec.ID, "error", provErr)
		}
		monitor.Watch(rec.ID)
		resumed++
	}
	if resumed > 0 {
		log.Info("resumed supervision of paired devices", "count", resumed)
	}

	// HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Registry:    registry,
		Pairing:     orchestrator,
		Sessions:    sessions,
		Commands:    gateway,
		Sandboxes:   sandboxes,
		AuditRepo:   audit.NewSQLiteRepository(db.DB),
		Metrics:     mx,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, bus, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Scheduler
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Hardpoint Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HARDPOINT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HARDPOINT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// offlineRelay forwards offline notices to the recovery coordinator.
// The monitor is constructed before the coordinator, which in turn
// needs the monitor as its health watcher; the relay is filled in once
// both exist.
type offlineRelay struct {
	coord *recovery.Coordinator
}

func (r *offlineRelay) OnDeviceOffline(ctx context.Context, deviceID string) {
	if r.coord != nil {
		r.coord.OnDeviceOffline(ctx, deviceID)
	}
}

// unwatchRelay forwards health-loop teardown to the monitor. The
// session manager is constructed before the monitor, which in turn
// retries rotations through the session manager; the relay is filled
// in once both exist.
type unwatchRelay struct {
	monitor *health.Monitor
}

func (r *unwatchRelay) Unwatch(deviceID string) {
	if r.monitor != nil {
		r.monitor.Unwatch(deviceID)
	}
}
