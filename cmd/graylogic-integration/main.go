// Gray Logic Integration - device integration service
//
// This is the main entry point. It loads the device configuration, builds one
// protocol backend, bridge and adapter per device, registers them with the
// state hub and serves the REST/WebSocket API. Optional infrastructure
// (SQLite snapshot mirror and command log, Redis snapshot mirror, MQTT,
// InfluxDB telemetry, Prometheus metrics) is enabled per section in the
// configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-integration/internal/api"
	"github.com/nerrad567/gray-logic-integration/internal/audit"
	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/redis"
	"github.com/nerrad567/gray-logic-integration/internal/platform"
	"github.com/nerrad567/gray-logic-integration/migrations"
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

// closer is one deferred shutdown step, run in reverse order.
type closer struct {
	name string
	fn   func() error
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Integration",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"devices", len(cfg.Devices),
	)

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			log.Info("closing " + c.name)
			if closeErr := c.fn(); closeErr != nil {
				log.Error("error closing "+c.name, "error", closeErr)
			}
		}
	}()

	deps, err := connectInfrastructure(ctx, cfg, log, &closers)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	opts := platform.Options{
		Config:  cfg,
		Logger:  log,
		Store:   deps.store,
		Metrics: m,
	}
	if deps.audit != nil {
		opts.Audit = deps.audit
	}
	if deps.mqtt != nil {
		opts.Broker = deps.mqtt
	}
	if deps.influx != nil {
		opts.Telemetry = deps.influx
	}

	p, err := platform.New(opts)
	if err != nil {
		return fmt.Errorf("building platform: %w", err)
	}
	closers = append(closers, closer{"platform", func() error { p.Stop(); return nil }})

	if m != nil {
		if regErr := m.RegisterSource(cfg.Metrics.Namespace, p); regErr != nil {
			return fmt.Errorf("registering metrics: %w", regErr)
		}
	}

	// Devices that fail to initialize stay registered and answer 503 until
	// the service is restarted.
	if initErr := p.Initialize(ctx); initErr != nil {
		log.Warn("some devices failed to initialize", "error", initErr)
	}
	if startErr := p.Start(ctx); startErr != nil {
		return fmt.Errorf("starting platform: %w", startErr)
	}
	log.Info("platform started", "devices", p.Hub().DeviceCount())

	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Platform: p,
			Metrics:  m,
			Version:  version,
		}
		if deps.audit != nil {
			apiDeps.Audit = deps.audit
		}
		srv, apiErr := api.New(apiDeps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		closers = append(closers, closer{"API server", srv.Close})
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, deps); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// infrastructure holds the optional connections opened from configuration.
type infrastructure struct {
	db     *database.DB
	redis  *redis.Client
	mqtt   *mqtt.Client
	influx *influxdb.Client
	store  hub.SnapshotStore
	audit  *audit.SQLiteRepository
}

// connectInfrastructure opens every enabled section. Each successful
// connection appends its close step to closers.
func connectInfrastructure(ctx context.Context, cfg *config.Config, log *logging.Logger, closers *[]closer) (infrastructure, error) {
	var (
		deps   infrastructure
		stores hub.MultiStore
	)

	if cfg.Database.Enabled {
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return deps, fmt.Errorf("opening database: %w", err)
		}
		*closers = append(*closers, closer{"database", db.Close})
		deps.db = db

		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			return deps, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)
		stores = append(stores, hub.NewSQLiteStore(db))
		deps.audit = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("database disabled")
	}

	if cfg.Redis.Enabled {
		rc, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return deps, fmt.Errorf("connecting to Redis: %w", err)
		}
		*closers = append(*closers, closer{"Redis", rc.Close})
		deps.redis = rc

		store := hub.NewRedisStore(rc.Cmdable(), cfg.Redis.TTL)
		removed, err := store.Prune(ctx, deviceIDs(cfg))
		if err != nil {
			log.Warn("pruning stale Redis snapshots failed", "error", err)
		} else if len(removed) > 0 {
			log.Info("pruned stale Redis snapshots", "devices", removed)
		}
		log.Info("Redis connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		stores = append(stores, store)
	} else {
		log.Info("Redis disabled")
	}

	if cfg.MQTT.Enabled {
		mc, err := mqtt.Connect(ctx, cfg.MQTT, log.Component("mqtt"))
		if err != nil {
			return deps, fmt.Errorf("connecting to MQTT: %w", err)
		}
		*closers = append(*closers, closer{"MQTT", mc.Close})
		deps.mqtt = mc

		mc.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mc.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		ic, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return deps, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		*closers = append(*closers, closer{"InfluxDB", ic.Close})
		deps.influx = ic

		ic.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	switch len(stores) {
	case 0:
	case 1:
		deps.store = stores[0]
	default:
		deps.store = stores
	}
	return deps, nil
}

func deviceIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func healthCheck(ctx context.Context, deps infrastructure) error {
	if deps.db != nil {
		if err := deps.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if deps.redis != nil {
		if err := deps.redis.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if deps.mqtt != nil {
		if err := deps.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if deps.influx != nil {
		if err := deps.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
