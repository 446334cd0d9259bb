// rxhome-authd runs the hub's authentication and authorisation core.
//
// It loads the auth providers and MFA modules named in the config, opens
// the identity store on SQLite or Redis, and exposes health, metrics and
// the audit trail over HTTP. Auth events are forwarded to MQTT, InfluxDB
// and the audit log when those are enabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Hatles/rx-home-sub002/internal/api"
	"github.com/Hatles/rx-home-sub002/internal/audit"
	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa"
	"github.com/Hatles/rx-home-sub002/internal/auth/providers"
	"github.com/Hatles/rx-home-sub002/internal/events"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/database"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/influxdb"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/logging"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/mqtt"
	"github.com/Hatles/rx-home-sub002/internal/metrics"
	"github.com/Hatles/rx-home-sub002/internal/notify"
	"github.com/Hatles/rx-home-sub002/internal/registry"
	"github.com/Hatles/rx-home-sub002/internal/storage"
	"github.com/Hatles/rx-home-sub002/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "RXHOME_CONFIG"

	redisPingTimeout = 5 * time.Second
	flushTimeout     = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting auth core",
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
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

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
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	reg := metrics.NewRegistry()
	authMetrics := metrics.NewAuth(reg)

	backend, closeBackend, err := openBackend(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeBackend()

	entities := registry.NewRegistry(registry.NewSQLiteRepository(db.DB))
	entities.SetLogger(log)
	if err := entities.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading entity registry: %w", err)
	}

	bus := events.NewBus(events.WithLogger(log))

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
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
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		defer events.ForwardToMQTT(bus, mqttClient, cfg.Site.ID, log)()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	}

	var notifier notify.Notifier = notify.NewLogNotifier(log, cfg.Notify.Services)
	if mqttClient != nil {
		notifier = notify.NewMQTTNotifier(mqttClient, cfg.Site.ID, cfg.Notify.Services)
	}

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
		defer influxdb.SubscribeLoginAttempts(bus, influxClient)()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	defer audit.NewRecorder(auditRepo, log).Subscribe(bus)()

	store := auth.NewStore(backend,
		auth.WithStoreLogger(log),
		auth.WithSaveDelay(cfg.SaveDelay()),
		auth.WithPermissionLookup(entities.Lookup()),
		auth.WithSaveObserver(authMetrics.ObserveSave),
	)
	deps := auth.PluginDeps{
		Store:    store,
		Backend:  backend,
		Notifier: notifier,
		Logger:   log,
	}
	authProviders, err := providers.NewRegistry().Load(deps, cfg.Auth.Providers)
	if err != nil {
		return fmt.Errorf("loading auth providers: %w", err)
	}
	modules, err := mfa.NewRegistry().Load(deps, cfg.Auth.MFAModules)
	if err != nil {
		return fmt.Errorf("loading mfa modules: %w", err)
	}

	manager, err := auth.NewManager(store, authProviders, modules,
		auth.WithEventBus(bus),
		auth.WithLogger(log),
		auth.WithRecorder(authMetrics),
		auth.WithAccessTokenTTL(cfg.AccessTokenTTL()),
	)
	if err != nil {
		return fmt.Errorf("creating auth manager: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if flushErr := manager.Flush(flushCtx); flushErr != nil {
			log.Error("error flushing identity store", "error", flushErr)
		}
	}()
	log.Info("auth manager ready",
		"providers", len(authProviders),
		"mfa_modules", len(modules),
	)

	if err := seedOwner(ctx, manager, authProviders, cfg.Auth.Owner); err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Config:      cfg.Metrics,
		Logger:      log,
		Auth:        manager,
		Audit:       auditRepo,
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTP(reg),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating HTTP server: %w", err)
	}
	srv.AddHealthCheck("database", db)
	if mqttClient != nil {
		srv.AddHealthCheck("mqtt", mqttClient)
	}
	if influxClient != nil {
		srv.AddHealthCheck("influxdb", influxClient)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting HTTP server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		return nil
	})

	log.Info("auth core running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openBackend returns the document backend selected by storage.backend and
// a func releasing it.
func openBackend(ctx context.Context, cfg *config.Config, db *database.DB) (storage.Backend, func(), error) {
	if cfg.Storage.Backend != "redis" {
		return storage.NewSQLiteBackend(db.DB), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return storage.NewRedisBackend(client, cfg.Storage.Redis.Prefix), func() { client.Close() }, nil //nolint:errcheck // shutdown
}

// seedOwner provisions the owner through the first provider that can
// enrol logins. Nothing happens without a configured owner username.
func seedOwner(ctx context.Context, m *auth.Manager, authProviders []auth.Provider, owner config.OwnerConfig) error {
	if owner.Username == "" {
		return nil
	}
	for _, p := range authProviders {
		enroller, ok := p.(auth.OwnerEnroller)
		if !ok {
			continue
		}
		if _, err := m.SeedOwner(ctx, enroller, owner.Username, owner.Name); err != nil {
			return fmt.Errorf("seeding owner: %w", err)
		}
		return nil
	}
	return fmt.Errorf("seeding owner: no configured provider can enrol %q", owner.Username)
}

// getConfigPath returns RXHOME_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
