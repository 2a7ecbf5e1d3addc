// Smart Water Core
//
// This is the main entry point of the Smart Water service. It polls the
// Smart Water cloud for every configured profile, keeps the latest known
// state in a persisted cache, registers gateways and devices in a local
// SQLite registry and projects entity values to MQTT, InfluxDB and an
// HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/smartwater-core/internal/api"
	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/coordinator"
	"github.com/nerrad567/smartwater-core/internal/fetch"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/config"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/database"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartwater-core/internal/registry"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
	"github.com/nerrad567/smartwater-core/internal/store"
	"github.com/nerrad567/smartwater-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when SMARTWATER_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	healthCheckInterval = time.Minute
	healthCheckTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit // linear startup sequence
	log := logging.Default()
	log.Info("starting Smart Water Core",
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
	log.Info("configuration loaded", "path", configPath, "accounts", len(cfg.Accounts))

	// Device registry
	db, err := database.Open(cfg.Database)
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
	devices := registry.NewRegistry(registry.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("registry"))
	log.Info("device registry ready", "path", db.Path())

	// Persisted cache shared by all profiles
	stores := store.NewRegistry(cfg.Cache.Dir, log.Component("store"))
	cache := stores.Open(cfg.Cache.Key, cfg.GetCacheWritePeriod())

	// One cloud session per account
	cloudLog := log.Component("cloud")
	pool := cloud.NewPool(func(username, password string) cloud.Client {
		c := cloud.NewHTTPClient(cfg.Cloud.BaseURL, username, password, cfg.GetCloudTimeout())
		c.SetLogger(cloudLog)
		return c
	})
	validate := func(ctx context.Context, username, password string) (smartwater.Record, error) {
		c := cloud.NewHTTPClient(cfg.Cloud.BaseURL, username, password, cfg.GetCloudTimeout())
		c.SetLogger(cloudLog)
		return coordinator.Validate(ctx, c, log.Component("validate"))
	}

	// Cloud push channel (optional)
	pushClient, err := connectPush(cfg, log)
	if err != nil {
		log.Warn("cloud push unavailable, polling only", "error", err)
	}
	if pushClient != nil {
		defer closeMQTT(pushClient, "cloud push", log)
	}

	// Local MQTT broker for entity states (optional)
	var publishers coordinator.Publishers
	stateClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.Component("mqtt")))
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT state publishing disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer closeMQTT(stateClient, "MQTT", log)
		stateClient.SetOnConnect(func() { log.Info("MQTT connected") })
		stateClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		publishers = append(publishers, coordinator.NewMQTTPublisher(stateClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", stateClient.ID(),
		)
	}

	// InfluxDB history (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		publishers = append(publishers, coordinator.NewHistoryPublisher(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := fetch.NewMetrics(promReg)

	// Coordinators
	var pushRouter *cloud.PushRouter
	if pushClient != nil {
		pushRouter = cloud.NewPushRouter(pushClient, byte(cfg.Cloud.Push.MQTT.QoS)) //nolint:gosec // validated to 0..2
		pushRouter.SetLogger(log.Component("push"))
	}
	supervisor := coordinator.NewSupervisor(ctx, func(st coordinator.Settings) coordinator.Deps {
		profileLog := log.Profile(st.ProfileID, st.ProfileName)
		deps := coordinator.Deps{
			Client:   pool.Get(st.Username, st.Password),
			Cache:    cache,
			Registry: devices,
			Metrics:  metrics,
			Logger:   profileLog,
		}
		if len(publishers) > 0 {
			deps.Publisher = publishers
		}
		if pushRouter != nil {
			ps := cloud.NewPushSubscriber(pushRouter)
			ps.SetLogger(profileLog)
			deps.Push = ps
		}
		return deps
	})
	supervisor.SetLogger(log.Component("supervisor"))

	// API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Profiles: supervisor,
		Validate: validate,
		Gatherer: promReg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	supervisor.SetOnUpdate(server.PublishUpdate)

	settings := profileSettings(ctx, cfg, validate, log)
	supervisor.Apply(settings)
	log.Info("coordinators started", "profiles", len(settings))

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	checks := map[string]healthChecker{"database": db, "api": server}
	if stateClient != nil {
		checks["mqtt"] = stateClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Wait()
		return nil
	})
	g.Go(func() error {
		monitorHealth(gctx, checks, log)
		return nil
	})

	log.Info("Smart Water Core started", "api", server.Addr().String())
	err = g.Wait()
	log.Info("shutting down")
	return err
}

// getConfigPath returns the config file path from SMARTWATER_CONFIG or
// the default.
func getConfigPath() string {
	if path := os.Getenv("SMARTWATER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectPush connects to the cloud push broker. It returns nil without
// error when push is disabled.
func connectPush(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Cloud.Push.Enabled {
		return nil, nil
	}
	pushCfg := cfg.Cloud.Push.MQTT
	pushCfg.Enabled = true
	client, err := mqtt.Connect(pushCfg, mqtt.WithoutStatus(), mqtt.WithLogger(log.Component("push")))
	if err != nil {
		return nil, fmt.Errorf("connecting to cloud push broker: %w", err)
	}
	log.Info("cloud push connected", "broker", pushCfg.Broker.Host)
	return client, nil
}

func closeMQTT(c *mqtt.Client, name string, log *logging.Logger) {
	log.Info("disconnecting from " + name)
	if err := c.Close(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}

// validateFunc checks credentials and returns the account profile.
type validateFunc func(ctx context.Context, username, password string) (smartwater.Record, error)

// profileSettings builds the coordinator settings of every configured
// profile. Accounts without listed profiles use their default profile,
// detected with the given credentials; accounts whose detection fails
// are skipped.
func profileSettings(ctx context.Context, cfg *config.Config, validate validateFunc, log *logging.Logger) []coordinator.Settings {
	var out []coordinator.Settings
	for _, acc := range cfg.Accounts {
		profiles := acc.Profiles
		if len(profiles) == 0 {
			p, err := validate(ctx, acc.Username, acc.Password)
			if err != nil {
				log.Error("detecting default profile failed, skipping account", "username", acc.Username, "error", err)
				continue
			}
			profiles = []config.ProfileConfig{{ID: p.ID(), Name: p.Name()}}
		}
		for _, p := range profiles {
			out = append(out, coordinator.Settings{
				Username:       acc.Username,
				Password:       acc.Password,
				ProfileID:      p.ID,
				ProfileName:    p.Name,
				PollSchedule:   cfg.Fetch.PollSchedule,
				RetryDelay:     cfg.GetRetryDelay(),
				ProfileRefresh: cfg.GetProfileRefresh(),
				ReloadDelay:    cfg.GetReloadDelay(),
				ReloadDelayMax: cfg.GetReloadDelayMax(),
				TaskQueue:      cfg.Coordinator.TaskQueue,
			})
		}
	}
	return out
}

// healthChecker is implemented by every infrastructure client.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck runs all checks and joins their failures.
func healthCheck(ctx context.Context, checks map[string]healthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// monitorHealth logs failing components until ctx is cancelled.
func monitorHealth(ctx context.Context, checks map[string]healthChecker, log *logging.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, checks); err != nil {
				log.Warn("health check failed", "error", err)
			}
		}
	}
}
