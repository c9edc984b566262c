// Seedgate Core - authentication gateway for torrent client web UIs.
//
// This is the main entry point. It owns the user directory, issues session
// tokens, stores per-user UI settings and keeps each user's client
// connection announced to the rest of the stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/seedgate-core/internal/api"
	"github.com/nerrad567/seedgate-core/internal/audit"
	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/config"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/logging"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/seedgate-core/internal/service"
	"github.com/nerrad567/seedgate-core/internal/settings"
	"github.com/nerrad567/seedgate-core/migrations"
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

// configPathEnv overrides defaultConfigPath.
const configPathEnv = "SEEDGATE_CONFIG"

func main() {
	// Cancelled on Ctrl+C or SIGTERM; every component shuts down from it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Seedgate Core",
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

	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Per-user settings files
	handles := settings.NewHandleManager(cfg.Settings.Path, cfg.Settings.BusyTimeout)
	settingsStore := settings.NewStore(handles, log.Logger)
	defer func() {
		log.Info("closing settings store")
		if closeErr := settingsStore.Close(); closeErr != nil {
			log.Error("error closing settings store", "error", closeErr)
		}
	}()

	// Lifecycle events (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
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

		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Activity metrics (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	directory, services, err := startDirectory(ctx, cfg, db, mqttClient, handles, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		// Events lost while the broker was away are sent again on reconnect.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			go services.Reannounce(ctx)
		})
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	mode := api.AuthEnforced
	if cfg.Auth.DisableUsersAndAuth {
		mode = api.AuthBypassed
		log.Warn("users and auth disabled, every request is served as the config user",
			"username", auth.ConfigUsername,
		)
	}

	deps := api.Deps{
		Config:    cfg.Server,
		Logger:    log,
		Mode:      mode,
		Directory: directory,
		Tokens:    tokens,
		Settings:  settingsStore,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Database:  db,
		Version:   version,
	}
	if influxClient != nil {
		deps.Metrics = influxClient
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"mode", mode.String(),
		"services", services.Count(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, settings store, database.

	log.Info("Seedgate Core stopped")
	return nil
}

// startDirectory builds the user directory and the service manager that
// owns each user's client connection. Services for existing users are
// registered before the directory starts reporting mutations, and the
// headless initial admin is seeded last so its service is announced.
func startDirectory(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	mqttClient *mqtt.Client,
	handles *settings.HandleManager,
	log *logging.Logger,
) (*auth.Directory, *service.Manager, error) {
	opts := []service.Option{service.WithSettingsEvictor(handles)}
	if mqttClient != nil {
		opts = append(opts, service.WithPublisher(mqttClient))
	}
	services := service.NewManager(log.Logger, opts...)

	directory := auth.NewDirectory(auth.NewUserRepository(db.DB), nil, clientTarget(cfg.Client), log.Logger)

	if cfg.Auth.DisableUsersAndAuth {
		return directory, services, nil
	}

	users, err := directory.ListUsers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading users: %w", err)
	}
	if err := services.Bootstrap(ctx, users); err != nil {
		return nil, nil, fmt.Errorf("starting user services: %w", err)
	}
	directory.SetLifecycle(services)
	log.Info("user directory initialised", "users", len(users))

	if cfg.Auth.InitialAdmin.Enabled() {
		admin := cfg.Auth.InitialAdmin
		if _, err := auth.SeedAdmin(ctx, directory, admin.Username, admin.Password, clientTarget(cfg.Client), log.Logger); err != nil {
			return nil, nil, err
		}
	}

	return directory, services, nil
}

// clientTarget converts the client section into a connection target, or
// nil when the section is empty.
func clientTarget(c config.ClientConfig) auth.ConnectionTarget {
	switch {
	case c.SocketPath != "":
		return auth.SocketTarget{Path: c.SocketPath}
	case c.Host != "" || c.Port != 0:
		return auth.NetworkTarget{Host: c.Host, Port: c.Port}
	default:
		return nil
	}
}

// getConfigPath returns the configuration file path.
// Uses SEEDGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
