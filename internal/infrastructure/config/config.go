package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "SEEDGATE_"

// Config is the root configuration structure for Seedgate Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Client   ClientConfig   `yaml:"client"`
	Settings SettingsConfig `yaml:"settings"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Host     string              `yaml:"host" env:"SERVER_HOST"`
	Port     int                 `yaml:"port" env:"SERVER_PORT"`
	TLS      TLSConfig           `yaml:"tls"`
	Timeouts ServerTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig          `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"SERVER_TLS_ENABLED"`
	CertFile string `yaml:"cert_file" env:"SERVER_TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"SERVER_TLS_KEY_FILE"`
}

// ServerTimeoutConfig contains HTTP timeout settings in seconds.
type ServerTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_CORS_ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// DatabaseConfig contains settings for the SQLite database holding the
// user directory and audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"DATABASE_PATH"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AuthConfig controls the authentication gateway.
type AuthConfig struct {
	// DisableUsersAndAuth turns off the user directory and token checks.
	// Every request is served as the config user with admin rights.
	DisableUsersAndAuth bool `yaml:"disable_users_and_auth" env:"AUTH_DISABLE_USERS_AND_AUTH"`

	// Secret signs session tokens. Loaded once at startup.
	Secret string `yaml:"secret" env:"AUTH_SECRET"`

	// InitialAdmin, when both fields are set, creates the first admin
	// account at startup if the directory is empty.
	InitialAdmin InitialAdminConfig `yaml:"initial_admin"`
}

// InitialAdminConfig holds headless bootstrap credentials.
type InitialAdminConfig struct {
	Username string `yaml:"username" env:"AUTH_INITIAL_ADMIN_USERNAME"`
	Password string `yaml:"password" env:"AUTH_INITIAL_ADMIN_PASSWORD"`
}

// Enabled reports whether headless bootstrap credentials are configured.
func (c InitialAdminConfig) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// ClientConfig is the torrent client connection used by the config user
// when users and auth are disabled. Either Host and Port or SocketPath.
type ClientConfig struct {
	Host       string `yaml:"host" env:"CLIENT_HOST"`
	Port       int    `yaml:"port" env:"CLIENT_PORT"`
	SocketPath string `yaml:"socket_path" env:"CLIENT_SOCKET_PATH"`
}

// SettingsConfig contains per-user settings store settings.
type SettingsConfig struct {
	// Path is the root directory; each user gets <Path>/<userID>/settings/settings.db.
	Path        string `yaml:"path" env:"SETTINGS_PATH"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the broker that receives service
// lifecycle events.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"MQTT_HOST"`
	Port     int    `yaml:"port" env:"MQTT_PORT"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for activity metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"INFLUXDB_ENABLED"`
	URL           string `yaml:"url" env:"INFLUXDB_URL"`
	Token         string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SEEDGATE_SECTION_KEY
// For example: SEEDGATE_AUTH_SECRET, SEEDGATE_SETTINGS_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: ServerTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/seedgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Settings: SettingsConfig{
			Path:        "./data/users",
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "seedgate-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies SEEDGATE_* environment variables to the configuration.
// Fields without an env tag are file-only.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, "server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}

	// The secret is required even with auth disabled: the config user
	// still receives a signed session cookie.
	const minSecretLength = 32
	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required (set SEEDGATE_AUTH_SECRET environment variable)")
	} else if len(c.Auth.Secret) < minSecretLength {
		errs = append(errs, "auth.secret must be at least 32 characters")
	}

	// The config user and the headless initial admin both take their
	// connection from the client section.
	if c.Auth.DisableUsersAndAuth || c.Auth.InitialAdmin.Enabled() {
		hasNetwork := c.Client.Host != "" || c.Client.Port != 0
		hasSocket := c.Client.SocketPath != ""
		switch {
		case hasNetwork && hasSocket:
			errs = append(errs, "client: set either host/port or socket_path, not both")
		case !hasNetwork && !hasSocket:
			errs = append(errs, "client: host/port or socket_path is required when users and auth are disabled or initial_admin is set")
		case hasNetwork && (c.Client.Host == "" || c.Client.Port < 1 || c.Client.Port > 65535):
			errs = append(errs, "client: host and a port between 1 and 65535 are required")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the server read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the server write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the server idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Server.Timeouts.Idle) * time.Second
}
