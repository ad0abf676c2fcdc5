package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Emberlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Household Household       `yaml:"household"`
	Database  DatabaseConfig  `yaml:"database"`
	Hub       HubConfig       `yaml:"hub"`
	Push      PushConfig      `yaml:"push"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Registry  RegistryConfig  `yaml:"registry"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// Household identifies the installation this instance dispatches for.
type Household struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HubConfig contains the connection settings for the home-automation hub's
// MQTT event feed.
type HubConfig struct {
	Broker      HubBrokerConfig    `yaml:"broker"`
	Auth        HubAuthConfig      `yaml:"auth"`
	QoS         int                `yaml:"qos"`
	TopicPrefix string             `yaml:"topic_prefix"`
	Reconnect   HubReconnectConfig `yaml:"reconnect"`
}

// HubBrokerConfig contains MQTT broker connection details.
type HubBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// HubAuthConfig contains MQTT authentication credentials.
type HubAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HubReconnectConfig contains MQTT reconnection settings.
type HubReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// PushConfig contains push gateway settings.
type PushConfig struct {
	// GatewayURL is the base URL of the remote push notification gateway.
	GatewayURL string `yaml:"gateway_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	// MaxAttempts bounds delivery retries for transient failures.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoffMS and MaxBackoffMS bound the exponential retry backoff.
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// DispatchConfig contains dispatch engine settings.
type DispatchConfig struct {
	// QueueSize is the bounded intake queue capacity. Intake blocks when full.
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of dispatch workers. Events are sharded by
	// entity id so same-entity events stay ordered.
	Workers int `yaml:"workers"`

	// EventDedupSize bounds the hub event-id dedup set.
	EventDedupSize int `yaml:"event_dedup_size"`

	// CooldownMinutes is the per-entity/state re-alert cooldown window.
	CooldownMinutes int `yaml:"cooldown_minutes"`

	// RateCapPerHour caps individual critical notifications per device per hour.
	RateCapPerHour int `yaml:"rate_cap_per_hour"`

	// ShutdownGraceSeconds bounds the drain of in-flight deliveries on shutdown.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// RegistryConfig contains device registry lifecycle settings.
type RegistryConfig struct {
	// StaleAfterDays excludes devices from recipient resolution after this
	// many days without a heartbeat. Stale devices are not deleted.
	StaleAfterDays int `yaml:"stale_after_days"`

	// PurgeAfterDays removes registrations not seen for this many days.
	PurgeAfterDays int `yaml:"purge_after_days"`

	// GCIntervalHours is how often the inactivity sweep runs.
	GCIntervalHours int `yaml:"gc_interval_hours"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains the app event feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for outcome metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains household API token settings.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMBERLINK_SECTION_KEY
// For example: EMBERLINK_DATABASE_PATH, EMBERLINK_HUB_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Household: Household{
			ID:   "household-001",
			Name: "Home",
		},
		Database: DatabaseConfig{
			Path:        "./data/emberlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Hub: HubConfig{
			Broker: HubBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "emberlink-core",
			},
			QoS:         1,
			TopicPrefix: "hub",
			Reconnect: HubReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Push: PushConfig{
			Timeout:          10,
			MaxAttempts:      5,
			InitialBackoffMS: 500,
			MaxBackoffMS:     30000,
		},
		Dispatch: DispatchConfig{
			QueueSize:            256,
			Workers:              4,
			EventDedupSize:       4096,
			CooldownMinutes:      15,
			RateCapPerHour:       10,
			ShutdownGraceSeconds: 15,
		},
		Registry: RegistryConfig{
			StaleAfterDays:  7,
			PurgeAfterDays:  30,
			GCIntervalHours: 24,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EMBERLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("EMBERLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Hub
	if v := os.Getenv("EMBERLINK_HUB_HOST"); v != "" {
		cfg.Hub.Broker.Host = v
	}
	if v := os.Getenv("EMBERLINK_HUB_USERNAME"); v != "" {
		cfg.Hub.Auth.Username = v
	}
	if v := os.Getenv("EMBERLINK_HUB_PASSWORD"); v != "" {
		cfg.Hub.Auth.Password = v
	}

	// Push gateway
	if v := os.Getenv("EMBERLINK_PUSH_GATEWAY_URL"); v != "" {
		cfg.Push.GatewayURL = v
	}

	// API
	if v := os.Getenv("EMBERLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("EMBERLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("EMBERLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Household validation
	if c.Household.ID == "" {
		errs = append(errs, "household.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Hub validation
	if c.Hub.QoS < 0 || c.Hub.QoS > 2 {
		errs = append(errs, "hub.qos must be 0, 1, or 2")
	}

	// Push gateway validation
	if c.Push.GatewayURL == "" {
		errs = append(errs, "push.gateway_url is required (set EMBERLINK_PUSH_GATEWAY_URL environment variable)")
	}
	if c.Push.MaxAttempts < 1 {
		errs = append(errs, "push.max_attempts must be at least 1")
	}

	// Dispatch validation
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, "dispatch.workers must be at least 1")
	}
	if c.Dispatch.RateCapPerHour < 1 {
		errs = append(errs, "dispatch.rate_cap_per_hour must be at least 1")
	}

	// Registry validation: a device must go stale before it can be purged
	if c.Registry.StaleAfterDays > c.Registry.PurgeAfterDays {
		errs = append(errs, "registry.stale_after_days must not exceed registry.purge_after_days")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// The API authenticates mobile devices into a household; a weak secret
	// would let an attacker register a device and receive safety alerts.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set EMBERLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Cooldown returns the per-entity re-alert cooldown as a Duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Dispatch.CooldownMinutes) * time.Minute
}

// StaleAfter returns the registry staleness threshold as a Duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Registry.StaleAfterDays) * 24 * time.Hour
}

// PurgeAfter returns the registry purge threshold as a Duration.
func (c *Config) PurgeAfter() time.Duration {
	return time.Duration(c.Registry.PurgeAfterDays) * 24 * time.Hour
}

// ShutdownGrace returns the dispatch drain window as a Duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Dispatch.ShutdownGraceSeconds) * time.Second
}
