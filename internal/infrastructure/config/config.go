package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Smart Water Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Accounts    []AccountConfig   `yaml:"accounts"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Cache       CacheConfig       `yaml:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AccountConfig holds the credentials of one Smart Water cloud account and
// the profiles that should be followed with it.
type AccountConfig struct {
	Username string          `yaml:"username"`
	Password string          `yaml:"password"`
	Profiles []ProfileConfig `yaml:"profiles"`
}

// ProfileConfig identifies one profile within an account.
type ProfileConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CloudConfig contains the Smart Water cloud endpoints.
type CloudConfig struct {
	BaseURL string          `yaml:"base_url"`
	Timeout int             `yaml:"timeout"`
	Push    CloudPushConfig `yaml:"push"`
}

// CloudPushConfig configures the push channel of the cloud.
// Push is optional; polling alone keeps the data current.
type CloudPushConfig struct {
	Enabled bool       `yaml:"enabled"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

// FetchConfig contains the fetch orchestration settings.
type FetchConfig struct {
	// RetryDelay is the pause in seconds before a method is retried.
	RetryDelay int `yaml:"retry_delay"`

	// PollSchedule is a cron expression (standard or @every form).
	PollSchedule string `yaml:"poll_schedule"`

	// ProfileRefresh is the minimum age in seconds before the profile is fetched again.
	ProfileRefresh int `yaml:"profile_refresh"`
}

// CacheConfig contains the persisted cache settings.
type CacheConfig struct {
	Dir         string `yaml:"dir"`
	Key         string `yaml:"key"`
	WritePeriod int    `yaml:"write_period"`
}

// CoordinatorConfig contains topology change and task queue settings.
type CoordinatorConfig struct {
	ReloadDelay    int `yaml:"reload_delay"`
	ReloadDelayMax int `yaml:"reload_delay_max"`
	TaskQueue      int `yaml:"task_queue"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTWATER_SECTION_KEY
// For example: SMARTWATER_DATABASE_PATH, SMARTWATER_CLOUD_BASE_URL
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL: "https://api.smartwater.com.au",
			Timeout: 30,
			Push: CloudPushConfig{
				MQTT: MQTTConfig{
					Broker: MQTTBrokerConfig{
						Port:     8883,
						TLS:      true,
						ClientID: "smartwater-push",
					},
					QoS: 1,
					Reconnect: MQTTReconnectConfig{
						InitialDelay: 1,
						MaxDelay:     60,
					},
				},
			},
		},
		Fetch: FetchConfig{
			RetryDelay:     5,
			PollSchedule:   "@every 30s",
			ProfileRefresh: 24 * 60 * 60,
		},
		Cache: CacheConfig{
			Dir:         "./data/.storage",
			Key:         "cache",
			WritePeriod: 300,
		},
		Coordinator: CoordinatorConfig{
			ReloadDelay:    60 * 60,
			ReloadDelayMax: 24 * 60 * 60,
			TaskQueue:      16,
		},
		Database: DatabaseConfig{
			Path:        "./data/smartwater.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartwater-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTWATER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud
	if v := os.Getenv("SMARTWATER_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}

	// Credentials of the first account, for single account deployments
	if len(cfg.Accounts) > 0 {
		if v := os.Getenv("SMARTWATER_USERNAME"); v != "" {
			cfg.Accounts[0].Username = v
		}
		if v := os.Getenv("SMARTWATER_PASSWORD"); v != "" {
			cfg.Accounts[0].Password = v
		}
	}

	// Cache
	if v := os.Getenv("SMARTWATER_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("SMARTWATER_CACHE_WRITE_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.WritePeriod = n
		}
	}

	// Database
	if v := os.Getenv("SMARTWATER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SMARTWATER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMARTWATER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTWATER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SMARTWATER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SMARTWATER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Accounts validation
	seen := make(map[string]bool)
	for i, acc := range c.Accounts {
		if acc.Username == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].username is required", i))
		}
		if acc.Password == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].password is required (set SMARTWATER_PASSWORD environment variable)", i))
		}
		for j, p := range acc.Profiles {
			if p.ID == "" {
				errs = append(errs, fmt.Sprintf("accounts[%d].profiles[%d].id is required", i, j))
				continue
			}
			if seen[p.ID] {
				errs = append(errs, fmt.Sprintf("accounts[%d].profiles[%d].id %q is configured twice", i, j, p.ID))
			}
			seen[p.ID] = true
		}
	}

	// Cloud validation
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Push.Enabled && c.Cloud.Push.MQTT.Broker.Host == "" {
		errs = append(errs, "cloud.push.mqtt.broker.host is required when push is enabled")
	}
	if c.Cloud.Push.MQTT.QoS < 0 || c.Cloud.Push.MQTT.QoS > 2 {
		errs = append(errs, "cloud.push.mqtt.qos must be 0, 1, or 2")
	}

	// Fetch validation
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, "fetch.retry_delay must not be negative")
	}
	if _, err := cron.ParseStandard(c.Fetch.PollSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("fetch.poll_schedule is invalid: %v", err))
	}

	// Cache validation
	if c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required")
	}
	if c.Cache.Key == "" {
		errs = append(errs, "cache.key is required")
	}
	if c.Cache.WritePeriod < 0 {
		errs = append(errs, "cache.write_period must not be negative")
	}

	// Coordinator validation
	if c.Coordinator.ReloadDelay <= 0 {
		errs = append(errs, "coordinator.reload_delay must be positive")
	}
	if c.Coordinator.ReloadDelayMax < c.Coordinator.ReloadDelay {
		errs = append(errs, "coordinator.reload_delay_max must not be less than coordinator.reload_delay")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
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

// GetRetryDelay returns the fetch retry delay as a Duration.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Fetch.RetryDelay) * time.Second
}

// GetProfileRefresh returns the profile refresh interval as a Duration.
func (c *Config) GetProfileRefresh() time.Duration {
	return time.Duration(c.Fetch.ProfileRefresh) * time.Second
}

// GetCacheWritePeriod returns the minimum interval between cache writes.
func (c *Config) GetCacheWritePeriod() time.Duration {
	return time.Duration(c.Cache.WritePeriod) * time.Second
}

// GetReloadDelay returns the base delay before topology changes are checked.
func (c *Config) GetReloadDelay() time.Duration {
	return time.Duration(c.Coordinator.ReloadDelay) * time.Second
}

// GetReloadDelayMax returns the cap for the doubling reload delay.
func (c *Config) GetReloadDelayMax() time.Duration {
	return time.Duration(c.Coordinator.ReloadDelayMax) * time.Second
}

// GetCloudTimeout returns the HTTP timeout for cloud requests.
func (c *Config) GetCloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}
