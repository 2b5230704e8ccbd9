package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Link types for Device.Link.Type.
const (
	LinkSimulated = "simulated"
	LinkMQTT      = "mqtt"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root configuration for the integration core.
// It is loaded from YAML and can be overridden by GRAYLOGIC_* variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// DatabaseConfig configures the SQLite snapshot mirror.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig configures the Redis snapshot mirror.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// MQTTConfig contains MQTT broker connection settings. The broker carries
// device traffic for mqtt links and state republishing.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains broker address and client identity.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff bounds.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// WebSocketConfig contains status stream settings.
type WebSocketConfig struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// InfluxDBConfig configures operational telemetry.
type InfluxDBConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	Org               string        `yaml:"org"`
	Bucket            string        `yaml:"bucket"`
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// BridgeConfig holds connection retry settings shared by all bridges.
type BridgeConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// AdapterConfig holds command and polling settings shared by all adapters.
type AdapterConfig struct {
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxEventsPerPoll int           `yaml:"max_events_per_poll"`
}

// DeviceConfig describes one managed device.
type DeviceConfig struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Category string     `yaml:"category"` // light, thermostat
	Backend  string     `yaml:"backend"`  // lumen, knx, hue
	Link     LinkConfig `yaml:"link"`

	// Range bounds thermostat setpoints. Zero means the default 5..30 °C.
	Range *RangeConfig `yaml:"range,omitempty"`
}

// RangeConfig is a closed setpoint interval in °C.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// LinkConfig selects how a backend reaches its device.
type LinkConfig struct {
	Type string `yaml:"type"` // simulated, mqtt

	// Topic overrides the MQTT device topic. Defaults to
	// <prefix>/device/<backend>/<id>.
	Topic string `yaml:"topic,omitempty"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// Loading order:
//  1. Built-in defaults
//  2. YAML file values
//  3. GRAYLOGIC_* environment variables
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with defaults for every section and no
// devices.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/integration.db",
			WALMode:     true,
			BusyTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-integration",
			},
			QoS:         1,
			TopicPrefix: "graylogic",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  15 * time.Second,
				Write: 15 * time.Second,
				Idle:  time.Minute,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			SendBuffer:     64,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:         100,
			FlushInterval:     10 * time.Second,
			TelemetryInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "graylogic",
		},
		Bridge: BridgeConfig{
			MaxRetries:     3,
			RetryBackoff:   200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			AckTimeout:     5 * time.Second,
			ReceiveTimeout: 250 * time.Millisecond,
		},
		Adapter: AdapterConfig{
			CommandTimeout:   5 * time.Second,
			PollInterval:     500 * time.Millisecond,
			MaxEventsPerPoll: 32,
		},
	}
}

// applyEnvOverrides applies GRAYLOGIC_SECTION_KEY variables. Secrets should
// always come from here rather than the file.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	setString("GRAYLOGIC_LOG_LEVEL", &cfg.Logging.Level)

	setBool("GRAYLOGIC_DATABASE_ENABLED", &cfg.Database.Enabled)
	setString("GRAYLOGIC_DATABASE_PATH", &cfg.Database.Path)

	setBool("GRAYLOGIC_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("GRAYLOGIC_REDIS_ADDR", &cfg.Redis.Addr)
	setString("GRAYLOGIC_REDIS_PASSWORD", &cfg.Redis.Password)

	setBool("GRAYLOGIC_MQTT_ENABLED", &cfg.MQTT.Enabled)
	setString("GRAYLOGIC_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("GRAYLOGIC_MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("GRAYLOGIC_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("GRAYLOGIC_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	setString("GRAYLOGIC_API_HOST", &cfg.API.Host)
	setInt("GRAYLOGIC_API_PORT", &cfg.API.Port)

	setBool("GRAYLOGIC_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("GRAYLOGIC_INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("GRAYLOGIC_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
}

// Validate checks the whole configuration and reports every problem at
// once. The returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Site.ID == "" {
		add("site.id is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		add("database.path is required when database is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			add("mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			add("mqtt.topic_prefix must be set and contain no wildcards")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		add("api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			add("influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
		if c.InfluxDB.TelemetryInterval <= 0 {
			add("influxdb.telemetry_interval must be positive")
		}
	}

	if c.Bridge.MaxRetries < 1 {
		add("bridge.max_retries must be at least 1")
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Devices))

	for i, d := range c.Devices {
		where := fmt.Sprintf("devices[%d]", i)
		if d.ID != "" {
			where = fmt.Sprintf("devices[%d] (%s)", i, d.ID)
		}

		switch {
		case d.ID == "":
			errs = append(errs, where+": id is required")
		case seen[d.ID]:
			errs = append(errs, where+": duplicate id")
		}
		seen[d.ID] = true

		if d.Category != "light" && d.Category != "thermostat" {
			errs = append(errs, fmt.Sprintf("%s: unknown category %q", where, d.Category))
		}
		switch d.Backend {
		case "lumen", "knx":
		case "hue":
			if d.Category == "thermostat" {
				errs = append(errs, where+": hue backend does not support thermostats")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown backend %q", where, d.Backend))
		}

		switch d.Link.Type {
		case LinkSimulated:
		case LinkMQTT:
			if !c.MQTT.Enabled {
				errs = append(errs, where+": mqtt link requires mqtt.enabled")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown link type %q", where, d.Link.Type))
		}

		if d.Range != nil {
			if d.Category != "thermostat" {
				errs = append(errs, where+": range is only valid for thermostats")
			}
			if math.IsNaN(d.Range.Min) || math.IsNaN(d.Range.Max) || d.Range.Min >= d.Range.Max {
				errs = append(errs, where+": range.min must be below range.max")
			}
		}
	}
	return errs
}

// Device returns the device configuration with the given id.
func (c *Config) Device(id string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// Address returns the API listen address.
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
