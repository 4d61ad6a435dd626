package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // site zones must resolve on minimal container images

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for knxlog.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	KNXD     KNXDConfig     `yaml:"knxd"`
	Registry RegistryConfig `yaml:"registry"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID string `yaml:"id"`

	// Timezone is the IANA zone event timestamps are expressed in.
	Timezone string `yaml:"timezone"`
}

// KNXDConfig contains knxd connection settings.
type KNXDConfig struct {
	// Connection is "unix:///run/knxd" or "tcp://host:6720".
	Connection        string `yaml:"connection"`
	ConnectTimeout    int    `yaml:"connect_timeout"`
	ReadTimeout       int    `yaml:"read_timeout"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
}

// RegistryConfig points at the group address book.
type RegistryConfig struct {
	Path string `yaml:"path"`

	// Format is "csv" (ETS export) or "yaml". Empty picks by file extension.
	Format string `yaml:"format"`

	// Charset of the CSV export, e.g. "windows-1252" or "utf-8".
	Charset string `yaml:"charset"`
}

// DatabaseConfig contains storage backend settings.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "mysql".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// DSN is the MySQL data source name, e.g. "user:pass@tcp(db:3306)/knx".
	DSN string `yaml:"dsn"`
}

// PipelineConfig tunes the persistence engine. Durations are in seconds.
type PipelineConfig struct {
	PollInterval      int `yaml:"poll_interval"`
	ReconnectInterval int `yaml:"reconnect_interval"`
	HealthTimeout     int `yaml:"health_timeout"`
	RetentionMonths   int `yaml:"retention_months"`
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

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
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
// Environment variables follow the pattern: KNXLOG_SECTION_KEY
// For example: KNXLOG_DATABASE_DSN, KNXLOG_KNXD_CONNECTION
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
		Site: SiteConfig{
			ID:       "site-001",
			Timezone: "Europe/Berlin",
		},
		KNXD: KNXDConfig{
			Connection:        "unix:///run/knxd",
			ConnectTimeout:    10,
			ReadTimeout:       30,
			ReconnectInterval: 5,
		},
		Registry: RegistryConfig{
			Path:    "./configs/groupaddresses.csv",
			Charset: "windows-1252",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			Path:        "./data/knxlog.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Pipeline: PipelineConfig{
			PollInterval:      5,
			ReconnectInterval: 600,
			HealthTimeout:     5,
			RetentionMonths:   3,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxlog",
			},
			QoS:         1,
			TopicPrefix: "knxlog",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KNXLOG_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Site
	if v := os.Getenv("KNXLOG_SITE_TIMEZONE"); v != "" {
		cfg.Site.Timezone = v
	}

	// knxd
	if v := os.Getenv("KNXLOG_KNXD_CONNECTION"); v != "" {
		cfg.KNXD.Connection = v
	}

	// Registry
	if v := os.Getenv("KNXLOG_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}

	// Database
	if v := os.Getenv("KNXLOG_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("KNXLOG_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KNXLOG_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Pipeline
	if v, ok := envInt("KNXLOG_PIPELINE_RECONNECT_INTERVAL"); ok {
		cfg.Pipeline.ReconnectInterval = v
	}

	// MQTT
	if v := os.Getenv("KNXLOG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KNXLOG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KNXLOG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KNXLOG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("KNXLOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// All problems are reported together rather than one at a time.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA zone", c.Site.Timezone))
	}

	if c.KNXD.Connection == "" {
		errs = append(errs, "knxd.connection is required")
	} else if !strings.HasPrefix(c.KNXD.Connection, "unix://") && !strings.HasPrefix(c.KNXD.Connection, "tcp://") {
		errs = append(errs, "knxd.connection must start with unix:// or tcp://")
	}

	if c.Registry.Path == "" {
		errs = append(errs, "registry.path is required")
	}
	switch c.Registry.Format {
	case "", "csv", "yaml":
	default:
		errs = append(errs, "registry.format must be csv or yaml")
	}

	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validatePipeline()...)

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDatabase() []string {
	var errs []string
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite3")
		}
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for mysql (set KNXLOG_DATABASE_DSN)")
		}
	default:
		errs = append(errs, "database.driver must be sqlite3 or mysql")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Pipeline.PollInterval < 1 {
		errs = append(errs, "pipeline.poll_interval must be at least 1 second")
	}
	if c.Pipeline.ReconnectInterval < 1 {
		errs = append(errs, "pipeline.reconnect_interval must be at least 1 second")
	}
	if c.Pipeline.HealthTimeout < 1 {
		errs = append(errs, "pipeline.health_timeout must be at least 1 second")
	}
	if c.Pipeline.RetentionMonths < 1 {
		errs = append(errs, "pipeline.retention_months must be at least 1")
	}
	return errs
}

// MinProductionReconnectInterval is the production lower bound for
// pipeline.reconnect_interval, in seconds.
const MinProductionReconnectInterval = 600

// Warnings returns settings that are valid but unsuitable for production.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Pipeline.ReconnectInterval < MinProductionReconnectInterval {
		warnings = append(warnings, fmt.Sprintf(
			"pipeline.reconnect_interval is %ds, below the %ds production minimum",
			c.Pipeline.ReconnectInterval, MinProductionReconnectInterval))
	}
	return warnings
}

// Location returns the site time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollInterval returns the queue poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollInterval) * time.Second
}

// ReconnectInterval returns the storage reconnect interval as a Duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Pipeline.ReconnectInterval) * time.Second
}

// HealthTimeout returns the storage ping timeout as a Duration.
func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.Pipeline.HealthTimeout) * time.Second
}
