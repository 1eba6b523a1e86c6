package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Alarm      AlarmConfig      `yaml:"alarm"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	UplinkMaxBytes  int64   `yaml:"uplink_max_bytes"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the database connection and write-retry configuration.
type DatabaseConfig struct {
	Driver                 string        `yaml:"driver"` // sqlite or postgres
	DSN                    string        `yaml:"dsn"`
	MaxOpenConns           int           `yaml:"max_open_conns"`
	MaxIdleConns           int           `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int           `yaml:"conn_max_lifetime_minutes"`
	RetryAttempts          int           `yaml:"retry_attempts"`
	RetryDelayMillis       int           `yaml:"retry_delay_ms"`
	RetryDelay             time.Duration `yaml:"-"`
	LogQueries             bool          `yaml:"log_queries"`
}

// BroadcastConfig controls viewer fan-out.
type BroadcastConfig struct {
	Timezone            string        `yaml:"timezone"` // empty means the server's local zone
	ViewerBuffer        int           `yaml:"viewer_buffer"`
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	WriteTimeout        time.Duration `yaml:"-"`
}

// AlarmConfig controls the in-process alarm monitor.
type AlarmConfig struct {
	Disabled            bool          `yaml:"disabled"`
	TickIntervalSeconds int           `yaml:"tick_interval_seconds"`
	TickInterval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// MQTTConfig configures the optional uplink bridge and alert publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	UplinkTopic string `yaml:"uplink_topic"`
	AlertTopic  string `yaml:"alert_topic"`
	QOS         byte   `yaml:"qos"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() *Config {
	var cfg Config
	_ = cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.UplinkMaxBytes <= 0 {
		cfg.Server.UplinkMaxBytes = 10 << 10
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}

	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
		}
		cfg.Database.DSN = "gps_data.db"
	}
	if cfg.Database.RetryAttempts < 0 {
		return fmt.Errorf("database.retry_attempts must not be negative")
	}
	if cfg.Database.RetryAttempts == 0 {
		cfg.Database.RetryAttempts = 5
	}
	if cfg.Database.RetryDelayMillis <= 0 {
		cfg.Database.RetryDelayMillis = 100
	}
	cfg.Database.RetryDelay = time.Duration(cfg.Database.RetryDelayMillis) * time.Millisecond

	if cfg.Broadcast.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Broadcast.Timezone); err != nil {
			return fmt.Errorf("invalid broadcast.timezone: %w", err)
		}
	}
	if cfg.Broadcast.ViewerBuffer <= 0 {
		cfg.Broadcast.ViewerBuffer = 16
	}
	if cfg.Broadcast.WriteTimeoutSeconds <= 0 {
		cfg.Broadcast.WriteTimeoutSeconds = 5
	}
	cfg.Broadcast.WriteTimeout = time.Duration(cfg.Broadcast.WriteTimeoutSeconds) * time.Second

	if cfg.Alarm.TickIntervalSeconds <= 0 {
		cfg.Alarm.TickIntervalSeconds = 60
	}
	cfg.Alarm.TickInterval = time.Duration(cfg.Alarm.TickIntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "trackerd"
	}
	if cfg.MQTT.UplinkTopic == "" {
		cfg.MQTT.UplinkTopic = "tracker/uplink"
	}
	if cfg.MQTT.AlertTopic == "" {
		cfg.MQTT.AlertTopic = "tracker/alerts"
	}
	if cfg.MQTT.QOS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return nil
}

// Location returns the zone used to render broadcast timestamps.
func (b BroadcastConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
