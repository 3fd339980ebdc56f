package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Publisher names accepted by dispatch.publisher.
const (
	PublisherLog    = "log"
	PublisherStdout = "stdout"
	PublisherRedis  = "redis"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	IngestPort  int    `mapstructure:"ingest_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HeartbeatConfig overrides the heartbeat interval table. Keys are the
// session age in whole minutes, values the period in seconds.
type HeartbeatConfig struct {
	Intervals map[string]int `mapstructure:"intervals"`
}

// DispatchConfig defines how emitted events leave the process
type DispatchConfig struct {
	Publisher     string `mapstructure:"publisher"`
	BatchSize     int    `mapstructure:"batch_size"`
	FlushInterval string `mapstructure:"flush_interval"`
	MaxPending    int    `mapstructure:"max_pending"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection and event queue settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	QueueKey     string `mapstructure:"queue_key"`
	MaxLen       int64  `mapstructure:"max_len"`
}

// RegistryConfig bounds the number and lifetime of live media sessions
type RegistryConfig struct {
	MaxSessions int    `mapstructure:"max_sessions"`
	IdleTimeout string `mapstructure:"idle_timeout"`
}

// AuthConfig enables bearer token checks on the ingest API. An empty
// secret leaves the API open.
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenExpiration string `mapstructure:"token_expiration"`
}

// Enabled reports whether ingest requests must carry a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("AVTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.ingest_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Dispatch defaults
	v.SetDefault("dispatch.publisher", PublisherLog)
	v.SetDefault("dispatch.batch_size", 100)
	v.SetDefault("dispatch.flush_interval", "1s")
	v.SetDefault("dispatch.max_pending", 10000)

	// Storage defaults
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.queue_key", "avtrack:events:queue")
	v.SetDefault("storage.redis.max_len", 100000)

	// Registry defaults
	v.SetDefault("registry.max_sessions", 10000)
	v.SetDefault("registry.idle_timeout", "30m")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiration", "24h")

	// heartbeat.intervals has no default here: an empty table selects the
	// built-in one, and a viper map default would be merged into user tables.
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.IngestPort <= 0 || cfg.Server.IngestPort > 65535 {
		return fmt.Errorf("invalid ingest port: %d", cfg.Server.IngestPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Dispatch.Publisher {
	case PublisherLog, PublisherStdout, PublisherRedis:
	default:
		return fmt.Errorf("unknown dispatch publisher %q (want %s, %s or %s)",
			cfg.Dispatch.Publisher, PublisherLog, PublisherStdout, PublisherRedis)
	}
	if cfg.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch batch_size must be positive, got %d", cfg.Dispatch.BatchSize)
	}
	if _, err := time.ParseDuration(cfg.Dispatch.FlushInterval); err != nil {
		return fmt.Errorf("invalid dispatch flush_interval: %w", err)
	}
	if cfg.Dispatch.MaxPending < cfg.Dispatch.BatchSize {
		return fmt.Errorf("dispatch max_pending (%d) must be at least batch_size (%d)",
			cfg.Dispatch.MaxPending, cfg.Dispatch.BatchSize)
	}

	if _, err := cfg.Heartbeat.Table(); err != nil {
		return err
	}

	if cfg.Registry.MaxSessions <= 0 {
		return fmt.Errorf("registry max_sessions must be positive, got %d", cfg.Registry.MaxSessions)
	}
	if cfg.Registry.IdleTimeout != "" {
		if _, err := time.ParseDuration(cfg.Registry.IdleTimeout); err != nil {
			return fmt.Errorf("invalid registry idle_timeout: %w", err)
		}
	}

	if _, err := time.ParseDuration(cfg.Auth.TokenExpiration); err != nil {
		return fmt.Errorf("invalid auth token_expiration: %w", err)
	}

	if cfg.Storage.Redis.QueueKey == "" {
		return fmt.Errorf("storage.redis.queue_key is required")
	}

	return nil
}

// Table parses the interval overrides. It returns nil when none are set.
func (h HeartbeatConfig) Table() (map[int]int, error) {
	if len(h.Intervals) == 0 {
		return nil, nil
	}

	table := make(map[int]int, len(h.Intervals))
	for key, seconds := range h.Intervals {
		age, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid heartbeat interval key %q: must be whole minutes", key)
		}
		if age < 0 {
			return nil, fmt.Errorf("invalid heartbeat interval key %q: must not be negative", key)
		}
		if seconds <= 0 {
			return nil, fmt.Errorf("invalid heartbeat interval for minute %d: %d", age, seconds)
		}
		table[age] = seconds
	}
	return table, nil
}

// ValidKeys returns the set of recognised configuration keys.
func ValidKeys() map[string]bool {
	return map[string]bool{
		// Server
		"server.bind_address": true,
		"server.ingest_port":  true,
		"server.metrics_port": true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Dispatch
		"dispatch.publisher":      true,
		"dispatch.batch_size":     true,
		"dispatch.flush_interval": true,
		"dispatch.max_pending":    true,

		// Storage
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,
		"storage.redis.queue_key":      true,
		"storage.redis.max_len":        true,

		// Registry
		"registry.max_sessions": true,
		"registry.idle_timeout": true,

		// Auth
		"auth.jwt_secret":       true,
		"auth.token_expiration": true,
	}
}

// IsValidKey reports whether key is recognised. Interval table entries are
// open-ended and matched by prefix.
func IsValidKey(key string) bool {
	if strings.HasPrefix(key, "heartbeat.intervals.") {
		return true
	}
	return ValidKeys()[key]
}
