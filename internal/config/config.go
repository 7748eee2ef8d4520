package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	apperrors "github.com/axellelanca/shortlink/internal/errors"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the main structure mapping the entire application configuration.
// This struct uses mapstructure tags to map YAML keys and environment variables to Go struct fields.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"` // Base URL for building full short links
	Production      bool          `mapstructure:"production"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the relational store and sizes its connection pool.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Name            string        `mapstructure:"name"`   // SQLite database file name
	DSN             string        `mapstructure:"dsn"`    // Postgres connection string
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig configures the Redis resolution cache.
type CacheConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // Budget for the background write-back
}

// NotifyConfig bounds the webhook dispatcher.
type NotifyConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RateLimitConfig configures the per-IP token bucket.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// CORSConfig lists allowed origins, comma separated. "*" allows all.
type CORSConfig struct {
	Origins string `mapstructure:"origins"`
}

// MonitorConfig schedules the fallback URL health monitor.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron spec, e.g. "@every 5m"
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogConfig controls the logrus output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// AllowedOrigins splits the configured origins list.
func (c CORSConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.Origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.production", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.name", "shortlink.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.pool_size", 20)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.key_prefix", "urls:")
	v.SetDefault("cache.write_timeout", 2*time.Second)

	v.SetDefault("notify.max_concurrent", 100)
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.connect_timeout", 5*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 50)
	v.SetDefault("ratelimit.idle_ttl", 15*time.Minute)

	v.SetDefault("cors.origins", "*")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.schedule", "@every 5m")
	v.SetDefault("monitor.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig loads the application configuration using Viper.
// A .env file in the working directory is applied to the environment first,
// then ./configs/config.yaml (optional), then environment variables
// ("cache.ttl" is read from CACHE_TTL).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logrus.Debug("Config file not found, using defaults and environment")
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Name == "" {
			return apperrors.ErrConfigLoad{Key: "database.name", Reason: "required for sqlite"}
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return apperrors.ErrConfigLoad{Key: "database.dsn", Reason: "required for postgres"}
		}
	default:
		return apperrors.ErrConfigLoad{Key: "database.driver", Reason: fmt.Sprintf("unsupported value %q", c.Database.Driver)}
	}
	if c.Notify.MaxConcurrent < 1 {
		return apperrors.ErrConfigLoad{Key: "notify.max_concurrent", Reason: "must be >= 1"}
	}
	if c.Cache.TTL <= 0 {
		return apperrors.ErrConfigLoad{Key: "cache.ttl", Reason: "must be > 0"}
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return apperrors.ErrConfigLoad{Key: "ratelimit", Reason: "rps and burst must be > 0 when enabled"}
	}
	return nil
}
