package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for taskwatch
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Waiter   WaiterConfig   `mapstructure:"waiter"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// APIConfig describes how to reach the Task API
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	PasswordSealed string        `mapstructure:"password_sealed"` // AES-GCM sealed, see internal/crypto
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	PageLimit      int           `mapstructure:"page_limit"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// WaiterConfig holds the polling schedule
type WaiterConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxInterval   time.Duration `mapstructure:"max_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ChildTimeout  time.Duration `mapstructure:"child_timeout"`
	CacheCapacity int           `mapstructure:"cache_capacity"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"` // sqlite://path or postgres://...
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool          `mapstructure:"debug"`
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// KafkaConfig enables wait-event publishing when Brokers is non-empty
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig selects a shared Redis terminal-state cache when RedisAddress is
// set. Keys are scoped by api.base_url.
type CacheConfig struct {
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

const envPrefix = "TASKWATCH"

// New returns a viper instance with every default registered and
// TASKWATCH_* environment overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.token", "")
	v.SetDefault("api.username", "")
	v.SetDefault("api.password", "")
	v.SetDefault("api.password_sealed", "")
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.retry_count", 0)
	v.SetDefault("api.page_limit", 100)
	v.SetDefault("api.user_agent", "taskwatch/1.0")

	v.SetDefault("waiter.poll_interval", 100*time.Millisecond)
	v.SetDefault("waiter.max_interval", 10*time.Second)
	v.SetDefault("waiter.timeout", 30*time.Minute)
	v.SetDefault("waiter.child_timeout", 3600*time.Second)
	v.SetDefault("waiter.cache_capacity", 0)

	v.SetDefault("database.url", "sqlite://taskwatch.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.debug", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "taskwatch.waits")
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)

	v.SetDefault("cache.redis_address", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "taskwatch:state:")
	v.SetDefault("cache.ttl", 24*time.Hour)
}

// Load reads the optional config file at path into v and decodes the result.
// An empty path means defaults plus environment only.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the waiter cannot run with
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Waiter.PollInterval <= 0 {
		return fmt.Errorf("waiter.poll_interval must be positive, got %v", c.Waiter.PollInterval)
	}
	// a poll_interval above max_interval is clamped by the waiter
	if c.Waiter.MaxInterval <= 0 {
		return fmt.Errorf("waiter.max_interval must be positive, got %v", c.Waiter.MaxInterval)
	}
	if c.API.PageLimit <= 0 {
		return fmt.Errorf("api.page_limit must be positive, got %d", c.API.PageLimit)
	}
	return nil
}
