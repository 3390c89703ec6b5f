package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and Load for unusable values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Protocols understood by the CLI.
const (
	ProtocolMemory = "memory"
	ProtocolRedis  = "redis"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	WorkerInterval time.Duration `yaml:"worker_interval" default:"1ms"`
	QueueCapacity  uint32        `yaml:"queue_capacity" default:"1024"`
	MessageTimeout time.Duration `yaml:"message_timeout" default:"0s"`
	BatchSize      int           `yaml:"batch_size" default:"16"`

	Protocol         string `yaml:"protocol" default:"memory"`
	ConnectionString string `yaml:"connection_string"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig selects the redis server used by the redis protocol.
type RedisConfig struct {
	Address   string `yaml:"address" default:"localhost:6379"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" default:"0"`
	Namespace string `yaml:"namespace" default:"hub"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Protocol {
	case ProtocolMemory, ProtocolRedis:
	default:
		return fmt.Errorf("%w: unknown protocol %q (must be %s or %s)", ErrInvalidConfig, c.Protocol, ProtocolMemory, ProtocolRedis)
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("%w: worker_interval must be positive", ErrInvalidConfig)
	}
	if c.QueueCapacity == 0 {
		return fmt.Errorf("%w: queue_capacity must be positive", ErrInvalidConfig)
	}
	if c.MessageTimeout < 0 {
		return fmt.Errorf("%w: message_timeout must not be negative", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	}
	if c.Protocol == ProtocolRedis && c.Redis.Address == "" {
		return fmt.Errorf("%w: redis.address is required for the redis protocol", ErrInvalidConfig)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("%w: log level %q (must be debug, info, warn, or error)", ErrInvalidConfig, c.LogLevel)
	}
}

// NewLogger creates a configured logger instance. An unknown level yields
// an info logger.
func (c *Config) NewLogger() *logrus.Logger {
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
