package config

import "time"

// Token backend selection.
const (
	TokenBackendMemory = "memory"
	TokenBackendRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ConsoleLog        bool          `mapstructure:"console_log" yaml:"console_log"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	TokenBackend      string        `mapstructure:"token_backend" yaml:"token_backend"`
	RedisAddr         string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	DeviceSecret      string        `mapstructure:"device_secret" yaml:"device_secret"`
	DeviceIssuer      string        `mapstructure:"device_issuer" yaml:"device_issuer"`
	HealthInterval    time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	SendQueueSize     int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "collar.db",
		LogLevel:          "info",
		ConsoleLog:        true,
		TokenTTL:          24 * time.Hour,
		TokenBackend:      TokenBackendMemory,
		RedisAddr:         "localhost:6379",
		DeviceIssuer:      "collar-relay",
		HealthInterval:    30 * time.Second,
		SendQueueSize:     64,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.TokenBackend != "" {
		c.TokenBackend = other.TokenBackend
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.DeviceSecret != "" {
		c.DeviceSecret = other.DeviceSecret
	}
	if other.DeviceIssuer != "" {
		c.DeviceIssuer = other.DeviceIssuer
	}
	if other.HealthInterval != 0 {
		c.HealthInterval = other.HealthInterval
	}
	if other.SendQueueSize != 0 {
		c.SendQueueSize = other.SendQueueSize
	}
}
