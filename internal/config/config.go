// Package config loads the relay daemon's configuration. Core components
// never read configuration themselves; the daemon passes plain values into
// their constructors.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Latency   LatencyConfig   `mapstructure:"latency"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	MetricsAddr    string   `mapstructure:"metrics_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	ProducerTokens  []string `mapstructure:"producer_tokens"`
	ConsumerTokens  []string `mapstructure:"consumer_tokens"`
	CommandDenylist []string `mapstructure:"command_denylist"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LatencyConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
	ThresholdMs    float64       `mapstructure:"threshold_ms"`
}

type LimitsConfig struct {
	MaxMessageBytes   int64   `mapstructure:"max_message_bytes"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst"`
	RateLimitEnabled  bool    `mapstructure:"rate_limit_enabled"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("bridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("auth.command_denylist", []string{"stop", "restart", "reload", "op", "deop", "ban"})
	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("latency.report_interval", "60s")
	v.SetDefault("latency.threshold_ms", 100)
	v.SetDefault("limits.max_message_bytes", 1048576)
	v.SetDefault("limits.rate_limit_per_sec", 100)
	v.SetDefault("limits.rate_limit_burst", 200)
	v.SetDefault("limits.rate_limit_enabled", true)
	v.SetDefault("logging.level", "info")
}

func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if len(c.Auth.ProducerTokens) == 0 {
		return fmt.Errorf("auth.producer_tokens must not be empty")
	}
	if len(c.Auth.ConsumerTokens) == 0 {
		return fmt.Errorf("auth.consumer_tokens must not be empty")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	return nil
}
