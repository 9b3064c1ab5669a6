// Package config loads settings for the schedule server and console.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCHEDULE_SERVER_PORT
const EnvPrefix = "SCHEDULE"

// Persistence modes for the console
const (
	PersistLocal  = "local"
	PersistRemote = "remote"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Console ConsoleConfig `mapstructure:"console"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ContextPath    string        `mapstructure:"context_path"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
	// RunRetention is how long task runs are kept; zero keeps them forever
	RunRetention time.Duration `mapstructure:"run_retention"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Retries           int           `mapstructure:"retries"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
}

type ConsoleConfig struct {
	Persist  string `mapstructure:"persist"`
	PageSize int    `mapstructure:"page_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "schedule-service")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.context_path", "/taskservice")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.health_interval", 10*time.Second)

	v.SetDefault("storage.path", "schedules.db")
	v.SetDefault("storage.run_retention", 7*24*time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("gateway.base_url", "http://localhost:8080/taskservice")
	v.SetDefault("gateway.timeout", 0)
	v.SetDefault("gateway.retries", 0)
	v.SetDefault("gateway.retry_initial_delay", 200*time.Millisecond)
	v.SetDefault("gateway.retry_max_delay", 5*time.Second)

	v.SetDefault("console.persist", PersistLocal)
	v.SetDefault("console.page_size", 10)
}

// Load reads configuration from file (or ./config/config.yaml when file is
// empty), then applies SCHEDULE_* environment overrides. A missing default
// file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.ContextPath != "" && !strings.HasPrefix(c.Server.ContextPath, "/") {
		return fmt.Errorf("server context path %q must start with /", c.Server.ContextPath)
	}
	if c.Server.HealthInterval <= 0 {
		return fmt.Errorf("invalid server health interval %s", c.Server.HealthInterval)
	}
	switch c.Console.Persist {
	case PersistLocal, PersistRemote:
	default:
		return fmt.Errorf("invalid console persist mode %q, must be %s or %s", c.Console.Persist, PersistLocal, PersistRemote)
	}
	if c.Console.PageSize < 1 {
		return fmt.Errorf("invalid console page size %d", c.Console.PageSize)
	}
	if c.Storage.RunRetention < 0 {
		return fmt.Errorf("invalid storage run retention %s", c.Storage.RunRetention)
	}
	if c.Gateway.Retries < 0 {
		return fmt.Errorf("invalid gateway retries %d", c.Gateway.Retries)
	}
	return nil
}
