// Package config loads the exchange configuration from YAML, defaults and
// EXCHANGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hakimelghazi/energy-exchange/internal/logging"
)

type Config struct {
	HTTP    HTTPConfig     `mapstructure:"http" yaml:"http"`
	Engine  EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Ledger  LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
	Journal JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Kafka   KafkaConfig    `mapstructure:"kafka" yaml:"kafka"`
	Ticker  TickerConfig   `mapstructure:"ticker" yaml:"ticker"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // submissions per user per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type EngineConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

type LedgerConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // memory or postgres
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
	Migrate  bool   `mapstructure:"migrate" yaml:"migrate"`
}

type JournalConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"` // empty disables the fallback journal
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers     []string `mapstructure:"brokers" yaml:"brokers"`
	Topic       string   `mapstructure:"topic" yaml:"topic"`
	MaxAttempts int      `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type TickerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.request_timeout", 3*time.Second)
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.rate_burst", 40)

	v.SetDefault("engine.queue_size", 1024)

	v.SetDefault("ledger.queue_size", 1024)
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.attempt_timeout", 500*time.Millisecond)
	v.SetDefault("ledger.initial_backoff", 50*time.Millisecond)
	v.SetDefault("ledger.max_backoff", time.Second)
	v.SetDefault("ledger.reconcile_interval", 30*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.migrate", true)

	v.SetDefault("journal.dir", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "energy-exchange.events")
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("ticker.interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/exchange.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.with_caller", false)
}

// Load reads path, if given, on top of the defaults and applies EXCHANGE_*
// environment overrides, e.g. EXCHANGE_STORE_DRIVER=postgres.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("EXCHANGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv("DATABASE_URL")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn (or DATABASE_URL) is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Engine.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize))
	}
	if c.Ledger.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("ledger.queue_size must be positive, got %d", c.Ledger.QueueSize))
	}
	if c.Ledger.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("ledger.max_attempts must be positive, got %d", c.Ledger.MaxAttempts))
	}
	if c.Ledger.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ledger.attempt_timeout must be positive, got %s", c.Ledger.AttemptTimeout))
	} else if c.HTTP.RequestTimeout > 0 && c.Ledger.MaxAttempts > 0 &&
		c.Ledger.AttemptTimeout*time.Duration(c.Ledger.MaxAttempts) >= c.HTTP.RequestTimeout {
		// a hung store must fail over to the journal before the request times out
		errs = append(errs, fmt.Errorf("ledger.attempt_timeout x max_attempts (%s) must stay under http.request_timeout (%s)",
			c.Ledger.AttemptTimeout*time.Duration(c.Ledger.MaxAttempts), c.HTTP.RequestTimeout))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka needs brokers and a topic when enabled"))
	}
	return errors.Join(errs...)
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
