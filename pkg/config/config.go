package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Postgres struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		SSLMode      string        `yaml:"ssl_mode"`
		MaxOpenConns int           `yaml:"max_open_conns"`
		MaxIdleConns int           `yaml:"max_idle_conns"`
		ConnLifetime time.Duration `yaml:"conn_lifetime"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		SignalTopic string   `yaml:"signal_topic"`
		ReportTopic string   `yaml:"report_topic"`
		Consumer    struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Channel struct {
		BaseURL        string        `yaml:"base_url"`
		Token          string        `yaml:"token"`
		Timeout        time.Duration `yaml:"timeout"`
		RatePerSecond  float64       `yaml:"rate_per_second"`
		Burst          int           `yaml:"burst"`
		BreakerEnabled bool          `yaml:"breaker_enabled"`
	} `yaml:"channel"`
	Dispatch struct {
		Interval       time.Duration `yaml:"interval"`
		BatchSize      int           `yaml:"batch_size"`
		CycleBudget    time.Duration `yaml:"cycle_budget"`
		MaxRetries     int           `yaml:"max_retries"` // delivery attempts after the first
		BackoffBase    time.Duration `yaml:"backoff_base"`
		Workers        int           `yaml:"workers"`     // concurrent deliveries per signal
		FailClosed     bool          `yaml:"fail_closed"` // suppress on anti-spam state errors
		CycleRetryMax  int           `yaml:"cycle_retry_max"`
		CycleRetryWait time.Duration `yaml:"cycle_retry_wait"`
		Queue          struct {
			Enabled bool `yaml:"enabled"`
			Workers int  `yaml:"workers"`
		} `yaml:"queue"`
	} `yaml:"dispatch"`
	Cleanup struct {
		InactiveDays int `yaml:"inactive_days"`
	} `yaml:"cleanup"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CHANNEL_BASE_URL"); v != "" {
		c.Channel.BaseURL = v
	}
	if v := os.Getenv("CHANNEL_TOKEN"); v != "" {
		c.Channel.Token = v
	}
	if v := os.Getenv("DISPATCH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.Interval = time.Duration(n) * time.Second
		}
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Dispatch.Interval == 0 {
		c.Dispatch.Interval = 60 * time.Second
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.CycleBudget == 0 {
		c.Dispatch.CycleBudget = 45 * time.Second
	}
	if c.Dispatch.MaxRetries == 0 {
		c.Dispatch.MaxRetries = 3
	}
	if c.Dispatch.BackoffBase == 0 {
		c.Dispatch.BackoffBase = time.Second
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.CycleRetryMax == 0 {
		c.Dispatch.CycleRetryMax = 3
	}
	if c.Dispatch.CycleRetryWait == 0 {
		c.Dispatch.CycleRetryWait = 10 * time.Second
	}
	if c.Dispatch.Queue.Workers == 0 {
		c.Dispatch.Queue.Workers = 1
	}
	if c.Channel.Timeout == 0 {
		c.Channel.Timeout = 30 * time.Second
	}
	if c.Channel.RatePerSecond == 0 {
		c.Channel.RatePerSecond = 25
	}
	if c.Channel.Burst == 0 {
		c.Channel.Burst = 5
	}
	if c.Cleanup.InactiveDays == 0 {
		c.Cleanup.InactiveDays = 30
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if c.Channel.BaseURL == "" {
		return fmt.Errorf("channel.base_url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Dispatch.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("dispatch.queue requires redis")
	}
	return nil
}

// PostgresDSN builds the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.Database,
		c.Postgres.User, c.Postgres.Password, c.Postgres.SSLMode)
}
