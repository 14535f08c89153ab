// Package config loads the indexer daemon configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LedgerConfig holds node endpoints and read behavior.
type LedgerConfig struct {
	RPCURL     string        `mapstructure:"rpc_url"`
	WSURL      string        `mapstructure:"ws_url"`
	Network    string        `mapstructure:"network"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// IngestionConfig holds pipeline behavior.
type IngestionConfig struct {
	Stream     string        `mapstructure:"stream"`
	EventTypes []string      `mapstructure:"event_types"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// ScannerConfig holds liquidation scan behavior.
type ScannerConfig struct {
	Market   string `mapstructure:"market"`
	FanOut   int    `mapstructure:"fan_out"`
	PageSize uint64 `mapstructure:"page_size"`
}

// StorageConfig holds database connections.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"` // empty disables the analytics sink
	UseMemory     bool   `mapstructure:"use_memory"`
}

// ServerConfig holds the HTTP listeners.
type ServerConfig struct {
	APIAddr     string `mapstructure:"api_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("LENDMIRROR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.rpc_url", "http://localhost:8545")
	v.SetDefault("ledger.ws_url", "ws://localhost:8546")
	v.SetDefault("ledger.network", "local")
	v.SetDefault("ledger.timeout", "30s")
	v.SetDefault("ledger.max_retries", 3)
	v.SetDefault("ledger.retry_delay", "500ms")

	v.SetDefault("ingestion.stream", "events")
	v.SetDefault("ingestion.debounce", "300ms")

	v.SetDefault("scanner.market", "default")
	v.SetDefault("scanner.fan_out", 8)
	v.SetDefault("scanner.page_size", 10000)

	v.SetDefault("storage.use_memory", false)

	v.SetDefault("server.api_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if c.Ledger.WSURL == "" {
		return fmt.Errorf("ledger.ws_url is required")
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must not be negative")
	}

	if c.Ingestion.Stream == "" {
		return fmt.Errorf("ingestion.stream is required")
	}
	if c.Ingestion.Debounce < 0 {
		return fmt.Errorf("ingestion.debounce must not be negative")
	}

	if c.Scanner.FanOut < 1 {
		return fmt.Errorf("scanner.fan_out must be at least 1")
	}
	if c.Scanner.PageSize < 1 {
		return fmt.Errorf("scanner.page_size must be at least 1")
	}

	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required unless storage.use_memory is set")
	}

	if c.Server.APIAddr == "" {
		return fmt.Errorf("server.api_addr is required")
	}
	return nil
}
