// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Strategy names accepted by pipeline.strategy.
const (
	StrategyBaseline = "baseline"
	StrategyAdvanced = "advanced"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Store    StoreConfig    `mapstructure:"store"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs the download/validation pipeline.
type PipelineConfig struct {
	Strategy             string  `mapstructure:"strategy"`
	MaxRetries           int     `mapstructure:"max_retries"`
	BaseTimeoutSeconds   int     `mapstructure:"base_timeout_seconds"`
	WorkerCount          int     `mapstructure:"worker_count"`
	MaxTotalConnections  int     `mapstructure:"max_total_connections"`
	MaxConcurrentPerHost int     `mapstructure:"max_concurrent_per_host"`
	PerHostRPS           float64 `mapstructure:"per_host_rps"`
	ClaimBackoffSeconds  int     `mapstructure:"claim_backoff_seconds"`
	ProgressBatch        int     `mapstructure:"progress_batch"`
	InputFile            string  `mapstructure:"input_file"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
}

// StoreConfig selects the result store and image index backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects blob persistence for image assets.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion event publishing. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BaseTimeout returns the per-attempt base timeout as a duration.
func (p PipelineConfig) BaseTimeout() time.Duration {
	return time.Duration(p.BaseTimeoutSeconds) * time.Second
}

// ClaimBackoff returns the empty-queue backoff as a duration.
func (p PipelineConfig) ClaimBackoff() time.Duration {
	return time.Duration(p.ClaimBackoffSeconds) * time.Second
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.strategy", StrategyAdvanced)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.base_timeout_seconds", 10)
	v.SetDefault("pipeline.worker_count", 10)
	v.SetDefault("pipeline.max_total_connections", 1000)
	v.SetDefault("pipeline.max_concurrent_per_host", 2)
	v.SetDefault("pipeline.per_host_rps", 0)
	v.SetDefault("pipeline.claim_backoff_seconds", 5)
	v.SetDefault("pipeline.progress_batch", 100)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("store.provider", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "images")
	v.SetDefault("logging.development", true)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.Pipeline.Strategy {
	case StrategyBaseline, StrategyAdvanced:
	default:
		return fmt.Errorf("pipeline.strategy must be %q or %q, got %q",
			StrategyBaseline, StrategyAdvanced, c.Pipeline.Strategy)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.BaseTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.base_timeout_seconds must be > 0")
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline.worker_count must be > 0")
	}
	if c.Pipeline.MaxTotalConnections <= 0 {
		return fmt.Errorf("pipeline.max_total_connections must be > 0")
	}
	if c.Pipeline.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_per_host must be > 0")
	}
	if c.Pipeline.PerHostRPS < 0 {
		return fmt.Errorf("pipeline.per_host_rps must be >= 0")
	}
	if c.Pipeline.ClaimBackoffSeconds <= 0 {
		return fmt.Errorf("pipeline.claim_backoff_seconds must be > 0")
	}
	switch c.Queue.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("queue.provider is postgres but db.dsn is not set")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("store.provider is postgres but db.dsn is not set")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.provider is local but storage.local_dir is not set")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.provider is gcs but storage.gcs_bucket is not set")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}
