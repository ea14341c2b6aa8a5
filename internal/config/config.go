// Package config loads process configuration via viper and builds the
// zap logger, in the same shape the teacher's internal/config package
// does: nested structs with mapstructure/yaml tags, an env-prefixed
// automatic-env binding, and tolerant file loading.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	HTTP         HTTPConfig         `mapstructure:"http" yaml:"http"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" yaml:"pipeline"`
	Secret       SecretConfig       `mapstructure:"secret" yaml:"secret"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Associations AssociationsConfig `mapstructure:"associations" yaml:"associations"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "production" or "development"
}

// HTTPConfig controls the shared HTTP core (C1).
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DefaultRatePerSec float64       `mapstructure:"default_rate_per_sec" yaml:"default_rate_per_sec"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	FailureThreshold  int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout      time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// PipelineConfig controls the orchestrator and executor (C6, C8).
type PipelineConfig struct {
	DataRoot           string        `mapstructure:"data_root" yaml:"data_root"`
	StateRoot          string        `mapstructure:"state_root" yaml:"state_root"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	MaxConcurrent      int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	AgentTimeout       time.Duration `mapstructure:"agent_timeout" yaml:"agent_timeout"`
	MaxDiscoveryPages  int           `mapstructure:"max_discovery_pages" yaml:"max_discovery_pages"`
	SchemaMode         string        `mapstructure:"schema_mode" yaml:"schema_mode"` // "soft" or "strict"
	SchemaRoot         string        `mapstructure:"schema_root" yaml:"schema_root"`
	MinFreeDiskBytes   int64         `mapstructure:"min_free_disk_bytes" yaml:"min_free_disk_bytes"`
}

// SecretConfig controls the Secret Provider (C4).
type SecretConfig struct {
	TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
	ExternalStoreURL string        `mapstructure:"external_store_url" yaml:"external_store_url,omitempty"`
}

// StoreConfig controls the optional persistence mirror (C13).
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// MetricsConfig controls the observability surface (C14).
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AssociationsConfig names the source groups the pipeline can be pointed at.
type AssociationsConfig struct {
	Directory map[string]AssociationEntry `mapstructure:"directory" yaml:"directory,omitempty"`
}

// AssociationEntry describes one association's crawl seed.
type AssociationEntry struct {
	Name     string   `mapstructure:"name" yaml:"name"`
	SeedURLs []string `mapstructure:"seed_urls" yaml:"seed_urls"`
}

// Load reads configuration from (in order of increasing precedence) a
// config file named "config.yaml" on the search path, then environment
// variables prefixed PIPELINE_ with dots replaced by underscores.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "production")

	v.SetDefault("http.user_agent", "assocpipeline/1.0")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.default_rate_per_sec", 5.0)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.failure_threshold", 5)
	v.SetDefault("http.reset_timeout", 60*time.Second)

	v.SetDefault("pipeline.data_root", "data")
	v.SetDefault("pipeline.state_root", "data/.state")
	v.SetDefault("pipeline.checkpoint_interval", 50)
	v.SetDefault("pipeline.max_concurrent", 5)
	v.SetDefault("pipeline.agent_timeout", 300*time.Second)
	v.SetDefault("pipeline.max_discovery_pages", 1000)
	v.SetDefault("pipeline.schema_mode", "soft")
	v.SetDefault("pipeline.schema_root", "schemas")
	v.SetDefault("pipeline.min_free_disk_bytes", int64(1<<30))

	v.SetDefault("secret.ttl", 300*time.Second)

	v.SetDefault("metrics.addr", "127.0.0.1:9090")
}

// defaultConfig returns the same values setDefaults seeds into viper,
// built directly for callers that want a populated Config without going
// through file/env resolution.
func defaultConfig() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "production"},
		HTTP: HTTPConfig{
			UserAgent:         "assocpipeline/1.0",
			Timeout:           30 * time.Second,
			DefaultRatePerSec: 5.0,
			MaxRetries:        3,
			FailureThreshold:  5,
			ResetTimeout:      60 * time.Second,
		},
		Pipeline: PipelineConfig{
			DataRoot:           "data",
			StateRoot:          "data/.state",
			CheckpointInterval: 50,
			MaxConcurrent:      5,
			AgentTimeout:       300 * time.Second,
			MaxDiscoveryPages:  1000,
			SchemaMode:         "soft",
			SchemaRoot:         "schemas",
			MinFreeDiskBytes:   1 << 30,
		},
		Secret:  SecretConfig{TTL: 300 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9090"},
	}
}

// WriteExample marshals a fully-populated default Config to path as YAML,
// the same starter-file shape Load reads back, for operators bootstrapping
// a new deployment without hand-writing every field.
func WriteExample(path string) error {
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// InitLogger builds a zap logger from cfg and installs it as the global
// logger, matching the teacher's Production/Development selection by
// format.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
