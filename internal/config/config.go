// Package config loads application configuration from an optional YAML file
// with AIRCAST_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aircast-th/aircast/internal/imputation"
)

// Config is the full application configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server   ServerConfig      `mapstructure:"server"`
	Upstream UpstreamConfig    `mapstructure:"upstream"`
	Storage  StorageConfig     `mapstructure:"storage"`
	Models   ModelsConfig      `mapstructure:"models"`
	Training imputation.Config `mapstructure:"training"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig configures the Air4Thai client.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig configures the SQLite cache.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ModelsConfig configures the artifact directory.
type ModelsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration, merging (in increasing precedence) built-in
// defaults, the YAML file at path (skipped when absent), and AIRCAST_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AIRCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("storage.sqlite_path", "aircast.db")
	v.SetDefault("models.dir", "models")

	def := imputation.DefaultConfig()
	v.SetDefault("training.sequence_length", def.SequenceLength)
	v.SetDefault("training.hidden_sizes", def.HiddenSizes)
	v.SetDefault("training.dropout", def.Dropout)
	v.SetDefault("training.learning_rate", def.LearningRate)
	v.SetDefault("training.batch_size", def.BatchSize)
	v.SetDefault("training.max_epochs", def.MaxEpochs)
	v.SetDefault("training.patience", def.Patience)
	v.SetDefault("training.validation_split", def.ValidationSplit)
	v.SetDefault("training.days_of_history", def.DaysOfHistory)
	v.SetDefault("training.allow_heuristic_fallback", def.AllowHeuristicFallback)
}

func validate(cfg *Config) error {
	t := cfg.Training
	if t.SequenceLength <= 0 {
		return fmt.Errorf("training.sequence_length must be positive")
	}
	if len(t.HiddenSizes) < 2 {
		return fmt.Errorf("training.hidden_sizes needs at least two layers")
	}
	if t.ValidationSplit <= 0 || t.ValidationSplit >= 1 {
		return fmt.Errorf("training.validation_split must be in (0,1)")
	}
	if t.Dropout < 0 || t.Dropout >= 1 {
		return fmt.Errorf("training.dropout must be in [0,1)")
	}
	if t.MaxEpochs <= 0 || t.BatchSize <= 0 {
		return fmt.Errorf("training.max_epochs and training.batch_size must be positive")
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
