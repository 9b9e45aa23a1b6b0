// Package config loads and validates the application configuration from
// config.yaml, environment variables prefixed with CHATSCRIBE_, and built-in
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Vision    VisionConfig    `mapstructure:"vision"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TelegramConfig holds the transport credentials. An empty token runs the
// process without a live source: hooks and transport-bound jobs stay off,
// the enrichment sweep keeps working.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// AIConfig configures the OpenAI-compatible model endpoint used for
// enrichment.
type AIConfig struct {
	Token               string        `mapstructure:"token" validate:"required"`
	BaseURL             string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model               string        `mapstructure:"model" validate:"required"`
	EmbeddingModel      string        `mapstructure:"embedding_model" validate:"required"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions" validate:"required,gt=0"`
	Temperature         float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
	Instruction         string        `mapstructure:"instruction" validate:"required"`
}

// VisionConfig configures photo recognition. An empty API key disables it.
type VisionConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PipelineConfig tunes ingestion and enrichment behavior.
type PipelineConfig struct {
	ContextWindow     int           `mapstructure:"context_window" validate:"min=1"`
	BackfillBatchSize int           `mapstructure:"backfill_batch_size" validate:"min=1"`
	BackfillPause     time.Duration `mapstructure:"backfill_pause"`
	EnrichLimit       int           `mapstructure:"enrich_limit" validate:"min=1"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables one scheduled task and sets its cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads config.yaml (optional), applies CHATSCRIBE_* environment
// variables, fills defaults, and validates the result.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CHATSCRIBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)

	viper.SetDefault("ai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("ai.model", "gpt-4o")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-large")
	viper.SetDefault("ai.embedding_dimensions", 4096)
	viper.SetDefault("ai.temperature", 0.2)
	viper.SetDefault("ai.timeout", 2*time.Minute)
	viper.SetDefault("ai.instruction",
		"You analyze one chat message in its conversation. Report the surrounding context and the message's meaning, factually and concisely.")

	viper.SetDefault("vision.model", "gemini-2.0-flash")

	viper.SetDefault("pipeline.context_window", 50)
	viper.SetDefault("pipeline.backfill_batch_size", 100)
	viper.SetDefault("pipeline.backfill_pause", 2*time.Second)
	viper.SetDefault("pipeline.enrich_limit", 25)

	viper.SetDefault("scheduler.tasks.sync_dialogs.enabled", true)
	viper.SetDefault("scheduler.tasks.sync_dialogs.schedule", "0 */6 * * *")
	viper.SetDefault("scheduler.tasks.backfill.enabled", true)
	viper.SetDefault("scheduler.tasks.backfill.schedule", "30 * * * *")
	viper.SetDefault("scheduler.tasks.enrich_sweep.enabled", true)
	viper.SetDefault("scheduler.tasks.enrich_sweep.schedule", "*/15 * * * *")
}
