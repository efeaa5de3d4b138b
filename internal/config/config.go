// Package config loads linkarchive settings from defaults, an optional YAML
// file and LINKARCHIVE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Workers    WorkersConfig    `mapstructure:"workers" validate:"required"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Redis      RedisConfig      `mapstructure:"redis" validate:"required"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings" validate:"required"`
	Vector     VectorConfig     `mapstructure:"vector" validate:"required"`
	Download   DownloadConfig   `mapstructure:"download"`
	FailureLog FailureLogConfig `mapstructure:"failure_log" validate:"required"`
	Log        LogConfig        `mapstructure:"log" validate:"required"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
}

type WorkersConfig struct {
	Count int `mapstructure:"count" validate:"required,gt=0"`
}

type TasksConfig struct {
	// Retention of zero keeps finished tasks for the life of the process.
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type EmbeddingsConfig struct {
	APIKey     string `mapstructure:"api_key" validate:"required"`
	Model      string `mapstructure:"model" validate:"required"`
	Dimensions int    `mapstructure:"dimensions" validate:"required,gt=0"`
}

type VectorConfig struct {
	Collection string `mapstructure:"collection" validate:"required"`
	Limit      int    `mapstructure:"limit" validate:"required,gt=0"`
}

type DownloadConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	TempDir string   `mapstructure:"temp_dir"`
}

type FailureLogConfig struct {
	Path       string `mapstructure:"path" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format      string   `mapstructure:"format" validate:"oneof=console json"`
	Outputs     []string `mapstructure:"outputs"`
	Development bool     `mapstructure:"development"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("server.port", 5003)
	v.SetDefault("server.poll_interval", time.Second)
	v.SetDefault("workers.count", 4)
	v.SetDefault("tasks.retention", time.Duration(0))
	v.SetDefault("tasks.sweep_interval", time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.model", "text-embedding-004")
	v.SetDefault("embeddings.dimensions", 768)
	v.SetDefault("vector.collection", "links")
	v.SetDefault("vector.limit", 100)
	v.SetDefault("download.command", "yt-dlp")
	v.SetDefault("download.args", []string{"--add-header", "accept:*/*", "--no-playlist"})
	v.SetDefault("download.temp_dir", "")
	v.SetDefault("failure_log.path", "failures.jsonl")
	v.SetDefault("failure_log.max_size_mb", 100)
	v.SetDefault("failure_log.max_backups", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.outputs", []string{"stdout"})
	v.SetDefault("log.development", false)
	v.SetDefault("log.rotation.enable", false)
	v.SetDefault("log.rotation.filename", "logs/linkarchive.log")
	v.SetDefault("log.rotation.max_size_mb", 50)
	v.SetDefault("log.rotation.max_backups", 3)
	v.SetDefault("log.rotation.max_age_days", 28)
	v.SetDefault("log.rotation.compress", true)
}

// Load reads configuration from path if given, otherwise from
// LINKARCHIVE_CONFIG or linkarchive.yaml in the usual places. Environment
// variables win over the file, e.g. LINKARCHIVE_EMBEDDINGS_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINKARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	defaults(v)

	if path == "" {
		path = os.Getenv("LINKARCHIVE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("linkarchive")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []string{"stdout"}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
